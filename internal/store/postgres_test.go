package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kambafy/internal/model"
)

var registrationCols = []string{"id", "owner_id", "resource_id", "url", "events", "secret", "headers", "timeout_seconds", "active", "created_at", "updated_at"}

func TestPostgresActiveRegistrationsWithResource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &Postgres{db: db}

	now := time.Now()
	rows := sqlmock.NewRows(registrationCols).
		AddRow("A", "seller1", "", "https://a.example", []byte(`["order.paid"]`), "", []byte(`{}`), 30, true, now, now).
		AddRow("B", "seller1", "prod1", "https://b.example", []byte(`["order.paid","order.refunded"]`), "s3cr3t", []byte(`{"X-Shop":"1"}`), 5, true, now, now)
	mock.ExpectQuery(`(?s)FROM webhook_registrations\s+WHERE owner_id=\$1 AND active AND \(resource_id IS NULL OR resource_id=\$2\)`).
		WithArgs("seller1", "prod1").
		WillReturnRows(rows)

	got, err := repo.ActiveRegistrations(context.Background(), "seller1", "prod1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ID)
	assert.Empty(t, got[0].ResourceID)
	assert.Equal(t, []string{"order.paid", "order.refunded"}, got[1].Events)
	assert.Equal(t, map[string]string{"X-Shop": "1"}, got[1].Headers)
	assert.Equal(t, 5, got[1].TimeoutSeconds)
	assert.Equal(t, "s3cr3t", got[1].Secret)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresActiveRegistrationsGlobalOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &Postgres{db: db}

	mock.ExpectQuery(`(?s)WHERE owner_id=\$1 AND active AND resource_id IS NULL`).
		WithArgs("seller1").
		WillReturnRows(sqlmock.NewRows(registrationCols))

	got, err := repo.ActiveRegistrations(context.Background(), "seller1", "")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendDeliveryAttempt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &Postgres{db: db}

	at := time.Now().UTC()
	a := model.DeliveryAttempt{
		ID: "0b7c2a53-6c1c-4a3f-8b0e-1d3f3b5c9a11", RegistrationID: "5d0c8b0e-8e0e-4b8e-9c43-3f1f5a0d2e77",
		OwnerID: "seller1", EventName: "order.paid", URL: "https://a.example",
		Payload: []byte(`{"event":"order.paid"}`), ResponseStatus: 0, Error: "timeout after 30s", DurationMs: 30000, OccurredAt: at,
	}
	mock.ExpectExec(`INSERT INTO webhook_delivery_attempts`).
		WithArgs(a.ID, a.RegistrationID, "seller1", "order.paid", "https://a.example", []byte(`{"event":"order.paid"}`), 0, nil, false, "timeout after 30s", 30000, at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.AppendDeliveryAttempt(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordPartnerNotificationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &Postgres{db: db}

	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE partner_payments SET webhook_delivered=\$2`).
		WithArgs("pay1", true, 1, nil, 200, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.RecordPartnerNotification(context.Background(), model.PartnerNotification{PaymentID: "pay1", Delivered: true, Attempts: 1, LastStatus: 200, NotifiedAt: at})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResourceOwnerNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &Postgres{db: db}

	mock.ExpectQuery(`SELECT owner_id FROM products WHERE id=\$1`).
		WithArgs("prod9").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))

	_, err = repo.ResourceOwner(context.Background(), "prod9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRejectsNonUUIDIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &Postgres{db: db}

	ctx := context.Background()
	_, err = repo.GetRegistration(ctx, "s1", "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteRegistration(ctx, "s1", "not-a-uuid"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))
	assert.Nil(t, nullIfZero(0))
	assert.Equal(t, 503, nullIfZero(503))
}

func TestCodeClass(t *testing.T) {
	assert.Equal(t, "c2xx", codeClass(204))
	assert.Equal(t, "c4xx", codeClass(404))
	assert.Equal(t, "c5xx", codeClass(503))
	assert.Equal(t, "none", codeClass(0))
}
