package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kambafy/internal/model"
)

func TestMemoryActiveRegistrationsScope(t *testing.T) {
	m := NewMemory()
	m.PutRegistration(model.Registration{ID: "A", OwnerID: "seller1", Events: []string{"order.paid"}, Active: true})
	m.PutRegistration(model.Registration{ID: "B", OwnerID: "seller1", ResourceID: "prod1", Events: []string{"order.paid"}, Active: true})
	m.PutRegistration(model.Registration{ID: "C", OwnerID: "seller1", ResourceID: "prod2", Events: []string{"order.paid"}, Active: true})
	m.PutRegistration(model.Registration{ID: "D", OwnerID: "seller1", Events: []string{"order.paid"}, Active: false})
	m.PutRegistration(model.Registration{ID: "E", OwnerID: "seller2", Events: []string{"order.paid"}, Active: true})

	ctx := context.Background()
	got, err := m.ActiveRegistrations(ctx, "seller1", "prod1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, ids(got))

	got, err = m.ActiveRegistrations(ctx, "seller1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(got))
}

func TestMemoryRegistrationCRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.CreateRegistration(ctx, model.RegistrationInput{URL: "https://x"})
	assert.Error(t, err, "owner is mandatory")

	r, err := m.CreateRegistration(ctx, model.RegistrationInput{OwnerID: "s1", URL: "https://hooks.example.com", Events: []string{"order.paid"}})
	require.NoError(t, err)
	assert.True(t, r.Active, "active by default")
	assert.NotEmpty(t, r.ID)

	_, err = m.GetRegistration(ctx, "other", r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	off := false
	url := "https://new.example.com"
	upd, err := m.UpdateRegistration(ctx, "s1", r.ID, model.RegistrationPatch{Active: &off, URL: &url})
	require.NoError(t, err)
	assert.False(t, upd.Active)
	assert.Equal(t, url, upd.URL)
	assert.Equal(t, []string{"order.paid"}, upd.Events)

	active, err := m.ActiveRegistrations(ctx, "s1", "")
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, m.DeleteRegistration(ctx, "s1", r.ID))
	assert.ErrorIs(t, m.DeleteRegistration(ctx, "s1", r.ID), ErrNotFound)
}

func TestMemoryListRegistrationsPaging(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := m.CreateRegistration(ctx, model.RegistrationInput{OwnerID: "s1", URL: "https://x", Events: []string{"e"}})
		require.NoError(t, err)
	}
	page1, next, err := m.ListRegistrations(ctx, "s1", "", 3)
	require.NoError(t, err)
	assert.Len(t, page1, 3)
	require.NotEmpty(t, next)
	page2, next, err := m.ListRegistrations(ctx, "s1", next, 3)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Empty(t, next)
}

func TestMemoryDeliveryLogListAndStats(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	rows := []model.DeliveryAttempt{
		{ID: "1", RegistrationID: "A", OwnerID: "s1", EventName: "order.paid", ResponseStatus: 200, Success: true, DurationMs: 10, OccurredAt: now},
		{ID: "2", RegistrationID: "B", OwnerID: "s1", EventName: "order.paid", ResponseStatus: 500, DurationMs: 30, OccurredAt: now},
		{ID: "3", RegistrationID: "B", OwnerID: "s1", EventName: "order.paid", ResponseStatus: 0, Error: "timeout after 30s", DurationMs: 50, OccurredAt: now},
		{ID: "4", RegistrationID: "Z", OwnerID: "s2", EventName: "order.paid", ResponseStatus: 200, Success: true, OccurredAt: now},
	}
	for _, r := range rows {
		require.NoError(t, m.AppendDeliveryAttempt(ctx, r))
	}

	all, next, err := m.ListDeliveryAttempts(ctx, "s1", model.DeliveryFilter{}, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2"}, attemptIDs(all), "newest first")
	assert.Equal(t, "2", next)
	rest, next, err := m.ListDeliveryAttempts(ctx, "s1", model.DeliveryFilter{}, next, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, attemptIDs(rest))
	assert.Empty(t, next)

	failed, _, err := m.ListDeliveryAttempts(ctx, "s1", model.DeliveryFilter{Status: "failed", RegistrationID: "B"}, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2"}, attemptIDs(failed))

	stats, err := m.DeliveryStats(ctx, "s1", now.Add(-time.Hour), "")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.True(t, stats[0].Success)
	assert.Equal(t, int64(1), stats[0].Count)
	assert.Equal(t, int64(2), stats[1].Count)
	assert.Equal(t, int64(40), stats[1].AvgLatencyMs)
	assert.Equal(t, map[string]int64{"c5xx": 1, "none": 1}, stats[1].CodeClasses)
}

func TestMemoryOrderResourceAndPayments(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.PutProduct("prod1", "seller1")
	m.PutOrder("ord1", "prod1")

	pid, owner, err := m.OrderResource(ctx, "ord1")
	require.NoError(t, err)
	assert.Equal(t, "prod1", pid)
	assert.Equal(t, "seller1", owner)
	_, _, err = m.OrderResource(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	m.PutPartnerPayment(model.PartnerPayment{ID: "pay1", PartnerID: "p1"})
	at := time.Now().UTC()
	require.NoError(t, m.RecordPartnerNotification(ctx, model.PartnerNotification{PaymentID: "pay1", Delivered: false, Attempts: 3, LastError: "HTTP 503", LastStatus: 503, NotifiedAt: at}))
	p, err := m.GetPartnerPayment(ctx, "pay1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.WebhookAttempts)
	assert.Equal(t, "HTTP 503", p.WebhookLastError)
	require.NotNil(t, p.WebhookNotifiedAt)
	assert.ErrorIs(t, m.RecordPartnerNotification(ctx, model.PartnerNotification{PaymentID: "nope"}), ErrNotFound)
}

func ids(rs []model.Registration) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func attemptIDs(as []model.DeliveryAttempt) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.ID)
	}
	return out
}
