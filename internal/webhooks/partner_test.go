package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kambafy/internal/model"
	"kambafy/internal/store"
)

type partnerHit struct {
	header http.Header
	body   []byte
}

func newPartnerServer(t *testing.T, statuses ...int) (*httptest.Server, func() []partnerHit) {
	t.Helper()
	var mu sync.Mutex
	var hits []partnerHit
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		i := len(hits)
		hits = append(hits, partnerHit{header: r.Header.Clone(), body: b})
		mu.Unlock()
		status := statuses[len(statuses)-1]
		if i < len(statuses) {
			status = statuses[i]
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []partnerHit {
		mu.Lock()
		defer mu.Unlock()
		return append([]partnerHit(nil), hits...)
	}
}

func newTestNotifier(m *store.Memory, client HTTPDoer) (*PartnerNotifier, *[]time.Duration) {
	var slept []time.Duration
	n := NewPartnerNotifier(m, client)
	n.Logger = quietLogger()
	p := NewRetryWithBackoff(3, 2*time.Second)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	n.Policy = p
	return n, &slept
}

func seedPayment(m *store.Memory, url string) {
	m.PutPartnerPayment(model.PartnerPayment{
		ID: "pay_1", PartnerID: "partner_1", OrderID: "ord_1", Amount: 15000, Currency: "AOA", Status: "completed",
		CustomerEmail: "buyer@example.com", PartnerWebhookURL: url, PartnerWebhookSecret: "whsec_123",
	})
}

func TestNotifyPaymentRetriesThenSucceeds(t *testing.T) {
	srv, hits := newPartnerServer(t, 500, 502, 200)
	m := store.NewMemory()
	seedPayment(m, srv.URL)
	n, slept := newTestNotifier(m, srv.Client())

	note, err := n.NotifyPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.True(t, note.Delivered)
	assert.Equal(t, 3, note.Attempts)
	assert.Equal(t, 200, note.LastStatus)
	assert.Empty(t, note.LastError)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)

	got := hits()
	require.Len(t, got, 3)
	for i, h := range got {
		assert.Equal(t, "application/json", h.header.Get("Content-Type"))
		assert.Equal(t, PartnerEvent, h.header.Get(PartnerEventHeader))
		assert.Equal(t, []string{"1", "2", "3"}[i], h.header.Get(PartnerAttemptHeader))
		assert.True(t, VerifyHMAC("whsec_123", h.body, h.header.Get(PartnerSignatureHeader)))
		assert.Equal(t, got[0].body, h.body, "same body on every attempt")
	}
	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[0].body, &payload))
	assert.Equal(t, "payment.completed", payload["event"])
	assert.Equal(t, "pay_1", payload["payment_id"])
	assert.Equal(t, float64(15000), payload["amount"])

	p, err := m.GetPartnerPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.True(t, p.WebhookDelivered)
	assert.Equal(t, 3, p.WebhookAttempts)
	require.NotNil(t, p.WebhookNotifiedAt)
}

func TestNotifyPaymentGivesUpAfterMaxAttempts(t *testing.T) {
	srv, hits := newPartnerServer(t, 503)
	m := store.NewMemory()
	seedPayment(m, srv.URL)
	n, _ := newTestNotifier(m, srv.Client())

	note, err := n.NotifyPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.False(t, note.Delivered)
	assert.Equal(t, 3, note.Attempts)
	assert.Len(t, hits(), 3)

	p, _ := m.GetPartnerPayment(context.Background(), "pay_1")
	assert.False(t, p.WebhookDelivered)
	assert.Equal(t, "HTTP 503", p.WebhookLastError)
	assert.Equal(t, 503, p.WebhookLastStatus)
}

func TestNotifyPaymentWithoutSecretIsUnsigned(t *testing.T) {
	srv, hits := newPartnerServer(t, 200)
	m := store.NewMemory()
	m.PutPartnerPayment(model.PartnerPayment{ID: "pay_2", PartnerID: "partner_2", PartnerWebhookURL: srv.URL})
	n, _ := newTestNotifier(m, srv.Client())

	note, err := n.NotifyPayment(context.Background(), "pay_2")
	require.NoError(t, err)
	assert.Equal(t, 1, note.Attempts)
	require.Len(t, hits(), 1)
	assert.Empty(t, hits()[0].header.Get(PartnerSignatureHeader))
}

func TestNotifyPaymentErrors(t *testing.T) {
	m := store.NewMemory()
	m.PutPartnerPayment(model.PartnerPayment{ID: "pay_3", PartnerID: "partner_3"})
	n, _ := newTestNotifier(m, nil)

	_, err := n.NotifyPayment(context.Background(), "pay_3")
	assert.ErrorIs(t, err, ErrNoPartnerWebhook)

	_, err = n.NotifyPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
