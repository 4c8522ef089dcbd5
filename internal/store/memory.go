package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"kambafy/internal/model"
)

// Memory is a simple in-memory store used when no database URL is configured.
type Memory struct {
	mu       sync.Mutex
	regs     map[string]model.Registration   // id -> registration
	regOrder map[string][]string             // owner -> registration ids, insertion order
	products map[string]string               // productId -> ownerId
	orders   map[string]string               // orderId -> productId
	attempts []model.DeliveryAttempt         // append-only log
	payments map[string]model.PartnerPayment // id -> payment
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		regs:     map[string]model.Registration{},
		regOrder: map[string][]string{},
		products: map[string]string{},
		orders:   map[string]string{},
		payments: map[string]model.PartnerPayment{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func cloneRegistration(r model.Registration) model.Registration {
	r.Events = append([]string(nil), r.Events...)
	if r.Headers != nil {
		h := make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			h[k] = v
		}
		r.Headers = h
	}
	return r
}

// PutRegistration stores r as-is (used to seed fixtures with known ids).
func (m *Memory) PutRegistration(r model.Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if _, ok := m.regs[r.ID]; !ok {
		m.regOrder[r.OwnerID] = append(m.regOrder[r.OwnerID], r.ID)
	}
	m.regs[r.ID] = cloneRegistration(r)
}

// PutProduct records the owning seller of a product.
func (m *Memory) PutProduct(productID, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[productID] = ownerID
}

// PutOrder records which product an order was placed for.
func (m *Memory) PutOrder(orderID, productID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[orderID] = productID
}

// PutPartnerPayment seeds a partner payment record.
func (m *Memory) PutPartnerPayment(p model.PartnerPayment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
}

func (m *Memory) CreateRegistration(ctx context.Context, in model.RegistrationInput) (model.Registration, error) {
	if in.OwnerID == "" {
		return model.Registration{}, errors.New("ownerId required")
	}
	now := m.now()
	r := model.Registration{
		ID:             uuid.New().String(),
		OwnerID:        in.OwnerID,
		ResourceID:     in.ResourceID,
		URL:            in.URL,
		Events:         in.Events,
		Secret:         in.Secret,
		Headers:        in.Headers,
		TimeoutSeconds: in.TimeoutSeconds,
		Active:         in.Active == nil || *in.Active,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.PutRegistration(r)
	return cloneRegistration(r), nil
}

func (m *Memory) GetRegistration(ctx context.Context, ownerID, id string) (model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok || r.OwnerID != ownerID {
		return model.Registration{}, ErrNotFound
	}
	return cloneRegistration(r), nil
}

func (m *Memory) ListRegistrations(ctx context.Context, ownerID, cursor string, limit int) ([]model.Registration, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.regOrder[ownerID]
	start := 0
	if cursor != "" {
		for i := range ids {
			if ids[i] == cursor {
				start = i + 1
				break
			}
		}
	}
	limit = clampLimit(limit)
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	items := make([]model.Registration, 0, end-start)
	for _, id := range ids[start:end] {
		items = append(items, cloneRegistration(m.regs[id]))
	}
	next := ""
	if end < len(ids) {
		next = ids[end-1]
	}
	return items, next, nil
}

func (m *Memory) UpdateRegistration(ctx context.Context, ownerID, id string, patch model.RegistrationPatch) (model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok || r.OwnerID != ownerID {
		return model.Registration{}, ErrNotFound
	}
	r = cloneRegistration(r)
	patch.Apply(&r)
	r.UpdatedAt = m.now()
	m.regs[id] = r
	return cloneRegistration(r), nil
}

func (m *Memory) DeleteRegistration(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok || r.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.regs, id)
	ids := m.regOrder[ownerID]
	out := make([]string, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	m.regOrder[ownerID] = out
	return nil
}

func (m *Memory) ActiveRegistrations(ctx context.Context, ownerID, resourceID string) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Registration
	for _, id := range m.regOrder[ownerID] {
		r := m.regs[id]
		if !r.Active {
			continue
		}
		if r.ResourceID != "" && r.ResourceID != resourceID {
			continue
		}
		out = append(out, cloneRegistration(r))
	}
	return out, nil
}

func (m *Memory) ResourceOwner(ctx context.Context, productID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.products[productID]
	if !ok {
		return "", ErrNotFound
	}
	return owner, nil
}

func (m *Memory) OrderResource(ctx context.Context, orderID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, ok := m.orders[orderID]
	if !ok {
		return "", "", ErrNotFound
	}
	return pid, m.products[pid], nil
}

func (m *Memory) AppendDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Payload = append([]byte(nil), a.Payload...)
	m.mu.Lock()
	m.attempts = append(m.attempts, a)
	m.mu.Unlock()
	return nil
}

// ListDeliveryAttempts returns newest first; the cursor is the id of the last row seen.
func (m *Memory) ListDeliveryAttempts(ctx context.Context, ownerID string, f model.DeliveryFilter, cursor string, limit int) ([]model.DeliveryAttempt, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	started := cursor == ""
	out := []model.DeliveryAttempt{}
	for i := len(m.attempts) - 1; i >= 0; i-- {
		a := m.attempts[i]
		if !started {
			if a.ID == cursor {
				started = true
			}
			continue
		}
		if a.OwnerID != ownerID || !matchesFilter(a, f) {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) DeliveryStats(ctx context.Context, ownerID string, since time.Time, eventName string) ([]model.DeliveryStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type key struct {
		event   string
		success bool
	}
	type agg struct {
		stat model.DeliveryStat
		sum  int64
	}
	by := map[key]*agg{}
	for _, a := range m.attempts {
		if a.OwnerID != ownerID || a.OccurredAt.Before(since) {
			continue
		}
		if eventName != "" && a.EventName != eventName {
			continue
		}
		k := key{a.EventName, a.Success}
		g := by[k]
		if g == nil {
			g = &agg{stat: model.DeliveryStat{EventName: a.EventName, Success: a.Success, CodeClasses: map[string]int64{}}}
			by[k] = g
		}
		g.stat.Count++
		g.sum += int64(a.DurationMs)
		g.stat.CodeClasses[codeClass(a.ResponseStatus)]++
	}
	out := make([]model.DeliveryStat, 0, len(by))
	for _, g := range by {
		g.stat.AvgLatencyMs = g.sum / g.stat.Count
		out = append(out, g.stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventName != out[j].EventName {
			return out[i].EventName < out[j].EventName
		}
		return out[i].Success && !out[j].Success
	})
	return out, nil
}

func (m *Memory) GetPartnerPayment(ctx context.Context, id string) (model.PartnerPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return model.PartnerPayment{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) RecordPartnerNotification(ctx context.Context, n model.PartnerNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[n.PaymentID]
	if !ok {
		return ErrNotFound
	}
	at := n.NotifiedAt
	p.WebhookDelivered = n.Delivered
	p.WebhookAttempts = n.Attempts
	p.WebhookLastError = n.LastError
	p.WebhookLastStatus = n.LastStatus
	p.WebhookNotifiedAt = &at
	m.payments[n.PaymentID] = p
	return nil
}
