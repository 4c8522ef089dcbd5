package store

import (
	"context"
	"errors"
	"time"

	"kambafy/internal/model"
)

// Store is the persistence boundary for registrations, the delivery log and
// partner payments. Memory and Postgres implement it.
type Store interface {
	// Registrations
	CreateRegistration(ctx context.Context, in model.RegistrationInput) (model.Registration, error)
	GetRegistration(ctx context.Context, ownerID, id string) (model.Registration, error)
	ListRegistrations(ctx context.Context, ownerID, cursor string, limit int) ([]model.Registration, string, error)
	UpdateRegistration(ctx context.Context, ownerID, id string, patch model.RegistrationPatch) (model.Registration, error)
	DeleteRegistration(ctx context.Context, ownerID, id string) error
	// ActiveRegistrations returns active registrations of ownerID that are global
	// or, when resourceID is set, scoped to that resource.
	ActiveRegistrations(ctx context.Context, ownerID, resourceID string) ([]model.Registration, error)

	// Resources
	ResourceOwner(ctx context.Context, productID string) (string, error)
	OrderResource(ctx context.Context, orderID string) (productID, ownerID string, err error)

	// Delivery log
	AppendDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) error
	ListDeliveryAttempts(ctx context.Context, ownerID string, f model.DeliveryFilter, cursor string, limit int) ([]model.DeliveryAttempt, string, error)
	DeliveryStats(ctx context.Context, ownerID string, since time.Time, eventName string) ([]model.DeliveryStat, error)

	// Partner payments
	GetPartnerPayment(ctx context.Context, id string) (model.PartnerPayment, error)
	RecordPartnerNotification(ctx context.Context, n model.PartnerNotification) error
}

var ErrNotFound = errors.New("not found")
