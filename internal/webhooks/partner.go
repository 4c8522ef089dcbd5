package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"kambafy/internal/metrics"
	"kambafy/internal/model"
)

const (
	PartnerEvent           = "payment.completed"
	PartnerSignatureHeader = "X-Kambafy-Signature"
	PartnerEventHeader     = "X-Kambafy-Event"
	PartnerAttemptHeader   = "X-Kambafy-Attempt"
)

var ErrNoPartnerWebhook = errors.New("partner has no webhook url")

// PaymentStore reads payments and persists their notification outcome.
type PaymentStore interface {
	GetPartnerPayment(ctx context.Context, id string) (model.PartnerPayment, error)
	RecordPartnerNotification(ctx context.Context, n model.PartnerNotification) error
}

// PartnerNotifier tells the integration partner behind a payment that it
// completed. Unlike Dispatcher it retries with backoff and signs the body.
type PartnerNotifier struct {
	Payments       PaymentStore
	HTTP           HTTPDoer
	Policy         DeliveryPolicy
	AttemptTimeout time.Duration
	UserAgent      string
	Logger         *slog.Logger
	Now            func() time.Time
}

func NewPartnerNotifier(payments PaymentStore, client HTTPDoer) *PartnerNotifier {
	if client == nil {
		client = &http.Client{}
	}
	return &PartnerNotifier{
		Payments:       payments,
		HTTP:           client,
		Policy:         NewRetryWithBackoff(3, 2*time.Second),
		AttemptTimeout: 10 * time.Second,
		UserAgent:      DefaultUserAgent,
		Logger:         slog.Default(),
		Now:            time.Now,
	}
}

type partnerPayload struct {
	Event         string         `json:"event"`
	PaymentID     string         `json:"payment_id"`
	OrderID       string         `json:"order_id"`
	PartnerID     string         `json:"partner_id"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Status        string         `json:"status"`
	CustomerEmail string         `json:"customer_email,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     string         `json:"timestamp"`
}

// NotifyPayment delivers the payment.completed notification for paymentID and
// records the final outcome on the payment. A delivery that never succeeds is
// not an error; the returned notification says so.
func (n *PartnerNotifier) NotifyPayment(ctx context.Context, paymentID string) (model.PartnerNotification, error) {
	ctx, span := otel.Tracer("kambafy/webhooks").Start(ctx, "webhooks.NotifyPartner")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	p, err := n.Payments.GetPartnerPayment(ctx, paymentID)
	if err != nil {
		return model.PartnerNotification{}, fmt.Errorf("load payment %s: %w", paymentID, err)
	}
	if p.PartnerWebhookURL == "" {
		return model.PartnerNotification{}, ErrNoPartnerWebhook
	}

	body, err := json.Marshal(partnerPayload{
		Event:         PartnerEvent,
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		PartnerID:     p.PartnerID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        p.Status,
		CustomerEmail: p.CustomerEmail,
		Metadata:      p.Metadata,
		Timestamp:     n.now().UTC().Format(timestampLayout),
	})
	if err != nil {
		return model.PartnerNotification{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("User-Agent", n.UserAgent)
	header.Set(PartnerEventHeader, PartnerEvent)
	if p.PartnerWebhookSecret != "" {
		header.Set(PartnerSignatureHeader, SignatureScheme+SignHMAC(p.PartnerWebhookSecret, body))
	}

	timeout := n.AttemptTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := n.logger().With("payment", p.ID, "partner", p.PartnerID)
	out, attempts := n.policy().Execute(ctx, func(ctx context.Context, attempt int) Outcome {
		h := header.Clone()
		h.Set(PartnerAttemptHeader, strconv.Itoa(attempt))
		o := post(ctx, n.HTTP, p.PartnerWebhookURL, body, h, timeout)
		if o.Success() {
			log.Info("partner webhook delivered", "attempt", attempt, "status", o.Status)
		} else {
			log.Warn("partner webhook attempt failed", "attempt", attempt, "status", o.Status, "error", o.Err)
		}
		return o
	})

	note := model.PartnerNotification{
		PaymentID:  p.ID,
		Delivered:  out.Success(),
		Attempts:   attempts,
		LastStatus: out.Status,
		LastError:  out.Err,
		NotifiedAt: n.now().UTC(),
	}
	metrics.PartnerNotifications.WithLabelValues(out.Label()).Inc()
	metrics.PartnerAttempts.Observe(float64(attempts))
	span.SetAttributes(attribute.Int("webhook.attempts", attempts), attribute.Bool("webhook.delivered", note.Delivered))
	if !note.Delivered {
		span.SetStatus(codes.Error, out.Err)
	}
	if err := n.Payments.RecordPartnerNotification(context.WithoutCancel(ctx), note); err != nil {
		return note, fmt.Errorf("record partner notification: %w", err)
	}
	return note, nil
}

func (n *PartnerNotifier) policy() DeliveryPolicy {
	if n.Policy == nil {
		return NewRetryWithBackoff(3, 2*time.Second)
	}
	return n.Policy
}

func (n *PartnerNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n *PartnerNotifier) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}
