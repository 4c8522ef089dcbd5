// Package webhooks fans domain events out to seller-registered endpoints and
// notifies integration partners of completed payments.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kambafy/internal/metrics"
	"kambafy/internal/model"
)

const (
	// DefaultUserAgent identifies the platform on every outbound delivery.
	DefaultUserAgent = "Kambafy-Webhooks/1.0"
	// SecretHeader carries the registration's shared secret verbatim.
	SecretHeader = "X-Webhook-Signature"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	ErrEventRequired = errors.New("event name is required")
	ErrScopeRequired = errors.New("an owner or resource scope is required")
	ErrInvalidData   = errors.New("event data is not JSON-serializable")
)

// RegistrationReader looks up candidate registrations for a scope.
type RegistrationReader interface {
	ActiveRegistrations(ctx context.Context, ownerID, resourceID string) ([]model.Registration, error)
}

// OwnerResolver maps a resource to the seller that owns it.
type OwnerResolver interface {
	ResourceOwner(ctx context.Context, resourceID string) (string, error)
}

// LogSink receives exactly one row per delivery. It must be safe for concurrent use.
type LogSink interface {
	AppendDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) error
}

// Deps are the collaborators of a Dispatcher. Registry and Log are required.
type Deps struct {
	Registry RegistrationReader
	Log      LogSink
	HTTP     HTTPDoer
	Owners   OwnerResolver

	Logger    *slog.Logger
	Now       func() time.Time
	UserAgent string
	// DefaultTimeout applies to registrations without timeoutSeconds.
	DefaultTimeout time.Duration
}

// Dispatcher delivers one event to every eligible registration, once each.
type Dispatcher struct {
	deps   Deps
	policy DeliveryPolicy
	tracer trace.Tracer
}

func NewDispatcher(deps Deps) *Dispatcher {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.UserAgent == "" {
		deps.UserAgent = DefaultUserAgent
	}
	if deps.DefaultTimeout <= 0 {
		deps.DefaultTimeout = model.DefaultTimeoutSeconds * time.Second
	}
	return &Dispatcher{deps: deps, policy: BestEffortOnce{}, tracer: otel.Tracer("kambafy/webhooks")}
}

// Dispatch resolves the registrations eligible for eventName within scope and
// delivers the payload to each of them concurrently. Per-delivery failures are
// reported in the result; an error is returned only when the scope cannot be
// resolved or the registry cannot be read.
//
// Cancelling ctx aborts in-flight deliveries; they are still logged and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, eventName string, payload any, scope model.Scope) (model.DispatchResult, error) {
	res := model.DispatchResult{Results: []model.DeliveryResult{}}
	eventName = strings.TrimSpace(eventName)
	if eventName == "" {
		return res, ErrEventRequired
	}
	ctx, span := d.tracer.Start(ctx, "webhooks.Dispatch", trace.WithAttributes(attribute.String("webhook.event", eventName)))
	defer span.End()

	res, err := d.dispatch(ctx, eventName, payload, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.Dispatches.WithLabelValues(eventName, "error").Inc()
		return res, err
	}
	span.SetAttributes(
		attribute.Int("webhook.triggered", res.Triggered),
		attribute.Int("webhook.successful", res.Successful),
		attribute.Int("webhook.failed", res.Failed),
		attribute.Int("webhook.skipped", res.Skipped),
	)
	metrics.Dispatches.WithLabelValues(eventName, "ok").Inc()
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, eventName string, payload any, scope model.Scope) (model.DispatchResult, error) {
	res := model.DispatchResult{Results: []model.DeliveryResult{}}
	data, err := json.Marshal(payload)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	scope, err = d.resolveScope(ctx, scope)
	if err != nil {
		return res, err
	}
	candidates, err := d.deps.Registry.ActiveRegistrations(ctx, scope.OwnerID, scope.ResourceID)
	if err != nil {
		return res, fmt.Errorf("load registrations: %w", err)
	}

	var targets []model.Registration
	for _, r := range candidates {
		if !r.InScope(scope) {
			continue
		}
		res.Triggered++
		if !r.Listens(eventName) {
			res.Skipped++
			continue
		}
		targets = append(targets, r)
	}
	metrics.DispatchRegistrations.WithLabelValues(eventName, "skipped").Add(float64(res.Skipped))
	metrics.DispatchRegistrations.WithLabelValues(eventName, "delivered").Add(float64(len(targets)))
	if len(targets) == 0 {
		d.deps.Logger.Debug("no webhook listeners", "event", eventName, "owner", scope.OwnerID, "resource", scope.ResourceID, "skipped", res.Skipped)
		return res, nil
	}

	sentAt := d.deps.Now().UTC()
	results := make([]model.DeliveryResult, len(targets))
	var wg sync.WaitGroup
	for i, reg := range targets {
		wg.Add(1)
		go func(i int, reg model.Registration) {
			defer wg.Done()
			results[i] = d.deliver(ctx, eventName, data, reg, sentAt)
		}(i, reg)
	}
	wg.Wait()

	for _, r := range results {
		if r.Success {
			res.Successful++
		} else {
			res.Failed++
		}
	}
	res.Results = results
	d.deps.Logger.Info("webhook dispatch complete",
		"event", eventName, "owner", scope.OwnerID, "resource", scope.ResourceID,
		"triggered", res.Triggered, "successful", res.Successful, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

func (d *Dispatcher) resolveScope(ctx context.Context, s model.Scope) (model.Scope, error) {
	if s.OwnerID != "" {
		return s, nil
	}
	if s.ResourceID == "" {
		return s, ErrScopeRequired
	}
	if d.deps.Owners == nil {
		return s, ErrScopeRequired
	}
	owner, err := d.deps.Owners.ResourceOwner(ctx, s.ResourceID)
	if err != nil {
		return s, fmt.Errorf("resolve owner of %s: %w", s.ResourceID, err)
	}
	s.OwnerID = owner
	return s, nil
}

// deliver performs one delivery and appends its log row before returning.
func (d *Dispatcher) deliver(ctx context.Context, eventName string, data json.RawMessage, reg model.Registration, sentAt time.Time) model.DeliveryResult {
	ctx, span := d.tracer.Start(ctx, "webhooks.deliver", trace.WithAttributes(
		attribute.String("webhook.registration_id", reg.ID),
		attribute.String("webhook.event", eventName),
	))
	defer span.End()

	body, _ := json.Marshal(model.Envelope{
		Event:     eventName,
		Timestamp: sentAt.Format(timestampLayout),
		Data:      data,
		WebhookID: reg.ID,
		Version:   model.EnvelopeVersion,
	})
	header := d.headers(reg)
	timeout := d.deps.DefaultTimeout
	if reg.TimeoutSeconds > 0 {
		timeout = reg.Timeout()
	}
	out, _ := d.policy.Execute(ctx, func(ctx context.Context, _ int) Outcome {
		return post(ctx, d.deps.HTTP, reg.URL, body, header, timeout)
	})

	attempt := model.DeliveryAttempt{
		ID:                  uuid.New().String(),
		RegistrationID:      reg.ID,
		OwnerID:             reg.OwnerID,
		EventName:           eventName,
		URL:                 reg.URL,
		Payload:             body,
		ResponseStatus:      out.Status,
		ResponseBodyExcerpt: out.Excerpt,
		Success:             out.Success(),
		Error:               out.Err,
		DurationMs:          int(out.Duration.Milliseconds()),
		OccurredAt:          d.deps.Now().UTC(),
	}
	if err := d.deps.Log.AppendDeliveryAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		metrics.DeliveryLogErrors.Inc()
		d.deps.Logger.Error("append delivery attempt", "registration", reg.ID, "event", eventName, "error", err)
	}
	metrics.WebhookDeliveries.WithLabelValues(eventName, out.Label()).Inc()
	metrics.WebhookLatency.WithLabelValues(eventName, out.Label()).Observe(float64(out.Duration.Milliseconds()))

	span.SetAttributes(attribute.Int("http.response.status_code", out.Status))
	if !attempt.Success {
		span.SetStatus(codes.Error, out.Err)
		d.deps.Logger.Warn("webhook delivery failed", "registration", reg.ID, "event", eventName, "url", reg.URL, "status", out.Status, "error", out.Err)
	}
	return model.DeliveryResult{
		RegistrationID: reg.ID,
		Success:        attempt.Success,
		Status:         out.Status,
		Error:          out.Err,
		URL:            reg.URL,
	}
}

// headers builds the outbound headers. Registration headers are applied first so
// they cannot replace Content-Type, User-Agent or the secret headers.
func (d *Dispatcher) headers(reg model.Registration) http.Header {
	h := make(http.Header, len(reg.Headers)+4)
	for k, v := range reg.Headers {
		h.Set(k, v)
	}
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", d.deps.UserAgent)
	if reg.Secret != "" {
		h.Set("Authorization", "Bearer "+reg.Secret)
		h.Set(SecretHeader, reg.Secret)
	}
	return h
}
