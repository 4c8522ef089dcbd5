package model

import (
	"encoding/json"
	"time"
)

// DefaultTimeoutSeconds applies when a registration leaves timeoutSeconds unset.
const DefaultTimeoutSeconds = 30

// EnvelopeVersion is stamped on every outbound delivery body.
const EnvelopeVersion = "1.0"

// Registration is a seller's subscription of one URL to a set of event names,
// optionally narrowed to a single resource (product).
type Registration struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"ownerId"`
	ResourceID     string            `json:"resourceId,omitempty"`
	URL            string            `json:"url"`
	Events         []string          `json:"events"`
	Secret         string            `json:"secret,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	Active         bool              `json:"active"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Timeout returns the per-delivery budget, falling back to the default.
func (r Registration) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Listens reports whether the registration's allow-list contains eventName.
func (r Registration) Listens(eventName string) bool {
	for _, e := range r.Events {
		if e == eventName {
			return true
		}
	}
	return false
}

// InScope applies the owner/resource part of the eligibility rule.
// A resource-scoped registration only matches dispatches for that resource;
// a global one matches every dispatch of its owner.
func (r Registration) InScope(s Scope) bool {
	if !r.Active || r.OwnerID != s.OwnerID {
		return false
	}
	if r.ResourceID == "" {
		return true
	}
	return s.ResourceID != "" && r.ResourceID == s.ResourceID
}

// Redacted hides the shared secret for API reads.
func (r Registration) Redacted() Registration {
	if r.Secret != "" {
		r.Secret = "********"
	}
	return r
}

// RegistrationInput is the create request for a registration.
type RegistrationInput struct {
	OwnerID        string            `json:"ownerId"`
	ResourceID     string            `json:"resourceId,omitempty"`
	URL            string            `json:"url" validate:"required,url,startswith=http"`
	Events         []string          `json:"events" validate:"required,min=1,dive,required"`
	Secret         string            `json:"secret,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty" validate:"gte=0,lte=120"`
	Active         *bool             `json:"active,omitempty"`
}

// RegistrationPatch carries a partial update; nil fields are left untouched.
type RegistrationPatch struct {
	URL            *string            `json:"url,omitempty" validate:"omitempty,url,startswith=http"`
	Events         *[]string          `json:"events,omitempty" validate:"omitempty,min=1,dive,required"`
	Secret         *string            `json:"secret,omitempty"`
	Headers        *map[string]string `json:"headers,omitempty"`
	TimeoutSeconds *int               `json:"timeoutSeconds,omitempty" validate:"omitempty,gte=0,lte=120"`
	Active         *bool              `json:"active,omitempty"`
}

// Apply merges the patch into r.
func (p RegistrationPatch) Apply(r *Registration) {
	if p.URL != nil {
		r.URL = *p.URL
	}
	if p.Events != nil {
		r.Events = append([]string(nil), (*p.Events)...)
	}
	if p.Secret != nil {
		r.Secret = *p.Secret
	}
	if p.Headers != nil {
		r.Headers = *p.Headers
	}
	if p.TimeoutSeconds != nil {
		r.TimeoutSeconds = *p.TimeoutSeconds
	}
	if p.Active != nil {
		r.Active = *p.Active
	}
}

// Scope narrows a dispatch to an owner and, optionally, one resource.
type Scope struct {
	OwnerID    string `json:"ownerId,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
}

// Envelope is the body of every dispatcher delivery.
type Envelope struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
	WebhookID string `json:"webhook_id"`
	Version   string `json:"version"`
}

// DeliveryAttempt is one row of the append-only delivery log.
type DeliveryAttempt struct {
	ID                  string          `json:"id"`
	RegistrationID      string          `json:"registrationId"`
	OwnerID             string          `json:"ownerId"`
	EventName           string          `json:"eventName"`
	URL                 string          `json:"url"`
	Payload             json.RawMessage `json:"payload"`
	ResponseStatus      int             `json:"responseStatus"`
	ResponseBodyExcerpt string          `json:"responseBodyExcerpt,omitempty"`
	Success             bool            `json:"success"`
	Error               string          `json:"error,omitempty"`
	DurationMs          int             `json:"durationMs"`
	OccurredAt          time.Time       `json:"occurredAt"`
}

// DeliveryFilter narrows delivery log listings.
type DeliveryFilter struct {
	EventName      string
	RegistrationID string
	// Status is "", "success" or "failed".
	Status string
}

// DeliveryStat aggregates delivery log rows by event and outcome.
type DeliveryStat struct {
	EventName    string           `json:"eventName"`
	Success      bool             `json:"success"`
	Count        int64            `json:"count"`
	AvgLatencyMs int64            `json:"avgLatencyMs"`
	CodeClasses  map[string]int64 `json:"codeClasses"`
}

// DeliveryResult is the per-registration entry of a DispatchResult.
type DeliveryResult struct {
	RegistrationID string `json:"registrationId"`
	Success        bool   `json:"success"`
	Status         int    `json:"status,omitempty"`
	Error          string `json:"error,omitempty"`
	URL            string `json:"url"`
}

// DispatchResult summarises one dispatch.
type DispatchResult struct {
	Triggered  int              `json:"triggered"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Results    []DeliveryResult `json:"results"`
}

// DispatchRequest is the body accepted by the dispatch endpoint and the event queue.
type DispatchRequest struct {
	Event     string          `json:"event" validate:"required"`
	Data      json.RawMessage `json:"data"`
	UserID    string          `json:"user_id,omitempty"`
	OrderID   string          `json:"order_id,omitempty"`
	ProductID string          `json:"product_id,omitempty"`
}

// DispatchResponse is the dispatch endpoint's success body.
type DispatchResponse struct {
	Message string `json:"message"`
	Event   string `json:"event"`
	DispatchResult
}

// PartnerPayment is a completed payment made through an integration partner,
// together with the outcome of the partner notification.
type PartnerPayment struct {
	ID            string         `json:"id"`
	PartnerID     string         `json:"partnerId"`
	OrderID       string         `json:"orderId"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Status        string         `json:"status"`
	CustomerEmail string         `json:"customerEmail,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`

	PartnerWebhookURL    string `json:"-"`
	PartnerWebhookSecret string `json:"-"`

	WebhookDelivered  bool       `json:"webhookDelivered"`
	WebhookAttempts   int        `json:"webhookAttempts"`
	WebhookLastError  string     `json:"webhookLastError,omitempty"`
	WebhookLastStatus int        `json:"webhookLastStatus,omitempty"`
	WebhookNotifiedAt *time.Time `json:"webhookNotifiedAt,omitempty"`
}

// PartnerNotification is the persisted outcome of notifying a partner.
type PartnerNotification struct {
	PaymentID  string    `json:"paymentId"`
	Delivered  bool      `json:"delivered"`
	Attempts   int       `json:"attempts"`
	LastStatus int       `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	NotifiedAt time.Time `json:"notifiedAt"`
}
