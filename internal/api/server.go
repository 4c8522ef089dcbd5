// Package api implements the HTTP surface of the webhook service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kambafy/internal/auth"
	"kambafy/internal/metrics"
	"kambafy/internal/model"
	"kambafy/internal/store"
	"kambafy/internal/webhooks"
)

// Dispatcher is satisfied by *webhooks.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventName string, payload any, scope model.Scope) (model.DispatchResult, error)
}

// Notifier is satisfied by *webhooks.PartnerNotifier.
type Notifier interface {
	NotifyPayment(ctx context.Context, paymentID string) (model.PartnerNotification, error)
}

// Options configures a Server. Zero values select working defaults.
type Options struct {
	Auth       *auth.Verifier
	Broker     EventBroker
	Logger     *slog.Logger
	HTTPClient webhooks.HTTPDoer

	UserAgent      string
	DefaultTimeout time.Duration

	// PartnerPolicy overrides the notifier's retry policy.
	PartnerPolicy         webhooks.DeliveryPolicy
	PartnerAttemptTimeout time.Duration

	RateRPS   float64
	RateBurst int

	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]func(context.Context) error
	// Debug is echoed by /debug/info.
	Debug map[string]any
}

type Server struct {
	Store      store.Store
	Dispatcher Dispatcher
	Notifier   Notifier
	Auth       *auth.Verifier
	Broker     EventBroker
	Logger     *slog.Logger

	limiter  *ownerLimiter
	checks   map[string]func(context.Context) error
	debug    map[string]any
	validate *validator.Validate
}

// NewServer wires the dispatcher and partner notifier over st. Every delivery
// row is also published on the broker's live feed.
func NewServer(st store.Store, o Options) *Server {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Broker == nil {
		o.Broker = NewBroker()
	}
	if o.Auth == nil {
		o.Auth = auth.NewVerifier("dev", "")
	}
	d := webhooks.NewDispatcher(webhooks.Deps{
		Registry:       st,
		Log:            feedSink{log: st, broker: o.Broker},
		HTTP:           o.HTTPClient,
		Owners:         st,
		Logger:         o.Logger,
		UserAgent:      o.UserAgent,
		DefaultTimeout: o.DefaultTimeout,
	})
	n := webhooks.NewPartnerNotifier(st, o.HTTPClient)
	n.Logger = o.Logger
	if o.UserAgent != "" {
		n.UserAgent = o.UserAgent
	}
	if o.PartnerPolicy != nil {
		n.Policy = o.PartnerPolicy
	}
	if o.PartnerAttemptTimeout > 0 {
		n.AttemptTimeout = o.PartnerAttemptTimeout
	}
	return &Server{
		Store:      st,
		Dispatcher: d,
		Notifier:   n,
		Auth:       o.Auth,
		Broker:     o.Broker,
		Logger:     o.Logger,
		limiter:    newOwnerLimiter(o.RateRPS, o.RateBurst),
		checks:     o.Checks,
		debug:      o.Debug,
		validate:   validator.New(),
	}
}

// Routes builds the service router.
func (s *Server) Routes() http.Handler {
	metrics.RegisterDefault()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/openapi.yaml", s.OpenAPIHandler)
	r.Get("/openapi.json", s.OpenAPIJSONHandler)
	r.Get("/debug/info", s.DebugJSON)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/webhooks/dispatch", s.DispatchHandler)
		r.Get("/webhooks", s.ListRegistrationsHandler)
		r.Post("/webhooks", s.CreateRegistrationHandler)
		r.Get("/webhooks/{id}", s.GetRegistrationHandler)
		r.Patch("/webhooks/{id}", s.UpdateRegistrationHandler)
		r.Delete("/webhooks/{id}", s.DeleteRegistrationHandler)

		r.Post("/partner-payments/{id}/notify", s.NotifyPartnerHandler)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/webhook-deliveries", s.WebhookDeliveriesHandler)
			r.Get("/webhook-deliveries/stream", s.DeliveryStreamHandler)
			r.Get("/webhook-deliveries/ws", s.DeliveryWSHandler)
			r.Get("/webhook-metrics", s.WebhookMetricsHandler)
		})
	})
	return r
}
