package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kambafy/internal/api"
	"kambafy/internal/auth"
	"kambafy/internal/config"
	"kambafy/internal/eventbus"
	"kambafy/internal/store"
	"kambafy/internal/telemetry"
	"kambafy/internal/webhooks"
)

func main() {
	configDir := flag.String("config", "", "directory containing kambafy.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Observability)
	if err != nil {
		logger.Error("init telemetry", "error", err)
		os.Exit(1)
	}

	checks := map[string]func(context.Context) error{}
	var st store.Store
	if cfg.Database.URL == "" {
		logger.Warn("no database url configured, using in-memory store")
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("migrate", "error", err)
				os.Exit(1)
			}
		}
		checks["postgres"] = pg.Ping
		st = pg
	}

	var broker api.EventBroker = api.NewBroker()
	if cfg.Redis.URL != "" {
		rb, err := api.NewRedisBroker(cfg.Redis.URL, logger)
		if err != nil {
			logger.Warn("redis broker unavailable, using in-process feed", "error", err)
		} else {
			defer rb.Close()
			checks["redis"] = rb.Ping
			broker = rb
		}
	}

	partnerPolicy := webhooks.NewRetryWithBackoff(cfg.Partner.MaxAttempts, cfg.Partner.BaseDelay)
	srv := api.NewServer(st, api.Options{
		Auth:                  auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		Broker:                broker,
		Logger:                logger,
		HTTPClient:            &http.Client{},
		UserAgent:             cfg.Webhooks.UserAgent,
		DefaultTimeout:        cfg.Webhooks.DefaultTimeout,
		PartnerPolicy:         partnerPolicy,
		PartnerAttemptTimeout: cfg.Partner.AttemptTimeout,
		RateRPS:               cfg.Rate.RPS,
		RateBurst:             cfg.Rate.Burst,
		Checks:                checks,
		Debug: map[string]any{
			"httpAddr":       cfg.HTTP.Addr,
			"hasDatabaseUrl": cfg.Database.URL != "",
			"hasRedisUrl":    cfg.Redis.URL != "",
			"hasAmqpUrl":     cfg.AMQP.URL != "",
			"rateRps":        cfg.Rate.RPS,
			"rateBurst":      cfg.Rate.Burst,
			"partnerRetries": cfg.Partner.MaxAttempts,
		},
	})

	if cfg.AMQP.URL != "" {
		conn, ch, err := eventbus.Dial(cfg.AMQP.URL)
		if err != nil {
			logger.Error("connect rabbitmq", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		consumer := eventbus.NewConsumer(srv.Dispatcher, st, logger)
		go func() {
			if err := consumer.Run(ctx, ch, cfg.AMQP.Queue); err != nil {
				logger.Error("event consumer stopped", "error", err)
				stop()
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("API listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("shutdown tracing", "error", err)
	}
}
