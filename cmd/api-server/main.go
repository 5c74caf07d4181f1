package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/audit"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/observability/metrics"
	"github.com/hackgods/clinic-booking/internal/payhere"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", "error", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server", "env", cfg.Env)
	logger.Info("api-server starting up", "http_port", cfg.HTTPPort, "version", version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", "error", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal("redis connection error", "error", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(registry)

	auditStore := audit.NewStore(pgPool)

	opts := []booking.Option{
		booking.WithDraftCache(booking.NewRedisDraftCache(rdb)),
		booking.WithAuditReader(auditStore),
		booking.WithLogger(logger.With("component", "booking")),
		booking.WithMetrics(bookingMetrics),
	}
	gateway, err := payhere.NewGateway(payhere.Config{
		MerchantID:     cfg.PayHere.MerchantID,
		MerchantSecret: cfg.PayHere.MerchantSecret,
		Currency:       cfg.PayHere.Currency,
		CheckoutURL:    cfg.PayHere.CheckoutURL,
		ReturnURL:      cfg.PayHere.ReturnURL,
		CancelURL:      cfg.PayHere.CancelURL,
		NotifyURL:      cfg.PayHere.NotifyURL,
	})
	switch {
	case err == nil:
		opts = append(opts, booking.WithGateway(gateway))
		logger.Info("payhere gateway enabled", "sandbox", cfg.PayHere.Sandbox, "currency", gateway.Currency())
	case errors.Is(err, payhere.ErrMissingCredentials):
		logger.Warn("payhere credentials not set, online payments disabled")
	default:
		logger.Fatal("payhere gateway error", "error", err)
	}

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	svc := booking.NewService(repo, locker, cfg.Booking, opts...)

	// Outbox fan-out
	handlers := []events.Handler{
		audit.NewHandler(auditStore),
		notify.NewHandler(notify.NewSMSClient(notify.SMSConfig{
			APIURL:   cfg.SMS.APIURL,
			APIToken: cfg.SMS.APIToken,
			SenderID: cfg.SMS.SenderID,
			Timeout:  cfg.SMS.Timeout,
		}, logger.With("component", "sms")), logger.With("component", "notify")).
			WithObserver(bookingMetrics.ObserveNotification),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal("kafka publisher error", "error", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("error closing kafka publisher", "error", err)
			}
		}()
		handlers = append(handlers, publisher)
		logger.Info("kafka publishing enabled", "topic", cfg.Kafka.Topic)
	}
	dispatcher := events.NewDispatcher(logger.With("component", "dispatcher"), handlers...).
		WithObserver(bookingMetrics.ObserveHandler)
	deliverer := events.NewDeliverer(events.NewOutboxStore(pgPool), dispatcher, logger.With("component", "outbox")).
		WithInterval(cfg.OutboxInterval)

	delivererCtx, stopDeliverer := context.WithCancel(context.Background())
	delivererDone := make(chan struct{})
	go func() {
		defer close(delivererDone)
		deliverer.Start(delivererCtx)
	}()

	router := api.NewRouter(api.RouterConfig{
		Service:         svc,
		Health:          api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
		Metrics:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Logger:          logger,
		DraftTTL:        cfg.Booking.DraftTTL,
		StalePendingAge: cfg.StalePendingAge,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// One last pass so events committed by in-flight requests are not left
	// waiting for the next process.
	stopDeliverer()
	<-delivererDone
	deliverer.Drain(shutdownCtx)

	logger.Info("api-server stopped")
}
