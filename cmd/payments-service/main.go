package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/palsapos/payments/internal/config"
	"github.com/palsapos/payments/internal/payment/application"
	"github.com/palsapos/payments/internal/payment/domain"
	"github.com/palsapos/payments/internal/payment/infrastructure/daraja"
	payhttp "github.com/palsapos/payments/internal/payment/infrastructure/http"
	paykafka "github.com/palsapos/payments/internal/payment/infrastructure/kafka"
	paypg "github.com/palsapos/payments/internal/payment/infrastructure/postgres"
	"github.com/palsapos/payments/pkg/clock"
	"github.com/palsapos/payments/pkg/idempotency"
	"github.com/palsapos/payments/pkg/logging"
	"github.com/palsapos/payments/pkg/metrics"
	"github.com/palsapos/payments/pkg/outbox"
	"github.com/palsapos/payments/pkg/shutdown"
	"github.com/palsapos/payments/pkg/tracing"
)

func main() {
	log := logging.New()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// The service still starts so the config test endpoint can report
		// what is missing; gateway calls will fail until fixed.
		log.Warn("gateway configuration incomplete", "err", err)
	}

	tp, err := tracing.Init(ctx, "payments-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := paypg.Migrate(ctx, pool); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	// Redis, used for callback replay suppression
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	dedupe := idempotency.NewStore(rdb, 24*time.Hour)

	// Kafka producer + outbox relay
	writer := paykafka.NewWriter([]string{cfg.KafkaAddr})
	defer writer.Close()

	repo := paypg.NewRepository(log, pool)
	store := paypg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, store, dispatch, "payments-service-relay")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.NewPayments(reg)

	clk := clock.NewSystem()
	gateway := daraja.NewClient(log, cfg.Daraja, clk)
	registry := domain.NewRegistry()

	svc := application.NewService(log, repo, gateway, registry, clk, m)
	reconciler := application.NewReconciler(log, repo, dedupe, clk, m)
	sweeper := application.NewSweeper(log, repo, clk, cfg.SweepInterval, cfg.SweepWindow, m)
	handler := payhttp.NewHandler(log, svc, reconciler, cfg.MissingDarajaFields())

	r := chi.NewRouter()
	r.Mount("/payments", handler.Routes())
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Error("sweeper stopped with error", "err", err)
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("payments-service shutdown complete")
}
