package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"custodia/internal/audit"
	"custodia/internal/compliance"
	"custodia/internal/crypto/engine"
	"custodia/internal/crypto/kms"
	"custodia/internal/dashboard"
	"custodia/internal/detection"
	"custodia/internal/export"
	"custodia/internal/incident"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/metrics"
	platformredis "custodia/internal/platform/redis"
	httptransport "custodia/internal/transport/http"
)

// main wires the dependency graph and owns the process lifecycle. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if cfg.KMSRootSecret == "" {
		log.Error("CUSTODIA_KMS_ROOT_SECRET is required; refusing to start without key material")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store selection: postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		db            *sql.DB
		kmsStore      kms.Store
		auditStore    audit.Store
		incidentStore incident.Store
		snapshotStore compliance.SnapshotStore
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		kmsStore = kms.NewPostgresStore(db)
		auditStore = audit.NewPostgresStore(db)
		incidentStore = incident.NewPostgresStore(db)
		snapshotStore = compliance.NewPostgresSnapshotStore(db)
		log.Info("using postgres stores")
	} else {
		kmsStore = kms.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		incidentStore = incident.NewMemoryStore()
		snapshotStore = compliance.NewMemorySnapshotStore()
		log.Warn("DATABASE_URL not set; using in-memory stores")
	}

	kmsSvc, err := kms.New(cfg.KMSRootSecret, kmsStore, log)
	if err != nil {
		log.Error("KMS bootstrap failed", "error", err)
		os.Exit(1)
	}
	eng, err := engine.New(kmsSvc, cfg.SearchHashSalt)
	if err != nil {
		log.Error("encryption engine init failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	auditOpts := []audit.Option{audit.WithMetrics(m)}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.SecurityTopic)
		if err != nil {
			log.Error("kafka publisher init failed", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		auditOpts = append(auditOpts, audit.WithPublisher(publisher))
		log.Info("security event fan-out enabled", "topic", cfg.Kafka.SecurityTopic)
	}
	auditSvc := audit.NewService(auditStore, eng, log, auditOpts...)

	responder := incident.NewLogResponder(log)
	incidentSvc := incident.NewService(incidentStore, responder, responder, responder, eng, log,
		incident.WithAuditor(auditSvc),
		incident.WithMetrics(m),
	)

	complianceSvc := compliance.NewService(auditSvc, incidentSvc, cfg.Compliance, log,
		compliance.WithSnapshotStore(snapshotStore),
	)
	dashboardSvc := dashboard.NewService(auditStore, incidentSvc, complianceSvc)
	attestor := export.NewAttestor(kmsSvc, cfg.ReportIssuer)

	var dedupe detection.DedupeStore = detection.NewMemoryDedupe()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		dedupe = detection.NewRedisDedupe(redisClient.Client)
		log.Info("detection dedupe backed by redis")
	}

	detector := detection.NewDetector(detection.DefaultRules(), auditSvc, incidentSvc, dedupe, log,
		detection.WithMetrics(m),
		detection.WithDedupeTTL(cfg.Detection.DedupeTTL),
	)
	sweeper := detection.NewSweeper(detector, cfg.Detection.SweepInterval, log)
	go sweeper.Run(ctx)

	handlerOpts := []httptransport.Option{
		httptransport.WithAttestor(attestor),
		httptransport.WithKeyInventory(kmsSvc),
	}
	if cfg.AdminToken != "" {
		handlerOpts = append(handlerOpts, httptransport.WithAdminToken(cfg.AdminToken))
	}
	handler := httptransport.New(auditSvc, eng, incidentSvc, complianceSvc, dashboardSvc, log, handlerOpts...)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	errCh := make(chan error, 1)
	go func() {
		log.Info("custodia listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
