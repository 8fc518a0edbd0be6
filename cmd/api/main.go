package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/nestlog/internal/api"
	"example.com/nestlog/internal/auth"
	"example.com/nestlog/internal/config"
	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/outbox"
	persistence "example.com/nestlog/internal/persistence/postgres"
	"example.com/nestlog/internal/share"
	httptransport "example.com/nestlog/internal/transport/http"
	"example.com/nestlog/internal/zones"
)

// syncLogger announces that the event pipeline covers a freshly registered
// zone. The pipeline itself is driven by the outbox dispatcher and the
// syncworker; no per-zone goroutine is needed here.
type syncLogger struct {
	logger *zap.Logger
}

func (s *syncLogger) StartZoneSync(_ context.Context, zone domain.SharedZone) {
	s.logger.Info("zone_sync_started",
		zap.String("zone_id", zone.ZoneID),
		zap.String("zone_name", zone.Name),
	)
}

func main() {
	cfg := config.Load()

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	go dispatcher.Start(ctx)

	cloud := share.NewCloudClient(cfg.CloudServiceURL, cfg.CloudTimeout)
	acceptor := share.NewAcceptor(cloud)
	coordinator := zones.NewCoordinator(acceptor, repo, &syncLogger{logger: zlog}, zlog)
	defer coordinator.Close()

	accepted, err := repo.ListAcceptedZones(ctx)
	if err != nil {
		log.Fatalf("failed to load accepted zones: %v", err)
	}
	coordinator.Hydrate(accepted)

	service := domain.NewService(repo)

	handler := api.NewHandler(service, coordinator)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.DefaultConfig(cfg.HTTPAddress), authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("nestlog api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	coordinator.Wait()
	dispatcher.Wait()
}
