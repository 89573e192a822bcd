package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/carpool/internal/admin"
	"github.com/example/carpool/internal/alerts"
	"github.com/example/carpool/internal/auth"
	"github.com/example/carpool/internal/config"
	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/geocode"
	httpapi "github.com/example/carpool/internal/http"
	"github.com/example/carpool/internal/ingest"
	"github.com/example/carpool/internal/logging"
	"github.com/example/carpool/internal/payments"
	"github.com/example/carpool/internal/storage"
	"github.com/example/carpool/internal/trips"
	"github.com/example/carpool/internal/users"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("carpool-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var refunder payments.Refunder
	if cfg.StripeAPIKey != "" {
		refunder = payments.NewStripeRefunder(cfg.StripeAPIKey)
	} else {
		logger.Warn("no stripe key configured, refunds are log-only")
		refunder = &payments.LogRefunder{Logger: logger}
	}

	var resolver geocode.Resolver = geocode.NopResolver{}
	if cfg.GeocodeEndpoint != "" {
		resolver = geocode.NewClient(cfg.GeocodeEndpoint)
	}

	var publisher ingest.LocationPublisher = ingest.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	var index geo.Index = geo.NewMemIndex()
	if cfg.RedisAddr != "" {
		ri := geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		if err := ri.Ping(ctx); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer ri.Close()
		index = ri
	}

	wsreg := dispatch.NewWSRegistry(logger)
	notifier := dispatch.NewWebhookNotifier(wsreg, cfg.PushEndpoint, logger)
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	tripSvc := &trips.Service{
		Store:     store,
		Payments:  refunder,
		Notifier:  notifier,
		Geocoder:  resolver,
		Locations: publisher,
		Geo:       index,
		Logger:    logger,
	}
	userSvc := &users.Service{Store: store}
	alertSvc := &alerts.Service{Store: store, Notifier: notifier, Logger: logger}
	adminSvc := &admin.Service{Store: store}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(tripSvc, userSvc, alertSvc, adminSvc, verifier, wsreg, index, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go sweepCompletedRides(ctx, tripSvc, cfg.SweepInterval, logger)

	go func() {
		logger.Info("carpool api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// openStore connects to Mongo when configured; without MONGO_URI the
// process falls back to the in-memory store, which is enough for local
// development and tests but loses everything on restart.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.MongoURI == "" {
		logger.Warn("MONGO_URI not set, using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ms, err := storage.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ms.Close(closeCtx); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
	}
	return ms, closeFn, nil
}

// sweepCompletedRides periodically flips rides past departure to
// completed so bookings settle even when nobody reads them.
func sweepCompletedRides(ctx context.Context, svc *trips.Service, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.CompleteDueRides(ctx)
			if err != nil {
				logger.Warn("completion sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("completion sweep", "rides_completed", n)
			}
		}
	}
}
