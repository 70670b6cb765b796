package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
	"github.com/kiyo123456/Tatemoku-management/internal/calendar"
	"github.com/kiyo123456/Tatemoku-management/internal/config"
	"github.com/kiyo123456/Tatemoku-management/internal/events"
	httptransport "github.com/kiyo123456/Tatemoku-management/internal/http"
	"github.com/kiyo123456/Tatemoku-management/internal/logging"
	"github.com/kiyo123456/Tatemoku-management/internal/persistence/sqlite"
	"github.com/kiyo123456/Tatemoku-management/internal/persistence/sqlite/migration"
	"github.com/kiyo123456/Tatemoku-management/internal/recurrence"
	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("tatemoku", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML or TOML configuration file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := logging.New(stdout, cfg.LogLevel)

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize service", "error", err)
		return err
	}
	defer svc.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tatemoku API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server encountered error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
		return err
	}
	return <-errCh
}

// service owns the long-lived connections behind the HTTP handler.
type service struct {
	handler http.Handler
	store   *sqlite.Store
	redis   *redis.Client
	nats    *nats.Conn
	logger  *slog.Logger
}

func newService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*service, error) {
	store, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(cfg.SQLitePath), sqlite.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	svc := &service{store: store, logger: logger}

	var provider scheduler.AvailabilityProvider = calendar.NewGoogleFreeBusy(cfg.Calendar.BaseURL, nil, cfg.Calendar.Timeout, logger)
	if cfg.Redis.Addr != "" {
		svc.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		provider = calendar.NewCachedProvider(provider, calendar.NewRedisBusyCache(svc.redis, ""), cfg.Redis.CacheTTL, logger)
		logger.Info("free/busy cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	var publisher application.ChangePublisher
	if cfg.NATS.URL != "" {
		conn, err := events.Connect(events.ConnectOptions{URL: cfg.NATS.URL, Name: "tatemoku", Logger: logger})
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.nats = conn
		publisher = events.NewPublisher(conn, cfg.NATS.SubjectPrefix, logger)
		logger.Info("change publishing enabled", "url", cfg.NATS.URL)
	}

	engine := scheduler.NewEngine(provider, cfg.Policy())
	availability := application.NewAvailabilityServiceWithLogger(engine, recurrence.NewEngine(cfg.Search.Location), logger)
	grouping := application.NewGroupingServiceWithLogger(store, nil, publisher, uuid.NewString, time.Now, logger)

	svc.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Availability:   httptransport.NewAvailabilityHandler(availability, cfg.Search.TopN, cfg.Calendar.RequireToken, logger),
		Memberships:    httptransport.NewMembershipHandler(grouping, logger),
		Containers:     httptransport.NewContainerHandler(grouping, logger),
		Sessions:       httptransport.NewSessionHandler(grouping, logger),
		ChangeLog:      httptransport.NewChangeLogHandler(grouping, logger),
		Tokens:         httptransport.NewTokenVerifier(cfg.JWTSecret),
		AllowedOrigins: cfg.CORSOrigins,
		Health:         svc.health,
		Logger:         logger,
	})
	return svc, nil
}

func (s *service) health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if s.nats != nil && !s.nats.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (s *service) Close() {
	if s.nats != nil {
		if err := s.nats.Drain(); err != nil {
			s.logger.Error("failed to drain nats connection", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("failed to close redis client", "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close storage", "error", err)
	}
}
