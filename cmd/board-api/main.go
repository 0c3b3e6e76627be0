package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/shuvam773/kanban/api"
	"github.com/shuvam773/kanban/broadcast"
	"github.com/shuvam773/kanban/config"
	"github.com/shuvam773/kanban/service"
	"github.com/shuvam773/kanban/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var (
		gatewayOpts []broadcast.Option
		serviceOpts []service.Option
		apiOpts     = []api.Option{api.WithHeartbeat(cfg.Stream.Heartbeat)}
		dedupe      api.Deduper
	)
	if cfg.Redis.ConnectionString != "" {
		redisOpts, err := cfg.Redis.Options()
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		gatewayOpts = append(gatewayOpts,
			broadcast.WithRelay(broadcast.NewRedisRelay(rc, logger)),
			broadcast.WithSequencer(broadcast.NewRedisSequencer(rc)),
		)
		serviceOpts = append(serviceOpts, service.WithSnapshotCache(storage.NewBoardCache(rc, cfg.BoardID, cfg.Redis.CacheTTL, logger)))
		dedupe = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
		apiOpts = append(apiOpts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}))
	} else {
		logger.Warn("no redis configured: single instance, no idempotency keys")
	}
	if cfg.Stream.EventsQueue != "" {
		sink, err := broadcast.NewQueueSink(cfg.Storage.ConnectionString, cfg.Stream.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		gatewayOpts = append(gatewayOpts, broadcast.WithExporter(sink))
	}

	hub := broadcast.NewHub(cfg.Stream.SubscriberBuffer, logger)
	gateway := broadcast.NewGateway(hub, logger, gatewayOpts...)
	defer gateway.Close()
	go gateway.Run(ctx, cfg.BoardID)

	svc := service.New(store, gateway, cfg.BoardID, logger, serviceOpts...)
	if cfg.Integrity.Schedule != "" {
		sweeper, err := service.NewSweeper(svc, cfg.Integrity.Schedule, logger)
		if err != nil {
			log.Fatalf("integrity sweeper: %v", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	if auth == nil {
		logger.Warn("auth disabled: requests run as anonymous")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
		ExposeHeaders: []string{api.HeaderBoardVersion, api.HeaderIdempotentReplayed},
	}))
	api.Register(e, svc, gateway, auth, dedupe, logger, apiOpts...)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	logger.WithFields(log.Fields{"port": cfg.Port, "board": cfg.BoardID, "driver": cfg.Storage.Driver}).Info("board api started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (service.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		s, err := storage.NewSQLite(cfg.Storage.DatabaseURL, cfg.BoardID, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverPostgres:
		s, err := storage.NewPostgres(ctx, cfg.Storage.DatabaseURL, cfg.BoardID)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverTables:
		s, err := storage.NewTables(cfg.Storage.ConnectionString, cfg.Storage.SectionsTable, cfg.Storage.TasksTable, cfg.BoardID)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return storage.NewMemory(), func() {}, nil
	}
}

// newAuth returns nil when no authentication is configured.
func newAuth(cfg config.AuthConfig) (api.Authenticator, error) {
	switch {
	case cfg.LocalMode != "":
		return api.NewLocalAuth([]byte(cfg.LocalSecret), cfg.Audience, cfg.Issuer()), nil
	case cfg.Domain != "":
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, err
		}
		return api.NewAuth(jwks, cfg.Audience, cfg.Issuer()), nil
	}
	return nil, nil
}
