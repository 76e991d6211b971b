package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskmaster/api"
	"taskmaster/storage"
)

// backend is the persistence chosen at startup.
type backend struct {
	store            api.Storage
	users            *storage.Directory
	publishers       api.MultiPublisher
	pings            []func(context.Context) error
	queueConcurrency int
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	cfg := loadConfig()
	logger := log.StandardLogger()

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	)
	otel.SetTracerProvider(tp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.RedisConn != "" {
		rc = redis.NewClient(redisOptions(cfg.RedisConn))
	}

	be, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	broker := api.NewBroker(logger)
	var deduper api.Deduper
	if rc != nil {
		be.store = storage.NewCache(be.store, rc, cfg.TasksCacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		be.publishers = append(be.publishers, api.NewRedisPublisher(rc, cfg.EventsChannel))
		be.pings = append(be.pings, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
		go api.RelayEvents(ctx, logger, rc, cfg.EventsChannel, broker)
	} else {
		be.publishers = append(be.publishers, broker)
	}

	events := api.NewDispatcher(be.publishers, api.DispatcherConfigFromEnv(be.queueConcurrency, runtime.NumCPU()), logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(api.RequestLogger(logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware(cfg.MaxBodyBytes))
	if cfg.PprofEnabled {
		pprof.Register(e)
	}

	api.Register(e, api.Options{
		Store:     be.store,
		Users:     be.users,
		Auth:      newAuth(),
		Deduper:   deduper,
		Events:    events,
		Broker:    broker,
		Ping:      pingAll(be.pings),
		Logger:    logger,
		KeepAlive: cfg.StreamKeepAlive,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete; closing connections")
		_ = e.Close()
	}
	events.Close()
	if rc != nil {
		_ = rc.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown")
	}
}

// openBackend uses Azure Tables when a connection string is configured and
// the in-memory store seeded from fixtures otherwise. The user directory
// always comes from the fixtures.
func openBackend(cfg config) (*backend, error) {
	fx, err := storage.DemoFixtures()
	if cfg.FixturesPath != "" {
		fx, err = storage.LoadFixtures(cfg.FixturesPath)
	}
	if err != nil {
		return nil, fmt.Errorf("fixtures: %w", err)
	}
	be := &backend{users: storage.NewDirectory(fx.Users)}

	if cfg.StorageConn == "" {
		tasks, err := fx.BuildTasks(time.Now().UTC())
		if err != nil {
			return nil, err
		}
		be.store = storage.NewMemory(tasks)
		log.WithField("tasks", len(tasks)).Info("using in-memory task store")
		return be, nil
	}

	az, err := storage.New(cfg.StorageConn, cfg.TasksTable, cfg.EventQueue)
	if err != nil {
		return nil, err
	}
	be.store = az
	be.queueConcurrency = az.QueueConcurrency()
	be.pings = append(be.pings, az.Ping)
	if cfg.EventQueue != "" {
		be.publishers = append(be.publishers, api.PublisherFunc(az.PublishEvent))
	}
	log.WithFields(log.Fields{"table": cfg.TasksTable, "queue": cfg.EventQueue}).Info("using table storage")
	return be, nil
}

func newAuth() *api.Auth {
	if os.Getenv("AUTH0_TEST_MODE") == "1" || os.Getenv("LOCAL_AUTH_MODE") != "" {
		return api.NewAuth(nil, "", "")
	}
	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || domain == "" {
		log.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Error("jwks refresh")
		},
	})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
}

func pingAll(pings []func(context.Context) error) func(context.Context) error {
	if len(pings) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		var errs []error
		for _, p := range pings {
			if err := p(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
