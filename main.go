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
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"proflo-api/api"
	"proflo-api/realtime"
	"proflo-api/storage"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tables, err := storage.New(cfg.connStr, cfg.names)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if cfg.storageInit {
		log.Info("storage init starting")
		if err := tables.EnsureResources(ctx); err != nil {
			log.Fatalf("storage init: %v", err)
		}
		log.Info("storage init complete")
	}

	rc := redis.NewClient(cfg.redis)
	defer rc.Close()
	store := storage.NewCache(tables, rc, cfg.cacheTTL)
	deduper := api.NewRedisDeduper(rc, cfg.deduperTTL)

	var auth *api.Auth
	switch cfg.authMode {
	case authSharedSecret:
		log.Warn("using shared secret token validation")
		auth = api.NewAuth(nil, cfg.auth)
	default:
		jwks, err := keyfunc.Get(cfg.jwksURL(), keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.WithError(err).Error("jwks refresh failed")
			},
		})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.auth)
	}

	pub := realtime.NewPublisher(rc, cfg.channel, uuid.NewString())
	reg := api.NewRegistry(api.RegistryConfig{
		Store:         store,
		Publisher:     pub,
		Logger:        logger,
		RemoteTimeout: cfg.remoteTO,
		Policy:        cfg.policy,
		Origin:        pub.Origin(),
		Activity:      cfg.activity,
	})
	go realtime.Subscribe(ctx, logger, rc, cfg.channel, reg.HandleChange)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(api.RequestLogger(logger))

	api.Register(e, reg, auth, deduper, logger)

	go func() {
		if err := e.Start(cfg.listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	api.Shutdown()
}
