package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/sitework-service/internal/api/http/handlers"
	"github.com/spec-kit/sitework-service/internal/auth"
	"github.com/spec-kit/sitework-service/internal/config"
	"github.com/spec-kit/sitework-service/internal/observability"
	"github.com/spec-kit/sitework-service/internal/persistence"
	"github.com/spec-kit/sitework-service/internal/ratelimit"
	"github.com/spec-kit/sitework-service/internal/repository"
	"github.com/spec-kit/sitework-service/internal/security"
	"github.com/spec-kit/sitework-service/internal/service"
	"github.com/spec-kit/sitework-service/internal/session"

	httptransport "github.com/spec-kit/sitework-service/internal/api/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	hardened := cfg.App.Hardened()

	// Key-material policy: fatal under the hardened profile, degraded
	// with warnings under the relaxed profile.
	secret, err := auth.ResolveSecret(cfg.Auth.JWTSecret, hardened, logger)
	if err != nil {
		logger.Fatal("refusing to start with weak signing secret", zap.Error(err))
	}
	cipher, err := security.NewTokenCipher(cfg.Auth.EncryptionKey, hardened, logger)
	if err != nil {
		logger.Fatal("refusing to start without encryption key", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	resetRepo := repository.NewPasswordResetRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)

	var cache session.Cache
	if cfg.Session.CacheBackend == "redis" {
		cache = session.NewRedisCache(redis.Client, cfg.Session.CacheStaleness)
	} else {
		cache = session.NewMemoryCache()
	}
	sessions := session.NewManager(sessionRepo, cache, session.Config{
		InactivityTimeout:  cfg.Session.InactivityTimeout,
		MaxLifetime:        cfg.Session.MaxLifetime,
		MaxSessionsPerUser: cfg.Session.MaxSessionsPerUser,
		CleanupInterval:    cfg.Session.CleanupInterval,
		CacheStaleness:     cfg.Session.CacheStaleness,
	}, logger)
	sessions.StartSweeper()
	defer sessions.Stop()

	var limiterStore ratelimit.Store
	if cfg.RateLimit.Backend == "redis" {
		limiterStore = ratelimit.NewRedisStore(redis.Client)
	} else {
		limiterStore = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.New(limiterStore, logger)
	limiter.StartSweeper(cfg.RateLimit.SweepInterval, 4*ratelimit.LargestWindow())
	defer limiter.Stop()

	tokens := auth.NewTokenManager(secret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	guard := security.NewCSRFGuard(cfg.Session.MaxLifetime)

	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:          userRepo,
		PasswordResetRepo: resetRepo,
		Sessions:          sessions,
		Tokens:            tokens,
		Cipher:            cipher,
		Logger:            logger,
		BcryptCost:        cfg.Auth.BcryptCost,
		ResetTokenTTL:     cfg.Auth.ResetTokenTTL,
	})
	authMiddleware := auth.NewMiddleware(tokens, sessions, metrics, logger)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService, limiter, logger),
		Sessions:       handlers.NewSessionsHandler(authService),
		AuthMiddleware: authMiddleware,
		Limiter:        limiter,
		CSRFGuard:      guard,
		Metrics:        metrics,
		Logger:         logger,
		SecureCookies:  hardened,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
