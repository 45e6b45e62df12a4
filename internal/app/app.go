package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"go-auth-service/internal/config"
	"go-auth-service/internal/database"
	"go-auth-service/internal/event"
	"go-auth-service/internal/handler"
	"go-auth-service/internal/middleware"
	"go-auth-service/internal/repository"
	"go-auth-service/internal/router"
	"go-auth-service/internal/security"
	"go-auth-service/internal/service"
)

type App struct {
	cfg          *config.Config
	server       *http.Server
	refresh      *service.RefreshTokenService
	cleanupFuncs []func()
}

type pingableUserStore interface {
	service.UserStore
	Ping(ctx context.Context) error
}

type stores struct {
	users  pingableUserStore
	tokens service.RefreshTokenStore
	audit  service.AuditStore
	close  func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, database.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		return &stores{
			users:  repository.NewUserRepository(db.Pool),
			tokens: repository.NewTokenRepository(db.Pool),
			audit:  repository.NewAuditRepository(db.Pool),
			close:  db.Close,
		}, nil
	default:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return &stores{
			users:  repository.NewSQLiteUserRepository(db),
			tokens: repository.NewSQLiteTokenRepository(db),
			audit:  repository.NewSQLiteAuditRepository(db),
			close:  func() { closeSQLite(db) },
		}, nil
	}
}

func closeSQLite(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("sqlite close failed", "error", err)
	}
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("credential store ready", "driver", cfg.DatabaseDriver)

	cleanupFuncs := []func(){st.close}
	fail := func(err error) (*App, error) {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
		return nil, err
	}

	hasher, err := security.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize password hasher: %w", err))
	}
	codec, err := security.NewAccessTokenCodec(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize access token codec: %w", err))
	}

	bus := event.NewBus()
	eventsCtx, eventsCancel := context.WithCancel(context.Background())
	cleanupFuncs = append(cleanupFuncs, eventsCancel)
	if cfg.RabbitMQURL != "" {
		forwarder, err := event.DialAMQPForwarder(cfg.RabbitMQURL, cfg.EventsExchange)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to RabbitMQ: %w", err))
		}
		cleanupFuncs = append(cleanupFuncs, func() {
			if err := forwarder.Close(); err != nil {
				slog.Warn("amqp close failed", "error", err)
			}
		})
		go forwarder.Run(eventsCtx, bus)
		slog.Info("security events forwarded", "exchange", cfg.EventsExchange)
	}

	auditService := service.NewAuditService(st.audit)
	refreshService := service.NewRefreshTokenService(st.tokens, st.users, cfg.RefreshTokenTTL)
	authService := service.NewAuthService(st.users, hasher, codec, refreshService, auditService, bus, cfg.RefreshTokenRotation)
	userService := service.NewUserService(st.users, hasher, auditService, bus)

	if err := userService.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
		return fail(fmt.Errorf("failed to create bootstrap admin: %w", err))
	}

	clientIP, err := middleware.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		return fail(fmt.Errorf("failed to parse trusted proxies: %w", err))
	}
	if len(cfg.TrustedProxies) > 0 {
		slog.Info("forwarding headers trusted", "proxies", cfg.TrustedProxies)
	}

	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		pingErr := client.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			_ = client.Close()
			return fail(fmt.Errorf("failed to connect to Redis: %w", pingErr))
		}
		cleanupFuncs = append(cleanupFuncs, func() { _ = client.Close() })
		rateLimit = middleware.NewDistributedRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM,
			middleware.NewRedisLimiter(client, "auth-service:ratelimit"))
		slog.Info("rate limiting shared through Redis", "addr", cfg.RedisAddr)
	}

	appRouter := router.New(cfg, clientIP, middleware.NewAuthMiddleware(authService), rateLimit, router.Handlers{
		Auth:   handler.NewAuthHandler(authService, userService),
		User:   handler.NewUserHandler(userService),
		Audit:  handler.NewAuditHandler(auditService),
		Health: handler.NewHealthHandler(st.users),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		cfg:          cfg,
		server:       server,
		refresh:      refreshService,
		cleanupFuncs: cleanupFuncs,
	}, nil
}

// startCleanupTicker purges refresh tokens that expired more than the
// retention period ago. A zero retention keeps every row.
func (a *App) startCleanupTicker(ctx context.Context) {
	if a.cfg.RefreshTokenRetention <= 0 {
		return
	}

	ticker := time.NewTicker(a.cfg.TokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := a.refresh.PurgeExpired(ctx, a.cfg.RefreshTokenRetention)
			if err != nil {
				slog.Warn("refresh token cleanup failed", "error", err)
				continue
			}
			if purged > 0 {
				slog.Info("refresh tokens purged", "count", purged)
			}
		}
	}
}

func (a *App) Run() error {
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go a.startCleanupTicker(cleanupCtx)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr,
			"refresh_rotation", a.cfg.RefreshTokenRotation, "driver", a.cfg.DatabaseDriver)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-stop:
	case runErr = <-serveErr:
		slog.Error("server failed", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}

	cleanupCancel()
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}

	slog.Info("server stopped")
	return runErr
}
