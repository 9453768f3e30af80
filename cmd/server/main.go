package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/app"
	"github.com/Freeeeeet/tutor_session/internal/auth"
	"github.com/Freeeeeet/tutor_session/internal/config"
	"github.com/Freeeeeet/tutor_session/internal/controller"
	"github.com/Freeeeeet/tutor_session/internal/notify"
	"github.com/Freeeeeet/tutor_session/internal/repository"
	"github.com/Freeeeeet/tutor_session/internal/repository/memory"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"github.com/Freeeeeet/tutor_session/internal/transport/rest"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type stores struct {
	requests service.RequestStore
	users    service.UserStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment, cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting tutor session service",
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.StoreBackend),
		zap.String("notify", cfg.NotifyBackend),
		zap.Duration("request_ttl", cfg.RequestTTL),
		zap.Bool("telegram", cfg.TelegramEnabled()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}

	logger.Info("Service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var pool *pgxpool.Pool
	if cfg.StoreBackend == config.StorePostgres {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return err
		}

		migrator, err := app.NewMigrator(pool, cfg.MigrationsPath, logger)
		if err != nil {
			return err
		}
		if err := migrator.Run(ctx); err != nil {
			_ = migrator.Close()
			return err
		}
		_ = migrator.Close()
	}

	st := newStores(cfg, pool)

	hub := notify.NewHub(logger.Named("hub"))
	defer hub.Close()

	bridge, cleanup, err := newBridge(cfg, pool, hub, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	handshake := service.NewHandshakeService(
		st.requests,
		st.users,
		bridge,
		hub,
		service.Options{RequestTTL: cfg.RequestTTL},
		logger.Named("handshake"),
	)
	users := service.NewUserService(st.users, logger.Named("users"))
	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)

	scheduler := app.NewScheduler(handshake, cfg.SweepInterval, logger.Named("scheduler"))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: rest.NewRouter(&rest.Container{
			Handshake: handshake,
			Users:     users,
			Tokens:    tokens,
			Logger:    logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bridge.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.TelegramEnabled() {
		b, err := bot.New(cfg.TelegramToken)
		if err != nil {
			return err
		}

		botController := controller.NewBotController(b, users, handshake, hub, logger.Named("bot"))
		if err := botController.RegisterHandlers(ctx); err != nil {
			logger.Warn("Bot commands menu not updated", zap.Error(err))
		}

		g.Go(func() error {
			return botController.Start(gctx)
		})
	}

	return g.Wait()
}

func newStores(cfg *config.Config, pool *pgxpool.Pool) stores {
	if cfg.StoreBackend == config.StoreMemory {
		mem := memory.NewStore()
		return stores{requests: mem, users: mem.Users()}
	}
	return stores{
		requests: repository.NewSessionRequestRepository(pool),
		users:    repository.NewUserRepository(pool),
	}
}

func newBridge(cfg *config.Config, pool *pgxpool.Pool, hub *notify.Hub, logger *zap.Logger) (notify.Bridge, func(), error) {
	switch cfg.NotifyBackend {
	case config.NotifyPostgres:
		return notify.NewPostgresBridge(pool, hub, cfg.NotifyChannel, logger.Named("pg_bridge")), func() {}, nil
	case config.NotifyRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cleanup := func() { _ = client.Close() }
		return notify.NewRedisBridge(client, hub, cfg.NotifyChannel, logger.Named("redis_bridge")), cleanup, nil
	default:
		return notify.NewLocalBridge(hub), func() {}, nil
	}
}
