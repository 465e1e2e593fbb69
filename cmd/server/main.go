package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"timetracker-backend/internal/changefeed"
	"timetracker-backend/internal/config"
	"timetracker-backend/internal/database"
	"timetracker-backend/internal/handlers"
	"timetracker-backend/internal/identity"
	"timetracker-backend/internal/locale"
	"timetracker-backend/internal/logger"
	"timetracker-backend/internal/middleware"
	"timetracker-backend/internal/relay"
	"timetracker-backend/internal/repository"
	"timetracker-backend/internal/router"
	"timetracker-backend/internal/services"
	"timetracker-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Configuration invalid: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("timetracker-backend", cfg.LogLevel, cfg.IsDevelopment())
	logger.SetGlobal(log)
	log.Info().Msg("🚀 Starting Timetracker Backend...")
	log.Info().Msg("✓ Environment variables loaded")

	// ──── Step 2: Open the Store ────
	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("✗ Store initialization failed")
	}
	defer closeStore()

	// ──── Step 3: Open the Change Feed ────
	feed, closeFeed, err := openFeed(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("✗ Change feed initialization failed")
	}
	defer closeFeed()

	catalog, err := locale.Load(cfg.DefaultLocale)
	if err != nil {
		log.Fatal().Err(err).Msg("✗ Locale catalog failed to load")
	}
	log.Info().Str("fallback", cfg.DefaultLocale).Msg("✓ Locale catalog loaded")

	// ──── Initialize Services ────
	autosave := services.NewAutosaveController(store, feed, services.AutosaveOptions{
		Delay:   cfg.AutosaveDelay,
		Settle:  cfg.AutosaveSettle,
		Timeout: cfg.RequestTimeout,
	}, log)
	timer := services.NewTimerService(store, feed, catalog, autosave, services.TimerOptions{
		RequestTimeout: cfg.RequestTimeout,
		DriftTolerance: cfg.ElapsedDriftTolerance,
	}, log)
	entries := services.NewEntryService(store, cfg.RequestTimeout, log)
	changeRelay := relay.New(feed, timer, log)

	jwt := identity.NewJWTProvider(cfg.HostJWTSecret)
	resolver := identity.NewResolver(store)
	auth := middleware.NewIdentityAuth(jwt, resolver, log)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)

	// ──── Initialize Handlers ────
	wsHub := websocket.NewHub(changeRelay, cfg.SSEKeepAlive, log)
	streams := handlers.NewStreamHandler(changeRelay, cfg.SSEKeepAlive, log)
	r := router.New(router.Deps{
		Store:         store,
		Auth:          auth,
		Limiter:       limiter,
		Timer:         handlers.NewTimerHandler(timer, autosave, catalog),
		Entries:       handlers.NewEntryHandler(entries),
		Users:         handlers.NewUserHandler(resolver),
		Stream:        streams,
		Hub:           wsHub,
		AllowedOrigin: cfg.FrontendURL,
		Log:           log,
	})

	// ──── Step 4: Start Draft Sweeper ────
	sweeper := services.NewDraftSweeper(store, cfg.DraftSweepInterval, cfg.DraftMaxAge, log)
	sweeper.Start()
	log.Info().Dur("interval", cfg.DraftSweepInterval).Msg("✓ Draft sweeper started")

	// ──── Step 5: Start HTTP Server ────
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Push streams never finish on their own.
	server.RegisterOnShutdown(streams.Close)
	server.RegisterOnShutdown(wsHub.Close)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msgf("✓ Timetracker Backend ready on http://localhost:%s", cfg.Port)
		log.Info().Msgf("  API: http://localhost:%s/api/v1", cfg.Port)
		log.Info().Msgf("  SSE: http://localhost:%s/api/v1/timer/stream", cfg.Port)
		log.Info().Msgf("  WS:  ws://localhost:%s/api/v1/timer/ws", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		sweeper.Stop()
		autosave.Stop()
		limiter.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return
	}
	log.Info().Msg("✓ Shutdown complete")
}

func openStore(cfg *config.Config, log zerolog.Logger) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		db, err := database.NewSQLiteDB(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("SQLite open: %w", err)
		}
		if err := database.RunSQLiteMigrations(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("SQLite migrations: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("✓ SQLite opened, migrations applied")
		return repository.NewSQLiteStore(db), func() { db.Close() }, nil
	default:
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("PostgreSQL connection: %w", err)
		}
		log.Info().Msg("✓ PostgreSQL connected")
		if err := database.RunPostgresMigrations(pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("PostgreSQL migrations: %w", err)
		}
		log.Info().Msg("✓ Database migrations applied")
		return repository.NewPostgresStore(pool), pool.Close, nil
	}
}

func openFeed(cfg *config.Config, log zerolog.Logger) (changefeed.Feed, func(), error) {
	switch cfg.FeedDriver {
	case config.FeedMemory:
		log.Info().Msg("✓ In-process change feed ready")
		return changefeed.NewMemoryFeed(64), func() {}, nil
	default:
		clients, err := database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("Redis connection: %w", err)
		}
		log.Info().Msg("✓ Redis connected")
		return changefeed.NewRedisFeed(clients.Publisher, clients.PubSub, log), clients.Close, nil
	}
}
