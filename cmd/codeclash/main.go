// CodeClash arena server: HTTP API, websocket fan-out, matchmaking,
// sandboxed judging, and the match lifecycle services.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeclash-io/codeclash/pkg/api"
	"github.com/codeclash-io/codeclash/pkg/cleanup"
	"github.com/codeclash-io/codeclash/pkg/coach"
	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/database"
	"github.com/codeclash-io/codeclash/pkg/events"
	"github.com/codeclash-io/codeclash/pkg/execqueue"
	"github.com/codeclash-io/codeclash/pkg/game"
	"github.com/codeclash-io/codeclash/pkg/judge0"
	"github.com/codeclash-io/codeclash/pkg/judging"
	"github.com/codeclash-io/codeclash/pkg/leaderboard"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/matchmaking"
	"github.com/codeclash-io/codeclash/pkg/ratelimit"
	"github.com/codeclash-io/codeclash/pkg/sandbox"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/pkg/store"
	"github.com/codeclash-io/codeclash/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting CodeClash arena server",
		"version", version.Version,
		"port", cfg.Port,
		"judge_backend", cfg.JudgeBackend)

	ctx := context.Background()

	// Persistent store (runs embedded migrations on connect).
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// Ephemeral store.
	st, err := store.New(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()
	slog.Info("Connected to redis")

	limiter := ratelimit.New(st)

	// Execution backend, selected by configuration.
	var backend execqueue.Backend
	switch cfg.JudgeBackend {
	case config.JudgeBackendJudge0:
		backend = judge0.NewClient(cfg.Judge0)
		slog.Info("Using cloud judge backend", "base_url", cfg.Judge0.BaseURL)
	default:
		executor, err := sandbox.NewExecutor(ctx, cfg.Sandbox)
		if err != nil {
			slog.Error("Failed to initialize sandbox executor", "error", err)
			os.Exit(1)
		}
		defer executor.Close()
		backend = executor
		slog.Info("Using docker sandbox backend")
	}

	execQueue := execqueue.New(backend, cfg.ExecQueue)
	execQueue.Start(ctx)

	// Domain services.
	db := dbClient.DB()
	userService := services.NewUserService(db, cfg.JWTSecret)
	challengeService := services.NewChallengeService(db)
	matchService := services.NewMatchService(db, userService)

	board := leaderboard.New(st)
	engine := judging.NewEngine(backend, nil)
	machine := match.NewMachine(st, matchService, challengeService, engine, board)
	matchService.SetSeeder(machine)

	// Fan-out layer: all sends route through the pub/sub bridge so every
	// replica delivers to its own connections.
	publisher := events.NewPublisher(st)
	manager := events.NewConnectionManager(publisher, 10*time.Second)
	listener := events.NewListener(st, manager)
	listener.Start(ctx)
	throttle := events.NewThrottle(publisher)

	coordinator := game.NewCoordinator(manager, machine, challengeService, limiter, throttle, matchService)
	manager.SetHandler(coordinator)
	machine.SetEmitter(coordinator)
	slog.Info("Fan-out layer initialized")

	// Matchmaking and cleanup loops.
	queue := matchmaking.NewQueue(st)
	processor := matchmaking.NewProcessor(queue, challengeService, matchService, coordinator, cfg.Matchmaking)
	processor.Start(ctx)

	cleaner := cleanup.NewService(matchService, challengeService, machine, cfg.Cleanup)
	cleaner.Start(ctx)

	// Coaching.
	provider := coach.NewHTTPProvider(cfg.AIProvider)
	var coachProvider coach.Provider
	if provider != nil {
		coachProvider = provider
		slog.Info("AI coach provider configured", "base_url", cfg.AIProvider.BaseURL)
	} else {
		slog.Info("No AI coach provider configured, using deterministic fallbacks")
	}
	coachService := coach.NewService(db, coachProvider, limiter)

	// HTTP server.
	server := api.NewServer(cfg, api.Deps{
		Users:      userService,
		Challenges: challengeService,
		Matches:    matchService,
		Machine:    machine,
		Queue:      queue,
		ExecQueue:  execQueue,
		Board:      board,
		Coach:      coachService,
		Limiter:    limiter,
		Manager:    manager,
		Store:      st,
		DB:         db,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()
	slog.Info("CodeClash started successfully", "workers", cfg.ExecQueue.WorkerCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Graceful shutdown: stop producing work, drain the queue, then close the
	// delivery path and the HTTP listener.
	processor.Stop()
	cleaner.Stop()
	execQueue.Stop()
	listener.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	slog.Info("CodeClash shut down cleanly")
}
