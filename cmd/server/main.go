package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/config"
	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/api"
	"github.com/gruntyhq/grunty/pkg/auth"
	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/k8s"
	"github.com/gruntyhq/grunty/pkg/llm"
	"github.com/gruntyhq/grunty/pkg/metrics"
	"github.com/gruntyhq/grunty/pkg/orchestrator"
	"github.com/gruntyhq/grunty/pkg/proxy"
	"github.com/gruntyhq/grunty/pkg/ratelimit"
	"github.com/gruntyhq/grunty/pkg/sandbox"
	"github.com/gruntyhq/grunty/pkg/storage"
	"github.com/gruntyhq/grunty/pkg/usage"
	"github.com/gruntyhq/grunty/pkg/users"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	// Local development convenience; absent .env is fine.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		//nolint:errcheck // Best effort sync on shutdown, ignore error
		log.Sync()
	}()

	log.Info("starting grunty server", zap.String("version", "1.0.0"))

	// Initialize database
	db, err := database.NewDB(log.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	log.Info("database initialized")

	ctx := context.Background()

	// Core services
	userService := users.NewService(db, log.Logger)
	authService := auth.NewService(userService, cfg.Auth.Secret, log.Logger)
	usageService := usage.NewService(userService, log.Logger)

	// Object storage
	storageService, err := storage.NewService(ctx, cfg.Storage.Bucket, cfg.Storage.Region, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// LLM client
	llmClient, err := llm.NewClient(ctx, os.Getenv("GEMINI_API_KEY"), cfg.LLM, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize llm client: %w", err)
	}
	defer llmClient.Close()

	// Kubernetes client
	k8sClient, err := k8s.NewClient(cfg.Kubernetes.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	if err := k8sClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("kubernetes health check failed: %w", err)
	}

	version, err := k8sClient.GetServerVersion(ctx)
	if err != nil {
		log.Warn("failed to get kubernetes version", zap.Error(err))
	} else {
		log.Info("connected to kubernetes", zap.String("version", version))
	}

	var k8sInterface k8s.ClientInterface = k8sClient

	// Sandbox manager with background reaper
	sandboxManager := sandbox.NewManager(db, k8sInterface, cfg.Sandbox, cfg.Kubernetes, log.Logger)
	sandboxManager.StartJanitor(time.Minute)
	defer sandboxManager.Stop()

	// Generation pipeline
	orch := orchestrator.New(db, llmClient, sandboxManager, storageService, usageService, cfg.Limits, log.Logger)

	// Log stream proxy
	proxyHandler := proxy.NewProxy(k8sInterface, log)

	// Metrics collector
	metricsCollector := metrics.NewCollector(db, k8sInterface, log.Logger)
	metricsCollector.Start(ctx)
	defer metricsCollector.Stop()

	// Per-user rate limit on the generation stream
	limiter := ratelimit.NewLimiter(cfg.Limits.StreamRequestsPerMinute, time.Minute)

	// Handlers
	base := api.NewHandler(k8sInterface, log)
	routerConfig := &api.RouterConfig{
		Base:        base,
		Auth:        api.NewAuthHandler(base, authService, userService, log),
		Chats:       api.NewChatHandler(base, db, orch, limiter, log),
		Files:       api.NewFileHandler(base, db, storageService, cfg.Limits, log),
		Apps:        api.NewAppHandler(base, db, storageService, orch, log),
		Sandboxes:   api.NewSandboxHandler(base, db, sandboxManager, log),
		Users:       api.NewUserHandler(base, usageService, log),
		AuthService: authService,
		Proxy:       proxyHandler,
	}
	router := api.NewRouter(routerConfig)

	// Create HTTP server. Write timeout is generous because generation
	// streams stay open for the whole turn.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutting down server...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
