// Package main is the AGP Studio gateway: one binary that persists
// projects, brokers the web UI over WebSocket, supervises the engine and
// modeler processes and runs AI CLI sessions against them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/config"
	"github.com/agpstudio/agp/internal/common/httpmw"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/eventlog"
)

func main() {
	// .env is optional; real config comes from AGP_* env vars and the
	// config file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting AGP gateway...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanups := make([]func() error, 0, 2)
	runCleanups := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](); err != nil {
				log.Error("Cleanup error", zap.Error(err))
			}
		}
	}

	eventBus, cleanup, err := provideEventBus(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	cleanups = append(cleanups, cleanup)

	repo, cleanup, err := provideRepository(cfg, log)
	if err != nil {
		runCleanups()
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	cleanups = append(cleanups, cleanup)

	settingsSvc := provideSettings(cfg, log)
	sup := provideSupervisor(ctx, cfg, settingsSvc, eventBus, log)

	services, err := provideServices(log, repo, eventBus, settingsSvc, sup)
	if err != nil {
		runCleanups()
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	eventlog.RegisterRecorder(ctx, eventBus, repo, log)

	runtime, err := provideAgentRuntime(cfg, log, settingsSvc, repo, eventBus, sup, services.Projects, services.Contexts)
	if err != nil {
		runCleanups()
		log.Fatal("Failed to initialize agent runtime", zap.Error(err))
	}
	services.Contexts.SetAsker(newOneShotAsker(runtime.Sessions, settingsSvc))

	gateway := provideGateway(ctx, log, eventBus)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.CORS())
	router.Use(httpmw.OtelTracing("agp"))
	router.Use(httpmw.RequestLogger(log, "agp"))

	registerRoutes(routeParams{
		router:      router,
		gateway:     gateway,
		repo:        repo,
		services:    services,
		settingsSvc: settingsSvc,
		sup:         sup,
		runtime:     runtime,
		eventBus:    eventBus,
		log:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Gateway listening",
			zap.String("addr", addr),
			zap.String("websocket", "/ws"),
			zap.String("http", "/api/v1"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	runGracefulShutdown(server, runtime, sup, runtime.MCP, runCleanups, log)
}
