// Package main implements a mock MCP adapter for development and
// testing. It serves the backend's tool surface over the streamable
// HTTP transport at /mcp and answers every call with deterministic
// canned results, so the full chat/plan/timeline loop runs with no
// engine, no modeler and no real bridges. Pass bridge URLs to relay a
// tool family to a live bridge instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
)

var (
	portFlag       = flag.Int("port", 8767, "port to listen on")
	unityURLFlag   = flag.String("unity-url", "", "forward unity_* tools to this bridge WebSocket URL (e.g. ws://127.0.0.1:8765)")
	blenderURLFlag = flag.String("blender-url", "", "forward blender_* tools to this bridge WebSocket URL (e.g. ws://127.0.0.1:8766)")
	logLevelFlag   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormatFlag  = flag.String("log-format", "console", "log format (console, json)")
)

func main() {
	flag.Parse()

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      getEnvOrFlag("MOCK_ADAPTER_LOG_LEVEL", *logLevelFlag),
		Format:     getEnvOrFlag("MOCK_ADAPTER_LOG_FORMAT", *logFormatFlag),
		OutputPath: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	port := getEnvIntOrFlag("MOCK_ADAPTER_PORT", *portFlag)
	unityURL := getEnvOrFlag("MOCK_ADAPTER_UNITY_URL", *unityURLFlag)
	blenderURL := getEnvOrFlag("MOCK_ADAPTER_BLENDER_URL", *blenderURLFlag)

	if err := run(port, unityURL, blenderURL, log); err != nil {
		log.Error("mock-adapter failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(port int, unityURL, blenderURL string, log *logger.Logger) error {
	mcpServer := server.NewMCPServer(
		"agp-mock-adapter",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, newResponder(log, unityURL, blenderURL), log)

	streamable := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamable)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"mock-adapter"}`))
	})

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{Handler: mux}

	go func() {
		log.Info("mock adapter listening",
			zap.String("addr", addr),
			zap.String("endpoint", "/mcp"),
			zap.String("unity_url", unityURL),
			zap.String("blender_url", blenderURL))
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("mock adapter server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mock adapter")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down the http server: %w", err)
	}
	if err := streamable.Shutdown(ctx); err != nil {
		log.Warn("failed to shut down the streamable server", zap.Error(err))
	}
	return nil
}

// getEnvOrFlag returns the environment variable value if set, otherwise
// the flag value.
func getEnvOrFlag(envKey, flagValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return flagValue
}

// getEnvIntOrFlag returns the environment variable value as int if set,
// otherwise the flag value.
func getEnvIntOrFlag(envKey string, flagValue int) int {
	if v := os.Getenv(envKey); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return flagValue
}
