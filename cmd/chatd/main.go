package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/chatrelay/internal/config"
	"github.com/mohamedkhairy/chatrelay/internal/gateway"
	"github.com/mohamedkhairy/chatrelay/internal/supervisor"
	"github.com/mohamedkhairy/chatrelay/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// The same binary runs the pool supervisor and the workers it spawns;
	// spawned workers carry CHATD_WORKER in their environment.
	if os.Getenv("CHATD_WORKER") == "" && cfg.Supervisor.Workers > 1 {
		runSupervisor(cfg)
		return
	}
	runWorker(cfg)
}

func runSupervisor(cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg.Supervisor)
	if err := sup.Run(ctx); err != nil {
		logger.Fatal("Supervisor failed", logger.ErrorField(err))
	}
}

func runWorker(cfg *config.Config) {
	logger.Info("Starting chat relay worker",
		logger.Int("port", cfg.Gateway.Port),
		logger.String("worker", os.Getenv("CHATD_WORKER")),
		logger.String("admin_id", cfg.Gateway.AdminID),
	)

	hub := gateway.NewHub(cfg.Gateway)
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start hub", logger.ErrorField(err))
	}

	upgrader := websocket.Upgrader{
		CheckOrigin:     originChecker(cfg.Gateway.UpstreamBaseURL),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	router := mux.NewRouter()

	// WebSocket endpoint
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Failed to upgrade connection", logger.ErrorField(err))
			return
		}
		hub.HandleConnection(conn, r.RemoteAddr)
	})

	// Health check endpoint
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Stats endpoint
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.Stats())
	})

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", logger.ErrorField(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Report counters to the supervisor when running under one
	if pipe := supervisor.StatsPipe(); pipe != nil {
		go supervisor.ReportLoop(ctx, pipe, cfg.Supervisor.StatsInterval, hub.Stats)
	}

	<-ctx.Done()
	logger.Info("Shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", logger.ErrorField(err))
	}
	if err := hub.Shutdown(cfg.Gateway.ShutdownGrace); err != nil {
		logger.Error("Error shutting down hub", logger.ErrorField(err))
	}

	logger.Info("Worker stopped")
}

// originChecker allows upgrades from the configured web application origin.
// An empty base URL allows all origins (single-host deployments terminate
// cross-origin concerns upstream).
func originChecker(upstreamBaseURL string) func(*http.Request) bool {
	if upstreamBaseURL == "" {
		return func(*http.Request) bool { return true }
	}

	allowed, err := url.Parse(upstreamBaseURL)
	if err != nil {
		logger.Warn("Invalid UPSTREAM_BASE_URL, allowing all origins",
			logger.String("url", upstreamBaseURL),
			logger.ErrorField(err),
		)
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return parsed.Host == allowed.Host
	}
}
