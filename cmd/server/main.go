/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger engine's HTTP facade. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (optionally a YAML config file)
  2. Build the zap logger
  3. Open the SQLite key-value store
  4. Load the engine (runs the schema migration gate)
  5. Configure the chi router
  6. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: ledger.db)
           Use ":memory:" for an in-memory database
  -config  Optional YAML config file; flags win over file values

CONFIG FILE:
  port: 8080
  db: ./data/ledger.db
  retention: 10        # snapshots kept per kind on startup prune
  log_level: info      # debug | info | warn | error

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait for active
  requests (30s timeout), close the store, exit.

SEE ALSO:
  - api/server.go: Router configuration
  - engine/engine.go: The library this serves
*/
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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/engine"
	"github.com/warp/ledger-engine/kvstore/sqlite"
)

type config struct {
	Port      int    `yaml:"port"`
	DB        string `yaml:"db"`
	Retention int    `yaml:"retention"`
	LogLevel  string `yaml:"log_level"`
}

func defaultConfig() config {
	return config{Port: 8080, DB: "ledger.db", Retention: 10, LogLevel: "info"}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize the durable store
	store, err := sqlite.New(cfg.DB)
	if err != nil {
		logger.Fatal("failed to open database", zap.String("path", cfg.DB), zap.Error(err))
	}
	defer store.Close()

	// Load the engine (migration gate runs here)
	eng, err := engine.Load(context.Background(), store, logger)
	if err != nil {
		logger.Fatal("failed to load engine", zap.Error(err))
	}

	// Startup retention pass over old snapshots
	if cfg.Retention > 0 {
		if removed, err := eng.PruneBackups(context.Background(), cfg.Retention); err != nil {
			logger.Warn("snapshot prune failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("pruned old snapshots", zap.Int("removed", removed))
		}
	}

	router := api.NewRouter(api.NewHandler(eng))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
