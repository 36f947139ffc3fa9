// Boilerd is a boiler diagnostics daemon with an HTTP API.
//
// It serves manufacturer normalization, fault-code resolution,
// conversation session state and an offline artifact cache.
//
// Configuration is loaded from environment variables, optionally layered
// over a YAML file. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	boilerd
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9090 ENGINE_SQLITE_PATH=/var/lib/boilerd/codes.db boilerd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hearthlabs/boilerd/internal/cache"
	"github.com/hearthlabs/boilerd/internal/config"
	"github.com/hearthlabs/boilerd/internal/faultcode"
	"github.com/hearthlabs/boilerd/internal/kv"
	"github.com/hearthlabs/boilerd/internal/manufacturer"
	"github.com/hearthlabs/boilerd/internal/offline"
	"github.com/hearthlabs/boilerd/internal/session"
	"github.com/hearthlabs/boilerd/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  boilerd            Start the boilerd daemon\n")
			fmt.Fprintf(os.Stderr, "  boilerd version    Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("boilerd by Hearth Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the boilerd server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Opens persistent storage and the optional SQLite lookup tier
//  4. Creates the normalizer, resolution engine, session store and
//     offline cache
//  5. Starts the background session sweep
//  6. Starts the HTTP server
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadWithFile(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
	} else {
		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting boilerd",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_dir", cfg.Storage.Dir),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	store, err := kv.NewFileStore(cfg.Storage.Dir, cfg.Storage.QuotaBytes)
	if err != nil {
		return fmt.Errorf("open storage dir %s: %w", cfg.Storage.Dir, err)
	}

	norm := manufacturer.NewDefaultNormalizer()

	engineOpts := []faultcode.Option{
		faultcode.WithCacheMetrics(cache.NewMetrics("faultcode_results")),
	}
	var sqliteSrc *faultcode.SQLiteSource
	if cfg.Engine.SQLitePath != "" {
		sqliteSrc, err = faultcode.OpenSQLiteSource(cfg.Engine.SQLitePath, logger)
		if err != nil {
			return fmt.Errorf("open sqlite source %s: %w", cfg.Engine.SQLitePath, err)
		}
		defer sqliteSrc.Close()
		engineOpts = append(engineOpts, faultcode.WithRemote(sqliteSrc))
		logger.Info("SQLite lookup tier enabled",
			zap.String("path", cfg.Engine.SQLitePath))
	}

	engine := faultcode.NewEngine(&faultcode.Config{
		CacheTTL:        cfg.Engine.CacheTTL,
		CacheMaxEntries: cfg.Engine.CacheMaxEntries,
	}, norm, logger, engineOpts...)

	sessions, err := session.NewStore(&session.Config{
		Timeout:       cfg.Session.Timeout,
		SweepInterval: cfg.Session.SweepInterval,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	sessions.Start(ctx)

	offlineCfg := offline.DefaultConfig()
	offlineCfg.MaxFaultCodes = cfg.Offline.MaxFaultCodes
	offlineCfg.MaxManuals = cfg.Offline.MaxManuals
	offlineCfg.CompressionThreshold = cfg.Offline.CompressionThreshold
	off, err := offline.NewCache(offlineCfg, store, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize offline cache: %w", err)
	}

	logger.Info("Services initialized",
		zap.Strings("manufacturers", manufacturer.Known()),
		zap.Bool("sqlite_tier", sqliteSrc != nil),
		zap.Duration("session_timeout", cfg.Session.Timeout))

	srv := server.NewServer(cfg, logger, server.Deps{
		Normalizer: norm,
		Engine:     engine,
		Sessions:   sessions,
		Offline:    off,
	})

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	// Start server (blocks until context cancellation)
	return srv.Start(ctx)
}

// initLogger initializes the structured logger from logging config.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var zapCfg zap.Config
	if cfg.Logging.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
