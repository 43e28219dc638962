package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/api"
	"github.com/joaquinllenado/recurve-ai/internal/auth"
	"github.com/joaquinllenado/recurve-ai/internal/logging"
	"github.com/joaquinllenado/recurve-ai/internal/metrics"
	"github.com/joaquinllenado/recurve-ai/internal/recurve"
	"github.com/joaquinllenado/recurve-ai/internal/telemetry"
	"github.com/joaquinllenado/recurve-ai/pkg/config"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("recurve v%s\n", version)
		return
	}

	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", *configPath, err)
	}

	logManager := logging.NewManager(logging.MaxBufferSize)
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, logManager)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if !fromFile {
		logger.Info("config file not found, using defaults", zap.String("path", *configPath))
	}

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTelemetry(context.Background(),
			cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, version, logger)
		if err != nil {
			logger.Warn("failed to initialize telemetry", zap.Error(err))
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					logger.Warn("error shutting down telemetry", zap.Error(err))
				}
			}()
		}
	}

	m := metrics.NewMetrics()
	agent, err := recurve.New(cfg,
		recurve.WithLogger(logger),
		recurve.WithLogManager(logManager),
		recurve.WithMetrics(m))
	if err != nil {
		logger.Fatal("failed to create agent", zap.Error(err))
	}
	defer agent.Shutdown()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agent.Start(runCtx); err != nil {
		logger.Fatal("failed to start agent", zap.Error(err))
	}

	if cfg.HotReload.Enabled && fromFile {
		go func() {
			if err := config.Watch(runCtx, *configPath, logger, agent.ApplyConfig); err != nil {
				logger.Warn("config hot reload disabled", zap.Error(err))
			}
		}()
	}

	authManager := auth.NewManager(cfg.Security.JWTSecret, cfg.Security.APIKeys, logger)
	apiServer := api.NewServer(agent, authManager, cfg, m, logger)
	handler := apiServer.SetupRoutes()

	// Wrap handler with OpenTelemetry instrumentation
	handler = otelhttp.NewHandler(handler, "recurve-http-server")

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("recurve API listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
}

// loadConfig reads path when it exists and falls back to the defaults
// otherwise. Environment overrides apply either way.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.LoadConfigFromFile(path)
	fromFile := true
	if errors.Is(err, os.ErrNotExist) {
		cfg, err, fromFile = config.DefaultConfig(), nil, false
	}
	if err != nil {
		return nil, false, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, fromFile, nil
}
