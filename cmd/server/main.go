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

	"github.com/mir00r/grace-cache/internal/config"
	"github.com/mir00r/grace-cache/pkg/logger"
)

const (
	shutdownTimeout = 30 * time.Second
)

// getConfigSource returns the configuration source for logging
func getConfigSource() string {
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			return "file+env"
		}
	}

	envVars := []string{
		"CACHE_PORT", "CACHE_BACKEND_HOST", "CACHE_BACKEND_PORT",
		"CACHE_DEFAULT_HOST", "CACHE_STORAGE_DRIVER", "CACHE_LOG_LEVEL",
	}
	for _, envVar := range envVars {
		if os.Getenv(envVar) != "" {
			return "environment"
		}
	}

	return "defaults"
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
}

func main() {
	if checkIfAdminMode() {
		runAdminProcess()
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"version":       version,
		"backend":       fmt.Sprintf("%s:%d", cfg.Backend.Host, cfg.Backend.Port),
		"default_host":  cfg.Hosts.Default,
		"storage":       cfg.Storage.Driver,
		"ttl":           cfg.Cache.TTL.String(),
		"grace":         cfg.EffectiveGrace().String(),
		"config_source": getConfigSource(),
		"process":       getProcessInfo(),
	}).Info("Starting grace cache")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build cache")
	}
	if err := a.start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start cache")
	}

	port := getPort(cfg.Server.Port)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("port", port).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error shutting down HTTP server")
	}

	cancel()
	a.stop(shutdownCtx)

	log.Info("Grace cache stopped gracefully")
}
