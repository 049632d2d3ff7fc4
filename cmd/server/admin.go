package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mir00r/grace-cache/internal/config"
	"github.com/mir00r/grace-cache/internal/infrastructure"
	"github.com/mir00r/grace-cache/internal/middleware"
	"github.com/mir00r/grace-cache/internal/service"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// runHealthCheck fills the backend's probe window once and reports the
// resulting health.
func runHealthCheck() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	backend := cfg.ToBackend()
	probe := cfg.ToProbeConfig()
	checker := service.NewHealthChecker(probe, infrastructure.NewHTTPProber(cfg.Hosts.Default), nil, log)

	fmt.Printf("Probing %s %d times...\n", backend.URL(), probe.Window)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probe.Window)*probe.Timeout+5*time.Second)
	defer cancel()

	for i := 0; i < probe.Window; i++ {
		outcome := checker.Check(ctx, backend)
		fmt.Printf("  probe %d: %t\n", i+1, outcome)
	}

	snapshot := backend.Window().Snapshot()
	fmt.Printf("Backend %s (%s): %s (%d/%d good, threshold %d)\n",
		backend.ID, backend.URL(), backend.GetStatus(), snapshot.Good, snapshot.Size, snapshot.Threshold)
	if !snapshot.Healthy {
		return fmt.Errorf("backend %s is sick", backend.ID)
	}
	return nil
}

// runConfigValidation validates the current configuration
func runConfigValidation() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if _, err := service.NewAccessMatcher(cfg.AccessLists); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("Configuration validation passed")
	fmt.Printf("Port: %d\n", cfg.Server.Port)
	fmt.Printf("Backend: %s:%d\n", cfg.Backend.Host, cfg.Backend.Port)
	fmt.Printf("Hosts: %v (default %s)\n", cfg.Hosts.Canonical, cfg.Hosts.Default)
	fmt.Printf("TTL: %s, grace: %s\n", cfg.Cache.TTL, cfg.EffectiveGrace())
	fmt.Printf("Storage: %s\n", cfg.Storage.Driver)
	fmt.Printf("Probing: %t (window %d, threshold %d)\n", cfg.Probe.Enabled, cfg.Probe.Window, cfg.Probe.Threshold)
	fmt.Printf("Retry attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("Rate Limiting: %t\n", cfg.RateLimit.Enabled)
	fmt.Printf("Circuit Breaker: %t\n", cfg.CircuitBreaker.Enabled)

	return nil
}

// runIssueToken prints an admin API token signed with the configured secret
func runIssueToken() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Admin.JWTSecret == "" {
		return fmt.Errorf("admin.jwt_secret is not configured")
	}

	jwtAuth, err := middleware.NewJWTAuthMiddleware(cfg.Admin.JWTSecret, logger.NewNop())
	if err != nil {
		return err
	}
	token, err := jwtAuth.IssueToken("admin-cli", []string{"admin"}, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// runAdminProcess handles admin process execution
func runAdminProcess() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: grace-cache -admin <command>")
		fmt.Println("Commands:")
		fmt.Println("  health-check    - Probe the backend and report its health")
		fmt.Println("  validate-config - Validate configuration")
		fmt.Println("  issue-token     - Print an admin API token")
		os.Exit(1)
	}

	command := os.Args[2]
	var err error

	switch command {
	case "health-check":
		err = runHealthCheck()
	case "validate-config", "validate":
		err = runConfigValidation()
	case "issue-token":
		err = runIssueToken()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command failed: %v\n", err)
		os.Exit(1)
	}
}

// checkIfAdminMode checks if running in admin mode
func checkIfAdminMode() bool {
	for _, arg := range os.Args {
		if arg == "-admin" {
			return true
		}
	}
	return false
}
