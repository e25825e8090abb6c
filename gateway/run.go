// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"axonflow/erplink/erp/base"
	"axonflow/erplink/erp/config"
	"axonflow/erplink/erp/dispatch"
	"axonflow/erplink/erp/fieldmap"
	"axonflow/erplink/erp/idempotency"
	"axonflow/erplink/erp/session"
	"axonflow/erplink/shared/logger"
)

// Run loads configuration, assembles the client core, registers the
// entity tools and serves HTTP until SIGINT/SIGTERM. It is the entry
// point called by cmd/erplink.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New("gateway", cfg.LogLevel)

	redact := base.NewRedactor(cfg.Password, cfg.Token, cfg.Tenant)

	sessions, err := session.NewManager(session.Config{
		BaseURL:         cfg.BaseURL,
		EndpointName:    cfg.EndpointName,
		EndpointVersion: cfg.EndpointVersion,
		Mode:            cfg.AuthMode,
		Username:        cfg.Username,
		Password:        cfg.Password,
		Locale:          cfg.Locale,
		Token:           cfg.Token,
		Tenant:          tenantOrDefault(cfg),
		Branch:          cfg.Branch,
		Logger:          logger.New("erp-session", cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	var fields *fieldmap.Store
	if cfg.FieldMapFile != "" {
		m, err := fieldmap.Load(cfg.FieldMapFile)
		if err != nil {
			return fmt.Errorf("failed to load field map: %w", err)
		}
		fields = fieldmap.NewStore(m, cfg.FieldMapFile)
		log.Info("", "field map loaded", map[string]any{"file": cfg.FieldMapFile})
	}

	retry := dispatch.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries

	var limiter *dispatch.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = dispatch.NewRateLimiter(cfg.RateLimitRPS, int(cfg.RateLimitRPS)+1)
	}

	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		Sessions:      sessions,
		Fields:        fields,
		Retry:         retry,
		RateLimit:     limiter,
		MaxConcurrent: cfg.MaxConcurrent,
		Redactor:      redact,
		Logger:        logger.New("erp-dispatch", cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	var cache idempotency.Cache
	if cfg.RedisURL != "" {
		rc, err := idempotency.NewRedisCache(cfg.RedisURL, 0)
		if err != nil {
			// The remote lookup still dedupes; run without the cache.
			log.Warn("", "idempotency cache unavailable", map[string]any{"error": redact.Err(err)})
		} else {
			cache = rc
			defer func() { _ = rc.Close() }()
		}
	}

	guard, err := idempotency.NewGuard(idempotency.Config{
		Dispatcher: dispatcher,
		RefField:   cfg.ExternalRefField,
		Cache:      cache,
		Logger:     logger.New("erp-idempotency", cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to create idempotency guard: %w", err)
	}

	reg := NewRegistry(logger.New("gateway-registry", cfg.LogLevel))
	backend := &Backend{Dispatcher: dispatcher, Guard: guard, PageSize: cfg.PageSize}
	for _, entity := range cfg.Entities {
		if err := RegisterEntityTools(reg, backend, entity); err != nil {
			return fmt.Errorf("failed to register tools for %s: %w", entity, err)
		}
	}
	log.Info("", "tools registered", map[string]any{"count": len(reg.List())})

	srv := NewServer(ServerConfig{
		Registry:    reg,
		Policy:      NewCapabilityPolicy("admin", "operator"),
		Sessions:    sessions,
		Fields:      fields,
		ContractURL: cfg.ContractURL,
		DefaultRole: cfg.DefaultRole,
		Redactor:    redact,
		Logger:      log,
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "gateway listening", map[string]any{"port": cfg.Port})
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("", "shutting down", map[string]any{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn("", "shutdown did not complete cleanly", map[string]any{"error": err.Error()})
	}
	if err := sessions.Logout(ctx); err != nil {
		log.Warn("", "remote logout failed", map[string]any{"error": redact.Err(err)})
	}
	return nil
}

func tenantOrDefault(cfg *config.Config) string {
	if cfg.Tenant != "" {
		return cfg.Tenant
	}
	return cfg.DefaultTenant
}
