// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package config loads the gateway configuration from environment
// variables. Each option has a single documented effect; nothing here is
// reinterpreted downstream.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"axonflow/erplink/erp/base"
)

// Config is the full configuration surface of the gateway.
type Config struct {
	// Remote system.
	BaseURL         string        // ERP_BASE_URL: remote ERP base URL (required)
	EndpointName    string        // ERP_ENDPOINT_NAME: named API surface, default "Default"
	EndpointVersion string        // ERP_ENDPOINT_VERSION: endpoint version, e.g. "24.200.001"
	AuthMode        base.AuthMode // ERP_AUTH_MODE: "session" or "oauth"
	Username        string        // ERP_USERNAME: session-mode login name
	Password        string        // ERP_PASSWORD: session-mode password
	Token           string        // ERP_TOKEN: oauth-mode bearer token
	Tenant          string        // ERP_TENANT: tenant/company partition
	Branch          string        // ERP_BRANCH: branch within the tenant
	Locale          string        // ERP_LOCALE: login locale, default "en-US"
	ContractURL     string        // ERP_CONTRACT_URL: optional machine-readable API description

	// Core behavior.
	FieldMapFile     string  // ERP_FIELD_MAP_FILE: tenant field map YAML, optional
	MaxRetries       int     // ERP_MAX_RETRIES: retry attempt ceiling, default 4
	MaxConcurrent    int     // ERP_MAX_CONCURRENT: in-flight dispatch ceiling, default 16
	RateLimitRPS     float64 // ERP_RATE_LIMIT_RPS: outbound requests/second, 0 disables
	PageSize         int     // ERP_PAGE_SIZE: search page size, default 100
	ExternalRefField string  // ERP_EXTERNAL_REF_FIELD: remote idempotency field, default "ExternalRef"
	RedisURL         string  // REDIS_URL: optional idempotency result cache
	Entities         []string // ERP_ENTITIES: comma-separated entities to expose as tools

	// Gateway surface.
	DefaultRole   string // DEFAULT_ROLE: role assumed when the caller sends none
	DefaultTenant string // DEFAULT_TENANT: tenant assumed when the caller sends none
	Port          string // PORT: HTTP listen port, default 8080
	LogLevel      string // LOG_LEVEL: DEBUG/INFO/WARN/ERROR, default INFO
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		BaseURL:          os.Getenv("ERP_BASE_URL"),
		EndpointName:     getEnv("ERP_ENDPOINT_NAME", "Default"),
		EndpointVersion:  os.Getenv("ERP_ENDPOINT_VERSION"),
		AuthMode:         base.AuthMode(getEnv("ERP_AUTH_MODE", string(base.AuthModeSession))),
		Username:         os.Getenv("ERP_USERNAME"),
		Password:         os.Getenv("ERP_PASSWORD"),
		Token:            os.Getenv("ERP_TOKEN"),
		Tenant:           os.Getenv("ERP_TENANT"),
		Branch:           os.Getenv("ERP_BRANCH"),
		Locale:           getEnv("ERP_LOCALE", "en-US"),
		ContractURL:      os.Getenv("ERP_CONTRACT_URL"),
		FieldMapFile:     os.Getenv("ERP_FIELD_MAP_FILE"),
		ExternalRefField: getEnv("ERP_EXTERNAL_REF_FIELD", "ExternalRef"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DefaultRole:      getEnv("DEFAULT_ROLE", "viewer"),
		DefaultTenant:    os.Getenv("DEFAULT_TENANT"),
		Port:             getEnv("PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
	}

	var err error
	if cfg.MaxRetries, err = getEnvInt("ERP_MAX_RETRIES", 4); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent, err = getEnvInt("ERP_MAX_CONCURRENT", 16); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = getEnvInt("ERP_PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = getEnvFloat("ERP_RATE_LIMIT_RPS", 0); err != nil {
		return nil, err
	}

	for _, e := range strings.Split(getEnv("ERP_ENTITIES", "Customer,SalesOrder,StockItem"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			cfg.Entities = append(cfg.Entities, e)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("missing required environment variable: ERP_BASE_URL")
	}
	switch c.AuthMode {
	case base.AuthModeSession:
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("ERP_AUTH_MODE=session requires ERP_USERNAME and ERP_PASSWORD")
		}
	case base.AuthModeOAuth:
		if c.Token == "" {
			return fmt.Errorf("ERP_AUTH_MODE=oauth requires ERP_TOKEN")
		}
	default:
		return fmt.Errorf("invalid ERP_AUTH_MODE %q (want session or oauth)", c.AuthMode)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("ERP_MAX_RETRIES must be at least 1")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("ERP_MAX_CONCURRENT must be at least 1")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("ERP_PAGE_SIZE must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}
