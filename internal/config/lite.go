// Package config provides configuration management for the prior-authorization services.
// This file contains the lightweight configuration used by the MCP binary.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It needs no external database: lookups and the audit trail live in SQLite files under DataDir.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the SQLite files

	// Lookup cache
	CacheMaxItems int
	CacheTTL      time.Duration

	// Detection backend
	DetectionEndpoint string
	DetectionTimeout  time.Duration

	// Transport settings
	Transport string // stdio only for now

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".prior-auth")

	return &LiteConfig{
		DataDir:           dataDir,
		CacheMaxItems:     1000,
		CacheTTL:          5 * time.Minute,
		DetectionEndpoint: "http://localhost:8501/v1/models/fracture:predict",
		DetectionTimeout:  20 * time.Second,
		Transport:         "stdio",
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("PRIOR_AUTH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("PRIOR_AUTH_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("PRIOR_AUTH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	if v := os.Getenv("PRIOR_AUTH_DETECTION_ENDPOINT"); v != "" {
		cfg.DetectionEndpoint = v
	}
	if v := os.Getenv("PRIOR_AUTH_DETECTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.DetectionTimeout = d
		}
	}

	if v := os.Getenv("PRIOR_AUTH_TRANSPORT"); v != "" {
		cfg.Transport = v
	}

	if v := os.Getenv("PRIOR_AUTH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PRIOR_AUTH_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// RecordsDBPath returns the path to the lookup-table SQLite database.
func (c *LiteConfig) RecordsDBPath() string {
	return filepath.Join(c.DataDir, "prior_auth.db")
}

// AuditDBPath returns the path to the audit-log SQLite database.
func (c *LiteConfig) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit_log.db")
}

// ReportDir returns the directory for rendered decision reports.
func (c *LiteConfig) ReportDir() string {
	return filepath.Join(c.DataDir, "reports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ReportDir(), 0755)
}

// ToConfig expands the lite settings into a full configuration with default rule and
// corroboration tables.
func (c *LiteConfig) ToConfig() *domain.Config {
	rules := domain.DefaultRulesConfig()
	rules.LookupCacheSize = c.CacheMaxItems
	rules.LookupCacheTTL = c.CacheTTL

	return &domain.Config{
		Environment: "development",
		Server:      domain.ServerConfig{Port: 8080},
		Database: domain.DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: c.RecordsDBPath(),
		},
		Rules:         rules,
		Corroboration: domain.DefaultCorroborationConfig(),
		Detection: domain.DetectionConfig{
			Endpoint:       c.DetectionEndpoint,
			Timeout:        c.DetectionTimeout,
			RateLimit:      5,
			RateBurst:      2,
			RetryCount:     2,
			RetryBackoff:   500 * time.Millisecond,
			BreakerMaxReqs: 3,
			BreakerTimeout: time.Minute,
			BreakerTrips:   5,
		},
		Audit: domain.AuditConfig{
			Driver:     "sqlite",
			SQLitePath: c.AuditDBPath(),
			TimeZone:   "Asia/Kolkata",
		},
		Proof:      domain.DefaultProofConfig(),
		Extraction: domain.ExtractionConfig{PdfToTextPath: "pdftotext"},
		Logging:    domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"},
		MCP: domain.MCPConfig{
			ServerName:     "prior-auth-mcp-server",
			ServerVersion:  "1.0.0",
			TransportType:  c.Transport,
			RequestTimeout: time.Minute,
		},
	}
}
