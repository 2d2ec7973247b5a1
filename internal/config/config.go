package config

import (
	"fmt"
	"strings"

	"github.com/prior-auth-mcp-server/internal/domain"
	"github.com/spf13/viper"
)

// Manager loads the configuration using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := m.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/prior-auth/")

	v.SetEnvPrefix("PRIOR_AUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and environment variables are enough to run.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	applyTableDefaults(config)

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	v := m.v

	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "45s")
	v.SetDefault("server.max_upload_bytes", 20<<20)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "data/prior_auth.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "prior_auth")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrate_on_start", false)

	// Rule engine defaults
	v.SetDefault("rules.claim_window_days", 3*365)
	v.SetDefault("rules.lookup_cache_size", 1000)
	v.SetDefault("rules.lookup_cache_ttl", "5m")

	// Corroboration defaults
	v.SetDefault("corroboration.confidence_threshold", 0.5)
	v.SetDefault("corroboration.image_size", 640)

	// Detection backend defaults
	v.SetDefault("detection.endpoint", "http://localhost:8501/v1/models/fracture:predict")
	v.SetDefault("detection.model_name", "fracture")
	v.SetDefault("detection.model_path", "models/best.onnx")
	v.SetDefault("detection.timeout", "20s")
	v.SetDefault("detection.rate_limit", 5)
	v.SetDefault("detection.rate_burst", 2)
	v.SetDefault("detection.retry_count", 2)
	v.SetDefault("detection.retry_backoff", "500ms")
	v.SetDefault("detection.breaker_max_requests", 3)
	v.SetDefault("detection.breaker_timeout", "60s")
	v.SetDefault("detection.breaker_consecutive_failures", 5)

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Audit defaults
	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.sqlite_path", "data/audit_log.db")
	v.SetDefault("audit.postgres_url", "")
	v.SetDefault("audit.time_zone", "Asia/Kolkata")

	// Proof defaults
	v.SetDefault("proof.capacity", 10000)
	v.SetDefault("proof.ttl", "1h")

	v.SetDefault("extraction.pdftotext_path", "pdftotext")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "prior-auth-mcp-server")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.transport_type", "stdio")
	v.SetDefault("mcp.request_timeout", "60s")
}

// applyTableDefaults fills the lookup tables that have no flat viper default.
// Tables are only replaced when absent from every source.
func applyTableDefaults(c *domain.Config) {
	if len(c.Rules.DateFormats) == 0 {
		c.Rules.DateFormats = domain.DefaultDateFormats()
	}
	if len(c.Rules.TreatmentSpecialties) == 0 {
		c.Rules.TreatmentSpecialties = domain.DefaultTreatmentSpecialties()
	}
	if len(c.Corroboration.BoneClasses) == 0 {
		c.Corroboration.BoneClasses = domain.DefaultBoneClasses()
	}
	if len(c.Corroboration.BoneCodes) == 0 {
		c.Corroboration.BoneCodes = domain.DefaultBoneCodes()
	}
	if len(c.Corroboration.FractureFamilies) == 0 {
		c.Corroboration.FractureFamilies = domain.DefaultFractureFamilies()
	}
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a fully populated configuration.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.SQLitePath == "" {
			return fmt.Errorf("database sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", config.Database.Driver)
	}

	if config.Rules.ClaimWindowDays <= 0 {
		return fmt.Errorf("rules.claim_window_days must be positive, got %d", config.Rules.ClaimWindowDays)
	}

	corr := config.Corroboration
	if corr.ConfidenceThreshold <= 0 || corr.ConfidenceThreshold >= 1 {
		return fmt.Errorf("corroboration.confidence_threshold must be in (0,1), got %v", corr.ConfidenceThreshold)
	}
	if corr.ImageSize <= 0 {
		return fmt.Errorf("corroboration.image_size must be positive, got %d", corr.ImageSize)
	}
	codes := corr.BoneCodeMap()
	for _, bone := range corr.BoneClasses {
		if _, ok := codes[bone]; !ok {
			return fmt.Errorf("bone class %q has no ICD-10 code", bone)
		}
	}

	if config.Detection.Endpoint == "" {
		return fmt.Errorf("detection endpoint is required")
	}
	if config.Detection.Timeout <= 0 {
		return fmt.Errorf("detection timeout must be positive")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when the cache is enabled")
	}

	switch config.Audit.Driver {
	case "sqlite":
		if config.Audit.SQLitePath == "" {
			return fmt.Errorf("audit sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if config.Audit.PostgresURL == "" {
			return fmt.Errorf("audit postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported audit driver: %q", config.Audit.Driver)
	}

	if config.Proof.Capacity < 0 {
		return fmt.Errorf("proof.capacity must not be negative, got %d", config.Proof.Capacity)
	}
	if config.Proof.TTL < 0 {
		return fmt.Errorf("proof.ttl must not be negative, got %v", config.Proof.TTL)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
