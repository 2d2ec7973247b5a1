package audit

import (
	"fmt"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// NewStore opens the audit store selected by configuration.
func NewStore(cfg domain.AuditConfig, opts ...Option) (Store, error) {
	loc, err := LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid audit time zone %q: %w", cfg.TimeZone, err)
	}
	opts = append([]Option{WithLocation(loc)}, opts...)

	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, opts...)
	case "postgres":
		return NewPostgresStoreFromURL(cfg.PostgresURL, opts...)
	default:
		return nil, fmt.Errorf("unsupported audit driver: %q", cfg.Driver)
	}
}
