// Package audit persists finalized prior-authorization decisions.
// The trail is append-only: entries are recorded once and never updated or deleted.
package audit

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// TimestampLayout is the civil-time format entries are stored and exported with.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultTimeZone is the zone audit timestamps are recorded in.
const DefaultTimeZone = "Asia/Kolkata"

// Filter narrows a listing. PatientID and ProviderNPI match case-insensitive substrings;
// FinalDecision must match exactly. Zero values match everything. Limit <= 0 means no limit.
type Filter struct {
	PatientID     string `json:"patient_id,omitempty"`
	ProviderNPI   string `json:"provider_npi,omitempty"`
	FinalDecision string `json:"final_decision,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Offset        int    `json:"offset,omitempty"`
}

// Store defines the interface for audit trail storage.
type Store interface {
	// Record appends an entry. It assigns ID, EntryID and Timestamp when they are unset.
	Record(ctx context.Context, entry *domain.AuditEntry) error

	// List returns matching entries, newest first.
	List(ctx context.Context, filter Filter) ([]*domain.AuditEntry, error)

	// Count returns the number of matching entries, ignoring Limit and Offset.
	Count(ctx context.Context, filter Filter) (int64, error)

	// ExportCSV writes matching entries as CSV with a header row.
	ExportCSV(ctx context.Context, filter Filter, w io.Writer) error

	// ExportJSON writes matching entries as a JSON document.
	ExportJSON(ctx context.Context, filter Filter, w io.Writer) error

	// Location is the zone entry timestamps are rendered in.
	Location() *time.Location

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string               `json:"version"`
	ExportedAt time.Time            `json:"exported_at"`
	Count      int                  `json:"count"`
	Entries    []*domain.AuditEntry `json:"entries"`
}

// Option configures a store.
type Option func(*options)

type options struct {
	location *time.Location
	now      func() time.Time
}

// WithLocation sets the zone timestamps are recorded and rendered in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithClock overrides the time source used to stamp new entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{location: defaultLocation(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LoadLocation resolves a zone name, falling back to a fixed +05:30 zone when the tz
// database is unavailable for the default zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultTimeZone {
			return time.FixedZone("IST", 5*3600+30*60), nil
		}
		return nil, err
	}
	return loc, nil
}

func defaultLocation() *time.Location {
	loc, _ := LoadLocation(DefaultTimeZone)
	return loc
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

// whereClause builds the filter predicate. placeholder renders the n-th bind parameter.
func whereClause(f Filter, placeholder func(n int) string) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.PatientID != "" {
		args = append(args, escapeLike(f.PatientID))
		conds = append(conds, "LOWER(patient_id) LIKE "+placeholder(len(args))+` ESCAPE '\'`)
	}
	if f.ProviderNPI != "" {
		args = append(args, escapeLike(f.ProviderNPI))
		conds = append(conds, "LOWER(provider_npi) LIKE "+placeholder(len(args))+` ESCAPE '\'`)
	}
	if f.FinalDecision != "" {
		args = append(args, f.FinalDecision)
		conds = append(conds, "final_decision = "+placeholder(len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// prepareEntry normalizes an entry before insertion.
func prepareEntry(entry *domain.AuditEntry, o options, newID func() string) {
	if entry.EntryID == "" {
		entry.EntryID = newID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = o.now()
	}
	entry.Timestamp = entry.Timestamp.In(o.location).Truncate(time.Second)
}
