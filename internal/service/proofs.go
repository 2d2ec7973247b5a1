package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// ProofLedger holds submitted proof outcomes until a decision is finalized with them. Each
// record can be used once; unused records expire after the configured TTL.
type ProofLedger struct {
	mu      sync.Mutex
	records *expirable.LRU[string, domain.ProofRecord]
	now     func() time.Time
}

// NewProofLedger creates a ledger. Zero values fall back to DefaultProofConfig.
func NewProofLedger(cfg domain.ProofConfig) *ProofLedger {
	def := domain.DefaultProofConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &ProofLedger{
		records: expirable.NewLRU[string, domain.ProofRecord](cfg.Capacity, nil, cfg.TTL),
		now:     time.Now,
	}
}

// Record stores an outcome under a new proof ID.
func (l *ProofLedger) Record(path domain.ProofPath, claimedCode string, status domain.ProofStatus) domain.ProofRecord {
	rec := domain.ProofRecord{
		ID:          uuid.NewString(),
		Path:        path,
		ClaimedCode: claimedCode,
		Status:      status,
		RecordedAt:  l.now(),
	}
	l.records.Add(rec.ID, rec)
	return rec
}

// Take removes and returns the record for id. It reports false for unknown, expired or
// already used IDs.
func (l *ProofLedger) Take(id string) (domain.ProofRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records.Get(id)
	if !ok {
		return domain.ProofRecord{}, false
	}
	l.records.Remove(id)
	return rec, true
}

// Restore puts back a record whose finalization failed.
func (l *ProofLedger) Restore(rec domain.ProofRecord) {
	l.records.Add(rec.ID, rec)
}

// Len reports the number of live records.
func (l *ProofLedger) Len() int {
	return l.records.Len()
}
