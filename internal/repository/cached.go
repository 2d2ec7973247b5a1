package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// cacheEntry stores one lookup result. A nil value records a confirmed miss.
type cacheEntry struct {
	value any
}

// CachedRecordRepository memoizes lookups of another repository in an expiring LRU.
// Store errors are never cached.
type CachedRecordRepository struct {
	next  domain.RecordRepository
	cache *expirable.LRU[string, cacheEntry]
	log   *logrus.Logger
}

// NewCachedRecordRepository wraps next with a cache of at most size entries kept for ttl.
func NewCachedRecordRepository(next domain.RecordRepository, size int, ttl time.Duration, logger *logrus.Logger) *CachedRecordRepository {
	if size <= 0 {
		size = 1000
	}
	return &CachedRecordRepository{
		next:  next,
		cache: expirable.NewLRU[string, cacheEntry](size, nil, ttl),
		log:   logger,
	}
}

// Purge drops every cached lookup, e.g. after a reload of the tables.
func (c *CachedRecordRepository) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached lookups.
func (c *CachedRecordRepository) Len() int {
	return c.cache.Len()
}

func (c *CachedRecordRepository) GetPatient(ctx context.Context, patientID string) (*domain.PatientRecord, error) {
	return cachedLookup(c, "patient:"+patientID, func() (*domain.PatientRecord, error) {
		return c.next.GetPatient(ctx, patientID)
	})
}

func (c *CachedRecordRepository) GetInsurance(ctx context.Context, insuranceID string) (*domain.InsuranceRecord, error) {
	return cachedLookup(c, "insurance:"+insuranceID, func() (*domain.InsuranceRecord, error) {
		return c.next.GetInsurance(ctx, insuranceID)
	})
}

func (c *CachedRecordRepository) GetProvider(ctx context.Context, npi int64) (*domain.ProviderRecord, error) {
	return cachedLookup(c, "provider:"+strconv.FormatInt(npi, 10), func() (*domain.ProviderRecord, error) {
		return c.next.GetProvider(ctx, npi)
	})
}

func (c *CachedRecordRepository) GetTreatmentByCode(ctx context.Context, icd10Code string) (*domain.TreatmentRecord, error) {
	return cachedLookup(c, "treatment:"+icd10Code, func() (*domain.TreatmentRecord, error) {
		return c.next.GetTreatmentByCode(ctx, icd10Code)
	})
}

func (c *CachedRecordRepository) CountTreatmentsByName(ctx context.Context, treatmentName string) (int, error) {
	key := "treatment_count:" + treatmentName
	if e, ok := c.cache.Get(key); ok {
		return e.value.(int), nil
	}
	n, err := c.next.CountTreatmentsByName(ctx, treatmentName)
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, cacheEntry{value: n})
	return n, nil
}

func cachedLookup[T any](c *CachedRecordRepository, key string, load func() (*T, error)) (*T, error) {
	if e, ok := c.cache.Get(key); ok {
		c.log.WithField("key", key).Debug("Lookup cache hit")
		if e.value == nil {
			return nil, nil
		}
		v := *(e.value.(*T))
		return &v, nil
	}

	v, err := load()
	if err != nil {
		return nil, err
	}
	if v == nil {
		c.cache.Add(key, cacheEntry{})
		return nil, nil
	}
	stored := *v
	c.cache.Add(key, cacheEntry{value: &stored})
	return v, nil
}
