package detection

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// PredictionStore persists raw prediction rows by key.
type PredictionStore interface {
	Get(ctx context.Context, key string) ([][]float32, bool, error)
	Set(ctx context.Context, key string, rows [][]float32, ttl time.Duration) error
}

// RedisPredictionStore keeps predictions in Redis as JSON.
type RedisPredictionStore struct {
	redis *redis.Client
}

// NewRedisPredictionStore connects to Redis and verifies the connection.
func NewRedisPredictionStore(config domain.CacheConfig) (*RedisPredictionStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPredictionStore{redis: client}, nil
}

// Get retrieves cached rows. A corrupted entry is removed and reported as a miss.
func (s *RedisPredictionStore) Get(ctx context.Context, key string) ([][]float32, bool, error) {
	val, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	var rows [][]float32
	if err := json.Unmarshal(val, &rows); err != nil {
		s.redis.Del(ctx, key)
		return nil, false, nil
	}
	return rows, true, nil
}

// Set stores rows under key for ttl.
func (s *RedisPredictionStore) Set(ctx context.Context, key string, rows [][]float32, ttl time.Duration) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction cache data: %w", err)
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

// Close closes the Redis client.
func (s *RedisPredictionStore) Close() error {
	return s.redis.Close()
}

// CachingDetector serves repeated inputs from a prediction store. Store failures are logged
// and never fail a detection.
type CachingDetector struct {
	next   domain.Detector
	store  PredictionStore
	prefix string
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachingDetector wraps next. modelName scopes the keys so model upgrades do not reuse
// stale predictions.
func NewCachingDetector(next domain.Detector, store PredictionStore, modelName string, ttl time.Duration, logger *logrus.Logger) *CachingDetector {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachingDetector{
		next:   next,
		store:  store,
		prefix: "prior-auth:detect:" + modelName + ":",
		ttl:    ttl,
		logger: logger,
	}
}

// Detect returns cached rows for an identical tensor, or runs next and caches its output.
func (c *CachingDetector) Detect(ctx context.Context, input domain.Tensor) ([][]float32, error) {
	key := c.prefix + TensorKey(input)

	rows, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("Prediction cache lookup failed")
	} else if found {
		c.logger.WithField("key", key).Debug("Prediction cache hit")
		return rows, nil
	}

	rows, err = c.next.Detect(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, key, rows, c.ttl); err != nil {
		c.logger.WithError(err).Warn("Failed to cache prediction")
	}
	return rows, nil
}

// TensorKey returns a content hash of a tensor's shape and values.
func TensorKey(t domain.Tensor) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(t.Shape)))
	h.Write(buf[:])
	for _, d := range t.Shape {
		binary.LittleEndian.PutUint64(buf[:], uint64(d))
		h.Write(buf[:])
	}
	for _, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		h.Write(buf[:4])
	}
	return hex.EncodeToString(h.Sum(nil))
}
