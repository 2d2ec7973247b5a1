package detection

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// Stack is the detector chain built from configuration.
type Stack struct {
	Detector  domain.Detector
	Resilient *ResilientDetector
	cache     *RedisPredictionStore
}

// Close releases the prediction cache connection, if any.
func (s *Stack) Close() error {
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

// NewStack builds HTTP inference behind the resilience wrapper and, when enabled, the Redis
// prediction cache. Cache hits bypass rate limiting.
func NewStack(det domain.DetectionConfig, cache domain.CacheConfig, logger *logrus.Logger) (*Stack, error) {
	if det.Endpoint == "" {
		return nil, fmt.Errorf("detection endpoint is required")
	}

	httpDetector := NewHTTPDetector(HTTPDetectorConfig{
		Endpoint:  det.Endpoint,
		ModelName: det.ModelName,
		ModelPath: det.ModelPath,
		Timeout:   det.Timeout,
	}, logger)

	resilient := NewResilientDetector(httpDetector, det, logger)
	stack := &Stack{Detector: resilient, Resilient: resilient}

	if cache.Enabled {
		store, err := NewRedisPredictionStore(cache)
		if err != nil {
			return nil, fmt.Errorf("creating prediction cache: %w", err)
		}
		stack.cache = store
		stack.Detector = NewCachingDetector(resilient, store, det.ModelName, cache.DefaultTTL, logger)
	}

	logger.WithFields(logrus.Fields{
		"endpoint": det.Endpoint,
		"model":    det.ModelName,
		"cache":    cache.Enabled,
	}).Info("Detection backend configured")

	return stack, nil
}
