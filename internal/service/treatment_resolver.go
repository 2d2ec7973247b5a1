package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// TreatmentResolver maps extracted diagnosis codes to the treatment they authorize.
type TreatmentResolver struct {
	repo   domain.RecordRepository
	logger *logrus.Logger
}

// NewTreatmentResolver creates a resolver over the treatment table.
func NewTreatmentResolver(repo domain.RecordRepository, logger *logrus.Logger) *TreatmentResolver {
	return &TreatmentResolver{repo: repo, logger: logger}
}

// ResolveTreatment returns the treatment of the first code, in the given order, that has a
// non-empty treatment registered. ok is false when no code matches; that is not an error.
func (r *TreatmentResolver) ResolveTreatment(ctx context.Context, codes []string) (string, bool, error) {
	for _, code := range codes {
		rec, err := r.repo.GetTreatmentByCode(ctx, code)
		if err != nil {
			return "", false, fmt.Errorf("failed to look up treatment for %s: %w", code, err)
		}
		if rec == nil {
			continue
		}
		if name := strings.TrimSpace(rec.TreatmentName); name != "" {
			r.logger.WithFields(logrus.Fields{
				"icd10_code": code,
				"treatment":  name,
			}).Debug("Resolved treatment")
			return name, true, nil
		}
	}

	r.logger.WithField("code_count", len(codes)).Debug("No treatment registered for extracted codes")
	return "", false, nil
}
