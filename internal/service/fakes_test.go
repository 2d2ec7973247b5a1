package service

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// memoryRepo is an in-memory RecordRepository.
type memoryRepo struct {
	patients   map[string]domain.PatientRecord
	insurance  map[string]domain.InsuranceRecord
	providers  map[int64]domain.ProviderRecord
	treatments []domain.TreatmentRecord
	err        error
	calls      int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		patients:  map[string]domain.PatientRecord{},
		insurance: map[string]domain.InsuranceRecord{},
		providers: map[int64]domain.ProviderRecord{},
	}
}

func (r *memoryRepo) GetPatient(_ context.Context, id string) (*domain.PatientRecord, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if p, ok := r.patients[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (r *memoryRepo) GetInsurance(_ context.Context, id string) (*domain.InsuranceRecord, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if i, ok := r.insurance[id]; ok {
		return &i, nil
	}
	return nil, nil
}

func (r *memoryRepo) GetProvider(_ context.Context, npi int64) (*domain.ProviderRecord, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if p, ok := r.providers[npi]; ok {
		return &p, nil
	}
	return nil, nil
}

func (r *memoryRepo) GetTreatmentByCode(_ context.Context, code string) (*domain.TreatmentRecord, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	for _, t := range r.treatments {
		if t.ICD10Code == code {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) CountTreatmentsByName(_ context.Context, name string) (int, error) {
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	n := 0
	for _, t := range r.treatments {
		if t.TreatmentName == name {
			n++
		}
	}
	return n, nil
}

// fakeDetector returns canned rows.
type fakeDetector struct {
	rows  [][]float32
	err   error
	block chan struct{}
	calls int
}

func (d *fakeDetector) Detect(ctx context.Context, input domain.Tensor) ([][]float32, error) {
	d.calls++
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.rows, d.err
}
