package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prior-auth-mcp-server/internal/domain"
)

type countingRepo struct {
	calls    map[string]int
	patients map[string]*domain.PatientRecord
	count    int
	err      error
}

func newCountingRepo() *countingRepo {
	return &countingRepo{calls: map[string]int{}, patients: map[string]*domain.PatientRecord{}}
}

func (r *countingRepo) GetPatient(_ context.Context, id string) (*domain.PatientRecord, error) {
	r.calls["patient"]++
	if r.err != nil {
		return nil, r.err
	}
	return r.patients[id], nil
}

func (r *countingRepo) GetInsurance(_ context.Context, id string) (*domain.InsuranceRecord, error) {
	r.calls["insurance"]++
	return &domain.InsuranceRecord{InsuranceID: id, ClaimDate: "2024-01-01"}, nil
}

func (r *countingRepo) GetProvider(_ context.Context, npi int64) (*domain.ProviderRecord, error) {
	r.calls["provider"]++
	return &domain.ProviderRecord{NPI: npi}, nil
}

func (r *countingRepo) GetTreatmentByCode(_ context.Context, code string) (*domain.TreatmentRecord, error) {
	r.calls["treatment"]++
	return nil, nil
}

func (r *countingRepo) CountTreatmentsByName(_ context.Context, name string) (int, error) {
	r.calls["count"]++
	return r.count, r.err
}

func TestCachedRecordRepository_CachesHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	inner.patients["P001"] = &domain.PatientRecord{ID: "P001", Age: "45"}
	inner.count = 2
	repo := NewCachedRecordRepository(inner, 10, time.Minute, testLogger())

	for i := 0; i < 3; i++ {
		p, err := repo.GetPatient(ctx, "P001")
		require.NoError(t, err)
		assert.Equal(t, "45", p.Age)

		missing, err := repo.GetPatient(ctx, "P404")
		require.NoError(t, err)
		assert.Nil(t, missing)

		treatment, err := repo.GetTreatmentByCode(ctx, "Z00")
		require.NoError(t, err)
		assert.Nil(t, treatment)

		n, err := repo.CountTreatmentsByName(ctx, "Dialysis")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = repo.GetProvider(ctx, 7)
		require.NoError(t, err)
		_, err = repo.GetInsurance(ctx, "INS1")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, inner.calls["patient"])
	assert.Equal(t, 1, inner.calls["treatment"])
	assert.Equal(t, 1, inner.calls["count"])
	assert.Equal(t, 1, inner.calls["provider"])
	assert.Equal(t, 1, inner.calls["insurance"])
	assert.Equal(t, 6, repo.Len())
}

func TestCachedRecordRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	inner.patients["P001"] = &domain.PatientRecord{ID: "P001", Age: "45"}
	repo := NewCachedRecordRepository(inner, 10, time.Minute, testLogger())

	first, err := repo.GetPatient(ctx, "P001")
	require.NoError(t, err)
	first.Age = "99"

	second, err := repo.GetPatient(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, "45", second.Age)
}

func TestCachedRecordRepository_DoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	inner.err = errors.New("db down")
	repo := NewCachedRecordRepository(inner, 10, time.Minute, testLogger())

	_, err := repo.GetPatient(ctx, "P001")
	require.Error(t, err)
	_, err = repo.CountTreatmentsByName(ctx, "Dialysis")
	require.Error(t, err)

	inner.err = nil
	inner.count = 1
	n, err := repo.CountTreatmentsByName(ctx, "Dialysis")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, inner.calls["count"])
	assert.Equal(t, 1, repo.Len())
}

func TestCachedRecordRepository_Purge(t *testing.T) {
	inner := newCountingRepo()
	repo := NewCachedRecordRepository(inner, 10, time.Minute, testLogger())

	_, _ = repo.GetProvider(context.Background(), 1)
	repo.Purge()
	_, _ = repo.GetProvider(context.Background(), 1)

	assert.Equal(t, 2, inner.calls["provider"])
}
