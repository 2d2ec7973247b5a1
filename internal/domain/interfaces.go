package domain

import (
	"context"
)

// RecordRepository is read-only access to the four externally owned lookup tables.
// Lookups return (nil, nil) when the row does not exist; errors are infrastructure failures.
type RecordRepository interface {
	GetPatient(ctx context.Context, patientID string) (*PatientRecord, error)
	GetInsurance(ctx context.Context, insuranceID string) (*InsuranceRecord, error)
	GetProvider(ctx context.Context, npi int64) (*ProviderRecord, error)
	GetTreatmentByCode(ctx context.Context, icd10Code string) (*TreatmentRecord, error)
	CountTreatmentsByName(ctx context.Context, treatmentName string) (int, error)
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Len returns the element count implied by Shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Detector runs the object-detection model once on a preprocessed (1,3,H,W) tensor and
// returns the raw prediction rows, each [x, y, w, h, objectness, class scores...].
// Implementations are not required to be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, input Tensor) ([][]float32, error)
}
