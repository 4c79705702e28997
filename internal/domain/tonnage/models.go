package tonnage

import (
	"time"

	"github.com/google/uuid"
)

// Reading is a single raw weight estimate produced by the vision backend.
// Confidence is nil when the backend did not report one.
type Reading struct {
	WeightKg   float64  `json:"weight_kg"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// EstimationResult is the merged ensemble estimate for one image.
// Immutable once constructed.
type EstimationResult struct {
	PointEstimateKg float64 `json:"point_estimate_kg"`
	Confidence      float64 `json:"confidence"`
	SampleCount     int     `json:"sample_count"`
	DisagreementKg  float64 `json:"disagreement_kg"`
	SourceTag       string  `json:"source_tag"`
}

// InferenceConfig is the active vision configuration. It participates in the
// analysis fingerprint, so any change here invalidates cached estimates.
type InferenceConfig struct {
	ModelID             string  `json:"model_id"`
	EnsembleSize        int     `json:"ensemble_size"`
	MinConfidence       float64 `json:"min_confidence"`
	OverloadToleranceKg float64 `json:"overload_tolerance_kg"`
}

// VehicleIdentity carries both the plate as captured and its canonical form.
// NormalizedPlate is the only form used for lookups.
type VehicleIdentity struct {
	RawPlate        string `json:"raw_plate"`
	NormalizedPlate string `json:"normalized_plate"`
}

// ToleranceUnit selects how VehicleLimit.ToleranceValue is interpreted.
type ToleranceUnit string

const (
	ToleranceKg      ToleranceUnit = "kg"
	TolerancePercent ToleranceUnit = "percent"
)

// VehicleLimit is the legal load limit from the vehicle master. Read-only to
// the analysis core.
type VehicleLimit struct {
	VehicleID        uuid.UUID     `json:"vehicle_id"`
	PlateNumber      string        `json:"plate_number"`
	NormalizedPlate  string        `json:"normalized_plate"`
	LegalMaxKg       float64       `json:"legal_max_kg"`
	ToleranceValue   float64       `json:"tolerance_value"`
	ToleranceUnit    ToleranceUnit `json:"tolerance_unit"`
	TransportCompany string        `json:"transport_company,omitempty"`
	TruckClass       string        `json:"truck_class,omitempty"`
}

// ToleranceKgFor resolves the tolerance into kilograms against the legal max.
func (v VehicleLimit) ToleranceKgFor() float64 {
	if v.ToleranceUnit == TolerancePercent {
		return v.LegalMaxKg * v.ToleranceValue / 100
	}
	return v.ToleranceValue
}

// Verdict classifies an estimate against a legal limit.
type Verdict string

const (
	VerdictPass      Verdict = "PASS"
	VerdictFail      Verdict = "FAIL"
	VerdictUncertain Verdict = "UNCERTAIN"
)

// OverloadVerdict is the outcome of evaluating an estimate against a limit.
type OverloadVerdict struct {
	Verdict          Verdict `json:"verdict"`
	MarginKg         float64 `json:"margin_kg"`
	Confidence       float64 `json:"confidence"`
	LoadRatioPercent float64 `json:"load_ratio_percent"`
	Reason           string  `json:"reason,omitempty"`
}

// HistoryRecord is one append-only audit row. Re-analysis of the same image
// produces a new record, never an update.
type HistoryRecord struct {
	ID          uuid.UUID        `json:"id"`
	Fingerprint string           `json:"fingerprint"`
	Vehicle     VehicleIdentity  `json:"vehicle"`
	VehicleID   *uuid.UUID       `json:"vehicle_id,omitempty"`
	Estimation  EstimationResult `json:"estimation"`
	Verdict     OverloadVerdict  `json:"verdict"`
	Readings    []Reading        `json:"readings,omitempty"`
	SnapshotURL string           `json:"snapshot_url,omitempty"`
	FromCache   bool             `json:"from_cache"`
	CreatedAt   time.Time        `json:"created_at"`
}
