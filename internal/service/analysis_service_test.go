package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tonnage-service/internal/cache"
	"tonnage-service/internal/domain/tonnage"
	"tonnage-service/internal/repository"
	"tonnage-service/internal/utils"
	"tonnage-service/internal/vision"
)

type fakeVision struct {
	mu       sync.Mutex
	calls    atomic.Int32
	readings [][]tonnage.Reading
	err      error
}

func (f *fakeVision) Infer(ctx context.Context, image []byte, cfg tonnage.InferenceConfig) ([]tonnage.Reading, error) {
	n := int(f.calls.Add(1)) - 1
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < len(f.readings) {
		return f.readings[n], nil
	}
	return f.readings[len(f.readings)-1], nil
}

type fakeVehicles struct {
	limits map[string]tonnage.VehicleLimit
}

func (f *fakeVehicles) FindLimitByPlate(ctx context.Context, normalized string) (tonnage.VehicleLimit, error) {
	limit, ok := f.limits[normalized]
	if !ok {
		return tonnage.VehicleLimit{}, fmt.Errorf("%w: vehicle %q", repository.ErrNotFound, normalized)
	}
	return limit, nil
}

func (f *fakeVehicles) Upsert(ctx context.Context, limit tonnage.VehicleLimit) (tonnage.VehicleLimit, error) {
	if limit.VehicleID == uuid.Nil {
		limit.VehicleID = uuid.New()
	}
	f.limits[limit.NormalizedPlate] = limit
	return limit, nil
}

func (f *fakeVehicles) List(ctx context.Context, limit, offset int) ([]tonnage.VehicleLimit, error) {
	out := make([]tonnage.VehicleLimit, 0, len(f.limits))
	for _, v := range f.limits {
		out = append(out, v)
	}
	return out, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []tonnage.HistoryRecord
	err     error
}

func (f *fakeHistory) Append(ctx context.Context, record *tonnage.HistoryRecord) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	record.ID = uuid.New()
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeHistory) ListByPlate(ctx context.Context, normalized string, limit, offset int) ([]tonnage.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tonnage.HistoryRecord
	for _, r := range f.records {
		if normalized == "" || r.Vehicle.NormalizedPlate == normalized {
			out = append(out, r)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func conf(c float64) *float64 {
	return &c
}

func registeredVehicle(plate string, maxKg, toleranceKg float64) (string, tonnage.VehicleLimit) {
	normalized := utils.NormalizePlate(plate)
	return normalized, tonnage.VehicleLimit{
		VehicleID:       uuid.New(),
		PlateNumber:     plate,
		NormalizedPlate: normalized,
		LegalMaxKg:      maxKg,
		ToleranceValue:  toleranceKg,
		ToleranceUnit:   tonnage.ToleranceKg,
	}
}

func newTestService(visionClient vision.Client, vehicles *fakeVehicles, history *fakeHistory) *AnalysisService {
	analysisCache := cache.New(cache.NewMemoryStore(0))
	inference := tonnage.InferenceConfig{
		ModelID:             "gemini-flash",
		EnsembleSize:        2,
		MinConfidence:       0.3,
		OverloadToleranceKg: 500,
	}
	return NewAnalysisService(analysisCache, visionClient, vehicles, history, nil, inference, 200, zerolog.Nop())
}

func TestAnalyzeEndToEnd(t *testing.T) {
	plate := "品川 100 あ 12-34"
	normalized, limit := registeredVehicle(plate, 10000, 500)

	visionClient := &fakeVision{readings: [][]tonnage.Reading{
		{{WeightKg: 9000, Confidence: conf(0.9)}},
		{{WeightKg: 11000, Confidence: conf(0.9)}},
	}}
	vehicles := &fakeVehicles{limits: map[string]tonnage.VehicleLimit{normalized: limit}}
	history := &fakeHistory{}
	svc := newTestService(visionClient, vehicles, history)

	input := AnalyzeInput{ImageContent: []byte("load photo"), RawPlate: plate}

	outcome, err := svc.Analyze(context.Background(), input)
	require.NoError(t, err)
	require.NoError(t, outcome.HistoryErr)

	require.InDelta(t, 10000, outcome.Estimation.PointEstimateKg, 1e-9)
	require.Equal(t, 2, outcome.Estimation.SampleCount)
	require.Equal(t, tonnage.VerdictUncertain, outcome.Verdict.Verdict)
	require.False(t, outcome.FromCache)
	require.Equal(t, normalized, outcome.Vehicle.NormalizedPlate)
	require.Equal(t, int32(2), visionClient.calls.Load(), "one inference call per ensemble sample")
	require.Len(t, history.records, 1)
	require.Len(t, history.records[0].Readings, 2, "fresh computation persists its raw readings")
	require.InDelta(t, 9000, history.records[0].Readings[0].WeightKg, 1e-9)
	require.InDelta(t, 11000, history.records[0].Readings[1].WeightKg, 1e-9)

	// Re-running the same image/config serves the cached estimate but still
	// appends an independent audit record.
	second, err := svc.Analyze(context.Background(), input)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.InDelta(t, 10000, second.Estimation.PointEstimateKg, 1e-9)
	require.Equal(t, int32(2), visionClient.calls.Load(), "cache hit must not re-run inference")
	require.Len(t, history.records, 2)
	require.NotEqual(t, history.records[0].ID, history.records[1].ID)
	require.Equal(t, history.records[0].Fingerprint, history.records[1].Fingerprint)
	require.Empty(t, history.records[1].Readings, "a cache hit has no fresh readings to audit")
}

func TestAnalyzeVehicleNotFound(t *testing.T) {
	visionClient := &fakeVision{readings: [][]tonnage.Reading{{{WeightKg: 9000, Confidence: conf(0.9)}}}}
	vehicles := &fakeVehicles{limits: map[string]tonnage.VehicleLimit{}}
	history := &fakeHistory{}
	svc := newTestService(visionClient, vehicles, history)

	_, err := svc.Analyze(context.Background(), AnalyzeInput{ImageContent: []byte("img"), RawPlate: "unknown 1234"})
	require.ErrorIs(t, err, ErrVehicleNotFound)
	require.Empty(t, history.records, "no audit record without a verdict")
}

func TestAnalyzeInferenceFailureNotCached(t *testing.T) {
	plate := "熊本 100 あ 1234"
	normalized, limit := registeredVehicle(plate, 10000, 200)

	boom := fmt.Errorf("%w: backend unreachable", vision.ErrInference)
	visionClient := &fakeVision{err: boom, readings: [][]tonnage.Reading{{{WeightKg: 9000, Confidence: conf(0.9)}}}}
	vehicles := &fakeVehicles{limits: map[string]tonnage.VehicleLimit{normalized: limit}}
	history := &fakeHistory{}
	svc := newTestService(visionClient, vehicles, history)

	input := AnalyzeInput{ImageContent: []byte("img"), RawPlate: plate}

	_, err := svc.Analyze(context.Background(), input)
	require.ErrorIs(t, err, vision.ErrInference)
	require.Empty(t, history.records)

	// clearing the failure lets the next request recompute: the failure was
	// never cached
	visionClient.err = nil
	outcome, err := svc.Analyze(context.Background(), input)
	require.NoError(t, err)
	require.False(t, outcome.FromCache)
}

func TestAnalyzeHistoryPersistenceFailureIsReportedDistinctly(t *testing.T) {
	plate := "足立 500 か 7788"
	normalized, limit := registeredVehicle(plate, 10000, 200)

	visionClient := &fakeVision{readings: [][]tonnage.Reading{{{WeightKg: 8000, Confidence: conf(0.9)}}}}
	vehicles := &fakeVehicles{limits: map[string]tonnage.VehicleLimit{normalized: limit}}
	history := &fakeHistory{err: errors.New("disk full")}
	svc := newTestService(visionClient, vehicles, history)

	outcome, err := svc.Analyze(context.Background(), AnalyzeInput{ImageContent: []byte("img"), RawPlate: plate})
	require.NoError(t, err, "a computed verdict is still returned")
	require.ErrorIs(t, outcome.HistoryErr, ErrHistoryNotPersisted)
	require.Equal(t, tonnage.VerdictPass, outcome.Verdict.Verdict)
}

func TestAnalyzeLowConfidenceForcesUncertain(t *testing.T) {
	plate := "1122"
	normalized, limit := registeredVehicle(plate, 10000, 200)

	visionClient := &fakeVision{readings: [][]tonnage.Reading{
		{{WeightKg: 13000, Confidence: conf(0.1)}},
		{{WeightKg: 13000, Confidence: conf(0.1)}},
	}}
	vehicles := &fakeVehicles{limits: map[string]tonnage.VehicleLimit{normalized: limit}}
	history := &fakeHistory{}
	svc := newTestService(visionClient, vehicles, history)

	outcome, err := svc.Analyze(context.Background(), AnalyzeInput{ImageContent: []byte("img"), RawPlate: plate})
	require.NoError(t, err)
	require.Equal(t, tonnage.VerdictUncertain, outcome.Verdict.Verdict)
	require.NotEmpty(t, outcome.Verdict.Reason)
}

func TestAnalyzeEnsembleOverrideChangesFingerprint(t *testing.T) {
	plate := "3344"
	normalized, limit := registeredVehicle(plate, 10000, 200)

	visionClient := &fakeVision{readings: [][]tonnage.Reading{{{WeightKg: 9000, Confidence: conf(0.9)}}}}
	vehicles := &fakeVehicles{limits: map[string]tonnage.VehicleLimit{normalized: limit}}
	history := &fakeHistory{}
	svc := newTestService(visionClient, vehicles, history)

	first, err := svc.Analyze(context.Background(), AnalyzeInput{ImageContent: []byte("img"), RawPlate: plate})
	require.NoError(t, err)

	second, err := svc.Analyze(context.Background(), AnalyzeInput{ImageContent: []byte("img"), RawPlate: plate, EnsembleOverride: 3})
	require.NoError(t, err)

	require.NotEqual(t, first.Fingerprint, second.Fingerprint)
	require.False(t, second.FromCache, "a changed configuration must not hit the old cache entry")
}

func TestAnalyzeInvalidInput(t *testing.T) {
	visionClient := &fakeVision{readings: [][]tonnage.Reading{{{WeightKg: 9000, Confidence: conf(0.9)}}}}
	svc := newTestService(visionClient, &fakeVehicles{limits: map[string]tonnage.VehicleLimit{}}, &fakeHistory{})

	tests := []struct {
		name  string
		input AnalyzeInput
	}{
		{"empty image", AnalyzeInput{RawPlate: "1234"}},
		{"empty plate", AnalyzeInput{ImageContent: []byte("img")}},
		{"plate normalizes to nothing", AnalyzeInput{ImageContent: []byte("img"), RawPlate: " --- "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Analyze(context.Background(), tt.input)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestHistoryCapsLimit(t *testing.T) {
	history := &fakeHistory{}
	for i := 0; i < 250; i++ {
		history.records = append(history.records, tonnage.HistoryRecord{
			ID:      uuid.New(),
			Vehicle: tonnage.VehicleIdentity{NormalizedPlate: "1234"},
		})
	}
	svc := newTestService(&fakeVision{readings: [][]tonnage.Reading{{{WeightKg: 1}}}}, &fakeVehicles{limits: map[string]tonnage.VehicleLimit{}}, history)

	records, err := svc.History(context.Background(), "", 1000, 0)
	require.NoError(t, err)
	require.Len(t, records, 100)
}

func TestHistoryExportReturnsEverything(t *testing.T) {
	history := &fakeHistory{}
	for i := 0; i < 1203; i++ {
		history.records = append(history.records, tonnage.HistoryRecord{
			ID:      uuid.New(),
			Vehicle: tonnage.VehicleIdentity{NormalizedPlate: "1234"},
		})
	}
	svc := newTestService(&fakeVision{readings: [][]tonnage.Reading{{{WeightKg: 1}}}}, &fakeVehicles{limits: map[string]tonnage.VehicleLimit{}}, history)

	records, err := svc.HistoryExport(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 1203, "export carries the full history, past any page size")

	filtered, err := svc.HistoryExport(context.Background(), "99-99")
	require.NoError(t, err)
	require.Empty(t, filtered)
}

func TestUpsertVehicleValidation(t *testing.T) {
	svc := newTestService(&fakeVision{readings: [][]tonnage.Reading{{{WeightKg: 1}}}}, &fakeVehicles{limits: map[string]tonnage.VehicleLimit{}}, &fakeHistory{})

	_, err := svc.UpsertVehicle(context.Background(), tonnage.VehicleLimit{PlateNumber: "1234"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpsertVehicle(context.Background(), tonnage.VehicleLimit{PlateNumber: "1234", LegalMaxKg: 10000, ToleranceUnit: "furlongs"})
	require.ErrorIs(t, err, ErrInvalidInput)

	saved, err := svc.UpsertVehicle(context.Background(), tonnage.VehicleLimit{
		PlateNumber:    "品川 100 あ 12-34",
		LegalMaxKg:     10000,
		ToleranceValue: 2,
		ToleranceUnit:  tonnage.TolerancePercent,
	})
	require.NoError(t, err)
	require.Equal(t, "品川100あ1234", saved.NormalizedPlate)
}
