package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tonnage-service/internal/cache"
	"tonnage-service/internal/domain/tonnage"
	"tonnage-service/internal/fingerprint"
	"tonnage-service/internal/merge"
	"tonnage-service/internal/overload"
	"tonnage-service/internal/repository"
	"tonnage-service/internal/utils"
	"tonnage-service/internal/vision"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrVehicleNotFound     = errors.New("vehicle not found")
	ErrHistoryNotPersisted = errors.New("history record not persisted")
)

// VehicleRepository is the vehicle-master port. Implementations return an
// error matching repository.ErrNotFound when no vehicle exists for the plate.
type VehicleRepository interface {
	FindLimitByPlate(ctx context.Context, normalizedPlate string) (tonnage.VehicleLimit, error)
	Upsert(ctx context.Context, limit tonnage.VehicleLimit) (tonnage.VehicleLimit, error)
	List(ctx context.Context, limit, offset int) ([]tonnage.VehicleLimit, error)
}

// HistoryRepository is the append-only audit history port.
type HistoryRepository interface {
	Append(ctx context.Context, record *tonnage.HistoryRecord) error
	ListByPlate(ctx context.Context, normalizedPlate string, limit, offset int) ([]tonnage.HistoryRecord, error)
}

// SnapshotStore persists analyzed images for audit. Optional.
type SnapshotStore interface {
	UploadSnapshot(ctx context.Context, fingerprint string, image []byte, contentType string) (string, error)
}

// AnalysisService sequences one analysis request: normalize plate, derive the
// fingerprint, obtain the (possibly cached) ensemble estimate, evaluate the
// overload rule, and append the audit record. It owns no global state; cache
// and repositories are injected.
type AnalysisService struct {
	cache     *cache.AnalysisCache
	vision    vision.Client
	vehicles  VehicleRepository
	history   HistoryRepository
	snapshots SnapshotStore

	inference          tonnage.InferenceConfig
	defaultToleranceKg float64
	log                zerolog.Logger
}

func NewAnalysisService(
	analysisCache *cache.AnalysisCache,
	visionClient vision.Client,
	vehicles VehicleRepository,
	history HistoryRepository,
	snapshots SnapshotStore,
	inference tonnage.InferenceConfig,
	defaultToleranceKg float64,
	log zerolog.Logger,
) *AnalysisService {
	return &AnalysisService{
		cache:              analysisCache,
		vision:             visionClient,
		vehicles:           vehicles,
		history:            history,
		snapshots:          snapshots,
		inference:          inference,
		defaultToleranceKg: defaultToleranceKg,
		log:                log,
	}
}

// AnalyzeInput is one analysis request.
type AnalyzeInput struct {
	ImageContent     []byte
	ContentType      string
	RawPlate         string
	EnsembleOverride int
}

// AnalysisOutcome is the result of one analysis request. HistoryErr is
// non-nil when the verdict was computed but the audit record failed to
// persist; the caller must not treat such an outcome as recorded.
type AnalysisOutcome struct {
	Fingerprint string
	Vehicle     tonnage.VehicleIdentity
	Limit       tonnage.VehicleLimit
	Estimation  tonnage.EstimationResult
	Verdict     tonnage.OverloadVerdict
	Record      tonnage.HistoryRecord
	FromCache   bool
	HistoryErr  error
}

// Analyze runs the full pipeline for one image/vehicle pair. Inference
// failures surface to the caller and are never cached. A re-analysis of the
// same image always appends a fresh history record, even when the estimate
// was served from cache, so every verdict is independently auditable.
func (s *AnalysisService) Analyze(ctx context.Context, input AnalyzeInput) (*AnalysisOutcome, error) {
	if len(input.ImageContent) == 0 {
		return nil, fmt.Errorf("%w: image content is required", ErrInvalidInput)
	}
	if input.RawPlate == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}

	normalized := utils.NormalizePlate(input.RawPlate)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate cannot be empty after normalization", ErrInvalidInput)
	}
	identity := tonnage.VehicleIdentity{RawPlate: input.RawPlate, NormalizedPlate: normalized}

	cfg := s.inference
	if input.EnsembleOverride > 0 {
		cfg.EnsembleSize = input.EnsembleOverride
	}

	fp, err := fingerprint.Derive(input.ImageContent, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// raw readings exist only when this call ran the computation; a cache
	// hit has nothing new to audit
	var rawReadings []tonnage.Reading
	estimation, fromCache, err := s.cache.GetOrCompute(ctx, fp, func(ctx context.Context) (tonnage.EstimationResult, error) {
		result, readings, err := s.inferAndMerge(ctx, input.ImageContent, cfg)
		if err != nil {
			return tonnage.EstimationResult{}, err
		}
		rawReadings = readings
		return result, nil
	})
	if err != nil {
		s.log.Error().
			Err(err).
			Str("fingerprint", fp).
			Str("plate", normalized).
			Msg("estimation failed")
		return nil, err
	}

	s.log.Info().
		Str("fingerprint", fp).
		Str("plate", normalized).
		Float64("estimate_kg", estimation.PointEstimateKg).
		Float64("confidence", estimation.Confidence).
		Bool("from_cache", fromCache).
		Msg("estimation ready")

	limit, err := s.vehicles.FindLimitByPlate(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVehicleNotFound, normalized)
		}
		return nil, fmt.Errorf("failed to look up vehicle limit: %w", err)
	}
	if limit.ToleranceValue == 0 {
		limit.ToleranceValue = s.defaultToleranceKg
		limit.ToleranceUnit = tonnage.ToleranceKg
	}

	verdict := overload.Evaluate(estimation, limit, cfg.MinConfidence)

	snapshotURL := s.uploadSnapshot(ctx, fp, input)

	record := tonnage.HistoryRecord{
		Fingerprint: fp,
		Vehicle:     identity,
		VehicleID:   &limit.VehicleID,
		Estimation:  estimation,
		Verdict:     verdict,
		Readings:    rawReadings,
		SnapshotURL: snapshotURL,
		FromCache:   fromCache,
	}

	outcome := &AnalysisOutcome{
		Fingerprint: fp,
		Vehicle:     identity,
		Limit:       limit,
		Estimation:  estimation,
		Verdict:     verdict,
		FromCache:   fromCache,
	}

	if err := s.history.Append(ctx, &record); err != nil {
		// the verdict already exists; report the persistence failure
		// distinctly instead of discarding the result
		s.log.Error().
			Err(err).
			Str("fingerprint", fp).
			Str("plate", normalized).
			Msg("failed to append history record")
		outcome.HistoryErr = fmt.Errorf("%w: %v", ErrHistoryNotPersisted, err)
	}
	outcome.Record = record

	s.log.Info().
		Str("record_id", record.ID.String()).
		Str("plate", normalized).
		Str("verdict", string(verdict.Verdict)).
		Float64("margin_kg", verdict.MarginKg).
		Bool("persisted", outcome.HistoryErr == nil).
		Msg("analysis complete")

	return outcome, nil
}

// inferAndMerge collects one reading batch per ensemble sample and merges
// them, returning the raw readings for the audit record alongside the merged
// result. Any backend failure aborts the whole computation; the cache never
// stores a partial result.
func (s *AnalysisService) inferAndMerge(ctx context.Context, image []byte, cfg tonnage.InferenceConfig) (tonnage.EstimationResult, []tonnage.Reading, error) {
	var readings []tonnage.Reading
	for i := 0; i < cfg.EnsembleSize; i++ {
		batch, err := s.vision.Infer(ctx, image, cfg)
		if err != nil {
			return tonnage.EstimationResult{}, nil, err
		}
		readings = append(readings, batch...)
	}

	result, err := merge.Merge(readings, cfg.ModelID)
	if err != nil {
		if errors.Is(err, merge.ErrEmptyEnsemble) || errors.Is(err, merge.ErrInvalidInput) {
			return tonnage.EstimationResult{}, nil, fmt.Errorf("%w: %v", vision.ErrInference, err)
		}
		return tonnage.EstimationResult{}, nil, err
	}
	return result, readings, nil
}

func (s *AnalysisService) uploadSnapshot(ctx context.Context, fp string, input AnalyzeInput) string {
	if s.snapshots == nil {
		return ""
	}
	url, err := s.snapshots.UploadSnapshot(ctx, fp, input.ImageContent, input.ContentType)
	if err != nil {
		s.log.Warn().Err(err).Str("fingerprint", fp).Msg("snapshot upload failed")
		return ""
	}
	return url
}

// InvalidateFingerprint drops a cached estimate so the next analysis
// recomputes it.
func (s *AnalysisService) InvalidateFingerprint(fp string) error {
	if fp == "" {
		return fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}
	s.cache.Invalidate(fp)
	s.log.Info().Str("fingerprint", fp).Msg("cache entry invalidated")
	return nil
}

// History returns audit records, most-recent-last, optionally filtered by
// plate.
func (s *AnalysisService) History(ctx context.Context, plateQuery string, limit, offset int) ([]tonnage.HistoryRecord, error) {
	normalized := ""
	if plateQuery != "" {
		normalized = utils.NormalizePlate(plateQuery)
		if normalized == "" {
			return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
		}
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.history.ListByPlate(ctx, normalized, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return records, nil
}

// HistoryExport returns the complete audit history for a plate, paging
// through the repository until exhausted. Exports must never truncate.
func (s *AnalysisService) HistoryExport(ctx context.Context, plateQuery string) ([]tonnage.HistoryRecord, error) {
	normalized := ""
	if plateQuery != "" {
		normalized = utils.NormalizePlate(plateQuery)
		if normalized == "" {
			return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
		}
	}

	const batchSize = 500
	var records []tonnage.HistoryRecord
	for offset := 0; ; offset += batchSize {
		batch, err := s.history.ListByPlate(ctx, normalized, batchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list history: %w", err)
		}
		records = append(records, batch...)
		if len(batch) < batchSize {
			return records, nil
		}
	}
}

// UpsertVehicle registers or updates a vehicle-master row.
func (s *AnalysisService) UpsertVehicle(ctx context.Context, limit tonnage.VehicleLimit) (tonnage.VehicleLimit, error) {
	if limit.PlateNumber == "" {
		return tonnage.VehicleLimit{}, fmt.Errorf("%w: plate number is required", ErrInvalidInput)
	}
	if limit.LegalMaxKg <= 0 {
		return tonnage.VehicleLimit{}, fmt.Errorf("%w: legal max weight must be positive", ErrInvalidInput)
	}
	if limit.ToleranceValue < 0 {
		return tonnage.VehicleLimit{}, fmt.Errorf("%w: tolerance must not be negative", ErrInvalidInput)
	}
	switch limit.ToleranceUnit {
	case "", tonnage.ToleranceKg:
		limit.ToleranceUnit = tonnage.ToleranceKg
	case tonnage.TolerancePercent:
	default:
		return tonnage.VehicleLimit{}, fmt.Errorf("%w: unknown tolerance unit %q", ErrInvalidInput, limit.ToleranceUnit)
	}

	limit.NormalizedPlate = utils.NormalizePlate(limit.PlateNumber)
	if limit.NormalizedPlate == "" {
		return tonnage.VehicleLimit{}, fmt.Errorf("%w: plate cannot be empty after normalization", ErrInvalidInput)
	}

	saved, err := s.vehicles.Upsert(ctx, limit)
	if err != nil {
		return tonnage.VehicleLimit{}, fmt.Errorf("failed to upsert vehicle: %w", err)
	}

	s.log.Info().
		Str("vehicle_id", saved.VehicleID.String()).
		Str("plate", saved.NormalizedPlate).
		Float64("legal_max_kg", saved.LegalMaxKg).
		Msg("vehicle master updated")

	return saved, nil
}

// Vehicles lists the vehicle master, or looks a single plate up when
// plateQuery is set.
func (s *AnalysisService) Vehicles(ctx context.Context, plateQuery string, limit, offset int) ([]tonnage.VehicleLimit, error) {
	if plateQuery != "" {
		normalized := utils.NormalizePlate(plateQuery)
		if normalized == "" {
			return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
		}
		vehicle, err := s.vehicles.FindLimitByPlate(ctx, normalized)
		if errors.Is(err, repository.ErrNotFound) {
			return []tonnage.VehicleLimit{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find vehicle: %w", err)
		}
		return []tonnage.VehicleLimit{vehicle}, nil
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.vehicles.List(ctx, limit, offset)
}
