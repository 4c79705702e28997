package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tonnage-service/internal/domain/tonnage"
)

type AnalysisRecord struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Fingerprint     string     `gorm:"not null"`
	VehicleID       *uuid.UUID `gorm:"type:uuid"`
	RawPlate        string     `gorm:"not null"`
	NormalizedPlate string     `gorm:"not null"`
	EstimateKg      float64    `gorm:"not null"`
	Confidence      float64    `gorm:"not null"`
	SampleCount     int        `gorm:"not null"`
	DisagreementKg  float64    `gorm:"not null"`
	SourceTag       string     `gorm:"not null"`
	Verdict         string     `gorm:"not null"`
	MarginKg        float64    `gorm:"not null"`
	LoadRatio       *float64
	VerdictReason   *string
	Readings        datatypes.JSON `gorm:"type:jsonb"`
	SnapshotURL     *string
	FromCache       bool `gorm:"not null"`
	CreatedAt       time.Time
}

func (AnalysisRecord) TableName() string {
	return "tonnage_analyses"
}

// HistoryRepository is the gorm-backed append-only analysis history. Rows are
// never updated in place.
type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append persists one history record and fills its ID and timestamp.
func (r *HistoryRepository) Append(ctx context.Context, record *tonnage.HistoryRecord) error {
	row := AnalysisRecord{
		ID:              uuid.New(),
		Fingerprint:     record.Fingerprint,
		VehicleID:       record.VehicleID,
		RawPlate:        record.Vehicle.RawPlate,
		NormalizedPlate: record.Vehicle.NormalizedPlate,
		EstimateKg:      record.Estimation.PointEstimateKg,
		Confidence:      record.Estimation.Confidence,
		SampleCount:     record.Estimation.SampleCount,
		DisagreementKg:  record.Estimation.DisagreementKg,
		SourceTag:       record.Estimation.SourceTag,
		Verdict:         string(record.Verdict.Verdict),
		MarginKg:        record.Verdict.MarginKg,
		FromCache:       record.FromCache,
		CreatedAt:       time.Now(),
	}

	if record.Verdict.LoadRatioPercent != 0 {
		ratio := record.Verdict.LoadRatioPercent
		row.LoadRatio = &ratio
	}
	if record.Verdict.Reason != "" {
		reason := record.Verdict.Reason
		row.VerdictReason = &reason
	}
	if record.SnapshotURL != "" {
		url := record.SnapshotURL
		row.SnapshotURL = &url
	}
	if len(record.Readings) > 0 {
		raw, err := json.Marshal(record.Readings)
		if err != nil {
			return fmt.Errorf("marshal readings: %w", err)
		}
		row.Readings = datatypes.JSON(raw)
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}

	record.ID = row.ID
	record.CreatedAt = row.CreatedAt
	return nil
}

// ListByPlate returns the analysis history for a normalized plate,
// most-recent-last.
func (r *HistoryRepository) ListByPlate(ctx context.Context, normalizedPlate string, limit, offset int) ([]tonnage.HistoryRecord, error) {
	query := r.db.WithContext(ctx).Model(&AnalysisRecord{}).Order("created_at ASC")
	if normalizedPlate != "" {
		query = query.Where("normalized_plate = ?", normalizedPlate)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []AnalysisRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	records := make([]tonnage.HistoryRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (row AnalysisRecord) toRecord() (tonnage.HistoryRecord, error) {
	record := tonnage.HistoryRecord{
		ID:          row.ID,
		Fingerprint: row.Fingerprint,
		VehicleID:   row.VehicleID,
		Vehicle: tonnage.VehicleIdentity{
			RawPlate:        row.RawPlate,
			NormalizedPlate: row.NormalizedPlate,
		},
		Estimation: tonnage.EstimationResult{
			PointEstimateKg: row.EstimateKg,
			Confidence:      row.Confidence,
			SampleCount:     row.SampleCount,
			DisagreementKg:  row.DisagreementKg,
			SourceTag:       row.SourceTag,
		},
		Verdict: tonnage.OverloadVerdict{
			Verdict:    tonnage.Verdict(row.Verdict),
			MarginKg:   row.MarginKg,
			Confidence: row.Confidence,
		},
		FromCache: row.FromCache,
		CreatedAt: row.CreatedAt,
	}
	if row.LoadRatio != nil {
		record.Verdict.LoadRatioPercent = *row.LoadRatio
	}
	if row.VerdictReason != nil {
		record.Verdict.Reason = *row.VerdictReason
	}
	if row.SnapshotURL != nil {
		record.SnapshotURL = *row.SnapshotURL
	}
	if len(row.Readings) > 0 {
		if err := json.Unmarshal(row.Readings, &record.Readings); err != nil {
			return tonnage.HistoryRecord{}, fmt.Errorf("failed to decode readings for record %s: %w", row.ID, err)
		}
	}
	return record, nil
}
