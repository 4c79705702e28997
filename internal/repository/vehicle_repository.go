package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tonnage-service/internal/domain/tonnage"
)

var ErrNotFound = errors.New("not found")

type Vehicle struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	PlateNumber      string    `gorm:"not null"`
	NormalizedPlate  string    `gorm:"not null;uniqueIndex"`
	LegalMaxKg       float64   `gorm:"not null"`
	ToleranceValue   float64   `gorm:"not null"`
	ToleranceUnit    string    `gorm:"not null"`
	TransportCompany *string
	TruckClass       *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Vehicle) TableName() string {
	return "tonnage_vehicles"
}

// VehicleRepository is the gorm-backed vehicle master.
type VehicleRepository struct {
	db *gorm.DB
}

func NewVehicleRepository(db *gorm.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// FindLimitByPlate looks up the legal limit by normalized plate.
func (r *VehicleRepository) FindLimitByPlate(ctx context.Context, normalizedPlate string) (tonnage.VehicleLimit, error) {
	var vehicle Vehicle
	err := r.db.WithContext(ctx).Where("normalized_plate = ?", normalizedPlate).First(&vehicle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tonnage.VehicleLimit{}, fmt.Errorf("%w: vehicle %q", ErrNotFound, normalizedPlate)
	}
	if err != nil {
		return tonnage.VehicleLimit{}, fmt.Errorf("failed to find vehicle: %w", err)
	}
	return vehicle.toLimit(), nil
}

// Upsert creates or updates the vehicle master row for the normalized plate.
func (r *VehicleRepository) Upsert(ctx context.Context, limit tonnage.VehicleLimit) (tonnage.VehicleLimit, error) {
	var vehicle Vehicle
	err := r.db.WithContext(ctx).Where("normalized_plate = ?", limit.NormalizedPlate).First(&vehicle).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		vehicle = Vehicle{
			ID:              uuid.New(),
			NormalizedPlate: limit.NormalizedPlate,
			CreatedAt:       time.Now(),
		}
	case err != nil:
		return tonnage.VehicleLimit{}, fmt.Errorf("failed to find vehicle: %w", err)
	}

	vehicle.PlateNumber = limit.PlateNumber
	vehicle.LegalMaxKg = limit.LegalMaxKg
	vehicle.ToleranceValue = limit.ToleranceValue
	vehicle.ToleranceUnit = string(limit.ToleranceUnit)
	vehicle.TransportCompany = optional(limit.TransportCompany)
	vehicle.TruckClass = optional(limit.TruckClass)
	vehicle.UpdatedAt = time.Now()

	if err := r.db.WithContext(ctx).Save(&vehicle).Error; err != nil {
		return tonnage.VehicleLimit{}, fmt.Errorf("failed to save vehicle: %w", err)
	}
	return vehicle.toLimit(), nil
}

// List returns vehicle master rows ordered by plate.
func (r *VehicleRepository) List(ctx context.Context, limit, offset int) ([]tonnage.VehicleLimit, error) {
	var vehicles []Vehicle
	err := r.db.WithContext(ctx).
		Order("normalized_plate ASC").
		Limit(limit).
		Offset(offset).
		Find(&vehicles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}

	out := make([]tonnage.VehicleLimit, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, v.toLimit())
	}
	return out, nil
}

func (v Vehicle) toLimit() tonnage.VehicleLimit {
	limit := tonnage.VehicleLimit{
		VehicleID:       v.ID,
		PlateNumber:     v.PlateNumber,
		NormalizedPlate: v.NormalizedPlate,
		LegalMaxKg:      v.LegalMaxKg,
		ToleranceValue:  v.ToleranceValue,
		ToleranceUnit:   tonnage.ToleranceUnit(v.ToleranceUnit),
	}
	if v.TransportCompany != nil {
		limit.TransportCompany = *v.TransportCompany
	}
	if v.TruckClass != nil {
		limit.TruckClass = *v.TruckClass
	}
	return limit
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
