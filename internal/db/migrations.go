package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	// Vehicle master: one row per registered vehicle, keyed by the
	// normalized plate (the only lookup form).
	`CREATE TABLE IF NOT EXISTS tonnage_vehicles (
		id               UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		plate_number     TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		legal_max_kg     NUMERIC(10,2) NOT NULL,
		tolerance_value  NUMERIC(10,2) NOT NULL DEFAULT 0,
		tolerance_unit   TEXT NOT NULL DEFAULT 'kg',
		transport_company TEXT,
		truck_class      TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_tonnage_vehicles_normalized ON tonnage_vehicles(normalized_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_tonnage_vehicles_plate ON tonnage_vehicles(plate_number);`,

	// Analysis history: append-only, one row per analysis request. Rows are
	// never updated; a re-analysis appends a new row for the same vehicle.
	`CREATE TABLE IF NOT EXISTS tonnage_analyses (
		id               UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		fingerprint      TEXT NOT NULL,
		vehicle_id       UUID REFERENCES tonnage_vehicles(id) ON DELETE SET NULL,
		raw_plate        TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		estimate_kg      NUMERIC(10,2) NOT NULL,
		confidence       NUMERIC(5,4) NOT NULL,
		sample_count     INT NOT NULL,
		disagreement_kg  NUMERIC(10,2) NOT NULL,
		source_tag       TEXT NOT NULL,
		verdict          TEXT NOT NULL,
		margin_kg        NUMERIC(10,2) NOT NULL,
		load_ratio       NUMERIC(7,2),
		verdict_reason   TEXT,
		readings         JSONB,
		snapshot_url     TEXT,
		from_cache       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tonnage_analyses_fingerprint ON tonnage_analyses(fingerprint);`,
	`CREATE INDEX IF NOT EXISTS idx_tonnage_analyses_normalized_plate ON tonnage_analyses(normalized_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_tonnage_analyses_created_at ON tonnage_analyses(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_tonnage_analyses_plate_time ON tonnage_analyses(normalized_plate, created_at);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
