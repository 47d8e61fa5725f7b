package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ambulances (
		id                  TEXT PRIMARY KEY,
		hospital_id         TEXT NOT NULL DEFAULT '',
		driver_name         TEXT NOT NULL DEFAULT '',
		vehicle_number      TEXT NOT NULL,
		kind                TEXT NOT NULL,
		status              TEXT NOT NULL,
		lat                 DOUBLE PRECISION NOT NULL DEFAULT 0,
		lng                 DOUBLE PRECISION NOT NULL DEFAULT 0,
		location_updated_at TIMESTAMPTZ,
		current_call_id     TEXT NOT NULL DEFAULT '',
		capacity            INTEGER NOT NULL CHECK (capacity >= 1),
		equipment           JSONB NOT NULL DEFAULT '[]',
		crew                JSONB NOT NULL DEFAULT '[]',
		maintenance         JSONB NOT NULL DEFAULT '{}',
		updated_at          TIMESTAMPTZ NOT NULL,
		version             BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS ambulances_status_idx ON ambulances (status)`,
	`CREATE TABLE IF NOT EXISTS emergency_calls (
		id                    TEXT PRIMARY KEY,
		hospital_id           TEXT NOT NULL DEFAULT '',
		patient_name          TEXT NOT NULL,
		contact_number        TEXT NOT NULL,
		address               TEXT NOT NULL DEFAULT '',
		lat                   DOUBLE PRECISION NOT NULL DEFAULT 0,
		lng                   DOUBLE PRECISION NOT NULL DEFAULT 0,
		emergency_type        TEXT NOT NULL,
		priority              TEXT NOT NULL,
		priority_tier         SMALLINT NOT NULL,
		status                TEXT NOT NULL,
		assigned_ambulance_id TEXT NOT NULL DEFAULT '',
		received_at           TIMESTAMPTZ NOT NULL,
		dispatched_at         TIMESTAMPTZ,
		arrived_at            TIMESTAMPTZ,
		completed_at          TIMESTAMPTZ,
		description           TEXT NOT NULL DEFAULT '',
		notes                 TEXT NOT NULL DEFAULT '',
		traffic_alert_sent    BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at            TIMESTAMPTZ NOT NULL,
		version               BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS emergency_calls_queue_idx
		ON emergency_calls (status, priority_tier DESC, received_at, id)`,
	`CREATE INDEX IF NOT EXISTS emergency_calls_received_idx ON emergency_calls (received_at DESC)`,
}

// Migrate creates the tables and indexes when missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
