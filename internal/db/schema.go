package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the device_data table. ranking_id is assigned once at
// insert and never touched by updates.
const Schema = `
CREATE TABLE IF NOT EXISTS device_data (
	ranking_id             BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	imei                   VARCHAR(50)      NOT NULL UNIQUE,
	latitude               DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude              DOUBLE PRECISION NOT NULL DEFAULT 0,
	coordinates            VARCHAR(100)     NOT NULL DEFAULT '0,0',
	datastatus             INTEGER          NOT NULL DEFAULT 0,
	datastatus_description VARCHAR(50)      NOT NULL DEFAULT '',
	hearttime_date         DATE,
	hearttime_time         TIME,
	hearttime_unix         BIGINT           NOT NULL DEFAULT 0,
	status                 TEXT             NOT NULL DEFAULT '',
	last_heartbeat_at      TIMESTAMPTZ      NOT NULL DEFAULT now(),
	created_at             TIMESTAMPTZ      NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ      NOT NULL DEFAULT now()
);

ALTER TABLE device_data ALTER COLUMN status TYPE TEXT;

CREATE INDEX IF NOT EXISTS idx_device_data_description ON device_data (datastatus_description);
`

// EnsureSchema creates the tables the worker needs if they are missing
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
