package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/septivank/gps-tracking-worker/internal/db"
)

// DeviceTx upserts devices inside a batch transaction
type DeviceTx interface {
	UpsertDevice(ctx context.Context, row *db.DeviceRow) (created bool, err error)
}

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates device_data if it is missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	return db.EnsureSchema(ctx, r.pool)
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunInTx runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (r *Repository) RunInTx(ctx context.Context, fn func(DeviceTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&deviceTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const upsertDeviceQuery = `
	INSERT INTO device_data (
		imei, latitude, longitude, coordinates, datastatus, datastatus_description,
		hearttime_date, hearttime_time, hearttime_unix, status,
		last_heartbeat_at, created_at, updated_at
	)
	VALUES (
		$1, $2, $3, $4, $5, $6,
		NULLIF($7, '')::date, NULLIF($8, '')::time, $9, $10,
		COALESCE($11::timestamptz, now()), now(), now()
	)
	ON CONFLICT (imei) DO UPDATE SET
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		coordinates = EXCLUDED.coordinates,
		datastatus = EXCLUDED.datastatus,
		datastatus_description = EXCLUDED.datastatus_description,
		hearttime_date = EXCLUDED.hearttime_date,
		hearttime_time = EXCLUDED.hearttime_time,
		hearttime_unix = EXCLUDED.hearttime_unix,
		status = EXCLUDED.status,
		last_heartbeat_at = COALESCE($11::timestamptz, device_data.last_heartbeat_at, now()),
		updated_at = now()
	RETURNING (xmax = 0) AS created
`

type deviceTx struct {
	tx pgx.Tx
}

// UpsertDevice creates or updates one device inside a savepoint, so a
// failing row leaves the surrounding batch transaction usable
func (d *deviceTx) UpsertDevice(ctx context.Context, row *db.DeviceRow) (bool, error) {
	sp, err := d.tx.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to create savepoint: %w", err)
	}
	defer sp.Rollback(ctx)

	var created bool
	err = sp.QueryRow(ctx, upsertDeviceQuery,
		row.IMEI,
		row.Latitude,
		row.Longitude,
		row.Coordinates,
		row.DataStatus,
		row.DataStatusDescription,
		row.HeartTimeDate,
		row.HeartTimeTime,
		row.HeartTimeUnix,
		row.Status,
		row.HeartbeatAt,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert device %s: %w", row.IMEI, err)
	}

	if err := sp.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return created, nil
}

// DeleteAll removes every device row and returns how many were removed
func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM device_data`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete devices: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetRanking removes every device row and restarts ranking ids at 1
func (r *Repository) ResetRanking(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE TABLE device_data RESTART IDENTITY`); err != nil {
		return fmt.Errorf("failed to reset ranking: %w", err)
	}
	return nil
}

const selectDeviceColumns = `
	SELECT ranking_id, imei, latitude, longitude, coordinates, datastatus, datastatus_description,
		COALESCE(to_char(hearttime_date, 'YYYY-MM-DD'), ''),
		COALESCE(to_char(hearttime_time, 'HH24:MI:SS'), ''),
		hearttime_unix, status, last_heartbeat_at, created_at, updated_at
	FROM device_data
`

// ListRanked returns a page of devices ordered by ranking id
func (r *Repository) ListRanked(ctx context.Context, offset, limit int) ([]db.DeviceRow, error) {
	rows, err := r.pool.Query(ctx, selectDeviceColumns+` ORDER BY ranking_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	return collectDevices(rows)
}

// ListAll returns every device ordered by ranking id
func (r *Repository) ListAll(ctx context.Context) ([]db.DeviceRow, error) {
	rows, err := r.pool.Query(ctx, selectDeviceColumns+` ORDER BY ranking_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	return collectDevices(rows)
}

func collectDevices(rows pgx.Rows) ([]db.DeviceRow, error) {
	defer rows.Close()

	var devices []db.DeviceRow
	for rows.Next() {
		var d db.DeviceRow
		if err := rows.Scan(
			&d.RankingID,
			&d.IMEI,
			&d.Latitude,
			&d.Longitude,
			&d.Coordinates,
			&d.DataStatus,
			&d.DataStatusDescription,
			&d.HeartTimeDate,
			&d.HeartTimeTime,
			&d.HeartTimeUnix,
			&d.Status,
			&d.LastHeartbeatAt,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

// Count returns the number of stored devices
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM device_data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return n, nil
}

// Stats aggregates coordinate coverage and status descriptions
func (r *Repository) Stats(ctx context.Context) (*db.DeviceStats, error) {
	stats := &db.DeviceStats{StatusCounts: make(map[string]int)}

	err := r.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE NOT (latitude = 0 AND longitude = 0))
		FROM device_data
	`).Scan(&stats.TotalDevices, &stats.WithCoordinates)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query coordinate stats: %w", err)
	}
	stats.WithoutCoordinates = stats.TotalDevices - stats.WithCoordinates

	rows, err := r.pool.Query(ctx, `
		SELECT datastatus_description, count(*)
		FROM device_data
		GROUP BY datastatus_description
		ORDER BY datastatus_description
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var description string
		var n int
		if err := rows.Scan(&description, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.StatusCounts[description] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return stats, nil
}
