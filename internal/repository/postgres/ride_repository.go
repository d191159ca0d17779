// Package postgres stores ride snapshots in PostgreSQL for history and for
// lookups of rides that were pruned from memory.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS rides (
	id                  TEXT PRIMARY KEY,
	rider_id            TEXT NOT NULL,
	driver_id           TEXT,
	status              TEXT NOT NULL,
	pickup_address      TEXT NOT NULL,
	pickup_latitude     DOUBLE PRECISION NOT NULL,
	pickup_longitude    DOUBLE PRECISION NOT NULL,
	dropoff_address     TEXT NOT NULL,
	dropoff_latitude    DOUBLE PRECISION NOT NULL,
	dropoff_longitude   DOUBLE PRECISION NOT NULL,
	distance_meters     DOUBLE PRECISION NOT NULL,
	duration_seconds    DOUBLE PRECISION NOT NULL,
	fare                JSONB NOT NULL,
	status_history      JSONB NOT NULL,
	cancellation_reason TEXT,
	cancelled_by        TEXT,
	driver_rating       SMALLINT,
	rider_rating        SMALLINT,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rides_rider_created ON rides (rider_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_rides_status_created ON rides (status, created_at DESC);
`

const selectColumns = `
	id, rider_id, driver_id, status,
	pickup_address, pickup_latitude, pickup_longitude,
	dropoff_address, dropoff_latitude, dropoff_longitude,
	distance_meters, duration_seconds, fare, status_history,
	cancellation_reason, cancelled_by, driver_rating, rider_rating,
	created_at, updated_at`

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// RideRepository implements ride.Repository on database/sql with lib/pq.
type RideRepository struct {
	db *sql.DB
}

// NewRideRepository creates a new ride repository
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{db: db}
}

// EnsureSchema creates the rides table when it does not exist.
func (r *RideRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create rides schema: %w", err)
	}
	return nil
}

// Save upserts the full ride snapshot. Snapshots are written after every
// committed change, so the latest write always carries the latest state.
func (r *RideRepository) Save(ctx context.Context, rd *ride.Ride) error {
	fare, err := json.Marshal(rd.Fare)
	if err != nil {
		return fmt.Errorf("failed to encode fare: %w", err)
	}
	history, err := json.Marshal(rd.StatusHistory)
	if err != nil {
		return fmt.Errorf("failed to encode status history: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rides (
			id, rider_id, driver_id, status,
			pickup_address, pickup_latitude, pickup_longitude,
			dropoff_address, dropoff_latitude, dropoff_longitude,
			distance_meters, duration_seconds, fare, status_history,
			cancellation_reason, cancelled_by, driver_rating, rider_rating,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			driver_id = EXCLUDED.driver_id,
			status = EXCLUDED.status,
			status_history = EXCLUDED.status_history,
			cancellation_reason = EXCLUDED.cancellation_reason,
			cancelled_by = EXCLUDED.cancelled_by,
			driver_rating = EXCLUDED.driver_rating,
			rider_rating = EXCLUDED.rider_rating,
			updated_at = EXCLUDED.updated_at
	`, rd.ID, rd.RiderID, nullString(rd.DriverID), string(rd.Status),
		rd.Pickup.Address, rd.Pickup.Coordinates.Lat, rd.Pickup.Coordinates.Lng,
		rd.Dropoff.Address, rd.Dropoff.Coordinates.Lat, rd.Dropoff.Coordinates.Lng,
		rd.DistanceMeters, rd.DurationSeconds, fare, history,
		nullString(rd.CancellationReason), nullString(rd.CancelledBy),
		nullInt(rd.DriverRating), nullInt(rd.RiderRating),
		rd.CreatedAt, rd.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperrors.Conflict("Ride already exists", err)
		}
		return fmt.Errorf("failed to save ride %s: %w", rd.ID, err)
	}
	return nil
}

// GetByID loads one ride snapshot.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*ride.Ride, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM rides WHERE id = $1`, id)
	rd, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ride %s: %w", id, err)
	}
	return rd, nil
}

// ListByRider returns a rider's rides, newest first.
func (r *RideRepository) ListByRider(ctx context.Context, riderID string, limit int) ([]*ride.Ride, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM rides WHERE rider_id = $1 ORDER BY created_at DESC LIMIT $2`,
		riderID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rides for rider %s: %w", riderID, err)
	}
	return collectRides(rows, limit)
}

// ListByStatus returns rides in any of statuses, newest first. An empty
// statuses slice lists every ride.
func (r *RideRepository) ListByStatus(ctx context.Context, statuses []ride.Status, limit int) ([]*ride.Ride, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM rides
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
		ORDER BY created_at DESC LIMIT $2`,
		pq.Array(names), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rides by status: %w", err)
	}
	return collectRides(rows, limit)
}

func collectRides(rows *sql.Rows, limit int) ([]*ride.Ride, error) {
	defer rows.Close()

	rides := make([]*ride.Ride, 0, limit)
	for rows.Next() {
		rd, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ride: %w", err)
		}
		rides = append(rides, rd)
	}
	return rides, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRide(s scanner) (*ride.Ride, error) {
	var (
		rd                   ride.Ride
		status               string
		driverID             sql.NullString
		reason, cancelledBy  sql.NullString
		driverRating, rating sql.NullInt64
		fare, history        []byte
	)
	err := s.Scan(
		&rd.ID, &rd.RiderID, &driverID, &status,
		&rd.Pickup.Address, &rd.Pickup.Coordinates.Lat, &rd.Pickup.Coordinates.Lng,
		&rd.Dropoff.Address, &rd.Dropoff.Coordinates.Lat, &rd.Dropoff.Coordinates.Lng,
		&rd.DistanceMeters, &rd.DurationSeconds, &fare, &history,
		&reason, &cancelledBy, &driverRating, &rating,
		&rd.CreatedAt, &rd.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rd.Status = ride.Status(status)
	rd.DriverID = driverID.String
	rd.CancellationReason = reason.String
	rd.CancelledBy = cancelledBy.String
	rd.DriverRating = intPtr(driverRating)
	rd.RiderRating = intPtr(rating)
	if err := json.Unmarshal(fare, &rd.Fare); err != nil {
		return nil, fmt.Errorf("corrupt fare: %w", err)
	}
	if err := json.Unmarshal(history, &rd.StatusHistory); err != nil {
		return nil, fmt.Errorf("corrupt status history: %w", err)
	}
	return &rd, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
