package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	_ "github.com/lib/pq"

	"github.com/example/ride-pooling/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies migrations/*.sql in lexicographic order, one transaction
// per file. Files must be idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s failed: %w", name, err)
		}
	}
	return nil
}

const tripColumns = `id, driver_id, departure_lat, departure_lng, destination_lat, destination_lng,
	departure_time_ms, total_seats, available_seats, route_waypoints, status,
	driver_rating, pooled_detour_km, shift_start_ms, shift_end_ms`

func (p *PostgresStore) UpsertTrip(ctx context.Context, t models.DriverTrip) error {
	if err := validateTrip(t); err != nil {
		return err
	}
	waypoints, err := json.Marshal(nonNilWaypoints(t.RouteWaypoints))
	if err != nil {
		return err
	}
	var shiftStart, shiftEnd sql.NullInt64
	if t.Shift != nil {
		shiftStart = sql.NullInt64{Int64: t.Shift.StartMs, Valid: true}
		shiftEnd = sql.NullInt64{Int64: t.Shift.EndMs, Valid: true}
	}
	status := t.Status
	if status == "" {
		status = models.TripScheduled
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO driver_trips (`+tripColumns+`, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, NOW())
		ON CONFLICT (id) DO UPDATE SET
			driver_id = EXCLUDED.driver_id,
			departure_lat = EXCLUDED.departure_lat,
			departure_lng = EXCLUDED.departure_lng,
			destination_lat = EXCLUDED.destination_lat,
			destination_lng = EXCLUDED.destination_lng,
			departure_time_ms = EXCLUDED.departure_time_ms,
			total_seats = EXCLUDED.total_seats,
			available_seats = driver_trips.available_seats + EXCLUDED.total_seats - driver_trips.total_seats,
			route_waypoints = EXCLUDED.route_waypoints,
			status = EXCLUDED.status,
			driver_rating = EXCLUDED.driver_rating,
			pooled_detour_km = EXCLUDED.pooled_detour_km,
			shift_start_ms = EXCLUDED.shift_start_ms,
			shift_end_ms = EXCLUDED.shift_end_ms,
			updated_at = NOW()
		WHERE driver_trips.available_seats + EXCLUDED.total_seats - driver_trips.total_seats >= 0`,
		t.ID, t.DriverID, t.Departure.Lat, t.Departure.Lng, t.Destination.Lat, t.Destination.Lng,
		t.DepartureTimeMs, t.TotalSeats, t.AvailableSeats, string(waypoints), string(status),
		t.DriverRating, t.PooledDetourKm, shiftStart, shiftEnd,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// capacity shrank below the seats already held
		return &models.ConflictError{Kind: models.SeatExhausted, TripID: t.ID}
	}
	return nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (models.DriverTrip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM driver_trips WHERE id = $1`, id)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DriverTrip{}, &models.ConflictError{Kind: models.TripNotFound, TripID: id}
	}
	return t, err
}

func (p *PostgresStore) ListSchedulableTrips(ctx context.Context, w models.TimeWindow) ([]models.DriverTrip, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tripColumns+`
		FROM driver_trips
		WHERE status = 'scheduled' AND departure_time_ms BETWEEN $1 AND $2
		ORDER BY departure_time_ms, id`, w.FromMs, w.ToMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DriverTrip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AdjustSeats is one conditional UPDATE; when it touches no row a follow-up
// read only classifies the failure, it never retries the write.
func (p *PostgresStore) AdjustSeats(ctx context.Context, tripID string, delta int) (models.DriverTrip, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE driver_trips
		SET available_seats = available_seats + $2, updated_at = NOW()
		WHERE id = $1
		  AND available_seats + $2 BETWEEN 0 AND total_seats
		  AND ($2 >= 0 OR status = 'scheduled')
		RETURNING `+tripColumns, tripID, delta)
	t, err := scanTrip(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.DriverTrip{}, fmt.Errorf("adjust seats: %w", err)
	}

	cur, err := p.GetTrip(ctx, tripID)
	if err != nil {
		return models.DriverTrip{}, err
	}
	if err := checkAdjust(cur, delta); err != nil {
		return models.DriverTrip{}, err
	}
	// the row changed between the update and the read; report it as lost
	return models.DriverTrip{}, &models.ConflictError{Kind: models.SeatExhausted, TripID: tripID}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(r rowScanner) (models.DriverTrip, error) {
	var (
		t                    models.DriverTrip
		waypoints            []byte
		status               string
		shiftStart, shiftEnd sql.NullInt64
	)
	err := r.Scan(
		&t.ID, &t.DriverID, &t.Departure.Lat, &t.Departure.Lng, &t.Destination.Lat, &t.Destination.Lng,
		&t.DepartureTimeMs, &t.TotalSeats, &t.AvailableSeats, &waypoints, &status,
		&t.DriverRating, &t.PooledDetourKm, &shiftStart, &shiftEnd,
	)
	if err != nil {
		return models.DriverTrip{}, err
	}
	t.Status = models.TripStatus(status)
	if len(waypoints) > 0 {
		if err := json.Unmarshal(waypoints, &t.RouteWaypoints); err != nil {
			return models.DriverTrip{}, fmt.Errorf("decode route_waypoints for %s: %w", t.ID, err)
		}
	}
	if shiftStart.Valid && shiftEnd.Valid {
		t.Shift = &models.ShiftWindow{StartMs: shiftStart.Int64, EndMs: shiftEnd.Int64}
	}
	return t, nil
}

func nonNilWaypoints(w []models.Coordinate) []models.Coordinate {
	if w == nil {
		return []models.Coordinate{}
	}
	return w
}
