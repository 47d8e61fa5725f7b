package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/registry"
)

var _ registry.Registry = (*Registry)(nil)

const ambulanceColumns = `id, hospital_id, driver_name, vehicle_number, kind, status, lat, lng,
	location_updated_at, current_call_id, capacity, equipment, crew, maintenance, updated_at, version`

// Registry is the ambulance registry backed by the ambulances table.
type Registry struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRegistry returns a registry using pool.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool, now: time.Now}
}

// SetClock overrides the time source, mainly for tests.
func (r *Registry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func scanAmbulance(row pgx.Row) (model.Ambulance, int64, error) {
	var (
		a                      model.Ambulance
		kind, status           string
		locAt                  *time.Time
		equipment, crew, maint []byte
		version                int64
	)
	err := row.Scan(&a.ID, &a.HospitalID, &a.DriverName, &a.VehicleNumber, &kind, &status,
		&a.Location.Coordinates.Lat, &a.Location.Coordinates.Lng, &locAt, &a.CurrentCallID,
		&a.Capacity, &equipment, &crew, &maint, &a.UpdatedAt, &version)
	if err != nil {
		return model.Ambulance{}, 0, err
	}
	a.Kind = model.AmbulanceKind(kind)
	a.Status = model.AmbulanceStatus(status)
	a.Location.LastUpdated = fromNull(locAt)
	a.UpdatedAt = a.UpdatedAt.UTC()
	if err := json.Unmarshal(equipment, &a.Equipment); err != nil {
		return model.Ambulance{}, 0, fmt.Errorf("decode equipment: %w", err)
	}
	if err := json.Unmarshal(crew, &a.Crew); err != nil {
		return model.Ambulance{}, 0, fmt.Errorf("decode crew: %w", err)
	}
	if err := json.Unmarshal(maint, &a.MaintenanceSchedule); err != nil {
		return model.Ambulance{}, 0, fmt.Errorf("decode maintenance: %w", err)
	}
	if len(a.Equipment) == 0 {
		a.Equipment = nil
	}
	if len(a.Crew) == 0 {
		a.Crew = nil
	}
	return a, version, nil
}

func jsonList(xs []string) ([]byte, error) {
	if xs == nil {
		xs = []string{}
	}
	return json.Marshal(xs)
}

func (r *Registry) Register(ctx context.Context, amb model.Ambulance) (model.Ambulance, error) {
	amb.PrepareRegistration(r.now())
	if err := amb.Validate(); err != nil {
		return model.Ambulance{}, err
	}
	equipment, err := jsonList(amb.Equipment)
	if err != nil {
		return model.Ambulance{}, err
	}
	crew, err := jsonList(amb.Crew)
	if err != nil {
		return model.Ambulance{}, err
	}
	maint, err := json.Marshal(amb.MaintenanceSchedule)
	if err != nil {
		return model.Ambulance{}, err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO ambulances (`+ambulanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, $11, $12, $13, $14, 0)`,
		amb.ID, amb.HospitalID, amb.DriverName, amb.VehicleNumber, string(amb.Kind), string(amb.Status),
		amb.Location.Coordinates.Lat, amb.Location.Coordinates.Lng, nullTime(amb.Location.LastUpdated),
		amb.Capacity, equipment, crew, maint, amb.UpdatedAt)
	if isUniqueViolation(err) {
		return model.Ambulance{}, fmt.Errorf("ambulance %q: %w", amb.ID, model.ErrConflict)
	}
	if err != nil {
		return model.Ambulance{}, fmt.Errorf("insert ambulance %q: %w", amb.ID, err)
	}
	return amb, nil
}

func (r *Registry) get(ctx context.Context, id string) (model.Ambulance, int64, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ambulanceColumns+` FROM ambulances WHERE id = $1`, id)
	a, v, err := scanAmbulance(row)
	if err != nil {
		return model.Ambulance{}, 0, notFound(err, "ambulance", id)
	}
	return a, v, nil
}

func (r *Registry) Get(ctx context.Context, id string) (model.Ambulance, error) {
	a, _, err := r.get(ctx, id)
	return a, err
}

func (r *Registry) List(ctx context.Context, f registry.Filter) ([]model.Ambulance, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.HospitalID != "" {
		args = append(args, f.HospitalID)
		where = append(where, fmt.Sprintf("hospital_id = $%d", len(args)))
	}
	q := `SELECT ` + ambulanceColumns + ` FROM ambulances`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := r.pool.Query(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list ambulances: %w", err)
	}
	defer rows.Close()
	res := []model.Ambulance{}
	for rows.Next() {
		a, _, err := scanAmbulance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r *Registry) ListAvailable(ctx context.Context) ([]model.Ambulance, error) {
	return r.List(ctx, registry.Filter{Status: model.AmbulanceAvailable})
}

// Reserve claims the ambulance with one conditional update, so concurrent
// callers are serialized by the row lock and exactly one sees a row back.
func (r *Registry) Reserve(ctx context.Context, id, callID string) (model.Ambulance, error) {
	if callID == "" {
		return model.Ambulance{}, &model.ValidationError{Field: "call_id", Reason: "is required"}
	}
	row := r.pool.QueryRow(ctx, `UPDATE ambulances
		SET status = $3, current_call_id = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND status = $2
		RETURNING `+ambulanceColumns,
		id, string(model.AmbulanceAvailable), string(model.AmbulanceDispatched), callID, r.now())
	a, _, err := scanAmbulance(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Ambulance{}, fmt.Errorf("reserve ambulance %q: %w", id, err)
	}
	cur, err := r.Get(ctx, id)
	if err != nil {
		return model.Ambulance{}, err
	}
	return model.Ambulance{}, fmt.Errorf("ambulance %q is %s: %w", id, cur.Status, model.ErrNoCapacity)
}

func (r *Registry) Unreserve(ctx context.Context, id, callID string) (model.Ambulance, error) {
	ch, err := r.mutate(ctx, id, func(a *model.Ambulance) error { return registry.ApplyUnreserve(a, callID, r.now()) })
	return ch.After, err
}

func (r *Registry) Transition(ctx context.Context, id string, to model.AmbulanceStatus) (registry.Change, error) {
	return r.mutate(ctx, id, func(a *model.Ambulance) error { return registry.ApplyTransition(a, to, r.now()) })
}

func (r *Registry) Recall(ctx context.Context, id, callID string) (registry.Change, error) {
	return r.mutate(ctx, id, func(a *model.Ambulance) error { return registry.ApplyRecall(a, callID, r.now()) })
}

func (r *Registry) Release(ctx context.Context, id string) (registry.Change, error) {
	return r.mutate(ctx, id, func(a *model.Ambulance) error { return registry.ApplyRelease(a, r.now()) })
}

// UpdateLocation stores a fix unless a newer one is already recorded.
func (r *Registry) UpdateLocation(ctx context.Context, id string, c model.Coordinates, at time.Time) (model.Ambulance, error) {
	if err := c.Validate(); err != nil {
		return model.Ambulance{}, &model.ValidationError{Field: "location.coordinates", Reason: err.Error()}
	}
	if at.IsZero() {
		at = r.now()
	}
	row := r.pool.QueryRow(ctx, `UPDATE ambulances
		SET lat = $2, lng = $3, location_updated_at = $4, version = version + 1
		WHERE id = $1 AND (location_updated_at IS NULL OR location_updated_at <= $4)
		RETURNING `+ambulanceColumns, id, c.Lat, c.Lng, at)
	a, _, err := scanAmbulance(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Ambulance{}, fmt.Errorf("update location of %q: %w", id, err)
	}
	return r.Get(ctx, id)
}

// mutate applies fn to a fresh copy of the row and writes it back only if the
// version has not moved.
func (r *Registry) mutate(ctx context.Context, id string, fn func(*model.Ambulance) error) (registry.Change, error) {
	var ch registry.Change
	err := retry("ambulance", id, func() error {
		before, version, err := r.get(ctx, id)
		if err != nil {
			return err
		}
		after := before.Clone()
		if err := fn(&after); err != nil {
			return err
		}
		tag, err := r.pool.Exec(ctx, `UPDATE ambulances
			SET status = $3, current_call_id = $4, updated_at = $5, version = version + 1
			WHERE id = $1 AND version = $2`,
			id, version, string(after.Status), after.CurrentCallID, after.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update ambulance %q: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return errStale
		}
		ch = registry.Change{Before: before, After: after}
		return nil
	})
	return ch, err
}
