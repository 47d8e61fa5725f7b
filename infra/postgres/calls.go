package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/model"
)

var _ callstore.Store = (*CallStore)(nil)

const callColumns = `id, hospital_id, patient_name, contact_number, address, lat, lng, emergency_type,
	priority, status, assigned_ambulance_id, received_at, dispatched_at, arrived_at, completed_at,
	description, notes, traffic_alert_sent, updated_at, version`

// CallStore keeps emergency calls in the emergency_calls table. The pending
// queue is the derived view status = 'pending' ordered by tier and age.
type CallStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewCallStore returns a call store using pool.
func NewCallStore(pool *pgxpool.Pool) *CallStore {
	return &CallStore{pool: pool, now: time.Now}
}

func scanCall(row pgx.Row) (model.EmergencyCall, int64, error) {
	var (
		c                             model.EmergencyCall
		typ, priority, status         string
		dispatched, arrived, complete *time.Time
		version                       int64
	)
	err := row.Scan(&c.ID, &c.HospitalID, &c.PatientName, &c.ContactNumber, &c.Location.Address,
		&c.Location.Coordinates.Lat, &c.Location.Coordinates.Lng, &typ, &priority, &status,
		&c.AssignedAmbulanceID, &c.Timestamps.Received, &dispatched, &arrived, &complete,
		&c.Description, &c.Notes, &c.TrafficAlertSent, &c.UpdatedAt, &version)
	if err != nil {
		return model.EmergencyCall{}, 0, err
	}
	c.Type = model.EmergencyType(typ)
	c.Priority = model.Priority(priority)
	c.Status = model.CallStatus(status)
	c.Timestamps.Received = c.Timestamps.Received.UTC()
	c.Timestamps.Dispatched = fromNull(dispatched)
	c.Timestamps.Arrived = fromNull(arrived)
	c.Timestamps.Completed = fromNull(complete)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, version, nil
}

func (s *CallStore) Create(ctx context.Context, call model.EmergencyCall) (model.EmergencyCall, error) {
	if err := callstore.PrepareCreate(&call, s.now()); err != nil {
		return model.EmergencyCall{}, err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO emergency_calls (`+callColumns+`, priority_tier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11, NULL, NULL, NULL, $12, $13, $14, $15, 0, $16)`,
		call.ID, call.HospitalID, call.PatientName, call.ContactNumber, call.Location.Address,
		call.Location.Coordinates.Lat, call.Location.Coordinates.Lng, string(call.Type), string(call.Priority),
		string(call.Status), call.Timestamps.Received, call.Description, call.Notes, call.TrafficAlertSent,
		call.UpdatedAt, int(call.Priority.Tier()))
	if isUniqueViolation(err) {
		return model.EmergencyCall{}, fmt.Errorf("call %q: %w", call.ID, model.ErrConflict)
	}
	if err != nil {
		return model.EmergencyCall{}, fmt.Errorf("insert call %q: %w", call.ID, err)
	}
	return call, nil
}

func (s *CallStore) get(ctx context.Context, id string) (model.EmergencyCall, int64, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM emergency_calls WHERE id = $1`, id)
	c, v, err := scanCall(row)
	if err != nil {
		return model.EmergencyCall{}, 0, notFound(err, "call", id)
	}
	return c, v, nil
}

func (s *CallStore) Get(ctx context.Context, id string) (model.EmergencyCall, error) {
	c, _, err := s.get(ctx, id)
	return c, err
}

func (s *CallStore) query(ctx context.Context, q string, args ...any) ([]model.EmergencyCall, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()
	res := []model.EmergencyCall{}
	for rows.Next() {
		c, _, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *CallStore) List(ctx context.Context, f callstore.Filter) ([]model.EmergencyCall, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.Priority != "" {
		add("priority", string(f.Priority))
	}
	if f.HospitalID != "" {
		add("hospital_id", f.HospitalID)
	}
	q := `SELECT ` + callColumns + ` FROM emergency_calls`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	return s.query(ctx, q+` ORDER BY received_at DESC, id`, args...)
}

func (s *CallStore) Pending(ctx context.Context) ([]model.EmergencyCall, error) {
	return s.query(ctx, `SELECT `+callColumns+` FROM emergency_calls
		WHERE status = $1 ORDER BY priority_tier DESC, received_at, id`, string(model.CallPending))
}

func (s *CallStore) Assign(ctx context.Context, id, ambulanceID string, at time.Time) (callstore.Change, error) {
	if ambulanceID == "" {
		return callstore.Change{}, &model.ValidationError{Field: "ambulance_id", Reason: "is required"}
	}
	return s.mutate(ctx, id, func(c *model.EmergencyCall) error { return callstore.ApplyAssign(c, ambulanceID, at) })
}

func (s *CallStore) Transition(ctx context.Context, id string, to model.CallStatus, at time.Time) (callstore.Change, error) {
	return s.mutate(ctx, id, func(c *model.EmergencyCall) error { return callstore.ApplyTransition(c, to, at) })
}

func (s *CallStore) Requeue(ctx context.Context, id, ambulanceID string, at time.Time) (callstore.Change, error) {
	return s.mutate(ctx, id, func(c *model.EmergencyCall) error { return callstore.ApplyRequeue(c, ambulanceID, at) })
}

func (s *CallStore) Annotate(ctx context.Context, id string, p callstore.Patch, at time.Time) (model.EmergencyCall, error) {
	ch, err := s.mutate(ctx, id, func(c *model.EmergencyCall) error {
		callstore.ApplyPatch(c, p, at)
		return nil
	})
	return ch.After, err
}

func (s *CallStore) mutate(ctx context.Context, id string, fn func(*model.EmergencyCall) error) (callstore.Change, error) {
	var ch callstore.Change
	err := retry("call", id, func() error {
		before, version, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		after := before
		if err := fn(&after); err != nil {
			return err
		}
		ts := after.Timestamps
		tag, err := s.pool.Exec(ctx, `UPDATE emergency_calls
			SET status = $3, assigned_ambulance_id = $4, dispatched_at = $5, arrived_at = $6,
				completed_at = $7, notes = $8, traffic_alert_sent = $9, updated_at = $10,
				version = version + 1
			WHERE id = $1 AND version = $2`,
			id, version, string(after.Status), after.AssignedAmbulanceID, nullTime(ts.Dispatched),
			nullTime(ts.Arrived), nullTime(ts.Completed), after.Notes, after.TrafficAlertSent, after.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update call %q: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return errStale
		}
		ch = callstore.Change{Before: before, After: after}
		return nil
	})
	return ch, err
}
