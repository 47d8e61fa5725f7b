package logging

import (
	"context"
	"time"
)

// Action names one kind of dispatch decision.
type Action string

const (
	ActionSubmitted  Action = "submitted"
	ActionDispatched Action = "dispatched"
	ActionQueued     Action = "queued"
	ActionEscalated  Action = "escalated"
	ActionRequeued   Action = "requeued"
	ActionCancelled  Action = "cancelled"
	ActionCompleted  Action = "completed"
	ActionTransition Action = "transition"
	ActionRejected   Action = "rejected"
)

// LogRecord captures one dispatch decision.
type LogRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	CallID      string    `json:"call_id,omitempty"`
	AmbulanceID string    `json:"ambulance_id,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	DistanceKm  float64   `json:"distance_km,omitempty"`
	ETASeconds  float64   `json:"eta_seconds,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// LogQuery defines filters for retrieving records. Zero fields match all.
type LogQuery struct {
	Start       time.Time
	End         time.Time
	CallID      string
	AmbulanceID string
	Action      Action
	Limit       int
}

// Match reports whether r passes the filters.
func (q LogQuery) Match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.CallID != "" && r.CallID != q.CallID {
		return false
	}
	if q.AmbulanceID != "" && r.AmbulanceID != q.AmbulanceID {
		return false
	}
	if q.Action != "" && r.Action != q.Action {
		return false
	}
	return true
}

// limit keeps the newest q.Limit records.
func (q LogQuery) limit(res []LogRecord) []LogRecord {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}

// NopStore drops every record.
type NopStore struct{}

func (NopStore) Append(context.Context, LogRecord) error { return nil }
func (NopStore) Query(context.Context, LogQuery) ([]LogRecord, error) {
	return nil, nil
}
func (NopStore) Close() error { return nil }
