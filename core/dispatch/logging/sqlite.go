package logging

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dispatch_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	ts           INTEGER NOT NULL,
	action       TEXT    NOT NULL,
	call_id      TEXT    NOT NULL DEFAULT '',
	ambulance_id TEXT    NOT NULL DEFAULT '',
	priority     TEXT    NOT NULL DEFAULT '',
	from_state   TEXT    NOT NULL DEFAULT '',
	to_state     TEXT    NOT NULL DEFAULT '',
	distance_km  REAL    NOT NULL DEFAULT 0,
	eta_seconds  REAL    NOT NULL DEFAULT 0,
	detail       TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS dispatch_log_call ON dispatch_log (call_id, ts);
CREATE INDEX IF NOT EXISTS dispatch_log_ambulance ON dispatch_log (ambulance_id, ts);`

const sqliteColumns = `ts, action, call_id, ambulance_id, priority, from_state, to_state, distance_km, eta_seconds, detail`

// SQLiteStore keeps the audit log in a SQLite file, one column per field so
// the log can be inspected with plain SQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path, creating the table on first
// use. path may be any modernc.org/sqlite DSN.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec LogRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_log (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), string(rec.Action), rec.CallID, rec.AmbulanceID, rec.Priority,
		rec.From, rec.To, rec.DistanceKm, rec.ETASeconds, rec.Detail)
	return err
}

// Query returns the matching records oldest first. With a limit only the
// newest q.Limit are kept.
func (s *SQLiteStore) Query(ctx context.Context, q LogQuery) ([]LogRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if !q.Start.IsZero() {
		add("ts >= ?", q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		add("ts <= ?", q.End.UnixNano())
	}
	if q.Action != "" {
		add("action = ?", string(q.Action))
	}
	if q.CallID != "" {
		add("call_id = ?", q.CallID)
	}
	if q.AmbulanceID != "" {
		add("ambulance_id = ?", q.AmbulanceID)
	}

	query := `SELECT id, ` + sqliteColumns + ` FROM dispatch_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var newest []LogRecord
	for rows.Next() {
		var (
			id     int64
			ts     int64
			action string
			r      LogRecord
		)
		if err := rows.Scan(&id, &ts, &action, &r.CallID, &r.AmbulanceID, &r.Priority,
			&r.From, &r.To, &r.DistanceKm, &r.ETASeconds, &r.Detail); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		r.Action = Action(action)
		newest = append(newest, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]LogRecord, len(newest))
	for i, r := range newest {
		res[len(newest)-1-i] = r
	}
	return res, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
