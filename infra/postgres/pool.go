// Package postgres stores ambulances and emergency calls in PostgreSQL. Rows
// carry a version column; every state change is a compare-and-swap on it, and
// Reserve is a single conditional update on the available status.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeternum-health/dispatch/core/model"
)

// Config holds the connection settings.
type Config struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns"`
	MinConns int32  `json:"min_conns" yaml:"min_conns"`
}

// SetDefaults applies pool sizes suited to a single dispatch node.
func (c *Config) SetDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		c.MinConns = 0
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres: dsn is required")
	}
	return nil
}

// NewPool connects, pings and applies the schema.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// maxAttempts bounds the read-modify-write loop of a versioned update.
const maxAttempts = 8

var errStale = errors.New("row changed concurrently")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.NotFoundError{Entity: entity, ID: id}
	}
	return fmt.Errorf("%s %q: %w", entity, id, err)
}

// retry runs a versioned update until it lands or fails for another reason.
func retry(entity, id string, fn func() error) error {
	for i := 0; i < maxAttempts; i++ {
		err := fn()
		if !errors.Is(err, errStale) {
			return err
		}
	}
	return fmt.Errorf("%s %q: too many concurrent updates: %w", entity, id, model.ErrConflict)
}

// nullTime maps a zero time to NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func fromNull(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
