package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/registry"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{MinConns: 50}
	c.SetDefaults()
	assert.Equal(t, int32(10), c.MaxConns)
	assert.Equal(t, int32(0), c.MinConns)
	assert.Error(t, c.Validate())
	c.DSN = "postgres://localhost/dispatch"
	assert.NoError(t, c.Validate())
}

func TestRetryGivesUpWithConflict(t *testing.T) {
	n := 0
	err := retry("call", "c1", func() error {
		n++
		return errStale
	})
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, maxAttempts, n)

	boom := errors.New("boom")
	assert.Equal(t, boom, retry("call", "c1", func() error { return boom }))
}

// startPostgres launches a disposable database and returns a migrated pool.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "dispatch",
				"POSTGRES_PASSWORD": "dispatch",
				"POSTGRES_DB":       "dispatch",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := Config{DSN: fmt.Sprintf("postgres://dispatch:dispatch@%s:%s/dispatch?sslmode=disable", host, port.Port())}
	cfg.SetDefaults()
	var pool *pgxpool.Pool
	for i := 0; i < 10; i++ {
		pool, err = NewPool(ctx, cfg)
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func ambulance(id string, lat, lng float64) model.Ambulance {
	return model.Ambulance{
		ID:            id,
		VehicleNumber: "DL-1C-" + id,
		Capacity:      2,
		Equipment:     []string{"defibrillator"},
		Location:      model.Position{Coordinates: model.Coordinates{Lat: lat, Lng: lng}},
	}
}

func TestRegistry_Postgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	reg := NewRegistry(pool)

	a, err := reg.Register(ctx, ambulance("a1", 28.6, 77.2))
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceAvailable, a.Status)
	_, err = reg.Register(ctx, ambulance("a1", 28.6, 77.2))
	assert.ErrorIs(t, err, model.ErrConflict)

	got, err := reg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"defibrillator"}, got.Equipment)
	assert.False(t, got.MaintenanceSchedule.NextMaintenance.IsZero())

	_, err = reg.Get(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Exactly one of many concurrent reservations wins.
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Reserve(ctx, "a1", fmt.Sprintf("c%d", i))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, model.ErrNoCapacity)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err = reg.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.AmbulanceDispatched, got.Status)

	_, err = reg.Transition(ctx, "a1", model.AmbulanceMaintenance)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	for _, to := range []model.AmbulanceStatus{model.AmbulanceEnRoute, model.AmbulanceAtScene} {
		_, err := reg.Transition(ctx, "a1", to)
		require.NoError(t, err, to)
	}
	_, err = reg.Recall(ctx, "a1", "not-the-call")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	recalled, err := reg.Recall(ctx, "a1", got.CurrentCallID)
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceReturning, recalled.After.Status)
	ch, err := reg.Release(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceReturning, ch.Before.Status)
	assert.Equal(t, model.AmbulanceAvailable, ch.After.Status)
	assert.Empty(t, ch.After.CurrentCallID)

	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err = reg.UpdateLocation(ctx, "a1", model.Coordinates{Lat: 28.7, Lng: 77.3}, now)
	require.NoError(t, err)
	stale, err := reg.UpdateLocation(ctx, "a1", model.Coordinates{Lat: 1, Lng: 1}, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 28.7, stale.Location.Coordinates.Lat)

	_, err = reg.Register(ctx, ambulance("a2", 28.5, 77.1))
	require.NoError(t, err)
	list, err := reg.List(ctx, registry.Filter{Status: model.AmbulanceAvailable})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a1", list[0].ID)
}

func TestCallStore_Postgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	calls := NewCallStore(pool)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mk := func(id string, p model.Priority, at time.Time) {
		_, err := calls.Create(ctx, model.EmergencyCall{
			ID: id, PatientName: "p", ContactNumber: "1", Type: model.EmergencyTrauma, Priority: p,
			Timestamps: model.CallTimestamps{Received: at},
		})
		require.NoError(t, err)
	}
	mk("low", model.PriorityLow, t0)
	mk("crit", model.PriorityCritical, t0.Add(2*time.Minute))
	mk("high1", model.PriorityHigh, t0.Add(time.Minute))
	mk("high2", model.PriorityHigh, t0.Add(3*time.Minute))

	pending, err := calls.Pending(ctx)
	require.NoError(t, err)
	var order []string
	for _, c := range pending {
		order = append(order, c.ID)
	}
	assert.Equal(t, []string{"crit", "high1", "high2", "low"}, order)

	ch, err := calls.Assign(ctx, "crit", "a1", t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.CallPending, ch.Before.Status)
	assert.Equal(t, "a1", ch.After.AssignedAmbulanceID)

	_, err = calls.Assign(ctx, "crit", "a2", t0.Add(4*time.Minute))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = calls.Transition(ctx, "crit", model.CallEnRoute, t0.Add(4*time.Minute))
	require.NoError(t, err)
	ch, err = calls.Requeue(ctx, "crit", "a1", t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.CallPending, ch.After.Status)
	assert.Empty(t, ch.After.AssignedAmbulanceID)
	assert.Equal(t, t0.Add(3*time.Minute), ch.After.Timestamps.Dispatched)

	notes := "gate code 4411"
	c, err := calls.Annotate(ctx, "crit", callstore.Patch{Notes: &notes}, t0.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, notes, c.Notes)

	_, err = calls.Transition(ctx, "low", model.CallCancelled, t0.Add(6*time.Minute))
	require.NoError(t, err)
	_, err = calls.Transition(ctx, "low", model.CallPending, t0.Add(7*time.Minute))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	list, err := calls.List(ctx, callstore.Filter{Status: model.CallPending})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "high2", list[0].ID)
}

func TestManager_Postgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	reg := NewRegistry(pool)
	calls := NewCallStore(pool)
	var seq atomic.Int64
	m, err := dispatch.NewManager(dispatch.Config{}, dispatch.Deps{
		Registry: reg,
		Calls:    calls,
		NewID:    func() string { return fmt.Sprintf("c%d", seq.Add(1)) },
	})
	require.NoError(t, err)
	_, err = m.Register(ctx, ambulance("a1", 28.60, 77.20))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Submit(ctx, model.CallRequest{
				PatientName: "p", ContactNumber: "1", Type: model.EmergencyCardiac, Priority: model.PriorityHigh,
				Location: model.Location{Coordinates: model.Coordinates{Lat: 28.62, Lng: 77.21}},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	dispatched, err := calls.List(ctx, callstore.Filter{Status: model.CallDispatched})
	require.NoError(t, err)
	assert.Len(t, dispatched, 1)
	pending, err := calls.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 7)
}
