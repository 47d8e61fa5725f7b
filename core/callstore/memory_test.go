package callstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeternum-health/dispatch/core/model"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newCall(id string, p model.Priority, received time.Time) model.EmergencyCall {
	return model.EmergencyCall{
		ID:            id,
		PatientName:   "Patient " + id,
		ContactNumber: "555",
		Type:          model.EmergencyCardiac,
		Priority:      p,
		Timestamps:    model.CallTimestamps{Received: received},
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c, err := s.Create(ctx, newCall("c1", model.PriorityHigh, t0))
	require.NoError(t, err)
	assert.Equal(t, model.CallPending, c.Status)

	_, err = s.Create(ctx, newCall("c1", model.PriorityHigh, t0))
	assert.True(t, errors.Is(err, model.ErrConflict))

	_, err = s.Get(ctx, "nope")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestMemoryStore_ListAndPendingOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Create(ctx, newCall("low", model.PriorityLow, t0))
	_, _ = s.Create(ctx, newCall("crit", model.PriorityCritical, t0.Add(2*time.Minute)))
	_, _ = s.Create(ctx, newCall("high-old", model.PriorityHigh, t0.Add(time.Minute)))
	_, _ = s.Create(ctx, newCall("high-new", model.PriorityHigh, t0.Add(3*time.Minute)))

	all, _ := s.List(ctx, Filter{})
	require.Len(t, all, 4)
	assert.Equal(t, "high-new", all[0].ID)
	assert.Equal(t, "low", all[3].ID)

	high, _ := s.List(ctx, Filter{Priority: model.PriorityHigh})
	assert.Len(t, high, 2)

	pending, _ := s.Pending(ctx)
	ids := make([]string, 0, len(pending))
	for _, c := range pending {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"crit", "high-old", "high-new", "low"}, ids)
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Create(ctx, newCall("c1", model.PriorityHigh, t0))

	ch, err := s.Assign(ctx, "c1", "a1", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.CallPending, ch.Before.Status)
	assert.Equal(t, "a1", ch.After.AssignedAmbulanceID)
	assert.Equal(t, t0.Add(time.Second), ch.After.Timestamps.Dispatched)

	_, err = s.Assign(ctx, "c1", "a2", t0.Add(2*time.Second))
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	_, err = s.Transition(ctx, "c1", model.CallEnRoute, t0.Add(time.Minute))
	require.NoError(t, err)
	ch, err = s.Transition(ctx, "c1", model.CallArrived, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(10*time.Minute), ch.After.Timestamps.Arrived)

	_, err = s.Transition(ctx, "c1", model.CallCancelled, t0.Add(11*time.Minute))
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	ch, err = s.Transition(ctx, "c1", model.CallCompleted, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ch.After.AssignedAmbulanceID)
	assert.Equal(t, "a1", ch.Before.AssignedAmbulanceID)
	// Stamps never run backwards.
	assert.Equal(t, t0.Add(10*time.Minute), ch.After.Timestamps.Completed)
	assert.NoError(t, ch.After.CheckInvariant())
}

func TestMemoryStore_CancelClearsAmbulance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Create(ctx, newCall("c1", model.PriorityHigh, t0))
	_, _ = s.Assign(ctx, "c1", "a1", t0)
	ch, err := s.Transition(ctx, "c1", model.CallCancelled, t0)
	require.NoError(t, err)
	assert.Empty(t, ch.After.AssignedAmbulanceID)
	assert.True(t, ch.After.Status.Terminal())
}

func TestMemoryStore_Requeue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Create(ctx, newCall("c1", model.PriorityHigh, t0))

	_, err := s.Requeue(ctx, "c1", "a1", t0)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	_, _ = s.Assign(ctx, "c1", "a1", t0)
	_, err = s.Requeue(ctx, "c1", "a2", t0)
	assert.Error(t, err, "only the holding ambulance may requeue")

	ch, err := s.Requeue(ctx, "c1", "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.CallPending, ch.After.Status)
	assert.Empty(t, ch.After.AssignedAmbulanceID)
	assert.Equal(t, t0, ch.After.Timestamps.Dispatched)
}

func TestMemoryStore_ConcurrentAssignOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Create(ctx, newCall("c1", model.PriorityHigh, t0))
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Assign(ctx, "c1", "a1", t0); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStore_Annotate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Create(ctx, newCall("c1", model.PriorityHigh, t0))
	notes := "gate code 1234"
	sent := true
	c, err := s.Annotate(ctx, "c1", Patch{Notes: &notes, TrafficAlertSent: &sent}, t0)
	require.NoError(t, err)
	assert.Equal(t, notes, c.Notes)
	assert.True(t, c.TrafficAlertSent)
	assert.Equal(t, model.CallPending, c.Status)
}
