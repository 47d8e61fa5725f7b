package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeternum-health/dispatch/core/events"
	"github.com/aeternum-health/dispatch/core/logger"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/internal/eventbus"
)

var (
	start = model.Coordinates{Lat: 28.61, Lng: 77.21}
	scene = model.Coordinates{Lat: 28.63, Lng: 77.22}
	t0    = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

func TestEstimateETA(t *testing.T) {
	eta, err := EstimateETA(start, scene, 40)
	require.NoError(t, err)
	assert.Greater(t, eta, time.Duration(0))
	// ~2.43 km at 40 km/h is a little over 3.5 minutes.
	assert.InDelta(t, 3.65, eta.Minutes(), 0.1)

	half := model.Midpoint(start, scene)
	eta2, err := EstimateETA(half, scene, 40)
	require.NoError(t, err)
	assert.Less(t, eta2, eta)

	zero, err := EstimateETA(scene, scene, 40)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), zero)

	_, err = EstimateETA(start, scene, 0)
	assert.Error(t, err)
	_, err = EstimateETA(start, scene, -5)
	assert.Error(t, err)
}

func TestTracker_ETADecreasesAsAmbulanceApproaches(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe()
	tr := NewTracker(Config{SpeedKmh: 40}, bus, logger.NopLogger{})

	first, err := tr.Start("a1", "c1", start, scene, t0)
	require.NoError(t, err)
	ev := (<-sub).(events.ETAEvent)
	assert.Equal(t, first, ev)

	second, ok := tr.OnLocation(context.Background(), "a1", model.Midpoint(start, scene), t0.Add(time.Minute))
	require.True(t, ok)
	assert.Less(t, second.ETA, first.ETA)
	assert.Less(t, second.DistanceKm, first.DistanceKm)

	latest, ok := tr.Latest("a1")
	require.True(t, ok)
	assert.Equal(t, second, latest)
}

func TestTracker_ArrivalDetectedOnce(t *testing.T) {
	tr := NewTracker(Config{}, nil, logger.NopLogger{})
	calls := 0
	tr.OnArrival(func(_ context.Context, amb, call string, _ time.Time) error {
		calls++
		assert.Equal(t, "a1", amb)
		assert.Equal(t, "c1", call)
		return nil
	})
	_, err := tr.Start("a1", "c1", start, scene, t0)
	require.NoError(t, err)

	tr.OnLocation(context.Background(), "a1", model.Midpoint(start, scene), t0)
	assert.Equal(t, 0, calls)

	near := model.Coordinates{Lat: scene.Lat + 0.0001, Lng: scene.Lng}
	tr.OnLocation(context.Background(), "a1", near, t0)
	tr.OnLocation(context.Background(), "a1", scene, t0)
	assert.Equal(t, 1, calls)
}

func TestTracker_FailedArrivalRetried(t *testing.T) {
	tr := NewTracker(Config{}, nil, logger.NopLogger{})
	fail := true
	calls := 0
	tr.OnArrival(func(context.Context, string, string, time.Time) error {
		calls++
		if fail {
			return errors.New("still dispatched")
		}
		return nil
	})
	_, _ = tr.Start("a1", "c1", start, scene, t0)
	tr.OnLocation(context.Background(), "a1", scene, t0)
	fail = false
	tr.OnLocation(context.Background(), "a1", scene, t0)
	tr.OnLocation(context.Background(), "a1", scene, t0)
	assert.Equal(t, 2, calls)
}

func TestTracker_UntrackedAndStop(t *testing.T) {
	tr := NewTracker(Config{}, nil, logger.NopLogger{})
	_, ok := tr.OnLocation(context.Background(), "ghost", scene, t0)
	assert.False(t, ok)

	_, err := tr.Start("a1", "c1", start, model.Coordinates{}, t0)
	assert.Error(t, err)

	_, _ = tr.Start("a1", "c1", start, scene, t0)
	assert.Equal(t, 1, tr.Active())
	tr.Stop("a1")
	assert.Equal(t, 0, tr.Active())
	_, ok = tr.Latest("a1")
	assert.False(t, ok)
}

func TestTracker_NoFixDefersEstimate(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe()
	tr := NewTracker(Config{SpeedKmh: 40}, bus, logger.NopLogger{})

	ev, err := tr.Start("a1", "c1", model.Coordinates{}, scene, t0)
	if !errors.Is(err, ErrNoFix) {
		t.Fatalf("start without a fix: got %v, want ErrNoFix", err)
	}
	assert.Zero(t, ev.ETA)
	assert.Zero(t, ev.DistanceKm)
	assert.Equal(t, 1, tr.Active())
	_, ok := tr.Latest("a1")
	assert.False(t, ok, "no estimate before the first fix")
	select {
	case got := <-sub:
		t.Fatalf("published %+v before any fix", got)
	default:
	}

	first, ok := tr.OnLocation(context.Background(), "a1", start, t0.Add(time.Minute))
	require.True(t, ok)
	want, err := EstimateETA(start, scene, 40)
	require.NoError(t, err)
	assert.Equal(t, want, first.ETA)
	latest, ok := tr.Latest("a1")
	require.True(t, ok)
	assert.Equal(t, first, latest)
}
