package dispatch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeternum-health/dispatch/core/factory"
	"github.com/aeternum-health/dispatch/core/model"
)

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Ambulance.ID
	}
	return out
}

func TestNearestRanker(t *testing.T) {
	call := model.EmergencyCall{ID: "c1", Location: model.Location{Coordinates: scene}}
	near := model.Coordinates{Lat: 28.619, Lng: 77.209}
	avail := []model.Ambulance{
		amb("b", base),
		amb("z", model.Coordinates{}),
		amb("c", near),
		amb("a", base),
	}
	got := NearestRanker{}.Rank(call, avail)
	assert.Equal(t, []string{"c", "a", "b", "z"}, ids(got))
	assert.True(t, math.IsInf(got[3].DistanceKm, 1), "unknown position ranks last")
}

func TestNearestRanker_CallWithoutCoordinates(t *testing.T) {
	call := model.EmergencyCall{ID: "c1"}
	got := NearestRanker{}.Rank(call, []model.Ambulance{amb("b", base), amb("a", scene)})
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestCapabilityRanker(t *testing.T) {
	call := model.EmergencyCall{ID: "c1", Type: model.EmergencyCardiac, Priority: model.PriorityCritical,
		Location: model.Location{Coordinates: scene}}
	basic := amb("basic", scene)
	icu := amb("icu", base)
	icu.Kind = model.KindMobileICU
	farICU := amb("far", model.Coordinates{Lat: 28.9, Lng: 77.6})
	farICU.Kind = model.KindMobileICU

	r := CapabilityRanker{MaxDetourKm: 5}
	assert.Equal(t, []string{"icu", "basic", "far"}, ids(r.Rank(call, []model.Ambulance{basic, icu, farICU})))

	call.Priority = model.PriorityLow
	assert.Equal(t, []string{"basic", "icu", "far"}, ids(r.Rank(call, []model.Ambulance{basic, icu, farICU})))

	call.Priority = model.PriorityCritical
	tight := CapabilityRanker{MaxDetourKm: 0.5}
	assert.Equal(t, "basic", tight.Rank(call, []model.Ambulance{basic, icu})[0].Ambulance.ID)
}

func TestNewRanker(t *testing.T) {
	r, err := NewRanker(factory.ModuleConfig{})
	require.NoError(t, err)
	assert.IsType(t, NearestRanker{}, r)

	r, err = NewRanker(factory.ModuleConfig{Type: "capability", Conf: map[string]any{"max_detour_km": "2.5", "min_priority": "medium"}})
	require.NoError(t, err)
	cr, ok := r.(CapabilityRanker)
	require.True(t, ok)
	assert.Equal(t, 2.5, cr.MaxDetourKm)
	assert.Equal(t, model.PriorityMedium, cr.MinPriority)

	_, err = NewRanker(factory.ModuleConfig{Type: "psychic"})
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, "nearest", c.Ranker.Type)
	assert.Equal(t, model.PriorityHigh, c.TrafficAlertPriority)

	c.TrafficAlertPriority = "whenever"
	assert.Error(t, c.Validate())
}
