package dispatch

import (
	"math"
	"sort"

	"github.com/aeternum-health/dispatch/core/factory"
	"github.com/aeternum-health/dispatch/core/model"
)

// Candidate is an available ambulance with its distance to the call.
type Candidate struct {
	Ambulance  model.Ambulance
	DistanceKm float64
}

// Ranker orders available ambulances for a call. The matcher tries them in
// the returned order.
type Ranker interface {
	Rank(call model.EmergencyCall, available []model.Ambulance) []Candidate
}

func distance(call model.EmergencyCall, a model.Ambulance) float64 {
	if call.Location.Coordinates.IsZero() {
		return 0
	}
	if a.Location.Coordinates.IsZero() {
		return math.Inf(1)
	}
	return model.Distance(a.Location.Coordinates, call.Location.Coordinates)
}

func candidates(call model.EmergencyCall, available []model.Ambulance) []Candidate {
	out := make([]Candidate, 0, len(available))
	for _, a := range available {
		out = append(out, Candidate{Ambulance: a, DistanceKm: distance(call, a)})
	}
	return out
}

// NearestRanker orders by great-circle distance, ties broken by id.
// Ambulances without a known position come last.
type NearestRanker struct{}

func (NearestRanker) Rank(call model.EmergencyCall, available []model.Ambulance) []Candidate {
	out := candidates(call, available)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Ambulance.ID < out[j].Ambulance.ID
	})
	return out
}

// CapabilityRanker prefers ambulances whose kind suits the emergency for
// urgent calls, as long as the detour over the nearest ambulance stays
// within MaxDetourKm. Otherwise it ranks like NearestRanker.
type CapabilityRanker struct {
	Preferred   map[model.EmergencyType][]model.AmbulanceKind
	MinPriority model.Priority
	MaxDetourKm float64
}

// DefaultPreferred maps emergencies to the vehicle classes best equipped for
// them.
var DefaultPreferred = map[model.EmergencyType][]model.AmbulanceKind{
	model.EmergencyCardiac:     {model.KindMobileICU, model.KindAdvanced},
	model.EmergencyStroke:      {model.KindMobileICU, model.KindAdvanced},
	model.EmergencyRespiratory: {model.KindAdvanced, model.KindMobileICU},
	model.EmergencyTrauma:      {model.KindAdvanced, model.KindMobileICU},
	model.EmergencyAccident:    {model.KindAdvanced},
}

func (r CapabilityRanker) Rank(call model.EmergencyCall, available []model.Ambulance) []Candidate {
	out := NearestRanker{}.Rank(call, available)
	minP := r.MinPriority
	if minP == "" {
		minP = model.PriorityHigh
	}
	if len(out) < 2 || call.Priority.Tier() < minP.Tier() {
		return out
	}
	pref := r.Preferred
	if pref == nil {
		pref = DefaultPreferred
	}
	kinds := pref[call.Type]
	if len(kinds) == 0 {
		return out
	}
	limit := out[0].DistanceKm + r.MaxDetourKm
	suited := func(c Candidate) bool {
		if c.DistanceKm > limit {
			return false
		}
		for _, k := range kinds {
			if c.Ambulance.Kind == k {
				return true
			}
		}
		return false
	}
	sort.SliceStable(out, func(i, j int) bool {
		return suited(out[i]) && !suited(out[j])
	})
	return out
}

var rankerRegistry = factory.NewRegistry[Ranker]()

func init() {
	_ = rankerRegistry.Register("nearest", func(map[string]any) (Ranker, error) {
		return NearestRanker{}, nil
	})
	_ = rankerRegistry.Register("capability", func(conf map[string]any) (Ranker, error) {
		var c struct {
			MinPriority model.Priority `json:"min_priority"`
			MaxDetourKm float64        `json:"max_detour_km"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.MaxDetourKm <= 0 {
			c.MaxDetourKm = 3
		}
		return CapabilityRanker{MinPriority: c.MinPriority, MaxDetourKm: c.MaxDetourKm}, nil
	})
}

// RegisterRanker adds a ranker factory identified by name.
func RegisterRanker(name string, f factory.Factory[Ranker]) error {
	return rankerRegistry.Register(name, f)
}

// NewRanker creates the ranker described by cfg. An empty type yields the
// nearest-distance ranker.
func NewRanker(cfg factory.ModuleConfig) (Ranker, error) {
	if cfg.Type == "" {
		return NearestRanker{}, nil
	}
	return rankerRegistry.Create(cfg)
}
