// Package scenarios replays dispatch scenarios described in YAML against an
// in-memory manager and checks the resulting call, ambulance and queue state.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aeternum-health/dispatch/core/model"
)

type AmbulanceDef struct {
	ID   string  `yaml:"id"`
	Kind string  `yaml:"kind,omitempty"`
	Lat  float64 `yaml:"lat"`
	Lng  float64 `yaml:"lng"`
}

func (a AmbulanceDef) ToModel() model.Ambulance {
	return model.Ambulance{
		ID:            a.ID,
		VehicleNumber: "SC-" + a.ID,
		Kind:          model.AmbulanceKind(a.Kind),
		Capacity:      2,
		Location:      model.Position{Coordinates: model.Coordinates{Lat: a.Lat, Lng: a.Lng}},
	}
}

// CallDef is a call submitted by a step. Name is the handle used by later
// steps and expectations.
type CallDef struct {
	Name     string  `yaml:"name"`
	Priority string  `yaml:"priority"`
	Type     string  `yaml:"type,omitempty"`
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
}

func (c CallDef) ToModel() model.CallRequest {
	kind := model.EmergencyType(c.Type)
	if kind == "" {
		kind = model.EmergencyOther
	}
	return model.CallRequest{
		PatientName:   "Patient " + c.Name,
		ContactNumber: "112",
		Type:          kind,
		Priority:      model.Priority(c.Priority),
		Location:      model.Location{Coordinates: model.Coordinates{Lat: c.Lat, Lng: c.Lng}},
	}
}

type Point struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

// Step is one action. Exactly one of its action groups is expected to be set.
type Step struct {
	Submit []CallDef `yaml:"submit,omitempty"`
	// Concurrent submits all calls of the step at the same time.
	Concurrent bool `yaml:"concurrent,omitempty"`

	Ambulance string `yaml:"ambulance,omitempty"`
	Status    string `yaml:"status,omitempty"`
	Move      *Point `yaml:"move,omitempty"`

	Call       string `yaml:"call,omitempty"`
	CallStatus string `yaml:"call_status,omitempty"`

	Advance  time.Duration `yaml:"advance,omitempty"`
	Escalate bool          `yaml:"escalate,omitempty"`
	Drain    bool          `yaml:"drain,omitempty"`
}

type Expected struct {
	Calls      map[string]string `yaml:"calls,omitempty"`
	Ambulances map[string]string `yaml:"ambulances,omitempty"`
	// Queue lists call names from head to tail.
	Queue       []string          `yaml:"queue,omitempty"`
	QueueLength *int              `yaml:"queue_length,omitempty"`
	Tiers       map[string]string `yaml:"tiers,omitempty"`
	Dispatched  *int              `yaml:"dispatched,omitempty"`
	Pending     *int              `yaml:"pending,omitempty"`
	// Promotions counts promoted escalation events over the whole run.
	Promotions *int `yaml:"promotions,omitempty"`
}

type Scenario struct {
	Name                string         `yaml:"name"`
	Description         string         `yaml:"description,omitempty"`
	EscalationThreshold time.Duration  `yaml:"escalation_threshold,omitempty"`
	SpeedKmh            float64        `yaml:"speed_kmh,omitempty"`
	Fleet               []AmbulanceDef `yaml:"fleet"`
	Steps               []Step         `yaml:"steps"`
	Expected            Expected       `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name is required", path)
	}
	return &sc, nil
}
