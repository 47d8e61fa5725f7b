package model

import (
	"strings"
	"time"
)

// AmbulanceStatus is the operational state of an ambulance.
type AmbulanceStatus string

const (
	AmbulanceAvailable    AmbulanceStatus = "available"
	AmbulanceDispatched   AmbulanceStatus = "dispatched"
	AmbulanceEnRoute      AmbulanceStatus = "en_route"
	AmbulanceAtScene      AmbulanceStatus = "at_scene"
	AmbulanceReturning    AmbulanceStatus = "returning"
	AmbulanceMaintenance  AmbulanceStatus = "maintenance"
	AmbulanceOutOfService AmbulanceStatus = "out_of_service"
)

// Valid reports whether s is a known ambulance status.
func (s AmbulanceStatus) Valid() bool {
	switch s {
	case AmbulanceAvailable, AmbulanceDispatched, AmbulanceEnRoute, AmbulanceAtScene,
		AmbulanceReturning, AmbulanceMaintenance, AmbulanceOutOfService:
		return true
	}
	return false
}

// Active reports whether an ambulance in status s is bound to a call.
func (s AmbulanceStatus) Active() bool {
	switch s {
	case AmbulanceDispatched, AmbulanceEnRoute, AmbulanceAtScene, AmbulanceReturning:
		return true
	}
	return false
}

// AmbulanceKind is the equipment class of a vehicle.
type AmbulanceKind string

const (
	KindBasic            AmbulanceKind = "basic"
	KindAdvanced         AmbulanceKind = "advanced"
	KindMobileICU        AmbulanceKind = "mobile_icu"
	KindNeonatal         AmbulanceKind = "neonatal"
	KindPatientTransport AmbulanceKind = "patient_transport"
)

// Valid reports whether k is a known ambulance kind.
func (k AmbulanceKind) Valid() bool {
	switch k {
	case KindBasic, KindAdvanced, KindMobileICU, KindNeonatal, KindPatientTransport:
		return true
	}
	return false
}

// Position is the last reported location of an ambulance.
type Position struct {
	Coordinates Coordinates `json:"coordinates" yaml:"coordinates"`
	LastUpdated time.Time   `json:"last_updated" yaml:"-"`
}

// MaintenanceSchedule tracks servicing of a vehicle.
type MaintenanceSchedule struct {
	LastMaintenance time.Time `json:"last_maintenance"`
	NextMaintenance time.Time `json:"next_maintenance"`
	Type            string    `json:"maintenance_type,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

// DefaultMaintenanceInterval is applied when a vehicle is registered without
// a maintenance schedule.
const DefaultMaintenanceInterval = 90 * 24 * time.Hour

// Ambulance is a fleet vehicle that can be dispatched to a call.
type Ambulance struct {
	ID                  string              `json:"id" yaml:"id"`
	HospitalID          string              `json:"hospital_id,omitempty" yaml:"hospital_id"`
	DriverName          string              `json:"driver_name" yaml:"driver_name"`
	VehicleNumber       string              `json:"vehicle_number" yaml:"vehicle_number"`
	Kind                AmbulanceKind       `json:"kind" yaml:"kind"`
	Status              AmbulanceStatus     `json:"status" yaml:"status"`
	Location            Position            `json:"location" yaml:"location"`
	CurrentCallID       string              `json:"current_call_id,omitempty" yaml:"-"`
	Capacity            int                 `json:"capacity" yaml:"capacity"`
	Equipment           []string            `json:"equipment,omitempty" yaml:"equipment"`
	Crew                []string            `json:"crew,omitempty" yaml:"crew"`
	MaintenanceSchedule MaintenanceSchedule `json:"maintenance_schedule" yaml:"-"`
	UpdatedAt           time.Time           `json:"updated_at" yaml:"-"`
}

// PrepareRegistration normalizes a new ambulance record and applies defaults.
func (a *Ambulance) PrepareRegistration(now time.Time) {
	a.ID = strings.TrimSpace(a.ID)
	a.DriverName = strings.TrimSpace(a.DriverName)
	a.VehicleNumber = strings.TrimSpace(a.VehicleNumber)
	if a.Kind == "" {
		a.Kind = KindBasic
	}
	a.Status = AmbulanceAvailable
	a.CurrentCallID = ""
	if a.MaintenanceSchedule.LastMaintenance.IsZero() {
		a.MaintenanceSchedule.LastMaintenance = now
	}
	if a.MaintenanceSchedule.NextMaintenance.IsZero() {
		a.MaintenanceSchedule.NextMaintenance = a.MaintenanceSchedule.LastMaintenance.Add(DefaultMaintenanceInterval)
		if a.MaintenanceSchedule.Type == "" {
			a.MaintenanceSchedule.Type = "Regular check-up"
		}
	}
	if !a.Location.Coordinates.IsZero() && a.Location.LastUpdated.IsZero() {
		a.Location.LastUpdated = now
	}
	a.UpdatedAt = now
}

// Validate checks a registration record.
func (a Ambulance) Validate() error {
	if a.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if a.VehicleNumber == "" {
		return &ValidationError{Field: "vehicle_number", Reason: "is required"}
	}
	if a.Capacity < 1 {
		return &ValidationError{Field: "capacity", Reason: "must be at least 1"}
	}
	if !a.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "unknown kind " + string(a.Kind)}
	}
	if !a.Location.Coordinates.IsZero() {
		if err := a.Location.Coordinates.Validate(); err != nil {
			return &ValidationError{Field: "location.coordinates", Reason: err.Error()}
		}
	}
	return nil
}

// CheckInvariant verifies that the call reference matches the status.
func (a Ambulance) CheckInvariant() error {
	if a.Status.Active() != (a.CurrentCallID != "") {
		return &InvariantError{Entity: "ambulance", ID: a.ID, Detail: "current call does not match status " + string(a.Status)}
	}
	return nil
}

// Clone returns a copy that shares no slices with a.
func (a Ambulance) Clone() Ambulance {
	c := a
	if a.Equipment != nil {
		c.Equipment = append([]string(nil), a.Equipment...)
	}
	if a.Crew != nil {
		c.Crew = append([]string(nil), a.Crew...)
	}
	return c
}
