package model

import (
	"strings"
	"time"
)

// EmergencyType classifies the nature of an emergency call.
type EmergencyType string

const (
	EmergencyCardiac     EmergencyType = "cardiac"
	EmergencyAccident    EmergencyType = "accident"
	EmergencyRespiratory EmergencyType = "respiratory"
	EmergencyStroke      EmergencyType = "stroke"
	EmergencyTrauma      EmergencyType = "trauma"
	EmergencyOther       EmergencyType = "other"
)

// Valid reports whether t is a known emergency type.
func (t EmergencyType) Valid() bool {
	switch t {
	case EmergencyCardiac, EmergencyAccident, EmergencyRespiratory, EmergencyStroke, EmergencyTrauma, EmergencyOther:
		return true
	}
	return false
}

// CallStatus is the lifecycle state of an emergency call.
type CallStatus string

const (
	CallPending    CallStatus = "pending"
	CallDispatched CallStatus = "dispatched"
	CallEnRoute    CallStatus = "en_route"
	CallArrived    CallStatus = "arrived"
	CallCompleted  CallStatus = "completed"
	CallCancelled  CallStatus = "cancelled"
)

// Valid reports whether s is a known call status.
func (s CallStatus) Valid() bool {
	switch s {
	case CallPending, CallDispatched, CallEnRoute, CallArrived, CallCompleted, CallCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s CallStatus) Terminal() bool {
	return s == CallCompleted || s == CallCancelled
}

// HoldsAmbulance reports whether a call in status s must reference an ambulance.
func (s CallStatus) HoldsAmbulance() bool {
	return s == CallDispatched || s == CallEnRoute || s == CallArrived
}

// Location is a free-text address plus its resolved coordinates.
type Location struct {
	Address     string      `json:"address,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
}

// CallTimestamps records the lifecycle milestones of a call. Each field is set
// at most once; a zero value means the milestone has not been reached.
type CallTimestamps struct {
	Received   time.Time `json:"received"`
	Dispatched time.Time `json:"dispatched,omitempty"`
	Arrived    time.Time `json:"arrived,omitempty"`
	Completed  time.Time `json:"completed,omitempty"`
}

// EmergencyCall is a request for an ambulance.
type EmergencyCall struct {
	ID                  string         `json:"id"`
	HospitalID          string         `json:"hospital_id,omitempty"`
	PatientName         string         `json:"patient_name"`
	ContactNumber       string         `json:"contact_number"`
	Location            Location       `json:"location"`
	Type                EmergencyType  `json:"emergency_type"`
	Priority            Priority       `json:"priority"`
	Status              CallStatus     `json:"status"`
	AssignedAmbulanceID string         `json:"assigned_ambulance_id,omitempty"`
	Timestamps          CallTimestamps `json:"timestamps"`
	Description         string         `json:"description,omitempty"`
	Notes               string         `json:"notes,omitempty"`
	TrafficAlertSent    bool           `json:"traffic_alert_sent"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// CallRequest carries the intake form submitted by a caller or operator.
type CallRequest struct {
	HospitalID    string        `json:"hospital_id"`
	PatientName   string        `json:"patient_name"`
	ContactNumber string        `json:"contact_number"`
	Location      Location      `json:"location"`
	Type          EmergencyType `json:"emergency_type"`
	Priority      Priority      `json:"priority"`
	Description   string        `json:"description"`
	Notes         string        `json:"notes"`
}

// Normalize trims the free-text fields and fills in the default priority.
func (r *CallRequest) Normalize() {
	r.PatientName = strings.TrimSpace(r.PatientName)
	r.ContactNumber = strings.TrimSpace(r.ContactNumber)
	r.Location.Address = strings.TrimSpace(r.Location.Address)
	r.Description = strings.TrimSpace(r.Description)
	r.Notes = strings.TrimSpace(r.Notes)
	r.Type = EmergencyType(strings.ToLower(strings.TrimSpace(string(r.Type))))
	r.Priority = Priority(strings.ToLower(strings.TrimSpace(string(r.Priority))))
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
}

// Validate checks the required intake fields. Coordinates are validated only
// when no address is available to resolve them from.
func (r CallRequest) Validate() error {
	if r.PatientName == "" {
		return &ValidationError{Field: "patient_name", Reason: "is required"}
	}
	if r.ContactNumber == "" {
		return &ValidationError{Field: "contact_number", Reason: "is required"}
	}
	if r.Type == "" {
		return &ValidationError{Field: "emergency_type", Reason: "is required"}
	}
	if !r.Type.Valid() {
		return &ValidationError{Field: "emergency_type", Reason: "unknown type " + string(r.Type)}
	}
	if !r.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown priority " + string(r.Priority)}
	}
	if r.Location.Coordinates.IsZero() {
		if r.Location.Address == "" {
			return &ValidationError{Field: "location", Reason: "address or coordinates required"}
		}
		return nil
	}
	if err := r.Location.Coordinates.Validate(); err != nil {
		return &ValidationError{Field: "location.coordinates", Reason: err.Error()}
	}
	return nil
}

// CheckInvariant verifies that the ambulance reference matches the status.
func (c EmergencyCall) CheckInvariant() error {
	if c.Status.HoldsAmbulance() != (c.AssignedAmbulanceID != "") {
		return &InvariantError{Entity: "call", ID: c.ID, Detail: "assigned ambulance does not match status " + string(c.Status)}
	}
	return nil
}
