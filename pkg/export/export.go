// Package export writes call histories for offline reporting. Patient name
// and contact number are never written.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/aeternum-health/dispatch/core/model"
)

// Row is one exported call.
type Row struct {
	CallID      string  `json:"call_id"`
	HospitalID  string  `json:"hospital_id,omitempty"`
	Type        string  `json:"emergency_type"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	AmbulanceID string  `json:"ambulance_id,omitempty"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Received    string  `json:"received"`
	Dispatched  string  `json:"dispatched,omitempty"`
	Arrived     string  `json:"arrived,omitempty"`
	Completed   string  `json:"completed,omitempty"`
	// WaitSeconds is received to dispatched, -1 when never dispatched.
	WaitSeconds float64 `json:"wait_seconds"`
	// ResponseSeconds is dispatched to arrived, -1 when not arrived.
	ResponseSeconds float64 `json:"response_seconds"`
}

var header = []string{
	"call_id", "hospital_id", "emergency_type", "priority", "status", "ambulance_id",
	"lat", "lng", "received", "dispatched", "arrived", "completed", "wait_seconds", "response_seconds",
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func span(from, to time.Time) float64 {
	if from.IsZero() || to.IsZero() {
		return -1
	}
	return to.Sub(from).Seconds()
}

// RowOf flattens a call.
func RowOf(c model.EmergencyCall) Row {
	ts := c.Timestamps
	return Row{
		CallID:          c.ID,
		HospitalID:      c.HospitalID,
		Type:            string(c.Type),
		Priority:        string(c.Priority),
		Status:          string(c.Status),
		AmbulanceID:     c.AssignedAmbulanceID,
		Lat:             c.Location.Coordinates.Lat,
		Lng:             c.Location.Coordinates.Lng,
		Received:        stamp(ts.Received),
		Dispatched:      stamp(ts.Dispatched),
		Arrived:         stamp(ts.Arrived),
		Completed:       stamp(ts.Completed),
		WaitSeconds:     span(ts.Received, ts.Dispatched),
		ResponseSeconds: span(ts.Dispatched, ts.Arrived),
	}
}

// WriteJSON writes calls as a JSON array of rows.
func WriteJSON(w io.Writer, calls []model.EmergencyCall) error {
	rows := make([]Row, len(calls))
	for i, c := range calls {
		rows[i] = RowOf(c)
	}
	return json.NewEncoder(w).Encode(rows)
}

// WriteCSV writes calls with a header line.
func WriteCSV(w io.Writer, calls []model.EmergencyCall) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, c := range calls {
		r := RowOf(c)
		rec := []string{
			r.CallID, r.HospitalID, r.Type, r.Priority, r.Status, r.AmbulanceID,
			f(r.Lat), f(r.Lng), r.Received, r.Dispatched, r.Arrived, r.Completed,
			f(r.WaitSeconds), f(r.ResponseSeconds),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
