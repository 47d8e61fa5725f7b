package dispatch

import (
	"context"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/registry"
)

// Summary describes a sample of durations in seconds.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean_seconds"`
	StdDev float64 `json:"stddev_seconds"`
	P50    float64 `json:"p50_seconds"`
	P90    float64 `json:"p90_seconds"`
	Max    float64 `json:"max_seconds"`
}

// Stats is the dashboard view of the dispatch service.
type Stats struct {
	Calls       map[model.CallStatus]int      `json:"calls"`
	Ambulances  map[model.AmbulanceStatus]int `json:"ambulances"`
	QueueLength int                           `json:"queue_length"`
	Tracked     int                           `json:"tracked"`
	// DispatchWait is received to dispatched.
	DispatchWait Summary `json:"dispatch_wait"`
	// Response is dispatched to arrived.
	Response Summary   `json:"response"`
	Time     time.Time `json:"time"`
}

// Summarize computes the summary of xs, given in seconds.
func Summarize(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mean, std := stat.MeanStdDev(sorted, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Summary{
		Count:  len(sorted),
		Mean:   mean,
		StdDev: std,
		P50:    stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, sorted, nil),
		Max:    sorted[len(sorted)-1],
	}
}

// Stats collects counts by status and timing summaries over all calls.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	calls, err := m.calls.List(ctx, callstore.Filter{})
	if err != nil {
		return Stats{}, err
	}
	fleet, err := m.registry.List(ctx, registry.Filter{})
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Calls:       map[model.CallStatus]int{},
		Ambulances:  map[model.AmbulanceStatus]int{},
		QueueLength: m.queue.Len(),
		Tracked:     m.tracker.Active(),
		Time:        m.now(),
	}
	var waits, responses []float64
	for _, c := range calls {
		s.Calls[c.Status]++
		ts := c.Timestamps
		if !ts.Dispatched.IsZero() {
			waits = append(waits, ts.Dispatched.Sub(ts.Received).Seconds())
		}
		if !ts.Arrived.IsZero() && !ts.Dispatched.IsZero() {
			responses = append(responses, ts.Arrived.Sub(ts.Dispatched).Seconds())
		}
	}
	for _, a := range fleet {
		s.Ambulances[a.Status]++
	}
	s.DispatchWait = Summarize(waits)
	s.Response = Summarize(responses)
	return s, nil
}
