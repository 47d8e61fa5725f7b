// Package tracking estimates arrival times for dispatched ambulances and
// detects arrival at the scene from the location feed.
package tracking

import (
	"fmt"
	"math"
	"time"

	"github.com/aeternum-health/dispatch/core/model"
)

const (
	// DefaultSpeedKmh is the average urban ambulance speed.
	DefaultSpeedKmh = 40.0
	// DefaultArrivalThresholdKm is the remaining distance treated as arrived.
	DefaultArrivalThresholdKm = 0.05
)

// EstimateETA returns the travel time from -> to at speedKmh. The result is
// deterministic and never negative.
func EstimateETA(from, to model.Coordinates, speedKmh float64) (time.Duration, error) {
	if speedKmh <= 0 || math.IsNaN(speedKmh) || math.IsInf(speedKmh, 0) {
		return 0, fmt.Errorf("tracking: invalid speed %v km/h", speedKmh)
	}
	hours := model.Distance(from, to) / speedKmh
	return time.Duration(hours * float64(time.Hour)).Round(time.Second), nil
}
