package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/aeternum-health/dispatch/core/metrics"
	"github.com/aeternum-health/dispatch/infra/logger"
)

// InfluxSink writes dispatch events and ambulance tracks to an InfluxDB
// instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDispatch writes one dispatch_event point.
func (s *InfluxSink) RecordDispatch(rec coremetrics.DispatchRecord) error {
	p := write.NewPointWithMeasurement("dispatch_event").
		AddTag("call_id", rec.CallID).
		AddTag("ambulance_id", rec.AmbulanceID).
		AddTag("priority", string(rec.Priority)).
		AddField("distance_km", round3(rec.DistanceKm)).
		AddField("eta_s", rec.ETA.Seconds()).
		AddField("wait_s", round3(rec.Wait.Seconds())).
		SetTime(rec.Time)
	return s.write(p)
}

// RecordEscalation writes a queue_escalation point.
func (s *InfluxSink) RecordEscalation(ev coremetrics.EscalationRecord) error {
	p := write.NewPointWithMeasurement("queue_escalation").
		AddTag("call_id", ev.CallID).
		AddTag("kind", ev.Kind).
		AddField("from_tier", ev.From.String()).
		AddField("to_tier", ev.To.String()).
		AddField("waited_s", round3(ev.Waited.Seconds())).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordQueue writes the pending queue length.
func (s *InfluxSink) RecordQueue(ev coremetrics.QueueSnapshot) error {
	p := write.NewPointWithMeasurement("queue_length").
		AddField("length", ev.Length).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordPosition writes an ambulance_position point.
func (s *InfluxSink) RecordPosition(ev coremetrics.PositionEvent) error {
	p := write.NewPointWithMeasurement("ambulance_position").
		AddTag("ambulance_id", ev.AmbulanceID).
		AddTag("status", string(ev.Status)).
		AddField("lat", ev.Coordinates.Lat).
		AddField("lng", ev.Coordinates.Lng).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordStatus writes an ambulance_status point.
func (s *InfluxSink) RecordStatus(ev coremetrics.StatusEvent) error {
	p := write.NewPointWithMeasurement("ambulance_status").
		AddTag("ambulance_id", ev.AmbulanceID).
		AddField("from", string(ev.From)).
		AddField("to", string(ev.To)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordArrival writes an ambulance_arrival point.
func (s *InfluxSink) RecordArrival(ev coremetrics.ArrivalRecord) error {
	p := write.NewPointWithMeasurement("ambulance_arrival").
		AddTag("ambulance_id", ev.AmbulanceID).
		AddTag("call_id", ev.CallID).
		AddField("response_s", round3(ev.Response.Seconds())).
		SetTime(ev.Time)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
