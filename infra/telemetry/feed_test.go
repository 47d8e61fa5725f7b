package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeternum-health/dispatch/config"
	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/model"
	infmqtt "github.com/aeternum-health/dispatch/infra/mqtt"
)

type fakeUpdater struct {
	mu   sync.Mutex
	got  map[string][]dispatch.AmbulanceUpdate
	err  error
	done chan struct{}
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{got: map[string][]dispatch.AmbulanceUpdate{}, done: make(chan struct{}, 16)}
}

func (f *fakeUpdater) UpdateAmbulance(_ context.Context, id string, u dispatch.AmbulanceUpdate) (model.Ambulance, error) {
	f.mu.Lock()
	f.got[id] = append(f.got[id], u)
	f.mu.Unlock()
	f.done <- struct{}{}
	return model.Ambulance{ID: id}, f.err
}

func (f *fakeUpdater) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("update not applied")
	}
}

func TestDecode(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fix, err := decode("ambulance/a1/location", []byte(`{"lat":28.61,"lng":77.2,"timestamp":1714557590000}`), now)
	require.NoError(t, err)
	assert.Equal(t, "a1", fix.AmbulanceID)
	require.NotNil(t, fix.Update.Location)
	assert.Equal(t, 28.61, fix.Update.Location.Lat)
	assert.Nil(t, fix.Update.Status)
	assert.Equal(t, now.Add(-10*time.Second), fix.Update.At.UTC())

	fix, err = decode("fleet/x/gps", []byte(`{"ambulance_id":"a2","status":"en_route"}`), now)
	require.NoError(t, err)
	assert.Equal(t, "a2", fix.AmbulanceID)
	assert.Equal(t, model.AmbulanceEnRoute, *fix.Update.Status)
	assert.Equal(t, now, fix.Update.At)

	bad := []string{
		`not json`,
		`{"lat":28.61}`,
		`{"lat":95,"lng":77}`,
		`{"status":"flying"}`,
		`{}`,
	}
	for _, p := range bad {
		_, err := decode("ambulance/a1/location", []byte(p), now)
		assert.Error(t, err, p)
	}
	_, err = decode("dispatch/alerts/x", []byte(`{"lat":1,"lng":1}`), now)
	assert.Error(t, err)
}

func TestFeed_AppliesFixesFromBroker(t *testing.T) {
	pub := infmqtt.NewMockPublisher()
	up := newFakeUpdater()
	reg := prometheus.NewRegistry()
	f, err := NewFeed(config.TelemetryConfig{}, pub, up, nil, reg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.Start(ctx))

	n := pub.Deliver("ambulance/a1/location", []byte(`{"lat":28.61,"lng":77.2}`))
	require.Equal(t, 1, n)
	up.wait(t)
	pub.Deliver("ambulance/a1/location", []byte(`{"lat":"north"}`))

	up.mu.Lock()
	assert.Len(t, up.got["a1"], 1)
	up.mu.Unlock()
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.results.WithLabelValues("applied")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.results.WithLabelValues("invalid")))
}

func TestFeed_RejectedUpdateCounted(t *testing.T) {
	up := newFakeUpdater()
	up.err = &model.NotFoundError{Entity: "ambulance", ID: "ghost"}
	f, err := NewFeed(config.TelemetryConfig{}, infmqtt.NewMockPublisher(), up, nil, nil)
	require.NoError(t, err)
	f.apply(context.Background(), Fix{AmbulanceID: "ghost", Update: dispatch.AmbulanceUpdate{At: time.Now()}})
	assert.Equal(t, 1.0, testutil.ToFloat64(f.results.WithLabelValues("rejected")))
}

func TestFeed_DropsWhenBufferFull(t *testing.T) {
	up := newFakeUpdater()
	f, err := NewFeed(config.TelemetryConfig{BufferSize: 1}, infmqtt.NewMockPublisher(), up, nil, nil)
	require.NoError(t, err)
	// No worker running: the second fix finds the buffer full.
	f.onMessage("ambulance/a1/location", []byte(`{"lat":28.61,"lng":77.2}`))
	f.onMessage("ambulance/a1/location", []byte(`{"lat":28.62,"lng":77.2}`))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.results.WithLabelValues("dropped")))
	assert.Len(t, f.fixes, 1)
}

func TestFeed_DropsStaleFixes(t *testing.T) {
	f, err := NewFeed(config.TelemetryConfig{MaxLagSeconds: 30}, infmqtt.NewMockPublisher(), newFakeUpdater(), nil, nil)
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }
	f.onMessage("ambulance/a1/location", []byte(`{"lat":28.61,"lng":77.2,"timestamp":1714557000000}`))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.results.WithLabelValues("stale")))
	assert.Empty(t, f.fixes)
}

func TestNewFeed_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewFeed(config.TelemetryConfig{}, infmqtt.NewMockPublisher(), newFakeUpdater(), nil, reg)
	require.NoError(t, err)
	_, err = NewFeed(config.TelemetryConfig{}, infmqtt.NewMockPublisher(), newFakeUpdater(), nil, reg)
	assert.Error(t, err)
}
