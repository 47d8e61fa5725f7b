package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeternum-health/dispatch/config"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/registry"
)

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.Logging.Path = filepath.Join(t.TempDir(), "dispatch.log")
	cfg.API.Addr = "127.0.0.1:0"
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestServiceWiring(t *testing.T) {
	ctx := context.Background()
	svc, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	_, err = svc.Manager.Register(ctx, model.Ambulance{
		ID: "a1", VehicleNumber: "DL-1", Capacity: 2,
		Location: model.Position{Coordinates: model.Coordinates{Lat: 28.6, Lng: 77.2}},
	})
	require.NoError(t, err)
	out, err := svc.Manager.Submit(ctx, model.CallRequest{
		PatientName: "Ravi", ContactNumber: "100", Type: model.EmergencyTrauma,
		Location: model.Location{Coordinates: model.Coordinates{Lat: 28.61, Lng: 77.21}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.CallDispatched, out.Call.Status)

	rec := httptest.NewRecorder()
	svc.API.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dispatch/logs?action=dispatched", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), out.Call.ID)
}

func TestServiceRunStops(t *testing.T) {
	svc, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestStoresMemory(t *testing.T) {
	reg, calls, pool, err := Stores(context.Background(), config.StorageConfig{Backend: config.StorageMemory})
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.IsType(t, &registry.MemoryRegistry{}, reg)
	assert.NotNil(t, calls)
}
