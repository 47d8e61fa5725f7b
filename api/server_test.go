package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/dispatch/logging"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/registry"
	"github.com/aeternum-health/dispatch/pkg/export"
)

const secret = "test-secret"

var scene = model.Coordinates{Lat: 28.62, Lng: 77.21}

func newManager(t *testing.T, ambs ...model.Ambulance) *dispatch.Manager {
	t.Helper()
	m, err := dispatch.NewManager(dispatch.Config{}, dispatch.Deps{
		Registry: registry.NewMemoryRegistry(),
		Calls:    callstore.NewMemoryStore(),
	})
	require.NoError(t, err)
	for _, a := range ambs {
		_, err := m.Register(context.Background(), a)
		require.NoError(t, err)
	}
	return m
}

func ambulance(id string) model.Ambulance {
	return model.Ambulance{
		ID: id, VehicleNumber: "DL-" + id, Capacity: 2,
		Location: model.Position{Coordinates: model.Coordinates{Lat: 28.60, Lng: 77.20}},
	}
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Roles:            roles,
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func intake() map[string]any {
	return map[string]any{
		"patient_name":   "Asha",
		"contact_number": "+91 98100 00000",
		"emergency_type": "cardiac",
		"priority":       "high",
		"location":       map[string]any{"address": "12 Ring Road", "coordinates": map[string]float64{"latitude": scene.Lat, "longitude": scene.Lng}},
	}
}

func TestEmergencyLifecycle(t *testing.T) {
	h := New(Config{}, newManager(t, ambulance("a1")), nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/emergency", "", intake())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created intakeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, model.CallDispatched, created.Status)
	require.NotNil(t, created.Ambulance)
	assert.Equal(t, "a1", created.Ambulance.ID)
	assert.Greater(t, created.ETASeconds, 0.0)

	rec = do(t, h, http.MethodGet, "/api/emergency/"+created.CallID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view callView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "a1", view.AssignedAmbulanceID)

	rec = do(t, h, http.MethodPut, "/api/emergency/"+created.CallID, "", map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/emergency/"+created.CallID, "", map[string]any{"status": "en_route", "notes": "gate 4"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, model.CallEnRoute, view.Status)
	assert.Equal(t, "gate 4", view.Notes)

	rec = do(t, h, http.MethodGet, "/api/ambulances/a1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var amb model.Ambulance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &amb))
	assert.Equal(t, model.AmbulanceEnRoute, amb.Status)

	rec = do(t, h, http.MethodGet, "/api/emergency?status=en_route", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var calls []model.EmergencyCall
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calls))
	assert.Len(t, calls, 1)
}

func TestErrorMapping(t *testing.T) {
	h := New(Config{}, newManager(t), nil, nil).Handler()

	body := intake()
	delete(body, "patient_name")
	rec := do(t, h, http.MethodPost, "/api/emergency", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var eb errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	assert.Equal(t, "patient_name", eb.Field)

	rec = do(t, h, http.MethodGet, "/api/emergency/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/emergency?status=lost", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/ambulances", "", ambulance("a1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/ambulances", "", ambulance("a1"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/ambulances/a1", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, "/api/ambulances/a1", "", map[string]any{"status": "at_scene"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPut, "/api/ambulances/a1", "", map[string]any{"status": "maintenance"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoles(t *testing.T) {
	h := New(Config{JWTSecret: secret}, newManager(t, ambulance("a1")), nil, nil).Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/ambulances", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/ambulances", "garbage", nil).Code)

	driver := token(t, RoleDriver)
	hospital := token(t, RoleHospital)
	admin := token(t, RoleAdmin)

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/emergency", driver, intake()).Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/emergency", hospital, intake()).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/ambulances/a1", driver, nil).Code)

	loc := map[string]any{"location": map[string]float64{"latitude": 28.61, "longitude": 77.205}}
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/api/ambulances/a1", driver, loc).Code)

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/ambulances", hospital, ambulance("a2")).Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/ambulances", admin, ambulance("a2")).Code)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Roles: []string{RoleAdmin}})
	forged, err := other.SignedString([]byte("wrong"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/ambulances", forged, nil).Code)
}

func TestDashboardViews(t *testing.T) {
	logs, err := logging.NewJSONLStore(filepath.Join(t.TempDir(), "dispatch.log"))
	require.NoError(t, err)
	defer logs.Close()
	m, err := dispatch.NewManager(dispatch.Config{}, dispatch.Deps{
		Registry: registry.NewMemoryRegistry(),
		Calls:    callstore.NewMemoryStore(),
		Logs:     logs,
	})
	require.NoError(t, err)
	h := New(Config{}, m, logs, nil).Handler()

	low := intake()
	low["priority"] = "low"
	for _, b := range []map[string]any{low, intake()} {
		rec := do(t, h, http.MethodPost, "/api/emergency", "", b)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/dispatch/queue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []queueItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, model.PriorityHigh, items[0].Priority)
	assert.Equal(t, 2, items[1].Position)

	rec = do(t, h, http.MethodGet, "/api/dispatch/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st dispatch.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.QueueLength)
	assert.Equal(t, 2, st.Calls[model.CallPending])

	rec = do(t, h, http.MethodGet, "/api/dispatch/logs?action=submitted", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []logging.LogRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/dispatch/logs?start=yesterday", "", nil).Code)

	rec = do(t, h, http.MethodGet, "/api/dispatch/report", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "Dispatch performance")

	rec = do(t, h, http.MethodGet, "/api/emergency/export?priority=high", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 2)
	assert.NotContains(t, rec.Body.String(), "Asha")

	rec = do(t, h, http.MethodGet, "/api/emergency/export?format=json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []export.Row
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/emergency/export?format=xml", "", nil).Code)
}

type mockDispatcher struct {
	mock.Mock
	*dispatch.Manager
}

// Calls resolves the clash between mock.Mock.Calls and Manager.Calls.
func (m *mockDispatcher) Calls() callstore.Store { return m.Manager.Calls() }

func (m *mockDispatcher) Stats(ctx context.Context) (dispatch.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(dispatch.Stats), args.Error(1)
}

func TestInternalErrorsAreHidden(t *testing.T) {
	d := &mockDispatcher{Manager: newManager(t)}
	d.On("Stats", mock.Anything).Return(dispatch.Stats{}, errors.New("connection reset by peer"))
	h := New(Config{}, d, nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/dispatch/stats", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
	d.AssertExpectations(t)
}

func TestRenderReport(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	calls := []model.EmergencyCall{
		{Priority: model.PriorityCritical, Timestamps: model.CallTimestamps{Received: t0, Dispatched: t0.Add(30 * time.Second), Arrived: t0.Add(5 * time.Minute)}},
		{Priority: model.PriorityLow, Timestamps: model.CallTimestamps{Received: t0}},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderReport(calls, &buf))
	assert.Contains(t, buf.String(), "Dispatch wait")
}
