package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/aeternum-health/dispatch/core/dispatch/logging"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/queue"
)

// queueItem is one waiting call in the dashboard queue view.
type queueItem struct {
	Position int `json:"position"`
	queue.Entry
	PatientName string         `json:"patient_name,omitempty"`
	Priority    model.Priority `json:"priority,omitempty"`
	Address     string         `json:"address,omitempty"`
	WaitSeconds float64        `json:"wait_seconds"`
}

func (s *Server) queueSnapshot(c echo.Context) error {
	ctx := c.Request().Context()
	now := time.Now()
	entries := s.d.Queue().Snapshot()
	items := make([]queueItem, 0, len(entries))
	for i, e := range entries {
		it := queueItem{Position: i + 1, Entry: e, WaitSeconds: now.Sub(e.EnqueuedAt).Seconds()}
		if call, err := s.d.Calls().Get(ctx, e.CallID); err == nil {
			it.PatientName = call.PatientName
			it.Priority = call.Priority
			it.Address = call.Location.Address
		}
		items = append(items, it)
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) stats(c echo.Context) error {
	st, err := s.d.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func parseTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: field, Reason: "must be RFC3339"}
	}
	return t, nil
}

func (s *Server) queryLogs(c echo.Context) error {
	q := logging.LogQuery{
		CallID:      c.QueryParam("call_id"),
		AmbulanceID: c.QueryParam("ambulance_id"),
		Action:      logging.Action(c.QueryParam("action")),
	}
	var err error
	if q.Start, err = parseTime("start", c.QueryParam("start")); err != nil {
		return err
	}
	if q.End, err = parseTime("end", c.QueryParam("end")); err != nil {
		return err
	}
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return &model.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
		}
		q.Limit = n
	}
	records, err := s.logs.Query(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if records == nil {
		records = []logging.LogRecord{}
	}
	return c.JSON(http.StatusOK, records)
}
