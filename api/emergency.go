package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/pkg/export"
)

// intakeResponse is returned by POST /api/emergency.
type intakeResponse struct {
	CallID        string           `json:"call_id"`
	Status        model.CallStatus `json:"status"`
	Ambulance     *model.Ambulance `json:"ambulance,omitempty"`
	DistanceKm    float64          `json:"distance_km,omitempty"`
	ETASeconds    float64          `json:"eta_seconds,omitempty"`
	QueuePosition int              `json:"queue_position,omitempty"`
}

// callView is a call with its live assignment.
type callView struct {
	model.EmergencyCall
	Ambulance     *model.Ambulance `json:"ambulance,omitempty"`
	DistanceKm    float64          `json:"distance_km,omitempty"`
	ETASeconds    float64          `json:"eta_seconds,omitempty"`
	QueuePosition int              `json:"queue_position,omitempty"`
}

func viewOf(o dispatch.Outcome) callView {
	return callView{
		EmergencyCall: o.Call,
		Ambulance:     o.Ambulance,
		DistanceKm:    o.DistanceKm,
		ETASeconds:    o.ETA.Seconds(),
		QueuePosition: o.QueuePosition,
	}
}

func badRequest(err error) error {
	return &model.ValidationError{Field: "body", Reason: err.Error()}
}

func (s *Server) submitCall(c echo.Context) error {
	var req model.CallRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}
	out, err := s.d.Submit(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, intakeResponse{
		CallID:        out.Call.ID,
		Status:        out.Call.Status,
		Ambulance:     out.Ambulance,
		DistanceKm:    out.DistanceKm,
		ETASeconds:    out.ETA.Seconds(),
		QueuePosition: out.QueuePosition,
	})
}

func callFilter(c echo.Context) (callstore.Filter, error) {
	f := callstore.Filter{
		Status:     model.CallStatus(c.QueryParam("status")),
		Priority:   model.Priority(c.QueryParam("priority")),
		HospitalID: c.QueryParam("hospital_id"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, &model.ValidationError{Field: "status", Reason: "unknown call status " + string(f.Status)}
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return f, &model.ValidationError{Field: "priority", Reason: "unknown priority " + string(f.Priority)}
	}
	return f, nil
}

func (s *Server) listCalls(c echo.Context) error {
	f, err := callFilter(c)
	if err != nil {
		return err
	}
	calls, err := s.d.Calls().List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, calls)
}

// exportCalls streams the filtered calls as csv (default) or json.
func (s *Server) exportCalls(c echo.Context) error {
	f, err := callFilter(c)
	if err != nil {
		return err
	}
	format := c.QueryParam("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		return &model.ValidationError{Field: "format", Reason: "must be csv or json"}
	}
	calls, err := s.d.Calls().List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	res := c.Response()
	if format == "json" {
		res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		res.WriteHeader(http.StatusOK)
		return export.WriteJSON(res, calls)
	}
	res.Header().Set(echo.HeaderContentType, "text/csv")
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="calls.csv"`)
	res.WriteHeader(http.StatusOK)
	return export.WriteCSV(res, calls)
}

func (s *Server) getCall(c echo.Context) error {
	out, err := s.d.Describe(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(out))
}

type callUpdateBody struct {
	Status           *model.CallStatus `json:"status"`
	AmbulanceID      string            `json:"ambulance_id"`
	Notes            *string           `json:"notes"`
	TrafficAlertSent *bool             `json:"traffic_alert_sent"`
}

func (s *Server) updateCall(c echo.Context) error {
	var body callUpdateBody
	if err := c.Bind(&body); err != nil {
		return badRequest(err)
	}
	out, err := s.d.UpdateCall(c.Request().Context(), c.Param("id"), dispatch.CallUpdate{
		Status:           body.Status,
		AmbulanceID:      body.AmbulanceID,
		Notes:            body.Notes,
		TrafficAlertSent: body.TrafficAlertSent,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(out))
}
