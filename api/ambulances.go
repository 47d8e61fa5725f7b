package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/registry"
)

func (s *Server) listAmbulances(c echo.Context) error {
	f := registry.Filter{
		Status:     model.AmbulanceStatus(c.QueryParam("status")),
		HospitalID: c.QueryParam("hospital_id"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return &model.ValidationError{Field: "status", Reason: "unknown ambulance status " + string(f.Status)}
	}
	fleet, err := s.d.Registry().List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fleet)
}

func (s *Server) getAmbulance(c echo.Context) error {
	amb, err := s.d.Registry().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, amb)
}

func (s *Server) registerAmbulance(c echo.Context) error {
	var amb model.Ambulance
	if err := c.Bind(&amb); err != nil {
		return badRequest(err)
	}
	created, err := s.d.Register(c.Request().Context(), amb)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

type ambulanceUpdateBody struct {
	Status   *model.AmbulanceStatus `json:"status"`
	Location *model.Coordinates     `json:"location"`
}

func (s *Server) updateAmbulance(c echo.Context) error {
	var body ambulanceUpdateBody
	if err := c.Bind(&body); err != nil {
		return badRequest(err)
	}
	if body.Status == nil && body.Location == nil {
		return &model.ValidationError{Field: "body", Reason: "status or location required"}
	}
	amb, err := s.d.UpdateAmbulance(c.Request().Context(), c.Param("id"), dispatch.AmbulanceUpdate{
		Status:   body.Status,
		Location: body.Location,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, amb)
}
