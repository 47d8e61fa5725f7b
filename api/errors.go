package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/monitoring"
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorHandler renders domain errors as JSON and defers to echo for its own.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		_ = c.JSON(he.Code, errorBody{Error: msg})
		return
	}
	code := statusOf(err)
	body := errorBody{Error: err.Error()}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if code == http.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		monitoring.Report("api", err, "path", c.Path())
		body.Error = "internal error"
	}
	_ = c.JSON(code, body)
}
