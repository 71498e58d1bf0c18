package rest

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// writeError maps the error taxonomy to its HTTP status and renders the
// OperationOutcome. A version conflict against a client-supplied If-Match
// is a failed precondition, so 409 upgrades to 412 in that case.
func (s *Server) writeError(c echo.Context, err error) error {
	kind := fhir.KindOf(err)
	status := kind.HTTPStatus()
	if kind == fhir.KindVersionConflict && c.Request().Header.Get("If-Match") != "" {
		status = http.StatusPreconditionFailed
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Msg("request failed")
	}
	return s.writeJSON(c, status, fhir.OutcomeFromError(err))
}
