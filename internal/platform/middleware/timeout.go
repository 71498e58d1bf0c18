package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// RequestTimeout sets a context deadline on each incoming request. If the
// deadline is exceeded before the handler completes, the request context is
// cancelled and a 504 with an OperationOutcome body is returned. Handlers
// that need more time can derive a longer deadline from the request context.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			// Run the handler in a goroutine so we can select on the context.
			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return gatewayTimeout(c)
				}
				// Client disconnect or upstream cancellation.
				return ctx.Err()
			}
		}
	}
}

func gatewayTimeout(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTimeout,
		"request processing exceeded the allowed time limit")
	return c.JSON(http.StatusGatewayTimeout, outcome)
}
