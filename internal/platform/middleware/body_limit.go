package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// BodyLimit caps the request body size. The limit is a human-readable
// string: "1M", "512K", "10G"; a bare number is bytes. Oversized requests
// get a 413 with an OperationOutcome body.
func BodyLimit(limit string) echo.MiddlewareFunc {
	maxBytes := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Body == nil || c.Request().Body == http.NoBody {
				return next(c)
			}

			// Content-Length allows early rejection; the wrapping reader
			// still enforces the limit when the header is missing or lies.
			if c.Request().ContentLength > maxBytes {
				return payloadTooLarge(c, maxBytes)
			}
			c.Request().Body = &limitedReadCloser{
				ReadCloser: c.Request().Body,
				remaining:  maxBytes,
			}
			return next(c)
		}
	}
}

type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (n int, err error) {
	if r.exceeded {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	toRead := int64(len(p))
	if toRead > r.remaining+1 {
		toRead = r.remaining + 1
	}

	n, err = r.ReadCloser.Read(p[:toRead])
	r.remaining -= int64(n)
	if r.remaining < 0 {
		r.exceeded = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return n, err
}

func payloadTooLarge(c echo.Context, limit int64) error {
	outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, "too-costly",
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit))
	return c.JSON(http.StatusRequestEntityTooLarge, outcome)
}

// parseLimit parses a size string into bytes, defaulting to 1 MB when the
// string is empty or malformed.
func parseLimit(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 1 << 20
	}

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G"), strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimRight(s, "GB")
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimRight(s, "MB")
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimRight(s, "KB")
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 1 << 20
	}
	return n * multiplier
}
