package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10M", 10 << 20},
		{"512K", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
	}

	for _, tt := range tests {
		got := parseLimit(tt.input)
		if got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	body := strings.NewReader(`{"resourceType":"Patient"}`)
	req := httptest.NewRequest(http.MethodPost, "/fhir/R4/Patient", body)
	req.Header.Set("Content-Type", "application/fhir+json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if len(b) == 0 {
			t.Error("expected non-empty body")
		}
		called = true
		return c.String(http.StatusCreated, "created")
	}

	if err := BodyLimit("1M")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestBodyLimit_RejectsOversizedContentLength(t *testing.T) {
	e := echo.New()
	largeBody := bytes.Repeat([]byte("x"), 2048)
	req := httptest.NewRequest(http.MethodPost, "/fhir/R4/Patient", bytes.NewReader(largeBody))
	req.Header.Set("Content-Type", "application/fhir+json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		t.Error("handler should not be called when body exceeds limit")
		return c.String(http.StatusCreated, "created")
	}

	if err := BodyLimit("1K")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}

	var outcome map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if outcome["resourceType"] != "OperationOutcome" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestBodyLimit_SkipsNilBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/R4/Patient", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	}

	if err := BodyLimit("1M")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called for GET with no body")
	}
}

func TestBodyLimit_EnforcesLimitDuringRead(t *testing.T) {
	e := echo.New()
	largeBody := bytes.Repeat([]byte("a"), 1024)
	req := httptest.NewRequest(http.MethodPost, "/fhir/R4/Patient", bytes.NewReader(largeBody))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/fhir+json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	}

	err := BodyLimit("512")(handler)(c)
	if err == nil {
		t.Fatal("expected error when reading body exceeds limit")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("code = %d, want 413", httpErr.Code)
	}
}
