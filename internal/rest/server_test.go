package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/platform/auth"
	"github.com/fhirstore/fhirstore/internal/registry"
	"github.com/fhirstore/fhirstore/internal/repo"
	"github.com/fhirstore/fhirstore/internal/search"
	"github.com/fhirstore/fhirstore/internal/validate"
)

type fakeStore struct {
	read              func(ctx context.Context, scope search.Scope, resourceType, id string) (fhir.Document, error)
	readVersion       func(ctx context.Context, scope search.Scope, resourceType, id, versionID string) (fhir.Document, error)
	history           func(ctx context.Context, scope search.Scope, resourceType, id string) ([]fhir.HistoryItem, error)
	create            func(ctx context.Context, scope search.Scope, doc fhir.Document) (fhir.Document, error)
	update            func(ctx context.Context, scope search.Scope, doc fhir.Document, ifMatch string) (fhir.Document, bool, error)
	deleteFn          func(ctx context.Context, scope search.Scope, resourceType, id, ifMatch string) error
	search            func(ctx context.Context, scope search.Scope, req *search.Request) (*repo.Result, error)
	conditionalCreate func(ctx context.Context, scope search.Scope, doc fhir.Document, req *search.Request) (fhir.Document, bool, error)
	conditionalUpdate func(ctx context.Context, scope search.Scope, doc fhir.Document, req *search.Request) (fhir.Document, bool, error)
	conditionalDelete func(ctx context.Context, scope search.Scope, req *search.Request) error
}

func (f *fakeStore) Read(ctx context.Context, scope search.Scope, resourceType, id string) (fhir.Document, error) {
	return f.read(ctx, scope, resourceType, id)
}

func (f *fakeStore) ReadVersion(ctx context.Context, scope search.Scope, resourceType, id, versionID string) (fhir.Document, error) {
	return f.readVersion(ctx, scope, resourceType, id, versionID)
}

func (f *fakeStore) History(ctx context.Context, scope search.Scope, resourceType, id string) ([]fhir.HistoryItem, error) {
	return f.history(ctx, scope, resourceType, id)
}

func (f *fakeStore) Create(ctx context.Context, scope search.Scope, doc fhir.Document) (fhir.Document, error) {
	return f.create(ctx, scope, doc)
}

func (f *fakeStore) Update(ctx context.Context, scope search.Scope, doc fhir.Document, ifMatch string) (fhir.Document, bool, error) {
	return f.update(ctx, scope, doc, ifMatch)
}

func (f *fakeStore) Delete(ctx context.Context, scope search.Scope, resourceType, id, ifMatch string) error {
	return f.deleteFn(ctx, scope, resourceType, id, ifMatch)
}

func (f *fakeStore) Search(ctx context.Context, scope search.Scope, req *search.Request) (*repo.Result, error) {
	return f.search(ctx, scope, req)
}

func (f *fakeStore) ConditionalCreate(ctx context.Context, scope search.Scope, doc fhir.Document, req *search.Request) (fhir.Document, bool, error) {
	return f.conditionalCreate(ctx, scope, doc, req)
}

func (f *fakeStore) ConditionalUpdate(ctx context.Context, scope search.Scope, doc fhir.Document, req *search.Request) (fhir.Document, bool, error) {
	return f.conditionalUpdate(ctx, scope, doc, req)
}

func (f *fakeStore) ConditionalDelete(ctx context.Context, scope search.Scope, req *search.Request) error {
	return f.conditionalDelete(ctx, scope, req)
}

type fakeValidator struct {
	issues []validate.Issue
}

func (f *fakeValidator) Validate(doc fhir.Document) []validate.Issue {
	return f.issues
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

const (
	patientID  = "0a65c3f6-6a87-4c3e-9e05-8a2f3c9d1b42"
	versionOne = "d1b6f6a0-9f9c-4b14-9d43-2c1f0a7e5b01"
)

func patientDoc(versionID string) fhir.Document {
	return fhir.Document{
		"resourceType": "Patient",
		"id":           patientID,
		"meta": map[string]interface{}{
			"versionId":   versionID,
			"lastUpdated": "2026-03-14T09:26:53Z",
		},
		"gender": "female",
	}
}

func newTestServer(t *testing.T, store *fakeStore, v Validator) *echo.Echo {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	if err := registry.Seed(reg); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	if err := reg.Build(); err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if v == nil {
		v = &fakeValidator{}
	}
	srv := New(store, v, reg, &fakePinger{}, zerolog.Nop())
	e := echo.New()
	g := e.Group("/fhir/R4", auth.DevMiddleware())
	srv.Register(e, g)
	return e
}

func do(e *echo.Echo, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestReadReturnsResourceWithHeaders(t *testing.T) {
	store := &fakeStore{
		read: func(ctx context.Context, scope search.Scope, resourceType, id string) (fhir.Document, error) {
			if resourceType != "Patient" || id != patientID {
				t.Errorf("Read(%s, %s)", resourceType, id)
			}
			if !scope.SuperAdmin {
				t.Error("dev scope should be superAdmin")
			}
			return patientDoc(versionOne), nil
		},
	}
	e := newTestServer(t, store, nil)

	rec := do(e, http.MethodGet, "/fhir/R4/Patient/"+patientID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("ETag"); got != `W/"`+versionOne+`"` {
		t.Errorf("ETag = %s", got)
	}
	if rec.Header().Get("Last-Modified") == "" {
		t.Error("missing Last-Modified header")
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, fhirJSON) {
		t.Errorf("Content-Type = %s", ct)
	}
}

func TestReadNotFound(t *testing.T) {
	store := &fakeStore{
		read: func(ctx context.Context, scope search.Scope, resourceType, id string) (fhir.Document, error) {
			return nil, fhir.NotFound(resourceType, id)
		},
	}
	e := newTestServer(t, store, nil)

	rec := do(e, http.MethodGet, "/fhir/R4/Patient/"+patientID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var outcome fhir.OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if outcome.ResourceType != "OperationOutcome" || len(outcome.Issue) != 1 {
		t.Errorf("outcome = %+v", outcome)
	}
	if outcome.Issue[0].Code != fhir.IssueTypeNotFound {
		t.Errorf("issue code = %s", outcome.Issue[0].Code)
	}
}

func TestDeletedResourceIsGone(t *testing.T) {
	store := &fakeStore{
		read: func(ctx context.Context, scope search.Scope, resourceType, id string) (fhir.Document, error) {
			return nil, fhir.Gone(resourceType, id)
		},
	}
	e := newTestServer(t, store, nil)

	rec := do(e, http.MethodGet, "/fhir/R4/Patient/"+patientID, nil, nil)
	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want 410", rec.Code)
	}
}

func TestCreateReturnsLocation(t *testing.T) {
	store := &fakeStore{
		create: func(ctx context.Context, scope search.Scope, doc fhir.Document) (fhir.Document, error) {
			out := doc.Clone()
			out.SetID(patientID)
			out["meta"] = map[string]interface{}{
				"versionId":   versionOne,
				"lastUpdated": "2026-03-14T09:26:53Z",
			}
			return out, nil
		},
	}
	e := newTestServer(t, store, nil)

	body := strings.NewReader(`{"resourceType":"Patient","gender":"female"}`)
	rec := do(e, http.MethodPost, "/fhir/R4/Patient", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	want := "http://example.com/fhir/R4/Patient/" + patientID + "/_history/" + versionOne
	if got := rec.Header().Get(echo.HeaderLocation); got != want {
		t.Errorf("Location = %s, want %s", got, want)
	}
}

func TestCreateRejectsTypeMismatch(t *testing.T) {
	e := newTestServer(t, &fakeStore{}, nil)

	body := strings.NewReader(`{"resourceType":"Observation"}`)
	rec := do(e, http.MethodPost, "/fhir/R4/Patient", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRejectsInvalidResource(t *testing.T) {
	v := &fakeValidator{issues: []validate.Issue{{
		Severity: validate.SeverityError,
		Code:     validate.CodeCardinalityMin,
		Path:     "Patient.name",
		Message:  "minimum cardinality 1, found 0",
	}}}
	e := newTestServer(t, &fakeStore{}, v)

	body := strings.NewReader(`{"resourceType":"Patient"}`)
	rec := do(e, http.MethodPost, "/fhir/R4/Patient", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var outcome fhir.OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if len(outcome.Issue) != 1 || len(outcome.Issue[0].Expression) == 0 {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestCreateWithIfNoneExistReturnsExisting(t *testing.T) {
	store := &fakeStore{
		conditionalCreate: func(ctx context.Context, scope search.Scope, doc fhir.Document, req *search.Request) (fhir.Document, bool, error) {
			if len(req.Params) != 1 || req.Params[0].Code != "identifier" {
				t.Errorf("criteria params = %+v", req.Params)
			}
			return patientDoc(versionOne), false, nil
		},
	}
	e := newTestServer(t, store, nil)

	body := strings.NewReader(`{"resourceType":"Patient"}`)
	rec := do(e, http.MethodPost, "/fhir/R4/Patient", body, map[string]string{
		"If-None-Exist": "identifier=http://example.org|mrn-1",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for existing match", rec.Code)
	}
}

func TestUpdateVersionConflictWithIfMatchIs412(t *testing.T) {
	store := &fakeStore{
		update: func(ctx context.Context, scope search.Scope, doc fhir.Document, ifMatch string) (fhir.Document, bool, error) {
			if ifMatch != versionOne {
				t.Errorf("ifMatch = %s", ifMatch)
			}
			return nil, false, fhir.VersionConflict("Patient", patientID)
		},
	}
	e := newTestServer(t, store, nil)

	body := strings.NewReader(`{"resourceType":"Patient","id":"` + patientID + `"}`)
	rec := do(e, http.MethodPut, "/fhir/R4/Patient/"+patientID, body, map[string]string{
		"If-Match": `W/"` + versionOne + `"`,
	})
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", rec.Code)
	}
}

func TestUpdateRejectsIDMismatch(t *testing.T) {
	e := newTestServer(t, &fakeStore{}, nil)

	body := strings.NewReader(`{"resourceType":"Patient","id":"some-other-id"}`)
	rec := do(e, http.MethodPut, "/fhir/R4/Patient/"+patientID, body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateUpsertCreates(t *testing.T) {
	store := &fakeStore{
		update: func(ctx context.Context, scope search.Scope, doc fhir.Document, ifMatch string) (fhir.Document, bool, error) {
			if doc.ID() != patientID {
				t.Errorf("doc id = %s, want URL id", doc.ID())
			}
			return patientDoc(versionOne), true, nil
		},
	}
	e := newTestServer(t, store, nil)

	body := strings.NewReader(`{"resourceType":"Patient"}`)
	rec := do(e, http.MethodPut, "/fhir/R4/Patient/"+patientID, body, nil)
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
}

func TestDeleteReturnsNoContent(t *testing.T) {
	called := false
	store := &fakeStore{
		deleteFn: func(ctx context.Context, scope search.Scope, resourceType, id, ifMatch string) error {
			called = true
			return nil
		},
	}
	e := newTestServer(t, store, nil)

	rec := do(e, http.MethodDelete, "/fhir/R4/Patient/"+patientID, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if !called {
		t.Error("Delete not invoked")
	}
}

func TestPreferMinimalSuppressesBody(t *testing.T) {
	store := &fakeStore{
		read: func(ctx context.Context, scope search.Scope, resourceType, id string) (fhir.Document, error) {
			return patientDoc(versionOne), nil
		},
	}
	e := newTestServer(t, store, nil)

	rec := do(e, http.MethodGet, "/fhir/R4/Patient/"+patientID, nil, map[string]string{
		"Prefer": "return=minimal",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %s, want empty", rec.Body.String())
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("ETag should survive return=minimal")
	}
}

func TestUnauthenticatedRequestIs401(t *testing.T) {
	store := &fakeStore{}
	reg := registry.New(zerolog.Nop())
	if err := registry.Seed(reg); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	if err := reg.Build(); err != nil {
		t.Fatalf("build registry: %v", err)
	}
	srv := New(store, &fakeValidator{}, reg, nil, zerolog.Nop())
	e := echo.New()
	// No auth middleware on the group.
	srv.Register(e, e.Group("/fhir/R4"))

	rec := do(e, http.MethodGet, "/fhir/R4/Patient/"+patientID, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	store := &fakeStore{
		read: func(ctx context.Context, scope search.Scope, resourceType, id string) (fhir.Document, error) {
			return nil, errors.New("pq: connection refused at 10.0.0.7")
		},
	}
	e := newTestServer(t, store, nil)

	rec := do(e, http.MethodGet, "/fhir/R4/Patient/"+patientID, nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.7") {
		t.Error("storage detail leaked to the caller")
	}
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, &fakeStore{}, nil)
	rec := do(e, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	srv := New(&fakeStore{}, &fakeValidator{}, registry.New(zerolog.Nop()), &fakePinger{err: errors.New("down")}, zerolog.Nop())
	e2 := echo.New()
	srv.Register(e2, e2.Group("/fhir/R4"))
	rec = do(e2, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetadataListsResources(t *testing.T) {
	e := newTestServer(t, &fakeStore{}, nil)

	rec := do(e, http.MethodGet, "/fhir/R4/metadata", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var statement map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &statement); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if statement["resourceType"] != "CapabilityStatement" {
		t.Errorf("resourceType = %v", statement["resourceType"])
	}
	rest := statement["rest"].([]interface{})
	resources := rest[0].(map[string]interface{})["resource"].([]interface{})
	if len(resources) == 0 {
		t.Fatal("no resources in capability statement")
	}
	found := false
	for _, r := range resources {
		if r.(map[string]interface{})["type"] == "Patient" {
			found = true
		}
	}
	if !found {
		t.Error("Patient missing from capability statement")
	}
}
