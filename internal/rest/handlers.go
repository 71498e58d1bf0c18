package rest

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/search"
	"github.com/fhirstore/fhirstore/internal/validate"
)

func (s *Server) read(c echo.Context) error {
	scope, ok := s.scope(c)
	if !ok {
		return unauthenticated(c)
	}
	doc, err := s.store.Read(c.Request().Context(), scope, c.Param("type"), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return s.writeResource(c, http.StatusOK, doc)
}

func (s *Server) readVersion(c echo.Context) error {
	scope, ok := s.scope(c)
	if !ok {
		return unauthenticated(c)
	}
	doc, err := s.store.ReadVersion(c.Request().Context(), scope, c.Param("type"), c.Param("id"), c.Param("vid"))
	if err != nil {
		return s.writeError(c, err)
	}
	return s.writeResource(c, http.StatusOK, doc)
}

func (s *Server) history(c echo.Context) error {
	return s.historyFor(c, c.Param("type"), c.Param("id"))
}

func (s *Server) historyFor(c echo.Context, resourceType, id string) error {
	scope, ok := s.scope(c)
	if !ok {
		return unauthenticated(c)
	}
	items, err := s.store.History(c.Request().Context(), scope, resourceType, id)
	if err != nil {
		return s.writeError(c, err)
	}
	bundle := fhir.NewHistoryBundle(resourceType, id, items, s.baseURL(c))
	return s.writeJSON(c, http.StatusOK, bundle)
}

func (s *Server) create(c echo.Context) error {
	scope, ok := s.scope(c)
	if !ok {
		return unauthenticated(c)
	}
	doc, err := s.readBody(c)
	if err != nil {
		return s.writeError(c, err)
	}
	if issues := s.validator.Validate(doc); validate.HasErrors(issues) {
		return s.writeJSON(c, http.StatusBadRequest, fhir.OutcomeFromIssues(validate.OutcomeIssues(issues)))
	}

	ctx := c.Request().Context()

	// If-None-Exist makes the create conditional on its search criteria.
	if criteria := c.Request().Header.Get("If-None-Exist"); criteria != "" {
		req, err := s.parseCriteria(doc.Type(), criteria)
		if err != nil {
			return s.writeError(c, err)
		}
		out, created, err := s.store.ConditionalCreate(ctx, scope, doc, req)
		if err != nil {
			return s.writeError(c, err)
		}
		if created {
			return s.writeCreated(c, out)
		}
		return s.writeResource(c, http.StatusOK, out)
	}

	out, err := s.store.Create(ctx, scope, doc)
	if err != nil {
		return s.writeError(c, err)
	}
	return s.writeCreated(c, out)
}

func (s *Server) update(c echo.Context) error {
	scope, ok := s.scope(c)
	if !ok {
		return unauthenticated(c)
	}
	doc, err := s.readBody(c)
	if err != nil {
		return s.writeError(c, err)
	}
	id := c.Param("id")
	switch doc.ID() {
	case "":
		doc.SetID(id)
	case id:
	default:
		return s.writeError(c, fhir.InvalidResource("body id %q does not match URL id %q", doc.ID(), id))
	}
	if issues := s.validator.Validate(doc); validate.HasErrors(issues) {
		return s.writeJSON(c, http.StatusBadRequest, fhir.OutcomeFromIssues(validate.OutcomeIssues(issues)))
	}

	ifMatch, err := s.ifMatch(c)
	if err != nil {
		return s.writeError(c, err)
	}
	out, created, err := s.store.Update(c.Request().Context(), scope, doc, ifMatch)
	if err != nil {
		return s.writeError(c, err)
	}
	if created {
		return s.writeCreated(c, out)
	}
	return s.writeResource(c, http.StatusOK, out)
}

func (s *Server) conditionalUpdate(c echo.Context) error {
	scope, ok := s.scope(c)
	if !ok {
		return unauthenticated(c)
	}
	doc, err := s.readBody(c)
	if err != nil {
		return s.writeError(c, err)
	}
	if issues := s.validator.Validate(doc); validate.HasErrors(issues) {
		return s.writeJSON(c, http.StatusBadRequest, fhir.OutcomeFromIssues(validate.OutcomeIssues(issues)))
	}
	req, err := search.Parse(c.Param("type"), c.QueryParams())
	if err != nil {
		return s.writeError(c, err)
	}
	out, created, err := s.store.ConditionalUpdate(c.Request().Context(), scope, doc, req)
	if err != nil {
		return s.writeError(c, err)
	}
	if created {
		return s.writeCreated(c, out)
	}
	return s.writeResource(c, http.StatusOK, out)
}

func (s *Server) delete(c echo.Context) error {
	scope, ok := s.scope(c)
	if !ok {
		return unauthenticated(c)
	}
	ifMatch, err := s.ifMatch(c)
	if err != nil {
		return s.writeError(c, err)
	}
	if err := s.store.Delete(c.Request().Context(), scope, c.Param("type"), c.Param("id"), ifMatch); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) conditionalDelete(c echo.Context) error {
	scope, ok := s.scope(c)
	if !ok {
		return unauthenticated(c)
	}
	req, err := search.Parse(c.Param("type"), c.QueryParams())
	if err != nil {
		return s.writeError(c, err)
	}
	if err := s.store.ConditionalDelete(c.Request().Context(), scope, req); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) searchGet(c echo.Context) error {
	return s.search(c, c.Param("type"), c.QueryParams(), nil)
}

// searchPost accepts criteria as form parameters, merged over any query
// string values.
func (s *Server) searchPost(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return s.writeError(c, fhir.InvalidSearch("malformed form body: %v", err))
	}
	merged := url.Values{}
	for k, vs := range c.QueryParams() {
		merged[k] = append(merged[k], vs...)
	}
	for k, vs := range form {
		merged[k] = append(merged[k], vs...)
	}
	return s.search(c, c.Param("type"), merged, nil)
}

func (s *Server) compartmentSearch(c echo.Context) error {
	// The static Patient route also captures the instance history URL.
	if c.Param("ctype") == "_history" {
		return s.historyFor(c, "Patient", c.Param("id"))
	}
	comp, err := s.compartment("Patient", c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return s.search(c, c.Param("ctype"), c.QueryParams(), comp)
}

func (s *Server) search(c echo.Context, resourceType string, values url.Values, comp *search.Compartment) error {
	scope, ok := s.scope(c)
	if !ok {
		return unauthenticated(c)
	}
	req, err := search.Parse(resourceType, values)
	if err != nil {
		return s.writeError(c, err)
	}
	req.Compartment = comp

	result, err := s.store.Search(c.Request().Context(), scope, req)
	if err != nil {
		return s.writeError(c, err)
	}
	bundle, err := s.searchBundle(c, result)
	if err != nil {
		return s.writeError(c, err)
	}
	return s.writeJSON(c, http.StatusOK, bundle)
}

// readBody decodes the request body and checks the resourceType matches
// the URL.
func (s *Server) readBody(c echo.Context) (fhir.Document, error) {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, fhir.InvalidResource("read body: %v", err)
	}
	doc, err := fhir.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	if resourceType := c.Param("type"); doc.Type() != resourceType {
		return nil, fhir.InvalidResource("body resourceType %q does not match URL type %q", doc.Type(), resourceType)
	}
	return doc, nil
}

func (s *Server) ifMatch(c echo.Context) (string, error) {
	header := c.Request().Header.Get("If-Match")
	if header == "" {
		return "", nil
	}
	version, err := fhir.ParseETag(header)
	if err != nil {
		return "", fhir.InvalidResource("malformed If-Match header: %v", err)
	}
	return version, nil
}

func (s *Server) parseCriteria(resourceType, criteria string) (*search.Request, error) {
	values, err := url.ParseQuery(criteria)
	if err != nil {
		return nil, fhir.InvalidSearch("malformed If-None-Exist criteria: %v", err)
	}
	return search.Parse(resourceType, values)
}

func (s *Server) writeCreated(c echo.Context, doc fhir.Document) error {
	c.Response().Header().Set(echo.HeaderLocation,
		s.baseURL(c)+"/"+doc.Type()+"/"+doc.ID()+"/_history/"+doc.VersionID())
	return s.writeResource(c, http.StatusCreated, doc)
}

// writeResource serialises the document with version headers. Prefer:
// return=minimal suppresses the body.
func (s *Server) writeResource(c echo.Context, status int, doc fhir.Document) error {
	h := c.Response().Header()
	if vid := doc.VersionID(); vid != "" {
		h.Set("ETag", fhir.FormatETag(vid))
	}
	if m := doc.Meta(); m != nil {
		if raw, ok := m["lastUpdated"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				h.Set("Last-Modified", t.UTC().Format(http.TimeFormat))
			}
		}
	}
	if c.Request().Header.Get("Prefer") == "return=minimal" {
		return c.NoContent(status)
	}
	raw, err := doc.JSON()
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Blob(status, fhirJSON, raw)
}

func (s *Server) writeJSON(c echo.Context, status int, v interface{}) error {
	c.Response().Header().Set(echo.HeaderContentType, fhirJSON)
	return c.JSON(status, v)
}
