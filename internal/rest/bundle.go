package rest

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/repo"
	"github.com/fhirstore/fhirstore/internal/search"
)

// baseURL reconstructs the service root for fullUrl and Location values.
func (s *Server) baseURL(c echo.Context) string {
	scheme := c.Scheme()
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + c.Request().Host + "/fhir/R4"
}

// searchBundle assembles the searchset with self/next/previous paging links
// and an outcome entry when the compiler produced warnings.
func (s *Server) searchBundle(c echo.Context, result *repo.Result) (*fhir.Bundle, error) {
	base := s.baseURL(c)
	links := s.pagingLinks(c, result)

	bundle, err := fhir.NewSearchSetBundle(result.Matches, result.Includes, result.Total, base, links)
	if err != nil {
		return nil, err
	}
	if len(result.Warnings) > 0 {
		raw, err := json.Marshal(fhir.OutcomeFromIssues(result.Warnings))
		if err != nil {
			return nil, fhir.Internal(err, "marshal search warnings")
		}
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{
			Resource: raw,
			Search:   &fhir.BundleSearch{Mode: fhir.SearchModeOutcome},
		})
	}
	return bundle, nil
}

func (s *Server) pagingLinks(c echo.Context, result *repo.Result) []fhir.BundleLink {
	req := c.Request()
	self := s.requestURL(c)
	links := []fhir.BundleLink{{Relation: "self", URL: self}}

	// A full page suggests more results; an accurate total decides exactly.
	hasNext := len(result.Matches) == result.Limit && result.Limit > 0
	if result.Total != nil {
		hasNext = result.Offset+len(result.Matches) < *result.Total
	}
	if hasNext {
		links = append(links, fhir.BundleLink{
			Relation: "next",
			URL:      s.pageURL(req.URL, result.Offset+result.Limit, result.Limit),
		})
	}
	if result.Offset > 0 {
		prev := result.Offset - result.Limit
		if prev < 0 {
			prev = 0
		}
		links = append(links, fhir.BundleLink{
			Relation: "previous",
			URL:      s.pageURL(req.URL, prev, result.Limit),
		})
	}
	return links
}

func (s *Server) requestURL(c echo.Context) string {
	scheme := c.Scheme()
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + c.Request().Host + c.Request().URL.RequestURI()
}

func (s *Server) pageURL(u *url.URL, offset, count int) string {
	page := *u
	q := page.Query()
	q.Set("_offset", strconv.Itoa(offset))
	q.Set("_count", strconv.Itoa(count))
	page.RawQuery = q.Encode()
	return page.String()
}

func (s *Server) compartment(compartmentType, id string) (*search.Compartment, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fhir.NotFound(compartmentType, id)
	}
	return &search.Compartment{Type: compartmentType, ID: parsed}, nil
}
