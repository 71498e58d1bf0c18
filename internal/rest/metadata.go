package rest

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

var resourceInteractions = []map[string]string{
	{"code": "read"},
	{"code": "vread"},
	{"code": "history-instance"},
	{"code": "create"},
	{"code": "update"},
	{"code": "delete"},
	{"code": "search-type"},
}

// metadata summarises the server capabilities from the registries.
func (s *Server) metadata(c echo.Context) error {
	types := s.reg.ResourceTypes()
	resources := make([]map[string]interface{}, 0, len(types))
	for _, resourceType := range types {
		params := s.reg.ParamsFor(resourceType)
		searchParams := make([]map[string]string, 0, len(params))
		for _, p := range params {
			searchParams = append(searchParams, map[string]string{
				"name": p.Code,
				"type": p.Param.Type,
			})
		}
		resources = append(resources, map[string]interface{}{
			"type":              resourceType,
			"interaction":       resourceInteractions,
			"versioning":        "versioned",
			"conditionalCreate": true,
			"conditionalUpdate": true,
			"conditionalDelete": "single",
			"searchParam":       searchParams,
		})
	}

	statement := map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format(time.RFC3339),
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []string{fhirJSON},
		"rest": []map[string]interface{}{
			{"mode": "server", "resource": resources},
		},
	}
	return c.JSON(http.StatusOK, statement)
}
