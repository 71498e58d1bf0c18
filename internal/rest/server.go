// Package rest binds the repository, validator, and registries to the FHIR
// R4 HTTP surface.
package rest

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/platform/auth"
	"github.com/fhirstore/fhirstore/internal/registry"
	"github.com/fhirstore/fhirstore/internal/repo"
	"github.com/fhirstore/fhirstore/internal/search"
	"github.com/fhirstore/fhirstore/internal/validate"
)

const fhirJSON = "application/fhir+json"

// Store is the repository surface the handlers drive. *repo.Repository
// implements it; tests substitute fakes.
type Store interface {
	Read(ctx context.Context, scope search.Scope, resourceType, id string) (fhir.Document, error)
	ReadVersion(ctx context.Context, scope search.Scope, resourceType, id, versionID string) (fhir.Document, error)
	History(ctx context.Context, scope search.Scope, resourceType, id string) ([]fhir.HistoryItem, error)
	Create(ctx context.Context, scope search.Scope, doc fhir.Document) (fhir.Document, error)
	Update(ctx context.Context, scope search.Scope, doc fhir.Document, ifMatch string) (fhir.Document, bool, error)
	Delete(ctx context.Context, scope search.Scope, resourceType, id, ifMatch string) error
	Search(ctx context.Context, scope search.Scope, req *search.Request) (*repo.Result, error)
	ConditionalCreate(ctx context.Context, scope search.Scope, doc fhir.Document, req *search.Request) (fhir.Document, bool, error)
	ConditionalUpdate(ctx context.Context, scope search.Scope, doc fhir.Document, req *search.Request) (fhir.Document, bool, error)
	ConditionalDelete(ctx context.Context, scope search.Scope, req *search.Request) error
}

// Validator checks a resource before it is written.
type Validator interface {
	Validate(doc fhir.Document) []validate.Issue
}

// Pinger reports storage liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	store     Store
	validator Validator
	reg       *registry.Registry
	pinger    Pinger
	log       zerolog.Logger
}

// New creates a server. pinger may be nil; /health then skips the storage
// check.
func New(store Store, validator Validator, reg *registry.Registry, pinger Pinger, log zerolog.Logger) *Server {
	return &Server{
		store:     store,
		validator: validator,
		reg:       reg,
		pinger:    pinger,
		log:       log.With().Str("component", "rest").Logger(),
	}
}

// Register mounts the FHIR routes on the group and the health endpoint on
// the echo instance.
func (s *Server) Register(e *echo.Echo, g *echo.Group) {
	e.GET("/health", s.health)

	g.GET("/metadata", s.metadata)

	// The static Patient segment outranks :type, so compartment search
	// coexists with the generic routes.
	g.GET("/Patient/:id/:ctype", s.compartmentSearch)

	g.GET("/:type", s.searchGet)
	g.POST("/:type/_search", s.searchPost)
	g.POST("/:type", s.create)
	g.PUT("/:type", s.conditionalUpdate)
	g.DELETE("/:type", s.conditionalDelete)
	g.GET("/:type/:id", s.read)
	g.PUT("/:type/:id", s.update)
	g.DELETE("/:type/:id", s.delete)
	g.GET("/:type/:id/_history", s.history)
	g.GET("/:type/:id/_history/:vid", s.readVersion)
}

func (s *Server) health(c echo.Context) error {
	status := map[string]string{"status": "ok"}
	if s.pinger != nil {
		if err := s.pinger.Ping(c.Request().Context()); err != nil {
			s.log.Error().Err(err).Msg("health check failed")
			status["status"] = "unavailable"
			return c.JSON(http.StatusServiceUnavailable, status)
		}
	}
	return c.JSON(http.StatusOK, status)
}

// scope extracts the authenticated scope. Absence means the middleware
// chain did not run; the caller gets a 401.
func (s *Server) scope(c echo.Context) (search.Scope, bool) {
	id, ok := auth.IdentityFor(c)
	return id.Scope(), ok
}

func unauthenticated(c echo.Context) error {
	outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, "security", "request is not authenticated")
	return c.JSON(http.StatusUnauthorized, outcome)
}
