// Package registry loads FHIR conformance resources and resolves them into
// the canonical schemas the planner, indexer, validator and search compiler
// share: flattened profiles per resource type and a storage strategy per
// search parameter.
package registry

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// Registry is the process-wide conformance registry. Load definitions, call
// Build once, then treat it as immutable.
type Registry struct {
	Definitions *StructureDefinitionStore
	Params      *SearchParamStore
	Profiles    *ProfileStore

	log   zerolog.Logger
	built bool
}

// New creates an empty registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		Definitions: NewStructureDefinitionStore(),
		Params:      NewSearchParamStore(),
		Profiles:    NewProfileStore(),
		log:         log.With().Str("component", "registry").Logger(),
	}
}

// RegisterDefinition adds a StructureDefinition before Build.
func (r *Registry) RegisterDefinition(sd *StructureDefinition) error {
	return r.Definitions.Register(sd)
}

// RegisterParam adds a SearchParameter before Build.
func (r *Registry) RegisterParam(sp *SearchParameter) error {
	return r.Params.Register(sp)
}

// Build resolves every definition: snapshots are generated, profiles
// flattened, search parameter strategies assigned, and the stores frozen.
// After Build the registry is safe for concurrent reads without locking.
func (r *Registry) Build() error {
	if r.built {
		return fhir.InvalidSpec("registry already built")
	}

	// Flatten base types first so datatype descent during parameter
	// resolution finds them. Sorted for deterministic error order.
	urls := make([]string, 0, len(r.Definitions.byURL))
	r.Definitions.mu.RLock()
	for url := range r.Definitions.byURL {
		urls = append(urls, url)
	}
	r.Definitions.mu.RUnlock()
	sort.Strings(urls)

	for _, url := range urls {
		sd := r.Definitions.ByURL(url)
		if sd.Kind == "primitive-type" || sd.Kind == "logical" {
			continue
		}
		p, err := BuildProfile(r.Definitions, sd)
		if err != nil {
			return err
		}
		r.Profiles.add(p)
	}

	if err := r.Params.Resolve(r.Definitions, r.Profiles); err != nil {
		return err
	}

	r.Definitions.Freeze()
	r.Params.Freeze()
	r.built = true

	r.log.Info().
		Int("definitions", len(r.Definitions.byURL)).
		Int("resource_types", len(r.ResourceTypes())).
		Int("parameters", len(r.Params.byURL)).
		Msg("conformance registry built")
	return nil
}

// ResourceTypes lists the concrete resource types the registry knows,
// sorted.
func (r *Registry) ResourceTypes() []string {
	types := r.Definitions.ResourceTypes()
	sort.Strings(types)
	return types
}

// ProfileFor returns the flattened base profile for a resource type.
func (r *Registry) ProfileFor(resourceType string) *CanonicalProfile {
	return r.Profiles.ByType(resourceType)
}

// ProfileByURL returns the flattened profile for a canonical URL, building
// it on demand for constraint profiles registered but not yet flattened.
func (r *Registry) ProfileByURL(url string) *CanonicalProfile {
	if p := r.Profiles.ByURL(url); p != nil {
		return p
	}
	sd := r.Definitions.ByURL(url)
	if sd == nil {
		return nil
	}
	p, err := BuildProfile(r.Definitions, sd)
	if err != nil {
		return nil
	}
	if !r.built {
		r.Profiles.add(p)
	}
	return p
}

// LookupParam resolves a search parameter implementation for a type.
func (r *Registry) LookupParam(resourceType, code string) *ParamImpl {
	return r.Params.Lookup(resourceType, code)
}

// ParamsFor lists the search parameter implementations for a type.
func (r *Registry) ParamsFor(resourceType string) []*ParamImpl {
	return r.Params.ForType(resourceType)
}

// KnowsType reports whether a resource type is registered and concrete.
func (r *Registry) KnowsType(resourceType string) bool {
	sd := r.Definitions.ByType(resourceType)
	return sd != nil && sd.Kind == "resource" && !sd.Abstract
}
