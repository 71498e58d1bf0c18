// Package terminology is the in-memory terminology collaborator: CodeSystems
// with parent/child hierarchy and ValueSets with enumerated codes. The search
// compiler resolves :in/:not-in through Expand and :above/:below through the
// hierarchy; the REST surface exposes ValidateCode and Subsumes.
package terminology

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/search"
)

// Concept is one code in a CodeSystem.
type Concept struct {
	Code    string
	Display string
	Parent  string // empty for roots
}

// CodeSystem is a code system with an is-a hierarchy.
type CodeSystem struct {
	URL      string
	Concepts []Concept
}

// ValueSet enumerates codings from one or more systems.
type ValueSet struct {
	URL     string
	Codings []search.Coding
}

// Store holds systems and value sets. Registration happens at boot; reads
// are lock-free after Freeze would be overkill, so a RWMutex guards both.
type Store struct {
	mu      sync.RWMutex
	systems map[string]*system
	sets    map[string][]search.Coding
	log     zerolog.Logger
}

type system struct {
	url      string
	concepts map[string]Concept
	children map[string][]string
}

// NewStore creates an empty store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		systems: make(map[string]*system),
		sets:    make(map[string][]search.Coding),
		log:     log.With().Str("component", "terminology").Logger(),
	}
}

// RegisterCodeSystem installs or replaces a code system.
func (s *Store) RegisterCodeSystem(cs CodeSystem) error {
	if cs.URL == "" {
		return fhir.InvalidSpec("code system has no url")
	}
	sys := &system{
		url:      cs.URL,
		concepts: make(map[string]Concept, len(cs.Concepts)),
		children: make(map[string][]string),
	}
	for _, c := range cs.Concepts {
		if c.Code == "" {
			return fhir.InvalidSpec("code system %s has a concept without a code", cs.URL)
		}
		if _, dup := sys.concepts[c.Code]; dup {
			return fhir.InvalidSpec("code system %s declares %q twice", cs.URL, c.Code)
		}
		sys.concepts[c.Code] = c
	}
	for _, c := range cs.Concepts {
		if c.Parent == "" {
			continue
		}
		if _, ok := sys.concepts[c.Parent]; !ok {
			return fhir.InvalidSpec("code system %s: %q names unknown parent %q", cs.URL, c.Code, c.Parent)
		}
		sys.children[c.Parent] = append(sys.children[c.Parent], c.Code)
	}

	s.mu.Lock()
	s.systems[cs.URL] = sys
	s.mu.Unlock()
	s.log.Debug().Str("system", cs.URL).Int("concepts", len(cs.Concepts)).Msg("code system registered")
	return nil
}

// RegisterValueSet installs or replaces a value set.
func (s *Store) RegisterValueSet(vs ValueSet) error {
	if vs.URL == "" {
		return fhir.InvalidSpec("value set has no url")
	}
	codings := make([]search.Coding, len(vs.Codings))
	copy(codings, vs.Codings)

	s.mu.Lock()
	s.sets[vs.URL] = codings
	s.mu.Unlock()
	return nil
}

// Expand returns the codings a value set enumerates.
func (s *Store) Expand(valueSetURL string) ([]search.Coding, error) {
	s.mu.RLock()
	codings, ok := s.sets[valueSetURL]
	s.mu.RUnlock()
	if !ok {
		return nil, fhir.InvalidSearch("unknown value set %q", valueSetURL)
	}
	out := make([]search.Coding, len(codings))
	copy(out, codings)
	return out, nil
}

// Above returns the code and its transitive ancestors.
func (s *Store) Above(systemURL, code string) ([]search.Coding, error) {
	sys, c, err := s.concept(systemURL, code)
	if err != nil {
		return nil, err
	}
	out := []search.Coding{{System: systemURL, Code: code}}
	for c.Parent != "" {
		out = append(out, search.Coding{System: systemURL, Code: c.Parent})
		c = sys.concepts[c.Parent]
	}
	return out, nil
}

// Below returns the code and its transitive descendants in a stable order.
func (s *Store) Below(systemURL, code string) ([]search.Coding, error) {
	sys, _, err := s.concept(systemURL, code)
	if err != nil {
		return nil, err
	}
	var out []search.Coding
	queue := []string{code}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, search.Coding{System: systemURL, Code: cur})
		kids := append([]string(nil), sys.children[cur]...)
		sort.Strings(kids)
		queue = append(queue, kids...)
	}
	return out, nil
}

// ValidateCode reports whether a code exists in a system, with its display.
func (s *Store) ValidateCode(systemURL, code string) (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sys, ok := s.systems[systemURL]
	if !ok {
		return false, ""
	}
	c, ok := sys.concepts[code]
	if !ok {
		return false, ""
	}
	return true, c.Display
}

// Subsumes reports whether ancestor subsumes descendant in a system's
// hierarchy. A code subsumes itself.
func (s *Store) Subsumes(systemURL, ancestor, descendant string) (bool, error) {
	sys, c, err := s.concept(systemURL, descendant)
	if err != nil {
		return false, err
	}
	if _, ok := sys.concepts[ancestor]; !ok {
		return false, fhir.InvalidSearch("unknown code %q in system %q", ancestor, systemURL)
	}
	for {
		if c.Code == ancestor {
			return true, nil
		}
		if c.Parent == "" {
			return false, nil
		}
		c = sys.concepts[c.Parent]
	}
}

func (s *Store) concept(systemURL, code string) (*system, Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sys, ok := s.systems[systemURL]
	if !ok {
		return nil, Concept{}, fhir.InvalidSearch("unknown code system %q", systemURL)
	}
	c, ok := sys.concepts[code]
	if !ok {
		return nil, Concept{}, fhir.InvalidSearch("unknown code %q in system %q", code, systemURL)
	}
	return sys, c, nil
}
