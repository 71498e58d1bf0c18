package registry

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// StructureDefinition is the conformance resource describing one type or
// profile. Only the fields the planner and validator consume are modelled;
// each element additionally keeps its raw JSON so choice-typed facets
// (fixed[x], pattern[x]) survive parsing.
type StructureDefinition struct {
	ResourceType   string        `json:"resourceType"`
	ID             string        `json:"id,omitempty"`
	URL            string        `json:"url"`
	Name           string        `json:"name"`
	Status         string        `json:"status"`
	Kind           string        `json:"kind"`
	Abstract       bool          `json:"abstract"`
	Type           string        `json:"type"`
	BaseDefinition string        `json:"baseDefinition,omitempty"`
	Derivation     string        `json:"derivation,omitempty"`
	Snapshot       *ElementList  `json:"snapshot,omitempty"`
	Differential   *ElementList  `json:"differential,omitempty"`
}

// ElementList wraps the element array of a snapshot or differential.
type ElementList struct {
	Element []ElementDefinition `json:"element"`
}

// ElementDefinition describes a single element within a StructureDefinition.
type ElementDefinition struct {
	ID               string              `json:"id,omitempty"`
	Path             string              `json:"path"`
	SliceName        string              `json:"sliceName,omitempty"`
	Min              *int                `json:"min,omitempty"`
	Max              string              `json:"max,omitempty"`
	ContentReference string              `json:"contentReference,omitempty"`
	Type             []ElementType       `json:"type,omitempty"`
	Slicing          *SlicingDefinition  `json:"slicing,omitempty"`
	Constraint       []ElementConstraint `json:"constraint,omitempty"`
	Binding          *ElementBinding     `json:"binding,omitempty"`
	MustSupport      bool                `json:"mustSupport,omitempty"`
	IsModifier       bool                `json:"isModifier,omitempty"`
	IsSummary        bool                `json:"isSummary,omitempty"`

	raw map[string]interface{}
}

// ElementType declares one allowed datatype for an element.
type ElementType struct {
	Code          string   `json:"code"`
	TargetProfile []string `json:"targetProfile,omitempty"`
	Profile       []string `json:"profile,omitempty"`
}

// SlicingDefinition is the slicing descriptor carried by a slicing root.
type SlicingDefinition struct {
	Discriminator []SlicingDiscriminator `json:"discriminator,omitempty"`
	Ordered       bool                   `json:"ordered,omitempty"`
	Rules         string                 `json:"rules"`
}

// Slicing rules modes.
const (
	SlicingRulesClosed    = "closed"
	SlicingRulesOpen      = "open"
	SlicingRulesOpenAtEnd = "openAtEnd"
)

// SlicingDiscriminator is one (type, path) pair used to route values to
// slices.
type SlicingDiscriminator struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// ElementConstraint is a FHIRPath invariant attached to an element.
type ElementConstraint struct {
	Key        string `json:"key"`
	Severity   string `json:"severity"`
	Human      string `json:"human"`
	Expression string `json:"expression,omitempty"`
}

// ElementBinding is a terminology binding.
type ElementBinding struct {
	Strength string `json:"strength"`
	ValueSet string `json:"valueSet,omitempty"`
}

func (e *ElementDefinition) UnmarshalJSON(data []byte) error {
	type plain ElementDefinition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = ElementDefinition(p)
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.raw = raw
	return nil
}

// SetRaw installs the raw facet map for elements built in code rather than
// parsed from JSON.
func (e *ElementDefinition) SetRaw(raw map[string]interface{}) { e.raw = raw }

// FixedValue returns the element's fixed[x] facet: the value and the FHIR
// type its suffix names.
func (e *ElementDefinition) FixedValue() (interface{}, string, bool) {
	return e.facet("fixed")
}

// PatternValue returns the element's pattern[x] facet.
func (e *ElementDefinition) PatternValue() (interface{}, string, bool) {
	return e.facet("pattern")
}

func (e *ElementDefinition) facet(base string) (interface{}, string, bool) {
	if e.raw == nil {
		return nil, "", false
	}
	cv := fhir.ExtractChoice(e.raw, base)
	if cv == nil {
		return nil, "", false
	}
	return cv.Value, cv.Type, true
}

// MinCardinality returns min, defaulting to 0 when unstated.
func (e *ElementDefinition) MinCardinality() int {
	if e.Min == nil {
		return 0
	}
	return *e.Min
}

// MaxCardinality returns max as an integer, -1 for unbounded, and 1 when
// unstated.
func (e *ElementDefinition) MaxCardinality() int {
	switch e.Max {
	case "":
		return 1
	case "*":
		return -1
	}
	n := 0
	for _, ch := range e.Max {
		if ch < '0' || ch > '9' {
			return 1
		}
		n = n*10 + int(ch-'0')
	}
	return n
}

// StructureDefinitionStore indexes StructureDefinitions by canonical URL and
// by type name. Mutable while loading, frozen before serving.
type StructureDefinitionStore struct {
	mu     sync.RWMutex
	byURL  map[string]*StructureDefinition
	byType map[string]*StructureDefinition
	frozen bool
}

// NewStructureDefinitionStore creates an empty store.
func NewStructureDefinitionStore() *StructureDefinitionStore {
	return &StructureDefinitionStore{
		byURL:  make(map[string]*StructureDefinition),
		byType: make(map[string]*StructureDefinition),
	}
}

// Register adds or replaces a StructureDefinition. Registration after Freeze
// is rejected with InvalidSpec.
func (s *StructureDefinitionStore) Register(sd *StructureDefinition) error {
	if sd.URL == "" {
		return fhir.InvalidSpec("StructureDefinition %q has no canonical url", sd.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return fhir.InvalidSpec("registry is frozen; cannot register %s", sd.URL)
	}
	s.byURL[sd.URL] = sd
	// Base specializations index by type; constraint profiles only by URL.
	if sd.Derivation != "constraint" && sd.Type != "" {
		s.byType[sd.Type] = sd
	}
	return nil
}

// Freeze makes the store immutable. Reads after Freeze take no locks.
func (s *StructureDefinitionStore) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// ByURL resolves a StructureDefinition by canonical URL.
func (s *StructureDefinitionStore) ByURL(url string) *StructureDefinition {
	if !s.frozen {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	return s.byURL[url]
}

// ByType resolves the base StructureDefinition for a resource or datatype
// name.
func (s *StructureDefinitionStore) ByType(typeName string) *StructureDefinition {
	if !s.frozen {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	return s.byType[typeName]
}

// ResourceTypes lists every concrete (non-abstract) resource type registered,
// unsorted.
func (s *StructureDefinitionStore) ResourceTypes() []string {
	if !s.frozen {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	types := make([]string, 0, len(s.byType))
	for name, sd := range s.byType {
		if sd.Kind == "resource" && !sd.Abstract {
			types = append(types, name)
		}
	}
	return types
}

// Snapshot returns the definition with a populated snapshot, merging the
// differential onto the base definition's snapshot when needed. Elements
// with matching paths and slice names are overridden; new differential
// elements are appended in order.
func (s *StructureDefinitionStore) Snapshot(sd *StructureDefinition) (*StructureDefinition, error) {
	if sd.Snapshot != nil && len(sd.Snapshot.Element) > 0 {
		return sd, nil
	}
	base := s.ByURL(sd.BaseDefinition)
	if base == nil {
		return nil, fhir.InvalidSpec("base definition %q of %q is not resolvable", sd.BaseDefinition, sd.URL)
	}
	base, err := s.Snapshot(base)
	if err != nil {
		return nil, err
	}
	if sd.Differential == nil {
		out := *sd
		out.Snapshot = base.Snapshot
		return &out, nil
	}
	merged := mergeElements(base.Snapshot.Element, sd.Differential.Element, sd.Type, base.Type)
	out := *sd
	out.Snapshot = &ElementList{Element: merged}
	return &out, nil
}

// mergeElements overlays differential elements onto the base snapshot. Paths
// are rebased from the base type's root to the derived type's root first.
func mergeElements(base, differential []ElementDefinition, derivedType, baseType string) []ElementDefinition {
	result := make([]ElementDefinition, len(base))
	copy(result, base)
	for i := range result {
		result[i].Path = rebasePath(result[i].Path, baseType, derivedType)
		result[i].ID = rebasePath(result[i].ID, baseType, derivedType)
	}

	index := make(map[string]int, len(result))
	for i, e := range result {
		index[e.Path+"::"+e.SliceName] = i
	}
	for _, de := range differential {
		if i, ok := index[de.Path+"::"+de.SliceName]; ok {
			result[i] = de
			continue
		}
		// New element: splice it in directly after its path's subtree so
		// snapshot order keeps slices contiguous with their sub-elements.
		at := insertionPoint(result, de.Path)
		result = append(result, ElementDefinition{})
		copy(result[at+1:], result[at:])
		result[at] = de
		index = make(map[string]int, len(result))
		for i, e := range result {
			index[e.Path+"::"+e.SliceName] = i
		}
	}
	return result
}

// insertionPoint finds where a new element with the given path belongs: one
// past the last element that is the path itself, a descendant of it, or a
// descendant of its parent. Falls back to the end of the list.
func insertionPoint(elements []ElementDefinition, path string) int {
	parent := path
	if i := strings.LastIndex(path, "."); i > 0 {
		parent = path[:i]
	}
	at := len(elements)
	for i := len(elements) - 1; i >= 0; i-- {
		p := elements[i].Path
		if p == path || p == parent ||
			strings.HasPrefix(p, path+".") || strings.HasPrefix(p, parent+".") {
			return i + 1
		}
	}
	return at
}

func rebasePath(path, baseType, derivedType string) string {
	if baseType == "" || baseType == derivedType {
		return path
	}
	if path == baseType {
		return derivedType
	}
	prefix := baseType + "."
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return derivedType + "." + path[len(prefix):]
	}
	return path
}
