package registry

import (
	"strings"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// CanonicalProfile is a resolved, flattened schema for one resource type or
// profile: every element keyed by dotted path, slices grouped under their
// slicing roots, choice paths expanded to their concrete keys.
type CanonicalProfile struct {
	URL  string
	Type string

	// Elements in snapshot order, excluding the root element.
	Elements []*CanonicalElement

	byPath map[string][]*CanonicalElement
}

// CanonicalElement is one flattened element. Paths are relative to the
// resource root ("name.given", not "Patient.name.given").
type CanonicalElement struct {
	ID        string
	Path      string
	SliceName string
	Min       int
	Max       int // -1 means unbounded
	Types     []ElementType

	Fixed       interface{}
	FixedType   string
	Pattern     interface{}
	PatternType string

	Slicing *SlicingDefinition
	Slices  []*CanonicalSlice

	Constraints []ElementConstraint
	Binding     *ElementBinding
	MustSupport bool
	IsModifier  bool
}

// CanonicalSlice groups one slice's element with the constrained
// sub-elements that belong to it.
type CanonicalSlice struct {
	Name     string
	Element  *CanonicalElement
	Children []*CanonicalElement
}

// IsChoice reports whether the element's path ends in the [x] marker.
func (e *CanonicalElement) IsChoice() bool { return fhir.IsChoicePath(e.Path) }

// IsArray reports whether the element admits more than one value.
func (e *CanonicalElement) IsArray() bool { return e.Max < 0 || e.Max > 1 }

// TypeCodes returns the declared type codes in order.
func (e *CanonicalElement) TypeCodes() []string {
	codes := make([]string, len(e.Types))
	for i, t := range e.Types {
		codes[i] = t.Code
	}
	return codes
}

// BuildProfile flattens a StructureDefinition into a CanonicalProfile. The
// definition must carry or be able to derive a snapshot.
func BuildProfile(store *StructureDefinitionStore, sd *StructureDefinition) (*CanonicalProfile, error) {
	sd, err := store.Snapshot(sd)
	if err != nil {
		return nil, err
	}
	if sd.Snapshot == nil || len(sd.Snapshot.Element) == 0 {
		return nil, fhir.InvalidSpec("definition %q has an empty snapshot", sd.URL)
	}

	p := &CanonicalProfile{
		URL:    sd.URL,
		Type:   sd.Type,
		byPath: make(map[string][]*CanonicalElement),
	}

	prefix := sd.Type + "."
	var currentSlice *CanonicalSlice
	var sliceRoot *CanonicalElement

	for i := range sd.Snapshot.Element {
		src := &sd.Snapshot.Element[i]
		if src.Path == sd.Type {
			continue // root element carries no schema
		}
		rel := src.Path
		if strings.HasPrefix(rel, prefix) {
			rel = rel[len(prefix):]
		}

		ce := &CanonicalElement{
			ID:          src.ID,
			Path:        rel,
			SliceName:   src.SliceName,
			Min:         src.MinCardinality(),
			Max:         src.MaxCardinality(),
			Types:       src.Type,
			Slicing:     src.Slicing,
			Constraints: src.Constraint,
			Binding:     src.Binding,
			MustSupport: src.MustSupport,
			IsModifier:  src.IsModifier,
		}
		if v, t, ok := src.FixedValue(); ok {
			ce.Fixed, ce.FixedType = v, t
		}
		if v, t, ok := src.PatternValue(); ok {
			ce.Pattern, ce.PatternType = v, t
		}
		if src.ContentReference != "" && len(ce.Types) == 0 {
			// Recursive elements (e.g. Questionnaire.item.item) behave as
			// their referenced backbone for cardinality checks.
			ce.Types = []ElementType{{Code: fhir.TypeBackbone}}
		}

		// Slice grouping relies on snapshot order: a slice element is
		// followed by its own sub-elements until the next element at or
		// above its path.
		switch {
		case ce.SliceName != "" && sliceRoot != nil && ce.Path == sliceRoot.Path:
			currentSlice = &CanonicalSlice{Name: ce.SliceName, Element: ce}
			sliceRoot.Slices = append(sliceRoot.Slices, currentSlice)
		case currentSlice != nil && strings.HasPrefix(ce.Path, currentSlice.Element.Path+"."):
			currentSlice.Children = append(currentSlice.Children, ce)
		default:
			currentSlice = nil
			if ce.Slicing != nil {
				sliceRoot = ce
			} else if sliceRoot != nil && !strings.HasPrefix(ce.Path, sliceRoot.Path) {
				sliceRoot = nil
			}
			p.Elements = append(p.Elements, ce)
			p.byPath[ce.Path] = append(p.byPath[ce.Path], ce)
		}
	}
	return p, nil
}

// ElementAt returns the element declared exactly at the given relative path,
// ignoring slices. Choice elements answer for their expanded keys, so
// "valueQuantity" resolves to the "value[x]" element.
func (p *CanonicalProfile) ElementAt(path string) *CanonicalElement {
	if es := p.byPath[path]; len(es) > 0 {
		return es[0]
	}
	// Try collapsing the last segment of a choice expansion.
	i := strings.LastIndex(path, ".")
	last := path[i+1:]
	for base := range fhir.ChoiceSplits(last) {
		candidate := base + "[x]"
		if i >= 0 {
			candidate = path[:i+1] + candidate
		}
		if es := p.byPath[candidate]; len(es) > 0 {
			return es[0]
		}
	}
	return nil
}

// Children returns the elements directly under the given path, in snapshot
// order. An empty path returns the top-level elements.
func (p *CanonicalProfile) Children(path string) []*CanonicalElement {
	var out []*CanonicalElement
	for _, e := range p.Elements {
		if path == "" {
			if !strings.Contains(e.Path, ".") {
				out = append(out, e)
			}
			continue
		}
		rest, ok := strings.CutPrefix(e.Path, path+".")
		if ok && !strings.Contains(rest, ".") {
			out = append(out, e)
		}
	}
	return out
}

// ResolveElementPath walks a dotted path from a resource root, descending
// through complex datatype definitions where the path crosses them. The
// returned chain holds every element traversed, outermost first; nil when
// the path cannot be resolved.
func ResolveElementPath(store *StructureDefinitionStore, profiles *ProfileStore, resourceType, path string) []*CanonicalElement {
	p := profiles.ByType(resourceType)
	if p == nil {
		if sd := store.ByType(resourceType); sd != nil {
			built, err := BuildProfile(store, sd)
			if err != nil {
				return nil
			}
			profiles.add(built)
			p = built
		} else {
			return nil
		}
	}
	return resolvePathIn(store, profiles, p, strings.Split(path, "."))
}

// ResolveElementTypes returns the declared type codes of the terminal
// element of a path. When the final segment is a concrete expansion of a
// choice element, the result narrows to that single type.
func ResolveElementTypes(store *StructureDefinitionStore, profiles *ProfileStore, resourceType, path string) []string {
	chain := ResolveElementPath(store, profiles, resourceType, path)
	if len(chain) == 0 {
		return nil
	}
	last := chain[len(chain)-1]
	segments := strings.Split(path, ".")
	final := segments[len(segments)-1]
	if last.IsChoice() {
		base := fhir.ChoiceBase(lastSegment(last.Path))
		if final != base && strings.HasPrefix(final, base) {
			return []string{fhir.SuffixToType(final[len(base):])}
		}
	}
	return last.TypeCodes()
}

// PathIsArray reports whether any element along the path repeats.
func PathIsArray(store *StructureDefinitionStore, profiles *ProfileStore, resourceType, path string) bool {
	for _, e := range ResolveElementPath(store, profiles, resourceType, path) {
		if e.IsArray() {
			return true
		}
	}
	return false
}

func resolvePathIn(store *StructureDefinitionStore, profiles *ProfileStore, p *CanonicalProfile, segments []string) []*CanonicalElement {
	for take := len(segments); take >= 1; take-- {
		prefix := strings.Join(segments[:take], ".")
		e := p.ElementAt(prefix)
		if e == nil {
			continue
		}
		chain := ancestorsWithin(p, segments[:take])
		if take == len(segments) {
			return chain
		}
		for _, tc := range e.TypeCodes() {
			if fhir.IsPrimitiveType(tc) {
				continue
			}
			sub := typeProfile(store, profiles, tc)
			if sub == nil {
				continue
			}
			if rest := resolvePathIn(store, profiles, sub, segments[take:]); rest != nil {
				return append(chain, rest...)
			}
		}
		return nil
	}
	return nil
}

// ancestorsWithin collects the elements declared at each prefix of the
// segments, including the terminal one.
func ancestorsWithin(p *CanonicalProfile, segments []string) []*CanonicalElement {
	var chain []*CanonicalElement
	for i := 1; i <= len(segments); i++ {
		if e := p.ElementAt(strings.Join(segments[:i], ".")); e != nil {
			chain = append(chain, e)
		}
	}
	return chain
}

func typeProfile(store *StructureDefinitionStore, profiles *ProfileStore, typeName string) *CanonicalProfile {
	if p := profiles.ByType(typeName); p != nil {
		return p
	}
	sd := store.ByType(typeName)
	if sd == nil {
		return nil
	}
	p, err := BuildProfile(store, sd)
	if err != nil {
		return nil
	}
	profiles.add(p)
	return p
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ProfileStore caches built CanonicalProfiles by type name and URL.
type ProfileStore struct {
	byType map[string]*CanonicalProfile
	byURL  map[string]*CanonicalProfile
}

// NewProfileStore creates an empty cache.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		byType: make(map[string]*CanonicalProfile),
		byURL:  make(map[string]*CanonicalProfile),
	}
}

func (ps *ProfileStore) add(p *CanonicalProfile) {
	if _, ok := ps.byURL[p.URL]; ok {
		return
	}
	ps.byURL[p.URL] = p
	if _, ok := ps.byType[p.Type]; !ok {
		ps.byType[p.Type] = p
	}
}

// ByType returns the base profile for a type name.
func (ps *ProfileStore) ByType(name string) *CanonicalProfile { return ps.byType[name] }

// ByURL returns the profile built from the definition at the canonical URL.
func (ps *ProfileStore) ByURL(url string) *CanonicalProfile { return ps.byURL[url] }
