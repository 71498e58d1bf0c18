package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// SearchParameter is the conformance resource declaring one search parameter,
// possibly across several base resource types.
type SearchParameter struct {
	ResourceType string   `json:"resourceType"`
	ID           string   `json:"id,omitempty"`
	URL          string   `json:"url"`
	Name         string   `json:"name"`
	Code         string   `json:"code"`
	Status       string   `json:"status,omitempty"`
	Base         []string `json:"base"`
	Type         string   `json:"type"`
	Expression   string   `json:"expression,omitempty"`
	Target       []string `json:"target,omitempty"`
	MultipleOr   *bool    `json:"multipleOr,omitempty"`
	MultipleAnd  *bool    `json:"multipleAnd,omitempty"`
}

// Search parameter types from the FHIR valueset.
const (
	SearchTypeNumber    = "number"
	SearchTypeDate      = "date"
	SearchTypeString    = "string"
	SearchTypeToken     = "token"
	SearchTypeReference = "reference"
	SearchTypeComposite = "composite"
	SearchTypeQuantity  = "quantity"
	SearchTypeURI       = "uri"
	SearchTypeSpecial   = "special"
)

// Strategy says how a parameter's values are physically stored.
type Strategy int

const (
	// StrategyColumn stores values in a typed column named after the code.
	StrategyColumn Strategy = iota + 1
	// StrategyToken stores token values in the __code / __codeText /
	// __codeSort column triplet.
	StrategyToken
	// StrategyLookup stores values as rows in a lookup table.
	StrategyLookup
	// StrategySharedToken hashes token values into the __sharedTokens /
	// __sharedTokensText arrays shared by all such parameters.
	StrategySharedToken
)

func (s Strategy) String() string {
	switch s {
	case StrategyColumn:
		return "column"
	case StrategyToken:
		return "token"
	case StrategyLookup:
		return "lookup"
	case StrategySharedToken:
		return "shared-token"
	default:
		return "unknown"
	}
}

// ParamImpl binds one search parameter to its storage on one resource type.
// The search compiler and the row indexer both read it; neither ever invents
// a column name on its own.
type ParamImpl struct {
	Param        *SearchParameter
	ResourceType string
	Code         string
	Strategy     Strategy

	// ColumnName is the base identifier: the value column for
	// StrategyColumn, the stem of the triplet for StrategyToken.
	ColumnName string
	// ColumnType is the SQL type for StrategyColumn.
	ColumnType string
	// Array marks StrategyColumn parameters stored as arrays.
	Array bool
	// UnitColumn accompanies quantity columns.
	UnitColumn string

	// LookupTable, LookupPath and LookupColumn describe StrategyLookup:
	// the global table, the element path whose values populate it, and the
	// table column this parameter matches against.
	LookupTable  string
	LookupPath   string
	LookupColumn string
	// LookupFilters are sibling equality constraints from where() filters
	// in the expression ("phone" constrains system=phone).
	LookupFilters map[string]string

	// Expression split on top-level unions, each branch parsed relative to
	// the resource root.
	Expressions []string
}

// TokenColumn and friends derive the triplet names for token parameters.
func (im *ParamImpl) TokenColumn() string     { return "__" + im.ColumnName }
func (im *ParamImpl) TokenTextColumn() string { return "__" + im.ColumnName + "Text" }
func (im *ParamImpl) TokenSortColumn() string { return "__" + im.ColumnName + "Sort" }

// SearchParamStore holds parameter definitions and their per-type
// implementations.
type SearchParamStore struct {
	mu     sync.RWMutex
	byURL  map[string]*SearchParameter
	impls  map[string]map[string]*ParamImpl // resourceType -> code -> impl
	frozen bool
}

// NewSearchParamStore creates an empty store.
func NewSearchParamStore() *SearchParamStore {
	return &SearchParamStore{
		byURL: make(map[string]*SearchParameter),
		impls: make(map[string]map[string]*ParamImpl),
	}
}

// Register records a parameter definition. Implementations are assigned
// later, during Resolve, once all structure definitions are known.
func (s *SearchParamStore) Register(sp *SearchParameter) error {
	if sp.Code == "" {
		return fhir.InvalidSpec("SearchParameter %q has no code", sp.URL)
	}
	if sp.Type == "" {
		return fhir.InvalidSpec("SearchParameter %q has no type", sp.Code)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return fhir.InvalidSpec("registry is frozen; cannot register parameter %s", sp.Code)
	}
	key := sp.URL
	if key == "" {
		key = sp.ID
	}
	if key == "" {
		key = strings.Join(sp.Base, ",") + "#" + sp.Code
	}
	s.byURL[key] = sp
	return nil
}

// Freeze makes the store immutable.
func (s *SearchParamStore) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Lookup returns the implementation for (resourceType, code), falling back
// to parameters declared on Resource and DomainResource.
func (s *SearchParamStore) Lookup(resourceType, code string) *ParamImpl {
	if !s.frozen {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	if m := s.impls[resourceType]; m != nil {
		if im := m[code]; im != nil {
			return im
		}
	}
	for _, base := range []string{"DomainResource", "Resource"} {
		if m := s.impls[base]; m != nil {
			if im := m[code]; im != nil {
				return im
			}
		}
	}
	return nil
}

// ForType lists the implementations for a resource type sorted by code,
// including inherited Resource-level parameters.
func (s *SearchParamStore) ForType(resourceType string) []*ParamImpl {
	if !s.frozen {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	seen := make(map[string]*ParamImpl)
	for _, base := range []string{"Resource", "DomainResource", resourceType} {
		for code, im := range s.impls[base] {
			seen[code] = im
		}
	}
	out := make([]*ParamImpl, 0, len(seen))
	for _, im := range seen {
		out = append(out, im)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Resolve assigns a storage implementation to every (base, code) pair. It
// must run after every definition is registered and before Freeze. Conflicts
// that would corrupt the physical layout are InvalidSpec errors.
func (s *SearchParamStore) Resolve(store *StructureDefinitionStore, profiles *ProfileStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return fhir.InvalidSpec("registry is frozen")
	}

	// Deterministic order: sort definitions by URL key.
	keys := make([]string, 0, len(s.byURL))
	for k := range s.byURL {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sp := s.byURL[k]
		if sp.Status == "retired" || sp.Type == SearchTypeComposite || sp.Type == SearchTypeSpecial {
			continue
		}
		for _, base := range sp.Base {
			im, err := assignStrategy(store, profiles, sp, base)
			if err != nil {
				return err
			}
			if im == nil {
				continue
			}
			m := s.impls[base]
			if m == nil {
				m = make(map[string]*ParamImpl)
				s.impls[base] = m
			}
			if prev, ok := m[sp.Code]; ok && prev.Param.URL != sp.URL {
				return fhir.InvalidSpec("parameter code %q on %s is claimed by both %s and %s",
					sp.Code, base, prev.Param.URL, sp.URL)
			}
			m[sp.Code] = im
		}
	}
	return nil
}
