package validate

import (
	"fmt"
	"strings"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/registry"
)

// checkSlicing routes each value of a sliced collection to the first slice
// whose discriminators all match, then enforces the slicing rules, order and
// per-slice cardinality.
func (r *run) checkSlicing(ce *registry.CanonicalElement, path string, values []interface{}) error {
	def := ce.Slicing

	matched := make([]int, len(values))
	for i, val := range values {
		matched[i] = r.matchSlice(ce, val)
	}

	switch def.Rules {
	case registry.SlicingRulesClosed:
		for i, si := range matched {
			if si >= 0 {
				continue
			}
			if err := r.add(Issue{
				Severity: SeverityError,
				Code:     CodeSlicingNoMatch,
				Path:     fmt.Sprintf("%s[%d]", path, i),
				Message:  "value matches no slice and the slicing is closed",
			}); err != nil {
				return err
			}
		}
	case registry.SlicingRulesOpenAtEnd:
		seenUnmatched := false
		for i, si := range matched {
			if si < 0 {
				seenUnmatched = true
				continue
			}
			if seenUnmatched {
				if err := r.add(Issue{
					Severity: SeverityError,
					Code:     CodeSlicingNoMatch,
					Path:     fmt.Sprintf("%s[%d]", path, i),
					Message:  "sliced values must precede unsliced values when the slicing is openAtEnd",
				}); err != nil {
					return err
				}
			}
		}
	}

	if def.Ordered {
		last := -1
		for i, si := range matched {
			if si < 0 {
				continue
			}
			if si < last {
				if err := r.add(Issue{
					Severity: SeverityError,
					Code:     CodeSlicingOrder,
					Path:     fmt.Sprintf("%s[%d]", path, i),
					Message:  fmt.Sprintf("slice %q appears out of declared order", ce.Slices[si].Name),
				}); err != nil {
					return err
				}
			}
			if si > last {
				last = si
			}
		}
	}

	for si, slice := range ce.Slices {
		n := 0
		for _, m := range matched {
			if m == si {
				n++
			}
		}
		slicePath := path + ":" + slice.Name
		if n < slice.Element.Min {
			if err := r.add(Issue{
				Severity: SeverityError,
				Code:     CodeCardinalityMin,
				Path:     slicePath,
				Message:  fmt.Sprintf("slice requires at least %d value(s), found %d", slice.Element.Min, n),
			}); err != nil {
				return err
			}
		}
		if slice.Element.Max >= 0 && n > slice.Element.Max {
			if err := r.add(Issue{
				Severity: SeverityError,
				Code:     CodeCardinalityMax,
				Path:     slicePath,
				Message:  fmt.Sprintf("slice allows at most %d value(s), found %d", slice.Element.Max, n),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// matchSlice returns the index of the first slice whose discriminators all
// accept the value, -1 when none do.
func (r *run) matchSlice(ce *registry.CanonicalElement, val interface{}) int {
	for si, slice := range ce.Slices {
		ok := true
		for _, d := range ce.Slicing.Discriminator {
			if !discriminatorMatches(slice, d, val) {
				ok = false
				break
			}
		}
		if ok {
			return si
		}
	}
	return -1
}

// discriminatorMatches applies one discriminator to one candidate value.
func discriminatorMatches(slice *registry.CanonicalSlice, d registry.SlicingDiscriminator, val interface{}) bool {
	target := sliceElementAt(slice, d.Path)
	candidates := discriminatorValues(val, d.Path)

	switch d.Type {
	case "value":
		if target == nil {
			return false
		}
		expected := target.Fixed
		if expected == nil {
			expected = target.Pattern
		}
		if expected == nil {
			return false
		}
		for _, c := range candidates {
			if fhir.DeepEqual(c, expected) || patternMatches(expected, c) {
				return true
			}
		}
		return false

	case "pattern":
		if target == nil {
			return false
		}
		expected := target.Pattern
		if expected == nil {
			expected = target.Fixed
		}
		if expected == nil {
			return false
		}
		for _, c := range candidates {
			if patternMatches(expected, c) {
				return true
			}
		}
		return false

	case "type":
		if target == nil || len(target.Types) == 0 {
			return false
		}
		for _, c := range candidates {
			if typeAllowed(fhir.InferType(c), target.TypeCodes()) {
				return true
			}
		}
		return false

	case "exists":
		// The slice side states whether the path must be present (max 0
		// forbids it).
		if target != nil && target.Max == 0 {
			return len(candidates) == 0
		}
		return len(candidates) > 0

	case "profile":
		// Profile conformance of the target is validated at the profile
		// level, not during routing.
		return true
	}
	return false
}

// sliceElementAt finds the slice-side element a discriminator path names:
// the slice's own element for $this, otherwise the constrained child at the
// relative path.
func sliceElementAt(slice *registry.CanonicalSlice, path string) *registry.CanonicalElement {
	if path == "" || path == "$this" {
		return slice.Element
	}
	path = strings.TrimPrefix(path, "$this.")
	want := slice.Element.Path + "." + path
	for _, child := range slice.Children {
		if child.Path == want {
			return child
		}
		// Choice children answer for their expanded spellings.
		if fhir.IsChoicePath(child.Path) && strings.HasPrefix(want, fhir.ChoiceBase(child.Path)) {
			return child
		}
	}
	return nil
}

// discriminatorValues extracts the values a discriminator path selects from
// one candidate.
func discriminatorValues(val interface{}, path string) []interface{} {
	if path == "" || path == "$this" {
		return []interface{}{val}
	}
	path = strings.TrimPrefix(path, "$this.")
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil
	}
	if out := fhir.GetPath(m, path); len(out) > 0 {
		return out
	}
	// A leaf segment may be the base of a choice element in the document.
	if i := strings.LastIndex(path, "."); i < 0 {
		if cv := fhir.ExtractChoice(m, path); cv != nil {
			return []interface{}{cv.Value}
		}
	}
	return nil
}
