// Package fhirpath evaluates the restricted path expression subset used by
// search parameter definitions: dotted element paths, choice-type resolution,
// top-level unions, where() filters with simple equality or "resolve() is
// Type" conditions, as()/ofType() casts, first(), and resolve() pass-through.
// It is not a general FHIRPath engine; expressions outside the subset yield
// empty sequences rather than errors, matching how unindexable expressions
// degrade elsewhere in the engine.
package fhirpath

import (
	"strings"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// Iterator is a finite, forward-only sequence of document values. It is
// single-pass and not restartable: once Next returns false it stays false.
type Iterator struct {
	next func() (interface{}, bool)
}

// Next yields the next value, or false when the sequence is exhausted.
func (it *Iterator) Next() (interface{}, bool) {
	if it == nil || it.next == nil {
		return nil, false
	}
	return it.next()
}

// Collect drains the iterator into a slice.
func Collect(it *Iterator) []interface{} {
	var out []interface{}
	for {
		v, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Empty is the zero-length sequence.
func Empty() *Iterator {
	return &Iterator{next: func() (interface{}, bool) { return nil, false }}
}

// fromSlice yields the elements of a slice in order.
func fromSlice(values []interface{}) *Iterator {
	i := 0
	return &Iterator{next: func() (interface{}, bool) {
		if i >= len(values) {
			return nil, false
		}
		v := values[i]
		i++
		return v, true
	}}
}

// Evaluator is the engine's default path collaborator. The zero value is
// ready to use; it carries no state between calls.
type Evaluator struct{}

// New creates an Evaluator.
func New() *Evaluator { return &Evaluator{} }

// Evaluate runs an expression against a document root and returns the lazy
// sequence of matching values. Union branches evaluate left to right.
func (e *Evaluator) Evaluate(expr string, root map[string]interface{}) *Iterator {
	branches := splitTopLevel(expr, '|')
	if len(branches) == 1 {
		return evalBranch(strings.TrimSpace(branches[0]), root)
	}
	var current *Iterator
	idx := 0
	return &Iterator{next: func() (interface{}, bool) {
		for {
			if current != nil {
				if v, ok := current.Next(); ok {
					return v, true
				}
				current = nil
			}
			if idx >= len(branches) {
				return nil, false
			}
			current = evalBranch(strings.TrimSpace(branches[idx]), root)
			idx++
		}
	}}
}

// segment is one parsed step of a branch.
type segment struct {
	field string // plain element name, when fn is empty
	fn    string // where, as, ofType, first, resolve, exists
	arg   string // raw argument text of fn
}

func evalBranch(branch string, root map[string]interface{}) *Iterator {
	branch = trimParens(branch)
	// "(path as Type)" is sugar for path.as(Type).
	if i := strings.LastIndex(branch, " as "); i >= 0 && !strings.Contains(branch[i:], "'") {
		cast := strings.TrimSpace(branch[i+4:])
		branch = strings.TrimSpace(branch[:i])
		return applySegment(evalBranch(branch, root), segment{fn: "as", arg: cast})
	}

	segs := parseSegments(branch)
	if len(segs) == 0 {
		return Empty()
	}

	// A leading capitalized identifier is a resource-type filter.
	start := 0
	if segs[0].fn == "" && isTypeName(segs[0].field) {
		rt, _ := root["resourceType"].(string)
		first := segs[0].field
		if first != rt && first != "Resource" && first != "DomainResource" {
			return Empty()
		}
		start = 1
	}

	it := fromSlice([]interface{}{interface{}(root)})
	for _, seg := range segs[start:] {
		it = applySegment(it, seg)
	}
	return it
}

func parseSegments(branch string) []segment {
	var segs []segment
	for _, raw := range splitTopLevel(branch, '.') {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if open := strings.IndexByte(raw, '('); open >= 0 && strings.HasSuffix(raw, ")") {
			segs = append(segs, segment{
				fn:  raw[:open],
				arg: strings.TrimSpace(raw[open+1 : len(raw)-1]),
			})
			continue
		}
		segs = append(segs, segment{field: raw})
	}
	return segs
}

func applySegment(in *Iterator, seg segment) *Iterator {
	switch {
	case seg.field != "":
		return fieldStage(in, seg.field)
	case seg.fn == "where":
		return whereStage(in, seg.arg)
	case seg.fn == "as" || seg.fn == "ofType":
		return castStage(in, seg.arg)
	case seg.fn == "first":
		return firstStage(in)
	case seg.fn == "resolve":
		// References resolve at query time via the reference table; the
		// value itself passes through.
		return in
	case seg.fn == "exists":
		return existsStage(in)
	default:
		return Empty()
	}
}

// fieldStage projects a field from each object in the sequence, flattening
// arrays. A missing key falls back to the choice-type expansion of the field
// (value resolves valueQuantity and friends).
func fieldStage(in *Iterator, field string) *Iterator {
	var pending []interface{}
	return &Iterator{next: func() (interface{}, bool) {
		for {
			if len(pending) > 0 {
				v := pending[0]
				pending = pending[1:]
				return v, true
			}
			src, ok := in.Next()
			if !ok {
				return nil, false
			}
			obj, ok := src.(map[string]interface{})
			if !ok {
				continue
			}
			val, ok := obj[field]
			if !ok {
				cv := fhir.ExtractChoice(obj, field)
				if cv == nil {
					continue
				}
				val = cv.Value
			}
			if arr, isArr := val.([]interface{}); isArr {
				pending = append(pending, arr...)
				continue
			}
			pending = append(pending, val)
		}
	}}
}

// whereStage filters the sequence by a where() condition. Supported forms:
// "field='value'" and "resolve() is Type". Unsupported conditions drop
// everything so a partially understood expression never over-matches.
func whereStage(in *Iterator, cond string) *Iterator {
	cond = strings.TrimSpace(cond)

	if strings.HasPrefix(cond, "resolve()") {
		rest := strings.TrimSpace(strings.TrimPrefix(cond, "resolve()"))
		if !strings.HasPrefix(rest, "is ") {
			return Empty()
		}
		target := strings.TrimSpace(strings.TrimPrefix(rest, "is "))
		return filterStage(in, func(v interface{}) bool {
			obj, ok := v.(map[string]interface{})
			if !ok {
				return false
			}
			ref, _ := obj["reference"].(string)
			tt, _, ok := fhir.ParseReference(ref)
			return ok && tt == target
		})
	}

	eq := strings.Index(cond, "=")
	if eq <= 0 {
		return Empty()
	}
	field := strings.TrimSpace(cond[:eq])
	want := strings.Trim(strings.TrimSpace(cond[eq+1:]), "'")
	if strings.ContainsAny(field, "(). ") {
		return Empty()
	}
	return filterStage(in, func(v interface{}) bool {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return false
		}
		return fhir.Stringify(obj[field]) == want
	})
}

// castStage keeps values whose inferred FHIR type satisfies the named type.
func castStage(in *Iterator, typeName string) *Iterator {
	typeName = strings.TrimSpace(typeName)
	if typeName == "" {
		return Empty()
	}
	return filterStage(in, func(v interface{}) bool {
		return fhir.TypeAssignable(fhir.InferType(v), typeName)
	})
}

func filterStage(in *Iterator, keep func(interface{}) bool) *Iterator {
	return &Iterator{next: func() (interface{}, bool) {
		for {
			v, ok := in.Next()
			if !ok {
				return nil, false
			}
			if keep(v) {
				return v, true
			}
		}
	}}
}

func firstStage(in *Iterator) *Iterator {
	done := false
	return &Iterator{next: func() (interface{}, bool) {
		if done {
			return nil, false
		}
		done = true
		return in.Next()
	}}
}

// existsStage reduces the sequence to a single boolean.
func existsStage(in *Iterator) *Iterator {
	done := false
	return &Iterator{next: func() (interface{}, bool) {
		if done {
			return nil, false
		}
		done = true
		_, ok := in.Next()
		return ok, true
	}}
}

// splitTopLevel splits on a separator outside parentheses and single quotes.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	inString := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inString = !inString
		case '(':
			if !inString {
				depth++
			}
		case ')':
			if !inString {
				depth--
			}
		case sep:
			if !inString && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func trimParens(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		depth := 0
		balanced := true
		for i := 0; i < len(s)-1; i++ {
			switch s[i] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					balanced = false
				}
			}
			if !balanced {
				break
			}
		}
		if !balanced {
			return s
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func isTypeName(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}
