// Package search parses FHIR search URLs and compiles them to parameterised
// SQL against the planned schema. The compiler never inlines a user value:
// everything arrives through placeholders, and every identifier is drawn
// from the registry's column assignments.
package search

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// Value is one search value with its optional comparison prefix. The prefix
// is only split off for ordered types (date, number, quantity); token and
// string values keep their raw text.
type Value struct {
	Prefix string
	Raw    string
}

// Param is one parsed search parameter. Values within a param are OR'd;
// params are AND'd.
type Param struct {
	Code     string
	Modifier string
	// Chain carries the target-side code of a depth-1 chained parameter
	// ("subject:Patient.gender=male" puts "gender" here), ChainType the
	// optional type qualifier.
	Chain     string
	ChainType string
	Values    []Value
}

// SortRule is one _sort entry.
type SortRule struct {
	Code       string
	Descending bool
}

// IncludeRule is one _include or _revinclude entry,
// "SourceType:param[:TargetType]".
type IncludeRule struct {
	Source  string
	Param   string
	Target  string
	Iterate bool
}

// Compartment scopes a search to one subject's compartment.
type Compartment struct {
	Type string
	ID   uuid.UUID
}

// Request is a parsed search. Count is -1 until the compiler applies the
// configured default.
type Request struct {
	ResourceType string
	Params       []*Param
	Count        int
	Offset       int
	Sort         []SortRule
	Total        string
	Includes     []IncludeRule
	Revincludes  []IncludeRule
	Compartment  *Compartment
	Strict       bool
}

// Control parameters the compiler resolves against fixed columns rather
// than registry implementations.
var controlParams = map[string]bool{
	"_id": true, "_lastUpdated": true, "_tag": true, "_security": true,
	"_profile": true, "_source": true,
}

var knownModifiers = map[string]bool{
	"exact": true, "contains": true, "missing": true, "not": true,
	"text": true, "above": true, "below": true, "in": true, "not-in": true,
	"of-type": true, "iterate": true,
}

// Parse builds a Request from raw query values. Unknown parameter codes are
// kept; the compiler decides between warning and rejection. Malformed
// control values fail immediately.
func Parse(resourceType string, query url.Values) (*Request, error) {
	req := &Request{ResourceType: resourceType, Count: -1}

	// Deterministic parse order regardless of map iteration.
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, raw := range query[key] {
			if err := parseOne(req, key, raw); err != nil {
				return nil, err
			}
		}
	}
	return req, nil
}

func parseOne(req *Request, key, raw string) error {
	name, modifier := splitModifier(key)

	switch name {
	case "_count":
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fhir.InvalidSearch("invalid _count %q", raw)
		}
		req.Count = n
		return nil
	case "_offset":
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fhir.InvalidSearch("invalid _offset %q", raw)
		}
		req.Offset = n
		return nil
	case "_total":
		switch raw {
		case "none", "estimate", "accurate":
			req.Total = raw
			return nil
		}
		return fhir.InvalidSearch("invalid _total %q", raw)
	case "_sort":
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			rule := SortRule{Code: part}
			if strings.HasPrefix(part, "-") {
				rule.Code = part[1:]
				rule.Descending = true
			}
			if rule.Code == "" {
				return fhir.InvalidSearch("invalid _sort %q", raw)
			}
			req.Sort = append(req.Sort, rule)
		}
		return nil
	case "_include", "_revinclude":
		rule, err := parseIncludeRule(raw)
		if err != nil {
			return err
		}
		rule.Iterate = modifier == "iterate"
		if name == "_include" {
			req.Includes = append(req.Includes, rule)
		} else {
			req.Revincludes = append(req.Revincludes, rule)
		}
		return nil
	}

	if modifier != "" && !knownModifiers[modifier] && !isTypeQualifier(modifier) {
		return fhir.InvalidSearch("unknown modifier %q on parameter %q", modifier, name)
	}

	p := &Param{Code: name, Modifier: modifier}

	// Chained parameter: "subject.name" or "subject:Patient.name". The
	// modifier slot carries the type qualifier in the second form.
	if i := strings.Index(name, "."); i > 0 && !strings.HasPrefix(name, "_") {
		if modifier != "" && !isTypeQualifier(modifier) {
			return fhir.InvalidSearch("modifier %q is not supported on chained parameter %q", modifier, name)
		}
		p.Code = name[:i]
		p.Chain = name[i+1:]
		p.Modifier = ""
		if p.Chain == "" || strings.Contains(p.Chain, ".") {
			return fhir.InvalidSearch("chained parameter %q exceeds depth 1", name)
		}
	}
	if isTypeQualifier(modifier) {
		if i := strings.Index(modifier, "."); i > 0 {
			// "subject:Patient.gender" splits as modifier "Patient.gender".
			p.ChainType = modifier[:i]
			p.Chain = modifier[i+1:]
		} else {
			p.ChainType = modifier
		}
		p.Modifier = ""
		if strings.Contains(p.Chain, ".") {
			return fhir.InvalidSearch("chained parameter %q exceeds depth 1", key)
		}
	}

	for _, v := range splitValues(raw) {
		p.Values = append(p.Values, Value{Raw: v})
	}
	if len(p.Values) == 0 {
		return fhir.InvalidSearch("parameter %q has no value", key)
	}
	req.Params = append(req.Params, p)
	return nil
}

// splitModifier separates "code:modifier". Chained type qualifiers
// ("subject:Patient.gender") also arrive through the modifier slot.
func splitModifier(key string) (string, string) {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// isTypeQualifier reports a modifier that is really a resource-type
// qualifier for chaining: starts uppercase.
func isTypeQualifier(modifier string) bool {
	return modifier != "" && modifier[0] >= 'A' && modifier[0] <= 'Z'
}

// splitValues splits a comma-separated value list honouring backslash
// escapes ("\," is a literal comma).
func splitValues(raw string) []string {
	var out []string
	var b strings.Builder
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ',':
			out = append(out, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	out = append(out, b.String())

	filtered := out[:0]
	for _, v := range out {
		if v != "" {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// parseIncludeRule parses "SourceType:param" or "SourceType:param:Target".
func parseIncludeRule(raw string) (IncludeRule, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return IncludeRule{}, fhir.InvalidSearch("invalid include %q", raw)
	}
	rule := IncludeRule{Source: parts[0], Param: parts[1]}
	if len(parts) == 3 {
		rule.Target = parts[2]
	}
	return rule, nil
}

// searchPrefixes are the ordered comparison prefixes of the grammar.
var searchPrefixes = map[string]bool{
	"eq": true, "ne": true, "lt": true, "gt": true,
	"le": true, "ge": true, "sa": true, "eb": true, "ap": true,
}

// SplitPrefix separates a leading comparison prefix from an ordered-type
// value. "ge2013" yields ("ge", "2013"); missing prefix defaults to eq.
func SplitPrefix(raw string) (string, string) {
	if len(raw) > 2 && searchPrefixes[raw[:2]] {
		rest := raw[2:]
		if rest[0] >= '0' && rest[0] <= '9' || rest[0] == '-' {
			return raw[:2], rest
		}
	}
	return "eq", raw
}
