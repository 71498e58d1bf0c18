package registry

import (
	"strings"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// baseSpecPrefix marks parameters from the core specification. Token
// parameters outside it (custom, implementation-guide defined) land in the
// shared token arrays so they never force a table migration.
const baseSpecPrefix = "http://hl7.org/fhir/SearchParameter/"

// lookupTypes maps terminal element types to the process-global lookup
// tables that hold their decomposed parts.
var lookupTypes = map[string]string{
	"HumanName":    "HumanName",
	"Address":      "Address",
	"ContactPoint": "ContactPoint",
}

// reservedColumns are the fixed infrastructure columns of every main table.
// A synthesized parameter column may not collide with them.
var reservedColumns = map[string]bool{
	"id":                 true,
	"content":            true,
	"lastUpdated":        true,
	"deleted":            true,
	"projectId":          true,
	"compartments":       true,
	"__version":          true,
	"__sharedTokens":     true,
	"__sharedTokensText": true,
	"__tag":              true,
	"__tagText":          true,
	"__security":         true,
	"__securityText":     true,
	"_profile":           true,
	"_source":            true,
}

// ReservedColumn reports whether name is one of the fixed infrastructure
// columns.
func ReservedColumn(name string) bool { return reservedColumns[name] }

// maxIdentifier is the Postgres identifier limit. Token triplets append up
// to four bytes ("Text", "Sort") plus the "__" prefix.
const maxIdentifier = 63

// assignStrategy decides the physical layout for one parameter on one base
// type. A nil impl (with nil error) means the parameter is handled elsewhere
// (control parameters) or cannot be indexed.
func assignStrategy(store *StructureDefinitionStore, profiles *ProfileStore, sp *SearchParameter, base string) (*ParamImpl, error) {
	if strings.HasPrefix(sp.Code, "_") {
		// Control parameters read fixed columns; the compiler owns them.
		return nil, nil
	}
	if sp.Expression == "" {
		return nil, nil
	}

	branches := expressionBranches(sp.Expression, base)
	if len(branches) == 0 {
		return nil, nil
	}

	name := columnBaseName(sp.Code)
	if reservedColumns[name] || reservedColumns["__"+name] {
		return nil, fhir.InvalidSpec("parameter %q on %s collides with a reserved column", sp.Code, base)
	}
	if len(name)+6 > maxIdentifier {
		return nil, fhir.InvalidSpec("parameter %q on %s exceeds the identifier limit", sp.Code, base)
	}

	im := &ParamImpl{
		Param:        sp,
		ResourceType: base,
		Code:         sp.Code,
		ColumnName:   name,
		Expressions:  branches,
	}

	firstPath, _ := expressionPath(branches[0], base)

	// String and token parameters whose path crosses a name, address or
	// contact element match against the global lookup tables instead of a
	// synthesized column.
	if sp.Type == SearchTypeString || sp.Type == SearchTypeToken {
		if table, lookupPath, column := lookupRoute(store, profiles, base, firstPath); table != "" {
			im.Strategy = StrategyLookup
			im.LookupTable = table
			im.LookupPath = lookupPath
			im.LookupColumn = column
			im.LookupFilters = expressionFilters(branches[0])
			return im, nil
		}
	}

	switch sp.Type {
	case SearchTypeToken:
		if strings.HasPrefix(sp.URL, baseSpecPrefix) {
			im.Strategy = StrategyToken
		} else {
			im.Strategy = StrategySharedToken
		}

	case SearchTypeString:
		im.Strategy = StrategyColumn
		im.ColumnType = "TEXT"

	case SearchTypeReference:
		im.Strategy = StrategyColumn
		im.ColumnType = "TEXT"
		im.Array = firstPath != "" && PathIsArray(store, profiles, base, firstPath)

	case SearchTypeURI:
		im.Strategy = StrategyColumn
		im.ColumnType = "TEXT"
		im.Array = firstPath != "" && PathIsArray(store, profiles, base, firstPath)

	case SearchTypeDate:
		im.Strategy = StrategyColumn
		im.ColumnType = "TIMESTAMPTZ"

	case SearchTypeNumber:
		im.Strategy = StrategyColumn
		im.ColumnType = "NUMERIC"

	case SearchTypeQuantity:
		im.Strategy = StrategyColumn
		im.ColumnType = "NUMERIC"
		im.UnitColumn = name + "Unit"

	default:
		return nil, nil
	}
	return im, nil
}

// expressionBranches splits a FHIRPath expression on top-level unions and
// keeps the branches that apply to the base type.
func expressionBranches(expr, base string) []string {
	var out []string
	for _, branch := range splitUnion(expr) {
		branch = trimParens(strings.TrimSpace(branch))
		root := branch
		if i := strings.IndexAny(root, ". ("); i >= 0 {
			root = root[:i]
		}
		// Branches rooted at another resource type belong to that type's
		// implementation of the same parameter.
		if root != "" && root[0] >= 'A' && root[0] <= 'Z' &&
			root != base && root != "Resource" && root != "DomainResource" {
			continue
		}
		out = append(out, branch)
	}
	return out
}

// splitUnion splits on '|' outside parentheses and quotes.
func splitUnion(expr string) []string {
	var parts []string
	depth, start := 0, 0
	inString := false
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
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
		case '|':
			if !inString && depth == 0 {
				parts = append(parts, expr[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, expr[start:])
	return parts
}

func trimParens(s string) string {
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		depth := 0
		balanced := true
		for i := 0; i < len(s)-1; i++ {
			if s[i] == '(' {
				depth++
			} else if s[i] == ')' {
				depth--
				if depth == 0 {
					balanced = false
					break
				}
			}
		}
		if !balanced {
			return s
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// expressionPath reduces a search expression branch to a plain dotted
// element path for schema resolution, dropping the resource-type root,
// filter calls and casts. The second result is the cast type from a trailing
// "as Type" or ofType()/as() call, if any.
func expressionPath(branch, base string) (string, string) {
	branch = trimParens(strings.TrimSpace(branch))
	cast := ""
	if i := strings.LastIndex(branch, " as "); i >= 0 {
		cast = strings.TrimSpace(branch[i+4:])
		branch = strings.TrimSpace(branch[:i])
		branch = trimParens(branch)
	}

	var segments []string
	for _, seg := range splitPathSegments(branch) {
		if open := strings.Index(seg, "("); open >= 0 {
			fn := seg[:open]
			arg := strings.TrimSuffix(seg[open+1:], ")")
			switch fn {
			case "as", "ofType":
				cast = strings.TrimSpace(arg)
			}
			// where(), first() and friends constrain values, not schema.
			continue
		}
		segments = append(segments, seg)
	}
	if len(segments) > 0 && (segments[0] == base || segments[0] == "Resource" || segments[0] == "DomainResource") {
		segments = segments[1:]
	}
	return strings.Join(segments, "."), cast
}

// splitPathSegments splits a dotted path on '.' outside parentheses and
// quotes.
func splitPathSegments(path string) []string {
	var parts []string
	depth, start := 0, 0
	inString := false
	for i := 0; i < len(path); i++ {
		switch path[i] {
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
		case '.':
			if !inString && depth == 0 {
				parts = append(parts, path[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// lookupRoute finds the shortest prefix of the path whose type decomposes
// into a global lookup table. It returns the table, the element path that
// populates it, and the lookup column the remainder of the path selects.
func lookupRoute(store *StructureDefinitionStore, profiles *ProfileStore, base, path string) (table, lookupPath, column string) {
	if path == "" {
		return "", "", ""
	}
	segments := strings.Split(path, ".")
	for take := 1; take <= len(segments); take++ {
		prefix := strings.Join(segments[:take], ".")
		for _, tc := range ResolveElementTypes(store, profiles, base, prefix) {
			t, ok := lookupTypes[tc]
			if !ok {
				continue
			}
			remainder := strings.Join(segments[take:], ".")
			return t, prefix, lookupColumnFor(t, remainder)
		}
	}
	return "", "", ""
}

// lookupColumnFor maps the path remainder below a lookup-typed element to
// the table column holding it. Unrecognized remainders match the full-text
// column.
func lookupColumnFor(table, remainder string) string {
	switch table {
	case "HumanName":
		switch remainder {
		case "family":
			return "family"
		case "given":
			return "given"
		default:
			return "name"
		}
	case "Address":
		switch remainder {
		case "city":
			return "city"
		case "state":
			return "state"
		case "postalCode":
			return "postalCode"
		case "country":
			return "country"
		case "use":
			return "use"
		default:
			return "address"
		}
	case "ContactPoint":
		switch remainder {
		case "system":
			return "system"
		case "use":
			return "use"
		default:
			return "value"
		}
	}
	return "value"
}

// expressionFilters extracts simple equality constraints from where()
// calls: "telecom.where(system='phone')" yields {system: phone}.
func expressionFilters(branch string) map[string]string {
	var filters map[string]string
	rest := branch
	for {
		i := strings.Index(rest, ".where(")
		if i < 0 {
			break
		}
		arg := rest[i+len(".where("):]
		end := strings.Index(arg, ")")
		if end < 0 {
			break
		}
		cond := arg[:end]
		rest = arg[end+1:]
		eq := strings.Index(cond, "=")
		if eq <= 0 || strings.ContainsAny(cond, "|&") {
			continue
		}
		field := strings.TrimSpace(cond[:eq])
		value := strings.TrimSpace(cond[eq+1:])
		value = strings.Trim(value, "'")
		if field == "" || value == "" || strings.Contains(field, "(") {
			continue
		}
		if filters == nil {
			filters = make(map[string]string)
		}
		filters[field] = value
	}
	return filters
}

// columnBaseName converts a parameter code to a column identifier:
// hyphenated codes camelize ("general-practitioner" becomes
// generalPractitioner).
func columnBaseName(code string) string {
	if !strings.Contains(code, "-") {
		return code
	}
	parts := strings.Split(code, "-")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
