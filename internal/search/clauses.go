package search

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/registry"
	"github.com/fhirstore/fhirstore/internal/schema"
)

// missingClause renders the :missing modifier for any single column.
func missingClause(alias, col string, p *Param) string {
	if parseBool(p) {
		return alias + "." + col + " IS NULL"
	}
	return alias + "." + col + " IS NOT NULL"
}

// escapeLike escapes LIKE metacharacters in a user value.
func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}

func orJoin(clauses []string) string {
	if len(clauses) == 1 {
		return clauses[0]
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

// stringClause: prefix ILIKE by default, equality under :exact, infix ILIKE
// under :contains.
func stringClause(b *builder, alias, col string, p *Param) (string, error) {
	switch p.Modifier {
	case "missing":
		return missingClause(alias, col, p), nil
	case "exact":
		var vals []string
		for _, v := range p.Values {
			vals = append(vals, v.Raw)
		}
		return alias + "." + col + " = ANY(" + b.bind(vals) + ")", nil
	case "contains":
		var clauses []string
		for _, v := range p.Values {
			clauses = append(clauses, alias+"."+col+" ILIKE "+b.bind("%"+escapeLike(v.Raw)+"%"))
		}
		return orJoin(clauses), nil
	case "":
		var clauses []string
		for _, v := range p.Values {
			clauses = append(clauses, alias+"."+col+" ILIKE "+b.bind(escapeLike(v.Raw)+"%"))
		}
		return orJoin(clauses), nil
	}
	return "", fhir.InvalidSearch("modifier %q is not valid for string parameter %q", p.Modifier, p.Code)
}

// dateClause compares the scalar lower-bound column against the implicit
// interval of each value.
func dateClause(b *builder, alias, col string, p *Param) (string, error) {
	if p.Modifier == "missing" {
		return missingClause(alias, col, p), nil
	}
	if p.Modifier != "" {
		return "", fhir.InvalidSearch("modifier %q is not valid for date parameter %q", p.Modifier, p.Code)
	}

	qcol := alias + "." + col
	var clauses []string
	for _, v := range p.Values {
		prefix, lit := SplitPrefix(v.Raw)
		iv, err := fhir.ParseDateInterval(lit)
		if err != nil {
			return "", fhir.InvalidSearch("invalid date value %q", v.Raw)
		}
		switch prefix {
		case "eq":
			clauses = append(clauses, "("+qcol+" >= "+b.bind(iv.Lo)+" AND "+qcol+" <= "+b.bind(iv.Hi)+")")
		case "ne":
			clauses = append(clauses, "("+qcol+" < "+b.bind(iv.Lo)+" OR "+qcol+" > "+b.bind(iv.Hi)+")")
		case "lt", "eb":
			clauses = append(clauses, qcol+" < "+b.bind(iv.Lo))
		case "gt", "sa":
			clauses = append(clauses, qcol+" > "+b.bind(iv.Hi))
		case "le":
			clauses = append(clauses, qcol+" <= "+b.bind(iv.Hi))
		case "ge":
			clauses = append(clauses, qcol+" >= "+b.bind(iv.Lo))
		case "ap":
			lo := iv.Lo.Add(-24 * time.Hour)
			hi := iv.Hi.Add(24 * time.Hour)
			clauses = append(clauses, "("+qcol+" >= "+b.bind(lo)+" AND "+qcol+" <= "+b.bind(hi)+")")
		default:
			return "", fhir.InvalidSearch("invalid prefix %q", prefix)
		}
	}
	return orJoin(clauses), nil
}

// numberClause compares a NUMERIC column; ap widens by ±10%.
func numberClause(b *builder, alias, col string, p *Param) (string, error) {
	if p.Modifier == "missing" {
		return missingClause(alias, col, p), nil
	}
	if p.Modifier != "" {
		return "", fhir.InvalidSearch("modifier %q is not valid for number parameter %q", p.Modifier, p.Code)
	}

	qcol := alias + "." + col
	var clauses []string
	for _, v := range p.Values {
		clause, err := numericPredicate(b, qcol, v.Raw)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return orJoin(clauses), nil
}

func numericPredicate(b *builder, qcol, raw string) (string, error) {
	prefix, lit := SplitPrefix(raw)
	d, err := decimal.NewFromString(lit)
	if err != nil {
		return "", fhir.InvalidSearch("invalid numeric value %q", raw)
	}
	switch prefix {
	case "eq":
		return qcol + " = " + b.bind(d.String()), nil
	case "ne":
		return qcol + " <> " + b.bind(d.String()), nil
	case "lt", "eb":
		return qcol + " < " + b.bind(d.String()), nil
	case "gt", "sa":
		return qcol + " > " + b.bind(d.String()), nil
	case "le":
		return qcol + " <= " + b.bind(d.String()), nil
	case "ge":
		return qcol + " >= " + b.bind(d.String()), nil
	case "ap":
		margin := d.Mul(decimal.NewFromFloat(0.1)).Abs()
		lo := d.Sub(margin)
		hi := d.Add(margin)
		return "(" + qcol + " >= " + b.bind(lo.String()) + " AND " + qcol + " <= " + b.bind(hi.String()) + ")", nil
	}
	return "", fhir.InvalidSearch("invalid prefix %q", prefix)
}

// quantityClause parses "[prefix]number[|system|code]" and matches the value
// column plus, when a unit is given, the unit column.
func quantityClause(b *builder, alias, col, unitCol string, p *Param) (string, error) {
	if p.Modifier == "missing" {
		return missingClause(alias, col, p), nil
	}
	if p.Modifier != "" {
		return "", fhir.InvalidSearch("modifier %q is not valid for quantity parameter %q", p.Modifier, p.Code)
	}

	var clauses []string
	for _, v := range p.Values {
		parts := strings.SplitN(v.Raw, "|", 3)
		clause, err := numericPredicate(b, alias+"."+col, parts[0])
		if err != nil {
			return "", err
		}
		unit := ""
		if len(parts) == 3 && parts[2] != "" {
			unit = parts[2]
		} else if len(parts) >= 2 && parts[1] != "" {
			unit = parts[1]
		}
		if unit != "" {
			clause = "(" + clause + " AND " + alias + "." + unitCol + " = " + b.bind(unit) + ")"
		}
		clauses = append(clauses, clause)
	}
	return orJoin(clauses), nil
}

// referenceClause matches stored canonical references. A bare id expands to
// "Target/id" for every declared target type.
func referenceClause(b *builder, alias, col string, im *registry.ParamImpl, p *Param) (string, error) {
	if p.Modifier == "missing" {
		return missingClause(alias, col, p), nil
	}
	if p.Modifier != "" {
		return "", fhir.InvalidSearch("modifier %q is not valid for reference parameter %q", p.Modifier, p.Code)
	}

	var candidates []string
	for _, v := range p.Values {
		raw := v.Raw
		if strings.Contains(raw, "/") || strings.Contains(raw, ":") {
			candidates = append(candidates, raw)
			continue
		}
		if len(im.Param.Target) == 0 {
			candidates = append(candidates, raw)
		}
		for _, target := range im.Param.Target {
			candidates = append(candidates, target+"/"+raw)
		}
	}
	if im.Array {
		return alias + "." + col + " && " + b.bind(candidates) + "::text[]", nil
	}
	return alias + "." + col + " = ANY(" + b.bind(candidates) + ")", nil
}

// uriClause matches URIs exactly.
func uriClause(b *builder, alias, col string, array bool, p *Param) (string, error) {
	if p.Modifier == "missing" {
		return missingClause(alias, col, p), nil
	}
	if p.Modifier != "" {
		return "", fhir.InvalidSearch("modifier %q is not valid for uri parameter %q", p.Modifier, p.Code)
	}
	var vals []string
	for _, v := range p.Values {
		vals = append(vals, v.Raw)
	}
	if array {
		return alias + "." + col + " && " + b.bind(vals) + "::text[]", nil
	}
	return alias + "." + col + " = ANY(" + b.bind(vals) + ")", nil
}

// arrayOverlapClause matches a TEXT[] column by overlap (_profile).
func arrayOverlapClause(b *builder, alias, col string, p *Param) string {
	if p.Modifier == "missing" {
		return missingClause(alias, col, p)
	}
	var vals []string
	for _, v := range p.Values {
		vals = append(vals, v.Raw)
	}
	return alias + "." + col + " && " + b.bind(vals) + "::text[]"
}

// textEqualsClause matches a scalar TEXT column exactly (_source).
func textEqualsClause(b *builder, alias, col string, p *Param) string {
	if p.Modifier == "missing" {
		return missingClause(alias, col, p)
	}
	var vals []string
	for _, v := range p.Values {
		vals = append(vals, v.Raw)
	}
	return alias + "." + col + " = ANY(" + b.bind(vals) + ")"
}

// tokenClause compiles token matching against a text array column. For
// shared-token parameters entries are namespaced by the parameter code. The
// sortCol backs :text; stems without one (metadata tokens) reject it.
func (c *Compiler) tokenClause(b *builder, alias, hashCol, textCol, sortCol, sharedCode string, p *Param) (string, error) {
	qtext := alias + "." + textCol

	switch p.Modifier {
	case "missing":
		return missingClause(alias, textCol, p), nil

	case "text":
		if sortCol == "" {
			return "", fhir.InvalidSearch("modifier :text is not valid for parameter %q", p.Code)
		}
		var clauses []string
		for _, v := range p.Values {
			clauses = append(clauses, alias+"."+sortCol+" ILIKE "+b.bind(escapeLike(v.Raw)+"%"))
		}
		return orJoin(clauses), nil

	case "", "not":
		entries, likes := tokenEntries(p.Values, sharedCode)
		clause, err := tokenMatch(b, qtext, entries, likes)
		if err != nil {
			return "", err
		}
		if p.Modifier == "not" {
			return "NOT " + clause, nil
		}
		return clause, nil

	case "in", "not-in":
		if c.term == nil {
			return "", fhir.InvalidSearch("no terminology service for modifier :%s", p.Modifier)
		}
		var entries []string
		for _, v := range p.Values {
			codings, err := c.term.Expand(v.Raw)
			if err != nil {
				return "", fhir.InvalidSearch("cannot expand value set %q: %v", v.Raw, err)
			}
			entries = append(entries, codingEntries(codings, sharedCode)...)
		}
		clause, err := tokenMatch(b, qtext, entries, nil)
		if err != nil {
			return "", err
		}
		if p.Modifier == "not-in" {
			return "NOT " + clause, nil
		}
		return clause, nil

	case "above", "below":
		if c.term == nil {
			return "", fhir.InvalidSearch("no terminology service for modifier :%s", p.Modifier)
		}
		var entries []string
		for _, v := range p.Values {
			system, code, ok := strings.Cut(v.Raw, "|")
			if !ok || system == "" || code == "" {
				return "", fhir.InvalidSearch("modifier :%s requires system|code, got %q", p.Modifier, v.Raw)
			}
			var codings []Coding
			var err error
			if p.Modifier == "above" {
				codings, err = c.term.Above(system, code)
			} else {
				codings, err = c.term.Below(system, code)
			}
			if err != nil {
				return "", fhir.InvalidSearch("terminology lookup for %q failed: %v", v.Raw, err)
			}
			entries = append(entries, codingEntries(codings, sharedCode)...)
		}
		return tokenMatch(b, qtext, entries, nil)
	}
	return "", fhir.InvalidSearch("modifier %q is not valid for token parameter %q", p.Modifier, p.Code)
}

// tokenEntries renders query values into stored text forms: exact entries
// for overlap matching and LIKE patterns for the "system|" any-code form.
func tokenEntries(values []Value, sharedCode string) (entries, likes []string) {
	for _, v := range values {
		raw := v.Raw
		if i := strings.Index(raw, "|"); i >= 0 {
			system, code := raw[:i], raw[i+1:]
			switch {
			case code == "" && system != "":
				pattern := escapeLike(system) + "|%"
				if sharedCode != "" {
					pattern = escapeLike(sharedCode) + "|" + pattern
				}
				likes = append(likes, pattern)
				continue
			case system == "":
				raw = code
			default:
				raw = system + "|" + code
			}
		}
		if sharedCode != "" {
			raw = sharedCode + "|" + raw
		}
		entries = append(entries, raw)
	}
	return entries, likes
}

func codingEntries(codings []Coding, sharedCode string) []string {
	var out []string
	for _, cd := range codings {
		entry := cd.Code
		if cd.System != "" {
			entry = cd.System + "|" + cd.Code
		}
		if sharedCode != "" {
			entry = sharedCode + "|" + entry
		}
		out = append(out, entry)
	}
	return out
}

// tokenMatch combines overlap and unnest-LIKE matching into one clause.
func tokenMatch(b *builder, qtext string, entries, likes []string) (string, error) {
	var clauses []string
	if len(entries) > 0 {
		clauses = append(clauses, qtext+" && "+b.bind(entries)+"::text[]")
	}
	for _, pattern := range likes {
		clauses = append(clauses,
			"EXISTS (SELECT 1 FROM unnest("+qtext+") AS tok WHERE tok LIKE "+b.bind(pattern)+")")
	}
	if len(clauses) == 0 {
		return "FALSE", nil
	}
	return orJoin(clauses), nil
}

// lookupClause compiles a lookup-table parameter as an EXISTS against the
// global table, applying the expression's sibling filters (a phone search
// constrains system=phone).
func (c *Compiler) lookupClause(b *builder, alias string, im *registry.ParamImpl, p *Param) (string, error) {
	table := schema.QuoteIdent(im.LookupTable)
	col := `lk.` + schema.QuoteIdent(im.LookupColumn)

	var filters []string
	keys := make([]string, 0, len(im.LookupFilters))
	for k := range im.LookupFilters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		filters = append(filters, `lk.`+schema.QuoteIdent(k)+` = `+b.bind(im.LookupFilters[k]))
	}

	var match string
	switch p.Modifier {
	case "missing":
		// handled below: presence of any row decides.
	case "exact":
		var vals []string
		for _, v := range p.Values {
			vals = append(vals, v.Raw)
		}
		match = col + " = ANY(" + b.bind(vals) + ")"
	case "contains":
		var clauses []string
		for _, v := range p.Values {
			clauses = append(clauses, col+" ILIKE "+b.bind("%"+escapeLike(v.Raw)+"%"))
		}
		match = orJoin(clauses)
	case "":
		var clauses []string
		for _, v := range p.Values {
			if im.Param.Type == registry.SearchTypeToken {
				clauses = append(clauses, col+" = "+b.bind(v.Raw))
			} else {
				clauses = append(clauses, col+" ILIKE "+b.bind(escapeLike(v.Raw)+"%"))
			}
		}
		match = orJoin(clauses)
	default:
		return "", fhir.InvalidSearch("modifier %q is not valid for parameter %q", p.Modifier, p.Code)
	}

	sub := `SELECT 1 FROM ` + table + ` lk WHERE lk."resourceId" = ` + alias + `."id"`
	for _, f := range filters {
		sub += ` AND ` + f
	}
	if p.Modifier == "missing" {
		if parseBool(p) {
			return `NOT EXISTS (` + sub + `)`, nil
		}
		return `EXISTS (` + sub + `)`, nil
	}
	return `EXISTS (` + sub + ` AND ` + match + `)`, nil
}
