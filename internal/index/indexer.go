// Package index turns a resource document into the rows the storage layer
// writes: the main-table column values for every search parameter, the
// decomposed lookup-table rows, outbound reference rows and compartment
// memberships. The indexer never touches SQL; it produces values keyed by
// the column names the registry assigned.
package index

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/fhir/fhirpath"
	"github.com/fhirstore/fhirstore/internal/registry"
)

// LookupRow is one row destined for a global lookup table. Values holds the
// non-empty column values; absent columns store NULL.
type LookupRow struct {
	Table  string
	Index  int
	Values map[string]interface{}
}

// ReferenceRow is one outbound reference with the search parameter code that
// surfaced it.
type ReferenceRow struct {
	TargetID uuid.UUID
	Code     string
}

// RowSet is everything the indexer extracts from one document.
type RowSet struct {
	// Columns maps main-table column names to values. Only search and
	// metadata columns appear; the repository owns id, content, versioning
	// and project scoping.
	Columns      map[string]interface{}
	Lookups      map[string][]LookupRow
	References   []ReferenceRow
	Compartments []uuid.UUID
}

// Indexer extracts rows according to one frozen registry.
type Indexer struct {
	reg  *registry.Registry
	eval *fhirpath.Evaluator
}

// New creates an indexer over a built registry.
func New(reg *registry.Registry) *Indexer {
	return &Indexer{reg: reg, eval: fhirpath.New()}
}

// Index evaluates every search parameter of the document's type and returns
// the full row set. Values that do not fit a parameter's type are skipped,
// never fatal: a malformed element is a validation concern, not an indexing
// one.
func (ix *Indexer) Index(doc fhir.Document) (*RowSet, error) {
	resourceType := doc.Type()
	if resourceType == "" {
		return nil, fhir.InvalidResource("document has no resourceType")
	}
	if !ix.reg.KnowsType(resourceType) {
		return nil, fhir.InvalidResource("unknown resource type %q", resourceType)
	}

	rs := &RowSet{
		Columns: make(map[string]interface{}),
		Lookups: make(map[string][]LookupRow),
	}

	var sharedHashes []uuid.UUID
	var sharedText []string
	lookupCount := make(map[string]int)
	lookupSeen := make(map[string]bool)
	refSeen := make(map[string]bool)

	for _, im := range ix.reg.ParamsFor(resourceType) {
		switch im.Strategy {
		case registry.StrategyColumn:
			ix.indexColumn(doc, im, rs, refSeen)

		case registry.StrategyToken:
			var tc tokenColumns
			for _, v := range ix.values(doc, im) {
				for _, t := range tokenTuples(v) {
					tc.add(t)
				}
			}
			if len(tc.Hashes) > 0 {
				rs.Columns[im.TokenColumn()] = tc.Hashes
				rs.Columns[im.TokenTextColumn()] = tc.Text
			}
			if tc.Sort != "" {
				rs.Columns[im.TokenSortColumn()] = tc.Sort
			}

		case registry.StrategySharedToken:
			for _, v := range ix.values(doc, im) {
				for _, t := range tokenTuples(v) {
					for _, entry := range t.TextEntries() {
						entry = im.Code + "|" + entry
						if containsString(sharedText, entry) {
							continue
						}
						sharedText = append(sharedText, entry)
						sharedHashes = append(sharedHashes, HashToken(entry))
					}
				}
			}

		case registry.StrategyLookup:
			// Several parameters share one element path (family and given
			// both read Patient.name); decompose each path once.
			key := im.LookupTable + "\x00" + im.LookupPath
			if lookupSeen[key] {
				continue
			}
			lookupSeen[key] = true
			for _, v := range fhir.GetPath(map[string]interface{}(doc), im.LookupPath) {
				values := lookupRowValues(im.LookupTable, v)
				if values == nil {
					continue
				}
				rs.Lookups[im.LookupTable] = append(rs.Lookups[im.LookupTable], LookupRow{
					Table:  im.LookupTable,
					Index:  lookupCount[im.LookupTable],
					Values: values,
				})
				lookupCount[im.LookupTable]++
			}
		}
	}

	if len(sharedHashes) > 0 {
		rs.Columns["__sharedTokens"] = sharedHashes
		rs.Columns["__sharedTokensText"] = sharedText
	}

	ix.indexMeta(doc, rs)
	rs.Compartments = patientCompartments(doc)
	return rs, nil
}

// indexColumn handles scalar-column parameters: date, number, quantity,
// string, reference and uri.
func (ix *Indexer) indexColumn(doc fhir.Document, im *registry.ParamImpl, rs *RowSet, refSeen map[string]bool) {
	values := ix.values(doc, im)
	if len(values) == 0 {
		return
	}

	switch im.Param.Type {
	case registry.SearchTypeDate:
		var lo time.Time
		found := false
		for _, v := range values {
			t, ok := dateLo(v)
			if !ok {
				continue
			}
			if !found || t.Before(lo) {
				lo = t
				found = true
			}
		}
		if found {
			rs.Columns[im.ColumnName] = lo
		}

	case registry.SearchTypeNumber:
		for _, v := range values {
			if d, ok := decimalOf(v); ok {
				rs.Columns[im.ColumnName] = d.String()
				return
			}
		}

	case registry.SearchTypeQuantity:
		for _, v := range values {
			q, ok := v.(map[string]interface{})
			if !ok {
				if d, okd := decimalOf(v); okd {
					rs.Columns[im.ColumnName] = d.String()
					return
				}
				continue
			}
			d, ok := decimalOf(q["value"])
			if !ok {
				continue
			}
			rs.Columns[im.ColumnName] = d.String()
			unit, _ := q["code"].(string)
			if unit == "" {
				unit, _ = q["unit"].(string)
			}
			if unit != "" {
				rs.Columns[im.UnitColumn] = unit
			}
			return
		}

	case registry.SearchTypeString:
		for _, v := range values {
			if s := fhir.Stringify(v); s != "" {
				rs.Columns[im.ColumnName] = norm.NFC.String(s)
				return
			}
		}

	case registry.SearchTypeReference:
		refs := referenceStrings(values)
		for _, r := range refs {
			tt, tid, ok := fhir.ParseReference(r)
			if !ok || tt == "" {
				continue
			}
			id, err := uuid.Parse(tid)
			if err != nil {
				continue
			}
			key := im.Code + "\x00" + id.String()
			if refSeen[key] {
				continue
			}
			refSeen[key] = true
			rs.References = append(rs.References, ReferenceRow{TargetID: id, Code: im.Code})
		}
		if len(refs) == 0 {
			return
		}
		if im.Array {
			rs.Columns[im.ColumnName] = refs
		} else {
			rs.Columns[im.ColumnName] = refs[0]
		}

	case registry.SearchTypeURI:
		var uris []string
		for _, v := range values {
			if s := fhir.Stringify(v); s != "" && !containsString(uris, s) {
				uris = append(uris, s)
			}
		}
		if len(uris) == 0 {
			return
		}
		if im.Array {
			rs.Columns[im.ColumnName] = uris
		} else {
			rs.Columns[im.ColumnName] = uris[0]
		}
	}
}

// indexMeta extracts the fixed metadata columns from meta: tags, security
// labels, profiles and source.
func (ix *Indexer) indexMeta(doc fhir.Document, rs *RowSet) {
	meta := doc.Meta()
	if meta != nil {
		for field, stem := range map[string]string{"tag": "__tag", "security": "__security"} {
			var tc tokenColumns
			if arr, ok := meta[field].([]interface{}); ok {
				for _, v := range arr {
					for _, t := range tokenTuples(v) {
						tc.add(t)
					}
				}
			}
			if len(tc.Hashes) > 0 {
				rs.Columns[stem] = tc.Hashes
				rs.Columns[stem+"Text"] = tc.Text
			}
		}
	}
	if profiles := doc.Profiles(); len(profiles) > 0 {
		rs.Columns["_profile"] = profiles
	}
	if source := doc.Source(); source != "" {
		rs.Columns["_source"] = source
	}
}

// values evaluates every expression branch of the parameter against the
// document and concatenates the results.
func (ix *Indexer) values(doc fhir.Document, im *registry.ParamImpl) []interface{} {
	var out []interface{}
	for _, expr := range im.Expressions {
		out = append(out, fhirpath.Collect(ix.eval.Evaluate(expr, doc))...)
	}
	return out
}

// dateLo extracts the lower interval bound from a date-family value: a
// literal string or a Period object.
func dateLo(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		iv, err := fhir.ParseDateInterval(t)
		if err != nil {
			return time.Time{}, false
		}
		return iv.Lo, true
	case map[string]interface{}:
		s, _ := t["start"].(string)
		if s == "" {
			s, _ = t["end"].(string)
		}
		if s == "" {
			return time.Time{}, false
		}
		iv, err := fhir.ParseDateInterval(s)
		if err != nil {
			return time.Time{}, false
		}
		return iv.Lo, true
	}
	return time.Time{}, false
}

func decimalOf(v interface{}) (decimal.Decimal, bool) {
	s := fhir.Stringify(v)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// referenceStrings canonicalizes reference-typed values. Reference objects
// contribute their parsed "Type/id" form; URN and fragment references are
// stored raw so conditional-reference round trips keep them intact.
func referenceStrings(values []interface{}) []string {
	var out []string
	add := func(raw string) {
		if raw == "" {
			return
		}
		if tt, tid, ok := fhir.ParseReference(raw); ok {
			raw = fhir.CanonicalReference(tt, tid)
		}
		if !containsString(out, raw) {
			out = append(out, raw)
		}
	}
	for _, v := range values {
		switch t := v.(type) {
		case string:
			add(t)
		case map[string]interface{}:
			if ref, ok := t["reference"].(string); ok {
				add(ref)
			}
		}
	}
	return out
}

// lookupRowValues decomposes one element value into the columns of its
// lookup table.
func lookupRowValues(table string, v interface{}) map[string]interface{} {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	values := make(map[string]interface{})
	put := func(col, s string) {
		if s != "" {
			values[col] = norm.NFC.String(s)
		}
	}

	switch table {
	case "HumanName":
		family, _ := obj["family"].(string)
		given := joinStrings(obj["given"])
		put("family", family)
		put("given", given)
		full, _ := obj["text"].(string)
		if full == "" {
			full = strings.TrimSpace(strings.Join(nonEmpty(
				joinStrings(obj["prefix"]), given, family, joinStrings(obj["suffix"]),
			), " "))
		}
		put("name", full)

	case "Address":
		city, _ := obj["city"].(string)
		state, _ := obj["state"].(string)
		postal, _ := obj["postalCode"].(string)
		country, _ := obj["country"].(string)
		use, _ := obj["use"].(string)
		put("city", city)
		put("state", state)
		put("postalCode", postal)
		put("country", country)
		put("use", use)
		full, _ := obj["text"].(string)
		if full == "" {
			full = strings.TrimSpace(strings.Join(nonEmpty(
				joinStrings(obj["line"]), city, state, postal, country,
			), " "))
		}
		put("address", full)

	case "ContactPoint":
		system, _ := obj["system"].(string)
		use, _ := obj["use"].(string)
		value, _ := obj["value"].(string)
		put("system", system)
		put("use", use)
		put("value", value)
	}

	if len(values) == 0 {
		return nil
	}
	return values
}

func joinStrings(v interface{}) string {
	arr, ok := v.([]interface{})
	if !ok {
		return ""
	}
	var parts []string
	for _, item := range arr {
		if s, ok := item.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// patientCompartments collects the Patient compartment memberships: every
// Patient reference in the document, plus the document's own id when it is a
// Patient. Only UUID ids participate; sorted for deterministic storage.
func patientCompartments(doc fhir.Document) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	if doc.Type() == "Patient" {
		if id, err := uuid.Parse(doc.ID()); err == nil {
			seen[id] = true
		}
	}
	for _, fr := range fhir.WalkReferences(doc) {
		if fr.TargetType != "Patient" || fr.TargetID == "" {
			continue
		}
		if id, err := uuid.Parse(fr.TargetID); err == nil {
			seen[id] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
