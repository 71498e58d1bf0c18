// Package schema derives the relational layout for every registered resource
// type: a main table, a history table, a references table, and the shared
// lookup tables, with exactly the columns and indexes the declared search
// parameters need. The planner is deterministic; two runs over the same
// registry emit byte-identical DDL.
package schema

import (
	"sort"
	"strings"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/registry"
)

// Column is one synthesized table column.
type Column struct {
	Name    string
	Type    string
	NotNull bool
	Default string
}

// Table is one synthesized table.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// Index is one synthesized index. Expressions holds quoted column names or
// raw SQL expressions; Method is btree or gin.
type Index struct {
	Name        string
	Table       string
	Method      string
	Expressions []string
	Include     []string
	Where       string
}

// TableSet is the per-resource-type table family.
type TableSet struct {
	ResourceType string
	Main         Table
	History      Table
	References   Table
}

// Plan is the full physical layout for a registry.
type Plan struct {
	Sets    []TableSet
	Lookups []Table
	Indexes []Index

	byType map[string]*TableSet
}

// Set returns the table set for a resource type, nil when unknown.
func (p *Plan) Set(resourceType string) *TableSet { return p.byType[resourceType] }

// Table name derivation. The search compiler and repository use these; no
// other code builds table names.

// MainTable returns the main table name for a resource type.
func MainTable(resourceType string) string { return resourceType }

// HistoryTable returns the history table name for a resource type.
func HistoryTable(resourceType string) string { return resourceType + "_History" }

// ReferencesTable returns the references table name for a resource type.
func ReferencesTable(resourceType string) string { return resourceType + "_References" }

// QuoteIdent quotes a SQL identifier. Identifiers come exclusively from the
// planner's own output and the registry's validated column names, never from
// request values.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// PlanSchema synthesizes the layout for every concrete resource type in the
// registry.
func PlanSchema(reg *registry.Registry) (*Plan, error) {
	p := &Plan{byType: make(map[string]*TableSet)}

	for _, resourceType := range reg.ResourceTypes() {
		set, indexes, err := planResource(reg, resourceType)
		if err != nil {
			return nil, err
		}
		p.Sets = append(p.Sets, *set)
		p.Indexes = append(p.Indexes, indexes...)
	}
	// Pointers into Sets are only taken once the slice stops growing.
	for i := range p.Sets {
		p.byType[p.Sets[i].ResourceType] = &p.Sets[i]
	}

	lookups, lookupIndexes := planLookupTables()
	p.Lookups = lookups
	p.Indexes = append(p.Indexes, lookupIndexes...)

	sort.Slice(p.Indexes, func(i, j int) bool { return p.Indexes[i].Name < p.Indexes[j].Name })
	return p, nil
}

func planResource(reg *registry.Registry, resourceType string) (*TableSet, []Index, error) {
	main := Table{
		Name:       MainTable(resourceType),
		PrimaryKey: []string{"id"},
		Columns: []Column{
			{Name: "id", Type: "UUID", NotNull: true},
			{Name: "content", Type: "TEXT", NotNull: true},
			{Name: "lastUpdated", Type: "TIMESTAMPTZ", NotNull: true},
			{Name: "deleted", Type: "BOOLEAN", NotNull: true, Default: "false"},
			{Name: "projectId", Type: "UUID", NotNull: true},
			{Name: "__version", Type: "INTEGER", NotNull: true},
			{Name: "__sharedTokens", Type: "UUID[]"},
			{Name: "__sharedTokensText", Type: "TEXT[]"},
			{Name: "__tag", Type: "UUID[]"},
			{Name: "__tagText", Type: "TEXT[]"},
			{Name: "__security", Type: "UUID[]"},
			{Name: "__securityText", Type: "TEXT[]"},
			{Name: "_profile", Type: "TEXT[]"},
			{Name: "_source", Type: "TEXT"},
		},
	}
	// Binary carries no compartments; everything else does.
	if resourceType != "Binary" {
		main.Columns = append(main.Columns, Column{
			Name: "compartments", Type: "UUID[]", NotNull: true, Default: "'{}'",
		})
	}

	seen := make(map[string]string) // column name -> parameter code
	claim := func(name, code string) error {
		if registry.ReservedColumn(name) {
			return fhir.InvalidSpec("parameter %q on %s names reserved column %q", code, resourceType, name)
		}
		if prev, ok := seen[name]; ok && prev != code {
			return fhir.InvalidSpec("parameters %q and %q on %s both claim column %q", prev, code, resourceType, name)
		}
		seen[name] = code
		return nil
	}

	for _, im := range reg.ParamsFor(resourceType) {
		switch im.Strategy {
		case registry.StrategyColumn:
			colType := im.ColumnType
			if im.Array {
				colType += "[]"
			}
			if err := claim(im.ColumnName, im.Code); err != nil {
				return nil, nil, err
			}
			main.Columns = append(main.Columns, Column{Name: im.ColumnName, Type: colType})
			if im.UnitColumn != "" {
				if err := claim(im.UnitColumn, im.Code); err != nil {
					return nil, nil, err
				}
				main.Columns = append(main.Columns, Column{Name: im.UnitColumn, Type: "TEXT"})
			}
		case registry.StrategyToken:
			for _, name := range []string{im.TokenColumn(), im.TokenTextColumn(), im.TokenSortColumn()} {
				if err := claim(name, im.Code); err != nil {
					return nil, nil, err
				}
			}
			main.Columns = append(main.Columns,
				Column{Name: im.TokenColumn(), Type: "UUID[]"},
				Column{Name: im.TokenTextColumn(), Type: "TEXT[]"},
				Column{Name: im.TokenSortColumn(), Type: "TEXT"},
			)
		case registry.StrategyLookup, registry.StrategySharedToken:
			// No per-type columns.
		}
	}

	// Fixed columns first, then parameter columns sorted by name, so the
	// layout does not depend on registry iteration order.
	fixed := main.Columns[:columnCountFixed(resourceType)]
	params := main.Columns[columnCountFixed(resourceType):]
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	main.Columns = append(fixed, params...)

	history := Table{
		Name:       HistoryTable(resourceType),
		PrimaryKey: []string{"versionId"},
		Columns: []Column{
			{Name: "versionId", Type: "UUID", NotNull: true},
			{Name: "id", Type: "UUID", NotNull: true},
			{Name: "content", Type: "TEXT", NotNull: true},
			{Name: "lastUpdated", Type: "TIMESTAMPTZ", NotNull: true},
			{Name: "projectId", Type: "UUID", NotNull: true},
			{Name: "deleted", Type: "BOOLEAN", NotNull: true, Default: "false"},
		},
	}

	references := Table{
		Name:       ReferencesTable(resourceType),
		PrimaryKey: []string{"resourceId", "targetId", "code"},
		Columns: []Column{
			{Name: "resourceId", Type: "UUID", NotNull: true},
			{Name: "targetId", Type: "UUID", NotNull: true},
			{Name: "code", Type: "TEXT", NotNull: true},
		},
	}

	set := &TableSet{ResourceType: resourceType, Main: main, History: history, References: references}
	return set, planResourceIndexes(reg, resourceType, set), nil
}

// columnCountFixed is the number of infrastructure columns planResource
// placed at the head of the main column list.
func columnCountFixed(resourceType string) int {
	if resourceType == "Binary" {
		return 14
	}
	return 15
}

func planResourceIndexes(reg *registry.Registry, resourceType string, set *TableSet) []Index {
	main := set.Main.Name
	var out []Index

	add := func(table, method string, where string, include []string, exprs ...string) {
		out = append(out, Index{
			Name:        indexName(table, exprs, where),
			Table:       table,
			Method:      method,
			Expressions: exprs,
			Include:     include,
			Where:       where,
		})
	}

	add(main, "btree", "", nil, QuoteIdent("lastUpdated"))
	add(main, "btree", "", nil, QuoteIdent("projectId"), QuoteIdent("lastUpdated"))
	add(main, "btree", `"deleted" = false`, nil, QuoteIdent("lastUpdated"), QuoteIdent("__version"))
	add(main, "gin", "", nil, QuoteIdent("__sharedTokens"))
	add(main, "gin", "", nil, QuoteIdent("__tag"))
	add(main, "gin", "", nil, QuoteIdent("__security"))
	add(main, "gin", "", nil, QuoteIdent("_profile"))
	add(main, "gin", "", nil, trigramExpr(QuoteIdent("__tagText")))
	add(main, "gin", "", nil, trigramExpr(QuoteIdent("__securityText")))
	if resourceType != "Binary" {
		add(main, "gin", "", nil, QuoteIdent("compartments"))
	}

	for _, im := range reg.ParamsFor(resourceType) {
		switch im.Strategy {
		case registry.StrategyColumn:
			add(main, "btree", "", nil, QuoteIdent(im.ColumnName))
		case registry.StrategyToken:
			add(main, "gin", "", nil, QuoteIdent(im.TokenColumn()))
			add(main, "gin", "", nil, trigramExpr(QuoteIdent(im.TokenTextColumn())))
			add(main, "btree", "", nil, QuoteIdent(im.TokenSortColumn()))
		}
	}

	add(set.History.Name, "btree", "", nil, QuoteIdent("id"), QuoteIdent("lastUpdated"))
	add(set.References.Name, "btree", "", []string{QuoteIdent("resourceId")},
		QuoteIdent("targetId"), QuoteIdent("code"))

	return out
}

// Shared lookup tables for searchable composite types. Every resource type
// writes into the same three tables; rows key on (resourceId, index).
func planLookupTables() ([]Table, []Index) {
	tables := []Table{
		{
			Name:       "Address",
			PrimaryKey: []string{"resourceId", "index"},
			Columns: []Column{
				{Name: "resourceId", Type: "UUID", NotNull: true},
				{Name: "index", Type: "INTEGER", NotNull: true},
				{Name: "address", Type: "TEXT"},
				{Name: "city", Type: "TEXT"},
				{Name: "country", Type: "TEXT"},
				{Name: "postalCode", Type: "TEXT"},
				{Name: "state", Type: "TEXT"},
				{Name: "use", Type: "TEXT"},
			},
		},
		{
			Name:       "ContactPoint",
			PrimaryKey: []string{"resourceId", "index"},
			Columns: []Column{
				{Name: "resourceId", Type: "UUID", NotNull: true},
				{Name: "index", Type: "INTEGER", NotNull: true},
				{Name: "system", Type: "TEXT"},
				{Name: "use", Type: "TEXT"},
				{Name: "value", Type: "TEXT"},
			},
		},
		{
			Name:       "HumanName",
			PrimaryKey: []string{"resourceId", "index"},
			Columns: []Column{
				{Name: "resourceId", Type: "UUID", NotNull: true},
				{Name: "index", Type: "INTEGER", NotNull: true},
				{Name: "family", Type: "TEXT"},
				{Name: "given", Type: "TEXT"},
				{Name: "name", Type: "TEXT"},
			},
		},
	}

	var indexes []Index
	for _, t := range tables {
		for _, c := range t.Columns {
			if c.Type != "TEXT" {
				continue
			}
			indexes = append(indexes, Index{
				Name:        indexName(t.Name, []string{trigramExpr(QuoteIdent(c.Name))}, ""),
				Table:       t.Name,
				Method:      "gin",
				Expressions: []string{trigramExpr(QuoteIdent(c.Name))},
			})
		}
	}
	return tables, indexes
}

// trigramExpr wraps a column for trigram indexing; array columns index their
// joined text.
func trigramExpr(quotedCol string) string {
	if strings.HasPrefix(quotedCol, `"__`) && strings.HasSuffix(quotedCol, `Text"`) {
		return "(array_to_string(" + quotedCol + ", ' ')) gin_trgm_ops"
	}
	return quotedCol + " gin_trgm_ops"
}

// indexName derives a deterministic index identifier within the Postgres
// 63-byte limit.
func indexName(table string, exprs []string, where string) string {
	var parts []string
	for _, e := range exprs {
		parts = append(parts, sanitizeIdentPart(e))
	}
	name := table + "_" + strings.Join(parts, "_")
	if where != "" {
		name += "_partial"
	}
	name += "_idx"
	if len(name) > 63 {
		name = name[:49] + "_" + fnvHex(name) + "_idx"
	}
	return name
}

func sanitizeIdentPart(expr string) string {
	var b strings.Builder
	for _, ch := range expr {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_':
			b.WriteRune(ch)
		}
	}
	s := b.String()
	s = strings.TrimSuffix(s, "gin_trgm_ops")
	s = strings.TrimPrefix(s, "array_to_string")
	return strings.Trim(s, "_")
}

func fnvHex(s string) string {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	const digits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = digits[h&0xf]
		h >>= 4
	}
	return string(out)
}
