package schema

import "strings"

// DDL renders the plan as idempotent SQL. Ordering is fixed: per-type table
// families sorted by resource type (main, history, references within each),
// then the shared lookup tables, then every index in lexicographic name
// order. The output is byte-identical across runs for equal registries.
func (p *Plan) DDL() string {
	var b strings.Builder

	for _, set := range p.Sets {
		writeTable(&b, set.Main)
		writeTable(&b, set.History)
		writeTable(&b, set.References)
	}
	for _, t := range p.Lookups {
		writeTable(&b, t)
	}
	for _, idx := range p.Indexes {
		writeIndex(&b, idx)
	}
	return b.String()
}

// Statements splits the DDL into individual statements for execution.
func (p *Plan) Statements() []string {
	var out []string
	for _, stmt := range strings.Split(p.DDL(), ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func writeTable(b *strings.Builder, t Table) {
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(QuoteIdent(t.Name))
	b.WriteString(" (\n")
	for _, c := range t.Columns {
		b.WriteString("  ")
		b.WriteString(QuoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(c.Type)
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.Default != "" {
			b.WriteString(" DEFAULT ")
			b.WriteString(c.Default)
		}
		b.WriteString(",\n")
	}
	b.WriteString("  PRIMARY KEY (")
	for i, pk := range t.PrimaryKey {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(QuoteIdent(pk))
	}
	b.WriteString(")\n);\n")
}

func writeIndex(b *strings.Builder, idx Index) {
	b.WriteString("CREATE INDEX IF NOT EXISTS ")
	b.WriteString(QuoteIdent(idx.Name))
	b.WriteString(" ON ")
	b.WriteString(QuoteIdent(idx.Table))
	if idx.Method != "btree" {
		b.WriteString(" USING ")
		b.WriteString(idx.Method)
	}
	b.WriteString(" (")
	b.WriteString(strings.Join(idx.Expressions, ", "))
	b.WriteString(")")
	if len(idx.Include) > 0 {
		b.WriteString(" INCLUDE (")
		b.WriteString(strings.Join(idx.Include, ", "))
		b.WriteString(")")
	}
	if idx.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(idx.Where)
	}
	b.WriteString(";\n")
}
