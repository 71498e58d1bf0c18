package search

import (
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/registry"
)

func seededCompiler(t *testing.T) *Compiler {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	if err := registry.Seed(reg); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	if err := reg.Build(); err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return NewCompiler(reg, nil, Options{})
}

func mustParse(t *testing.T, resourceType, rawQuery string) *Request {
	t.Helper()
	vals, err := url.ParseQuery(rawQuery)
	if err != nil {
		t.Fatalf("parse query %q: %v", rawQuery, err)
	}
	req, err := Parse(resourceType, vals)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", rawQuery, err)
	}
	return req
}

var testScope = Scope{ProjectID: uuid.MustParse("7d3a4f6e-0d0e-4c2b-a860-3b1d9b1f2a10")}

func TestParseControlParams(t *testing.T) {
	req := mustParse(t, "Observation",
		"_count=50&_offset=40&_total=accurate&_sort=-date,status&_include=Observation:subject&_revinclude:iterate=Observation:has-member")

	if req.Count != 50 || req.Offset != 40 || req.Total != "accurate" {
		t.Errorf("count/offset/total = %d/%d/%q", req.Count, req.Offset, req.Total)
	}
	if len(req.Sort) != 2 || !req.Sort[0].Descending || req.Sort[0].Code != "date" || req.Sort[1].Code != "status" {
		t.Errorf("sort = %+v", req.Sort)
	}
	if len(req.Includes) != 1 || req.Includes[0].Param != "subject" {
		t.Errorf("includes = %+v", req.Includes)
	}
	if len(req.Revincludes) != 1 || !req.Revincludes[0].Iterate {
		t.Errorf("revincludes = %+v", req.Revincludes)
	}
}

func TestParseChained(t *testing.T) {
	req := mustParse(t, "Observation", "subject:Patient.gender=male")
	if len(req.Params) != 1 {
		t.Fatalf("params = %+v", req.Params)
	}
	p := req.Params[0]
	if p.Code != "subject" || p.ChainType != "Patient" || p.Chain != "gender" {
		t.Errorf("chained param = %+v", p)
	}

	if _, err := Parse("Observation", url.Values{"subject.patient.name": {"x"}}); !fhir.IsKind(err, fhir.KindInvalidSearchRequest) {
		t.Errorf("depth-2 chain error = %v, want invalid-search", err)
	}
}

func TestParseChainedRejectsTailModifier(t *testing.T) {
	// A modifier on the chained tail has no inner-parameter semantics here;
	// rejecting beats silently changing the match.
	if _, err := Parse("Observation", url.Values{"subject.name:exact": {"smith"}}); !fhir.IsKind(err, fhir.KindInvalidSearchRequest) {
		t.Errorf("tail modifier error = %v, want invalid-search", err)
	}

	// A plain depth-1 chain still parses.
	req := mustParse(t, "Observation", "subject.name=smith")
	if p := req.Params[0]; p.Code != "subject" || p.Chain != "name" || p.Modifier != "" {
		t.Errorf("chained param = %+v", p)
	}
}

func TestParseValueSplitting(t *testing.T) {
	req := mustParse(t, "Patient", `name=Smith\,Jones,Brown`)
	p := req.Params[0]
	if len(p.Values) != 2 || p.Values[0].Raw != "Smith,Jones" || p.Values[1].Raw != "Brown" {
		t.Errorf("values = %+v", p.Values)
	}
}

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		raw, prefix, rest string
	}{
		{"ge2013-01-14", "ge", "2013-01-14"},
		{"2013-01-14", "eq", "2013-01-14"},
		{"ap5.4", "ap", "5.4"},
		{"lt-10", "lt", "-10"},
		{"general", "eq", "general"},
	}
	for _, tt := range tests {
		prefix, rest := SplitPrefix(tt.raw)
		if prefix != tt.prefix || rest != tt.rest {
			t.Errorf("SplitPrefix(%q) = %q,%q, want %q,%q", tt.raw, prefix, rest, tt.prefix, tt.rest)
		}
	}
}

func TestCompileTokenForms(t *testing.T) {
	c := seededCompiler(t)

	out, err := c.Compile(mustParse(t, "Observation", "code=http://loinc.org|8480-6"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if !strings.Contains(out.Query.SQL, `"__codeText" &&`) {
		t.Errorf("token SQL missing text overlap: %s", out.Query.SQL)
	}
	wantArg(t, out.Query.Args, []string{"http://loinc.org|8480-6"})

	out, err = c.Compile(mustParse(t, "Observation", "code=8480-6"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	wantArg(t, out.Query.Args, []string{"8480-6"})

	out, err = c.Compile(mustParse(t, "Observation", "code=http://loinc.org|"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if !strings.Contains(out.Query.SQL, "unnest") {
		t.Errorf("system-only token should compile via unnest LIKE: %s", out.Query.SQL)
	}
	wantArg(t, out.Query.Args, "http://loinc.org|%")
}

func wantArg(t *testing.T, args []interface{}, want interface{}) {
	t.Helper()
	for _, a := range args {
		switch w := want.(type) {
		case string:
			if s, ok := a.(string); ok && s == w {
				return
			}
		case []string:
			if s, ok := a.([]string); ok && len(s) == len(w) {
				same := true
				for i := range s {
					if s[i] != w[i] {
						same = false
					}
				}
				if same {
					return
				}
			}
		}
	}
	t.Errorf("args %v missing %v", args, want)
}

func TestCompileNoValueInlined(t *testing.T) {
	c := seededCompiler(t)
	hostile := `Robert'); DROP TABLE "Patient"; --`
	req := mustParse(t, "Patient", "name="+url.QueryEscape(hostile))
	out, err := c.Compile(req, testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if strings.Contains(out.Query.SQL, "Robert") || strings.Contains(out.Query.SQL, "DROP") {
		t.Errorf("user value leaked into SQL: %s", out.Query.SQL)
	}
}

func TestCompileChained(t *testing.T) {
	c := seededCompiler(t)
	out, err := c.Compile(mustParse(t, "Observation", "subject:Patient.gender=male"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	sql := out.Query.SQL
	for _, want := range []string{
		`"Observation_References" cr`,
		`JOIN "Patient" ct`,
		`ct."deleted" = false`,
		`ct."projectId" =`,
		`ct."__genderText" &&`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("chained SQL missing %q:\n%s", want, sql)
		}
	}
}

func TestCompileCompartment(t *testing.T) {
	c := seededCompiler(t)
	pid := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	req := mustParse(t, "Observation", "")
	req.Compartment = &Compartment{Type: "Patient", ID: pid}
	out, err := c.Compile(req, testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if !strings.Contains(out.Query.SQL, `"compartments" && ARRAY[`) {
		t.Errorf("compartment SQL missing overlap: %s", out.Query.SQL)
	}
}

func TestCompilePagingDefaults(t *testing.T) {
	c := seededCompiler(t)

	out, err := c.Compile(mustParse(t, "Patient", ""), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if out.Limit != 20 || out.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want 20/0", out.Limit, out.Offset)
	}

	out, err = c.Compile(mustParse(t, "Patient", "_count=99999"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if out.Limit != 1000 {
		t.Errorf("limit = %d, want capped at 1000", out.Limit)
	}
}

func TestCompileSort(t *testing.T) {
	c := seededCompiler(t)

	out, err := c.Compile(mustParse(t, "Patient", "_sort=-birthdate"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if !strings.Contains(out.Query.SQL, `"birthdate" DESC`) {
		t.Errorf("sort SQL = %s", out.Query.SQL)
	}

	out, err = c.Compile(mustParse(t, "Patient", "_sort=gender"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if !strings.Contains(out.Query.SQL, `"__genderSort"`) {
		t.Errorf("token sort must use the sort column: %s", out.Query.SQL)
	}
}

func TestCompileUnknownParam(t *testing.T) {
	c := seededCompiler(t)

	out, err := c.Compile(mustParse(t, "Patient", "favorite-color=blue"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if len(out.Warnings) != 1 {
		t.Fatalf("warnings = %+v, want one", out.Warnings)
	}
	if out.Warnings[0].Severity != fhir.IssueSeverityWarning {
		t.Errorf("warning severity = %q", out.Warnings[0].Severity)
	}

	req := mustParse(t, "Patient", "favorite-color=blue")
	req.Strict = true
	if _, err := c.Compile(req, testScope); !fhir.IsKind(err, fhir.KindInvalidSearchRequest) {
		t.Errorf("strict mode error = %v, want invalid-search", err)
	}
}

func TestCompileProjectScope(t *testing.T) {
	c := seededCompiler(t)

	out, err := c.Compile(mustParse(t, "Patient", ""), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if !strings.Contains(out.Query.SQL, `"projectId" =`) {
		t.Errorf("scoped SQL missing projectId filter: %s", out.Query.SQL)
	}

	out, err = c.Compile(mustParse(t, "Patient", ""), Scope{SuperAdmin: true})
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if strings.Contains(out.Query.SQL, `"projectId"`) {
		t.Errorf("superAdmin SQL must not filter by project: %s", out.Query.SQL)
	}
}

func TestCompileMissingModifier(t *testing.T) {
	c := seededCompiler(t)
	out, err := c.Compile(mustParse(t, "Patient", "birthdate:missing=true"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if !strings.Contains(out.Query.SQL, `"birthdate" IS NULL`) {
		t.Errorf("missing SQL = %s", out.Query.SQL)
	}
}

func TestCompileLookup(t *testing.T) {
	c := seededCompiler(t)

	out, err := c.Compile(mustParse(t, "Patient", "family=Smi"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	sql := out.Query.SQL
	for _, want := range []string{`EXISTS (SELECT 1 FROM "HumanName" lk`, `lk."family" ILIKE`} {
		if !strings.Contains(sql, want) {
			t.Errorf("lookup SQL missing %q:\n%s", want, sql)
		}
	}
	wantArg(t, out.Query.Args, "Smi%")

	out, err = c.Compile(mustParse(t, "Patient", "phone=555-1234"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	sql = out.Query.SQL
	for _, want := range []string{`"ContactPoint" lk`, `lk."system" =`} {
		if !strings.Contains(sql, want) {
			t.Errorf("phone SQL missing the sibling filter %q:\n%s", want, sql)
		}
	}
	wantArg(t, out.Query.Args, "phone")
}

func TestCompileCount(t *testing.T) {
	c := seededCompiler(t)
	out, err := c.Compile(mustParse(t, "Patient", "_total=accurate&gender=male"), testScope)
	if err != nil {
		t.Fatalf("Compile error = %v", err)
	}
	if out.Count == nil {
		t.Fatal("accurate total did not produce a count query")
	}
	if !strings.HasPrefix(out.Count.SQL, "SELECT COUNT(*)") {
		t.Errorf("count SQL = %s", out.Count.SQL)
	}
	if strings.Contains(out.Count.SQL, "LIMIT") {
		t.Errorf("count SQL must not page: %s", out.Count.SQL)
	}
}

func TestCompileInclude(t *testing.T) {
	c := seededCompiler(t)
	ids := []uuid.UUID{uuid.MustParse("e1d9f191-66cf-4a48-9b44-45b145bcd82e")}

	queries, err := c.CompileInclude(IncludeRule{Source: "Observation", Param: "subject", Target: "Patient"}, ids, testScope)
	if err != nil {
		t.Fatalf("CompileInclude error = %v", err)
	}
	if len(queries) != 1 || queries[0].ResourceType != "Patient" {
		t.Fatalf("include queries = %+v", queries)
	}
	if !strings.Contains(queries[0].Query.SQL, `"Observation_References"`) {
		t.Errorf("include SQL = %s", queries[0].Query.SQL)
	}

	rev, err := c.CompileRevinclude(IncludeRule{Source: "Observation", Param: "subject"}, ids, testScope)
	if err != nil {
		t.Fatalf("CompileRevinclude error = %v", err)
	}
	if rev.ResourceType != "Observation" || !strings.Contains(rev.Query.SQL, `r."targetId" = ANY`) {
		t.Errorf("revinclude = %+v", rev)
	}
}
