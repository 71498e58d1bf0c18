package schema

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fhirstore/fhirstore/internal/registry"
)

func seededRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	if err := registry.Seed(reg); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	if err := reg.Build(); err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func TestPlanSetPointersStayValid(t *testing.T) {
	plan, err := PlanSchema(seededRegistry(t))
	if err != nil {
		t.Fatalf("PlanSchema() error = %v", err)
	}
	for i := range plan.Sets {
		rt := plan.Sets[i].ResourceType
		if got := plan.Set(rt); got != &plan.Sets[i] {
			t.Errorf("Set(%s) does not point into Sets", rt)
		}
	}
}

func TestPlanSchemaTableFamilies(t *testing.T) {
	plan, err := PlanSchema(seededRegistry(t))
	if err != nil {
		t.Fatalf("PlanSchema() error = %v", err)
	}

	set := plan.Set("Patient")
	if set == nil {
		t.Fatal("plan has no Patient table set")
	}
	if set.Main.Name != "Patient" || set.History.Name != "Patient_History" || set.References.Name != "Patient_References" {
		t.Errorf("Patient table names = %q/%q/%q", set.Main.Name, set.History.Name, set.References.Name)
	}

	cols := make(map[string]Column)
	for _, c := range set.Main.Columns {
		cols[c.Name] = c
	}
	for _, want := range []string{
		"id", "content", "lastUpdated", "deleted", "projectId", "__version",
		"compartments", "__sharedTokens", "__sharedTokensText",
		"__tag", "__tagText", "__security", "__securityText", "_profile", "_source",
	} {
		if _, ok := cols[want]; !ok {
			t.Errorf("Patient main table is missing fixed column %q", want)
		}
	}

	// birthdate is a scalar date column; gender a token triplet; name routes
	// to the HumanName lookup table and must not synthesize a column.
	if c, ok := cols["birthdate"]; !ok || c.Type != "TIMESTAMPTZ" {
		t.Errorf("birthdate column = %+v, want TIMESTAMPTZ scalar", cols["birthdate"])
	}
	if c, ok := cols["__gender"]; !ok || c.Type != "UUID[]" {
		t.Errorf("__gender column = %+v, want UUID[]", cols["__gender"])
	}
	if _, ok := cols["__genderText"]; !ok {
		t.Error("token parameter gender is missing its Text column")
	}
	if c, ok := cols["__genderSort"]; !ok || c.Type != "TEXT" {
		t.Errorf("__genderSort column = %+v, want TEXT", cols["__genderSort"])
	}
	if _, ok := cols["name"]; ok {
		t.Error("lookup-strategy parameter name synthesized a main column")
	}

	if len(set.History.PrimaryKey) != 1 || set.History.PrimaryKey[0] != "versionId" {
		t.Errorf("history primary key = %v, want versionId", set.History.PrimaryKey)
	}
	if got := strings.Join(set.References.PrimaryKey, ","); got != "resourceId,targetId,code" {
		t.Errorf("references primary key = %q", got)
	}
}

func TestPlanSchemaLookupTables(t *testing.T) {
	plan, err := PlanSchema(seededRegistry(t))
	if err != nil {
		t.Fatalf("PlanSchema() error = %v", err)
	}
	names := make([]string, 0, len(plan.Lookups))
	for _, l := range plan.Lookups {
		names = append(names, l.Name)
	}
	if got := strings.Join(names, ","); got != "Address,ContactPoint,HumanName" {
		t.Errorf("lookup tables = %q, want Address,ContactPoint,HumanName", got)
	}
}

func TestPlanSchemaBinaryHasNoCompartments(t *testing.T) {
	plan, err := PlanSchema(seededRegistry(t))
	if err != nil {
		t.Fatalf("PlanSchema() error = %v", err)
	}
	set := plan.Set("Binary")
	if set == nil {
		t.Skip("Binary is not part of the seed")
	}
	for _, c := range set.Main.Columns {
		if c.Name == "compartments" {
			t.Error("Binary main table carries a compartments column")
		}
	}
}

func TestDDLDeterminism(t *testing.T) {
	regA := seededRegistry(t)
	regB := seededRegistry(t)

	planA, err := PlanSchema(regA)
	if err != nil {
		t.Fatalf("PlanSchema(A) error = %v", err)
	}
	planB, err := PlanSchema(regB)
	if err != nil {
		t.Fatalf("PlanSchema(B) error = %v", err)
	}

	a, b := planA.DDL(), planB.DDL()
	if a != b {
		t.Fatal("two planner runs over equal registries emitted different DDL")
	}
	if a != planA.DDL() {
		t.Fatal("repeated DDL() call on the same plan changed output")
	}
}

func TestDDLShape(t *testing.T) {
	plan, err := PlanSchema(seededRegistry(t))
	if err != nil {
		t.Fatalf("PlanSchema() error = %v", err)
	}
	ddl := plan.DDL()

	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "Patient" (`,
		`CREATE TABLE IF NOT EXISTS "Patient_History" (`,
		`CREATE TABLE IF NOT EXISTS "Patient_References" (`,
		`CREATE TABLE IF NOT EXISTS "HumanName" (`,
		`"lastUpdated" TIMESTAMPTZ NOT NULL`,
		`"compartments" UUID[] NOT NULL DEFAULT '{}'`,
		`WHERE "deleted" = false`,
		`INCLUDE ("resourceId")`,
		`gin_trgm_ops`,
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("DDL is missing %q", want)
		}
	}

	// Tables come before any index.
	firstIndex := strings.Index(ddl, "CREATE INDEX")
	lastTable := strings.LastIndex(ddl, "CREATE TABLE")
	if firstIndex >= 0 && lastTable > firstIndex {
		t.Error("DDL interleaves tables and indexes")
	}

	// Every statement parses as a single CREATE.
	for _, stmt := range plan.Statements() {
		if !strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS") && !strings.HasPrefix(stmt, "CREATE INDEX IF NOT EXISTS") {
			t.Errorf("unexpected statement prefix: %.60s", stmt)
		}
	}
}

func TestIndexNameLimit(t *testing.T) {
	plan, err := PlanSchema(seededRegistry(t))
	if err != nil {
		t.Fatalf("PlanSchema() error = %v", err)
	}
	seen := make(map[string]bool)
	for _, idx := range plan.Indexes {
		if len(idx.Name) > 63 {
			t.Errorf("index name %q exceeds 63 bytes", idx.Name)
		}
		if seen[idx.Name] {
			t.Errorf("duplicate index name %q", idx.Name)
		}
		seen[idx.Name] = true
	}
}
