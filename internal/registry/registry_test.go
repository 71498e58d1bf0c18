package registry

import (
	"testing"

	"github.com/rs/zerolog"
)

func seededRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(zerolog.Nop())
	if err := Seed(r); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	if err := r.Build(); err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return r
}

func TestSeedBuildsCleanly(t *testing.T) {
	r := seededRegistry(t)

	types := r.ResourceTypes()
	if len(types) == 0 {
		t.Fatal("no resource types")
	}
	for _, want := range []string{"Patient", "Observation", "Encounter", "Condition", "Organization"} {
		if !r.KnowsType(want) {
			t.Errorf("KnowsType(%s) = false", want)
		}
		if r.ProfileFor(want) == nil {
			t.Errorf("ProfileFor(%s) = nil", want)
		}
	}
	if r.KnowsType("Spaceship") {
		t.Error("unknown type reported as known")
	}
	// Datatypes are not resource types.
	if r.KnowsType("HumanName") {
		t.Error("datatype reported as a resource type")
	}
}

func TestBuildIsOneShot(t *testing.T) {
	r := seededRegistry(t)
	if err := r.Build(); err == nil {
		t.Error("second Build() accepted")
	}
}

func TestStrategyAssignment(t *testing.T) {
	r := seededRegistry(t)

	tests := []struct {
		resourceType string
		code         string
		strategy     Strategy
		columnName   string
		columnType   string
	}{
		{"Patient", "birthdate", StrategyColumn, "birthdate", "TIMESTAMPTZ"},
		{"Patient", "gender", StrategyToken, "gender", ""},
		{"Patient", "general-practitioner", StrategyColumn, "generalPractitioner", "TEXT"},
		{"Observation", "value-quantity", StrategyColumn, "valueQuantity", "NUMERIC"},
		{"Observation", "code", StrategyToken, "code", ""},
		{"Observation", "subject", StrategyColumn, "subject", "TEXT"},
		{"Organization", "name", StrategyColumn, "name", "TEXT"},
	}
	for _, tt := range tests {
		im := r.LookupParam(tt.resourceType, tt.code)
		if im == nil {
			t.Errorf("LookupParam(%s, %s) = nil", tt.resourceType, tt.code)
			continue
		}
		if im.Strategy != tt.strategy {
			t.Errorf("%s.%s strategy = %s, want %s", tt.resourceType, tt.code, im.Strategy, tt.strategy)
		}
		if im.ColumnName != tt.columnName {
			t.Errorf("%s.%s column = %s, want %s", tt.resourceType, tt.code, im.ColumnName, tt.columnName)
		}
		if tt.columnType != "" && im.ColumnType != tt.columnType {
			t.Errorf("%s.%s column type = %s, want %s", tt.resourceType, tt.code, im.ColumnType, tt.columnType)
		}
	}
}

func TestHumanNameParamsRouteToLookup(t *testing.T) {
	r := seededRegistry(t)

	name := r.LookupParam("Patient", "name")
	if name == nil || name.Strategy != StrategyLookup {
		t.Fatalf("name param = %+v", name)
	}
	if name.LookupTable != "HumanName" || name.LookupPath != "name" {
		t.Errorf("lookup = table %s path %s", name.LookupTable, name.LookupPath)
	}

	family := r.LookupParam("Patient", "family")
	if family == nil || family.Strategy != StrategyLookup || family.LookupColumn != "family" {
		t.Errorf("family param = %+v", family)
	}

	city := r.LookupParam("Patient", "address-city")
	if city == nil || city.LookupTable != "Address" || city.LookupColumn != "city" {
		t.Errorf("address-city param = %+v", city)
	}

	phone := r.LookupParam("Patient", "phone")
	if phone == nil || phone.LookupTable != "ContactPoint" {
		t.Fatalf("phone param = %+v", phone)
	}
	if phone.LookupFilters["system"] != "phone" {
		t.Errorf("phone filters = %v", phone.LookupFilters)
	}
}

func TestQuantityParamCarriesUnitColumn(t *testing.T) {
	r := seededRegistry(t)
	im := r.LookupParam("Observation", "value-quantity")
	if im == nil || im.UnitColumn != "valueQuantityUnit" {
		t.Errorf("value-quantity = %+v", im)
	}
}

func TestCrossResourceParamScopesBranches(t *testing.T) {
	r := seededRegistry(t)

	// The shared clinical "patient" parameter unions branches across ten
	// types; each implementation keeps only its own.
	im := r.LookupParam("Observation", "patient")
	if im == nil {
		t.Fatal("patient param missing on Observation")
	}
	for _, branch := range im.Expressions {
		if got, _ := expressionPath(branch, "Observation"); got != "subject" {
			t.Errorf("branch %q resolved to path %q", branch, got)
		}
	}
}

func TestReferenceArrayDetection(t *testing.T) {
	r := seededRegistry(t)

	gp := r.LookupParam("Patient", "general-practitioner")
	if gp == nil || !gp.Array {
		t.Errorf("generalPractitioner should be an array column: %+v", gp)
	}
	org := r.LookupParam("Patient", "organization")
	if org == nil || org.Array {
		t.Errorf("managingOrganization should be scalar: %+v", org)
	}
}

func TestParamsForIncludesSortedCodes(t *testing.T) {
	r := seededRegistry(t)
	params := r.ParamsFor("Patient")
	if len(params) < 10 {
		t.Fatalf("only %d params for Patient", len(params))
	}
	for i := 1; i < len(params); i++ {
		if params[i-1].Code >= params[i].Code {
			t.Fatalf("params not sorted: %s before %s", params[i-1].Code, params[i].Code)
		}
	}
}

func TestColumnBaseName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"birthdate", "birthdate"},
		{"general-practitioner", "generalPractitioner"},
		{"address-postalcode", "addressPostalcode"},
		{"value-quantity", "valueQuantity"},
	}
	for _, tt := range tests {
		if got := columnBaseName(tt.in); got != tt.want {
			t.Errorf("columnBaseName(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestExpressionBranches(t *testing.T) {
	expr := "AllergyIntolerance.patient | Observation.subject.where(resolve() is Patient) | Immunization.patient"
	got := expressionBranches(expr, "Observation")
	if len(got) != 1 || got[0] != "Observation.subject.where(resolve() is Patient)" {
		t.Errorf("branches = %v", got)
	}
}

func TestExpressionPath(t *testing.T) {
	tests := []struct {
		branch string
		base   string
		path   string
		cast   string
	}{
		{"Patient.birthDate", "Patient", "birthDate", ""},
		{"(Patient.deceased as dateTime)", "Patient", "deceased", "dateTime"},
		{"Patient.telecom.where(system='phone')", "Patient", "telecom", ""},
		{"(Observation.value as Quantity)", "Observation", "value", "Quantity"},
		{"Observation.component.code", "Observation", "component.code", ""},
	}
	for _, tt := range tests {
		path, cast := expressionPath(tt.branch, tt.base)
		if path != tt.path || cast != tt.cast {
			t.Errorf("expressionPath(%q) = %q, %q; want %q, %q", tt.branch, path, cast, tt.path, tt.cast)
		}
	}
}

func TestSplitUnionRespectsNesting(t *testing.T) {
	got := splitUnion("A.code | B.value.where(x='a|b') | (C.onset as dateTime)")
	if len(got) != 3 {
		t.Errorf("parts = %v", got)
	}
}
