package fhirpath

import (
	"encoding/json"
	"testing"
)

func doc(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return m
}

func TestEvaluateSimplePaths(t *testing.T) {
	patient := doc(t, `{
		"resourceType": "Patient",
		"gender": "male",
		"birthDate": "1970-03-05",
		"name": [
			{"family": "Smith", "given": ["John", "Q"]},
			{"family": "Jones", "given": ["Johnny"]}
		]
	}`)

	e := New()
	tests := []struct {
		expr string
		want []interface{}
	}{
		{"Patient.gender", []interface{}{"male"}},
		{"Patient.birthDate", []interface{}{"1970-03-05"}},
		{"Patient.name.family", []interface{}{"Smith", "Jones"}},
		{"Patient.name.given", []interface{}{"John", "Q", "Johnny"}},
		{"Patient.name.first().family", []interface{}{"Smith"}},
		{"Patient.missing", nil},
		{"Observation.gender", nil},
		{"gender", []interface{}{"male"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got := Collect(e.Evaluate(tt.expr, patient))
			if len(got) != len(tt.want) {
				t.Fatalf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Evaluate(%q)[%d] = %v, want %v", tt.expr, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEvaluateUnion(t *testing.T) {
	obs := doc(t, `{
		"resourceType": "Observation",
		"code": {"text": "bp"},
		"component": [{"code": {"text": "systolic"}}, {"code": {"text": "diastolic"}}]
	}`)

	got := Collect(New().Evaluate("Observation.code | Observation.component.code", obs))
	if len(got) != 3 {
		t.Fatalf("union yielded %d values, want 3", len(got))
	}
	first, ok := got[0].(map[string]interface{})
	if !ok || first["text"] != "bp" {
		t.Errorf("union first value = %v, want the top-level code", got[0])
	}
}

func TestEvaluateChoiceType(t *testing.T) {
	obs := doc(t, `{
		"resourceType": "Observation",
		"valueQuantity": {"value": 140, "unit": "mmHg", "system": "http://unitsofmeasure.org", "code": "mm[Hg]"}
	}`)

	e := New()
	got := Collect(e.Evaluate("(Observation.value as Quantity)", obs))
	if len(got) != 1 {
		t.Fatalf("as Quantity yielded %d values, want 1", len(got))
	}
	q, ok := got[0].(map[string]interface{})
	if !ok || q["unit"] != "mmHg" {
		t.Errorf("as Quantity = %v, want the valueQuantity object", got[0])
	}

	if got := Collect(e.Evaluate("(Observation.value as string)", obs)); len(got) != 0 {
		t.Errorf("as string yielded %v, want empty", got)
	}
	if got := Collect(e.Evaluate("Observation.value.ofType(Quantity)", obs)); len(got) != 1 {
		t.Errorf("ofType(Quantity) yielded %d values, want 1", len(got))
	}
}

func TestEvaluateWhere(t *testing.T) {
	patient := doc(t, `{
		"resourceType": "Patient",
		"telecom": [
			{"system": "phone", "value": "555-1234"},
			{"system": "email", "value": "a@b.c"}
		]
	}`)

	got := Collect(New().Evaluate("Patient.telecom.where(system='phone')", patient))
	if len(got) != 1 {
		t.Fatalf("where(system='phone') yielded %d values, want 1", len(got))
	}
	tp := got[0].(map[string]interface{})
	if tp["value"] != "555-1234" {
		t.Errorf("where matched %v, want the phone entry", got[0])
	}
}

func TestEvaluateWhereResolveIs(t *testing.T) {
	obs := doc(t, `{
		"resourceType": "Observation",
		"subject": {"reference": "Patient/11111111-1111-1111-1111-111111111111"}
	}`)

	e := New()
	if got := Collect(e.Evaluate("Observation.subject.where(resolve() is Patient)", obs)); len(got) != 1 {
		t.Errorf("resolve() is Patient yielded %d values, want 1", len(got))
	}
	if got := Collect(e.Evaluate("Observation.subject.where(resolve() is Group)", obs)); len(got) != 0 {
		t.Errorf("resolve() is Group yielded %v, want empty", got)
	}
}

func TestEvaluateLazySinglePass(t *testing.T) {
	patient := doc(t, `{"resourceType": "Patient", "name": [{"family": "A"}, {"family": "B"}]}`)

	it := New().Evaluate("Patient.name.family", patient)
	if v, ok := it.Next(); !ok || v != "A" {
		t.Fatalf("first Next() = %v, %v", v, ok)
	}
	if v, ok := it.Next(); !ok || v != "B" {
		t.Fatalf("second Next() = %v, %v", v, ok)
	}
	if _, ok := it.Next(); ok {
		t.Error("iterator did not terminate")
	}
	if _, ok := it.Next(); ok {
		t.Error("exhausted iterator restarted")
	}
}

func TestEvaluateUnsupportedSyntax(t *testing.T) {
	patient := doc(t, `{"resourceType": "Patient", "name": [{"family": "A"}]}`)
	// Conditions outside the subset must not over-match.
	if got := Collect(New().Evaluate("Patient.name.where(family.startsWith('A'))", patient)); len(got) != 0 {
		t.Errorf("unsupported where() yielded %v, want empty", got)
	}
}
