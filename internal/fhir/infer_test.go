package fhir

import "testing"

func TestInferType(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"string", "abc", TypeString},
		{"bool", true, TypeBoolean},
		{"whole number", float64(5), TypeInteger},
		{"fraction", float64(5.5), TypeDecimal},
		{"coding", map[string]interface{}{"system": "http://loinc.org", "code": "8480-6"}, TypeCoding},
		{"codeable concept", map[string]interface{}{"coding": []interface{}{}, "text": "BP"}, TypeCodeableConcept},
		{"quantity", map[string]interface{}{"value": float64(120), "unit": "mm[Hg]"}, TypeQuantity},
		{"quantity with system", map[string]interface{}{"value": float64(120), "system": "http://unitsofmeasure.org", "code": "mm[Hg]"}, TypeQuantity},
		{"reference", map[string]interface{}{"reference": "Patient/p1"}, TypeReference},
		{"period", map[string]interface{}{"start": "2026-01-01"}, TypePeriod},
		{"ratio", map[string]interface{}{"numerator": map[string]interface{}{}, "denominator": map[string]interface{}{}}, TypeRatio},
		{"human name", map[string]interface{}{"family": "Chalmers"}, TypeHumanName},
		{"address", map[string]interface{}{"line": []interface{}{"534 Erewhon St"}, "city": "PleasantVille"}, TypeAddress},
		{"identifier", map[string]interface{}{"system": "urn:mrn", "value": "12345"}, TypeIdentifier},
		{"extension", map[string]interface{}{"url": "http://example.org/ext"}, TypeExtension},
		{"plain object", map[string]interface{}{"foo": "bar"}, TypeBackbone},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferType(tt.in); got != tt.want {
				t.Errorf("InferType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTypeAssignable(t *testing.T) {
	tests := []struct {
		inferred string
		declared string
		want     bool
	}{
		{TypeString, "string", true},
		{TypeString, "code", true},
		{TypeString, "dateTime", true},
		{TypeString, "integer", false},
		{TypeInteger, "positiveInt", true},
		{TypeInteger, "decimal", true},
		{TypeDecimal, "decimal", true},
		{TypeDecimal, "integer", false},
		{TypeQuantity, "Age", true},
		{TypeQuantity, "SimpleQuantity", true},
		{TypeQuantity, "Coding", false},
		{TypeBackbone, "Timing", true},
		{TypeBackbone, "string", false},
		{TypeCoding, "Element", true},
		{TypeHumanName, "Resource", true},
	}
	for _, tt := range tests {
		if got := TypeAssignable(tt.inferred, tt.declared); got != tt.want {
			t.Errorf("TypeAssignable(%s, %s) = %v, want %v", tt.inferred, tt.declared, got, tt.want)
		}
	}
}

func TestExtractChoice(t *testing.T) {
	obj := map[string]interface{}{
		"valueQuantity": map[string]interface{}{"value": float64(120), "unit": "mm[Hg]"},
		"_valueQuantity": map[string]interface{}{
			"extension": []interface{}{},
		},
		"valuable": "red herring",
	}
	cv := ExtractChoice(obj, "value")
	if cv == nil {
		t.Fatal("no choice extracted")
	}
	if cv.Type != "Quantity" || cv.Key != "valueQuantity" {
		t.Errorf("choice = %+v", cv)
	}
	if cv.Companion == nil {
		t.Error("companion not attached")
	}

	if cv := ExtractChoice(map[string]interface{}{"status": "final"}, "value"); cv != nil {
		t.Errorf("unexpected choice %+v", cv)
	}
}

func TestExtractChoicePrimitiveSuffix(t *testing.T) {
	cv := ExtractChoice(map[string]interface{}{"valueString": "high"}, "value")
	if cv == nil || cv.Type != "string" {
		t.Errorf("choice = %+v", cv)
	}
}

func TestChoiceSplits(t *testing.T) {
	splits := ChoiceSplits("valueQuantity")
	if splits["value"] != "Quantity" {
		t.Errorf("splits = %v", splits)
	}
	splits = ChoiceSplits("effectiveDateTime")
	if splits["effective"] != "dateTime" {
		t.Errorf("splits = %v", splits)
	}
	// Interior boundary also splits; the resolver picks by declared base.
	if splits["effectiveDate"] != "time" {
		t.Errorf("splits = %v", splits)
	}
}

func TestChoiceKeys(t *testing.T) {
	keys := ChoiceKeys("value", []string{"Quantity", "string", "dateTime"})
	want := []string{"valueQuantity", "valueString", "valueDateTime"}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys = %v, want %v", keys, want)
		}
	}
}

func TestIsChoicePath(t *testing.T) {
	if !IsChoicePath("Observation.value[x]") {
		t.Error("value[x] not recognised")
	}
	if ChoiceBase("value[x]") != "value" {
		t.Error("ChoiceBase failed")
	}
}
