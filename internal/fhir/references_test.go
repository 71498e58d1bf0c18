package fhir

import "testing"

func TestParseReference(t *testing.T) {
	tests := []struct {
		in         string
		targetType string
		targetID   string
		ok         bool
	}{
		{"Patient/p1", "Patient", "p1", true},
		{"Observation/0c2bd4a1-9a3f-4d2e-8f12-aaaabbbbcccc", "Observation", "0c2bd4a1-9a3f-4d2e-8f12-aaaabbbbcccc", true},
		{"https://fhir.example.org/fhir/R4/Patient/p1", "Patient", "p1", true},
		{"http://fhir.example.org/Patient/p1/_history/3", "Patient", "p1", true},
		{"urn:uuid:61ebe359-bfdc-4613-8bf2-c5e300945f0a", "", "", false},
		{"#contained1", "", "", false},
		{"", "", "", false},
		{"patient/p1", "", "", false},
		{"Patient", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			targetType, targetID, ok := ParseReference(tt.in)
			if ok != tt.ok || targetType != tt.targetType || targetID != tt.targetID {
				t.Errorf("ParseReference(%q) = %q, %q, %v; want %q, %q, %v",
					tt.in, targetType, targetID, ok, tt.targetType, tt.targetID, tt.ok)
			}
		})
	}
}

func TestCanonicalReference(t *testing.T) {
	if got := CanonicalReference("Patient", "p1"); got != "Patient/p1" {
		t.Errorf("CanonicalReference = %s", got)
	}
}

func TestWalkReferences(t *testing.T) {
	doc := map[string]interface{}{
		"resourceType": "Observation",
		"subject":      map[string]interface{}{"reference": "Patient/p1"},
		"performer": []interface{}{
			map[string]interface{}{"reference": "Practitioner/dr1"},
		},
		"extension": []interface{}{
			map[string]interface{}{
				"url":            "http://example.org/related",
				"valueReference": map[string]interface{}{"reference": "urn:uuid:abc"},
			},
		},
	}
	found := WalkReferences(doc)
	byPath := map[string]FoundReference{}
	for _, fr := range found {
		byPath[fr.Path] = fr
	}
	if len(found) != 3 {
		t.Fatalf("found %d references: %+v", len(found), found)
	}
	if fr := byPath["subject"]; fr.TargetType != "Patient" || fr.TargetID != "p1" {
		t.Errorf("subject = %+v", fr)
	}
	if fr := byPath["performer"]; fr.TargetType != "Practitioner" {
		t.Errorf("performer = %+v", fr)
	}
	// URN references surface raw with no parsed target.
	if fr := byPath["extension.valueReference"]; fr.Raw != "urn:uuid:abc" || fr.TargetType != "" {
		t.Errorf("urn reference = %+v", fr)
	}
}

func TestWalkReferencesCollectsArrayElements(t *testing.T) {
	doc := map[string]interface{}{
		"resourceType": "Patient",
		"generalPractitioner": []interface{}{
			map[string]interface{}{"reference": "Practitioner/dr1"},
			map[string]interface{}{"reference": "Organization/org1"},
		},
		"contact": []interface{}{
			map[string]interface{}{
				"organization": map[string]interface{}{"reference": "Organization/org2"},
			},
		},
	}
	found := WalkReferences(doc)
	targets := map[string]bool{}
	for _, fr := range found {
		targets[fr.Raw] = true
	}
	if len(found) != 3 {
		t.Fatalf("found %d references: %+v", len(found), found)
	}
	for _, want := range []string{"Practitioner/dr1", "Organization/org1", "Organization/org2"} {
		if !targets[want] {
			t.Errorf("missing reference %s", want)
		}
	}
}
