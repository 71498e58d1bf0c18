package fhir

import (
	"strings"
	"testing"
	"time"
)

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"resourceType":"Patient","id":"p1"}`))
	if err != nil {
		t.Fatalf("ParseDocument() error: %v", err)
	}
	if doc.Type() != "Patient" || doc.ID() != "p1" {
		t.Errorf("type/id = %s/%s", doc.Type(), doc.ID())
	}
}

func TestParseDocumentRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"array", `[1,2]`},
		{"missing resourceType", `{"id":"p1"}`},
		{"non-string resourceType", `{"resourceType":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDocument([]byte(tt.body)); !IsKind(err, KindInvalidResource) {
				t.Errorf("error = %v, want invalid-resource", err)
			}
		})
	}
}

func TestSetMetaPreservesClientContent(t *testing.T) {
	doc := Document{
		"resourceType": "Patient",
		"meta": map[string]interface{}{
			"source":  "urn:source:upstream",
			"profile": []interface{}{"http://example.org/StructureDefinition/vip"},
		},
	}
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	doc.SetMeta("7", now)

	if doc.VersionID() != "7" {
		t.Errorf("versionId = %s", doc.VersionID())
	}
	if doc.Source() != "urn:source:upstream" {
		t.Errorf("source = %s", doc.Source())
	}
	if got := doc.Profiles(); len(got) != 1 || got[0] != "http://example.org/StructureDefinition/vip" {
		t.Errorf("profiles = %v", got)
	}
	if got := doc.Meta()["lastUpdated"]; got != "2026-03-14T09:26:53Z" {
		t.Errorf("lastUpdated = %v", got)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	doc := Document{
		"resourceType": "Patient",
		"name": []interface{}{
			map[string]interface{}{"family": "Chalmers"},
		},
	}
	clone := doc.Clone()
	clone["name"].([]interface{})[0].(map[string]interface{})["family"] = "Smith"

	if got := doc["name"].([]interface{})[0].(map[string]interface{})["family"]; got != "Chalmers" {
		t.Errorf("original mutated: family = %v", got)
	}
}

func TestDeepEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
		want bool
	}{
		{"equal maps", map[string]interface{}{"a": "x"}, map[string]interface{}{"a": "x"}, true},
		{"numbers by value", float64(1), float64(1.0), true},
		{"int vs float", 1, float64(1), true},
		{"different keys", map[string]interface{}{"a": "x"}, map[string]interface{}{"b": "x"}, false},
		{"extra key", map[string]interface{}{"a": "x"}, map[string]interface{}{"a": "x", "b": "y"}, false},
		{"arrays ordered", []interface{}{"a", "b"}, []interface{}{"b", "a"}, false},
		{"nested equal",
			map[string]interface{}{"a": []interface{}{map[string]interface{}{"n": float64(2)}}},
			map[string]interface{}{"a": []interface{}{map[string]interface{}{"n": float64(2)}}},
			true},
		{"string vs number", "1", float64(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeepEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("DeepEqual() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetPathFansOutOverArrays(t *testing.T) {
	doc := Document{
		"resourceType": "Patient",
		"name": []interface{}{
			map[string]interface{}{"given": []interface{}{"Peter", "James"}},
			map[string]interface{}{"given": []interface{}{"Jim"}},
		},
	}
	got := GetPath(doc, "name.given")
	if len(got) != 3 {
		t.Fatalf("values = %v", got)
	}
	want := []string{"Peter", "James", "Jim"}
	for i, v := range got {
		if v != want[i] {
			t.Errorf("value[%d] = %v, want %s", i, v, want[i])
		}
	}

	if got := GetPath(doc, "name.missing"); got != nil {
		t.Errorf("missing path = %v, want nil", got)
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"abc", "abc"},
		{true, "true"},
		{false, "false"},
		{float64(42), "42"},
		{float64(3.5), "3.5"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestETagRoundTrip(t *testing.T) {
	etag := FormatETag("5")
	if etag != `W/"5"` {
		t.Errorf("FormatETag = %s", etag)
	}
	for _, in := range []string{`W/"5"`, `"5"`, "5", ` W/"5" `} {
		vid, err := ParseETag(in)
		if err != nil || vid != "5" {
			t.Errorf("ParseETag(%q) = %q, %v", in, vid, err)
		}
	}
	if _, err := ParseETag(`W/""`); err == nil {
		t.Error("empty versionId should not parse")
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{NotFound("Patient", "p1"), KindResourceNotFound, 404},
		{Gone("Patient", "p1"), KindResourceGone, 410},
		{VersionConflict("Patient", "p1"), KindVersionConflict, 409},
		{PreconditionFailed("multiple matches"), KindPreconditionFailed, 412},
		{InvalidResource("bad"), KindInvalidResource, 400},
		{InvalidSearch("bad"), KindInvalidSearchRequest, 400},
		{Timeout(nil), KindTimeout, 504},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.kind {
			t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.kind)
		}
		if got := KindOf(tt.err).HTTPStatus(); got != tt.status {
			t.Errorf("status for %v = %d, want %d", tt.err, got, tt.status)
		}
	}
	if KindOf(strings.NewReader("").UnreadRune()) != KindInternal {
		t.Error("unclassified errors should map to internal")
	}
}

func TestOutcomeFromErrorHidesUnclassified(t *testing.T) {
	outcome := OutcomeFromError(Internal(nil, "pg host 10.0.0.7 unreachable"))
	if len(outcome.Issue) != 1 {
		t.Fatalf("issues = %v", outcome.Issue)
	}
	// Internal errors render with their safe message; wholly unclassified
	// errors render generically.
	generic := OutcomeFromError(strings.NewReader("").UnreadRune())
	if generic.Issue[0].Diagnostics != "internal server error" {
		t.Errorf("diagnostics = %s", generic.Issue[0].Diagnostics)
	}
}
