package index

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// tokenNamespace is the UUID v5 namespace for token tuple hashing. Stable
// forever: hashes are persisted in UUID[] columns and compared across
// releases.
var tokenNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("fhirstore.token"))

// HashToken derives the stable UUID for one canonical token text entry.
func HashToken(entry string) uuid.UUID {
	return uuid.NewSHA1(tokenNamespace, []byte(entry))
}

// tokenTuple is one (system, code) pair extracted from a token-typed value,
// with the display text used for sorting.
type tokenTuple struct {
	System  string
	Code    string
	Display string
}

// TextEntries renders the searchable forms of the tuple: the canonical
// "system|code" plus the bare code, so both exact and system-less queries
// overlap. A system without code yields "system|".
func (t tokenTuple) TextEntries() []string {
	switch {
	case t.System != "" && t.Code != "":
		return []string{t.System + "|" + t.Code, t.Code}
	case t.Code != "":
		return []string{t.Code}
	case t.System != "":
		return []string{t.System + "|"}
	}
	return nil
}

// tokenTuples extracts tuples from a raw token-typed value by inferred
// shape: Coding, CodeableConcept, Identifier, or a bare primitive code.
func tokenTuples(v interface{}) []tokenTuple {
	switch val := v.(type) {
	case map[string]interface{}:
		switch fhir.InferType(val) {
		case fhir.TypeCodeableConcept:
			var out []tokenTuple
			text, _ := val["text"].(string)
			if arr, ok := val["coding"].([]interface{}); ok {
				for _, c := range arr {
					cm, ok := c.(map[string]interface{})
					if !ok {
						continue
					}
					t := codingTuple(cm)
					if t.Display == "" {
						t.Display = text
					}
					out = append(out, t)
				}
			}
			if len(out) == 0 && text != "" {
				out = append(out, tokenTuple{Display: text})
			}
			return out
		case fhir.TypeCoding:
			return []tokenTuple{codingTuple(val)}
		case fhir.TypeIdentifier:
			system, _ := val["system"].(string)
			value, _ := val["value"].(string)
			return []tokenTuple{{System: system, Code: value, Display: value}}
		default:
			// Unrecognized object shapes carry best-effort system/code keys.
			system, _ := val["system"].(string)
			code := fhir.Stringify(val["code"])
			if code == "" {
				code = fhir.Stringify(val["value"])
			}
			if system == "" && code == "" {
				return nil
			}
			return []tokenTuple{{System: system, Code: code, Display: code}}
		}
	case nil:
		return nil
	default:
		code := fhir.Stringify(val)
		if code == "" {
			return nil
		}
		return []tokenTuple{{Code: code, Display: code}}
	}
}

func codingTuple(m map[string]interface{}) tokenTuple {
	system, _ := m["system"].(string)
	code, _ := m["code"].(string)
	display, _ := m["display"].(string)
	return tokenTuple{System: system, Code: code, Display: display}
}

// tokenColumns accumulates one token parameter's triplet values.
type tokenColumns struct {
	Hashes []uuid.UUID
	Text   []string
	Sort   string
}

func (tc *tokenColumns) add(t tokenTuple) {
	for _, entry := range t.TextEntries() {
		if containsString(tc.Text, entry) {
			continue
		}
		tc.Text = append(tc.Text, entry)
		tc.Hashes = append(tc.Hashes, HashToken(entry))
	}
	if tc.Sort == "" {
		switch {
		case t.Display != "":
			tc.Sort = NormalizeString(t.Display)
		case t.Code != "":
			tc.Sort = NormalizeString(t.Code)
		}
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// NormalizeString applies the canonical string transform for indexed text:
// Unicode NFC, lowered.
func NormalizeString(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}
