package fhir

import "strings"

// ChoiceValue is the result of resolving a value[x] field against a concrete
// document: the type the suffix names, the value itself, and the paired
// primitive-extension companion (_field) when present.
type ChoiceValue struct {
	Type      string
	Key       string
	Value     interface{}
	Companion map[string]interface{}
}

// primitiveSuffixes maps the capitalised choice suffix of a primitive type to
// its canonical lowercase name (valueString stores a string, not a String).
var primitiveSuffixes = map[string]string{
	"Base64Binary": "base64Binary",
	"Boolean":      "boolean",
	"Canonical":    "canonical",
	"Code":         "code",
	"Date":         "date",
	"DateTime":     "dateTime",
	"Decimal":      "decimal",
	"Id":           "id",
	"Instant":      "instant",
	"Integer":      "integer",
	"Markdown":     "markdown",
	"Oid":          "oid",
	"PositiveInt":  "positiveInt",
	"String":       "string",
	"Time":         "time",
	"UnsignedInt":  "unsignedInt",
	"Uri":          "uri",
	"Url":          "url",
	"Uuid":         "uuid",
}

// SuffixToType converts a choice suffix to the FHIR type it names.
func SuffixToType(suffix string) string {
	if t, ok := primitiveSuffixes[suffix]; ok {
		return t
	}
	return suffix
}

// TypeToSuffix converts a FHIR type name to the suffix used in choice keys.
func TypeToSuffix(typeName string) string {
	if typeName == "" {
		return ""
	}
	return strings.ToUpper(typeName[:1]) + typeName[1:]
}

// IsChoicePath reports whether an element path ends in the [x] marker.
func IsChoicePath(path string) bool {
	return strings.HasSuffix(path, "[x]")
}

// ChoiceBase strips the [x] marker from an element path segment.
func ChoiceBase(path string) string {
	return strings.TrimSuffix(path, "[x]")
}

// ExtractChoice scans an object for the concrete expansion of a choice field
// (base "value" matches valueString, valueQuantity, ...). The first matching
// key wins; FHIR permits at most one expansion per element. Returns nil when
// no expansion is present.
func ExtractChoice(obj map[string]interface{}, base string) *ChoiceValue {
	for key, val := range obj {
		if !strings.HasPrefix(key, base) || len(key) <= len(base) {
			continue
		}
		suffix := key[len(base):]
		if suffix[0] < 'A' || suffix[0] > 'Z' {
			continue
		}
		cv := &ChoiceValue{
			Type:  SuffixToType(suffix),
			Key:   key,
			Value: val,
		}
		if companion, ok := obj["_"+key].(map[string]interface{}); ok {
			cv.Companion = companion
		}
		return cv
	}
	return nil
}

// ChoiceKeys lists every concrete key a choice element may take given its
// declared types, in declaration order.
func ChoiceKeys(base string, types []string) []string {
	keys := make([]string, 0, len(types))
	for _, t := range types {
		keys = append(keys, base+TypeToSuffix(t))
	}
	return keys
}

// ChoiceSplits decomposes a concrete key into the candidate (base, type)
// pairs it could expand: "valueQuantity" yields base "value" with type
// Quantity. Keys split at every interior uppercase boundary, longest base
// first, since element names themselves are lowerCamel.
func ChoiceSplits(key string) map[string]string {
	splits := make(map[string]string)
	for i := len(key) - 1; i > 0; i-- {
		if key[i] < 'A' || key[i] > 'Z' {
			continue
		}
		splits[key[:i]] = SuffixToType(key[i:])
	}
	return splits
}
