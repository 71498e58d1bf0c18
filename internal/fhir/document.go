package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is a parsed FHIR resource: the raw JSON object tree. Values inside
// it are the JSON sum (string, float64, bool, nil, map[string]interface{},
// []interface{}); type switches express the variants.
type Document map[string]interface{}

// ParseDocument decodes a JSON body into a Document and checks the minimum
// structural contract (an object with a non-empty resourceType).
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, InvalidResource("body is not a JSON object: %v", err)
	}
	if doc.Type() == "" {
		return nil, InvalidResource("resource is missing resourceType")
	}
	return doc, nil
}

// Type returns the resourceType discriminator.
func (d Document) Type() string {
	t, _ := d["resourceType"].(string)
	return t
}

// ID returns the logical id, empty when unassigned.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// SetID assigns the logical id.
func (d Document) SetID(id string) { d["id"] = id }

// Meta returns the meta object or nil.
func (d Document) Meta() map[string]interface{} {
	m, _ := d["meta"].(map[string]interface{})
	return m
}

// VersionID returns meta.versionId, empty when absent.
func (d Document) VersionID() string {
	if m := d.Meta(); m != nil {
		v, _ := m["versionId"].(string)
		return v
	}
	return ""
}

// SetMeta stamps meta.versionId and meta.lastUpdated, preserving any other
// meta content the client supplied.
func (d Document) SetMeta(versionID string, lastUpdated time.Time) {
	m := d.Meta()
	if m == nil {
		m = map[string]interface{}{}
		d["meta"] = m
	}
	m["versionId"] = versionID
	m["lastUpdated"] = lastUpdated.UTC().Format(time.RFC3339Nano)
}

// Profiles returns meta.profile as strings.
func (d Document) Profiles() []string {
	m := d.Meta()
	if m == nil {
		return nil
	}
	arr, _ := m["profile"].([]interface{})
	out := make([]string, 0, len(arr))
	for _, p := range arr {
		if s, ok := p.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Source returns meta.source, empty when absent.
func (d Document) Source() string {
	if m := d.Meta(); m != nil {
		s, _ := m["source"].(string)
		return s
	}
	return ""
}

// Clone deep-copies the document so callers can mutate without aliasing.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return deepCopyMap(d)
}

// JSON serialises the document.
func (d Document) JSON() ([]byte, error) {
	data, err := json.Marshal(map[string]interface{}(d))
	if err != nil {
		return nil, Internal(err, "marshal %s", d.Type())
	}
	return data, nil
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, item := range val {
			arr[i] = deepCopyValue(item)
		}
		return arr
	default:
		return val
	}
}

// DeepEqual compares two document values structurally. Numbers compare by
// value so 1 and 1.0 are equal.
func DeepEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, ok := bv[k]
			if !ok || !DeepEqual(v, bval) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		if an, ok := toFloat(a); ok {
			if bn, ok := toFloat(b); ok {
				return an == bn
			}
			return false
		}
		return a == b
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// GetPath walks a dot-separated path through the document, fanning out over
// arrays, and returns every value found. It is the cheap accessor used where
// the full path evaluator is not needed.
func GetPath(v interface{}, path string) []interface{} {
	if d, ok := v.(Document); ok {
		v = map[string]interface{}(d)
	}
	cur := []interface{}{v}
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			field := path[start:i]
			start = i + 1
			if field == "" {
				continue
			}
			var next []interface{}
			for _, item := range cur {
				m, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				val, ok := m[field]
				if !ok {
					continue
				}
				if arr, isArr := val.([]interface{}); isArr {
					next = append(next, arr...)
				} else {
					next = append(next, val)
				}
			}
			cur = next
			if len(cur) == 0 {
				return nil
			}
		}
	}
	return cur
}

// Stringify renders a primitive value the way it appears in a search column.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case json.Number:
		return val.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
