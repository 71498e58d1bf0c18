package fhir

import (
	"regexp"
	"strings"
)

// localReferencePattern matches canonical local references, "ResourceType/id".
var localReferencePattern = regexp.MustCompile(`^[A-Z][a-zA-Z]+/[A-Za-z0-9\-\.]{1,64}$`)

// FoundReference is one outbound reference discovered in a document.
type FoundReference struct {
	Path       string
	Raw        string
	TargetType string
	TargetID   string
}

// ParseReference splits a reference string into target type and id. Relative
// references parse directly; absolute URLs parse by their trailing
// "Type/id" segments, where the type segment must start uppercase. URN and
// fragment references do not parse and are preserved untouched upstream.
func ParseReference(ref string) (targetType, targetID string, ok bool) {
	if ref == "" || IsURNReference(ref) || strings.HasPrefix(ref, "#") {
		return "", "", false
	}
	if localReferencePattern.MatchString(ref) {
		i := strings.IndexByte(ref, '/')
		return ref[:i], ref[i+1:], true
	}
	// Absolute URL: take the last two path segments, dropping any
	// "_history/{vid}" suffix first.
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		path := ref
		if i := strings.Index(path, "://"); i >= 0 {
			path = path[i+3:]
		}
		segs := strings.Split(path, "/")
		if len(segs) >= 4 && segs[len(segs)-2] == "_history" {
			segs = segs[:len(segs)-2]
		}
		if len(segs) >= 2 {
			candidate := segs[len(segs)-2] + "/" + segs[len(segs)-1]
			if localReferencePattern.MatchString(candidate) {
				i := strings.IndexByte(candidate, '/')
				return candidate[:i], candidate[i+1:], true
			}
		}
	}
	return "", "", false
}

// IsURNReference reports whether a reference uses a urn: scheme.
func IsURNReference(ref string) bool {
	return strings.HasPrefix(ref, "urn:")
}

// CanonicalReference renders the stored form of a parsed reference.
func CanonicalReference(targetType, targetID string) string {
	return targetType + "/" + targetID
}

// WalkReferences visits every Reference-shaped object in the document and
// collects the reference strings it finds, with their dotted paths. Contained
// resources are walked too; their fragment references do not parse and so do
// not surface as rows.
func WalkReferences(doc map[string]interface{}) []FoundReference {
	var found []FoundReference
	walkRefs(doc, "", &found)
	return found
}

func walkRefs(obj map[string]interface{}, path string, found *[]FoundReference) {
	for key, val := range obj {
		cur := key
		if path != "" {
			cur = path + "." + key
		}
		switch tv := val.(type) {
		case map[string]interface{}:
			collectRef(tv, cur, found)
			walkRefs(tv, cur, found)
		case []interface{}:
			for _, item := range tv {
				if m, ok := item.(map[string]interface{}); ok {
					collectRef(m, cur, found)
					walkRefs(m, cur, found)
				}
			}
		}
	}
}

func collectRef(obj map[string]interface{}, path string, found *[]FoundReference) {
	ref, ok := obj["reference"].(string)
	if !ok || ref == "" {
		return
	}
	fr := FoundReference{Path: path, Raw: ref}
	if tt, tid, ok := ParseReference(ref); ok {
		fr.TargetType = tt
		fr.TargetID = tid
	}
	*found = append(*found, fr)
}
