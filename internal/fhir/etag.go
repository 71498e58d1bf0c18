package fhir

import (
	"fmt"
	"strings"
)

// FormatETag renders a weak ETag from a versionId.
func FormatETag(versionID string) string {
	return fmt.Sprintf(`W/"%s"`, versionID)
}

// ParseETag extracts the versionId from an ETag value like W/"abc" or "abc".
func ParseETag(etag string) (string, error) {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	if etag == "" {
		return "", fmt.Errorf("ETag must contain a versionId")
	}
	return etag, nil
}
