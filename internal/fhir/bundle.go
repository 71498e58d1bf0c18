package fhir

import (
	"encoding/json"
	"time"
)

// Bundle is the FHIR Bundle resource, used for search results and history.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status       string     `json:"status"`
	Location     string     `json:"location,omitempty"`
	Etag         string     `json:"etag,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// Search entry modes.
const (
	SearchModeMatch   = "match"
	SearchModeInclude = "include"
	SearchModeOutcome = "outcome"
)

// NewSearchSetBundle assembles a searchset from already-serialised matches
// and includes. total is attached only when the caller computed one.
func NewSearchSetBundle(matches, includes []Document, total *int, baseURL string, links []BundleLink) (*Bundle, error) {
	now := time.Now().UTC()
	entries := make([]BundleEntry, 0, len(matches)+len(includes))
	for _, doc := range matches {
		e, err := searchEntry(doc, SearchModeMatch, baseURL)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	for _, doc := range includes {
		e, err := searchEntry(doc, SearchModeInclude, baseURL)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        total,
		Timestamp:    &now,
		Link:         links,
		Entry:        entries,
	}, nil
}

func searchEntry(doc Document, mode, baseURL string) (BundleEntry, error) {
	raw, err := doc.JSON()
	if err != nil {
		return BundleEntry{}, err
	}
	fullURL := ""
	if doc.Type() != "" && doc.ID() != "" {
		fullURL = baseURL + "/" + doc.Type() + "/" + doc.ID()
	}
	return BundleEntry{
		FullURL:  fullURL,
		Resource: raw,
		Search:   &BundleSearch{Mode: mode},
	}, nil
}

// HistoryItem is one version as the history bundle renders it.
type HistoryItem struct {
	VersionID   string
	LastUpdated time.Time
	Deleted     bool
	Content     []byte
}

// NewHistoryBundle assembles a history bundle, newest entry first. Tombstone
// versions render as request-only entries with no resource payload.
func NewHistoryBundle(resourceType, id string, items []HistoryItem, baseURL string) *Bundle {
	now := time.Now().UTC()
	total := len(items)
	entries := make([]BundleEntry, 0, len(items))
	for i, item := range items {
		method := "PUT"
		status := "200 OK"
		switch {
		case item.Deleted:
			method = "DELETE"
			status = "204 No Content"
		case i == len(items)-1:
			// The oldest surviving entry is the create.
			method = "POST"
			status = "201 Created"
		}
		ts := item.LastUpdated
		e := BundleEntry{
			FullURL: baseURL + "/" + resourceType + "/" + id,
			Request: &BundleRequest{Method: method, URL: resourceType + "/" + id},
			Response: &BundleResponse{
				Status:       status,
				Etag:         FormatETag(item.VersionID),
				LastModified: &ts,
			},
		}
		if !item.Deleted && len(item.Content) > 0 {
			e.Resource = json.RawMessage(item.Content)
		}
		entries = append(entries, e)
	}
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "history",
		Total:        &total,
		Timestamp:    &now,
		Entry:        entries,
	}
}
