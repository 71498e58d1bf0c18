package repo

import (
	"context"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/search"
)

// findMatches runs the criteria with a probe page of two rows: enough to
// distinguish zero, one and many without counting.
func (r *Repository) findMatches(ctx context.Context, scope search.Scope, req *search.Request) ([]fhir.Document, error) {
	probe := *req
	probe.Count = 2
	probe.Offset = 0
	probe.Total = ""
	probe.Includes = nil
	probe.Revincludes = nil

	res, err := r.Search(ctx, scope, &probe)
	if err != nil {
		return nil, err
	}
	return res.Matches, nil
}

// ConditionalCreate creates the resource only if the criteria match nothing.
// One match returns the existing resource unchanged; several is an error.
// created reports whether a write happened.
func (r *Repository) ConditionalCreate(ctx context.Context, scope search.Scope, doc fhir.Document, req *search.Request) (fhir.Document, bool, error) {
	matches, err := r.findMatches(ctx, scope, req)
	if err != nil {
		return nil, false, err
	}
	switch len(matches) {
	case 0:
		out, err := r.Create(ctx, scope, doc)
		return out, err == nil, err
	case 1:
		return matches[0], false, nil
	default:
		return nil, false, fhir.PreconditionFailed("conditional create criteria matched multiple resources")
	}
}

// ConditionalUpdate updates the single resource matching the criteria, or
// creates when nothing matches. A document id that disagrees with the match
// is rejected.
func (r *Repository) ConditionalUpdate(ctx context.Context, scope search.Scope, doc fhir.Document, req *search.Request) (fhir.Document, bool, error) {
	matches, err := r.findMatches(ctx, scope, req)
	if err != nil {
		return nil, false, err
	}
	switch len(matches) {
	case 0:
		if doc.ID() != "" {
			return r.Update(ctx, scope, doc, "")
		}
		out, err := r.Create(ctx, scope, doc)
		return out, err == nil, err
	case 1:
		matchID := matches[0].ID()
		if doc.ID() != "" && doc.ID() != matchID {
			return nil, false, fhir.InvalidResource("resource id %q does not match the resource found by the criteria", doc.ID())
		}
		doc.SetID(matchID)
		return r.Update(ctx, scope, doc, "")
	default:
		return nil, false, fhir.PreconditionFailed("conditional update criteria matched multiple resources")
	}
}

// ConditionalDelete deletes the single matching resource. No match is a
// successful no-op.
func (r *Repository) ConditionalDelete(ctx context.Context, scope search.Scope, req *search.Request) error {
	matches, err := r.findMatches(ctx, scope, req)
	if err != nil {
		return err
	}
	switch len(matches) {
	case 0:
		return nil
	case 1:
		return r.Delete(ctx, scope, req.ResourceType, matches[0].ID(), "")
	default:
		return fhir.PreconditionFailed("conditional delete criteria matched multiple resources")
	}
}
