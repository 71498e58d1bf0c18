package repo

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/platform/db"
	"github.com/fhirstore/fhirstore/internal/search"
)

// Includes are resolved in waves; non-iterating rules run only against the
// match set, :iterate rules follow references up to this depth.
const maxIncludeDepth = 3

// Result is one search page.
type Result struct {
	Matches  []fhir.Document
	Includes []fhir.Document
	Total    *int
	Limit    int
	Offset   int
	Warnings []fhir.OperationOutcomeIssue
}

// Search compiles and executes a search request, then resolves _include and
// _revinclude against the matched page.
func (r *Repository) Search(ctx context.Context, scope search.Scope, req *search.Request) (*Result, error) {
	compiled, err := r.comp.Compile(req, scope)
	if err != nil {
		return nil, err
	}

	matches, err := r.queryDocuments(ctx, compiled.Query)
	if err != nil {
		return nil, err
	}

	out := &Result{
		Matches:  matches,
		Limit:    compiled.Limit,
		Offset:   compiled.Offset,
		Warnings: compiled.Warnings,
	}

	if compiled.Count != nil {
		var total int
		row := r.q.QueryRow(ctx, compiled.Count.SQL, compiled.Count.Args...)
		if err := row.Scan(&total); err != nil {
			return nil, db.Classify(err)
		}
		out.Total = &total
	}

	if len(req.Includes) > 0 || len(req.Revincludes) > 0 {
		includes, err := r.collectIncludes(ctx, scope, req, matches)
		if err != nil {
			return nil, err
		}
		out.Includes = includes
	}
	return out, nil
}

// collectIncludes walks include rules breadth-first. Every resource enters
// the result at most once, and match resources are never duplicated into the
// include section.
func (r *Repository) collectIncludes(ctx context.Context, scope search.Scope, req *search.Request, matches []fhir.Document) ([]fhir.Document, error) {
	visited := make(map[string]bool)
	for _, doc := range matches {
		visited[doc.Type()+"/"+doc.ID()] = true
	}

	var includes []fhir.Document
	frontier := matches
	for depth := 0; depth < maxIncludeDepth && len(frontier) > 0; depth++ {
		queries, err := r.includeQueries(scope, req, frontier, depth > 0)
		if err != nil {
			return nil, err
		}
		if len(queries) == 0 {
			break
		}

		fetched, err := r.fetchParallel(ctx, queries)
		if err != nil {
			return nil, err
		}

		var next []fhir.Document
		for _, doc := range fetched {
			key := doc.Type() + "/" + doc.ID()
			if visited[key] {
				continue
			}
			visited[key] = true
			includes = append(includes, doc)
			next = append(next, doc)
		}
		frontier = next
	}
	return includes, nil
}

// includeQueries compiles the queries for one wave. iterating selects only
// the :iterate rules, used on every wave after the first.
func (r *Repository) includeQueries(scope search.Scope, req *search.Request, frontier []fhir.Document, iterating bool) ([]search.TypedQuery, error) {
	byType := make(map[string][]uuid.UUID)
	var all []uuid.UUID
	for _, doc := range frontier {
		id, err := uuid.Parse(doc.ID())
		if err != nil {
			continue
		}
		byType[doc.Type()] = append(byType[doc.Type()], id)
		all = append(all, id)
	}

	var queries []search.TypedQuery
	for _, rule := range req.Includes {
		if iterating && !rule.Iterate {
			continue
		}
		ids := byType[rule.Source]
		if len(ids) == 0 {
			continue
		}
		qs, err := r.comp.CompileInclude(rule, ids, scope)
		if err != nil {
			return nil, err
		}
		queries = append(queries, qs...)
	}
	for _, rule := range req.Revincludes {
		if iterating && !rule.Iterate {
			continue
		}
		// The references table filters to rows actually pointing at the
		// frontier, so over-passing ids of other types is harmless.
		q, err := r.comp.CompileRevinclude(rule, all, scope)
		if err != nil {
			return nil, err
		}
		queries = append(queries, *q)
	}
	return queries, nil
}

// fetchParallel runs one wave's queries concurrently against the pool.
func (r *Repository) fetchParallel(ctx context.Context, queries []search.TypedQuery) ([]fhir.Document, error) {
	var mu sync.Mutex
	var docs []fhir.Document

	g, ctx := errgroup.WithContext(ctx)
	for _, tq := range queries {
		tq := tq
		g.Go(func() error {
			fetched, err := r.queryDocuments(ctx, tq.Query)
			if err != nil {
				return err
			}
			mu.Lock()
			docs = append(docs, fetched...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// queryDocuments runs an (id, content) query and decodes the payload column.
func (r *Repository) queryDocuments(ctx context.Context, q search.Query) ([]fhir.Document, error) {
	rows, err := r.q.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var docs []fhir.Document
	for rows.Next() {
		var id uuid.UUID
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, db.Classify(err)
		}
		doc, err := fhir.ParseDocument([]byte(content))
		if err != nil {
			return nil, fhir.Internal(err, "stored resource %s is not valid JSON", id)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return docs, nil
}
