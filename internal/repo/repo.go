// Package repo is the transactional gateway between the engine and
// PostgreSQL: versioned CRUD with optimistic concurrency, history, reference
// bookkeeping and tenant scoping. It is the only writer of the per-type
// table families.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/index"
	"github.com/fhirstore/fhirstore/internal/platform/db"
	"github.com/fhirstore/fhirstore/internal/registry"
	"github.com/fhirstore/fhirstore/internal/schema"
	"github.com/fhirstore/fhirstore/internal/search"
)

// TxRunner runs a function inside a retried write transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Repository mediates all resource persistence.
type Repository struct {
	q     db.Queryable
	tx    TxRunner
	reg   *registry.Registry
	plan  *schema.Plan
	ix    *index.Indexer
	comp  *search.Compiler
	log   zerolog.Logger
	clock func() time.Time
}

// New wires a repository. q serves reads; tx serves writes (pgx.Tx satisfies
// db.Queryable, so the write path reuses the same statement helpers).
func New(q db.Queryable, tx TxRunner, reg *registry.Registry, plan *schema.Plan, comp *search.Compiler, log zerolog.Logger) *Repository {
	return &Repository{
		q:     q,
		tx:    tx,
		reg:   reg,
		plan:  plan,
		ix:    index.New(reg),
		comp:  comp,
		log:   log.With().Str("component", "repo").Logger(),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Read returns the current version of a resource. Rows in other projects
// surface as not-found so existence does not leak across tenants.
func (r *Repository) Read(ctx context.Context, scope search.Scope, resourceType, id string) (fhir.Document, error) {
	rid, err := r.resolveID(resourceType, id)
	if err != nil {
		return nil, err
	}

	table := schema.QuoteIdent(schema.MainTable(resourceType))
	row := r.q.QueryRow(ctx,
		`SELECT "content", "deleted", "projectId" FROM `+table+` WHERE "id" = $1`, rid)

	var content string
	var deleted bool
	var projectID uuid.UUID
	if err := row.Scan(&content, &deleted, &projectID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fhir.NotFound(resourceType, id)
		}
		return nil, db.Classify(err)
	}
	if !scope.SuperAdmin && projectID != scope.ProjectID {
		return nil, fhir.NotFound(resourceType, id)
	}
	if deleted {
		return nil, fhir.Gone(resourceType, id)
	}
	return fhir.ParseDocument([]byte(content))
}

// ReadVersion returns one historical version. Tombstones are not readable
// versions.
func (r *Repository) ReadVersion(ctx context.Context, scope search.Scope, resourceType, id, versionID string) (fhir.Document, error) {
	rid, err := r.resolveID(resourceType, id)
	if err != nil {
		return nil, err
	}
	vid, err := uuid.Parse(versionID)
	if err != nil {
		return nil, fhir.NotFound(resourceType, id)
	}

	table := schema.QuoteIdent(schema.HistoryTable(resourceType))
	row := r.q.QueryRow(ctx,
		`SELECT "content", "deleted", "projectId" FROM `+table+` WHERE "id" = $1 AND "versionId" = $2`,
		rid, vid)

	var content string
	var deleted bool
	var projectID uuid.UUID
	if err := row.Scan(&content, &deleted, &projectID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fhir.NotFound(resourceType, id)
		}
		return nil, db.Classify(err)
	}
	if !scope.SuperAdmin && projectID != scope.ProjectID {
		return nil, fhir.NotFound(resourceType, id)
	}
	if deleted || content == "" {
		return nil, fhir.NotFound(resourceType, id)
	}
	return fhir.ParseDocument([]byte(content))
}

// History lists every version of a resource, newest first.
func (r *Repository) History(ctx context.Context, scope search.Scope, resourceType, id string) ([]fhir.HistoryItem, error) {
	rid, err := r.resolveID(resourceType, id)
	if err != nil {
		return nil, err
	}

	table := schema.QuoteIdent(schema.HistoryTable(resourceType))
	sql := `SELECT "versionId", "content", "lastUpdated", "deleted" FROM ` + table + ` WHERE "id" = $1`
	args := []interface{}{rid}
	if !scope.SuperAdmin {
		sql += ` AND "projectId" = $2`
		args = append(args, scope.ProjectID)
	}
	sql += ` ORDER BY "lastUpdated" DESC, "versionId"`

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var items []fhir.HistoryItem
	for rows.Next() {
		var vid uuid.UUID
		var content string
		var lastUpdated time.Time
		var deleted bool
		if err := rows.Scan(&vid, &content, &lastUpdated, &deleted); err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, fhir.HistoryItem{
			VersionID:   vid.String(),
			LastUpdated: lastUpdated,
			Deleted:     deleted,
			Content:     []byte(content),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	if len(items) == 0 {
		return nil, fhir.NotFound(resourceType, id)
	}
	return items, nil
}

// resolveID checks the type is known and the id is a UUID. Unknown ids
// cannot name any row, so both failures read as not-found.
func (r *Repository) resolveID(resourceType, id string) (uuid.UUID, error) {
	if !r.reg.KnowsType(resourceType) {
		return uuid.Nil, fhir.NotFound(resourceType, id)
	}
	rid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fhir.NotFound(resourceType, id)
	}
	return rid, nil
}
