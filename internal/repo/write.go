package repo

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/index"
	"github.com/fhirstore/fhirstore/internal/platform/db"
	"github.com/fhirstore/fhirstore/internal/registry"
	"github.com/fhirstore/fhirstore/internal/schema"
	"github.com/fhirstore/fhirstore/internal/search"
)

// Create persists a new resource. A client-supplied id is honoured when it
// is a fresh UUID; otherwise the server assigns one.
func (r *Repository) Create(ctx context.Context, scope search.Scope, doc fhir.Document) (fhir.Document, error) {
	resourceType := doc.Type()
	if resourceType == "" || !r.reg.KnowsType(resourceType) {
		return nil, fhir.InvalidResource("unknown resource type %q", resourceType)
	}

	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	rid, err := uuid.Parse(id)
	if err != nil {
		return nil, fhir.InvalidResource("resource id %q is not a UUID", id)
	}

	out, _, err := r.mutate(ctx, scope, mutation{
		resourceType: resourceType,
		id:           rid,
		doc:          doc,
		create:       true,
	})
	return out, err
}

// Update writes a new version of an existing resource, or creates it when
// the id is unused (upsert). created reports which happened. ifMatch, when
// non-empty, is the expected current versionId.
func (r *Repository) Update(ctx context.Context, scope search.Scope, doc fhir.Document, ifMatch string) (fhir.Document, bool, error) {
	resourceType := doc.Type()
	if resourceType == "" || !r.reg.KnowsType(resourceType) {
		return nil, false, fhir.InvalidResource("unknown resource type %q", resourceType)
	}
	if doc.ID() == "" {
		return nil, false, fhir.InvalidResource("update requires an id")
	}
	rid, err := uuid.Parse(doc.ID())
	if err != nil {
		return nil, false, fhir.InvalidResource("resource id %q is not a UUID", doc.ID())
	}

	return r.mutate(ctx, scope, mutation{
		resourceType: resourceType,
		id:           rid,
		doc:          doc,
		ifMatch:      ifMatch,
	})
}

// Delete tombstones a resource: main row keeps the id with deleted=true,
// empty content and version -1; a delete transition lands in history; all
// reference and lookup rows are cleared. Deleting an already-deleted
// resource is a no-op.
func (r *Repository) Delete(ctx context.Context, scope search.Scope, resourceType, id, ifMatch string) error {
	rid, err := r.resolveID(resourceType, id)
	if err != nil {
		return err
	}
	_, _, err = r.mutate(ctx, scope, mutation{
		resourceType: resourceType,
		id:           rid,
		ifMatch:      ifMatch,
		delete:       true,
	})
	return err
}

type mutation struct {
	resourceType string
	id           uuid.UUID
	doc          fhir.Document // nil for delete
	ifMatch      string
	delete       bool
	create       bool
}

// lockedRow is the current main-row state read under FOR UPDATE.
type lockedRow struct {
	projectID uuid.UUID
	deleted   bool
	version   int
	content   string
}

// mutate runs the write protocol: lock the target row, check preconditions,
// write main + history, replace references and lookup rows, commit. The
// transaction runner retries the whole protocol on serialization failures.
func (r *Repository) mutate(ctx context.Context, scope search.Scope, m mutation) (fhir.Document, bool, error) {
	set := r.plan.Set(m.resourceType)
	if set == nil {
		return nil, false, fhir.InvalidResource("no schema for resource type %q", m.resourceType)
	}

	var out fhir.Document
	var created bool
	err := r.tx.InTx(ctx, func(tx pgx.Tx) error {
		out, created = nil, false

		cur, exists, err := r.lockRow(ctx, tx, set, m.id)
		if err != nil {
			return err
		}
		if exists && !scope.SuperAdmin && cur.projectID != scope.ProjectID {
			return fhir.NotFound(m.resourceType, m.id.String())
		}

		if m.delete {
			return r.applyDelete(ctx, tx, set, m, cur, exists)
		}

		if exists && cur.deleted {
			return fhir.Gone(m.resourceType, m.id.String())
		}
		if m.create && exists {
			return fhir.InvalidResource("%s/%s already exists", m.resourceType, m.id)
		}
		if m.ifMatch != "" {
			if !exists {
				return fhir.NotFound(m.resourceType, m.id.String())
			}
			if m.ifMatch != currentVersionID(cur.content) {
				return fhir.VersionConflict(m.resourceType, m.id.String())
			}
		}

		version := 1
		projectID := scope.ProjectID
		if exists {
			version = cur.version + 1
			projectID = cur.projectID
		}

		doc := m.doc.Clone()
		doc.SetID(m.id.String())
		versionID := uuid.New()
		now := r.clock()
		doc.SetMeta(versionID.String(), now)

		rs, err := r.ix.Index(doc)
		if err != nil {
			return err
		}
		content, err := doc.JSON()
		if err != nil {
			return fhir.InvalidResource("cannot serialize resource: %v", err)
		}

		values := r.mainValues(set, rs, map[string]interface{}{
			"id":           m.id,
			"content":      string(content),
			"lastUpdated":  now,
			"deleted":      false,
			"projectId":    projectID,
			"__version":    version,
			"compartments": rs.Compartments,
		})
		if err := r.upsertMain(ctx, tx, set, values); err != nil {
			return err
		}
		if err := r.insertHistory(ctx, tx, set, versionID, m.id, string(content), now, projectID, false); err != nil {
			return err
		}
		if err := r.replaceReferences(ctx, tx, set, m.id, rs.References); err != nil {
			return err
		}
		if err := r.replaceLookups(ctx, tx, m.resourceType, m.id, rs.Lookups); err != nil {
			return err
		}

		out, created = doc, !exists
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (r *Repository) applyDelete(ctx context.Context, tx pgx.Tx, set *schema.TableSet, m mutation, cur lockedRow, exists bool) error {
	if !exists {
		return fhir.NotFound(m.resourceType, m.id.String())
	}
	if cur.deleted {
		// Idempotent: no new version, no state change.
		return nil
	}
	if m.ifMatch != "" && m.ifMatch != currentVersionID(cur.content) {
		return fhir.VersionConflict(m.resourceType, m.id.String())
	}

	now := r.clock()
	values := r.mainValues(set, &index.RowSet{}, map[string]interface{}{
		"id":           m.id,
		"content":      "",
		"lastUpdated":  now,
		"deleted":      true,
		"projectId":    cur.projectID,
		"__version":    -1,
		"compartments": nil,
	})
	if err := r.upsertMain(ctx, tx, set, values); err != nil {
		return err
	}
	if err := r.insertHistory(ctx, tx, set, uuid.New(), m.id, "", now, cur.projectID, true); err != nil {
		return err
	}
	if err := r.replaceReferences(ctx, tx, set, m.id, nil); err != nil {
		return err
	}
	return r.replaceLookups(ctx, tx, m.resourceType, m.id, nil)
}

func (r *Repository) lockRow(ctx context.Context, tx pgx.Tx, set *schema.TableSet, id uuid.UUID) (lockedRow, bool, error) {
	table := schema.QuoteIdent(set.Main.Name)
	row := tx.QueryRow(ctx,
		`SELECT "projectId", "deleted", "__version", "content" FROM `+table+` WHERE "id" = $1 FOR UPDATE`, id)

	var cur lockedRow
	if err := row.Scan(&cur.projectID, &cur.deleted, &cur.version, &cur.content); err != nil {
		if err == pgx.ErrNoRows {
			return lockedRow{}, false, nil
		}
		return lockedRow{}, false, db.Classify(err)
	}
	return cur, true, nil
}

// currentVersionID extracts meta.versionId from the stored payload.
func currentVersionID(content string) string {
	if content == "" {
		return ""
	}
	doc, err := fhir.ParseDocument([]byte(content))
	if err != nil {
		return ""
	}
	return doc.VersionID()
}

// mainValues produces one value per main-table column, in column order.
// Columns the indexer did not populate are written NULL so stale values from
// earlier versions never survive an update.
func (r *Repository) mainValues(set *schema.TableSet, rs *index.RowSet, base map[string]interface{}) []interface{} {
	values := make([]interface{}, len(set.Main.Columns))
	for i, col := range set.Main.Columns {
		if v, ok := base[col.Name]; ok {
			if col.Name == "compartments" && v == nil {
				v = []uuid.UUID{}
			}
			values[i] = v
			continue
		}
		if rs.Columns != nil {
			if v, ok := rs.Columns[col.Name]; ok {
				values[i] = v
				continue
			}
		}
		values[i] = nil
	}
	return values
}

func (r *Repository) upsertMain(ctx context.Context, tx pgx.Tx, set *schema.TableSet, values []interface{}) error {
	cols := set.Main.Columns
	var b strings.Builder
	b.WriteString("INSERT INTO " + schema.QuoteIdent(set.Main.Name) + " (")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(schema.QuoteIdent(col.Name))
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$" + strconv.Itoa(i+1))
	}
	b.WriteString(`) ON CONFLICT ("id") DO UPDATE SET `)
	first := true
	for _, col := range cols {
		if col.Name == "id" {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		q := schema.QuoteIdent(col.Name)
		b.WriteString(q + " = EXCLUDED." + q)
	}

	if _, err := tx.Exec(ctx, b.String(), values...); err != nil {
		return db.Classify(err)
	}
	return nil
}

func (r *Repository) insertHistory(ctx context.Context, tx pgx.Tx, set *schema.TableSet, versionID, id uuid.UUID, content string, lastUpdated time.Time, projectID uuid.UUID, deleted bool) error {
	table := schema.QuoteIdent(set.History.Name)
	_, err := tx.Exec(ctx,
		`INSERT INTO `+table+` ("versionId", "id", "content", "lastUpdated", "projectId", "deleted")
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		versionID, id, content, lastUpdated, projectID, deleted)
	if err != nil {
		// A versionId collision means the protocol generated a duplicate
		// UUID or replayed a transition; surface as internal.
		return db.Classify(err)
	}
	return nil
}

func (r *Repository) replaceReferences(ctx context.Context, tx pgx.Tx, set *schema.TableSet, id uuid.UUID, refs []index.ReferenceRow) error {
	table := schema.QuoteIdent(set.References.Name)
	if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE "resourceId" = $1`, id); err != nil {
		return db.Classify(err)
	}
	for _, ref := range refs {
		_, err := tx.Exec(ctx,
			`INSERT INTO `+table+` ("resourceId", "targetId", "code") VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			id, ref.TargetID, ref.Code)
		if err != nil {
			return db.Classify(err)
		}
	}
	return nil
}

// replaceLookups rewrites the global lookup rows for every table this
// resource type can populate, so removed elements disappear.
func (r *Repository) replaceLookups(ctx context.Context, tx pgx.Tx, resourceType string, id uuid.UUID, lookups map[string][]index.LookupRow) error {
	for _, tableName := range r.lookupTablesFor(resourceType) {
		table := schema.QuoteIdent(tableName)
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE "resourceId" = $1`, id); err != nil {
			return db.Classify(err)
		}

		spec := r.lookupTable(tableName)
		if spec == nil {
			return fhir.Internal(nil, "no plan for lookup table %s", tableName)
		}
		for _, lkRow := range lookups[tableName] {
			cols := []string{`"resourceId"`, `"index"`}
			args := []interface{}{id, lkRow.Index}
			for _, col := range spec.Columns {
				if col.Name == "resourceId" || col.Name == "index" {
					continue
				}
				cols = append(cols, schema.QuoteIdent(col.Name))
				args = append(args, lkRow.Values[col.Name])
			}
			placeholders := make([]string, len(args))
			for i := range args {
				placeholders[i] = "$" + strconv.Itoa(i+1)
			}
			sql := `INSERT INTO ` + table + ` (` + strings.Join(cols, ", ") + `) VALUES (` +
				strings.Join(placeholders, ", ") + `)`
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return db.Classify(err)
			}
		}
	}
	return nil
}

func (r *Repository) lookupTablesFor(resourceType string) []string {
	seen := make(map[string]bool)
	for _, im := range r.reg.ParamsFor(resourceType) {
		if im.Strategy == registry.StrategyLookup {
			seen[im.LookupTable] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Repository) lookupTable(name string) *schema.Table {
	for i := range r.plan.Lookups {
		if r.plan.Lookups[i].Name == name {
			return &r.plan.Lookups[i]
		}
	}
	return nil
}
