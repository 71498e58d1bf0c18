package search

import (
	"github.com/google/uuid"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/registry"
	"github.com/fhirstore/fhirstore/internal/schema"
)

// TypedQuery pairs a query with the resource type its rows decode to.
type TypedQuery struct {
	ResourceType string
	Query        Query
}

// CompileInclude builds the queries fetching resources referenced by the
// given matches (forward _include). One query per candidate target type.
func (c *Compiler) CompileInclude(rule IncludeRule, ids []uuid.UUID, scope Scope) ([]TypedQuery, error) {
	im := c.reg.LookupParam(rule.Source, rule.Param)
	if im == nil || im.Param.Type != registry.SearchTypeReference {
		return nil, fhir.InvalidSearch("invalid _include %s:%s", rule.Source, rule.Param)
	}

	targets := im.Param.Target
	if rule.Target != "" {
		targets = []string{rule.Target}
	}
	if len(targets) == 0 {
		return nil, fhir.InvalidSearch("_include %s:%s has no target types", rule.Source, rule.Param)
	}

	refsTable := schema.QuoteIdent(schema.ReferencesTable(rule.Source))
	var out []TypedQuery
	for _, target := range targets {
		if !c.reg.KnowsType(target) {
			continue
		}
		b := &builder{}
		table := schema.QuoteIdent(schema.MainTable(target))
		sql := `SELECT t."id", t."content" FROM ` + table + ` t WHERE t."deleted" = false`
		if !scope.SuperAdmin {
			sql += ` AND t."projectId" = ` + b.bind(scope.ProjectID)
		}
		sql += ` AND t."id" IN (SELECT r."targetId" FROM ` + refsTable + ` r` +
			` WHERE r."code" = ` + b.bind(im.Code) +
			` AND r."resourceId" = ANY(` + b.bind(ids) + `))`
		out = append(out, TypedQuery{ResourceType: target, Query: Query{SQL: sql, Args: b.args}})
	}
	return out, nil
}

// CompileRevinclude builds the query fetching resources of the rule's source
// type that reference any of the given matches (_revinclude).
func (c *Compiler) CompileRevinclude(rule IncludeRule, ids []uuid.UUID, scope Scope) (*TypedQuery, error) {
	im := c.reg.LookupParam(rule.Source, rule.Param)
	if im == nil || im.Param.Type != registry.SearchTypeReference {
		return nil, fhir.InvalidSearch("invalid _revinclude %s:%s", rule.Source, rule.Param)
	}
	if !c.reg.KnowsType(rule.Source) {
		return nil, fhir.InvalidSearch("unknown _revinclude source type %q", rule.Source)
	}

	b := &builder{}
	table := schema.QuoteIdent(schema.MainTable(rule.Source))
	refsTable := schema.QuoteIdent(schema.ReferencesTable(rule.Source))
	sql := `SELECT s."id", s."content" FROM ` + table + ` s WHERE s."deleted" = false`
	if !scope.SuperAdmin {
		sql += ` AND s."projectId" = ` + b.bind(scope.ProjectID)
	}
	sql += ` AND EXISTS (SELECT 1 FROM ` + refsTable + ` r` +
		` WHERE r."resourceId" = s."id" AND r."code" = ` + b.bind(im.Code) +
		` AND r."targetId" = ANY(` + b.bind(ids) + `))`
	return &TypedQuery{ResourceType: rule.Source, Query: Query{SQL: sql, Args: b.args}}, nil
}
