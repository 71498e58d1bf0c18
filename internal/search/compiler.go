package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/registry"
	"github.com/fhirstore/fhirstore/internal/schema"
)

// Coding is a (system, code) pair exchanged with the terminology
// collaborator.
type Coding struct {
	System string
	Code   string
}

// Terminology resolves hierarchical and membership token modifiers. Above
// and Below include the starting code itself.
type Terminology interface {
	Expand(valueSetURL string) ([]Coding, error)
	Above(system, code string) ([]Coding, error)
	Below(system, code string) ([]Coding, error)
}

// Scope is the tenancy context applied to every query.
type Scope struct {
	ProjectID  uuid.UUID
	SuperAdmin bool
}

// Options tune paging limits.
type Options struct {
	DefaultCount int
	MaxCount     int
}

const (
	defaultCount = 20
	maxCount     = 1000
)

func (o Options) normalized() Options {
	if o.DefaultCount <= 0 {
		o.DefaultCount = defaultCount
	}
	if o.MaxCount <= 0 {
		o.MaxCount = maxCount
	}
	return o
}

// Query is one parameterised SQL statement.
type Query struct {
	SQL  string
	Args []interface{}
}

// Compiled is the output of Compile: the page query, the optional accurate
// count query, and any unknown-parameter warnings.
type Compiled struct {
	Query    Query
	Count    *Query
	Warnings []fhir.OperationOutcomeIssue
	Limit    int
	Offset   int
}

// Compiler turns parsed requests into SQL.
type Compiler struct {
	reg  *registry.Registry
	term Terminology
	opts Options
}

// NewCompiler creates a compiler. term may be nil, in which case the
// terminology modifiers fail with InvalidSearchRequest.
func NewCompiler(reg *registry.Registry, term Terminology, opts Options) *Compiler {
	return &Compiler{reg: reg, term: term, opts: opts.normalized()}
}

// builder threads positional placeholders through clause construction.
type builder struct {
	args []interface{}
}

func (b *builder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// Compile produces the page query and, for _total=accurate, a count query
// over the same predicate.
func (c *Compiler) Compile(req *Request, scope Scope) (*Compiled, error) {
	if !c.reg.KnowsType(req.ResourceType) {
		return nil, fhir.InvalidSearch("unknown resource type %q", req.ResourceType)
	}

	limit := req.Count
	if limit < 0 {
		limit = c.opts.DefaultCount
	}
	if limit > c.opts.MaxCount {
		limit = c.opts.MaxCount
	}

	b := &builder{}
	where, warnings, err := c.buildWhere(b, req, scope)
	if err != nil {
		return nil, err
	}
	orderBy, err := c.orderBy(req)
	if err != nil {
		return nil, err
	}

	table := schema.QuoteIdent(schema.MainTable(req.ResourceType))
	var sql strings.Builder
	sql.WriteString(`SELECT ` + table + `."id", ` + table + `."content" FROM ` + table)
	sql.WriteString(" WHERE " + where)
	sql.WriteString(" " + orderBy)
	sql.WriteString(" LIMIT " + b.bind(limit) + " OFFSET " + b.bind(req.Offset))

	out := &Compiled{
		Query:    Query{SQL: sql.String(), Args: b.args},
		Warnings: warnings,
		Limit:    limit,
		Offset:   req.Offset,
	}

	if req.Total == "accurate" {
		cb := &builder{}
		countWhere, _, err := c.buildWhere(cb, req, scope)
		if err != nil {
			return nil, err
		}
		out.Count = &Query{
			SQL:  `SELECT COUNT(*) FROM ` + table + ` WHERE ` + countWhere,
			Args: cb.args,
		}
	}
	return out, nil
}

// buildWhere assembles the conjunction of tenancy, liveness, compartment and
// parameter predicates.
func (c *Compiler) buildWhere(b *builder, req *Request, scope Scope) (string, []fhir.OperationOutcomeIssue, error) {
	alias := schema.QuoteIdent(schema.MainTable(req.ResourceType))
	clauses := []string{alias + `."deleted" = false`}

	if !scope.SuperAdmin {
		clauses = append(clauses, alias+`."projectId" = `+b.bind(scope.ProjectID))
	}
	if req.Compartment != nil {
		clauses = append(clauses,
			alias+`."compartments" && ARRAY[`+b.bind(req.Compartment.ID)+`]::uuid[]`)
	}

	var warnings []fhir.OperationOutcomeIssue
	for _, p := range req.Params {
		clause, err := c.paramClause(b, alias, req.ResourceType, p, scope)
		if err != nil {
			var unknown *unknownParamError
			if errors.As(err, &unknown) {
				if req.Strict {
					return "", nil, fhir.InvalidSearch("%s", unknown.msg)
				}
				warnings = append(warnings, fhir.OperationOutcomeIssue{
					Severity:    fhir.IssueSeverityWarning,
					Code:        fhir.IssueTypeNotSupported,
					Diagnostics: unknown.msg,
				})
				continue
			}
			return "", nil, err
		}
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}
	return strings.Join(clauses, " AND "), warnings, nil
}

// unknownParamError marks a parameter the registry does not know. Outside
// strict mode it downgrades to a Bundle warning instead of failing the
// search.
type unknownParamError struct {
	msg string
}

func (e *unknownParamError) Error() string { return e.msg }

func unknownParam(format string, args ...interface{}) error {
	return &unknownParamError{msg: fmt.Sprintf(format, args...)}
}

// paramClause compiles one parameter against the given table alias.
func (c *Compiler) paramClause(b *builder, alias, resourceType string, p *Param, scope Scope) (string, error) {
	if p.Chain != "" || p.ChainType != "" {
		return c.chainClause(b, alias, resourceType, p, scope)
	}

	switch p.Code {
	case "_id":
		return c.idClause(b, alias, p)
	case "_lastUpdated":
		return dateClause(b, alias, `"lastUpdated"`, p)
	case "_tag":
		return c.tokenClause(b, alias, `"__tag"`, `"__tagText"`, "", "", p)
	case "_security":
		return c.tokenClause(b, alias, `"__security"`, `"__securityText"`, "", "", p)
	case "_profile":
		return arrayOverlapClause(b, alias, `"_profile"`, p), nil
	case "_source":
		return textEqualsClause(b, alias, `"_source"`, p), nil
	}

	im := c.reg.LookupParam(resourceType, p.Code)
	if im == nil {
		return "", unknownParam("unknown search parameter %q on %s", p.Code, resourceType)
	}
	return c.implClause(b, alias, im, p, scope)
}

func (c *Compiler) implClause(b *builder, alias string, im *registry.ParamImpl, p *Param, scope Scope) (string, error) {
	switch im.Strategy {
	case registry.StrategyToken:
		return c.tokenClause(b, alias,
			schema.QuoteIdent(im.TokenColumn()),
			schema.QuoteIdent(im.TokenTextColumn()),
			schema.QuoteIdent(im.TokenSortColumn()), "", p)

	case registry.StrategySharedToken:
		return c.tokenClause(b, alias, `"__sharedTokens"`, `"__sharedTokensText"`, "", im.Code, p)

	case registry.StrategyLookup:
		return c.lookupClause(b, alias, im, p)

	case registry.StrategyColumn:
		col := schema.QuoteIdent(im.ColumnName)
		switch im.Param.Type {
		case registry.SearchTypeString:
			return stringClause(b, alias, col, p)
		case registry.SearchTypeDate:
			return dateClause(b, alias, col, p)
		case registry.SearchTypeNumber:
			return numberClause(b, alias, col, p)
		case registry.SearchTypeQuantity:
			return quantityClause(b, alias, col, schema.QuoteIdent(im.UnitColumn), p)
		case registry.SearchTypeReference:
			return referenceClause(b, alias, col, im, p)
		case registry.SearchTypeURI:
			return uriClause(b, alias, col, im.Array, p)
		}
	}
	return "", fhir.InvalidSearch("parameter %q is not searchable", p.Code)
}

// idClause matches logical ids. Values that do not parse as UUIDs cannot
// match anything.
func (c *Compiler) idClause(b *builder, alias string, p *Param) (string, error) {
	if p.Modifier == "missing" {
		// id is never null.
		if parseBool(p) {
			return "FALSE", nil
		}
		return "TRUE", nil
	}
	var ids []uuid.UUID
	for _, v := range p.Values {
		if id, err := uuid.Parse(v.Raw); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "FALSE", nil
	}
	return alias + `."id" = ANY(` + b.bind(ids) + `)`, nil
}

// chainClause compiles a depth-1 chained parameter as an EXISTS over the
// references table joined to the target main table.
func (c *Compiler) chainClause(b *builder, alias, resourceType string, p *Param, scope Scope) (string, error) {
	im := c.reg.LookupParam(resourceType, p.Code)
	if im == nil {
		return "", unknownParam("unknown search parameter %q on %s", p.Code, resourceType)
	}
	if im.Param.Type != registry.SearchTypeReference {
		return "", fhir.InvalidSearch("parameter %q does not support chaining", p.Code)
	}

	target := p.ChainType
	if target == "" {
		if len(im.Param.Target) != 1 {
			return "", fhir.InvalidSearch("chained parameter %q needs a type qualifier", p.Code)
		}
		target = im.Param.Target[0]
	}
	if !c.reg.KnowsType(target) {
		return "", fhir.InvalidSearch("unknown chain target type %q", target)
	}

	// Bare type qualifier without a chained code restricts the target type
	// only.
	inner := "TRUE"
	if p.Chain != "" {
		chained := &Param{Code: p.Chain, Modifier: p.Modifier, Values: p.Values}
		var err error
		inner, err = c.paramClause(b, "ct", target, chained, scope)
		if err != nil {
			return "", err
		}
	}

	refsTable := schema.QuoteIdent(schema.ReferencesTable(resourceType))
	targetTable := schema.QuoteIdent(schema.MainTable(target))
	sub := `EXISTS (SELECT 1 FROM ` + refsTable + ` cr JOIN ` + targetTable + ` ct ON ct."id" = cr."targetId"` +
		` WHERE cr."resourceId" = ` + alias + `."id" AND cr."code" = ` + b.bind(im.Code) +
		` AND ct."deleted" = false`
	if !scope.SuperAdmin {
		sub += ` AND ct."projectId" = ` + b.bind(scope.ProjectID)
	}
	sub += ` AND ` + inner + `)`
	return sub, nil
}

// orderBy renders the ORDER BY clause. Sorting always ends on id so offset
// paging is stable.
func (c *Compiler) orderBy(req *Request) (string, error) {
	alias := schema.QuoteIdent(schema.MainTable(req.ResourceType))
	var terms []string
	for _, rule := range req.Sort {
		col, err := c.sortColumn(req.ResourceType, rule.Code)
		if err != nil {
			return "", err
		}
		term := alias + "." + col
		if rule.Descending {
			term += " DESC"
		}
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		terms = append(terms, alias+`."lastUpdated" DESC`)
	}
	terms = append(terms, alias+`."id"`)
	return "ORDER BY " + strings.Join(terms, ", "), nil
}

func (c *Compiler) sortColumn(resourceType, code string) (string, error) {
	switch code {
	case "_id":
		return `"id"`, nil
	case "_lastUpdated":
		return `"lastUpdated"`, nil
	}
	im := c.reg.LookupParam(resourceType, code)
	if im == nil {
		return "", fhir.InvalidSearch("unknown sort parameter %q", code)
	}
	switch im.Strategy {
	case registry.StrategyToken:
		return schema.QuoteIdent(im.TokenSortColumn()), nil
	case registry.StrategyColumn:
		if im.Array {
			return "", fhir.InvalidSearch("cannot sort by array parameter %q", code)
		}
		return schema.QuoteIdent(im.ColumnName), nil
	}
	return "", fhir.InvalidSearch("cannot sort by parameter %q", code)
}

func parseBool(p *Param) bool {
	return len(p.Values) > 0 && strings.EqualFold(p.Values[0].Raw, "true")
}
