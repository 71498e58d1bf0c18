// Package validate checks documents against canonical profiles: cardinality,
// type compatibility, choice expansion, fixed and pattern facets, reference
// targets, slicing and element constraints. Issues accumulate; nothing stops
// early unless FailFast is set.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fhirstore/fhirstore/internal/fhir"
	"github.com/fhirstore/fhirstore/internal/fhir/fhirpath"
	"github.com/fhirstore/fhirstore/internal/registry"
)

// Machine-readable issue codes.
const (
	CodeCardinalityMin   = "CARDINALITY_MIN_VIOLATION"
	CodeCardinalityMax   = "CARDINALITY_MAX_VIOLATION"
	CodeTypeMismatch     = "TYPE_MISMATCH"
	CodeInvalidChoice    = "INVALID_CHOICE_TYPE"
	CodeFixedMismatch    = "FIXED_VALUE_MISMATCH"
	CodePatternMismatch  = "PATTERN_VALUE_MISMATCH"
	CodeInvalidReference = "INVALID_REFERENCE_TARGET"
	CodeSlicingNoMatch   = "SLICING_NO_MATCH"
	CodeSlicingOrder     = "SLICING_ORDER_VIOLATION"
	CodeConstraint       = "CONSTRAINT_VIOLATION"
	CodeUnknownProfile   = "UNKNOWN_PROFILE"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity    string
	Code        string
	Path        string
	Message     string
	Diagnostics string
}

// IsError reports whether the issue blocks acceptance.
func (i Issue) IsError() bool { return i.Severity == SeverityError }

// HasErrors reports whether any issue in the list is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.IsError() {
			return true
		}
	}
	return false
}

// OutcomeIssues renders the findings for an OperationOutcome.
func OutcomeIssues(issues []Issue) []fhir.OperationOutcomeIssue {
	out := make([]fhir.OperationOutcomeIssue, len(issues))
	for i, is := range issues {
		severity := fhir.IssueSeverityError
		if !is.IsError() {
			severity = fhir.IssueSeverityWarning
		}
		out[i] = fhir.OperationOutcomeIssue{
			Severity:    severity,
			Code:        fhir.IssueTypeInvalid,
			Diagnostics: is.Code + ": " + is.Message,
			Expression:  []string{is.Path},
		}
	}
	return out
}

// Options tune validation behaviour.
type Options struct {
	// FailFast stops at the first error-severity issue.
	FailFast bool
}

// Validator checks documents against the registry's canonical profiles.
type Validator struct {
	reg  *registry.Registry
	eval *fhirpath.Evaluator
	opts Options
	log  zerolog.Logger
}

// New creates a validator over a built registry.
func New(reg *registry.Registry, opts Options, log zerolog.Logger) *Validator {
	return &Validator{
		reg:  reg,
		eval: fhirpath.New(),
		opts: opts,
		log:  log.With().Str("component", "validate").Logger(),
	}
}

// errStop aborts the walk under FailFast. It never escapes the package.
var errStop = errors.New("validation stopped")

// Validate checks a document against its base profile and every profile its
// meta.profile claims. Unknown claimed profiles degrade to a warning.
func (v *Validator) Validate(doc fhir.Document) []Issue {
	base := v.reg.ProfileFor(doc.Type())
	if base == nil {
		return []Issue{{
			Severity: SeverityError,
			Code:     CodeTypeMismatch,
			Path:     "resourceType",
			Message:  fmt.Sprintf("no profile for resource type %q", doc.Type()),
		}}
	}

	issues := v.ValidateAgainst(doc, base)
	if v.opts.FailFast && HasErrors(issues) {
		return issues
	}

	for _, url := range doc.Profiles() {
		p := v.reg.ProfileByURL(url)
		if p == nil {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Code:     CodeUnknownProfile,
				Path:     "meta.profile",
				Message:  fmt.Sprintf("profile %q is not known to this server", url),
			})
			continue
		}
		issues = append(issues, v.ValidateAgainst(doc, p)...)
		if v.opts.FailFast && HasErrors(issues) {
			return issues
		}
	}
	return issues
}

// ValidateAgainst checks a document against one profile.
func (v *Validator) ValidateAgainst(doc fhir.Document, p *registry.CanonicalProfile) []Issue {
	r := &run{v: v, p: p}
	if err := r.walkObject("", "", map[string]interface{}(doc)); err != nil && err != errStop {
		r.issues = append(r.issues, Issue{
			Severity: SeverityError,
			Code:     CodeTypeMismatch,
			Message:  err.Error(),
		})
	}
	return r.issues
}

type run struct {
	v      *Validator
	p      *registry.CanonicalProfile
	issues []Issue
}

func (r *run) add(issue Issue) error {
	r.issues = append(r.issues, issue)
	if r.v.opts.FailFast && issue.IsError() {
		return errStop
	}
	return nil
}

// walkObject applies every child element declared under elemPath to the
// object's corresponding fields, then recurses into backbone children.
func (r *run) walkObject(elemPath, docPath string, obj map[string]interface{}) error {
	for _, ce := range r.p.Children(elemPath) {
		if err := r.checkElement(ce, docPath, obj); err != nil {
			return err
		}
	}
	return nil
}

// checkElement runs the rule ladder for one declared element against its
// values in the enclosing object.
func (r *run) checkElement(ce *registry.CanonicalElement, docPath string, obj map[string]interface{}) error {
	segment := lastSegment(ce.Path)

	var values []interface{}
	var fieldPath string
	if ce.IsChoice() {
		cv := fhir.ExtractChoice(obj, fhir.ChoiceBase(segment))
		if cv == nil {
			fieldPath = joinPath(docPath, segment)
		} else {
			fieldPath = joinPath(docPath, cv.Key)
			values = []interface{}{cv.Value}
			if !containsType(ce.TypeCodes(), cv.Type) {
				if err := r.add(Issue{
					Severity: SeverityError,
					Code:     CodeInvalidChoice,
					Path:     fieldPath,
					Message:  fmt.Sprintf("type %s is not allowed for %s", cv.Type, ce.Path),
				}); err != nil {
					return err
				}
			}
		}
	} else {
		fieldPath = joinPath(docPath, segment)
		if raw, ok := obj[segment]; ok {
			if arr, isArr := raw.([]interface{}); isArr {
				values = arr
			} else {
				values = []interface{}{raw}
			}
		}
	}

	if err := r.checkCardinality(ce, fieldPath, len(values)); err != nil {
		return err
	}

	for i, val := range values {
		itemPath := fieldPath
		if ce.IsArray() {
			itemPath = fmt.Sprintf("%s[%d]", fieldPath, i)
		}
		if err := r.checkValue(ce, itemPath, val); err != nil {
			return err
		}
	}

	if ce.Slicing != nil && len(ce.Slices) > 0 {
		if err := r.checkSlicing(ce, fieldPath, values); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) checkCardinality(ce *registry.CanonicalElement, path string, n int) error {
	if n < ce.Min {
		return r.add(Issue{
			Severity: SeverityError,
			Code:     CodeCardinalityMin,
			Path:     path,
			Message:  fmt.Sprintf("expected at least %d value(s), found %d", ce.Min, n),
		})
	}
	if ce.Max >= 0 && n > ce.Max {
		return r.add(Issue{
			Severity: SeverityError,
			Code:     CodeCardinalityMax,
			Path:     path,
			Message:  fmt.Sprintf("expected at most %d value(s), found %d", ce.Max, n),
		})
	}
	return nil
}

// checkValue applies type, fixed, pattern, reference target and constraint
// rules to one value, then descends into backbone children.
func (r *run) checkValue(ce *registry.CanonicalElement, path string, val interface{}) error {
	if !ce.IsChoice() && len(ce.Types) > 0 {
		inferred := fhir.InferType(val)
		if !typeAllowed(inferred, ce.TypeCodes()) {
			if err := r.add(Issue{
				Severity: SeverityError,
				Code:     CodeTypeMismatch,
				Path:     path,
				Message:  fmt.Sprintf("value of type %s does not fit any of %s", inferred, strings.Join(ce.TypeCodes(), ", ")),
			}); err != nil {
				return err
			}
		}
	}

	if ce.Fixed != nil && !fhir.DeepEqual(val, ce.Fixed) {
		if err := r.add(Issue{
			Severity: SeverityError,
			Code:     CodeFixedMismatch,
			Path:     path,
			Message:  fmt.Sprintf("value must equal the fixed %s", ce.FixedType),
		}); err != nil {
			return err
		}
	}
	if ce.Pattern != nil && !patternMatches(ce.Pattern, val) {
		if err := r.add(Issue{
			Severity: SeverityError,
			Code:     CodePatternMismatch,
			Path:     path,
			Message:  fmt.Sprintf("value does not match the declared %s pattern", ce.PatternType),
		}); err != nil {
			return err
		}
	}

	if err := r.checkReference(ce, path, val); err != nil {
		return err
	}
	if err := r.checkConstraints(ce, path, val); err != nil {
		return err
	}

	if m, ok := val.(map[string]interface{}); ok && len(r.p.Children(ce.Path)) > 0 {
		return r.walkObject(ce.Path, path, m)
	}
	return nil
}

// checkReference verifies that a reference value points at one of the
// declared target types. URN and fragment references cannot be resolved and
// only warn.
func (r *run) checkReference(ce *registry.CanonicalElement, path string, val interface{}) error {
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil
	}
	ref, ok := m["reference"].(string)
	if !ok || ref == "" {
		return nil
	}

	var targets []string
	declared := false
	for _, t := range ce.Types {
		if t.Code != fhir.TypeReference {
			continue
		}
		declared = true
		for _, url := range t.TargetProfile {
			targets = append(targets, profileTypeName(url))
		}
	}
	if !declared {
		return nil
	}

	targetType, _, parsed := fhir.ParseReference(ref)
	if !parsed {
		return r.add(Issue{
			Severity: SeverityWarning,
			Code:     CodeInvalidReference,
			Path:     path,
			Message:  fmt.Sprintf("reference %q cannot be resolved to a local target", ref),
		})
	}
	if len(targets) == 0 || containsType(targets, "Resource") || containsType(targets, "Any") {
		return nil
	}
	if !containsType(targets, targetType) {
		return r.add(Issue{
			Severity: SeverityError,
			Code:     CodeInvalidReference,
			Path:     path,
			Message:  fmt.Sprintf("reference to %s is not allowed; expected one of %s", targetType, strings.Join(targets, ", ")),
		})
	}
	return nil
}

// checkConstraints evaluates the element's FHIRPath invariants with the value
// as the root. A single boolean false fails; anything else passes, since the
// evaluator only covers the navigational subset of the language.
func (r *run) checkConstraints(ce *registry.CanonicalElement, path string, val interface{}) error {
	if len(ce.Constraints) == 0 {
		return nil
	}
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil
	}
	for _, c := range ce.Constraints {
		if c.Expression == "" {
			continue
		}
		results := fhirpath.Collect(r.v.eval.Evaluate(c.Expression, m))
		if len(results) != 1 {
			continue
		}
		b, isBool := results[0].(bool)
		if !isBool || b {
			continue
		}
		severity := SeverityError
		if c.Severity == "warning" {
			severity = SeverityWarning
		}
		if err := r.add(Issue{
			Severity:    severity,
			Code:        CodeConstraint,
			Path:        path,
			Message:     c.Human,
			Diagnostics: c.Key,
		}); err != nil {
			return err
		}
	}
	return nil
}

// patternMatches reports whether value carries pattern as a subset: every
// pattern key present with a matching sub-value, array pattern entries each
// matched by some value entry.
func patternMatches(pattern, value interface{}) bool {
	switch pv := pattern.(type) {
	case map[string]interface{}:
		vm, ok := value.(map[string]interface{})
		if !ok {
			return false
		}
		for k, sub := range pv {
			got, ok := vm[k]
			if !ok || !patternMatches(sub, got) {
				return false
			}
		}
		return true
	case []interface{}:
		va, ok := value.([]interface{})
		if !ok {
			return false
		}
		for _, sub := range pv {
			matched := false
			for _, item := range va {
				if patternMatches(sub, item) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
		return true
	default:
		return fhir.DeepEqual(pattern, value)
	}
}

// typeAllowed reports whether an inferred type fits any declared type code.
func typeAllowed(inferred string, declared []string) bool {
	for _, d := range declared {
		if fhir.TypeAssignable(inferred, d) {
			return true
		}
	}
	return false
}

func containsType(list []string, t string) bool {
	for _, c := range list {
		if c == t {
			return true
		}
	}
	return false
}

// profileTypeName extracts the type a canonical StructureDefinition URL
// names.
func profileTypeName(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}
