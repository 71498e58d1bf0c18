package fhir

// OperationOutcome severity levels per FHIR R4.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes per FHIR R4.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeStructure    = "structure"
	IssueTypeRequired     = "required"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeConflict     = "conflict"
	IssueTypeProcessing   = "processing"
	IssueTypeNotSupported = "not-supported"
	IssueTypeBusinessRule = "business-rule"
	IssueTypeException    = "exception"
	IssueTypeTimeout      = "timeout"
	IssueTypeDuplicate    = "duplicate"
	IssueTypeDeleted      = "deleted"
	IssueTypeCodeInvalid  = "code-invalid"
	IssueTypeInformational = "informational"
)

// OperationOutcome is the FHIR resource used to report errors and warnings.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

// NewOperationOutcome builds a single-issue outcome.
func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

// OutcomeFromIssues wraps accumulated issues as an OperationOutcome.
func OutcomeFromIssues(issues []OperationOutcomeIssue) *OperationOutcome {
	return &OperationOutcome{ResourceType: "OperationOutcome", Issue: issues}
}

// OutcomeFromError maps any error to the outcome the REST layer serves.
// Unclassified errors render as a generic internal exception so storage
// details never leak to callers.
func OutcomeFromError(err error) *OperationOutcome {
	type outcomer interface{ Outcome() *OperationOutcome }
	if o, ok := err.(outcomer); ok {
		return o.Outcome()
	}
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, "internal server error")
}

// AllOK is the conventional all-clear outcome.
func AllOK() *OperationOutcome {
	return NewOperationOutcome(IssueSeverityInformation, IssueTypeInformational, "All OK")
}

// HasErrors reports whether the outcome contains error or fatal issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}
