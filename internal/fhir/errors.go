package fhir

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every error the engine surfaces. The set is closed; callers
// switch on it to pick an HTTP status and OperationOutcome shape.
type Kind int

const (
	KindInvalidSpec Kind = iota + 1
	KindInvalidResource
	KindResourceNotFound
	KindResourceGone
	KindVersionConflict
	KindPreconditionFailed
	KindInvalidSearchRequest
	KindTimeout
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidSpec:
		return "invalid-spec"
	case KindInvalidResource:
		return "invalid-resource"
	case KindResourceNotFound:
		return "not-found"
	case KindResourceGone:
		return "gone"
	case KindVersionConflict:
		return "version-conflict"
	case KindPreconditionFailed:
		return "precondition-failed"
	case KindInvalidSearchRequest:
		return "invalid-search"
	case KindTimeout:
		return "timeout"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// HTTPStatus maps a kind to its FHIR-conventional HTTP status. The REST layer
// upgrades VersionConflict to 412 when the request carried If-Match.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidSpec, KindInvalidResource, KindInvalidSearchRequest:
		return http.StatusBadRequest
	case KindResourceNotFound:
		return http.StatusNotFound
	case KindResourceGone:
		return http.StatusGone
	case KindVersionConflict:
		return http.StatusConflict
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// IssueType returns the OperationOutcome issue code for a kind.
func (k Kind) IssueType() string {
	switch k {
	case KindInvalidSpec, KindInvalidResource, KindInvalidSearchRequest:
		return IssueTypeInvalid
	case KindResourceNotFound:
		return IssueTypeNotFound
	case KindResourceGone:
		return IssueTypeDeleted
	case KindVersionConflict:
		return IssueTypeConflict
	case KindPreconditionFailed:
		return IssueTypeProcessing
	case KindTimeout:
		return IssueTypeTimeout
	}
	return IssueTypeException
}

// Error is the engine's error type. Message is safe to show to callers;
// validation failures additionally carry structured Issues.
type Error struct {
	Kind    Kind
	Message string
	Issues  []OperationOutcomeIssue
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Outcome renders the error as an OperationOutcome resource.
func (e *Error) Outcome() *OperationOutcome {
	if len(e.Issues) > 0 {
		return &OperationOutcome{ResourceType: "OperationOutcome", Issue: e.Issues}
	}
	severity := IssueSeverityError
	if e.Kind == KindInternal {
		severity = IssueSeverityFatal
	}
	return NewOperationOutcome(severity, e.Kind.IssueType(), e.Message)
}

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying cause.
func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotFound reports that no current row exists for (resourceType, id) in the
// caller's project. Cross-project reads use this, never Gone, so existence is
// not leaked across tenants.
func NotFound(resourceType, id string) *Error {
	return NewError(KindResourceNotFound, "%s/%s not found", resourceType, id)
}

// Gone reports that the current row exists but is a delete tombstone.
func Gone(resourceType, id string) *Error {
	return NewError(KindResourceGone, "%s/%s is deleted", resourceType, id)
}

// VersionConflict reports an ifMatch precondition that did not hold.
func VersionConflict(resourceType, id string) *Error {
	return NewError(KindVersionConflict, "%s/%s version does not match If-Match", resourceType, id)
}

// PreconditionFailed reports a conditional operation that matched an
// unexpected number of resources.
func PreconditionFailed(format string, args ...interface{}) *Error {
	return NewError(KindPreconditionFailed, format, args...)
}

// InvalidResource reports a document rejected by parsing or validation.
func InvalidResource(format string, args ...interface{}) *Error {
	return NewError(KindInvalidResource, format, args...)
}

// InvalidSearch reports a search URL that did not parse or used unknown syntax.
func InvalidSearch(format string, args ...interface{}) *Error {
	return NewError(KindInvalidSearchRequest, format, args...)
}

// InvalidSpec reports conflicting or malformed profile/parameter input to the
// planner or registries.
func InvalidSpec(format string, args ...interface{}) *Error {
	return NewError(KindInvalidSpec, format, args...)
}

// Internal classifies an unexpected storage or engine failure.
func Internal(cause error, format string, args ...interface{}) *Error {
	return WrapError(KindInternal, cause, format, args...)
}

// Timeout reports an operation that exceeded its deadline.
func Timeout(cause error) *Error {
	return WrapError(KindTimeout, cause, "operation deadline exceeded")
}

// KindOf extracts the Kind from any error in the chain, or KindInternal when
// the error was never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsNotFound reports whether err is a ResourceNotFound error.
func IsNotFound(err error) bool { return IsKind(err, KindResourceNotFound) }

// IsGone reports whether err is a ResourceGone error.
func IsGone(err error) bool { return IsKind(err, KindResourceGone) }
