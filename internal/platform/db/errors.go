package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// Postgres error codes the storage layer reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// IsRetryable reports whether the error is a transient concurrency failure
// that a fresh transaction may resolve.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports a duplicate-key failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// Classify maps a low-level database error to the storage error taxonomy.
// Errors already carrying a kind pass through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var fe *fhir.Error
	if errors.As(err, &fe) {
		return err
	}
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fhir.Timeout(err)
	case IsUniqueViolation(err):
		// A duplicate version row means the optimistic protocol was
		// violated, not that the caller did anything wrong.
		return fhir.Internal(err, "duplicate key")
	default:
		return fhir.Internal(err, "database error")
	}
}
