package services

import (
	"errors"
	"fmt"

	"timetracker-backend/internal/repository"
)

// Custom errors

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

// TransientError is a store failure the caller may retry as-is.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("temporary storage failure: %v", e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// storeError translates what came back from a transaction into the service
// taxonomy. Service errors raised inside the transaction pass through.
func storeError(err error, notFound string) error {
	if err == nil {
		return nil
	}

	var (
		validation *ValidationError
		nf         *NotFoundError
		unauth     *UnauthorizedError
		conflict   *ConflictError
		transient  *TransientError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &nf), errors.As(err, &unauth),
		errors.As(err, &conflict), errors.As(err, &transient):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return &NotFoundError{Message: notFound}
	case errors.Is(err, repository.ErrConflict):
		return &ConflictError{Message: "timer was changed concurrently, please retry"}
	}
	// Timeouts, dropped connections and aborted transactions.
	return &TransientError{Err: err}
}
