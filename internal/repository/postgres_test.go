package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapPgError(t *testing.T) {
	plain := errors.New("connection reset")
	fk := &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}

	tests := []struct {
		name     string
		in       error
		conflict bool
		notFound bool
		same     bool
	}{
		{name: "nil", in: nil},
		{name: "no rows", in: pgx.ErrNoRows, notFound: true},
		{name: "wrapped no rows", in: fmt.Errorf("scan session: %w", pgx.ErrNoRows), notFound: true},
		{name: "unique violation", in: &pgconn.PgError{Code: pgUniqueViolation, Message: "duplicate key"}, conflict: true},
		{name: "serialization failure", in: &pgconn.PgError{Code: pgSerializationFailure, Message: "could not serialize access"}, conflict: true},
		{name: "deadlock", in: &pgconn.PgError{Code: pgDeadlockDetected, Message: "deadlock detected"}, conflict: true},
		{name: "wrapped serialization failure", in: fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgSerializationFailure}), conflict: true},
		{name: "other pg code", in: fk, same: true},
		{name: "plain error", in: plain, same: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mapPgError(tc.in)

			switch {
			case tc.in == nil:
				assert.NoError(t, got)
			case tc.notFound:
				assert.ErrorIs(t, got, ErrNotFound)
				assert.NotErrorIs(t, got, ErrConflict)
			case tc.conflict:
				assert.ErrorIs(t, got, ErrConflict)
				var pgErr *pgconn.PgError
				assert.False(t, errors.As(got, &pgErr), "the driver error is flattened into the message")
			case tc.same:
				assert.Same(t, tc.in, got)
				assert.NotErrorIs(t, got, ErrConflict)
				assert.NotErrorIs(t, got, ErrNotFound)
			}
		})
	}
}

func TestMapPgError_KeepsServerMessage(t *testing.T) {
	err := mapPgError(&pgconn.PgError{Code: pgUniqueViolation, Message: "duplicate key value violates unique constraint"})
	assert.EqualError(t, err, ErrConflict.Error()+": duplicate key value violates unique constraint")
}
