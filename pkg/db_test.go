package pkg

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolationError(t *testing.T) {
	uniqueViolation := &pgconn.PgError{
		Code:           "23505",
		Message:        `duplicate key value violates unique constraint "account_pkey"`,
		ConstraintName: "account_pkey",
	}

	assert.True(t, IsUniqueViolationError(uniqueViolation))
	// wrapped errors still match
	assert.True(t, IsUniqueViolationError(fmt.Errorf("insert account: %w", uniqueViolation)))

	assert.False(t, IsUniqueViolationError(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolationError(errors.New("duplicate key value")))
	assert.False(t, IsUniqueViolationError(nil))
}
