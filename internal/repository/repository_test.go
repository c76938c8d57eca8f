package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyError(t *testing.T) {
	assert.False(t, isDuplicateKeyError(nil))
	assert.True(t, isDuplicateKeyError(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKeyError(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isDuplicateKeyError(errors.New("duplicate key value violates unique constraint")))
	assert.False(t, isDuplicateKeyError(errors.New("connection refused")))
	assert.False(t, isDuplicateKeyError(&pgconn.PgError{Code: "40001"}))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"disk full", &pgconn.PgError{Code: "53100"}, false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryableError(tt.err))
		})
	}
}

func TestPagination(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		page := &Pagination{}
		assert.Equal(t, 0, page.Offset())
		assert.Equal(t, 20, page.Limit())
	})

	t.Run("with values", func(t *testing.T) {
		page := &Pagination{Page: 3, PageSize: 10}
		assert.Equal(t, 20, page.Offset())
		assert.Equal(t, 10, page.Limit())
	})

	t.Run("max limit enforced", func(t *testing.T) {
		page := &Pagination{Page: 1, PageSize: 500}
		assert.Equal(t, 100, page.Limit())
	})
}
