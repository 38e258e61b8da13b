package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: system_features.code")))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsDuplicateKeyErr(nil))
}

func TestIsUnavailableErr(t *testing.T) {
	assert.True(t, IsUnavailableErr(&pgconn.PgError{Code: "08006"}))
	assert.True(t, IsUnavailableErr(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.False(t, IsUnavailableErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUnavailableErr(errors.New("syntax error")))
}
