package pg_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/checkout/pkg/pg"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "subscription_records_buyer_id_key"})
	fk := &pgconn.PgError{Code: "23503"}
	serial := &pgconn.PgError{Code: "40001"}
	deadlock := &pgconn.PgError{Code: "40P01"}

	assert.True(t, pg.IsDuplicateKeyError(dup))
	assert.Equal(t, "subscription_records_buyer_id_key", pg.ConstraintName(dup))
	assert.False(t, pg.IsDuplicateKeyError(fk))
	assert.False(t, pg.IsDuplicateKeyError(nil))

	assert.True(t, pg.IsForeignKeyViolationError(fk))
	assert.True(t, pg.IsSerializationError(serial))
	assert.True(t, pg.IsSerializationError(deadlock))
	assert.False(t, pg.IsSerializationError(errors.New("plain")))

	assert.True(t, pg.IsNotFoundError(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(nil))
	assert.Empty(t, pg.ConstraintName(errors.New("plain")))
}
