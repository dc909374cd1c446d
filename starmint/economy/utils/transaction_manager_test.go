package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/starmint/starmint/starmint/database/dbtest"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// sqlStateError carries a Postgres SQLSTATE the way pgdriver.Error does.
type sqlStateError string

func (e sqlStateError) Error() string { return "ERROR #" + string(e) }

func (e sqlStateError) Field(k byte) string {
	if k == 'C' {
		return string(e)
	}
	return ""
}

func countCollectibles(t *testing.T, db *bun.DB) int {
	t.Helper()
	n, err := db.NewSelect().Model((*models.Collectible)(nil)).Count(context.Background())
	require.NoError(t, err)
	return n
}

func Test_WithTransaction_RetriesConflict(t *testing.T) {
	tm := NewTransactionManager(dbtest.Open(t))

	calls := 0
	err := tm.WithTransaction(context.Background(), SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		calls++
		if calls == 1 {
			return ErrTxConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func Test_WithTransaction_RollsBackOnError(t *testing.T) {
	db := dbtest.Open(t)
	tm := NewTransactionManager(db)

	err := tm.WithTransaction(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		for id := int64(1); id <= 2; id++ {
			c := &models.Collectible{ID: id, Name: fmt.Sprintf("Star %d", id), Category: "star"}
			if _, err := tx.NewInsert().Model(c).Exec(ctx); err != nil {
				return err
			}
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Equal(t, CodeOperationFailed, CodeOf(err))
	assert.Equal(t, 0, countCollectibles(t, db))
}

func Test_WithTransaction_DomainErrorPassesThrough(t *testing.T) {
	db := dbtest.Open(t)
	tm := NewTransactionManager(db)

	err := tm.WithTransaction(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		c := &models.Collectible{ID: 1, Name: "Vega", Category: "star"}
		if _, err := tx.NewInsert().Model(c).Exec(ctx); err != nil {
			return err
		}
		return Validation(CodeBidTooLow, "bid must be at least %d cents", 10500)
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, CodeBidTooLow, CodeOf(err))
	assert.Equal(t, 0, countCollectibles(t, db))
}

func Test_WithTransaction_RetriesExhausted(t *testing.T) {
	tm := NewTransactionManager(dbtest.Open(t))

	calls := 0
	err := tm.WithTransaction(context.Background(), SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		calls++
		return ErrTxConflict
	})
	assert.Equal(t, MaxTxRetries, calls)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Equal(t, CodeOperationFailed, CodeOf(err))
}

func Test_WithTransaction_StandardDoesNotRetry(t *testing.T) {
	tm := NewTransactionManager(dbtest.Open(t))

	calls := 0
	err := tm.WithTransaction(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		calls++
		return ErrTxConflict
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, CodeOperationFailed, CodeOf(err))
}

func Test_WithTransaction_RetryWindow(t *testing.T) {
	tm := NewTransactionManager(dbtest.Open(t))

	// Losing more races than MaxTxRetries still commits inside the window.
	calls := 0
	err := tm.WithTransaction(context.Background(), BidTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		calls++
		if calls <= MaxTxRetries+2 {
			return sqlStateError("40001")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, MaxTxRetries+3, calls)
}

func Test_WithTransaction_RetryWindowStopsOnCancel(t *testing.T) {
	tm := NewTransactionManager(dbtest.Open(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := tm.WithTransaction(ctx, BidTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		calls++
		if calls == MaxTxRetries+3 {
			cancel()
		}
		return ErrTxConflict
	})
	assert.Equal(t, MaxTxRetries+3, calls)
	assert.ErrorIs(t, err, ErrOperationFailed)
}

func Test_IsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "conflict", err: ErrTxConflict, want: true},
		{name: "wrapped conflict", err: fmt.Errorf("apply bid: %w", ErrTxConflict), want: true},
		{name: "serialization failure", err: sqlStateError("40001"), want: true},
		{name: "deadlock", err: fmt.Errorf("commit: %w", sqlStateError("40P01")), want: true},
		{name: "unique violation", err: sqlStateError("23505")},
		{name: "empty pgdriver error", err: pgdriver.Error{}},
		{name: "domain error", err: Conflict(CodeSelfOutbid, "bidder already holds the highest bid")},
		{name: "plain error", err: errors.New("boom")},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
