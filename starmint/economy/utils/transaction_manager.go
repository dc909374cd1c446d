package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ErrTxConflict is returned from inside a transaction function when a
// conditional update lost a race. The whole attempt is retried.
var ErrTxConflict = errors.New("concurrent update detected")

// TransactionOptions configures transaction behavior
type TransactionOptions struct {
	IsolationLevel sql.IsolationLevel
	Timeout        time.Duration
	MaxRetries     int
	// RetryWindow keeps retrying lost races past MaxRetries until this much
	// time has passed since the first attempt. Zero disables it.
	RetryWindow time.Duration
}

// StandardTransactionOptions returns default transaction options
func StandardTransactionOptions() *TransactionOptions {
	return &TransactionOptions{
		IsolationLevel: sql.LevelReadCommitted,
		Timeout:        DefaultTxTimeout,
		MaxRetries:     1,
	}
}

// SerializableTransactionOptions returns serializable isolation level options
// for bid placement, finalization and schedule transitions.
func SerializableTransactionOptions() *TransactionOptions {
	return &TransactionOptions{
		IsolationLevel: sql.LevelSerializable,
		Timeout:        DefaultTxTimeout,
		MaxRetries:     MaxTxRetries,
	}
}

// BidTransactionOptions returns serializable options that keep retrying lost
// races for up to DefaultTxTimeout, so a valid bid under contention either
// commits or is judged against the committed value.
func BidTransactionOptions() *TransactionOptions {
	opts := SerializableTransactionOptions()
	opts.RetryWindow = DefaultTxTimeout
	return opts
}

// TransactionManager is the single transaction boundary used by every engine
// that mutates shared state.
type TransactionManager struct {
	db *bun.DB
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *bun.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// DB returns the underlying database handle.
func (tm *TransactionManager) DB() *bun.DB {
	return tm.db
}

// WithTransaction runs fn inside a transaction. Serialization failures and
// ErrTxConflict re-run fn from scratch so it re-reads committed state. Domain
// errors are returned unchanged; anything else comes back as OperationFailed.
func (tm *TransactionManager) WithTransaction(ctx context.Context, opts *TransactionOptions, fn func(context.Context, bun.Tx) error) error {
	if opts == nil {
		opts = StandardTransactionOptions()
	}
	attempts := max(opts.MaxRetries, 1)
	start := time.Now()

	var err error
	for attempt := 1; ; attempt++ {
		err = tm.runOnce(ctx, opts, fn)
		if err == nil || !IsRetryable(err) {
			break
		}
		if attempt >= attempts && (opts.RetryWindow <= 0 || time.Since(start) >= opts.RetryWindow) {
			break
		}
		slog.Debug("Retrying transaction",
			slog.String("type", "db"),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if !sleepCtx(ctx, retryDelay(attempt)) {
			break
		}
	}
	return AsEconomyError(err)
}

func (tm *TransactionManager) runOnce(ctx context.Context, opts *TransactionOptions, fn func(context.Context, bun.Tx) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tx, err := tm.db.BeginTx(timeoutCtx, tm.txOptions(opts))
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(timeoutCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SQLite has a single writer and rejects isolation levels, so only Postgres
// gets explicit options.
func (tm *TransactionManager) txOptions(opts *TransactionOptions) *sql.TxOptions {
	if tm.db.Dialect().Name() != dialect.PG {
		return nil
	}
	return &sql.TxOptions{Isolation: opts.IsolationLevel}
}

// retryDelay grows linearly with the attempt number, capped at MaxTxRetryDelay.
func retryDelay(attempt int) time.Duration {
	return min(time.Duration(attempt)*TxRetryDelayStep, MaxTxRetryDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// pgFieldError is satisfied by pgdriver.Error and by anything else that
// exposes Postgres ErrorResponse fields.
type pgFieldError interface {
	error
	Field(k byte) string
}

var _ pgFieldError = pgdriver.Error{}

// IsRetryable reports whether err is a lost race that warrants re-running the
// transaction: an ErrTxConflict or a Postgres serialization/deadlock failure.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTxConflict) {
		return true
	}
	var pgErr pgFieldError
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case "40001", "40P01":
			return true
		}
	}
	return false
}
