package repositories

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// BaseRepository provides common repository functionality. Every query method
// takes a bun.IDB so the same repository serves plain reads and reads inside
// an open transaction.
type BaseRepository struct {
	db *bun.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *bun.DB) *BaseRepository {
	return &BaseRepository{db: db}
}

// DB returns the repository's database handle for use outside transactions.
func (br *BaseRepository) DB() *bun.DB {
	return br.db
}

// HandleError maps sql.ErrNoRows to a NotFound economy error and wraps
// everything else with the failing operation.
func (br *BaseRepository) HandleError(operation, entity string, id any, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return utils.NotFound(entity, id)
	}
	return fmt.Errorf("failed to %s %s: %w", operation, entity, err)
}

// lockRow adds FOR UPDATE on dialects that support row locks. SQLite
// serializes writers at the database level instead.
func lockRow(idb bun.IDB, q *bun.SelectQuery) *bun.SelectQuery {
	if idb.Dialect().Name() == dialect.PG {
		return q.For("UPDATE")
	}
	return q
}
