package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/starmint/starmint/starmint/database/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
	schemaVersion        = 1 // bump when tables or indexes change

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DBConfig struct {
	Driver       string `toml:"driver" env:"DRIVER"`
	Host         string `toml:"host" env:"HOST"`
	Port         int    `toml:"port" env:"PORT"`
	User         string `toml:"user" env:"USER"`
	Password     string `toml:"password" env:"PASSWORD"`
	Database     string `toml:"database" env:"NAME"`
	SSLMode      string `toml:"ssl_mode" env:"SSLMODE"`
	PoolSize     int    `toml:"pool_size" env:"POOL_SIZE"`
	MaxIdleConns int    `toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxLifetime  int    `toml:"max_lifetime" env:"MAX_LIFETIME"`
	// Path is the SQLite database file; ":memory:" keeps it in process.
	Path string `toml:"path" env:"PATH"`
}

// DB holds the bun handle and, on Postgres, the pgx pool used for health
// checks.
type DB struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

// Open connects with whichever driver cfg names.
func Open(ctx context.Context, cfg DBConfig) (*DB, error) {
	if cfg.Driver == DriverSQLite {
		return NewSQLite(cfg.Path)
	}
	return New(ctx, cfg)
}

// New connects to Postgres, retrying the initial dial.
func New(ctx context.Context, cfg DBConfig) (*DB, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var conn net.Conn
	var err error
	for i := 0; i < defaultMaxRetries; i++ {
		conn, err = net.DialTimeout("tcp", addr, defaultConnTimeout)
		if err == nil {
			break
		}
		slog.Warn("Database not reachable, retrying",
			slog.String("type", "db"),
			slog.String("addr", addr),
			slog.Int("attempt", i+1))
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", defaultMaxRetries, err)
	}
	conn.Close()

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(cfg.MaxLifetime) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(buildConnString(cfg))))
	if cfg.PoolSize > 0 {
		sqldb.SetMaxOpenConns(cfg.PoolSize)
	}
	return &DB{pool: pool, bunDB: bun.NewDB(sqldb, pgdialect.New())}, nil
}

func buildConnString(cfg DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = os.Getenv("PG_SSLMODE")
	}
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=5",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslMode,
	)
}

// NewSQLite opens a single-connection SQLite database. One connection keeps
// an in-memory database alive and serializes writers.
func NewSQLite(path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	return &DB{bunDB: bun.NewDB(sqldb, sqlitedialect.New())}, nil
}

// FromBun wraps an existing bun handle.
func FromBun(bunDB *bun.DB) *DB {
	return &DB{bunDB: bunDB}
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func (db *DB) GetPool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
	if db.bunDB != nil {
		db.bunDB.Close()
	}
}

// Ping verifies every open connection is working.
func (db *DB) Ping(ctx context.Context) error {
	if db.pool != nil {
		if err := db.pool.Ping(ctx); err != nil {
			return fmt.Errorf("pgxpool ping failed: %w", err)
		}
	}
	if err := db.bunDB.PingContext(ctx); err != nil {
		return fmt.Errorf("bun ping failed: %w", err)
	}
	return nil
}

type appMeta struct {
	bun.BaseModel `bun:"table:app_meta"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// InitializeSchema creates all tables and indexes, and the schedule state
// row. It is safe to run repeatedly.
func (db *DB) InitializeSchema(ctx context.Context) error {
	if v, err := db.getAppMeta(ctx, "schema_version"); err == nil && v == strconv.Itoa(schemaVersion) {
		slog.Info("Schema up-to-date, skipping initialization",
			slog.String("type", "db"),
			slog.Int("schema_version", schemaVersion))
		return nil
	}

	tables := []any{
		(*appMeta)(nil),
		(*models.Collectible)(nil),
		(*models.Series)(nil),
		(*models.Phase)(nil),
		(*models.ScheduleState)(nil),
		(*models.Auction)(nil),
		(*models.AuctionBid)(nil),
		(*models.OwnershipHistory)(nil),
		(*models.PriceHistory)(nil),
	}
	for _, model := range tables {
		if _, err := db.bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_collectibles_score ON collectibles(score DESC, id ASC)",
		"CREATE INDEX IF NOT EXISTS idx_collectibles_tier ON collectibles(tier, tier_rank)",
		"CREATE INDEX IF NOT EXISTS idx_collectibles_status ON collectibles(status)",
		"CREATE INDEX IF NOT EXISTS idx_series_status ON series(status, series_number)",
		"CREATE INDEX IF NOT EXISTS idx_auctions_status_end_time ON auctions(status, end_time)",
		"CREATE INDEX IF NOT EXISTS idx_auctions_collectible ON auctions(collectible_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_auction_bids_auction ON auction_bids(auction_id, amount_cents DESC)",
		"CREATE INDEX IF NOT EXISTS idx_auction_bids_bidder ON auction_bids(bidder_id)",
		"CREATE INDEX IF NOT EXISTS idx_ownership_history_collectible ON ownership_history(collectible_id)",
		"CREATE INDEX IF NOT EXISTS idx_price_history_collectible ON price_history(collectible_id, recorded_at)",
	}
	for _, idx := range indexes {
		if _, err := db.bunDB.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	state := &models.ScheduleState{ID: models.ScheduleStateID, UpdatedAt: time.Now().UTC()}
	if _, err := db.bunDB.NewInsert().Model(state).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("failed to seed schedule state: %w", err)
	}

	if err := db.setAppMeta(ctx, "schema_version", strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	slog.Info("Schema initialized",
		slog.String("type", "db"),
		slog.String("dialect", dialectName(db.bunDB)),
		slog.Int("tables", len(tables)),
		slog.Int("indexes", len(indexes)))
	return nil
}

func (db *DB) getAppMeta(ctx context.Context, key string) (string, error) {
	meta := new(appMeta)
	if err := db.bunDB.NewSelect().Model(meta).Where("key = ?", key).Scan(ctx); err != nil {
		return "", err
	}
	return meta.Value, nil
}

func (db *DB) setAppMeta(ctx context.Context, key, value string) error {
	_, err := db.bunDB.NewInsert().
		Model(&appMeta{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

func dialectName(db *bun.DB) string {
	if db.Dialect().Name() == dialect.PG {
		return DriverPostgres
	}
	return DriverSQLite
}
