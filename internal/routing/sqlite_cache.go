package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "modernc.org/sqlite"
)

const routeTable = "route_decisions"

// SQLiteCache stores decisions in an embedded SQLite database. Each store is
// a single upsert, so it scales past the whole-file rewrite of FileCache.
type SQLiteCache struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

// NewSQLiteCache opens (or creates) the database at path.
func NewSQLiteCache(ctx context.Context, path string, logger *slog.Logger) (*SQLiteCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open route cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	drv := entsql.OpenDB(dialect.SQLite, db)
	ddl := `CREATE TABLE IF NOT EXISTS ` + routeTable + ` (
		fingerprint TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		decision TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if err := drv.Exec(ctx, ddl, []any{}, nil); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("create route cache table: %w", err)
	}
	logger.Info("routing.cache.sqlite_opened", "path", path)
	return &SQLiteCache{drv: drv, logger: logger}, nil
}

func (c *SQLiteCache) Lookup(ctx context.Context, fingerprint string) (Decision, bool, error) {
	query, args := entsql.Dialect(dialect.SQLite).
		Select("decision").
		From(entsql.Table(routeTable)).
		Where(entsql.EQ("fingerprint", fingerprint)).
		Query()

	rows := &entsql.Rows{}
	if err := c.drv.Query(ctx, query, args, rows); err != nil {
		return Decision{}, false, fmt.Errorf("query route cache: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return Decision{}, false, rows.Err()
	}
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return Decision{}, false, fmt.Errorf("scan route decision: %w", err)
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		c.logger.Warn("routing.cache.bad_row", "fingerprint", fingerprint, "error", err)
		return Decision{}, false, nil
	}
	return d, true, nil
}

func (c *SQLiteCache) Store(ctx context.Context, fingerprint string, d Decision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode route decision: %w", err)
	}
	query, args := entsql.Dialect(dialect.SQLite).
		Insert(routeTable).
		Columns("fingerprint", "model", "decision", "updated_at").
		Values(fingerprint, d.Model, string(raw), time.Now().Unix()).
		OnConflict(
			entsql.ConflictColumns("fingerprint"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := c.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("upsert route decision: %w", err)
	}
	return nil
}

// Len reports the number of cached decisions.
func (c *SQLiteCache) Len(ctx context.Context) (int, error) {
	query, args := entsql.Dialect(dialect.SQLite).
		Select(entsql.Count("*")).
		From(entsql.Table(routeTable)).
		Query()
	rows := &entsql.Rows{}
	if err := c.drv.Query(ctx, query, args, rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

func (c *SQLiteCache) Close() error {
	return c.drv.Close()
}

// OpenCache picks a backend by name.
func OpenCache(ctx context.Context, backend, path string, logger *slog.Logger) (Cache, error) {
	switch backend {
	case "", "file":
		return NewFileCache(path, logger)
	case "sqlite":
		return NewSQLiteCache(ctx, path, logger)
	default:
		return nil, fmt.Errorf("unknown route cache backend %q", backend)
	}
}
