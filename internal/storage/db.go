package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gridline/extractor/internal/config"
)

// DB bundles the shared connection pool with its dialect. Every service
// reaches the database through one of these; dynamic DDL and inserts issued
// here are visible to all of them.
type DB struct {
	pool    *sql.DB
	dialect Dialect
}

// Open opens the pool for the configured driver and applies the pool limits.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	pool, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	return &DB{pool: pool, dialect: NewDialect(cfg.Driver)}, nil
}

// Wrap adopts an existing pool. Used by tests that construct their own
// connection (sqlmock, temp-file SQLite).
func Wrap(pool *sql.DB, driver string) *DB {
	return &DB{pool: pool, dialect: NewDialect(driver)}
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.pool.Close()
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Pool exposes the raw pool for callers that need it (health checks).
func (db *DB) Pool() *sql.DB {
	return db.pool
}

// Exec runs a statement written with ? placeholders.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.pool.ExecContext(ctx, db.dialect.Rebind(query), args...)
}

// Query runs a query written with ? placeholders.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.pool.QueryContext(ctx, db.dialect.Rebind(query), args...)
}

// QueryRow runs a single-row query written with ? placeholders.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.pool.QueryRowContext(ctx, db.dialect.Rebind(query), args...)
}

// InsertID runs an INSERT and returns the generated surrogate id. SQLite
// reports it through LastInsertId; PostgreSQL needs RETURNING.
func (db *DB) InsertID(ctx context.Context, query string, args ...any) (int64, error) {
	if db.dialect.IsPostgres() {
		var id int64
		err := db.pool.QueryRowContext(ctx, db.dialect.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}

	res, err := db.pool.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TableExists reports whether a table is present in the current schema.
func (db *DB) TableExists(ctx context.Context, table string) (bool, error) {
	var query string
	if db.dialect.IsPostgres() {
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_name = ?`
	} else {
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}

	var n int
	if err := db.QueryRow(ctx, query, table).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// TableColumns returns the column names of a table in definition order.
func (db *DB) TableColumns(ctx context.Context, table string) ([]string, error) {
	if db.dialect.IsPostgres() {
		rows, err := db.Query(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_schema = 'public' AND table_name = ? ORDER BY ordinal_position`,
			table)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var cols []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, err
			}
			cols = append(cols, name)
		}
		return cols, rows.Err()
	}

	// PRAGMA cannot take bind parameters; table names here are generated,
	// never user input.
	rows, err := db.pool.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// IsUniqueViolation reports whether an error came from a unique constraint.
// Matched on message text, which holds for both drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
