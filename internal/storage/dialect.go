package storage

import (
	"strconv"
	"strings"
)

// =============================================================================
// SQL DIALECT
// =============================================================================
// The store runs on embedded SQLite by default and on PostgreSQL when a DSN
// is configured. Query text is written once with ? placeholders and rebound
// per dialect; the few DDL fragments that differ live here.

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Dialect carries the driver-specific SQL fragments.
type Dialect struct {
	driver string
}

func NewDialect(driver string) Dialect {
	return Dialect{driver: driver}
}

func (d Dialect) Driver() string {
	return d.driver
}

func (d Dialect) IsPostgres() bool {
	return d.driver == DriverPostgres
}

// Rebind rewrites ? placeholders to $1..$N for PostgreSQL. Other drivers
// receive the query untouched.
func (d Dialect) Rebind(query string) string {
	if !d.IsPostgres() {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AutoIncrementPK is the id column definition for surrogate keys.
func (d Dialect) AutoIncrementPK() string {
	if d.IsPostgres() {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// TimestampType is the declared type for timestamp columns.
func (d Dialect) TimestampType() string {
	if d.IsPostgres() {
		return "TIMESTAMP"
	}
	return "DATETIME"
}

// QuoteIdent double-quotes an SQL identifier. Dynamic column names always go
// through this.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
