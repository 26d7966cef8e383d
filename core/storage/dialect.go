package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/artpar/apiforge/core/schema"
)

// Dialect captures the SQL differences between storage engines.
type Dialect interface {
	// Name is the driver name passed to sql.Open.
	Name() string

	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// ColumnType returns the column type storing kind.
	ColumnType(kind schema.Kind) string

	// LikeOperator is the case-insensitive pattern match operator.
	LikeOperator() string

	// Columns lists the existing columns of table.
	Columns(ctx context.Context, q querier, table string) (map[string]bool, error)
}

// Quote quotes an identifier. Both engines accept double quotes, which
// also preserve the case of camelCase column names.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// SQLite is the dialect of github.com/mattn/go-sqlite3.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite3" }
func (SQLite) Placeholder(int) string { return "?" }
func (SQLite) LikeOperator() string { return "LIKE" }

func (SQLite) ColumnType(kind schema.Kind) string {
	switch kind {
	case schema.KindInteger, schema.KindBoolean:
		return "INTEGER"
	case schema.KindNumber, schema.KindMoney:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (SQLite) Columns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", Quote(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Postgres is the dialect of github.com/jackc/pgx/v5/stdlib.
type Postgres struct{}

func (Postgres) Name() string { return "pgx" }
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Postgres) LikeOperator() string { return "ILIKE" }

func (Postgres) ColumnType(kind schema.Kind) string {
	switch kind {
	case schema.KindInteger:
		return "BIGINT"
	case schema.KindBoolean:
		return "BOOLEAN"
	case schema.KindNumber, schema.KindMoney:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func (Postgres) Columns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1",
		table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// DialectFor returns the dialect of a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}
