package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database of driver and verifies the connection.
// SQLite file databases run in WAL mode with a busy timeout; in-memory
// SQLite databases are limited to one connection so every query sees the
// same database.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, nil, err
	}

	memory := false
	if _, ok := d.(SQLite); ok {
		memory = strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := sql.Open(d.Name(), dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, translate("connect", "", err)
	}
	return db, d, nil
}
