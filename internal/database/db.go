package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	Postgres Dialect = "pgx"
	SQLite   Dialect = "sqlite"
)

// DB is a connection pool that knows which SQL dialect it talks to. Queries
// are written with Postgres style $N placeholders and passed through Rebind.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// NewDB opens the database named by uri. URIs starting with "sqlite:" open
// a SQLite file with the rest of the URI as DSN; anything else is handed to
// the pgx driver.
func NewDB(uri string) (*DB, error) {
	dialect, dsn := Postgres, uri
	if rest, ok := strings.CutPrefix(uri, "sqlite:"); ok {
		dialect, dsn = SQLite, strings.TrimPrefix(rest, "//")
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if dialect == SQLite {
		// a single writer avoids SQLITE_BUSY under concurrent requests
		db.SetMaxOpenConns(1)
	}

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

func CloseDB(ctx context.Context, db *DB) {
	if err := db.Close(); err != nil {
		slog.ErrorContext(ctx, "failed to close DB", "error", err)
	}
}

// Rebind rewrites $N placeholders into the dialect's syntax. SQLite gets
// ?N, which binds by the same ordinal.
func (db *DB) Rebind(query string) string {
	if db.Dialect != SQLite {
		return query
	}
	return Rebind(query)
}

func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Placeholders returns "$from, $from+1, ..." for n arguments.
func Placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}
