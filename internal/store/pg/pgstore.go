// Package pg implements the persistence collaborators on PostgreSQL through
// the pgx database/sql driver.
package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"awarerisk.org/internal/activity"
	"awarerisk.org/internal/directory"
	"awarerisk.org/internal/phishing"
	"awarerisk.org/internal/risk"
)

const pgErrUniqueViolation = "23505"

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB
}

var (
	_ phishing.Store   = (*Store)(nil)
	_ activity.Reader  = (*Store)(nil)
	_ directory.Reader = (*Store)(nil)
	_ risk.ScoreStore  = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

// placeholders renders $start..$start+n-1 for an IN list.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func stringArgs(prefix []any, values []string) []any {
	out := make([]any, 0, len(prefix)+len(values))
	out = append(out, prefix...)
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" limit %d", limit)
}
