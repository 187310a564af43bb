// Package migrate keeps the risk schema in step with the binary. Migrations
// are versioned NNNN_name.up.sql / NNNN_name.down.sql pairs, seeds are plain
// .sql files applied once per database.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

var (
	// ErrNothingToRollBack is returned by Down on a fresh database.
	ErrNothingToRollBack = errors.New("migrate: no migrations applied")
	// ErrBadFileName is returned for migration files without a numeric version prefix.
	ErrBadFileName = errors.New("migrate: migration file must be named NNNN_name.up.sql")
)

// Migration describes one schema version and whether it has been applied.
type Migration struct {
	Version   int
	Name      string
	File      string
	AppliedAt *time.Time
}

// Applied reports whether the migration is recorded in the database.
func (m Migration) Applied() bool { return m.AppliedAt != nil }

func (m Migration) String() string {
	state := "pending"
	if m.AppliedAt != nil {
		state = "applied " + m.AppliedAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%04d %-24s %s", m.Version, m.Name, state)
}

// Manager applies migrations and seeds read from a file system.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	logger          *zap.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithLogger reports each applied or rolled back file.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager. A nil file system disables that set.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending migration in version order and returns how many ran.
func (m *Manager) Up(ctx context.Context) (int, error) {
	plan, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	for _, mig := range plan {
		if mig.Applied() || mig.File == "" {
			continue
		}
		if err := m.runFile(ctx, m.migrations, mig.File); err != nil {
			return n, fmt.Errorf("apply migration %04d_%s: %w", mig.Version, mig.Name, err)
		}
		if err := m.record(ctx, m.migrationsTable, mig.File); err != nil {
			return n, err
		}
		m.logger.Info("migration applied", zap.Int("version", mig.Version), zap.String("name", mig.Name))
		n++
	}
	return n, nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingToRollBack
	}
	last := applied[len(applied)-1].name
	downPath := strings.TrimSuffix(last, upSuffix) + downSuffix
	if m.migrations == nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if _, err := fs.Stat(m.migrations, downPath); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.runFile(ctx, m.migrations, downPath); err != nil {
		return fmt.Errorf("roll back %s: %w", last, err)
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
		return err
	}
	m.logger.Info("migration rolled back", zap.String("file", last))
	return nil
}

// Status lists every known schema version, embedded or recorded, in version
// order. Versions recorded by a newer binary appear without a File.
func (m *Manager) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	files, err := listFiles(m.migrations, upSuffix)
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}

	byFile := make(map[string]*Migration, len(files))
	out := make([]Migration, 0, len(files))
	for _, f := range files {
		v, name, err := parseVersion(f)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: v, Name: name, File: f})
	}
	for i := range out {
		byFile[out[i].File] = &out[i]
	}
	for _, rec := range applied {
		at := rec.at
		if mig, ok := byFile[rec.name]; ok {
			mig.AppliedAt = &at
			continue
		}
		v, name, err := parseVersion(rec.name)
		if err != nil {
			v, name = 0, strings.TrimSuffix(rec.name, upSuffix)
		}
		out = append(out, Migration{Version: v, Name: name, AppliedAt: &at})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Seed applies seed files that have not run against this database yet.
func (m *Manager) Seed(ctx context.Context) (int, error) {
	if err := m.ensureTables(ctx); err != nil {
		return 0, err
	}
	files, err := listFiles(m.seeds, ".sql")
	if err != nil {
		return 0, err
	}
	done, err := m.applied(ctx, m.seedsTable)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(done))
	for _, rec := range done {
		seen[rec.name] = true
	}
	var n int
	for _, f := range files {
		if seen[f] {
			continue
		}
		if err := m.runFile(ctx, m.seeds, f); err != nil {
			return n, fmt.Errorf("apply seed %s: %w", f, err)
		}
		if err := m.record(ctx, m.seedsTable, f); err != nil {
			return n, err
		}
		m.logger.Info("seed applied", zap.String("file", f))
		n++
	}
	return n, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	return nil
}

// runFile executes every statement of one file in a single transaction.
func (m *Manager) runFile(ctx context.Context, fsys fs.FS, path string) error {
	raw, err := fs.ReadFile(fsys, path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) record(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

type appliedFile struct {
	name string
	at   time.Time
}

func (m *Manager) applied(ctx context.Context, table string) ([]appliedFile, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []appliedFile
	for rows.Next() {
		var rec appliedFile
		if err := rows.Scan(&rec.name, &rec.at); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// listFiles returns the top-level files of fsys ending in suffix, sorted by name.
func listFiles(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// parseVersion splits "0003_scores.up.sql" into 3 and "scores".
func parseVersion(file string) (int, string, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(file, upSuffix), downSuffix)
	num, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("%w: %s", ErrBadFileName, file)
	}
	v, err := strconv.Atoi(num)
	if err != nil || v <= 0 {
		return 0, "", fmt.Errorf("%w: %s", ErrBadFileName, file)
	}
	return v, name, nil
}

// splitStatements splits SQL on semicolons outside quotes and drops
// "--" line comments.
func splitStatements(src string) []string {
	var (
		stmts     []string
		current   strings.Builder
		inString  bool
		inComment bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
				current.WriteRune(r)
			}
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case !inString && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case !inString && r == ';':
			current.WriteRune(r)
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return stmts
}
