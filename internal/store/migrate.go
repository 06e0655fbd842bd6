package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// migrationLedgerSQL creates the tracking table. It is plain-ANSI enough to
// run unmodified on both backends.
const migrationLedgerSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TEXT NOT NULL
);`

type migrationFile struct {
	version int
	name    string
	sql     string
}

func (s *Store) migrationFS() (embed.FS, string) {
	if s.Backend == BackendPostgres {
		return postgresMigrations, "migrations/postgres"
	}
	return sqliteMigrations, "migrations/sqlite"
}

func (s *Store) loadMigrations() ([]migrationFile, error) {
	fsys, dir := s.migrationFS()
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir: %w", err)
	}

	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var version int
		var name string
		if _, err := fmt.Sscanf(e.Name(), "%d_", &version); err != nil {
			return nil, fmt.Errorf("migration file %q does not start with a numeric version", e.Name())
		}
		name = e.Name()
		contents, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %q: %w", e.Name(), err)
		}
		files = append(files, migrationFile{version: version, name: name, sql: string(contents)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// Migrate applies every pending numbered migration file exactly once, each
// wrapped in its own transaction (spec §4.1: "Failure of any file aborts
// the migration; partial application is forbidden").
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, migrationLedgerSQL); err != nil {
		return fmt.Errorf("creating migration ledger: %w", err)
	}

	files, err := s.loadMigrations()
	if err != nil {
		return err
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if applied[f.version] {
			continue
		}
		if err := s.applyOne(ctx, f); err != nil {
			return fmt.Errorf("applying migration %s: %w", f.name, err)
		}
	}
	return nil
}

// MigrationStatusRow describes one migration file's applied state, for the
// "migrate status" CLI command.
type MigrationStatusRow struct {
	Version int
	Name    string
	Applied bool
}

// MigrationStatus reports every known migration file and whether it has
// been applied to this database.
func (s *Store) MigrationStatus(ctx context.Context) ([]MigrationStatusRow, error) {
	if _, err := s.DB.ExecContext(ctx, migrationLedgerSQL); err != nil {
		return nil, fmt.Errorf("creating migration ledger: %w", err)
	}

	files, err := s.loadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]MigrationStatusRow, 0, len(files))
	for _, f := range files {
		rows = append(rows, MigrationStatusRow{Version: f.version, Name: f.name, Applied: applied[f.version]})
	}
	return rows, nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.DB.QueryContext(ctx, s.Rebind(`SELECT version FROM schema_migrations`))
	if err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	defer rows.Close()

	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *Store) applyOne(ctx context.Context, f migrationFile) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := execMultiStatement(ctx, tx, f.sql); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		s.Rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
		f.version, f.name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// execMultiStatement runs sql, which may contain one statement or several.
// Neither modernc.org/sqlite nor pgx guarantee multi-statement Exec, so
// migration files are split on top-level ";\n" boundaries and run one at a
// time within the caller's transaction.
func execMultiStatement(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range splitStatements(script) {
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing statement %q: %w", truncate(stmt, 80), err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	var cur []byte
	for i := 0; i < len(script); i++ {
		c := script[i]
		cur = append(cur, c)
		if c == ';' {
			out = append(out, trimSQL(string(cur)))
			cur = nil
		}
	}
	if len(trimSQL(string(cur))) > 0 {
		out = append(out, trimSQL(string(cur)))
	}
	return out
}

func trimSQL(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceOrSemi(s[start]) {
		start++
	}
	for end > start && isSpaceOrSemi(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceOrSemi(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r' || b == ';'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
