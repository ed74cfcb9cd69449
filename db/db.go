// Package db opens the run history database and keeps its schema current.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

var schemaFile = regexp.MustCompile(`^(\d{3})-(.+)\.sql$`)

// Open opens the history database: Turso when TURSO_DATABASE_URL is set,
// the SQLite file at path otherwise.
func Open(path string) (*sql.DB, error) {
	if url := os.Getenv("TURSO_DATABASE_URL"); url != "" {
		return openRemote(url, os.Getenv("TURSO_AUTH_TOKEN"))
	}
	return openFile(path)
}

func openRemote(url, token string) (*sql.DB, error) {
	dsn := url
	if token != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		dsn += sep + "authToken=" + token
	}
	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", url, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("reach history %s: %w", url, err)
	}
	slog.Info("history: using remote database", "url", url)
	return conn, nil
}

// Pragmas go in the DSN so every pooled connection gets them. Foreign keys
// are off by default in SQLite and cells and windows rely on them.
const filePragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(1000)"

func openFile(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", "file:"+path+"?"+filePragmas)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	slog.Info("history: using file database", "path", path)
	return conn, nil
}

type schemaStep struct {
	version int
	name    string
	file    string
}

// steps lists the embedded NNN-name.sql files in version order.
func steps() ([]schemaStep, error) {
	entries, err := fs.ReadDir(schemaFS, "migrations")
	if err != nil {
		return nil, err
	}
	var out []schemaStep
	for _, e := range entries {
		m := schemaFile.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		v, _ := strconv.Atoi(m[1])
		out = append(out, schemaStep{version: v, name: m[2], file: path.Join("migrations", e.Name())})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].version < out[b].version })
	return out, nil
}

// Migrate brings the schema up to the newest embedded version. Each step
// runs in its own transaction together with its schema_migrations row, so
// a failed step leaves the previous version in place.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := Version(ctx, conn)
	if err != nil {
		return err
	}
	all, err := steps()
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}
	for _, st := range all {
		if st.version <= current {
			continue
		}
		if err := apply(ctx, conn, st); err != nil {
			return fmt.Errorf("schema %03d-%s: %w", st.version, st.name, err)
		}
		slog.Info("history: schema applied", "version", st.version, "name", st.name)
	}
	return nil
}

func apply(ctx context.Context, conn *sql.DB, st schemaStep) error {
	body, err := schemaFS.ReadFile(st.file)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, st.version, st.name); err != nil {
		return err
	}
	return tx.Commit()
}

// Version reports the newest applied schema version, 0 for an empty
// database.
func Version(ctx context.Context, conn *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}
