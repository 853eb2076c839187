// Package sqlite provides SQLite-based persistent storage for the project
// catalog: deployed projects, their function projections, and deploy
// history. Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/cirrus-faas/cirrus/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/catalog.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "catalog.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			name        TEXT PRIMARY KEY,
			dir         TEXT NOT NULL,
			deployed_at INTEGER NOT NULL
		)`,

		// Read-only projection of each worker's function table, refreshed
		// on deploy.
		`CREATE TABLE IF NOT EXISTS functions (
			project     TEXT NOT NULL,
			name        TEXT NOT NULL,
			file_path   TEXT NOT NULL,
			entry       TEXT NOT NULL DEFAULT 'main',
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'registered',
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (project, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_functions_project ON functions(project)`,

		`CREATE TABLE IF NOT EXISTS deploy_history (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			project        TEXT NOT NULL,
			deployed_at    INTEGER NOT NULL,
			function_count INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_project ON deploy_history(project)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Projects ───────────────────────────────────────────────────────────────

// UpsertProject inserts or updates a project record.
func (d *DB) UpsertProject(p domain.Project) error {
	_, err := d.db.Exec(
		`INSERT INTO projects (name, dir, deployed_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			dir=excluded.dir,
			deployed_at=excluded.deployed_at`,
		p.Name, p.Dir, p.DeployedAt.Unix(),
	)
	return err
}

// GetProject retrieves a single project by name.
func (d *DB) GetProject(name string) (domain.Project, error) {
	var p domain.Project
	var deployedAt int64
	err := d.db.QueryRow(
		`SELECT name, dir, deployed_at FROM projects WHERE name = ?`, name,
	).Scan(&p.Name, &p.Dir, &deployedAt)
	if err == sql.ErrNoRows {
		return domain.Project{}, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, name)
	}
	if err != nil {
		return domain.Project{}, err
	}
	p.DeployedAt = time.Unix(deployedAt, 0).UTC()
	return p, nil
}

// ListProjects returns all deployed projects ordered by name.
func (d *DB) ListProjects() ([]domain.Project, error) {
	rows, err := d.db.Query(`SELECT name, dir, deployed_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		var deployedAt int64
		if err := rows.Scan(&p.Name, &p.Dir, &deployedAt); err != nil {
			return nil, err
		}
		p.DeployedAt = time.Unix(deployedAt, 0).UTC()
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project and its function projection.
func (d *DB) DeleteProject(name string) error {
	if _, err := d.db.Exec(`DELETE FROM functions WHERE project = ?`, name); err != nil {
		return err
	}
	result, err := d.db.Exec(`DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProjectNotFound, name)
	}
	return nil
}

// ─── Functions ──────────────────────────────────────────────────────────────

// ReplaceProjectFunctions swaps a project's function projection in one
// transaction.
func (d *DB) ReplaceProjectFunctions(project string, fns []domain.Function) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM functions WHERE project = ?`, project); err != nil {
		return err
	}
	for _, fn := range fns {
		entry := fn.Entry
		if entry == "" {
			entry = domain.DefaultEntry
		}
		if _, err := tx.Exec(
			`INSERT INTO functions (project, name, file_path, entry, description, status, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			project, fn.Name, fn.FilePath, entry, fn.Description,
			string(fn.Status), nullableUnix(fn.UpdatedAt).Int64,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListFunctions returns a project's function projection ordered by name.
func (d *DB) ListFunctions(project string) ([]domain.Function, error) {
	rows, err := d.db.Query(
		`SELECT project, name, file_path, entry, description, status, updated_at
		 FROM functions WHERE project = ? ORDER BY name`, project,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fns []domain.Function
	for rows.Next() {
		fn, err := scanFunction(rows)
		if err != nil {
			return nil, err
		}
		fns = append(fns, *fn)
	}
	return fns, rows.Err()
}

// GetFunction retrieves one function from the projection.
func (d *DB) GetFunction(project, name string) (*domain.Function, error) {
	row := d.db.QueryRow(
		`SELECT project, name, file_path, entry, description, status, updated_at
		 FROM functions WHERE project = ? AND name = ?`, project, name,
	)
	fn, err := scanFunction(row)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrFunctionNotFound, project, name)
	}
	return fn, nil
}

// ─── Deploy history ─────────────────────────────────────────────────────────

// RecordDeploy appends one deploy event.
func (d *DB) RecordDeploy(project string, functionCount int) error {
	_, err := d.db.Exec(
		`INSERT INTO deploy_history (project, deployed_at, function_count) VALUES (?, ?, ?)`,
		project, time.Now().Unix(), functionCount,
	)
	return err
}

// DeployHistory returns a project's most recent deploys, newest first.
func (d *DB) DeployHistory(project string, limit int) ([]domain.DeployEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(
		`SELECT project, deployed_at, function_count
		 FROM deploy_history WHERE project = ?
		 ORDER BY deployed_at DESC, id DESC LIMIT ?`, project, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.DeployEvent
	for rows.Next() {
		var ev domain.DeployEvent
		var at int64
		if err := rows.Scan(&ev.Project, &at, &ev.FunctionCount); err != nil {
			return nil, err
		}
		ev.DeployedAt = time.Unix(at, 0).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFunction(s scanner) (*domain.Function, error) {
	var fn domain.Function
	var status string
	var updatedAt int64

	err := s.Scan(&fn.ProjectName, &fn.Name, &fn.FilePath, &fn.Entry,
		&fn.Description, &status, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	fn.Status = domain.LoadStatus(status)
	if updatedAt > 0 {
		fn.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	}
	return &fn, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
