// Package storage opens the SQLite database behind the leaderboard and keeps
// its schema current.
package storage

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// sqliteParams apply to every pooled connection.
const sqliteParams = "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

// Open opens the database file at path, creating it and its directory when
// missing.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", path+sqliteParams)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return db, nil
}

// migration is one schema script.
type migration struct {
	name string
	body string
}

// ownsTx reports whether the script opens its own transaction or switches
// foreign keys off, neither of which works inside an outer transaction.
func (m migration) ownsTx() bool {
	flat := strings.Join(strings.Fields(strings.ToUpper(m.body)), " ")
	return strings.Contains(flat, "BEGIN TRANSACTION") ||
		strings.Contains(flat, "PRAGMA FOREIGN_KEYS=OFF") ||
		strings.Contains(flat, "PRAGMA FOREIGN_KEYS = OFF")
}

// execer is a *sql.DB or a *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// apply runs the script and records it, atomically unless the script
// manages its own transaction.
func (m migration) apply(db *sql.DB) (err error) {
	var ex execer = db
	var tx *sql.Tx
	if !m.ownsTx() {
		if tx, err = db.Begin(); err != nil {
			return fmt.Errorf("begin %s: %w", m.name, err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()
		ex = tx
	}

	if _, err = ex.Exec(m.body); err != nil {
		return fmt.Errorf("apply %s: %w", m.name, err)
	}
	if _, err = ex.Exec(`INSERT INTO _migrations (name) VALUES (?)`, m.name); err != nil {
		return fmt.Errorf("record %s: %w", m.name, err)
	}
	if tx != nil {
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", m.name, err)
		}
	}
	return nil
}

// Migrate brings the schema up to date with the *.sql scripts at the top of
// fsys. Scripts run once each, in name order; applied names are kept in the
// _migrations table.
func Migrate(db *sql.DB, fsys fs.FS) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}
	pending, err := pendingMigrations(db, fsys)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := m.apply(db); err != nil {
			return err
		}
		log.Info().Str("migration", m.name).Bool("ownTx", m.ownsTx()).Msg("migration applied")
	}
	return nil
}

// pendingMigrations lists the scripts in fsys not yet recorded, in order.
func pendingMigrations(db *sql.DB, fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	var out []migration
	for _, name := range names {
		var done bool
		if err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM _migrations WHERE name = ?)`, name).Scan(&done); err != nil {
			return nil, fmt.Errorf("check %s: %w", name, err)
		}
		if done {
			log.Debug().Str("migration", name).Msg("already applied")
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, migration{name: name, body: string(body)})
	}
	return out, nil
}
