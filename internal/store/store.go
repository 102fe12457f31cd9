// Package store owns the SQLite connection shared by every component and
// the versioned schema migrations each component registers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNewerSchema is returned when the database was last opened by a newer
// release than the running binary.
var ErrNewerSchema = errors.New("database was created by a newer version of Counsellor")

// DevVersion is the version reported by unreleased builds. It never blocks
// startup and never blocks a later release.
const DevVersion = "dev"

// Migration is one forward-only schema change for a component.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// SQLiteStore is the SQLite database backed by modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	migrateMu sync.Mutex
	bootstrap sync.Once
	bootErr   error
}

// connPragmas are issued once after opening. modernc.org/sqlite does not
// accept them as DSN parameters.
var connPragmas = []string{
	"journal_mode=WAL",
	"busy_timeout=5000",
	"synchronous=NORMAL",
	"foreign_keys=ON",
	"cache_size=-20000",
}

// New opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: SQLite has a single writer, and an in-memory
	// database would otherwise differ per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	for _, p := range connPragmas {
		if _, err := db.Exec("PRAGMA " + p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", p, err)
		}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// DB returns the underlying *sql.DB for direct queries.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the file the database was opened from.
func (s *SQLiteStore) Path() string { return s.path }

// Ping reports whether the database still answers. It doubles as the
// readiness probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Tx runs fn inside a transaction, committing when fn returns nil. fn's
// error is returned as is so callers can match sentinel errors.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Migrate applies the migrations of component that have not run yet, in
// Version order. Each migration commits on its own, so a failure leaves
// the earlier ones in place.
func (s *SQLiteStore) Migrate(ctx context.Context, component string, migrations []Migration) error {
	if err := s.ensureBookkeeping(ctx); err != nil {
		return err
	}

	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	applied, err := s.appliedVersions(ctx, component)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO _migrations (component, version, description) VALUES (?, ?, ?)`,
				component, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", component, m.Version, m.Description, err)
		}
	}
	return nil
}

// VacuumInto writes a consistent, compacted copy of the database to dest,
// which must not exist yet.
func (s *SQLiteStore) VacuumInto(ctx context.Context, dest string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("vacuum into %q: %w", dest, err)
	}
	return nil
}

// CheckVersion records the running release in the database and refuses to
// start when the database was last opened by a newer release.
func (s *SQLiteStore) CheckVersion(ctx context.Context, current string) error {
	if err := s.ensureBookkeeping(ctx); err != nil {
		return err
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'app_version'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.setMeta(ctx, "app_version", current)
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	if stored == DevVersion || current == DevVersion {
		return s.setMeta(ctx, "app_version", current)
	}
	switch semver.Compare(canonical(current), canonical(stored)) {
	case -1:
		return fmt.Errorf("%w: database=%s, binary=%s", ErrNewerSchema, stored, current)
	case 1:
		return s.setMeta(ctx, "app_version", current)
	}
	return nil
}

func (s *SQLiteStore) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func (s *SQLiteStore) ensureBookkeeping(ctx context.Context) error {
	s.bootstrap.Do(func() {
		_, err := s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				component   TEXT     NOT NULL,
				version     INTEGER  NOT NULL,
				description TEXT     NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (component, version)
			);
			CREATE TABLE IF NOT EXISTS _meta (
				key        TEXT     PRIMARY KEY,
				value      TEXT     NOT NULL,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`)
		if err != nil {
			s.bootErr = fmt.Errorf("create bookkeeping tables: %w", err)
		}
	})
	return s.bootErr
}

func (s *SQLiteStore) appliedVersions(ctx context.Context, component string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM _migrations WHERE component = ?`, component)
	if err != nil {
		return nil, fmt.Errorf("list migrations for %s: %w", component, err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
