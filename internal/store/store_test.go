package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func openTemp(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "counsellor.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func exec(t *testing.T, s *SQLiteStore, query string) {
	t.Helper()
	if _, err := s.DB().Exec(query); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func countRows(t *testing.T, s *SQLiteStore, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

func createTable(name string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		_, err := tx.Exec("CREATE TABLE " + name + " (id INTEGER PRIMARY KEY)")
		return err
	}
}

func failing(tx *sql.Tx) error {
	_, err := tx.Exec("THIS IS NOT SQL")
	return err
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if s.DB() == nil {
		t.Fatal("DB() returned nil")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	if fk := countRows(t, s, "PRAGMA foreign_keys"); fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestNew_UnwritableDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "dir", "x.db")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestNew_InMemory(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) error = %v", err)
	}
	defer s.Close()

	exec(t, s, "CREATE TABLE moods (score INTEGER)")
	exec(t, s, "INSERT INTO moods VALUES (4)")
	if n := countRows(t, s, "SELECT COUNT(*) FROM moods"); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestClose_StopsQueries(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "c.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected Ping to fail after Close")
	}
}

func TestTx(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name     string
		fn       func(tx *sql.Tx) error
		wantErr  error
		wantRows int
	}{
		{
			name: "commit",
			fn: func(tx *sql.Tx) error {
				_, err := tx.Exec("INSERT INTO notes (body) VALUES ('kept')")
				return err
			},
			wantRows: 1,
		},
		{
			name: "rollback returns fn error unwrapped",
			fn: func(tx *sql.Tx) error {
				if _, err := tx.Exec("INSERT INTO notes (body) VALUES ('dropped')"); err != nil {
					return err
				}
				return errBoom
			},
			wantErr: errBoom,
		},
		{
			name: "sentinel passes through",
			fn: func(*sql.Tx) error {
				return sql.ErrNoRows
			},
			wantErr: sql.ErrNoRows,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := openTemp(t)
			exec(t, s, "CREATE TABLE notes (body TEXT)")

			if err := s.Tx(context.Background(), tc.fn); err != tc.wantErr {
				t.Fatalf("Tx() error = %v, want %v", err, tc.wantErr)
			}
			if n := countRows(t, s, "SELECT COUNT(*) FROM notes"); n != tc.wantRows {
				t.Errorf("rows = %d, want %d", n, tc.wantRows)
			}
		})
	}
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("applies in version order", func(t *testing.T) {
		s := openTemp(t)
		var order []int
		step := func(v int, q string) Migration {
			return Migration{Version: v, Description: q, Up: func(tx *sql.Tx) error {
				order = append(order, v)
				_, err := tx.Exec(q)
				return err
			}}
		}
		// Given out of order on purpose.
		err := s.Migrate(ctx, "journal", []Migration{
			step(2, "ALTER TABLE conv ADD COLUMN model TEXT"),
			step(1, "CREATE TABLE conv (id TEXT PRIMARY KEY)"),
		})
		if err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if !slices.Equal(order, []int{1, 2}) {
			t.Errorf("applied %v, want [1 2]", order)
		}
		exec(t, s, "INSERT INTO conv (id, model) VALUES ('c1', 'gpt-4o')")
		if n := countRows(t, s, "SELECT COUNT(*) FROM _migrations WHERE component = ?", "journal"); n != 2 {
			t.Errorf("recorded %d migrations, want 2", n)
		}
	})

	t.Run("skips applied versions", func(t *testing.T) {
		s := openTemp(t)
		calls := 0
		migs := []Migration{{Version: 1, Description: "t", Up: func(tx *sql.Tx) error {
			calls++
			return createTable("once")(tx)
		}}}
		for i := 0; i < 2; i++ {
			if err := s.Migrate(ctx, "profile", migs); err != nil {
				t.Fatalf("Migrate() run %d error = %v", i+1, err)
			}
		}
		if calls != 1 {
			t.Errorf("migration ran %d times, want 1", calls)
		}
	})

	t.Run("components track versions separately", func(t *testing.T) {
		s := openTemp(t)
		if err := s.Migrate(ctx, "journal", []Migration{{Version: 1, Description: "j", Up: createTable("j")}}); err != nil {
			t.Fatal(err)
		}
		if err := s.Migrate(ctx, "profile", []Migration{{Version: 1, Description: "p", Up: createTable("p")}}); err != nil {
			t.Fatal(err)
		}
		if n := countRows(t, s, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('j', 'p')"); n != 2 {
			t.Errorf("tables = %d, want 2", n)
		}
	})

	t.Run("failure keeps earlier versions", func(t *testing.T) {
		s := openTemp(t)
		err := s.Migrate(ctx, "auth", []Migration{
			{Version: 1, Description: "good", Up: createTable("good")},
			{Version: 2, Description: "bad", Up: failing},
		})
		if err == nil {
			t.Fatal("expected migration error")
		}
		if !strings.Contains(err.Error(), "auth/2 (bad)") {
			t.Errorf("error = %q, want it to name auth/2 (bad)", err)
		}
		if n := countRows(t, s, "SELECT COUNT(*) FROM _migrations WHERE component = 'auth'"); n != 1 {
			t.Errorf("recorded %d migrations, want 1", n)
		}

		// The failed version runs again next time.
		calls := 0
		err = s.Migrate(ctx, "auth", []Migration{
			{Version: 1, Description: "good", Up: createTable("good")},
			{Version: 2, Description: "fixed", Up: func(tx *sql.Tx) error { calls++; return createTable("fixed")(tx) }},
		})
		if err != nil {
			t.Fatalf("Migrate() retry error = %v", err)
		}
		if calls != 1 {
			t.Errorf("fixed migration ran %d times, want 1", calls)
		}
	})
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name       string
		sequence   []string
		wantErr    error
		wantStored string
	}{
		{name: "first run records", sequence: []string{"0.1.0"}, wantStored: "0.1.0"},
		{name: "same version", sequence: []string{"0.1.0", "0.1.0"}, wantStored: "0.1.0"},
		{name: "upgrade records", sequence: []string{"0.1.0", "0.2.0"}, wantStored: "0.2.0"},
		{name: "patch upgrade", sequence: []string{"v0.1.0", "0.1.1"}, wantStored: "0.1.1"},
		{name: "downgrade rejected", sequence: []string{"0.2.0", "0.1.0"}, wantErr: ErrNewerSchema, wantStored: "0.2.0"},
		{name: "dev passes both ways", sequence: []string{DevVersion, "0.3.0", DevVersion}, wantStored: DevVersion},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := openTemp(t)
			ctx := context.Background()

			var err error
			for _, v := range tc.sequence {
				if err = s.CheckVersion(ctx, v); err != nil {
					break
				}
			}
			if tc.wantErr == nil && err != nil {
				t.Fatalf("CheckVersion() error = %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("CheckVersion() error = %v, want %v", err, tc.wantErr)
			}

			var stored string
			if err := s.DB().QueryRow("SELECT value FROM _meta WHERE key = 'app_version'").Scan(&stored); err != nil {
				t.Fatal(err)
			}
			if stored != tc.wantStored {
				t.Errorf("stored version = %q, want %q", stored, tc.wantStored)
			}
		})
	}
}

func TestVacuumInto(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	exec(t, s, "CREATE TABLE notes (body TEXT)")
	exec(t, s, "INSERT INTO notes (body) VALUES ('slept well')")

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := s.VacuumInto(ctx, dest); err != nil {
		t.Fatalf("VacuumInto() error = %v", err)
	}

	cp, err := New(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Close()
	var body string
	if err := cp.DB().QueryRow("SELECT body FROM notes").Scan(&body); err != nil {
		t.Fatal(err)
	}
	if body != "slept well" {
		t.Errorf("copied body = %q", body)
	}

	t.Run("existing destination fails", func(t *testing.T) {
		occupied := filepath.Join(t.TempDir(), "exists.db")
		if err := os.WriteFile(occupied, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := s.VacuumInto(ctx, occupied); err == nil {
			t.Error("expected error for existing destination")
		}
	})
}
