package backup_test

import (
	"archive/tar"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/HerbHall/counsellor/internal/backup"
	"github.com/HerbHall/counsellor/internal/store"
	"github.com/klauspost/compress/gzip"
)

// seedJournal creates a database holding two journal rows.
func seedJournal(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "counsellor.db")
	db, err := store.New(path)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer db.Close()

	_, err = db.DB().Exec(`
		CREATE TABLE entries (id INTEGER PRIMARY KEY, body TEXT);
		INSERT INTO entries (id, body) VALUES (1, 'slept well'), (2, 'long walk');
	`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "counsellor.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func entryBodies(t *testing.T, path string) []string {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT body FROM entries ORDER BY id")
	if err != nil {
		t.Fatalf("query restored entries: %v", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatal(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	return out
}

func expectErrorContains(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want it to contain %q", err, want)
	}
}

func expectMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("%s should not exist (stat error = %v)", path, err)
	}
}

type rawEntry struct {
	name string
	body []byte
}

// writeRaw builds an archive by hand for malformed-input tests.
func writeRaw(t *testing.T, path string, entries ...rawEntry) {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: tar.TypeReg, Mode: 0o600, Size: int64(len(e.body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(e.body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
}

func manifestJSON(t *testing.T, m backup.Manifest) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBackupThenRestore(t *testing.T) {
	src := t.TempDir()
	dbPath := seedJournal(t, src)
	cfgPath := writeConfig(t, src)
	archive := filepath.Join(t.TempDir(), "out", "snap.tar.gz")

	if err := backup.Backup(context.Background(), dbPath, cfgPath, archive); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	info, err := os.Stat(archive)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("archive mode = %o, want 600", perm)
	}

	dataDir, cfgDir := t.TempDir(), t.TempDir()
	m, err := backup.Restore(context.Background(), backup.RestoreOptions{
		Archive:   archive,
		DataDir:   dataDir,
		ConfigDir: cfgDir,
	})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if m.Format != backup.FormatVersion {
		t.Errorf("Format = %d, want %d", m.Format, backup.FormatVersion)
	}
	if m.Database != "counsellor.db" || m.Config != "counsellor.yaml" {
		t.Errorf("manifest names = %q, %q", m.Database, m.Config)
	}
	if m.AppVersion == "" {
		t.Error("expected AppVersion in manifest")
	}
	if m.CreatedAt.IsZero() {
		t.Error("expected CreatedAt in manifest")
	}

	got := entryBodies(t, filepath.Join(dataDir, "counsellor.db"))
	if want := []string{"slept well", "long walk"}; !slices.Equal(got, want) {
		t.Errorf("restored entries = %v, want %v", got, want)
	}
	cfg, err := os.ReadFile(filepath.Join(cfgDir, "counsellor.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(cfg), "port: 8080") {
		t.Errorf("restored config = %q", cfg)
	}
}

func TestBackup_MissingDatabase(t *testing.T) {
	err := backup.Backup(context.Background(), filepath.Join(t.TempDir(), "nope.db"), "", filepath.Join(t.TempDir(), "a.tar.gz"))
	expectErrorContains(t, err, "database file not found")
}

func TestRestore_ExistingFiles(t *testing.T) {
	src := t.TempDir()
	archive := filepath.Join(t.TempDir(), "snap.tar.gz")
	if err := backup.Backup(context.Background(), seedJournal(t, src), "", archive); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		force   bool
		wantErr string
	}{
		{name: "refused without force", wantErr: "already exists"},
		{name: "overwritten with force", force: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dataDir := t.TempDir()
			target := filepath.Join(dataDir, "counsellor.db")
			if err := os.WriteFile(target, []byte("stale"), 0o600); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(target+"-wal", []byte("stale wal"), 0o600); err != nil {
				t.Fatal(err)
			}

			_, err := backup.Restore(context.Background(), backup.RestoreOptions{
				Archive: archive, DataDir: dataDir, Force: tc.force,
			})
			if tc.wantErr != "" {
				expectErrorContains(t, err, tc.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if n := len(entryBodies(t, target)); n != 2 {
				t.Errorf("restored %d entries, want 2", n)
			}
			expectMissing(t, target+"-wal")
		})
	}
}

func TestRestore_RejectsMalformedArchives(t *testing.T) {
	good := backup.Manifest{Format: backup.FormatVersion, Database: "counsellor.db"}
	tests := []struct {
		name    string
		entries []rawEntry
		wantErr string
	}{
		{
			name:    "no manifest",
			entries: []rawEntry{{name: "counsellor.db", body: []byte("x")}},
			wantErr: "first entry",
		},
		{
			name: "newer format",
			entries: []rawEntry{{name: backup.ManifestName, body: manifestJSON(t, backup.Manifest{
				Format: backup.FormatVersion + 1, Database: "counsellor.db",
			})}},
			wantErr: "newer than supported",
		},
		{
			name: "traversal in manifest",
			entries: []rawEntry{{name: backup.ManifestName, body: manifestJSON(t, backup.Manifest{
				Format: backup.FormatVersion, Database: "../../etc/counsellor.db",
			})}},
			wantErr: "path traversal",
		},
		{
			name: "undeclared entry",
			entries: []rawEntry{
				{name: backup.ManifestName, body: manifestJSON(t, good)},
				{name: "../escape.sh", body: []byte("#!/bin/sh")},
			},
			wantErr: "path traversal",
		},
		{
			name: "unexpected entry",
			entries: []rawEntry{
				{name: backup.ManifestName, body: manifestJSON(t, good)},
				{name: "extra.txt", body: []byte("hi")},
			},
			wantErr: "unexpected entry",
		},
		{
			name:    "database missing",
			entries: []rawEntry{{name: backup.ManifestName, body: manifestJSON(t, good)}},
			wantErr: "missing from archive",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			archive := filepath.Join(t.TempDir(), "bad.tar.gz")
			writeRaw(t, archive, tc.entries...)

			dataDir := t.TempDir()
			_, err := backup.Restore(context.Background(), backup.RestoreOptions{Archive: archive, DataDir: dataDir})
			expectErrorContains(t, err, tc.wantErr)
			expectMissing(t, filepath.Join(filepath.Dir(dataDir), "escape.sh"))
		})
	}
}

func TestRestore_NotGzip(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "corrupt.tar.gz")
	if err := os.WriteFile(archive, []byte("plain text"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := backup.Restore(context.Background(), backup.RestoreOptions{Archive: archive, DataDir: t.TempDir()})
	expectErrorContains(t, err, "decompressing")
}

func TestRestore_CancelledContext(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "snap.tar.gz")
	if err := backup.Backup(context.Background(), seedJournal(t, t.TempDir()), "", archive); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := backup.Restore(ctx, backup.RestoreOptions{Archive: archive, DataDir: t.TempDir()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Restore() error = %v, want context.Canceled", err)
	}
}

func TestFromStore_OpenDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := store.New(filepath.Join(dir, "live.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	_, err = db.DB().Exec(`CREATE TABLE entries (id INTEGER PRIMARY KEY, body TEXT);
		INSERT INTO entries (body) VALUES ('written while open')`)
	if err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(dir, "live.tar.gz")
	if err := backup.FromStore(context.Background(), db, "", archive); err != nil {
		t.Fatalf("FromStore() error = %v", err)
	}

	restoreDir := t.TempDir()
	m, err := backup.Restore(context.Background(), backup.RestoreOptions{Archive: archive, DataDir: restoreDir})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if m.Database != "live.db" {
		t.Errorf("Database = %q, want live.db", m.Database)
	}
	if m.Config != "" {
		t.Errorf("Config = %q, want empty", m.Config)
	}
	got := entryBodies(t, filepath.Join(restoreDir, "live.db"))
	if !slices.Equal(got, []string{"written while open"}) {
		t.Errorf("restored entries = %v", got)
	}
}
