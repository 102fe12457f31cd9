// Package backup writes and restores tar.gz archives holding the SQLite
// database, the configuration file and a manifest describing both.
package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/HerbHall/counsellor/internal/store"
	"github.com/HerbHall/counsellor/internal/version"
	"github.com/klauspost/compress/gzip"
)

// ManifestName is the first entry of every archive.
const ManifestName = "manifest.json"

// FormatVersion is bumped when the archive layout changes incompatibly.
const FormatVersion = 1

// Manifest records what an archive holds. Database and Config are entry
// names inside the archive; Config is empty when no config file was saved.
type Manifest struct {
	Format     int       `json:"format"`
	AppVersion string    `json:"app_version"`
	CreatedAt  time.Time `json:"created_at"`
	Database   string    `json:"database"`
	Config     string    `json:"config,omitempty"`
}

// Backup opens the database at dbPath and archives it. See FromStore.
func Backup(ctx context.Context, dbPath, configPath, archivePath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}
		return fmt.Errorf("checking database: %w", err)
	}

	db, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	return FromStore(ctx, db, configPath, archivePath)
}

// FromStore snapshots an open database with VACUUM INTO and writes it, the
// config file at configPath when non-empty and a manifest to archivePath.
// The archive is created 0600 because it holds journal contents.
func FromStore(ctx context.Context, db *store.SQLiteStore, configPath, archivePath string) error {
	tmpDir, err := os.MkdirTemp("", "counsellor-backup-")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	m := Manifest{
		Format:     FormatVersion,
		AppVersion: version.Short(),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		Database:   dbEntryName(db.Path()),
	}
	snapshot := filepath.Join(tmpDir, m.Database)
	if err := db.VacuumInto(ctx, snapshot); err != nil {
		return fmt.Errorf("snapshotting database: %w", err)
	}
	entries := []entry{{name: m.Database, path: snapshot}}
	if configPath != "" {
		m.Config = filepath.Base(configPath)
		entries = append(entries, entry{name: m.Config, path: configPath})
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o750); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	out, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	if err := writeArchive(out, m, entries); err != nil {
		out.Close()
		os.Remove(archivePath)
		return err
	}
	return out.Close()
}

// dbEntryName keeps the database's base name, forcing a .db suffix so the
// entry is recognisable. In-memory databases get a fixed name.
func dbEntryName(path string) string {
	name := filepath.Base(path)
	if name == "" || name == "." || name == ":memory:" {
		return "counsellor.db"
	}
	if filepath.Ext(name) != ".db" {
		name += ".db"
	}
	return name
}

type entry struct {
	name string
	path string
}

func writeArchive(w io.Writer, m Manifest, entries []entry) error {
	gw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gw)

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := writeEntry(tw, ManifestName, m.CreatedAt, bytes.NewReader(manifest), int64(len(manifest))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := addFile(tw, e); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finalizing gzip: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, e entry) error {
	f, err := os.Open(e.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", e.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", e.path, err)
	}
	return writeEntry(tw, e.name, info.ModTime(), f, info.Size())
}

func writeEntry(tw *tar.Writer, name string, mod time.Time, r io.Reader, size int64) error {
	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0o600,
		Size:     size,
		ModTime:  mod.UTC().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}
	if _, err := io.Copy(tw, r); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
