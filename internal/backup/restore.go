package backup

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxEntrySize caps each extracted file to stop decompression bombs.
const maxEntrySize = 10 << 30

// RestoreOptions says where the archive goes. ConfigDir defaults to DataDir.
type RestoreOptions struct {
	Archive   string
	DataDir   string
	ConfigDir string
	Force     bool // Overwrite existing files.
}

// Restore extracts an archive written by Backup. The manifest must come
// first; only the entries it names are accepted. Each file is written to a
// temporary name and renamed into place once complete.
func Restore(ctx context.Context, opts RestoreOptions) (*Manifest, error) {
	if opts.ConfigDir == "" {
		opts.ConfigDir = opts.DataDir
	}

	f, err := os.Open(opts.Archive)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompressing archive: %w", err)
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	m, err := readManifest(tr)
	if err != nil {
		return nil, err
	}
	targets := map[string]string{m.Database: opts.DataDir}
	if m.Config != "" {
		targets[m.Config] = opts.ConfigDir
	}

	var restored []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive entry: %w", err)
		}
		if err := validateEntryName(hdr.Name); err != nil {
			return nil, err
		}
		dir, ok := targets[hdr.Name]
		if !ok {
			return nil, fmt.Errorf("invalid backup: unexpected entry %q", hdr.Name)
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, fmt.Errorf("invalid backup: %q is not a regular file", hdr.Name)
		}

		dest := filepath.Join(dir, hdr.Name)
		if !opts.Force {
			if _, err := os.Stat(dest); err == nil {
				return nil, fmt.Errorf("file already exists (use -force to overwrite): %s", dest)
			}
		}
		if err := extractFile(tr, dest); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", hdr.Name, err)
		}
		delete(targets, hdr.Name)
		restored = append(restored, dest)
	}

	if _, missing := targets[m.Database]; missing {
		return nil, fmt.Errorf("invalid backup: database %q missing from archive", m.Database)
	}

	// A restored database must not be paired with a stale write-ahead log.
	for _, p := range restored {
		if strings.HasSuffix(p, ".db") {
			_ = os.Remove(p + "-wal")
			_ = os.Remove(p + "-shm")
		}
	}
	return m, nil
}

func readManifest(tr *tar.Reader) (*Manifest, error) {
	hdr, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("invalid backup: reading manifest: %w", err)
	}
	if hdr.Name != ManifestName {
		return nil, fmt.Errorf("invalid backup: first entry is %q, want %s", hdr.Name, ManifestName)
	}

	var m Manifest
	if err := json.NewDecoder(io.LimitReader(tr, 1<<20)).Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid backup: decoding manifest: %w", err)
	}
	switch {
	case m.Format > FormatVersion:
		return nil, fmt.Errorf("backup format %d is newer than supported format %d", m.Format, FormatVersion)
	case m.Database == "":
		return nil, fmt.Errorf("invalid backup: manifest names no database")
	}
	for _, name := range []string{m.Database, m.Config} {
		if name == "" {
			continue
		}
		if err := validateEntryName(name); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// validateEntryName accepts bare file names only, so nothing can be written
// outside the chosen directories.
func validateEntryName(name string) error {
	if name == "" || name == "." || name == ".." ||
		filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("path traversal detected: %q", name)
	}
	return nil
}

func extractFile(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, maxEntrySize+1))
	if err == nil && n > maxEntrySize {
		err = fmt.Errorf("entry exceeds %d bytes", int64(maxEntrySize))
	}
	if err == nil {
		err = tmp.Chmod(0o600)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
