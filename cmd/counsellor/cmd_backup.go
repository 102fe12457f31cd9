package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/HerbHall/counsellor/internal/backup"
)

// runBackup writes a gzip tar of the database and config file.
func runBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	output := fs.String("o", "", "archive path (default counsellor-backup-<timestamp>.tar.gz)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v, cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	dest := *output
	if dest == "" {
		dest = fmt.Sprintf("counsellor-backup-%s.tar.gz", time.Now().UTC().Format("20060102-150405"))
	}
	if err := backup.Backup(context.Background(), cfg.Database.Path, v.ConfigFileUsed(), dest); err != nil {
		return err
	}
	fmt.Printf("Backup written to %s\n", dest)
	return nil
}

// runRestore extracts an archive next to the configured database. An
// archived config file lands beside the active one.
func runRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: counsellor restore [-force] [-config file] <archive>")
	}

	v, cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	opts := backup.RestoreOptions{
		Archive: fs.Arg(0),
		DataDir: filepath.Dir(cfg.Database.Path),
		Force:   *force,
	}
	if used := v.ConfigFileUsed(); used != "" {
		opts.ConfigDir = filepath.Dir(used)
	}
	m, err := backup.Restore(context.Background(), opts)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %s (version %s, taken %s) into %s\n",
		m.Database, m.AppVersion, m.CreatedAt.Format(time.RFC3339), opts.DataDir)
	return nil
}
