// Package backup exports the local snapshot to a JSON file and restores it
// from one. The file is the same snapshot document the remote store holds.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/casamocholi/organizer/internal/schema"
	"github.com/casamocholi/organizer/internal/store"
)

// ErrEmptyBackup is returned when a file holds no recognized collection.
var ErrEmptyBackup = errors.New("backup contains no recognized collections")

// Source provides the snapshot to export.
type Source interface {
	Snapshot(ctx context.Context) (schema.Snapshot, error)
}

// Target receives an imported snapshot.
type Target interface {
	Restore(ctx context.Context, snap schema.Snapshot, opts ...store.WriteOption) error
}

// Store is both a Source and a Target.
type Store interface {
	Source
	Target
}

// FileName returns the export file name for the given day.
func FileName(now time.Time) string {
	return "backup_familia_" + now.Format("2006-01-02") + ".json"
}

// Export writes the full snapshot of src to w as indented JSON.
func Export(ctx context.Context, src Source, w io.Writer) error {
	snap, err := src.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// ExportFile writes the snapshot to path atomically. If path is a
// directory, the file is named with FileName(now) inside it.
func ExportFile(ctx context.Context, src Source, path string, now time.Time) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName(now))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := Export(ctx, src, f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}
	return path, nil
}

// ImportOptions configures an import.
type ImportOptions struct {
	// DryRun parses and reports without writing.
	DryRun bool

	// BackupDir, when set, receives an export of the current snapshot
	// before the import overwrites it.
	BackupDir string

	// Silent suppresses the change notification for the restore.
	Silent bool
}

// ImportResult describes what an import wrote.
type ImportResult struct {
	Collections   []string
	Records       int
	BackupCreated string
}

// Import restores the collections present in r. Collections missing from
// the file keep their current value.
func Import(ctx context.Context, st Store, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	snap, err := schema.ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("invalid backup: %w", err)
	}

	result := &ImportResult{Records: snap.Count()}
	for _, name := range schema.RecordCollections {
		if snap.Records(name) != nil {
			result.Collections = append(result.Collections, name)
		}
	}
	if snap.MonthlyBudget != nil {
		result.Collections = append(result.Collections, schema.MonthlyBudget)
	}
	if snap.WeeklyMenu != nil {
		result.Collections = append(result.Collections, schema.WeeklyMenuKey)
	}
	if len(result.Collections) == 0 {
		return nil, ErrEmptyBackup
	}

	if opts.DryRun {
		return result, nil
	}

	if opts.BackupDir != "" {
		now := time.Now()
		name := "pre_import_" + now.Format("20060102-150405") + ".json"
		path, err := ExportFile(ctx, st, filepath.Join(opts.BackupDir, name), now)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = path
	}

	var writeOpts []store.WriteOption
	if opts.Silent {
		writeOpts = append(writeOpts, store.Silent())
	}
	if err := st.Restore(ctx, snap, writeOpts...); err != nil {
		return nil, fmt.Errorf("failed to restore backup: %w", err)
	}
	return result, nil
}

// ImportFile imports the backup at path.
func ImportFile(ctx context.Context, st Store, path string, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()
	return Import(ctx, st, f, opts)
}
