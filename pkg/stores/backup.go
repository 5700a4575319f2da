package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// backupVersion is the current backup document format version.
const backupVersion = 1

// backupDocument is the on-disk backup format: a single JSON document
// holding everything the store persists.
type backupDocument struct {
	Version      int                        `json:"version"`
	CreatedAt    time.Time                  `json:"created_at"`
	Resources    []*engine.ObservedResource `json:"resources"`
	Facts        []*engine.Facts            `json:"facts,omitempty"`
	Plans        []*engine.Plan             `json:"plans,omitempty"`
	ApplyReports []*engine.ApplyReport      `json:"apply_reports,omitempty"`
	TaskReports  []*engine.TaskReport       `json:"task_reports,omitempty"`
	Events       []*engine.Event            `json:"events,omitempty"`
}

// BackupManager writes and restores full-store backup documents. Named
// backups live as JSON files under a backup directory.
type BackupManager struct {
	store *SQLiteStore
	dir   string
}

// NewBackupManager creates a backup manager for the given store. The
// directory is created lazily when the first named backup is written.
func NewBackupManager(store *SQLiteStore, dir string) *BackupManager {
	return &BackupManager{
		store: store,
		dir:   dir,
	}
}

// Backup writes a complete snapshot of the store to dest.
func (b *BackupManager) Backup(ctx context.Context, dest io.Writer) error {
	doc, err := b.snapshot(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(dest)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	return nil
}

// Restore replaces the entire store contents with the backup read from
// src. The swap happens inside a single transaction, so a failed
// restore leaves the store untouched.
func (b *BackupManager) Restore(ctx context.Context, src io.Reader) error {
	var doc backupDocument
	if err := json.NewDecoder(src).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode backup: %w", err)
	}
	if doc.Version != backupVersion {
		return fmt.Errorf("unsupported backup version: %d", doc.Version)
	}

	tx, err := b.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin restore transaction: %w", err)
	}

	if err := b.restoreTx(ctx, tx, &doc); err != nil {
		_ = b.store.RollbackTx(tx)
		return err
	}

	if err := b.store.CommitTx(tx); err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}

	return nil
}

func (b *BackupManager) restoreTx(ctx context.Context, tx *sql.Tx, doc *backupDocument) error {
	tables := []string{"events", "facts", "task_reports", "apply_reports", "plans", "resources"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, resource := range doc.Resources {
		if err := b.store.insertObservedResource(ctx, tx, resource); err != nil {
			return err
		}
	}
	for _, facts := range doc.Facts {
		if err := b.store.insertFacts(ctx, tx, facts); err != nil {
			return err
		}
	}
	for _, plan := range doc.Plans {
		if err := b.store.insertPlan(ctx, tx, plan); err != nil {
			return err
		}
	}
	for _, report := range doc.ApplyReports {
		if err := b.store.insertApplyReport(ctx, tx, report); err != nil {
			return err
		}
	}
	for _, report := range doc.TaskReports {
		if err := b.store.insertTaskReport(ctx, tx, report); err != nil {
			return err
		}
	}
	for _, event := range doc.Events {
		if err := b.store.insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	return nil
}

// ListBackups returns the named backups in the backup directory, newest
// first. Files that are not parseable backup documents are skipped.
func (b *BackupManager) ListBackups(_ context.Context) ([]engine.BackupInfo, error) {
	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var infos []engine.BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		info, err := readBackupInfo(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			continue
		}
		infos = append(infos, *info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	return infos, nil
}

// CreateBackup writes a named backup into the backup directory and
// returns its metadata.
func (b *BackupManager) CreateBackup(ctx context.Context) (*engine.BackupInfo, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	doc, err := b.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("backup-%s-%s", doc.CreatedAt.Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(b.dir, id+".json")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close backup file: %w", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup file: %w", err)
	}

	return &engine.BackupInfo{
		ID:            id,
		CreatedAt:     doc.CreatedAt,
		Size:          stat.Size(),
		ResourceCount: len(doc.Resources),
	}, nil
}

// RestoreBackup restores a named backup from the backup directory.
func (b *BackupManager) RestoreBackup(ctx context.Context, id string) error {
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid backup id: %s", id)
	}

	f, err := os.Open(filepath.Join(b.dir, id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backup not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("failed to open backup %s: %w", id, err)
	}
	defer func() { _ = f.Close() }()

	return b.Restore(ctx, f)
}

// snapshot collects the full store contents into a backup document.
// Resources are sorted by ID so backups are reproducible.
func (b *BackupManager) snapshot(ctx context.Context) (*backupDocument, error) {
	state, err := b.store.LoadObservedState(ctx)
	if err != nil {
		return nil, err
	}
	resources := state.All()
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].ID < resources[j].ID
	})

	facts, err := b.store.ListFacts(ctx)
	if err != nil {
		return nil, err
	}

	plans, err := b.store.ListPlans(ctx, -1, 0)
	if err != nil {
		return nil, err
	}

	applyReports, err := b.store.ListApplyReports(ctx, -1, 0)
	if err != nil {
		return nil, err
	}

	taskReports, err := b.store.ListTaskReports(ctx, -1, 0)
	if err != nil {
		return nil, err
	}

	events, err := b.store.allEvents(ctx)
	if err != nil {
		return nil, err
	}

	return &backupDocument{
		Version:      backupVersion,
		CreatedAt:    time.Now().UTC(),
		Resources:    resources,
		Facts:        facts,
		Plans:        plans,
		ApplyReports: applyReports,
		TaskReports:  taskReports,
		Events:       events,
	}, nil
}

func readBackupInfo(path string) (*engine.BackupInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var doc backupDocument
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Version != backupVersion {
		return nil, fmt.Errorf("unsupported backup version: %d", doc.Version)
	}

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return &engine.BackupInfo{
		ID:            strings.TrimSuffix(filepath.Base(path), ".json"),
		CreatedAt:     doc.CreatedAt,
		Size:          stat.Size(),
		ResourceCount: len(doc.Resources),
	}, nil
}
