// internal/draft/draft.go
package draft

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"shelfsync/internal/catalog"
	"shelfsync/internal/logger"
)

// The draft queue holds selections the user has staged but not yet pushed to
// the inventory service. Drafts survive restarts, so a batch built up offline
// is still there when connectivity returns; synced drafts are kept for a while
// as history and swept out by maintenance.

var (
	// ErrNotFound is returned when a draft id has no stored record.
	ErrNotFound = errors.New("draft not found")
)

const queryTimeout = time.Second * 10

// =============================================================================
// STORE SETUP
// =============================================================================

const draftTableSchema = `
    CREATE TABLE IF NOT EXISTS drafts (
        draft_id TEXT PRIMARY KEY,
        created_at TEXT NOT NULL,
        inventory_item_id TEXT NOT NULL,
        item_name TEXT NOT NULL DEFAULT '',
        sku TEXT DEFAULT '',
        price TEXT DEFAULT '',
        stock_quantity TEXT DEFAULT '',
        tax_enabled BOOLEAN DEFAULT 0,
        active BOOLEAN DEFAULT 1,
        seasonal BOOLEAN DEFAULT 0,
        discontinued BOOLEAN DEFAULT 0,
        synced BOOLEAN DEFAULT 0,
        synced_at TEXT,
        sync_run_id TEXT DEFAULT '',
        sync_error TEXT DEFAULT '',
        attempts INTEGER DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_drafts_created ON drafts(created_at);
    CREATE INDEX IF NOT EXISTS idx_drafts_synced ON drafts(synced);`

// Record is a stored draft plus its queue bookkeeping.
type Record struct {
	ID        string
	CreatedAt time.Time
	Draft     catalog.SelectionDraft
	Synced    bool
	SyncedAt  *time.Time
	SyncRunID string
	SyncError string
	Attempts  int
}

// Store is the local queue of pending inventory selections.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the draft database at path.
func Open(path string) (*Store, error) {
	db, err := openDBWithRetry(path, 3)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(draftTableSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing draft table: %w", err)
	}

	return &Store{db: db}, nil
}

func openDBWithRetry(path string, maxRetries int) (*sql.DB, error) {
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("sqlite", path)
		if err != nil {
			logger.LogWarn("Draft database open attempt %d failed: %v", attempt, err)
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return nil, fmt.Errorf("failed to open draft database after %d attempts: %w", maxRetries, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		err = db.PingContext(ctx)
		cancel()

		if err != nil {
			logger.LogWarn("Draft database ping attempt %d failed: %v", attempt, err)
			db.Close()
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return nil, fmt.Errorf("failed to ping draft database after %d attempts: %w", maxRetries, err)
		}

		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				logger.LogWarn("Failed to execute %s on draft database: %v", pragma, err)
			}
		}

		return db, nil
	}

	return nil, fmt.Errorf("failed to open draft database after %d attempts", maxRetries)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// QUEUE OPERATIONS
// =============================================================================

// Add stages a selection for the next sync and returns the stored record.
func (s *Store) Add(d catalog.SelectionDraft) (*Record, error) {
	if d.InventoryItemID == "" {
		return nil, fmt.Errorf("draft has no catalog item id")
	}

	rec := &Record{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Draft:     d,
	}

	const stmt = `
		INSERT INTO drafts (
			draft_id, created_at, inventory_item_id, item_name, sku, price,
			stock_quantity, tax_enabled, active, seasonal, discontinued
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(stmt,
		rec.ID, formatTime(rec.CreatedAt),
		d.InventoryItemID, d.Name, d.SKU, d.Price, d.StockQuantity,
		d.TaxEnabled, d.Active, d.Seasonal, d.Discontinued,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert draft: %w", err)
	}

	logger.LogInfo("Staged draft %s for catalog item %s", rec.ID, d.InventoryItemID)
	return rec, nil
}

// Get returns one draft by id.
func (s *Store) Get(id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, selectColumns+` FROM drafts WHERE draft_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Pending returns the drafts still waiting for a successful sync, oldest
// first so batches go out in the order they were staged.
func (s *Store) Pending() ([]Record, error) {
	return s.query(selectColumns + ` FROM drafts WHERE synced = 0 ORDER BY created_at, draft_id`)
}

// Recent returns the newest drafts regardless of state, bounded by limit.
func (s *Store) Recent(limit int) ([]Record, error) {
	return s.query(selectColumns+` FROM drafts ORDER BY created_at DESC, draft_id DESC LIMIT ?`, limit)
}

// Remove deletes one draft outright.
func (s *Store) Remove(id string) error {
	result, err := s.exec(`DELETE FROM drafts WHERE draft_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSynced records a successful commit. The draft stays around as history
// until maintenance prunes it.
func (s *Store) MarkSynced(id, runID string) error {
	now := time.Now()
	const stmt = `
		UPDATE drafts
		SET synced = 1, synced_at = ?, sync_run_id = ?, sync_error = '',
		    attempts = attempts + 1
		WHERE draft_id = ?`

	_, err := s.exec(stmt, formatNullableTime(&now), runID, id)
	if err != nil {
		return fmt.Errorf("failed to mark draft synced: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt along with the reason, keeping the
// draft pending for the next run.
func (s *Store) MarkFailed(id, runID, message string) error {
	const stmt = `
		UPDATE drafts
		SET sync_run_id = ?, sync_error = ?, attempts = attempts + 1
		WHERE draft_id = ?`

	_, err := s.exec(stmt, runID, message, id)
	if err != nil {
		return fmt.Errorf("failed to mark draft failed: %w", err)
	}
	return nil
}

// PruneSynced deletes synced drafts older than cutoff, at most limit per run.
func (s *Store) PruneSynced(cutoff time.Time, limit int) (int, error) {
	const stmt = `
		DELETE FROM drafts
		WHERE draft_id IN (
			SELECT draft_id FROM drafts
			WHERE synced = 1
			AND created_at < ?
			LIMIT ?
		)`

	result, err := s.exec(stmt, formatTime(cutoff), limit)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}

// =============================================================================
// SCANNING AND HELPERS
// =============================================================================

const selectColumns = `
	SELECT draft_id, created_at, inventory_item_id, item_name, sku, price,
		stock_quantity, tax_enabled, active, seasonal, discontinued,
		synced, synced_at, sync_run_id, sync_error, attempts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var createdAt string
	var syncedAt sql.NullString

	err := row.Scan(
		&rec.ID, &createdAt,
		&rec.Draft.InventoryItemID, &rec.Draft.Name, &rec.Draft.SKU,
		&rec.Draft.Price, &rec.Draft.StockQuantity,
		&rec.Draft.TaxEnabled, &rec.Draft.Active,
		&rec.Draft.Seasonal, &rec.Draft.Discontinued,
		&rec.Synced, &syncedAt, &rec.SyncRunID, &rec.SyncError, &rec.Attempts,
	)
	if err != nil {
		return nil, err
	}

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse draft created_at: %w", err)
	}
	if rec.SyncedAt, err = parseNullableTime(syncedAt); err != nil {
		return nil, fmt.Errorf("failed to parse draft synced_at: %w", err)
	}

	return &rec, nil
}

func (s *Store) query(stmt string, args ...interface{}) ([]Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query drafts: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft row: %w", err)
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating draft rows: %w", err)
	}
	return result, nil
}

func (s *Store) exec(stmt string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		logger.LogError("Draft database exec failed: %v", err)
		return nil, err
	}
	return result, nil
}

// Time handling. Timestamps are stored as RFC3339Nano text; created_at
// ordering ties are broken by draft_id in the queries above.

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(timeStr string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, timeStr)
}

func parseNullableTime(nullStr sql.NullString) (*time.Time, error) {
	if !nullStr.Valid || nullStr.String == "" {
		return nil, nil
	}

	parsedTime, err := time.Parse(time.RFC3339Nano, nullStr.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse time: %w", err)
	}
	return &parsedTime, nil
}
