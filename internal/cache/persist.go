package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"shelfsync/internal/logger"
)

// Snapshot persistence. Completed entries are written through to a sqlite
// file so a restarted process can render from last-known-good data before it
// touches the network. In-flight state is never written.

const queryTimeout = time.Second * 10

const snapshotTableSchema = `
    CREATE TABLE IF NOT EXISTS cache_entries (
        key TEXT PRIMARY KEY,
        value_json TEXT NOT NULL,
        fetched_at TEXT NOT NULL,
        stale_at TEXT NOT NULL,
        expire_at TEXT NOT NULL
    );`

type snapshotDB struct {
	db *sql.DB
}

func openSnapshot(path string) (*snapshotDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache snapshot %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	err = db.PingContext(ctx)
	cancel()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cache snapshot %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.LogWarn("Failed to execute %s on cache snapshot: %v", pragma, err)
		}
	}

	if _, err := db.Exec(snapshotTableSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing cache snapshot table: %w", err)
	}

	return &snapshotDB{db: db}, nil
}

func (s *snapshotDB) close() error {
	return s.db.Close()
}

// restore loads every persisted entry, dropping rows that expired while the
// process was down.
func (s *snapshotDB) restore() (map[string]*entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value_json, fetched_at, stale_at, expire_at FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("reading cache snapshot: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]*entry)
	var expired []string
	now := time.Now()

	for rows.Next() {
		var key, valueJSON, fetchedAt, staleAt, expireAt string
		if err := rows.Scan(&key, &valueJSON, &fetchedAt, &staleAt, &expireAt); err != nil {
			return nil, fmt.Errorf("scanning cache snapshot row: %w", err)
		}

		ent := &entry{value: []byte(valueJSON)}
		if ent.fetchedAt, err = time.Parse(time.RFC3339Nano, fetchedAt); err != nil {
			logger.LogWarn("Dropping cache entry %s with bad fetched_at %q", key, fetchedAt)
			expired = append(expired, key)
			continue
		}
		if ent.staleAt, err = time.Parse(time.RFC3339Nano, staleAt); err != nil {
			logger.LogWarn("Dropping cache entry %s with bad stale_at %q", key, staleAt)
			expired = append(expired, key)
			continue
		}
		if ent.expireAt, err = time.Parse(time.RFC3339Nano, expireAt); err != nil {
			logger.LogWarn("Dropping cache entry %s with bad expire_at %q", key, expireAt)
			expired = append(expired, key)
			continue
		}

		if !now.Before(ent.expireAt) {
			expired = append(expired, key)
			continue
		}
		entries[key] = ent
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cache snapshot: %w", err)
	}

	for _, key := range expired {
		if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			logger.LogWarn("Failed to drop expired snapshot entry %s: %v", key, err)
		}
	}

	return entries, nil
}

func (s *snapshotDB) persist(key string, ent *entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value_json, fetched_at, stale_at, expire_at)
         VALUES (?, ?, ?, ?, ?)`,
		key,
		string(ent.value),
		ent.fetchedAt.Format(time.RFC3339Nano),
		ent.staleAt.Format(time.RFC3339Nano),
		ent.expireAt.Format(time.RFC3339Nano))
	return err
}

func (s *snapshotDB) remove(exact, prefix string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key = ? OR key LIKE ?`,
		exact, prefix+"%")
	return err
}

func (s *snapshotDB) clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return err
}

// prune removes rows that expired before cutoff, at most limit per call so a
// large backlog cannot stall whoever runs the sweep.
func (s *snapshotDB) prune(cutoff time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	const stmt = `
		DELETE FROM cache_entries
		WHERE key IN (
			SELECT key FROM cache_entries
			WHERE expire_at < ?
			LIMIT ?
		)`

	result, err := s.db.ExecContext(ctx, stmt, cutoff.Format(time.RFC3339Nano), limit)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}
