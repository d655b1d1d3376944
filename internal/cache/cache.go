package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"shelfsync/internal/logger"
)

// Entity cache with stale-while-revalidate semantics. Every entry moves
// through three states based on its age: fresh (served as-is), stale (served
// immediately while one shared background refetch runs), and expired (never
// served; the read blocks on a fetch). A failed fetch never evicts whatever
// value is already cached.
//
// Keys are hierarchical, slash-separated paths. Invalidating a key also
// invalidates everything beneath it, so "inventory/<store>" clears the store's
// list and every item detail in one call, while the list itself lives at the
// leaf "inventory/<store>/list" and can be invalidated alone.

// Policy carries the two ages that drive the entry state machine.
type Policy struct {
	StaleAfter  time.Duration
	ExpireAfter time.Duration
}

// FetchFunc loads the authoritative value for a key. The result must be
// JSON-marshalable since entries are stored in encoded form.
type FetchFunc func(ctx context.Context) (interface{}, error)

type entry struct {
	value       json.RawMessage
	fetchedAt   time.Time
	staleAt     time.Time
	expireAt    time.Time
	placeholder bool
}

// Info describes an entry's bookkeeping without exposing its value.
type Info struct {
	Key         string
	FetchedAt   time.Time
	StaleAt     time.Time
	ExpireAt    time.Time
	Placeholder bool
}

type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
	db      *snapshotDB
}

// New opens the cache, restoring any entries persisted at snapshotPath from a
// previous run. An empty path keeps the cache memory-only.
func New(snapshotPath string) (*Cache, error) {
	c := &Cache{entries: make(map[string]*entry)}

	if snapshotPath != "" {
		db, err := openSnapshot(snapshotPath)
		if err != nil {
			return nil, err
		}
		c.db = db

		restored, err := db.restore()
		if err != nil {
			db.close()
			return nil, err
		}
		c.entries = restored
		if len(restored) > 0 {
			logger.LogInfo("Restored %d cache entries from %s", len(restored), snapshotPath)
		}
	}

	return c, nil
}

// Close releases the snapshot database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.close()
	}
	return nil
}

// Get returns the cached value for key, fetching per the entry state. The
// returned bytes are the stored encoding; Fetch is the typed convenience
// wrapper over this.
func (c *Cache) Get(ctx context.Context, key string, policy Policy, fetch FetchFunc) (json.RawMessage, error) {
	c.mu.RLock()
	ent, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		now := time.Now()
		switch {
		case now.Before(ent.staleAt):
			return ent.value, nil
		case now.Before(ent.expireAt):
			// Serve what we have and refresh behind the caller's back.
			c.refreshAsync(key, policy, fetch)
			return ent.value, nil
		}
		// Past expiry: the old value must not be served anymore.
	}

	return c.fetchShared(ctx, key, policy, fetch)
}

// Peek returns the cached value if one is servable (fresh or stale), without
// triggering any fetch.
func (c *Cache) Peek(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ent, ok := c.entries[key]
	if !ok || !time.Now().Before(ent.expireAt) {
		return nil, false
	}
	return ent.value, true
}

// Inspect reports an entry's timestamps. The second return is false when the
// key has no entry at all.
func (c *Cache) Inspect(key string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ent, ok := c.entries[key]
	if !ok {
		return Info{}, false
	}
	return Info{
		Key:         key,
		FetchedAt:   ent.fetchedAt,
		StaleAt:     ent.staleAt,
		ExpireAt:    ent.expireAt,
		Placeholder: ent.placeholder,
	}, true
}

// fetchShared runs one fetch per key no matter how many callers arrive while
// it is in flight; every waiter gets the same result.
func (c *Cache) fetchShared(ctx context.Context, key string, policy Policy, fetch FetchFunc) (json.RawMessage, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding cache value for %s: %w", key, err)
		}
		c.store(key, raw, policy)
		return json.RawMessage(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// refreshAsync kicks a background refetch for a stale entry. Concurrent stale
// reads share the same flight, and a failure only logs: the stale value stays
// servable until it expires.
func (c *Cache) refreshAsync(key string, policy Policy, fetch FetchFunc) {
	go func() {
		_, err, _ := c.group.Do(key, func() (interface{}, error) {
			value, err := fetch(context.Background())
			if err != nil {
				return nil, err
			}
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("encoding cache value for %s: %w", key, err)
			}
			c.store(key, raw, policy)
			return json.RawMessage(raw), nil
		})
		if err != nil {
			logger.LogWarn("Background refresh of %s failed: %v", key, err)
		}
	}()
}

func (c *Cache) store(key string, raw json.RawMessage, policy Policy) {
	now := time.Now()
	ent := &entry{
		value:     raw,
		fetchedAt: now,
		staleAt:   now.Add(policy.StaleAfter),
		expireAt:  now.Add(policy.ExpireAfter),
	}

	c.mu.Lock()
	c.entries[key] = ent
	c.mu.Unlock()

	if c.db != nil {
		if err := c.db.persist(key, ent); err != nil {
			logger.LogWarn("Failed to persist cache entry %s: %v", key, err)
		}
	}
}

// SetPlaceholder registers a derived stand-in value for key so the next read
// has something to show while the authoritative fetch runs. The entry is
// born already stale, so it is served once and immediately refreshed; the
// real result replaces it wholesale. No-op when the key already holds a
// servable value or when derive reports nothing usable.
func (c *Cache) SetPlaceholder(key string, expireAfter time.Duration, derive func() (interface{}, bool)) {
	if _, ok := c.Peek(key); ok {
		return
	}

	value, ok := derive()
	if !ok {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		logger.LogWarn("Could not encode placeholder for %s: %v", key, err)
		return
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, exists := c.entries[key]; exists && now.Before(ent.expireAt) {
		return
	}
	c.entries[key] = &entry{
		value:       raw,
		fetchedAt:   now,
		staleAt:     now,
		expireAt:    now.Add(expireAfter),
		placeholder: true,
	}
	// Placeholders are derived data and are not worth persisting.
}

// Invalidate removes the entry at keyOrPrefix and every entry beneath it.
// Sibling keys sharing a textual prefix are untouched: "inventory/s1" does
// not clear "inventory/s10".
func (c *Cache) Invalidate(keyOrPrefix string) {
	prefix := keyOrPrefix + "/"

	c.mu.Lock()
	var removed []string
	for key := range c.entries {
		if key == keyOrPrefix || strings.HasPrefix(key, prefix) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		delete(c.entries, key)
		c.group.Forget(key)
	}
	c.mu.Unlock()

	if c.db != nil && len(removed) > 0 {
		if err := c.db.remove(keyOrPrefix, prefix); err != nil {
			logger.LogWarn("Failed to remove snapshot entries under %s: %v", keyOrPrefix, err)
		}
	}
}

// PruneExpired sweeps expired entries out of memory and removes up to limit
// expired rows from the snapshot. Entries past expiry are already unservable,
// so this only reclaims space.
func (c *Cache) PruneExpired(limit int) (int, error) {
	now := time.Now()

	c.mu.Lock()
	for key, ent := range c.entries {
		if !now.Before(ent.expireAt) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	if c.db == nil {
		return 0, nil
	}
	return c.db.prune(now, limit)
}

// Clear wipes the cache and its snapshot. Used on sign-out.
func (c *Cache) Clear() error {
	c.mu.Lock()
	for key := range c.entries {
		c.group.Forget(key)
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	if c.db != nil {
		if err := c.db.clear(); err != nil {
			return fmt.Errorf("clearing cache snapshot: %w", err)
		}
	}
	logger.LogInfo("Entity cache cleared")
	return nil
}

// Fetch is the typed read path: it decodes the cached encoding into T.
func Fetch[T any](ctx context.Context, c *Cache, key string, policy Policy, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	raw, err := c.Get(ctx, key, policy, func(ctx context.Context) (interface{}, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decoding cached value for %s: %w", key, err)
	}
	return out, nil
}
