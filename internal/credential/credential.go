package credential

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	_ "modernc.org/sqlite"

	"shelfsync/internal/logger"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

// Well-known credential names. The store itself attaches no meaning to them.
const (
	KeyAccessToken     = "access_token"
	KeySubjectID       = "subject_id"
	KeyUserID          = "user_id"
	KeyStoreIDs        = "store_ids"
	KeySelectedStoreID = "selected_store_id"
)

var (
	// ErrNotFound is returned when a credential name has no stored value.
	ErrNotFound = errors.New("credential not found")
	// ErrLocked is returned when the keyphrase does not match the one the
	// store was created with.
	ErrLocked = errors.New("credential store locked: keyphrase mismatch")
)

const (
	saltSize     = 16
	queryTimeout = time.Second * 10
	hkdfInfo     = "shelfsync credential sealing v1"
	keycheckText = "keycheck"
)

// =============================================================================
// STORE SETUP
// =============================================================================

// Store is an encrypted name/value table backed by a local sqlite file.
// Values are sealed with XChaCha20-Poly1305 under a key derived from the
// keyphrase, so the file on disk never contains a readable token.
type Store struct {
	db   *sql.DB
	aead cipher.AEAD
}

// Open opens (or creates) the credential database at path and unlocks it with
// keyphrase. A fresh database is initialized with a random salt; an existing
// one rejects a wrong keyphrase with ErrLocked.
func Open(path, keyphrase string) (*Store, error) {
	db, err := openDBWithRetry(path, 3)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing credential tables: %w", err)
	}

	salt, created, err := loadOrCreateSalt(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(keyphrase), salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		db.Close()
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}

	s := &Store{db: db, aead: aead}

	if created {
		if err := s.writeKeycheck(); err != nil {
			db.Close()
			return nil, err
		}
		logger.LogInfo("Initialized new credential store at %s", path)
	} else if err := s.verifyKeycheck(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func openDBWithRetry(path string, maxRetries int) (*sql.DB, error) {
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("sqlite", path)
		if err != nil {
			logger.LogWarn("Credential database open attempt %d failed: %v", attempt, err)
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return nil, fmt.Errorf("failed to open credential database after %d attempts: %w", maxRetries, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		err = db.PingContext(ctx)
		cancel()

		if err != nil {
			logger.LogWarn("Credential database ping attempt %d failed: %v", attempt, err)
			db.Close()
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return nil, fmt.Errorf("failed to ping credential database after %d attempts: %w", maxRetries, err)
		}

		if err := enablePragmas(db); err != nil {
			logger.LogWarn("Failed to enable some credential database optimizations: %v", err)
		}

		return db, nil
	}

	return nil, fmt.Errorf("failed to open credential database after %d attempts", maxRetries)
}

func enablePragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	var lastErr error
	for _, pragma := range pragmas {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		_, err := conn.ExecContext(ctx, pragma)
		cancel()

		if err != nil {
			logger.LogWarn("Failed to execute %s: %v", pragma, err)
			lastErr = err
		}
	}
	return lastErr
}

const credentialTableSchema = `
    CREATE TABLE IF NOT EXISTS credentials (
        name TEXT PRIMARY KEY,
        value BLOB NOT NULL,
        updated_at TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS credential_meta (
        name TEXT PRIMARY KEY,
        value BLOB NOT NULL
    );`

func createTables(db *sql.DB) error {
	_, err := db.Exec(credentialTableSchema)
	return err
}

func loadOrCreateSalt(db *sql.DB) ([]byte, bool, error) {
	var salt []byte
	err := db.QueryRow(`SELECT value FROM credential_meta WHERE name = 'salt'`).Scan(&salt)
	if err == nil {
		return salt, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("reading salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, false, fmt.Errorf("generating salt: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO credential_meta (name, value) VALUES ('salt', ?)`, salt); err != nil {
		return nil, false, fmt.Errorf("storing salt: %w", err)
	}
	return salt, true, nil
}

func (s *Store) writeKeycheck() error {
	sealed, err := s.seal(keycheckText, []byte(keycheckText))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO credential_meta (name, value) VALUES ('keycheck', ?)`, sealed)
	if err != nil {
		return fmt.Errorf("storing keycheck: %w", err)
	}
	return nil
}

func (s *Store) verifyKeycheck() error {
	var blob []byte
	err := s.db.QueryRow(`SELECT value FROM credential_meta WHERE name = 'keycheck'`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		// Pre-existing database without a marker; write one under the current key.
		return s.writeKeycheck()
	}
	if err != nil {
		return fmt.Errorf("reading keycheck: %w", err)
	}

	if _, err := s.unseal(keycheckText, blob); err != nil {
		return ErrLocked
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// SEALING
// =============================================================================

// seal encrypts plaintext under a fresh random nonce. The credential name is
// bound in as additional data so a value cannot be swapped between names.
func (s *Store) seal(name string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(name)), nil
}

func (s *Store) unseal(name string, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("sealed value for %s is truncated", name)
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("unsealing %s: %w", name, err)
	}
	return plaintext, nil
}

// =============================================================================
// VALUE OPERATIONS
// =============================================================================

// Get returns the stored value for name, or ErrNotFound.
func (s *Store) Get(name string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE name = ?`, name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading credential %s: %w", name, err)
	}

	plaintext, err := s.unseal(name, blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Set stores value under name, replacing any previous value.
func (s *Store) Set(name, value string) error {
	sealed, err := s.seal(name, []byte(value))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO credentials (name, value, updated_at) VALUES (?, ?, ?)`,
		name, sealed, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing credential %s: %w", name, err)
	}
	return nil
}

// GetJSON unmarshals the stored value for name into v.
func (s *Store) GetJSON(name string, v interface{}) error {
	raw, err := s.Get(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parsing credential %s: %w", name, err)
	}
	return nil
}

// SetJSON marshals v and stores it under name.
func (s *Store) SetJSON(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling credential %s: %w", name, err)
	}
	return s.Set(name, string(data))
}

// Delete removes name. Deleting an absent name is not an error.
func (s *Store) Delete(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting credential %s: %w", name, err)
	}
	return nil
}

// Clear removes every stored credential. The store remains usable under the
// same keyphrase afterwards.
func (s *Store) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials`)
	if err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	logger.LogInfo("Credential store cleared")
	return nil
}
