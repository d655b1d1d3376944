package credential

import (
	"bytes"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T, path, keyphrase string) *Store {
	t.Helper()

	store, err := Open(path, keyphrase)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func TestRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store := openTestStore(t, path, "test-keyphrase")
	defer store.Close()

	if err := store.Set(KeyAccessToken, "tok-123"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := store.Get(KeyAccessToken)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "tok-123" {
		t.Errorf("Expected tok-123, got %q", value)
	}

	// Overwrite wins
	if err := store.Set(KeyAccessToken, "tok-456"); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	value, _ = store.Get(KeyAccessToken)
	if value != "tok-456" {
		t.Errorf("Expected tok-456 after overwrite, got %q", value)
	}

	if err := store.Delete(KeyAccessToken); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(KeyAccessToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent name is fine
	if err := store.Delete(KeyAccessToken); err != nil {
		t.Errorf("Deleting absent name should not error, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store := openTestStore(t, path, "test-keyphrase")
	defer store.Close()

	if _, err := store.Get("never_stored"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestJSONRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store := openTestStore(t, path, "test-keyphrase")
	defer store.Close()

	stored := []string{"s-north", "s-south"}
	if err := store.SetJSON(KeyStoreIDs, stored); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var loaded []string
	if err := store.GetJSON(KeyStoreIDs, &loaded); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if len(loaded) != 2 || loaded[0] != "s-north" || loaded[1] != "s-south" {
		t.Errorf("Roundtrip mismatch: %v", loaded)
	}

	var missing []string
	if err := store.GetJSON("never_stored", &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestWrongKeyphraseLocksOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	store := openTestStore(t, path, "right-keyphrase")
	if err := store.Set(KeyAccessToken, "tok-123"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	store.Close()

	if _, err := Open(path, "wrong-keyphrase"); !errors.Is(err, ErrLocked) {
		t.Fatalf("Expected ErrLocked with the wrong keyphrase, got %v", err)
	}

	// The right keyphrase still opens and reads
	store = openTestStore(t, path, "right-keyphrase")
	defer store.Close()

	value, err := store.Get(KeyAccessToken)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if value != "tok-123" {
		t.Errorf("Expected tok-123 after reopen, got %q", value)
	}
}

func TestClearKeepsStoreUsable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store := openTestStore(t, path, "test-keyphrase")

	names := []string{KeyAccessToken, KeySubjectID, KeyUserID}
	for _, name := range names {
		if err := store.Set(name, "value-for-"+name); err != nil {
			t.Fatalf("Set %s failed: %v", name, err)
		}
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	for _, name := range names {
		if _, err := store.Get(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected %s gone after Clear, got %v", name, err)
		}
	}

	// The store keeps working under the same keyphrase, including across
	// a close and reopen
	if err := store.Set(KeyAccessToken, "tok-after-clear"); err != nil {
		t.Fatalf("Set after Clear failed: %v", err)
	}
	store.Close()

	store = openTestStore(t, path, "test-keyphrase")
	defer store.Close()

	value, err := store.Get(KeyAccessToken)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if value != "tok-after-clear" {
		t.Errorf("Expected tok-after-clear, got %q", value)
	}
}

func TestValuesSealedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store := openTestStore(t, path, "test-keyphrase")

	const secret = "very-recognizable-secret-token"
	if err := store.Set(KeyAccessToken, secret); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	store.Close()

	// Read the row straight out of the file
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Raw open failed: %v", err)
	}
	defer db.Close()

	var blob []byte
	err = db.QueryRow(`SELECT value FROM credentials WHERE name = ?`, KeyAccessToken).Scan(&blob)
	if err != nil {
		t.Fatalf("Raw read failed: %v", err)
	}

	if bytes.Contains(blob, []byte(secret)) {
		t.Errorf("Stored blob contains the plaintext secret")
	}
	if len(blob) <= len(secret) {
		t.Errorf("Sealed blob suspiciously small: %d bytes", len(blob))
	}
}

// A sealed value copied onto another name must not unseal, since the name is
// bound into the ciphertext.
func TestSealedValueBoundToName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	store := openTestStore(t, path, "test-keyphrase")

	if err := store.Set(KeyAccessToken, "tok-123"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(KeyUserID, "u-100"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Raw open failed: %v", err)
	}
	_, err = db.Exec(`UPDATE credentials
		SET value = (SELECT value FROM credentials WHERE name = ?)
		WHERE name = ?`, KeyAccessToken, KeyUserID)
	db.Close()
	if err != nil {
		t.Fatalf("Raw swap failed: %v", err)
	}

	store = openTestStore(t, path, "test-keyphrase")
	defer store.Close()

	if _, err := store.Get(KeyUserID); err == nil {
		t.Error("Expected the swapped value to fail unsealing")
	}
}
