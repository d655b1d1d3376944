// test_helpers.go - suite wiring for integration tests
package testing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shelfsync/internal/api"
	"shelfsync/internal/cache"
	"shelfsync/internal/credential"
	"shelfsync/internal/inventory"
	"shelfsync/internal/reconcile"
	"shelfsync/internal/session"
)

// TestConfig holds configuration for test runs
type TestConfig struct {
	CredentialDBPath string
	CacheDBPath      string
	Keyphrase        string
	TestDataDir      string
}

// TestSuite wires the full client stack against a mock backend. Every suite
// gets its own temporary credential and cache databases.
type TestSuite struct {
	Config    TestConfig
	Mock      *MockInventoryService
	Creds     *credential.Store
	Cache     *cache.Cache
	API       *api.Client
	Session   *session.Resolver
	Inventory *inventory.Service
	Engine    *reconcile.Engine

	mu        sync.Mutex
	testCount int
}

// NewTestSuite creates a new test suite with its own databases and mock
// backend, torn down via t.Cleanup.
func NewTestSuite(t *testing.T) *TestSuite {
	// Create unique temporary directory for each test run
	testDir := filepath.Join(os.TempDir(), fmt.Sprintf("shelfsync_test_%d_%d",
		time.Now().UnixNano(), os.Getpid()))
	if err := os.MkdirAll(testDir, 0755); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}

	config := TestConfig{
		CredentialDBPath: filepath.Join(testDir, "credentials.db"),
		CacheDBPath:      filepath.Join(testDir, "cache.db"),
		Keyphrase:        "correct horse battery staple",
		TestDataDir:      testDir,
	}

	suite := &TestSuite{
		Config: config,
		Mock:   NewMockInventoryService(),
	}

	if err := suite.openStack(); err != nil {
		suite.Mock.Close()
		t.Fatalf("Failed to open test stack: %v", err)
	}

	t.Cleanup(func() {
		suite.Cleanup()
	})

	return suite
}

// openStack opens the local stores and builds the layers against the mock.
func (ts *TestSuite) openStack() error {
	creds, err := credential.Open(ts.Config.CredentialDBPath, ts.Config.Keyphrase)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	entityCache, err := cache.New(ts.Config.CacheDBPath)
	if err != nil {
		creds.Close()
		return fmt.Errorf("opening entity cache: %w", err)
	}

	client := api.NewClient(ts.Mock.Server.URL, ts.Mock.Server.URL, creds)

	ts.Creds = creds
	ts.Cache = entityCache
	ts.API = client
	ts.Session = session.NewResolver(creds, client, entityCache)
	ts.Inventory = inventory.NewService(client, entityCache, ts.Session)
	ts.Engine = reconcile.NewEngine(client, ts.Session, entityCache)
	return nil
}

// Restart closes and reopens the local stores on the same paths, simulating
// an app relaunch. The mock backend and its state survive.
func (ts *TestSuite) Restart(t *testing.T) {
	t.Helper()

	ts.Cache.Close()
	ts.Creds.Close()

	if err := ts.openStack(); err != nil {
		t.Fatalf("Failed to reopen test stack: %v", err)
	}
}

// Cleanup closes the stores and removes temporary test files
func (ts *TestSuite) Cleanup() {
	if ts.Cache != nil {
		ts.Cache.Close()
	}
	if ts.Creds != nil {
		ts.Creds.Close()
	}
	if ts.Mock != nil {
		ts.Mock.Close()
	}

	// Wait a moment for file handles to be released
	time.Sleep(200 * time.Millisecond)

	if err := os.RemoveAll(ts.Config.TestDataDir); err != nil {
		fmt.Printf("Warning: failed to cleanup test directory %s: %v\n", ts.Config.TestDataDir, err)
	}
}

// SignIn stores a token for the given subject and lets the resolver pick it
// up. The default mock account is subject auth0|melissa.
func (ts *TestSuite) SignIn(t *testing.T, subject string) {
	t.Helper()

	if err := ts.Session.SignIn(MakeTestToken(subject)); err != nil {
		t.Fatalf("Sign in failed: %v", err)
	}
}

// MakeTestToken builds an unsigned JWT carrying the given subject. The
// resolver only ever reads claims client-side, so no real signature is
// needed.
func MakeTestToken(subject string) string {
	return MakeTestTokenClaims(map[string]interface{}{
		"sub": subject,
		"iat": time.Now().Unix(),
	})
}

// MakeTestTokenClaims builds an unsigned JWT from arbitrary claims.
func MakeTestTokenClaims(claims map[string]interface{}) string {
	header, _ := json.Marshal(map[string]interface{}{"alg": "HS256", "typ": "JWT"})
	body, _ := json.Marshal(claims)

	encode := base64.RawURLEncoding.EncodeToString
	return fmt.Sprintf("%s.%s.%s", encode(header), encode(body), encode([]byte("unsigned")))
}

// GenerateCatalogID creates a unique master-catalog id for a test
func (ts *TestSuite) GenerateCatalogID() string {
	ts.mu.Lock()
	ts.testCount++
	count := ts.testCount
	ts.mu.Unlock()

	return fmt.Sprintf("cat-item-%d-%d", time.Now().Unix(), count)
}

// AssertNoError fails the test if error is not nil
func (ts *TestSuite) AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// AssertError fails the test if error is nil
func (ts *TestSuite) AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error but got nil")
	}
}

// WaitForCondition waits for a condition to be true or timeout
func (ts *TestSuite) WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
