package testing

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"shelfsync/internal/api"
	"shelfsync/internal/catalog"
	"shelfsync/internal/inventory"
	"shelfsync/internal/logger"
	"shelfsync/internal/session"
)

var (
	// Test configuration flags
	runLoad     = flag.Bool("load", false, "Run load tests")
	testTimeout = flag.Duration("timeout", 30*time.Second, "Test timeout duration")
	verbose     = flag.Bool("v", false, "Verbose test output")
)

func TestMain(m *testing.M) {
	flag.Parse()

	if *verbose {
		logger.LogInfo("Starting tests in verbose mode")
	}

	fmt.Println("🧪 Starting ShelfSync Test Suite")
	fmt.Println("================================")

	if *testTimeout > 0 {
		fmt.Printf("Test timeout: %v\n", *testTimeout)
	}

	exitCode := m.Run()

	fmt.Println("\n🏁 Test Suite Complete")
	fmt.Println("======================")

	os.Exit(exitCode)
}

// TestSystemIntegration runs the full client stack against the mock backend
func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	suite := NewTestSuite(t)

	t.Run("FullSignInFlow", func(t *testing.T) {
		testFullSignInFlow(t, suite)
	})

	t.Run("FullInventoryFlow", func(t *testing.T) {
		testFullInventoryFlow(t, suite)
	})

	t.Run("FullReconcileFlow", func(t *testing.T) {
		testFullReconcileFlow(t, suite)
	})

	t.Run("ErrorRecovery", func(t *testing.T) {
		testErrorRecovery(t, suite)
	})
}

func testFullSignInFlow(t *testing.T, suite *TestSuite) {
	ctx := context.Background()
	start := time.Now()

	// 1. User signs in with a token from the identity provider
	suite.SignIn(t, "auth0|melissa")
	t.Logf("✓ Token stored")

	// 2. First resolve walks the whole chain
	oc, err := suite.Session.Resolve(ctx, false)
	suite.AssertNoError(t, err)

	if oc.SubjectID != "auth0|melissa" {
		t.Errorf("Expected subject auth0|melissa, got %s", oc.SubjectID)
	}
	if oc.UserID != "u-100" {
		t.Errorf("Expected user u-100, got %s", oc.UserID)
	}
	if len(oc.StoreIDs) != 2 {
		t.Errorf("Expected 2 owned stores, got %d", len(oc.StoreIDs))
	}
	if oc.SelectedStoreID != "s-north" {
		t.Errorf("Expected default selection s-north, got %s", oc.SelectedStoreID)
	}
	t.Logf("✓ Operating context resolved (User: %s, Store: %s)", oc.UserID, oc.SelectedStoreID)

	// 3. Second resolve reads stored values, no extra network
	before := suite.Mock.GetStats()
	_, err = suite.Session.Resolve(ctx, false)
	suite.AssertNoError(t, err)
	after := suite.Mock.GetStats()

	if after["user_lookups"] != before["user_lookups"] {
		t.Errorf("Second resolve hit the user directory again")
	}
	if after["store_lists"] != before["store_lists"] {
		t.Errorf("Second resolve hit the store directory again")
	}
	t.Logf("✓ Warm resolve served from the credential store")

	// 4. Store selection
	err = suite.Session.SelectStore(ctx, "s-south")
	suite.AssertNoError(t, err)

	oc, err = suite.Session.Resolve(ctx, false)
	suite.AssertNoError(t, err)
	if oc.SelectedStoreID != "s-south" {
		t.Errorf("Expected selection s-south, got %s", oc.SelectedStoreID)
	}

	err = suite.Session.SelectStore(ctx, "s-elsewhere")
	if !errors.Is(err, session.ErrStoreNotOwned) {
		t.Errorf("Expected ErrStoreNotOwned, got %v", err)
	}
	t.Logf("✓ Store selection validated against the owned set")

	// 5. Reference data warmup
	err = suite.Inventory.Warmup(ctx)
	suite.AssertNoError(t, err)

	if _, ok := suite.Cache.Inspect(inventory.CategoriesKey); !ok {
		t.Errorf("Warmup did not cache categories")
	}
	t.Logf("✅ Full sign-in flow completed in %v", time.Since(start))
}

func testFullInventoryFlow(t *testing.T, suite *TestSuite) {
	ctx := context.Background()
	start := time.Now()

	// Work in the default store
	suite.AssertNoError(t, suite.Session.SelectStore(ctx, "s-north"))

	// 1. Seed the backend, one clean record and one with legacy spellings
	cleanID := suite.Mock.SeedItem("s-north", suite.GenerateTestItem())
	messyID := suite.Mock.SeedItem("s-north", suite.GenerateTestItem("messy"))

	items, err := suite.Inventory.Items(ctx)
	suite.AssertNoError(t, err)
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	t.Logf("✓ Inventory listed (%d items)", len(items))

	// 2. Legacy spellings normalized into the canonical shape
	for _, item := range items {
		if item.ID != messyID {
			continue
		}
		if item.Name != "Orange Juice 1L" {
			t.Errorf("Expected productName fallback, got name %q", item.Name)
		}
		if item.Price != 4.99 {
			t.Errorf("Expected string price coerced to 4.99, got %v", item.Price)
		}
		if item.StockQuantity != 24 {
			t.Errorf("Expected string stock coerced to 24, got %d", item.StockQuantity)
		}
		if !item.Active {
			t.Errorf("Expected active 'yes' coerced to true")
		}
	}
	t.Logf("✓ Legacy payload normalized")

	// 3. Detail read answers from the cached list, then the authoritative
	// fetch lands in the background
	detail, err := suite.Inventory.ItemDetail(ctx, cleanID)
	suite.AssertNoError(t, err)
	if detail.ID != cleanID {
		t.Errorf("Expected detail for %s, got %s", cleanID, detail.ID)
	}

	refreshed := suite.WaitForCondition(func() bool {
		return suite.Mock.GetStats()["item_reads"] >= 1
	}, 2*time.Second)
	if !refreshed {
		t.Errorf("Authoritative detail fetch never happened")
	}
	t.Logf("✓ Detail served from list scan, refreshed in background")

	// 4. Stock mutation refreshes exactly the item and the list
	categoriesBefore, ok := suite.Cache.Inspect(inventory.CategoriesKey)
	if !ok {
		t.Fatalf("Categories should be cached from warmup")
	}
	listBefore := suite.Mock.GetStats()["inventory_reads"]

	updated, err := suite.Inventory.AddStock(ctx, cleanID, 6)
	suite.AssertNoError(t, err)
	if updated.StockQuantity != 30 {
		t.Errorf("Expected stock 30 after add, got %d", updated.StockQuantity)
	}

	_, err = suite.Inventory.Items(ctx)
	suite.AssertNoError(t, err)
	if suite.Mock.GetStats()["inventory_reads"] != listBefore+1 {
		t.Errorf("List read after mutation should have hit the network")
	}

	categoriesAfter, _ := suite.Cache.Inspect(inventory.CategoriesKey)
	if !categoriesAfter.FetchedAt.Equal(categoriesBefore.FetchedAt) {
		t.Errorf("Mutation disturbed the categories cache entry")
	}
	t.Logf("✓ Mutation invalidated the item and list, spared reference data")

	// 5. Tax toggle
	taxed, err := suite.Inventory.SetTax(ctx, cleanID, true, 8.25)
	suite.AssertNoError(t, err)
	if !taxed.TaxEnabled || taxed.TaxRate != 8.25 {
		t.Errorf("Expected tax on at 8.25, got enabled=%v rate=%v", taxed.TaxEnabled, taxed.TaxRate)
	}

	t.Logf("✅ Full inventory flow completed in %v", time.Since(start))
}

func testFullReconcileFlow(t *testing.T, suite *TestSuite) {
	ctx := context.Background()
	start := time.Now()

	suite.AssertNoError(t, suite.Session.SelectStore(ctx, "s-south"))

	// 1. One catalog entry already exists in the store, one is new
	existing := suite.GenerateTestItem()
	existing["inventoryItemId"] = "cat-item-42"
	suite.Mock.SeedItem("s-south", existing)

	batch := []catalog.SelectionDraft{
		suite.GenerateTestDraft("cat-item-42"),
		suite.GenerateTestDraft("cat-item-99"),
	}

	summary, err := suite.Engine.Reconcile(ctx, batch)
	suite.AssertNoError(t, err)

	if summary.Added != 1 || summary.Updated != 1 || len(summary.Failed) != 0 {
		t.Errorf("Expected 1 added / 1 updated / 0 failed, got %d/%d/%d",
			summary.Added, summary.Updated, len(summary.Failed))
	}
	t.Logf("✓ Mixed batch reconciled (RunID: %s)", summary.RunID)

	// 2. Rerunning the same batch converges to updates only
	summary, err = suite.Engine.Reconcile(ctx, batch)
	suite.AssertNoError(t, err)

	if summary.Added != 0 || summary.Updated != 2 {
		t.Errorf("Expected rerun to be 0 added / 2 updated, got %d/%d",
			summary.Added, summary.Updated)
	}
	t.Logf("✓ Rerun is idempotent")

	// 3. One poisoned item fails alone, the rest of the batch lands
	wide := suite.GenerateDraftBatch(5)
	suite.Mock.FailWrites(wide[2].InventoryItemID)
	createsBefore := suite.Mock.GetStats()["creates"]

	summary, err = suite.Engine.Reconcile(ctx, wide)
	suite.AssertNoError(t, err)

	if summary.Added+summary.Updated != 4 {
		t.Errorf("Expected 4 commits, got %d", summary.Added+summary.Updated)
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Draft.InventoryItemID != wide[2].InventoryItemID {
		t.Fatalf("Expected exactly draft %s to fail, got %+v", wide[2].InventoryItemID, summary.Failed)
	}
	if summary.Failed[0].Message != "item rejected by catalog rules" {
		t.Errorf("Expected the server's message, got %q", summary.Failed[0].Message)
	}
	if suite.Mock.GetStats()["creates"] != createsBefore+5 {
		t.Errorf("All 5 creates should have been attempted")
	}
	t.Logf("✓ Partial failure isolated to one draft")

	// 4. The failed subset retries cleanly once the backend accepts it
	suite.Mock.ClearWriteFailures()

	summary, err = suite.Engine.Reconcile(ctx, summary.FailedDrafts())
	suite.AssertNoError(t, err)
	if summary.Added != 1 || len(summary.Failed) != 0 {
		t.Errorf("Expected retry to add 1, got %d added / %d failed",
			summary.Added, len(summary.Failed))
	}
	t.Logf("✓ Failed subset retried")

	// 5. Unparseable drafts fail before any network call
	invalid := suite.GenerateDraftBatch(1)
	invalid = append(invalid, suite.GenerateTestDraft("", "bad_price"))
	invalid = append(invalid, suite.GenerateTestDraft("", "fractional_quantity"))
	createsBefore = suite.Mock.GetStats()["creates"]

	summary, err = suite.Engine.Reconcile(ctx, invalid)
	suite.AssertNoError(t, err)

	if summary.Added != 1 || len(summary.Failed) != 2 {
		t.Errorf("Expected 1 added / 2 failed, got %d/%d", summary.Added, len(summary.Failed))
	}
	if suite.Mock.GetStats()["creates"] != createsBefore+1 {
		t.Errorf("Invalid drafts must not reach the network")
	}
	t.Logf("✓ Validation failures stayed local")

	t.Logf("✅ Full reconcile flow completed in %v", time.Since(start))
}

func testErrorRecovery(t *testing.T, suite *TestSuite) {
	ctx := context.Background()

	suite.AssertNoError(t, suite.Session.SelectStore(ctx, "s-north"))

	// Backend outage surfaces as a typed API error on a cold read
	suite.Cache.Invalidate(inventory.ListKey("s-north"))
	suite.Mock.SetFailureMode(false, false, true)

	_, err := suite.Inventory.Items(ctx)
	suite.AssertError(t, err)

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Errorf("Expected a 503 APIError, got %v", err)
	}
	t.Logf("✓ Backend outage simulated and caught")

	// Recovery: the same read works once the backend is back
	suite.Mock.SetFailureMode(false, false, false)

	_, err = suite.Inventory.Items(ctx)
	suite.AssertNoError(t, err)
	t.Logf("✓ Read recovered after outage")

	// Sign-out wipes both stores; the next resolve demands re-auth
	suite.AssertNoError(t, suite.Session.SignOut())

	_, err = suite.Session.Resolve(ctx, false)
	if !errors.Is(err, session.ErrMissingSubject) {
		t.Errorf("Expected ErrMissingSubject after sign-out, got %v", err)
	}
	if _, ok := suite.Cache.Inspect(inventory.CategoriesKey); ok {
		t.Errorf("Sign-out should have cleared cached reference data")
	}

	// Signing back in restores a working session
	suite.SignIn(t, "auth0|melissa")
	_, err = suite.Session.Resolve(ctx, false)
	suite.AssertNoError(t, err)

	t.Log("✅ Error recovery tests completed")
}

// Load tests (only run when -load flag is set)
func TestLoadTesting(t *testing.T) {
	if !*runLoad {
		t.Skip("Load testing disabled (use -load flag to enable)")
	}

	suite := NewTestSuite(t)
	suite.SignIn(t, "auth0|melissa")

	t.Run("HighVolumeReconcile", func(t *testing.T) {
		testHighVolumeReconcile(t, suite, 100)
	})

	t.Run("ConcurrentCachedReads", func(t *testing.T) {
		testConcurrentCachedReads(t, suite, 200)
	})
}

func testHighVolumeReconcile(t *testing.T, suite *TestSuite, numDrafts int) {
	ctx := context.Background()
	start := time.Now()

	summary, err := suite.Engine.Reconcile(ctx, suite.GenerateDraftBatch(numDrafts))
	suite.AssertNoError(t, err)

	duration := time.Since(start)
	throughput := float64(numDrafts) / duration.Seconds()
	successRate := float64(summary.Added+summary.Updated) / float64(numDrafts) * 100

	t.Logf("Reconcile: %d drafts, %d failed, %.1f%% success rate, %.1f drafts/sec",
		numDrafts, len(summary.Failed), successRate, throughput)

	if successRate < 100.0 {
		t.Errorf("Success rate too low: %.1f%%", successRate)
	}
}

func testConcurrentCachedReads(t *testing.T, suite *TestSuite, numReads int) {
	ctx := context.Background()

	// Prime once so the flood rides the cache
	_, err := suite.Inventory.Items(ctx)
	suite.AssertNoError(t, err)

	start := time.Now()
	results := make(chan error, numReads)

	for i := 0; i < numReads; i++ {
		go func() {
			_, err := suite.Inventory.Items(ctx)
			results <- err
		}()
	}

	var errors []error
	for i := 0; i < numReads; i++ {
		if err := <-results; err != nil {
			errors = append(errors, err)
		}
	}

	duration := time.Since(start)
	successRate := float64(numReads-len(errors)) / float64(numReads) * 100

	t.Logf("Concurrent reads: %d total, %d errors, %.1f%% success rate, %v duration",
		numReads, len(errors), successRate, duration)

	if successRate < 100.0 {
		t.Errorf("Success rate too low: %.1f%%", successRate)
	}
}

// Benchmark tests
func BenchmarkCachedItems(b *testing.B) {
	suite := NewTestSuite(&testing.T{})
	defer suite.Cleanup()

	if err := suite.Session.SignIn(MakeTestToken("auth0|melissa")); err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()
	suite.Mock.SeedItem("s-north", suite.GenerateTestItem())
	if _, err := suite.Inventory.Items(ctx); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := suite.Inventory.Items(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCredentialRoundtrip(b *testing.B) {
	suite := NewTestSuite(&testing.T{})
	defer suite.Cleanup()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := suite.Creds.Set("bench_key", "bench_value"); err != nil {
			b.Fatal(err)
		}
		if _, err := suite.Creds.Get("bench_key"); err != nil {
			b.Fatal(err)
		}
	}
}
