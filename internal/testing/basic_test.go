package testing

import (
	"testing"
)

func TestBasic(t *testing.T) {
	t.Log("Basic test running")

	// Test that we can create a test suite
	suite := NewTestSuite(t)

	// Test that we can generate test data
	draft := suite.GenerateTestDraft("")

	if draft.InventoryItemID == "" {
		t.Error("InventoryItemID should not be empty")
	}

	if draft.Price == "" {
		t.Error("Price should not be empty")
	}

	token := MakeTestToken("auth0|smoke")
	if token == "" {
		t.Error("Token should not be empty")
	}

	t.Logf("✅ Basic test passed - CatalogID: %s", draft.InventoryItemID)
}
