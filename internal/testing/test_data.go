// test_data.go - generators for inventory records and selection drafts
package testing

import (
	"fmt"

	"shelfsync/internal/catalog"
)

// GenerateTestItem builds a raw inventory record payload the way the remote
// service would send it, ready to seed into the mock backend.
func (ts *TestSuite) GenerateTestItem(variations ...string) map[string]interface{} {
	catalogID := ts.GenerateCatalogID()

	item := map[string]interface{}{
		"inventoryItemId": catalogID,
		"itemName":        "Orange Juice 1L",
		"sku":             "OJ-1000",
		"price":           4.99,
		"stockQuantity":   24,
		"categories":      []interface{}{"Beverages"},
		"brand":           "Sunrise Farms",
		"taxEnabled":      false,
		"active":          true,
	}

	// Apply variations
	for _, variation := range variations {
		switch variation {
		case "messy":
			// Alternate key spellings and types older backends still send
			delete(item, "itemName")
			item["productName"] = "Orange Juice 1L"
			item["price"] = "4.99"
			item["stockQuantity"] = "24"
			item["active"] = "yes"
		case "no_stock":
			item["stockQuantity"] = 0
		case "taxed":
			item["taxEnabled"] = true
			item["taxRate"] = 8.25
		case "inactive":
			item["active"] = false
		}
	}

	return item
}

// GenerateTestDraft builds a selection draft as the pick-from-catalog screen
// would hand it over, with price and quantity still raw strings.
func (ts *TestSuite) GenerateTestDraft(catalogID string, variations ...string) catalog.SelectionDraft {
	if catalogID == "" {
		catalogID = ts.GenerateCatalogID()
	}

	draft := catalog.SelectionDraft{
		InventoryItemID: catalogID,
		Name:            "Granola Bars 6pk",
		SKU:             "GB-0600",
		Price:           "6.49",
		StockQuantity:   "12",
		TaxEnabled:      false,
		Active:          true,
	}

	// Apply variations
	for _, variation := range variations {
		switch variation {
		case "bad_price":
			draft.Price = "six dollars"
		case "negative_price":
			draft.Price = "-1.00"
		case "bad_quantity":
			draft.StockQuantity = "a dozen"
		case "fractional_quantity":
			draft.StockQuantity = "12.5"
		case "seasonal":
			draft.Seasonal = true
		case "discontinued":
			draft.Discontinued = true
			draft.Active = false
		}
	}

	return draft
}

// GenerateDraftBatch builds n valid drafts with distinct catalog ids.
func (ts *TestSuite) GenerateDraftBatch(n int) []catalog.SelectionDraft {
	drafts := make([]catalog.SelectionDraft, n)
	for i := range drafts {
		drafts[i] = ts.GenerateTestDraft("")
		drafts[i].Name = fmt.Sprintf("Batch Item %d", i+1)
	}
	return drafts
}
