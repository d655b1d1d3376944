package catalog

import (
	"encoding/json"
	"testing"
	"time"
)

// decodePayload runs a raw JSON object through encoding/json so the value
// types in the map match what the API client actually hands the normalizers.
func decodePayload(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("Bad test payload: %v", err)
	}
	return payload
}

func TestNormalizeItemModernPayload(t *testing.T) {
	item := NormalizeItem(decodePayload(t, `{
		"id": "rec-0001",
		"inventoryItemId": "cat-77",
		"itemName": "Orange Juice 1L",
		"sku": "OJ-1000",
		"upc": "012345678905",
		"price": 4.99,
		"stockQuantity": 24,
		"categories": ["Beverages", "Chilled"],
		"subCategory": "Juice",
		"brand": "Sunrise",
		"measurementUnit": "bottle",
		"taxEnabled": true,
		"taxRate": 8.25,
		"active": true,
		"updatedAt": "2026-02-11T09:30:00Z"
	}`))

	if item.ID != "rec-0001" || item.InventoryItemID != "cat-77" {
		t.Errorf("Identifier mapping broken: %+v", item)
	}
	if item.Name != "Orange Juice 1L" || item.SKU != "OJ-1000" || item.ProductCode != "012345678905" {
		t.Errorf("Descriptive fields broken: %+v", item)
	}
	if item.Price != 4.99 || item.StockQuantity != 24 {
		t.Errorf("Numeric fields broken: price=%v stock=%v", item.Price, item.StockQuantity)
	}
	if len(item.Categories) != 2 || item.Categories[0] != "Beverages" {
		t.Errorf("Categories broken: %v", item.Categories)
	}
	if item.SubCategory != "Juice" || item.Brand != "Sunrise" || item.MeasurementUnit != "bottle" {
		t.Errorf("Name fields broken: %+v", item)
	}
	if !item.TaxEnabled || item.TaxRate != 8.25 || !item.Active {
		t.Errorf("Flag fields broken: %+v", item)
	}
	want := time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)
	if !item.UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", item.UpdatedAt, want)
	}
}

// Older endpoints still answer with snake_case keys, stringly-typed numbers,
// and productName instead of itemName. All of it must land in the same
// canonical shape.
func TestNormalizeItemLegacyPayload(t *testing.T) {
	item := NormalizeItem(decodePayload(t, `{
		"_id": "rec-0002",
		"inventory_item_id": "cat-78",
		"productName": "Granola Bars 6pk",
		"sku_code": "GB-600",
		"barcode": "899999999990",
		"selling_price": "6.49",
		"stock_quantity": "12",
		"category": "Snacks",
		"sub_category": {"name": "Bars"},
		"brandName": {"title": "TrailHouse"},
		"uom": {"label": "box"},
		"taxable": "yes",
		"available": "1",
		"lastUpdated": 1700000000
	}`))

	if item.ID != "rec-0002" || item.InventoryItemID != "cat-78" {
		t.Errorf("Snake-case identifiers broken: %+v", item)
	}
	if item.Name != "Granola Bars 6pk" {
		t.Errorf("productName should back-fill Name, got %q", item.Name)
	}
	if item.SKU != "GB-600" || item.ProductCode != "899999999990" {
		t.Errorf("Legacy code fields broken: %+v", item)
	}
	if item.Price != 6.49 {
		t.Errorf("String price not coerced: %v", item.Price)
	}
	if item.StockQuantity != 12 {
		t.Errorf("String quantity not coerced: %v", item.StockQuantity)
	}
	if len(item.Categories) != 1 || item.Categories[0] != "Snacks" {
		t.Errorf("Bare-string category broken: %v", item.Categories)
	}
	if item.SubCategory != "Bars" || item.Brand != "TrailHouse" || item.MeasurementUnit != "box" {
		t.Errorf("Nested name objects broken: %+v", item)
	}
	if !item.TaxEnabled || !item.Active {
		t.Errorf("String booleans broken: %+v", item)
	}
	if !item.UpdatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Epoch seconds broken: %v", item.UpdatedAt)
	}
}

func TestCandidateKeyOrder(t *testing.T) {
	// The first present key wins even when later candidates also exist
	item := NormalizeItem(decodePayload(t, `{
		"itemName": "Canonical",
		"productName": "Legacy",
		"name": "Older still"
	}`))
	if item.Name != "Canonical" {
		t.Errorf("Expected the first candidate to win, got %q", item.Name)
	}

	// JSON null counts as absent and falls through to the next candidate
	item = NormalizeItem(decodePayload(t, `{
		"itemName": null,
		"productName": "Fallback"
	}`))
	if item.Name != "Fallback" {
		t.Errorf("Null should fall through, got %q", item.Name)
	}

	// A present but garbage value degrades to zero instead of falling
	// through; the record keeps loading either way
	item = NormalizeItem(decodePayload(t, `{
		"price": "six dollars",
		"sellingPrice": 9.99
	}`))
	if item.Price != 0 {
		t.Errorf("Uncoercible first candidate should degrade to zero, got %v", item.Price)
	}
}

func TestNumericCoercions(t *testing.T) {
	testCases := []struct {
		name      string
		payload   string
		wantPrice float64
		wantStock int
	}{
		{"PlainNumbers", `{"price": 3.5, "stockQuantity": 7}`, 3.5, 7},
		{"StringNumbers", `{"price": "3.50", "stockQuantity": "7"}`, 3.5, 7},
		{"PaddedStrings", `{"price": "  7.25  ", "stockQuantity": " 9 "}`, 7.25, 9},
		{"FractionalQuantity", `{"price": 1, "stockQuantity": "12.5"}`, 1, 12},
		{"GarbageDegrades", `{"price": "free", "stockQuantity": "a dozen"}`, 0, 0},
		{"AbsentIsZero", `{}`, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			item := NormalizeItem(decodePayload(t, tc.payload))
			if item.Price != tc.wantPrice {
				t.Errorf("Price = %v, want %v", item.Price, tc.wantPrice)
			}
			if item.StockQuantity != tc.wantStock {
				t.Errorf("StockQuantity = %v, want %v", item.StockQuantity, tc.wantStock)
			}
		})
	}
}

func TestNumericIDsRenderedAsStrings(t *testing.T) {
	item := NormalizeItem(decodePayload(t, `{"id": 12345, "inventoryItemId": 99}`))
	if item.ID != "12345" {
		t.Errorf("Numeric id should render without a decimal part, got %q", item.ID)
	}
	if item.InventoryItemID != "99" {
		t.Errorf("Numeric catalog id broken: %q", item.InventoryItemID)
	}
}

func TestBooleanCoercions(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    bool
	}{
		{"True", `{"active": true}`, true},
		{"StringTrue", `{"active": "true"}`, true},
		{"StringYes", `{"active": "YES"}`, true},
		{"StringOne", `{"active": "1"}`, true},
		{"False", `{"active": false}`, false},
		{"StringNo", `{"active": "no"}`, false},
		{"StringEmpty", `{"active": ""}`, false},
		{"NumberOne", `{"active": 1}`, true},
		{"NumberZero", `{"active": 0}`, false},
		{"Garbage", `{"active": "maybe"}`, false},
		{"Absent", `{}`, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			item := NormalizeItem(decodePayload(t, tc.payload))
			if item.Active != tc.want {
				t.Errorf("Active = %v, want %v", item.Active, tc.want)
			}
		})
	}
}

func TestTimestampCoercions(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    time.Time
	}{
		{"RFC3339", `{"updatedAt": "2026-02-11T09:30:00Z"}`, time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)},
		{"DateOnly", `{"updatedAt": "2026-02-11"}`, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)},
		{"EpochSeconds", `{"updatedAt": 1700000000}`, time.Unix(1700000000, 0)},
		{"EpochMillis", `{"updatedAt": 1700000000123}`, time.UnixMilli(1700000000123)},
		{"Garbage", `{"updatedAt": "last tuesday"}`, time.Time{}},
		{"Absent", `{}`, time.Time{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			item := NormalizeItem(decodePayload(t, tc.payload))
			if !item.UpdatedAt.Equal(tc.want) {
				t.Errorf("UpdatedAt = %v, want %v", item.UpdatedAt, tc.want)
			}
		})
	}
}

func TestCategoryListShapes(t *testing.T) {
	item := NormalizeItem(decodePayload(t, `{"categories": ["A", "B"]}`))
	if len(item.Categories) != 2 {
		t.Errorf("String array broken: %v", item.Categories)
	}

	item = NormalizeItem(decodePayload(t, `{"categories": [{"categoryName": "Dairy"}, {"name": "Chilled"}, {"ignored": true}]}`))
	if len(item.Categories) != 2 || item.Categories[0] != "Dairy" || item.Categories[1] != "Chilled" {
		t.Errorf("Object array broken: %v", item.Categories)
	}

	item = NormalizeItem(decodePayload(t, `{"category": "Snacks"}`))
	if len(item.Categories) != 1 || item.Categories[0] != "Snacks" {
		t.Errorf("Bare string broken: %v", item.Categories)
	}

	item = NormalizeItem(decodePayload(t, `{"category": ""}`))
	if item.Categories != nil {
		t.Errorf("Empty string should yield no categories: %v", item.Categories)
	}
}

func TestNormalizeItemsSkipsNonObjects(t *testing.T) {
	var raws []interface{}
	if err := json.Unmarshal([]byte(`[{"itemName": "Good"}, "junk", 42, {"itemName": "Also good"}]`), &raws); err != nil {
		t.Fatalf("Bad test payload: %v", err)
	}

	items := NormalizeItems(raws)
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Name != "Good" || items[1].Name != "Also good" {
		t.Errorf("Wrong entries survived: %+v", items)
	}
}

func TestNormalizeReferenceEntities(t *testing.T) {
	cat := NormalizeCategory(decodePayload(t, `{"categoryId": "cat-1", "categoryName": "Beverages"}`))
	if cat.ID != "cat-1" || cat.Name != "Beverages" {
		t.Errorf("Category broken: %+v", cat)
	}

	sub := NormalizeSubcategory(decodePayload(t, `{"subCategoryId": "sub-1", "parentId": "cat-1", "subCategoryName": "Juice"}`))
	if sub.ID != "sub-1" || sub.CategoryID != "cat-1" || sub.Name != "Juice" {
		t.Errorf("Subcategory broken: %+v", sub)
	}

	brand := NormalizeBrand(decodePayload(t, `{"brandId": "br-1", "brandName": "Sunrise"}`))
	if brand.ID != "br-1" || brand.Name != "Sunrise" {
		t.Errorf("Brand broken: %+v", brand)
	}

	unit := NormalizeUnit(decodePayload(t, `{"unitId": "un-1", "unitName": "Kilogram", "symbol": "kg"}`))
	if unit.ID != "un-1" || unit.Name != "Kilogram" || unit.Abbreviation != "kg" {
		t.Errorf("Unit broken: %+v", unit)
	}

	profile := NormalizeStoreProfile(decodePayload(t, `{"storeId": "s-1", "storeName": "North", "currencyCode": "USD"}`))
	if profile.ID != "s-1" || profile.Name != "North" || profile.Currency != "USD" {
		t.Errorf("Store profile broken: %+v", profile)
	}

	doc := NormalizeDocLink(decodePayload(t, `{"label": "Getting started", "href": "https://docs.example.com/start"}`))
	if doc.Title != "Getting started" || doc.URL != "https://docs.example.com/start" {
		t.Errorf("Doc link broken: %+v", doc)
	}

	upc := NormalizeUPCResult(decodePayload(t, `{"ean": "0123456789012", "title": "Orange Juice", "brand": {"name": "Sunrise"}}`))
	if upc.Code != "0123456789012" || upc.Name != "Orange Juice" || upc.Brand != "Sunrise" {
		t.Errorf("UPC result broken: %+v", upc)
	}
}
