package catalog

import "time"

// Canonical entity shapes. Everything downstream of the API client (cache,
// reconciliation, CLI output) sees only these; the raw server payloads never
// leave the normalization layer.

// Item is a store-scoped inventory record. ID is the record identity used for
// update and delete calls; InventoryItemID is the master-catalog identity used
// to detect whether a catalog entry already exists in a given store. Only the
// remote service ever assigns an ID.
type Item struct {
	ID              string    `json:"id"`
	InventoryItemID string    `json:"inventoryItemId,omitempty"`
	Name            string    `json:"itemName"`
	SKU             string    `json:"sku,omitempty"`
	ProductCode     string    `json:"productCode,omitempty"`
	Price           float64   `json:"price"`
	StockQuantity   int       `json:"stockQuantity"`
	Categories      []string  `json:"categories,omitempty"`
	SubCategory     string    `json:"subCategory,omitempty"`
	Brand           string    `json:"brand,omitempty"`
	MeasurementUnit string    `json:"measurementUnit,omitempty"`
	TaxEnabled      bool      `json:"taxEnabled"`
	TaxRate         float64   `json:"taxRate,omitempty"`
	Description     string    `json:"description,omitempty"`
	ImageURL        string    `json:"imageUrl,omitempty"`
	Active          bool      `json:"active"`
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`
}

// SelectionDraft is the pre-commit record held between "select from catalog"
// and "commit". Price and stock stay raw strings until commit time so the UI
// can round-trip whatever the user typed; they are parsed and validated only
// when the batch is reconciled.
type SelectionDraft struct {
	InventoryItemID string `json:"inventoryItemId"`
	Name            string `json:"itemName"`
	SKU             string `json:"sku,omitempty"`
	Price           string `json:"price"`
	StockQuantity   string `json:"stockQuantity"`
	TaxEnabled      bool   `json:"taxEnabled"`
	Active          bool   `json:"active"`
	Seasonal        bool   `json:"seasonal,omitempty"`
	Discontinued    bool   `json:"discontinued,omitempty"`
}

// Reference data shapes
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type Subcategory struct {
	ID         string `json:"id"`
	CategoryID string `json:"categoryId,omitempty"`
	Name       string `json:"name"`
}

type Brand struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MeasurementUnit struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation,omitempty"`
}

type StoreProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Currency string `json:"currency,omitempty"`
	LogoURL  string `json:"logoUrl,omitempty"`
}

type DocLink struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Section string `json:"section,omitempty"`
}

// UPCResult is what a barcode lookup returns; enough to prefill a draft.
type UPCResult struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Brand       string `json:"brand,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}
