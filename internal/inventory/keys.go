package inventory

import "fmt"

// Cache key scheme. Keys are hierarchical: "inventory/<store>" covers the
// store's list and every item detail beneath it, while the list itself sits
// at its own leaf so mutations can invalidate list and detail individually
// without touching sibling items.

const (
	CategoriesKey = "reference/categories"
	BrandsKey     = "reference/brands"
	UnitsKey      = "reference/units"
	DocsKey       = "docs"
)

// StoreKey is the root of everything cached for one store.
func StoreKey(storeID string) string {
	return fmt.Sprintf("inventory/%s", storeID)
}

// ListKey holds the store's full inventory list.
func ListKey(storeID string) string {
	return fmt.Sprintf("inventory/%s/list", storeID)
}

// ItemKey holds one item's detail record.
func ItemKey(storeID, itemID string) string {
	return fmt.Sprintf("inventory/%s/item/%s", storeID, itemID)
}

// SubcategoriesKey holds the subcategories of one category.
func SubcategoriesKey(categoryID string) string {
	return fmt.Sprintf("reference/categories/%s/subcategories", categoryID)
}

// ProfileKey holds one store's profile.
func ProfileKey(storeID string) string {
	return fmt.Sprintf("store/%s/profile", storeID)
}
