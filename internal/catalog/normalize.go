package catalog

import (
	"strconv"
	"strings"
	"time"

	"shelfsync/internal/logger"
)

// Normalization maps the raw payloads the inventory service returns into the
// canonical shapes above. The server's response shape has drifted over time
// and differs between endpoints, so every canonical field is coalesced from an
// ordered list of candidate keys. Normalization never fails: a present value
// that cannot be coerced is logged and degraded to the field's zero value.

// =============================================================================
// FIELD COALESCING HELPERS
// =============================================================================

// firstString returns the first present candidate key's value as a string.
// JSON null counts as absent. Numeric ids are rendered without a decimal part.
func firstString(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return val
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			return strconv.Itoa(val)
		case bool:
			return strconv.FormatBool(val)
		default:
			logger.LogWarn("Could not coerce %q (%T) to string", key, v)
			return ""
		}
	}
	return ""
}

func firstFloat(raw map[string]interface{}, keys ...string) float64 {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				logger.LogWarn("Could not coerce %q value %q to number", key, val)
				return 0
			}
			return f
		default:
			logger.LogWarn("Could not coerce %q (%T) to number", key, v)
			return 0
		}
	}
	return 0
}

func firstInt(raw map[string]interface{}, keys ...string) int {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			return int(val)
		case int:
			return val
		case string:
			trimmed := strings.TrimSpace(val)
			if i, err := strconv.Atoi(trimmed); err == nil {
				return i
			}
			if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
				return int(f)
			}
			logger.LogWarn("Could not coerce %q value %q to integer", key, val)
			return 0
		default:
			logger.LogWarn("Could not coerce %q (%T) to integer", key, v)
			return 0
		}
	}
	return 0
}

func firstBool(raw map[string]interface{}, keys ...string) bool {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case bool:
			return val
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true", "1", "yes":
				return true
			case "false", "0", "no", "":
				return false
			}
			logger.LogWarn("Could not coerce %q value %q to boolean", key, val)
			return false
		case float64:
			return val != 0
		default:
			logger.LogWarn("Could not coerce %q (%T) to boolean", key, v)
			return false
		}
	}
	return false
}

// firstTime tolerates RFC3339 strings, a couple of plain layouts, and epoch
// seconds or milliseconds. Unparseable values degrade to the zero time.
func firstTime(raw map[string]interface{}, keys ...string) time.Time {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if t, err := time.Parse(layout, val); err == nil {
					return t
				}
			}
			logger.LogWarn("Could not parse %q value %q as a timestamp", key, val)
			return time.Time{}
		case float64:
			if val > 1e12 {
				return time.UnixMilli(int64(val))
			}
			return time.Unix(int64(val), 0)
		default:
			logger.LogWarn("Could not coerce %q (%T) to a timestamp", key, v)
			return time.Time{}
		}
	}
	return time.Time{}
}

// stringList handles category-style fields that arrive as an array of
// strings, an array of objects, or a single bare string.
func stringList(raw map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case []interface{}:
			out := make([]string, 0, len(val))
			for _, entry := range val {
				switch e := entry.(type) {
				case string:
					out = append(out, e)
				case map[string]interface{}:
					if name := firstString(e, "name", "categoryName", "title"); name != "" {
						out = append(out, name)
					}
				}
			}
			return out
		case string:
			if val == "" {
				return nil
			}
			return []string{val}
		default:
			logger.LogWarn("Could not coerce %q (%T) to a string list", key, v)
			return nil
		}
	}
	return nil
}

// nameOf reads fields that are sometimes a bare string and sometimes a nested
// object carrying a name (brand, measurement unit).
func nameOf(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return val
		case map[string]interface{}:
			return firstString(val, "name", "title", "label")
		default:
			logger.LogWarn("Could not coerce %q (%T) to a name", key, v)
			return ""
		}
	}
	return ""
}

// =============================================================================
// ENTITY NORMALIZERS
// =============================================================================

// NormalizeItem maps one raw inventory record to the canonical Item.
func NormalizeItem(raw map[string]interface{}) Item {
	return Item{
		ID:              firstString(raw, "id", "_id", "itemId", "item_id"),
		InventoryItemID: firstString(raw, "inventoryItemId", "inventory_item_id", "catalogItemId", "masterItemId"),
		Name:            firstString(raw, "itemName", "productName", "name", "title"),
		SKU:             firstString(raw, "sku", "skuCode", "sku_code"),
		ProductCode:     firstString(raw, "productCode", "product_code", "upc", "barcode"),
		Price:           firstFloat(raw, "price", "sellingPrice", "selling_price", "unitPrice"),
		StockQuantity:   firstInt(raw, "stockQuantity", "stock_quantity", "quantity", "stock"),
		Categories:      stringList(raw, "categories", "category"),
		SubCategory:     nameOf(raw, "subCategory", "subcategory", "sub_category"),
		Brand:           nameOf(raw, "brand", "brandName"),
		MeasurementUnit: nameOf(raw, "measurementUnit", "unit", "uom"),
		TaxEnabled:      firstBool(raw, "taxEnabled", "tax_enabled", "taxable"),
		TaxRate:         firstFloat(raw, "taxRate", "tax_rate"),
		Description:     firstString(raw, "description", "itemDescription"),
		ImageURL:        firstString(raw, "imageUrl", "image_url", "image"),
		Active:          firstBool(raw, "active", "isActive", "available"),
		UpdatedAt:       firstTime(raw, "updatedAt", "updated_at", "lastUpdated"),
	}
}

// NormalizeItems maps a raw list payload, skipping entries that are not objects.
func NormalizeItems(raws []interface{}) []Item {
	items := make([]Item, 0, len(raws))
	for _, entry := range raws {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			logger.LogWarn("Skipping non-object inventory entry (%T)", entry)
			continue
		}
		items = append(items, NormalizeItem(obj))
	}
	return items
}

func NormalizeCategory(raw map[string]interface{}) Category {
	return Category{
		ID:       firstString(raw, "id", "_id", "categoryId"),
		Name:     firstString(raw, "categoryName", "name", "title"),
		ImageURL: firstString(raw, "imageUrl", "image_url", "image"),
	}
}

func NormalizeSubcategory(raw map[string]interface{}) Subcategory {
	return Subcategory{
		ID:         firstString(raw, "id", "_id", "subCategoryId"),
		CategoryID: firstString(raw, "categoryId", "category_id", "parentId"),
		Name:       firstString(raw, "subCategoryName", "name", "title"),
	}
}

func NormalizeBrand(raw map[string]interface{}) Brand {
	return Brand{
		ID:   firstString(raw, "id", "_id", "brandId"),
		Name: firstString(raw, "brandName", "name", "title"),
	}
}

func NormalizeUnit(raw map[string]interface{}) MeasurementUnit {
	return MeasurementUnit{
		ID:           firstString(raw, "id", "_id", "unitId"),
		Name:         firstString(raw, "unitName", "name", "title"),
		Abbreviation: firstString(raw, "abbreviation", "short", "symbol"),
	}
}

func NormalizeStoreProfile(raw map[string]interface{}) StoreProfile {
	return StoreProfile{
		ID:       firstString(raw, "id", "_id", "storeId"),
		Name:     firstString(raw, "storeName", "name", "title"),
		Address:  firstString(raw, "address", "storeAddress"),
		Phone:    firstString(raw, "phone", "phoneNumber", "contactNumber"),
		Email:    firstString(raw, "email", "contactEmail"),
		Currency: firstString(raw, "currency", "currencyCode"),
		LogoURL:  firstString(raw, "logoUrl", "logo_url", "logo"),
	}
}

func NormalizeDocLink(raw map[string]interface{}) DocLink {
	return DocLink{
		Title:   firstString(raw, "title", "name", "label"),
		URL:     firstString(raw, "url", "link", "href"),
		Section: firstString(raw, "section", "category"),
	}
}

func NormalizeUPCResult(raw map[string]interface{}) UPCResult {
	return UPCResult{
		Code:        firstString(raw, "upc", "ean", "code", "barcode"),
		Name:        firstString(raw, "title", "name", "itemName", "productName"),
		Brand:       nameOf(raw, "brand", "brandName"),
		Description: firstString(raw, "description"),
		Category:    firstString(raw, "category"),
		ImageURL:    firstString(raw, "imageUrl", "image"),
	}
}
