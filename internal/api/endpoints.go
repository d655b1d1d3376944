// internal/api/endpoints.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Endpoint wrappers. Reads hand back raw decoded payloads so the caller can
// run them through normalization; mutations do the same for the record the
// server echoes back.

// LookupUserID resolves the authenticated subject to the internal user id.
func (c *Client) LookupUserID(ctx context.Context, subjectID string) (string, error) {
	var payload interface{}
	endpoint := fmt.Sprintf("%s/v1/users/by-subject/%s", c.BaseURL, subjectID)
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return "", err
	}

	obj := decodeObject(payload)
	if obj == nil {
		return "", fmt.Errorf("unexpected user lookup response shape")
	}
	userID := stringField(obj, "userId", "user_id", "id")
	if userID == "" {
		return "", fmt.Errorf("user lookup response carried no user id")
	}
	return userID, nil
}

// ListOwnedStores returns the ids of the stores the user owns, in server
// order. Entries may arrive as bare ids or as store objects.
func (c *Client) ListOwnedStores(ctx context.Context, userID string) ([]string, error) {
	var payload interface{}
	endpoint := fmt.Sprintf("%s/v1/users/%s/stores", c.BaseURL, userID)
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range decodeList(payload) {
		switch val := entry.(type) {
		case string:
			ids = append(ids, val)
		case map[string]interface{}:
			if id := stringField(val, "id", "_id", "storeId", "store_id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// ListInventory returns the raw inventory records for a store.
func (c *Client) ListInventory(ctx context.Context, storeID string) ([]interface{}, error) {
	var payload interface{}
	endpoint := fmt.Sprintf("%s/v1/stores/%s/inventory", c.BaseURL, storeID)
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return decodeList(payload), nil
}

// GetItem returns one raw inventory record.
func (c *Client) GetItem(ctx context.Context, storeID, itemID string) (map[string]interface{}, error) {
	var payload interface{}
	endpoint := fmt.Sprintf("%s/v1/stores/%s/inventory/%s", c.BaseURL, storeID, itemID)
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	obj := decodeObject(payload)
	if obj == nil {
		return nil, fmt.Errorf("unexpected item response shape for %s", itemID)
	}
	return obj, nil
}

// CreateItem adds a record to the store's inventory and returns the created
// record as the server echoed it.
func (c *Client) CreateItem(ctx context.Context, storeID string, item map[string]interface{}) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/v1/stores/%s/inventory", c.BaseURL, storeID)
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, item, true)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return decodeObject(payload), nil
}

// UpdateItem replaces an existing record.
func (c *Client) UpdateItem(ctx context.Context, storeID, itemID string, item map[string]interface{}) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/v1/stores/%s/inventory/%s", c.BaseURL, storeID, itemID)
	req, err := c.newRequest(ctx, http.MethodPut, endpoint, item, true)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return decodeObject(payload), nil
}

// DeleteItem removes a record from the store's inventory.
func (c *Client) DeleteItem(ctx context.Context, storeID, itemID string) error {
	endpoint := fmt.Sprintf("%s/v1/stores/%s/inventory/%s", c.BaseURL, storeID, itemID)
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil, true)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// AddStock increases an item's stock count by quantity.
func (c *Client) AddStock(ctx context.Context, storeID, itemID string, quantity int) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/v1/stores/%s/inventory/%s/stock-add", c.BaseURL, storeID, itemID)
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, map[string]interface{}{"quantity": quantity}, true)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return decodeObject(payload), nil
}

// ReduceStock decreases an item's stock count by quantity.
func (c *Client) ReduceStock(ctx context.Context, storeID, itemID string, quantity int) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/v1/stores/%s/inventory/%s/stock-reduce", c.BaseURL, storeID, itemID)
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, map[string]interface{}{"quantity": quantity}, true)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return decodeObject(payload), nil
}

// SetTax toggles tax collection for an item.
func (c *Client) SetTax(ctx context.Context, storeID, itemID string, enabled bool, rate float64) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/v1/stores/%s/inventory/%s/tax", c.BaseURL, storeID, itemID)
	body := map[string]interface{}{"taxEnabled": enabled, "taxRate": rate}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body, true)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return decodeObject(payload), nil
}

// ListCategories returns the raw master-catalog categories.
func (c *Client) ListCategories(ctx context.Context) ([]interface{}, error) {
	var payload interface{}
	if err := c.getJSON(ctx, c.BaseURL+"/v1/catalog/categories", &payload); err != nil {
		return nil, err
	}
	return decodeList(payload), nil
}

// ListSubcategories returns the raw subcategories of one category.
func (c *Client) ListSubcategories(ctx context.Context, categoryID string) ([]interface{}, error) {
	var payload interface{}
	endpoint := fmt.Sprintf("%s/v1/catalog/categories/%s/subcategories", c.BaseURL, categoryID)
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return decodeList(payload), nil
}

// ListBrands returns the raw master-catalog brands.
func (c *Client) ListBrands(ctx context.Context) ([]interface{}, error) {
	var payload interface{}
	if err := c.getJSON(ctx, c.BaseURL+"/v1/catalog/brands", &payload); err != nil {
		return nil, err
	}
	return decodeList(payload), nil
}

// ListMeasurementUnits returns the raw measurement units.
func (c *Client) ListMeasurementUnits(ctx context.Context) ([]interface{}, error) {
	var payload interface{}
	if err := c.getJSON(ctx, c.BaseURL+"/v1/catalog/measurement-units", &payload); err != nil {
		return nil, err
	}
	return decodeList(payload), nil
}

// GetStoreProfile returns a store's raw profile. Retried once since profile
// reads are non-critical decoration.
func (c *Client) GetStoreProfile(ctx context.Context, storeID string) (map[string]interface{}, error) {
	var payload interface{}
	endpoint := fmt.Sprintf("%s/v1/stores/%s/profile", c.BaseURL, storeID)
	if err := c.getJSONWithRetry(ctx, endpoint, &payload, 2); err != nil {
		return nil, err
	}

	obj := decodeObject(payload)
	if obj == nil {
		return nil, fmt.Errorf("unexpected store profile response shape for %s", storeID)
	}
	return obj, nil
}

// ListHelpDocs returns the raw help document links.
func (c *Client) ListHelpDocs(ctx context.Context) ([]interface{}, error) {
	var payload interface{}
	if err := c.getJSONWithRetry(ctx, c.BaseURL+"/v1/docs", &payload, 2); err != nil {
		return nil, err
	}
	return decodeList(payload), nil
}

// LookupUPC queries the UPC database for a scanned barcode. The UPC service
// is separate from the inventory service and takes no bearer token.
func (c *Client) LookupUPC(ctx context.Context, code string) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/lookup?upc=%s", c.UPCBaseURL, url.QueryEscape(code))
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}

	// The UPC service wraps results in an items array; take the best match.
	if obj, ok := payload.(map[string]interface{}); ok {
		if items, ok := obj["items"].([]interface{}); ok && len(items) > 0 {
			if first, ok := items[0].(map[string]interface{}); ok {
				return first, nil
			}
		}
		return obj, nil
	}
	return nil, fmt.Errorf("unexpected UPC lookup response shape")
}
