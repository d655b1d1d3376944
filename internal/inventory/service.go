package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"shelfsync/internal/api"
	"shelfsync/internal/cache"
	"shelfsync/internal/catalog"
	"shelfsync/internal/logger"
	"shelfsync/internal/session"
)

// Staleness policies per entity family. Inventory changes constantly, from
// this client and from others, so it goes stale fast. Reference data barely
// moves. Profile and docs are decoration and can ride a long window.
var (
	InventoryPolicy = cache.Policy{StaleAfter: 2 * time.Minute, ExpireAfter: 15 * time.Minute}
	ReferencePolicy = cache.Policy{StaleAfter: 45 * time.Minute, ExpireAfter: 24 * time.Hour}
	ProfilePolicy   = cache.Policy{StaleAfter: time.Hour, ExpireAfter: 24 * time.Hour}
)

// Service is the cache-backed read/mutation surface the UI consumes. Reads go
// through the entity cache and come back canonical; mutations call the
// service directly and then invalidate exactly the touched detail key and the
// owning list key, never another family.
type Service struct {
	api     *api.Client
	cache   *cache.Cache
	session *session.Resolver
}

func NewService(client *api.Client, entityCache *cache.Cache, resolver *session.Resolver) *Service {
	return &Service{api: client, cache: entityCache, session: resolver}
}

// Cache exposes the underlying entity cache for freshness display and tests.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// =============================================================================
// READS
// =============================================================================

// Items returns the selected store's inventory list.
func (s *Service) Items(ctx context.Context) ([]catalog.Item, error) {
	oc, err := s.session.Resolve(ctx, false)
	if err != nil {
		return nil, err
	}
	storeID := oc.SelectedStoreID

	return cache.Fetch(ctx, s.cache, ListKey(storeID), InventoryPolicy,
		func(ctx context.Context) ([]catalog.Item, error) {
			raws, err := s.api.ListInventory(ctx, storeID)
			if err != nil {
				return nil, err
			}
			return catalog.NormalizeItems(raws), nil
		})
}

// ItemDetail returns one item. When the detail is not cached but the list is,
// the list row is planted as a placeholder so the caller gets an immediate
// answer while the authoritative record replaces it in the background.
func (s *Service) ItemDetail(ctx context.Context, itemID string) (catalog.Item, error) {
	oc, err := s.session.Resolve(ctx, false)
	if err != nil {
		return catalog.Item{}, err
	}
	storeID := oc.SelectedStoreID

	s.cache.SetPlaceholder(ItemKey(storeID, itemID), InventoryPolicy.ExpireAfter,
		func() (interface{}, bool) {
			return s.itemFromCachedList(storeID, itemID)
		})

	return cache.Fetch(ctx, s.cache, ItemKey(storeID, itemID), InventoryPolicy,
		func(ctx context.Context) (catalog.Item, error) {
			raw, err := s.api.GetItem(ctx, storeID, itemID)
			if err != nil {
				return catalog.Item{}, err
			}
			return catalog.NormalizeItem(raw), nil
		})
}

// itemFromCachedList scans the cached inventory list for a row matching
// itemID. Used only for placeholder derivation.
func (s *Service) itemFromCachedList(storeID, itemID string) (interface{}, bool) {
	raw, ok := s.cache.Peek(ListKey(storeID))
	if !ok {
		return nil, false
	}

	var items []catalog.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.LogWarn("Cached inventory list for %s did not decode: %v", storeID, err)
		return nil, false
	}
	for _, item := range items {
		if item.ID == itemID {
			return item, true
		}
	}
	return nil, false
}

// Categories returns the master-catalog categories.
func (s *Service) Categories(ctx context.Context) ([]catalog.Category, error) {
	return cache.Fetch(ctx, s.cache, CategoriesKey, ReferencePolicy,
		func(ctx context.Context) ([]catalog.Category, error) {
			raws, err := s.api.ListCategories(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]catalog.Category, 0, len(raws))
			for _, entry := range raws {
				if obj, ok := entry.(map[string]interface{}); ok {
					out = append(out, catalog.NormalizeCategory(obj))
				}
			}
			return out, nil
		})
}

// Subcategories returns one category's subcategories.
func (s *Service) Subcategories(ctx context.Context, categoryID string) ([]catalog.Subcategory, error) {
	return cache.Fetch(ctx, s.cache, SubcategoriesKey(categoryID), ReferencePolicy,
		func(ctx context.Context) ([]catalog.Subcategory, error) {
			raws, err := s.api.ListSubcategories(ctx, categoryID)
			if err != nil {
				return nil, err
			}
			out := make([]catalog.Subcategory, 0, len(raws))
			for _, entry := range raws {
				if obj, ok := entry.(map[string]interface{}); ok {
					out = append(out, catalog.NormalizeSubcategory(obj))
				}
			}
			return out, nil
		})
}

// Brands returns the master-catalog brands.
func (s *Service) Brands(ctx context.Context) ([]catalog.Brand, error) {
	return cache.Fetch(ctx, s.cache, BrandsKey, ReferencePolicy,
		func(ctx context.Context) ([]catalog.Brand, error) {
			raws, err := s.api.ListBrands(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]catalog.Brand, 0, len(raws))
			for _, entry := range raws {
				if obj, ok := entry.(map[string]interface{}); ok {
					out = append(out, catalog.NormalizeBrand(obj))
				}
			}
			return out, nil
		})
}

// MeasurementUnits returns the unit reference list.
func (s *Service) MeasurementUnits(ctx context.Context) ([]catalog.MeasurementUnit, error) {
	return cache.Fetch(ctx, s.cache, UnitsKey, ReferencePolicy,
		func(ctx context.Context) ([]catalog.MeasurementUnit, error) {
			raws, err := s.api.ListMeasurementUnits(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]catalog.MeasurementUnit, 0, len(raws))
			for _, entry := range raws {
				if obj, ok := entry.(map[string]interface{}); ok {
					out = append(out, catalog.NormalizeUnit(obj))
				}
			}
			return out, nil
		})
}

// StoreProfile returns the selected store's profile.
func (s *Service) StoreProfile(ctx context.Context) (catalog.StoreProfile, error) {
	oc, err := s.session.Resolve(ctx, false)
	if err != nil {
		return catalog.StoreProfile{}, err
	}
	storeID := oc.SelectedStoreID

	return cache.Fetch(ctx, s.cache, ProfileKey(storeID), ProfilePolicy,
		func(ctx context.Context) (catalog.StoreProfile, error) {
			raw, err := s.api.GetStoreProfile(ctx, storeID)
			if err != nil {
				return catalog.StoreProfile{}, err
			}
			return catalog.NormalizeStoreProfile(raw), nil
		})
}

// HelpDocs returns the help document links.
func (s *Service) HelpDocs(ctx context.Context) ([]catalog.DocLink, error) {
	return cache.Fetch(ctx, s.cache, DocsKey, ProfilePolicy,
		func(ctx context.Context) ([]catalog.DocLink, error) {
			raws, err := s.api.ListHelpDocs(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]catalog.DocLink, 0, len(raws))
			for _, entry := range raws {
				if obj, ok := entry.(map[string]interface{}); ok {
					out = append(out, catalog.NormalizeDocLink(obj))
				}
			}
			return out, nil
		})
}

// LookupUPC queries the barcode database. Results are not cached; each scan
// is a fresh question.
func (s *Service) LookupUPC(ctx context.Context, code string) (catalog.UPCResult, error) {
	raw, err := s.api.LookupUPC(ctx, code)
	if err != nil {
		return catalog.UPCResult{}, err
	}
	return catalog.NormalizeUPCResult(raw), nil
}

// Warmup prefetches the reference families so the first real screen does not
// wait on them. Best-effort; the caller just logs a failure.
func (s *Service) Warmup(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { _, err := s.Categories(ctx); return err })
	g.Go(func() error { _, err := s.Brands(ctx); return err })
	g.Go(func() error { _, err := s.MeasurementUnits(ctx); return err })
	g.Go(func() error { _, err := s.HelpDocs(ctx); return err })

	return g.Wait()
}

// =============================================================================
// MUTATIONS
// =============================================================================

// invalidateItem drops exactly the mutated item's detail entry and the
// owning list entry. Other items' details and other entity families are
// deliberately left alone.
func (s *Service) invalidateItem(storeID, itemID string) {
	if itemID != "" {
		s.cache.Invalidate(ItemKey(storeID, itemID))
	}
	s.cache.Invalidate(ListKey(storeID))
}

// CreateItem adds an item to the selected store.
func (s *Service) CreateItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	oc, err := s.session.Resolve(ctx, false)
	if err != nil {
		return catalog.Item{}, err
	}

	raw, err := s.api.CreateItem(ctx, oc.SelectedStoreID, itemPayload(item))
	if err != nil {
		return catalog.Item{}, err
	}

	created := catalog.NormalizeItem(raw)
	s.invalidateItem(oc.SelectedStoreID, created.ID)
	return created, nil
}

// UpdateItem replaces an existing record; item.ID must be set.
func (s *Service) UpdateItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	if item.ID == "" {
		return catalog.Item{}, fmt.Errorf("item has no record id")
	}

	oc, err := s.session.Resolve(ctx, false)
	if err != nil {
		return catalog.Item{}, err
	}

	raw, err := s.api.UpdateItem(ctx, oc.SelectedStoreID, item.ID, itemPayload(item))
	if err != nil {
		return catalog.Item{}, err
	}

	updated := catalog.NormalizeItem(raw)
	s.invalidateItem(oc.SelectedStoreID, item.ID)
	return updated, nil
}

// DeleteItem removes a record from the selected store.
func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	oc, err := s.session.Resolve(ctx, false)
	if err != nil {
		return err
	}

	if err := s.api.DeleteItem(ctx, oc.SelectedStoreID, itemID); err != nil {
		return err
	}
	s.invalidateItem(oc.SelectedStoreID, itemID)
	return nil
}

// AddStock increases an item's stock count.
func (s *Service) AddStock(ctx context.Context, itemID string, quantity int) (catalog.Item, error) {
	if quantity <= 0 {
		return catalog.Item{}, fmt.Errorf("stock adjustment must be positive, got %d", quantity)
	}

	oc, err := s.session.Resolve(ctx, false)
	if err != nil {
		return catalog.Item{}, err
	}

	raw, err := s.api.AddStock(ctx, oc.SelectedStoreID, itemID, quantity)
	if err != nil {
		return catalog.Item{}, err
	}

	s.invalidateItem(oc.SelectedStoreID, itemID)
	return catalog.NormalizeItem(raw), nil
}

// ReduceStock decreases an item's stock count.
func (s *Service) ReduceStock(ctx context.Context, itemID string, quantity int) (catalog.Item, error) {
	if quantity <= 0 {
		return catalog.Item{}, fmt.Errorf("stock adjustment must be positive, got %d", quantity)
	}

	oc, err := s.session.Resolve(ctx, false)
	if err != nil {
		return catalog.Item{}, err
	}

	raw, err := s.api.ReduceStock(ctx, oc.SelectedStoreID, itemID, quantity)
	if err != nil {
		return catalog.Item{}, err
	}

	s.invalidateItem(oc.SelectedStoreID, itemID)
	return catalog.NormalizeItem(raw), nil
}

// SetTax toggles tax collection for an item.
func (s *Service) SetTax(ctx context.Context, itemID string, enabled bool, rate float64) (catalog.Item, error) {
	oc, err := s.session.Resolve(ctx, false)
	if err != nil {
		return catalog.Item{}, err
	}

	raw, err := s.api.SetTax(ctx, oc.SelectedStoreID, itemID, enabled, rate)
	if err != nil {
		return catalog.Item{}, err
	}

	s.invalidateItem(oc.SelectedStoreID, itemID)
	return catalog.NormalizeItem(raw), nil
}

// itemPayload renders an Item into the request body the service accepts.
func itemPayload(item catalog.Item) map[string]interface{} {
	payload := map[string]interface{}{
		"itemName":      item.Name,
		"sku":           item.SKU,
		"productCode":   item.ProductCode,
		"price":         item.Price,
		"stockQuantity": item.StockQuantity,
		"taxEnabled":    item.TaxEnabled,
		"active":        item.Active,
	}
	if item.InventoryItemID != "" {
		payload["inventoryItemId"] = item.InventoryItemID
	}
	if len(item.Categories) > 0 {
		payload["categories"] = item.Categories
	}
	if item.SubCategory != "" {
		payload["subCategory"] = item.SubCategory
	}
	if item.Brand != "" {
		payload["brand"] = item.Brand
	}
	if item.MeasurementUnit != "" {
		payload["measurementUnit"] = item.MeasurementUnit
	}
	if item.TaxRate != 0 {
		payload["taxRate"] = item.TaxRate
	}
	if item.Description != "" {
		payload["description"] = item.Description
	}
	if item.ImageURL != "" {
		payload["imageUrl"] = item.ImageURL
	}
	return payload
}
