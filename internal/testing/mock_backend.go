// mock_backend.go - inventory service and UPC database doubles for testing
package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockInventoryService stands in for the remote inventory REST service and
// the UPC lookup service. Point both client base URLs at Server.URL.
type MockInventoryService struct {
	Server *httptest.Server
	mu     sync.RWMutex

	Subjects      map[string]string                           // subject id -> user id
	OwnedStores   map[string][]string                         // user id -> store ids
	Records       map[string]map[string]map[string]interface{} // store id -> record id -> raw payload
	Profiles      map[string]map[string]interface{}
	Categories    []interface{}
	Subcategories map[string][]interface{}
	Brands        []interface{}
	Units         []interface{}
	Docs          []interface{}
	Products      map[string]map[string]interface{} // upc code -> product

	// Configuration for failure simulation
	ShouldFailUserLookup bool
	ShouldFailStoreList  bool
	ShouldFailInventory  bool
	ProfileFailuresLeft  int             // fail this many profile reads, then recover
	FailWritesFor        map[string]bool // catalog id or record id -> reject with 422
	SimulateNetworkDelay time.Duration

	// Counters for tracking
	UserLookupAttempts int
	StoreListAttempts  int
	InventoryAttempts  int
	ItemReadAttempts   int
	CreateAttempts     int
	UpdateAttempts     int
	StockAttempts      int
	ProfileAttempts    int
	CategoryAttempts   int
	UPCAttempts        int

	nextID int
}

// NewMockInventoryService creates a mock backend preloaded with one account
// that owns two stores.
func NewMockInventoryService() *MockInventoryService {
	mock := &MockInventoryService{}
	mock.seedDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/by-subject/", mock.handleUserLookup)
	mux.HandleFunc("/v1/users/", mock.handleUserStores)
	mux.HandleFunc("/v1/stores/", mock.handleStores)
	mux.HandleFunc("/v1/catalog/categories", mock.handleCategories)
	mux.HandleFunc("/v1/catalog/categories/", mock.handleSubcategories)
	mux.HandleFunc("/v1/catalog/brands", mock.handleBrands)
	mux.HandleFunc("/v1/catalog/measurement-units", mock.handleUnits)
	mux.HandleFunc("/v1/docs", mock.handleDocs)
	mux.HandleFunc("/lookup", mock.handleUPCLookup)

	mock.Server = httptest.NewServer(mux)
	return mock
}

func (m *MockInventoryService) seedDefaults() {
	m.Subjects = map[string]string{"auth0|melissa": "u-100"}
	m.OwnedStores = map[string][]string{"u-100": {"s-north", "s-south"}}
	m.Records = map[string]map[string]map[string]interface{}{
		"s-north": {},
		"s-south": {},
	}
	m.Profiles = map[string]map[string]interface{}{
		"s-north": {"id": "s-north", "name": "North Street Market", "currency": "USD"},
		"s-south": {"id": "s-south", "name": "Southside Grocer", "currency": "USD"},
	}
	m.Categories = []interface{}{
		map[string]interface{}{"id": "cat-1", "name": "Beverages"},
		map[string]interface{}{"id": "cat-2", "name": "Snacks"},
	}
	m.Subcategories = map[string][]interface{}{
		"cat-1": {
			map[string]interface{}{"id": "sub-1", "categoryId": "cat-1", "name": "Juice"},
			map[string]interface{}{"id": "sub-2", "categoryId": "cat-1", "name": "Soda"},
		},
	}
	m.Brands = []interface{}{
		map[string]interface{}{"id": "br-1", "name": "Sunrise Farms"},
		map[string]interface{}{"id": "br-2", "name": "Hillcrest"},
	}
	m.Units = []interface{}{
		map[string]interface{}{"id": "un-1", "name": "Each", "abbreviation": "ea"},
		map[string]interface{}{"id": "un-2", "name": "Kilogram", "abbreviation": "kg"},
	}
	m.Docs = []interface{}{
		map[string]interface{}{"title": "Getting Started", "url": "https://help.example.com/start"},
	}
	m.Products = map[string]map[string]interface{}{
		"012345678905": {
			"upc": "012345678905", "title": "Orange Juice 1L",
			"brand": "Sunrise Farms", "category": "Beverages",
		},
	}
	m.FailWritesFor = map[string]bool{}
	m.nextID = 1
}

// Close shuts down the mock server
func (m *MockInventoryService) Close() {
	m.Server.Close()
}

// GetAPIBase returns the mock server's base URL
func (m *MockInventoryService) GetAPIBase() string {
	return m.Server.URL
}

// SeedItem stores a raw inventory record for a store and returns its record
// id, assigning one if the payload carries none.
func (m *MockInventoryService) SeedItem(storeID string, item map[string]interface{}) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, _ := item["id"].(string)
	if id == "" {
		id = fmt.Sprintf("rec-%04d", m.nextID)
		m.nextID++
		item["id"] = id
	}
	if m.Records[storeID] == nil {
		m.Records[storeID] = map[string]map[string]interface{}{}
	}
	m.Records[storeID][id] = item
	return id
}

// GetRecord returns a stored raw record.
func (m *MockInventoryService) GetRecord(storeID, recordID string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.Records[storeID][recordID]
	return record, exists
}

// RecordCount returns the number of records in a store.
func (m *MockInventoryService) RecordCount(storeID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.Records[storeID])
}

// SetFailureMode configures which read families should fail
func (m *MockInventoryService) SetFailureMode(userLookup, storeList, inventory bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ShouldFailUserLookup = userLookup
	m.ShouldFailStoreList = storeList
	m.ShouldFailInventory = inventory
}

// FailWrites marks a catalog id or record id so create and update calls
// carrying it are rejected with a validation error.
func (m *MockInventoryService) FailWrites(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FailWritesFor[id] = true
}

// ClearWriteFailures lets all writes through again.
func (m *MockInventoryService) ClearWriteFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FailWritesFor = map[string]bool{}
}

// GetStats returns statistics about mock usage
func (m *MockInventoryService) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"user_lookups":    m.UserLookupAttempts,
		"store_lists":     m.StoreListAttempts,
		"inventory_reads": m.InventoryAttempts,
		"item_reads":      m.ItemReadAttempts,
		"creates":         m.CreateAttempts,
		"updates":         m.UpdateAttempts,
		"stock_calls":     m.StockAttempts,
		"profile_reads":   m.ProfileAttempts,
		"category_reads":  m.CategoryAttempts,
		"upc_lookups":     m.UPCAttempts,
	}
}

// Reset clears all mock data and counters
func (m *MockInventoryService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seedDefaults()
	m.ShouldFailUserLookup = false
	m.ShouldFailStoreList = false
	m.ShouldFailInventory = false
	m.ProfileFailuresLeft = 0
	m.SimulateNetworkDelay = 0
	m.UserLookupAttempts = 0
	m.StoreListAttempts = 0
	m.InventoryAttempts = 0
	m.ItemReadAttempts = 0
	m.CreateAttempts = 0
	m.UpdateAttempts = 0
	m.StockAttempts = 0
	m.ProfileAttempts = 0
	m.CategoryAttempts = 0
	m.UPCAttempts = 0
}

// HTTP Handlers

func (m *MockInventoryService) handleUserLookup(w http.ResponseWriter, r *http.Request) {
	if !m.requireAuth(w, r) {
		return
	}

	m.mu.Lock()
	m.UserLookupAttempts++
	shouldFail := m.ShouldFailUserLookup
	delay := m.SimulateNetworkDelay
	subjectID := strings.TrimPrefix(r.URL.Path, "/v1/users/by-subject/")
	userID, known := m.Subjects[subjectID]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if shouldFail {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "user directory unavailable")
		return
	}
	if !known {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no account for subject "+subjectID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"userId": userID})
}

func (m *MockInventoryService) handleUserStores(w http.ResponseWriter, r *http.Request) {
	if !m.requireAuth(w, r) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "stores" {
		http.Error(w, "Invalid endpoint", http.StatusNotFound)
		return
	}

	m.mu.Lock()
	m.StoreListAttempts++
	shouldFail := m.ShouldFailStoreList
	storeIDs := m.OwnedStores[parts[0]]
	m.mu.Unlock()

	if shouldFail {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "store directory unavailable")
		return
	}

	entries := make([]interface{}, 0, len(storeIDs))
	for _, id := range storeIDs {
		entries = append(entries, map[string]interface{}{"id": id})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (m *MockInventoryService) handleStores(w http.ResponseWriter, r *http.Request) {
	if !m.requireAuth(w, r) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/stores/")
	parts := strings.Split(path, "/")
	storeID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "inventory":
		switch r.Method {
		case http.MethodGet:
			m.handleListInventory(w, storeID)
		case http.MethodPost:
			m.handleCreateItem(w, r, storeID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "profile":
		m.handleProfile(w, storeID)
	case len(parts) == 3 && parts[1] == "inventory":
		switch r.Method {
		case http.MethodGet:
			m.handleGetItem(w, storeID, parts[2])
		case http.MethodPut:
			m.handleUpdateItem(w, r, storeID, parts[2])
		case http.MethodDelete:
			m.handleDeleteItem(w, storeID, parts[2])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 4 && parts[1] == "inventory":
		m.handleItemAction(w, r, storeID, parts[2], parts[3])
	default:
		http.Error(w, "Invalid endpoint", http.StatusNotFound)
	}
}

func (m *MockInventoryService) handleListInventory(w http.ResponseWriter, storeID string) {
	m.mu.Lock()
	m.InventoryAttempts++
	shouldFail := m.ShouldFailInventory
	delay := m.SimulateNetworkDelay
	records := make([]interface{}, 0, len(m.Records[storeID]))
	for _, record := range m.Records[storeID] {
		records = append(records, record)
	}
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if shouldFail {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "inventory backend unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": records})
}

func (m *MockInventoryService) handleGetItem(w http.ResponseWriter, storeID, recordID string) {
	m.mu.Lock()
	m.ItemReadAttempts++
	shouldFail := m.ShouldFailInventory
	record, exists := m.Records[storeID][recordID]
	m.mu.Unlock()

	if shouldFail {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "inventory backend unavailable")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "item not found: "+recordID)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (m *MockInventoryService) handleCreateItem(w http.ResponseWriter, r *http.Request, storeID string) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON")
		return
	}

	m.mu.Lock()
	m.CreateAttempts++
	catalogID, _ := body["inventoryItemId"].(string)
	if m.FailWritesFor[catalogID] {
		m.mu.Unlock()
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "item rejected by catalog rules")
		return
	}

	recordID := fmt.Sprintf("rec-%04d", m.nextID)
	m.nextID++
	body["id"] = recordID
	if m.Records[storeID] == nil {
		m.Records[storeID] = map[string]map[string]interface{}{}
	}
	m.Records[storeID][recordID] = body
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, body)
}

func (m *MockInventoryService) handleUpdateItem(w http.ResponseWriter, r *http.Request, storeID, recordID string) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON")
		return
	}

	m.mu.Lock()
	m.UpdateAttempts++
	catalogID, _ := body["inventoryItemId"].(string)
	if m.FailWritesFor[catalogID] || m.FailWritesFor[recordID] {
		m.mu.Unlock()
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "item rejected by catalog rules")
		return
	}

	existing, exists := m.Records[storeID][recordID]
	if !exists {
		m.mu.Unlock()
		writeError(w, http.StatusNotFound, "NOT_FOUND", "item not found: "+recordID)
		return
	}
	for key, value := range body {
		existing[key] = value
	}
	existing["id"] = recordID
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, existing)
}

func (m *MockInventoryService) handleDeleteItem(w http.ResponseWriter, storeID, recordID string) {
	m.mu.Lock()
	_, exists := m.Records[storeID][recordID]
	delete(m.Records[storeID], recordID)
	m.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "item not found: "+recordID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": recordID})
}

func (m *MockInventoryService) handleItemAction(w http.ResponseWriter, r *http.Request, storeID, recordID, action string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.StockAttempts++
	record, exists := m.Records[storeID][recordID]
	if !exists {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "item not found: "+recordID)
		return
	}

	switch action {
	case "stock-add":
		record["stockQuantity"] = toInt(record["stockQuantity"]) + toInt(body["quantity"])
	case "stock-reduce":
		next := toInt(record["stockQuantity"]) - toInt(body["quantity"])
		if next < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "stock cannot go negative")
			return
		}
		record["stockQuantity"] = next
	case "tax":
		record["taxEnabled"] = body["taxEnabled"]
		record["taxRate"] = body["taxRate"]
	default:
		http.Error(w, "Invalid endpoint", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (m *MockInventoryService) handleProfile(w http.ResponseWriter, storeID string) {
	m.mu.Lock()
	m.ProfileAttempts++
	failing := m.ProfileFailuresLeft > 0
	if failing {
		m.ProfileFailuresLeft--
	}
	profile, exists := m.Profiles[storeID]
	m.mu.Unlock()

	if failing {
		writeError(w, http.StatusBadGateway, "UPSTREAM", "profile service unavailable")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "store not found: "+storeID)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (m *MockInventoryService) handleCategories(w http.ResponseWriter, r *http.Request) {
	if !m.requireAuth(w, r) {
		return
	}

	m.mu.Lock()
	m.CategoryAttempts++
	categories := m.Categories
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": categories})
}

func (m *MockInventoryService) handleSubcategories(w http.ResponseWriter, r *http.Request) {
	if !m.requireAuth(w, r) {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/catalog/categories/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "subcategories" {
		http.Error(w, "Invalid endpoint", http.StatusNotFound)
		return
	}

	m.mu.RLock()
	subcategories := m.Subcategories[parts[0]]
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, subcategories)
}

func (m *MockInventoryService) handleBrands(w http.ResponseWriter, r *http.Request) {
	if !m.requireAuth(w, r) {
		return
	}

	m.mu.RLock()
	brands := m.Brands
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, brands)
}

func (m *MockInventoryService) handleUnits(w http.ResponseWriter, r *http.Request) {
	if !m.requireAuth(w, r) {
		return
	}

	m.mu.RLock()
	units := m.Units
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, units)
}

func (m *MockInventoryService) handleDocs(w http.ResponseWriter, r *http.Request) {
	if !m.requireAuth(w, r) {
		return
	}

	m.mu.RLock()
	docs := m.Docs
	m.mu.RUnlock()

	writeJSON(w, http.StatusOK, docs)
}

func (m *MockInventoryService) handleUPCLookup(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.UPCAttempts++
	product, exists := m.Products[r.URL.Query().Get("upc")]
	m.mu.Unlock()

	if !exists {
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{product}})
}

// requireAuth rejects inventory-service calls without a bearer token. The UPC
// endpoint stays open, matching the real services.
func (m *MockInventoryService) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
		return false
	}
	return true
}

// Response helpers

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{"code": code, "message": message})
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
