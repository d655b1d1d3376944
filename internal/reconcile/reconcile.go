package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"shelfsync/internal/api"
	"shelfsync/internal/cache"
	"shelfsync/internal/catalog"
	"shelfsync/internal/inventory"
	"shelfsync/internal/logger"
	"shelfsync/internal/session"
)

// The reconciliation engine commits a batch of master-catalog selection
// drafts against a store's live inventory: one fresh baseline read decides
// create-versus-update for every draft, then all writes go out concurrently.
// Outcomes are tracked per draft so a caller can resubmit exactly the failed
// subset; a rerun fetches its own fresh baseline, which is what makes a
// fully successful batch idempotent (second run: all updates, no creates).

// Failure pairs a draft with the reason it did not commit.
type Failure struct {
	Draft   catalog.SelectionDraft `json:"draft"`
	Message string                 `json:"message"`
}

// Summary is the outcome of one reconciliation run. It is a value and is
// never mutated after Reconcile returns it.
type Summary struct {
	RunID   string    `json:"runId"`
	Added   int       `json:"added"`
	Updated int       `json:"updated"`
	Failed  []Failure `json:"failed"`
}

// FailedDrafts returns the retry subset for a follow-up run.
func (s Summary) FailedDrafts() []catalog.SelectionDraft {
	if len(s.Failed) == 0 {
		return nil
	}
	drafts := make([]catalog.SelectionDraft, len(s.Failed))
	for i, failure := range s.Failed {
		drafts[i] = failure.Draft
	}
	return drafts
}

type Engine struct {
	api     *api.Client
	session *session.Resolver
	cache   *cache.Cache
}

func NewEngine(client *api.Client, resolver *session.Resolver, entityCache *cache.Cache) *Engine {
	return &Engine{api: client, session: resolver, cache: entityCache}
}

// plan is one draft's resolved course of action.
type plan struct {
	draft    catalog.SelectionDraft
	recordID string // empty means create
	payload  map[string]interface{}
	localErr string // pre-network validation failure
}

// Reconcile commits drafts to the selected store. It returns an error only
// when the operating context or the baseline inventory read fails; every
// per-draft problem is data in the summary, not an error.
func (e *Engine) Reconcile(ctx context.Context, drafts []catalog.SelectionDraft) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	if len(drafts) == 0 {
		return summary, nil
	}

	oc, err := e.session.Resolve(ctx, false)
	if err != nil {
		return Summary{}, fmt.Errorf("resolving operating context: %w", err)
	}
	storeID := oc.SelectedStoreID

	// One fresh baseline for the whole batch. The cache is deliberately
	// bypassed: create-versus-update decisions must not ride stale data.
	raws, err := e.api.ListInventory(ctx, storeID)
	if err != nil {
		return Summary{}, fmt.Errorf("fetching baseline inventory: %w", err)
	}
	existing := make(map[string]string)
	for _, item := range catalog.NormalizeItems(raws) {
		if item.InventoryItemID != "" {
			existing[item.InventoryItemID] = item.ID
		}
	}

	// Classify every draft against the baseline. Drafts whose price or
	// quantity do not parse fail here, before any network call, while the
	// valid remainder proceeds.
	plans := make([]plan, len(drafts))
	for i, draft := range drafts {
		plans[i].draft = draft

		price, quantity, err := parseDraftNumbers(draft)
		if err != nil {
			plans[i].localErr = err.Error()
			continue
		}
		plans[i].recordID = existing[draft.InventoryItemID]
		plans[i].payload = draftPayload(draft, price, quantity)
	}

	// Fan out all valid writes at once. Results land positionally; one
	// item's failure neither cancels nor delays its siblings.
	results := make([]string, len(drafts))
	var wg sync.WaitGroup
	for i := range plans {
		if plans[i].localErr != "" {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			var err error
			if plans[i].recordID == "" {
				_, err = e.api.CreateItem(ctx, storeID, plans[i].payload)
			} else {
				_, err = e.api.UpdateItem(ctx, storeID, plans[i].recordID, plans[i].payload)
			}
			if err != nil {
				results[i] = failureMessage(err)
			}
		}(i)
	}
	wg.Wait()

	var touched []string
	for i := range plans {
		switch {
		case plans[i].localErr != "":
			summary.Failed = append(summary.Failed, Failure{Draft: plans[i].draft, Message: plans[i].localErr})
		case results[i] != "":
			summary.Failed = append(summary.Failed, Failure{Draft: plans[i].draft, Message: results[i]})
		case plans[i].recordID == "":
			summary.Added++
		default:
			summary.Updated++
			touched = append(touched, plans[i].recordID)
		}
	}

	// Anything that committed made the cached list stale, and updates made
	// their detail entries stale too.
	if summary.Added+summary.Updated > 0 {
		for _, recordID := range touched {
			e.cache.Invalidate(inventory.ItemKey(storeID, recordID))
		}
		e.cache.Invalidate(inventory.ListKey(storeID))
	}

	logger.LogInfo("Reconciliation %s for store %s: %d added, %d updated, %d failed",
		summary.RunID, storeID, summary.Added, summary.Updated, len(summary.Failed))
	return summary, nil
}

// parseDraftNumbers validates the draft's editable strings: price must be a
// non-negative decimal, quantity a non-negative integer.
func parseDraftNumbers(draft catalog.SelectionDraft) (float64, int, error) {
	price, err := strconv.ParseFloat(strings.TrimSpace(draft.Price), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("price %q is not a number", draft.Price)
	}
	if price < 0 {
		return 0, 0, fmt.Errorf("price %q is negative", draft.Price)
	}

	quantity, err := strconv.Atoi(strings.TrimSpace(draft.StockQuantity))
	if err != nil {
		return 0, 0, fmt.Errorf("quantity %q is not a whole number", draft.StockQuantity)
	}
	if quantity < 0 {
		return 0, 0, fmt.Errorf("quantity %q is negative", draft.StockQuantity)
	}

	return price, quantity, nil
}

func draftPayload(draft catalog.SelectionDraft, price float64, quantity int) map[string]interface{} {
	payload := map[string]interface{}{
		"inventoryItemId": draft.InventoryItemID,
		"itemName":        draft.Name,
		"price":           price,
		"stockQuantity":   quantity,
		"taxEnabled":      draft.TaxEnabled,
		"active":          draft.Active,
		"seasonal":        draft.Seasonal,
		"discontinued":    draft.Discontinued,
	}
	if draft.SKU != "" {
		payload["sku"] = draft.SKU
	}
	return payload
}

// failureMessage prefers the server's own message when the failure was an
// API rejection.
func failureMessage(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return "inventory request failed"
}
