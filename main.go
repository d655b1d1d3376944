// main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"shelfsync/internal/api"
	"shelfsync/internal/cache"
	"shelfsync/internal/catalog"
	"shelfsync/internal/cleanup"
	"shelfsync/internal/config"
	"shelfsync/internal/credential"
	"shelfsync/internal/draft"
	"shelfsync/internal/inventory"
	"shelfsync/internal/logger"
	"shelfsync/internal/reconcile"
	"shelfsync/internal/session"
)

type App struct {
	creds     *credential.Store
	cache     *cache.Cache
	drafts    *draft.Store
	api       *api.Client
	session   *session.Resolver
	inventory *inventory.Service
	reconcile *reconcile.Engine
}

func main() {
	// Step 1: Setup configuration first
	config.LoadEnv()
	config.ConfigurePaths()

	// Step 2: Setup logging
	loggerConfig := config.LoggerConfig()
	if err := logger.SetupLogger(loggerConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Only NOW is logging safe to use!
	logger.LogInfo("Environment and paths loaded. Logger ready.")

	// Step 3: Load service configuration
	if err := config.LoadAPIConfig(); err != nil {
		logger.LogFatal("Failed to load API config: %v", err)
	}
	if err := config.LoadCredentialConfig(); err != nil {
		logger.LogFatal("Failed to load credential config: %v", err)
	}

	// Step 3b: log .env setting
	config.LogCurrentEnvironment()

	// Step 4: Open the local stores and wire the layers together
	app, err := newApp()
	if err != nil {
		logger.LogFatal("Failed to start: %v", err)
	}

	// Step 4b: sweep expired cache entries and old synced drafts
	cleanup.Run(app.cache, app.drafts)

	// Step 5: Run the requested command
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	runErr := app.Run(ctx, os.Args[1:])

	stop()
	app.Close()

	if runErr != nil {
		logger.LogError("%v", runErr)
		os.Exit(1)
	}
}

// newApp opens the credential store and entity cache and builds the service
// layers on top of them.
func newApp() (*App, error) {
	creds, err := credential.Open(config.CredentialDBFile(), config.Keyphrase())
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	entityCache, err := cache.New(config.CacheDBFile())
	if err != nil {
		creds.Close()
		return nil, fmt.Errorf("opening entity cache: %w", err)
	}

	drafts, err := draft.Open(config.DraftDBFile())
	if err != nil {
		entityCache.Close()
		creds.Close()
		return nil, fmt.Errorf("opening draft store: %w", err)
	}

	client := api.NewClient(config.APIBase(), config.UPCAPIBase(), creds)
	resolver := session.NewResolver(creds, client, entityCache)
	service := inventory.NewService(client, entityCache, resolver)
	engine := reconcile.NewEngine(client, resolver, entityCache)

	return &App{
		creds:     creds,
		cache:     entityCache,
		drafts:    drafts,
		api:       client,
		session:   resolver,
		inventory: service,
		reconcile: engine,
	}, nil
}

func (a *App) Close() {
	if err := a.drafts.Close(); err != nil {
		logger.LogWarn("Closing draft store: %v", err)
	}
	if err := a.cache.Close(); err != nil {
		logger.LogWarn("Closing entity cache: %v", err)
	}
	if err := a.creds.Close(); err != nil {
		logger.LogWarn("Closing credential store: %v", err)
	}
}

// Run dispatches one subcommand.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("no command given")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "login":
		return a.runLogin(ctx, rest)
	case "whoami":
		return a.runWhoami(ctx, rest)
	case "use":
		return a.runUse(ctx, rest)
	case "stores":
		return a.runStores(ctx)
	case "items":
		return a.runItems(ctx)
	case "item":
		return a.runItem(ctx, rest)
	case "add-stock":
		return a.runStock(ctx, rest, true)
	case "reduce-stock":
		return a.runStock(ctx, rest, false)
	case "tax":
		return a.runTax(ctx, rest)
	case "draft":
		return a.runDraft(rest)
	case "sync":
		return a.runSync(ctx, rest)
	case "upc":
		return a.runUPC(ctx, rest)
	case "status":
		return a.runStatus()
	case "signout":
		return a.runSignout()
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `shelfsync - store inventory client

Usage: shelfsync <command> [arguments]

Commands:
  login -token <jwt> [-subject <id>]   store an access token and resolve the account
  whoami [-refresh]                    print the operating context
  stores                               list owned stores
  use <storeID>                        select a store
  items                                list the selected store's inventory
  item <itemID>                        show one item
  add-stock <itemID> <qty>             increase stock
  reduce-stock <itemID> <qty>          decrease stock
  tax <itemID> on|off [rate]           set an item's tax treatment
  draft add [flags]                    stage a catalog selection for the next sync
  draft list                           show staged drafts and their outcomes
  draft rm <draftID>                   delete a staged draft
  sync [-retry-failed N] [drafts.json] push staged drafts (or a file) to the store
  upc <code>                           look up a barcode
  status                               show session, cache and draft queue state
  signout                              clear credentials and cached data
`)
}

//
// ====== COMMANDS ======
//

func (a *App) runLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "access token issued by the identity provider")
	subject := fs.String("subject", "", "override the subject id instead of reading the token's sub claim")
	fs.Parse(args)

	if *token == "" {
		return fmt.Errorf("login requires -token")
	}

	if err := a.session.SignIn(*token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	if *subject != "" {
		if err := a.creds.Set(credential.KeySubjectID, *subject); err != nil {
			return fmt.Errorf("storing subject override: %w", err)
		}
	}

	oc, err := a.session.Resolve(ctx, false)
	if err != nil {
		logger.LogWarn("Token stored, but the account could not be resolved yet: %v", err)
		fmt.Println("Token stored. Run 'shelfsync whoami' once the service is reachable.")
		return nil
	}

	fmt.Printf("Signed in. User %s, store %s selected (%d owned).\n",
		oc.UserID, oc.SelectedStoreID, len(oc.StoreIDs))

	// Best effort: pull the reference families into the cache so the first
	// real screens start warm.
	if err := a.inventory.Warmup(ctx); err != nil {
		logger.LogWarn("Reference data warmup incomplete: %v", err)
	}
	return nil
}

func (a *App) runWhoami(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "re-resolve everything from the service, ignoring stored values")
	fs.Parse(args)

	oc, err := a.session.Resolve(ctx, *refresh)
	if err != nil {
		return err
	}

	fmt.Printf("Subject:        %s\n", oc.SubjectID)
	fmt.Printf("User:           %s\n", oc.UserID)
	fmt.Printf("Owned stores:   %s\n", strings.Join(oc.StoreIDs, ", "))
	fmt.Printf("Selected store: %s\n", oc.SelectedStoreID)
	return nil
}

func (a *App) runUse(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: shelfsync use <storeID>")
	}
	if err := a.session.SelectStore(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Now using store %s.\n", args[0])
	return nil
}

func (a *App) runStores(ctx context.Context) error {
	oc, err := a.session.Resolve(ctx, false)
	if err != nil {
		return err
	}
	for _, storeID := range oc.StoreIDs {
		marker := " "
		if storeID == oc.SelectedStoreID {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, storeID)
	}
	return nil
}

func (a *App) runItems(ctx context.Context) error {
	oc, err := a.session.Resolve(ctx, false)
	if err != nil {
		return err
	}

	items, err := a.inventory.Items(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSKU\tPRICE\tSTOCK\tACTIVE")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%v\n",
			item.ID, item.Name, item.SKU, item.Price, item.StockQuantity, item.Active)
	}
	w.Flush()

	fmt.Printf("%s items in store %s", humanize.Comma(int64(len(items))), oc.SelectedStoreID)
	if info, ok := a.cache.Inspect(inventory.ListKey(oc.SelectedStoreID)); ok {
		fmt.Printf(", fetched %s", humanize.Time(info.FetchedAt))
	}
	fmt.Println()
	return nil
}

func (a *App) runItem(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: shelfsync item <itemID>")
	}

	item, err := a.inventory.ItemDetail(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", item.ID)
	fmt.Printf("Name:     %s\n", item.Name)
	if item.SKU != "" {
		fmt.Printf("SKU:      %s\n", item.SKU)
	}
	if item.Brand != "" {
		fmt.Printf("Brand:    %s\n", item.Brand)
	}
	fmt.Printf("Price:    %.2f\n", item.Price)
	fmt.Printf("Stock:    %d\n", item.StockQuantity)
	fmt.Printf("Tax:      enabled=%v rate=%.2f\n", item.TaxEnabled, item.TaxRate)
	fmt.Printf("Active:   %v\n", item.Active)
	if !item.UpdatedAt.IsZero() {
		fmt.Printf("Updated:  %s\n", humanize.Time(item.UpdatedAt))
	}
	return nil
}

func (a *App) runStock(ctx context.Context, args []string, add bool) error {
	verb := "add-stock"
	if !add {
		verb = "reduce-stock"
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: shelfsync %s <itemID> <qty>", verb)
	}

	quantity, err := strconv.Atoi(args[1])
	if err != nil || quantity <= 0 {
		return fmt.Errorf("quantity must be a positive whole number, got %q", args[1])
	}

	var item catalog.Item
	if add {
		item, err = a.inventory.AddStock(ctx, args[0], quantity)
	} else {
		item, err = a.inventory.ReduceStock(ctx, args[0], quantity)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s now has %d in stock.\n", item.Name, item.StockQuantity)
	return nil
}

func (a *App) runTax(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: shelfsync tax <itemID> on|off [rate]")
	}

	var enabled bool
	switch strings.ToLower(args[1]) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("tax mode must be on or off, got %q", args[1])
	}

	var rate float64
	if len(args) == 3 {
		var err error
		rate, err = strconv.ParseFloat(args[2], 64)
		if err != nil || rate < 0 {
			return fmt.Errorf("tax rate must be a non-negative number, got %q", args[2])
		}
	}

	item, err := a.inventory.SetTax(ctx, args[0], enabled, rate)
	if err != nil {
		return err
	}

	if item.TaxEnabled {
		fmt.Printf("%s: tax on at %.2f.\n", item.Name, item.TaxRate)
	} else {
		fmt.Printf("%s: tax off.\n", item.Name)
	}
	return nil
}

func (a *App) runSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	retries := fs.Int("retry-failed", 0, "extra passes over the failed subset")
	fs.Parse(args)

	if fs.NArg() > 1 {
		return fmt.Errorf("usage: shelfsync sync [-retry-failed N] [drafts.json]")
	}

	// A file argument syncs that file; otherwise the staged queue goes out.
	var drafts []catalog.SelectionDraft
	var queued []draft.Record

	if fs.NArg() == 1 {
		var err error
		drafts, err = loadDrafts(fs.Arg(0))
		if err != nil {
			return err
		}
	} else {
		var err error
		queued, err = a.drafts.Pending()
		if err != nil {
			return err
		}
		if len(queued) == 0 {
			fmt.Println("No drafts staged. Use 'shelfsync draft add' first.")
			return nil
		}
		drafts = make([]catalog.SelectionDraft, len(queued))
		for i, rec := range queued {
			drafts[i] = rec.Draft
		}
	}

	fmt.Printf("Reconciling %s drafts...\n", humanize.Comma(int64(len(drafts))))

	summary, err := a.reconcile.Reconcile(ctx, drafts)
	if err != nil {
		return err
	}
	printSummary(summary)

	for pass := 0; pass < *retries && len(summary.Failed) > 0; pass++ {
		retry := summary.FailedDrafts()
		fmt.Printf("Retrying %d failed drafts (pass %d)...\n", len(retry), pass+1)

		summary, err = a.reconcile.Reconcile(ctx, retry)
		if err != nil {
			return err
		}
		printSummary(summary)
	}

	if len(queued) > 0 {
		a.recordOutcomes(queued, summary)
	}

	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d drafts did not commit", len(summary.Failed))
	}
	return nil
}

// recordOutcomes writes the result of a queue-backed sync into the draft
// store. A draft absent from the final failed set committed in some pass;
// failures stay queued with the reason attached for the next run.
func (a *App) recordOutcomes(queued []draft.Record, summary reconcile.Summary) {
	failures := make(map[catalog.SelectionDraft][]string)
	for _, failure := range summary.Failed {
		failures[failure.Draft] = append(failures[failure.Draft], failure.Message)
	}

	for _, rec := range queued {
		if messages := failures[rec.Draft]; len(messages) > 0 {
			failures[rec.Draft] = messages[1:]
			if err := a.drafts.MarkFailed(rec.ID, summary.RunID, messages[0]); err != nil {
				logger.LogWarn("Could not record failure for draft %s: %v", rec.ID, err)
			}
			continue
		}
		if err := a.drafts.MarkSynced(rec.ID, summary.RunID); err != nil {
			logger.LogWarn("Could not mark draft %s synced: %v", rec.ID, err)
		}
	}
}

func (a *App) runDraft(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: shelfsync draft add|list|rm")
	}

	switch args[0] {
	case "add":
		return a.runDraftAdd(args[1:])
	case "list":
		return a.runDraftList()
	case "rm":
		return a.runDraftRemove(args[1:])
	default:
		return fmt.Errorf("unknown draft command %q", args[0])
	}
}

func (a *App) runDraftAdd(args []string) error {
	fs := flag.NewFlagSet("draft add", flag.ExitOnError)
	catalogID := fs.String("catalog-id", "", "master catalog item id")
	name := fs.String("name", "", "item name")
	sku := fs.String("sku", "", "store-local SKU")
	price := fs.String("price", "", "selling price")
	qty := fs.String("qty", "0", "initial stock quantity")
	taxed := fs.Bool("tax", false, "collect tax for this item")
	inactive := fs.Bool("inactive", false, "stage the item as inactive")
	seasonal := fs.Bool("seasonal", false, "mark the item seasonal")
	discontinued := fs.Bool("discontinued", false, "mark the item discontinued")
	fs.Parse(args)

	if *catalogID == "" || *name == "" || *price == "" {
		return fmt.Errorf("draft add requires -catalog-id, -name and -price")
	}

	rec, err := a.drafts.Add(catalog.SelectionDraft{
		InventoryItemID: *catalogID,
		Name:            *name,
		SKU:             *sku,
		Price:           *price,
		StockQuantity:   *qty,
		TaxEnabled:      *taxed,
		Active:          !*inactive,
		Seasonal:        *seasonal,
		Discontinued:    *discontinued,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Staged %s as draft %s. Run 'shelfsync sync' to push it.\n", *name, rec.ID)
	return nil
}

func (a *App) runDraftList() error {
	records, err := a.drafts.Recent(50)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No drafts staged.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tITEM\tPRICE\tQTY\tSTATUS")
	for _, rec := range records {
		status := "pending"
		switch {
		case rec.Synced && rec.SyncedAt != nil:
			status = "synced " + humanize.Time(*rec.SyncedAt)
		case rec.SyncError != "":
			status = "failed: " + rec.SyncError
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Draft.Name, rec.Draft.Price, rec.Draft.StockQuantity, status)
	}
	w.Flush()
	return nil
}

func (a *App) runDraftRemove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: shelfsync draft rm <draftID>")
	}
	if err := a.drafts.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed draft %s.\n", args[0])
	return nil
}

// runStatus reports purely from local state; it never touches the network.
func (a *App) runStatus() error {
	fmt.Printf("Data directory:  %s\n", config.DataDirectory())

	subject, err := a.creds.Get(credential.KeySubjectID)
	if err != nil {
		fmt.Println("Session:         not signed in")
	} else {
		fmt.Printf("Session:         %s\n", subject)
	}

	selected, _ := a.creds.Get(credential.KeySelectedStoreID)
	if selected != "" {
		fmt.Printf("Selected store:  %s\n", selected)
		if info, ok := a.cache.Inspect(inventory.ListKey(selected)); ok {
			fmt.Printf("Inventory cache: fetched %s\n", humanize.Time(info.FetchedAt))
		} else {
			fmt.Println("Inventory cache: cold")
		}
	}

	if info, ok := a.cache.Inspect(inventory.CategoriesKey); ok {
		fmt.Printf("Reference cache: fetched %s\n", humanize.Time(info.FetchedAt))
	} else {
		fmt.Println("Reference cache: cold")
	}

	pending, err := a.drafts.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("Pending drafts:  none")
	} else {
		fmt.Printf("Pending drafts:  %d (oldest staged %s)\n",
			len(pending), humanize.Time(pending[0].CreatedAt))
	}
	return nil
}

func (a *App) runUPC(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: shelfsync upc <code>")
	}

	result, err := a.inventory.LookupUPC(ctx, args[0])
	if err != nil {
		return err
	}
	if result.Name == "" {
		fmt.Printf("No product found for %s.\n", args[0])
		return nil
	}

	fmt.Printf("Name:     %s\n", result.Name)
	if result.Brand != "" {
		fmt.Printf("Brand:    %s\n", result.Brand)
	}
	if result.Category != "" {
		fmt.Printf("Category: %s\n", result.Category)
	}
	if result.Description != "" {
		fmt.Printf("About:    %s\n", result.Description)
	}
	return nil
}

func (a *App) runSignout() error {
	if err := a.session.SignOut(); err != nil {
		return err
	}
	fmt.Println("Signed out. Credentials and cached data cleared.")
	return nil
}

//
// ====== HELPERS ======
//

// loadDrafts reads a JSON array of selection drafts from disk.
func loadDrafts(path string) ([]catalog.SelectionDraft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading drafts file: %w", err)
	}

	var drafts []catalog.SelectionDraft
	if err := json.Unmarshal(data, &drafts); err != nil {
		return nil, fmt.Errorf("parsing drafts file %s: %w", path, err)
	}
	return drafts, nil
}

func printSummary(summary reconcile.Summary) {
	fmt.Printf("Run %s: %d added, %d updated, %d failed.\n",
		summary.RunID, summary.Added, summary.Updated, len(summary.Failed))
	for _, failure := range summary.Failed {
		name := failure.Draft.Name
		if name == "" {
			name = failure.Draft.InventoryItemID
		}
		fmt.Printf("  FAILED %s: %s\n", name, failure.Message)
	}
}
