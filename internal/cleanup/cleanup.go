package cleanup

import (
	"time"

	"shelfsync/internal/cache"
	"shelfsync/internal/draft"
	"shelfsync/internal/logger"
)

const (
	draftRetentionDays = 30 // synced drafts kept as history this long
	maxDeletionPerRun  = 25 // Maximum records to delete per run
)

// Run sweeps the local databases once. Called at startup so each launch
// reclaims a bounded amount of space; a short-lived process never pays for
// more than one sweep.
func Run(entityCache *cache.Cache, drafts *draft.Store) {
	logger.LogInfo("Starting maintenance sweep of local databases")

	totalCleaned := 0

	cacheCleaned, err := entityCache.PruneExpired(maxDeletionPerRun)
	if err != nil {
		logger.LogError("Failed to prune expired cache entries: %v", err)
	} else {
		totalCleaned += cacheCleaned
		if cacheCleaned > 0 {
			logger.LogInfo("Cleaned up %d expired cache entries", cacheCleaned)
		}
	}

	draftsCleaned, err := pruneSyncedDrafts(drafts)
	if err != nil {
		logger.LogError("Failed to prune synced drafts: %v", err)
	} else {
		totalCleaned += draftsCleaned
		if draftsCleaned > 0 {
			logger.LogInfo("Cleaned up %d old synced drafts", draftsCleaned)
		}
	}

	if totalCleaned == 0 {
		logger.LogInfo("Maintenance sweep completed - nothing to remove")
	} else {
		logger.LogInfo("Maintenance sweep completed - total %d records removed", totalCleaned)
	}
}

func pruneSyncedDrafts(drafts *draft.Store) (int, error) {
	cutoffTime := time.Now().AddDate(0, 0, -draftRetentionDays)
	return drafts.PruneSynced(cutoffTime, maxDeletionPerRun)
}
