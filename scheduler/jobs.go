package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/cache"
	"github.com/saiset-co/sai-offline/syncer"
	"github.com/saiset-co/sai-offline/types"
)

const (
	CacheCleanupJobName = "cache_cleanup"
	RetrySyncJobName    = "retry_sync"
)

// CleanupJob sweeps expired and corrupted cache entries.
func CleanupJob(store *cache.Store, logger types.Logger) types.Job {
	return func(ctx context.Context) error {
		removed, err := store.Cleanup(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("Cache cleanup finished", zap.Int("removed", removed))
		}
		return nil
	}
}

// RetrySyncJob replays the pending queue when there is something to send.
// Offline ticks are no-ops.
func RetrySyncJob(engine *syncer.Engine, logger types.Logger) types.Job {
	return func(ctx context.Context) error {
		if !engine.GetNetworkStatus().IsConnected {
			return nil
		}

		pending, err := engine.PendingCount(ctx)
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}

		result, err := engine.SyncPendingActions(ctx)
		if err != nil {
			return err
		}
		if !result.Skipped {
			logger.Info("Retry sync finished",
				zap.Int("succeeded", result.Succeeded),
				zap.Int("retained", result.Retained),
				zap.Int("dead_lettered", result.DeadLettered))
		}
		return nil
	}
}
