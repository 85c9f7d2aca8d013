package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-hms/meridian-hms/internal/rbac"
)

// NewCacheWarmupHandler returns the handler for TaskCacheWarmup. It walks
// the principals resolved within the tracking window and re-resolves each
// one, repopulating the cache from source.
func NewCacheWarmupHandler(cache *rbac.Cache, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		principals, err := cache.RecentPrincipals(ctx)
		if err != nil {
			return err
		}
		warmed := 0
		for _, principal := range principals {
			if _, err := cache.GetOrResolve(ctx, principal); err != nil {
				if logger != nil {
					logger.Warn("cache warmup skip",
						slog.Int64("principal_id", principal.ID),
						slog.Any("error", err))
				}
				continue
			}
			warmed++
		}
		if logger != nil {
			logger.Info("cache warmup complete",
				slog.Int("principals", len(principals)),
				slog.Int("warmed", warmed))
		}
		return nil
	}
}
