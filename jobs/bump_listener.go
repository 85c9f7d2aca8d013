package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-hms/meridian-hms/internal/rbac"
)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueCacheWarmup schedules a cache warmup run.
func (c *Client) EnqueueCacheWarmup(ctx context.Context) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, NewCacheWarmupTask(), asynq.Queue(QueueDefault))
}

// EnqueueGrantIntegrity schedules a grant integrity scan.
func (c *Client) EnqueueGrantIntegrity(ctx context.Context) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, NewGrantIntegrityTask(), asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// ListenForBumps subscribes to the cache bump channel and schedules a warmup
// after each invalidate-all, so a bulk invalidation is followed by a
// repopulated cache instead of a thundering herd of cold reads. Runs until
// context cancellation.
func ListenForBumps(ctx context.Context, redisClient *redis.Client, client *Client, logger *slog.Logger) {
	if redisClient == nil || client == nil {
		return
	}
	sub := redisClient.Subscribe(ctx, rbac.BumpChannel)
	defer func() {
		_ = sub.Close()
	}()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := client.EnqueueCacheWarmup(ctx); err != nil && logger != nil {
				logger.Warn("enqueue cache warmup", slog.String("bump", msg.Payload), slog.Any("error", err))
			}
		}
	}
}
