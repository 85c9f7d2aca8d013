package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheWarmup re-resolves recently active principals so the cache
	// recovers quickly after a version bump or deploy.
	TaskCacheWarmup = "rbac:cache_warmup"
	// TaskGrantIntegrity scans stored role permission sets and direct grants
	// for codes missing from the catalog.
	TaskGrantIntegrity = "rbac:grant_integrity"
)

// NewCacheWarmupTask constructs a cache warmup task.
func NewCacheWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskCacheWarmup, nil)
}

// NewGrantIntegrityTask constructs a grant integrity scan task.
func NewGrantIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskGrantIntegrity, nil)
}
