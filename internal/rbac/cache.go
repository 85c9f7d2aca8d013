package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "rbac:perms:version"
	recentSetKey    = "rbac:perms:recent"
	// BumpChannel carries invalidate-all notifications to other instances.
	BumpChannel = "rbac.perms.bump"

	recentTTL = 24 * time.Hour
)

// Cache fronts the Resolver with a shared Redis cache keyed by principal.
// Entries carry a bounded TTL as a staleness ceiling; invalidation is
// synchronous. When Redis is unreachable every read degrades to direct
// resolution with a logged warning; resolution errors still surface, so the
// engine never fails open.
type Cache struct {
	client   *redis.Client
	resolver *Resolver
	repo     RepositoryPort
	ttl      time.Duration
	logger   *slog.Logger
	group    singleflight.Group
}

// NewCache constructs the permission cache. A nil client disables caching
// entirely and every call resolves directly.
func NewCache(client *redis.Client, resolver *Resolver, repo RepositoryPort, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, resolver: resolver, repo: repo, ttl: ttl, logger: logger}
}

type cachedPrincipal struct {
	ID       int64    `json:"id"`
	TenantID int64    `json:"tenant_id"`
	BaseRole BaseRole `json:"base_role"`
}

// GetOrResolve returns the principal's effective permission set, serving a
// warm entry when present and resolving plus storing otherwise. Concurrent
// misses for the same principal collapse into one resolution.
func (c *Cache) GetOrResolve(ctx context.Context, principal Principal) (PermissionSet, error) {
	if c.client == nil {
		return c.resolver.ComputeEffectivePermissions(ctx, principal)
	}
	v, err, _ := c.group.Do(strconv.FormatInt(principal.ID, 10), func() (any, error) {
		return c.lookup(ctx, principal)
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet), nil
}

func (c *Cache) lookup(ctx context.Context, principal Principal) (PermissionSet, error) {
	key, err := c.key(ctx, principal.ID)
	if err != nil {
		c.warnDegraded("cache version unavailable", err)
		return c.resolver.ComputeEffectivePermissions(ctx, principal)
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var codes []string
		if uerr := json.Unmarshal(payload, &codes); uerr == nil {
			return NewPermissionSet(codes...), nil
		}
		// Corrupt entry: fall through and overwrite.
	} else if err != redis.Nil {
		c.warnDegraded("cache read failed", err)
		return c.resolver.ComputeEffectivePermissions(ctx, principal)
	}

	set, err := c.resolver.ComputeEffectivePermissions(ctx, principal)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(set.Sorted())
	if err != nil {
		return nil, fmt.Errorf("rbac: encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.warnDegraded("cache write failed", err)
	}
	c.trackRecent(ctx, principal)
	return set, nil
}

// Invalidate removes the principal's cached entry immediately. The next
// GetOrResolve recomputes from source.
func (c *Cache) Invalidate(ctx context.Context, principalID int64) error {
	if c.client == nil {
		return nil
	}
	key, err := c.key(ctx, principalID)
	if err != nil {
		return err
	}
	c.group.Forget(strconv.FormatInt(principalID, 10))
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("rbac: invalidate principal %d: %w", principalID, err)
	}
	return nil
}

// InvalidateForRole invalidates every principal currently holding the role.
// Required whenever a role's permission set or active state changes.
func (c *Cache) InvalidateForRole(ctx context.Context, roleID int64) error {
	if c.client == nil {
		return nil
	}
	ids, err := c.repo.PrincipalIDsWithRole(ctx, roleID)
	if err != nil {
		// Affected principals unknown: drop everything rather than risk
		// serving a stale set.
		if aerr := c.InvalidateAll(ctx); aerr != nil {
			return aerr
		}
		return nil
	}
	pipe := c.client.Pipeline()
	for _, id := range ids {
		key, kerr := c.key(ctx, id)
		if kerr != nil {
			return kerr
		}
		c.group.Forget(strconv.FormatInt(id, 10))
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rbac: invalidate role %d: %w", roleID, err)
	}
	return nil
}

// InvalidateAll bumps the cache version, orphaning every existing entry, and
// broadcasts the bump so other instances can react. Conservative fallback
// when the affected principal set cannot be cheaply enumerated.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return fmt.Errorf("rbac: bump cache version: %w", err)
	}
	if err := c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err(); err != nil {
		c.warnDegraded("bump broadcast failed", err)
	}
	return nil
}

// RecentPrincipals returns principals resolved within the tracking window,
// used by the warmup job to repopulate the cache after bulk invalidation.
func (c *Cache) RecentPrincipals(ctx context.Context) ([]Principal, error) {
	if c.client == nil {
		return nil, nil
	}
	members, err := c.client.SMembers(ctx, recentSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rbac: recent principals: %w", err)
	}
	principals := make([]Principal, 0, len(members))
	for _, m := range members {
		var cp cachedPrincipal
		if err := json.Unmarshal([]byte(m), &cp); err != nil {
			continue
		}
		principals = append(principals, Principal{ID: cp.ID, TenantID: cp.TenantID, BaseRole: cp.BaseRole})
	}
	return principals, nil
}

func (c *Cache) key(ctx context.Context, principalID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rbac:perms:v%d:%d", ver, principalID), nil
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) trackRecent(ctx context.Context, principal Principal) {
	raw, err := json.Marshal(cachedPrincipal{ID: principal.ID, TenantID: principal.TenantID, BaseRole: principal.BaseRole})
	if err != nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.SAdd(ctx, recentSetKey, raw)
	pipe.Expire(ctx, recentSetKey, recentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.warnDegraded("recent tracking failed", err)
	}
}

func (c *Cache) warnDegraded(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.Any("error", err))
	}
}
