package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, repo *fakeRepo) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	resolver := NewResolver(repo, NewCatalog())
	return NewCache(client, resolver, repo, time.Minute, nil), mr
}

func TestGetOrResolveCaches(t *testing.T) {
	repo := newFakeRepo()
	cache, _ := newTestCache(t, repo)
	ctx := context.Background()

	role := repo.addRole(7, "Lab Supervisor", []string{"lab:approve"}, false, true)
	repo.assign(200, role.ID, 100)
	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}

	set, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.True(t, set.Has("lab:approve"))
	assert.Equal(t, 1, repo.activeRolesCalls)

	// Second call is served from Redis.
	set, err = cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.True(t, set.Has("lab:approve"))
	assert.Equal(t, 1, repo.activeRolesCalls)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	repo := newFakeRepo()
	cache, _ := newTestCache(t, repo)
	ctx := context.Background()

	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}
	_, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)

	role := repo.addRole(7, "Lab Supervisor", []string{"lab:approve"}, false, true)
	repo.assign(200, role.ID, 100)

	// Stale until invalidated.
	set, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.False(t, set.Has("lab:approve"))

	require.NoError(t, cache.Invalidate(ctx, 200))

	set, err = cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.True(t, set.Has("lab:approve"))
}

func TestInvalidateForRoleTouchesEveryHolder(t *testing.T) {
	repo := newFakeRepo()
	cache, _ := newTestCache(t, repo)
	ctx := context.Background()

	role := repo.addRole(7, "Lab Supervisor", []string{"lab:approve"}, false, true)
	repo.assign(200, role.ID, 100)
	repo.assign(201, role.ID, 100)

	holder := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}
	other := Principal{ID: 201, TenantID: 7, BaseRole: BaseRoleNurse}
	_, err := cache.GetOrResolve(ctx, holder)
	require.NoError(t, err)
	_, err = cache.GetOrResolve(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.activeRolesCalls)

	require.NoError(t, cache.InvalidateForRole(ctx, role.ID))

	_, err = cache.GetOrResolve(ctx, holder)
	require.NoError(t, err)
	_, err = cache.GetOrResolve(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 4, repo.activeRolesCalls)
}

func TestInvalidateForRoleFallsBackToInvalidateAll(t *testing.T) {
	repo := newFakeRepo()
	cache, _ := newTestCache(t, repo)
	ctx := context.Background()

	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}
	_, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.activeRolesCalls)

	// Holder enumeration fails: the version bump must orphan every entry.
	repo.principalsErr = errors.New("connection reset")
	require.NoError(t, cache.InvalidateForRole(ctx, 42))
	repo.principalsErr = nil

	_, err = cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.activeRolesCalls)
}

func TestInvalidateAllOrphansEveryEntry(t *testing.T) {
	repo := newFakeRepo()
	cache, _ := newTestCache(t, repo)
	ctx := context.Background()

	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}
	doctor := Principal{ID: 300, TenantID: 7, BaseRole: BaseRoleDoctor}
	_, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	_, err = cache.GetOrResolve(ctx, doctor)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.activeRolesCalls)

	require.NoError(t, cache.InvalidateAll(ctx))

	_, err = cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	_, err = cache.GetOrResolve(ctx, doctor)
	require.NoError(t, err)
	assert.Equal(t, 4, repo.activeRolesCalls)
}

func TestCacheDegradesToDirectResolution(t *testing.T) {
	repo := newFakeRepo()
	cache, mr := newTestCache(t, repo)
	ctx := context.Background()

	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}
	_, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)

	mr.Close()

	// Redis gone: reads resolve directly instead of failing.
	set, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.True(t, set.Has("nursing:write"))
	assert.Equal(t, 2, repo.activeRolesCalls)
}

func TestCacheNeverFailsOpen(t *testing.T) {
	repo := newFakeRepo()
	cache, mr := newTestCache(t, repo)
	mr.Close()
	repo.activeRolesErr = errors.New("connection reset")

	// Both cache and store down: the error surfaces so callers deny.
	_, err := cache.GetOrResolve(context.Background(), Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse})
	require.Error(t, err)
}

func TestNilClientResolvesDirectly(t *testing.T) {
	repo := newFakeRepo()
	resolver := NewResolver(repo, NewCatalog())
	cache := NewCache(nil, resolver, repo, time.Minute, nil)
	ctx := context.Background()

	set, err := cache.GetOrResolve(ctx, Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse})
	require.NoError(t, err)
	assert.True(t, set.Has("nursing:write"))
	assert.Equal(t, 1, repo.activeRolesCalls)

	_, err = cache.GetOrResolve(ctx, Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.activeRolesCalls)

	require.NoError(t, cache.Invalidate(ctx, 200))
	require.NoError(t, cache.InvalidateAll(ctx))
}

func TestRecentPrincipalsTracksResolvedOnes(t *testing.T) {
	repo := newFakeRepo()
	cache, _ := newTestCache(t, repo)
	ctx := context.Background()

	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}
	doctor := Principal{ID: 300, TenantID: 8, BaseRole: BaseRoleDoctor}
	_, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	_, err = cache.GetOrResolve(ctx, doctor)
	require.NoError(t, err)

	recent, err := cache.RecentPrincipals(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Principal{nurse, doctor}, recent)
}

// End-to-end: a mutation through the store must be visible on the very next
// cached read, because invalidation completes before the mutation returns.
func TestMutationVisibleOnNextRead(t *testing.T) {
	repo := newFakeRepo()
	cache, _ := newTestCache(t, repo)
	store := NewStore(repo, NewCatalog(), cache, nil)
	ctx := context.Background()

	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}

	set, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.False(t, set.Has("billing:read"))

	require.NoError(t, store.GrantPermission(ctx, 200, "billing:read", 7, 100))

	set, err = cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.True(t, set.Has("billing:read"))

	require.NoError(t, store.RevokePermission(ctx, 200, "billing:read", 7, 100))

	set, err = cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.False(t, set.Has("billing:read"))
}

func TestRoleRemovalVisibleOnNextRead(t *testing.T) {
	repo := newFakeRepo()
	cache, _ := newTestCache(t, repo)
	store := NewStore(repo, NewCatalog(), cache, nil)
	ctx := context.Background()

	supervisor := repo.addRole(7, "Lab Supervisor", []string{"lab:read", "lab:write"}, false, true)
	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}

	require.NoError(t, store.AssignRole(ctx, 200, supervisor.ID, 7, 100))
	require.NoError(t, store.GrantPermission(ctx, 200, "billing:read", 7, 100))

	set, err := cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.True(t, set.Has("lab:write"))
	assert.True(t, set.Has("billing:read"))

	require.NoError(t, store.RemoveRole(ctx, 200, supervisor.ID, 7, 100))

	set, err = cache.GetOrResolve(ctx, nurse)
	require.NoError(t, err)
	assert.False(t, set.Has("lab:write"))
	assert.True(t, set.Has("billing:read"))
}
