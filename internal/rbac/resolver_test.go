package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEffectivePermissions(t *testing.T) {
	repo := newFakeRepo()
	resolver := NewResolver(repo, NewCatalog())
	ctx := context.Background()

	role := repo.addRole(7, "Lab Supervisor", []string{"lab:write", "lab:approve"}, false, true)
	repo.assign(200, role.ID, 100)
	repo.grant(200, "reports:export", 100)

	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}
	set, err := resolver.ComputeEffectivePermissions(ctx, nurse)
	require.NoError(t, err)

	// Base-role default.
	assert.True(t, set.Has("nursing:write"))
	// Assigned custom role.
	assert.True(t, set.Has("lab:approve"))
	// Direct grant.
	assert.True(t, set.Has("reports:export"))
	// Never granted through any path.
	assert.False(t, set.Has("billing:refund"))
}

func TestComputeEffectivePermissionsSkipsInactiveRole(t *testing.T) {
	repo := newFakeRepo()
	resolver := NewResolver(repo, NewCatalog())
	ctx := context.Background()

	deleted := repo.addRole(7, "Retired Role", []string{"billing:refund"}, false, false)
	repo.assign(200, deleted.ID, 100)

	set, err := resolver.ComputeEffectivePermissions(ctx, Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse})
	require.NoError(t, err)
	assert.False(t, set.Has("billing:refund"))
}

func TestComputeEffectivePermissionsTenantIsolation(t *testing.T) {
	repo := newFakeRepo()
	resolver := NewResolver(repo, NewCatalog())
	ctx := context.Background()

	foreign := repo.addRole(8, "Other Hospital Role", []string{"billing:refund"}, false, true)
	// Assignment exists but the role belongs to another tenant.
	repo.assign(200, foreign.ID, 100)

	set, err := resolver.ComputeEffectivePermissions(ctx, Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse})
	require.NoError(t, err)
	assert.False(t, set.Has("billing:refund"))
}

func TestSuperAdminGetsFullCatalog(t *testing.T) {
	repo := newFakeRepo()
	catalog := NewCatalog()
	resolver := NewResolver(repo, catalog)

	set, err := resolver.ComputeEffectivePermissions(context.Background(), Principal{ID: 1, TenantID: 7, BaseRole: BaseRoleSuperAdmin})
	require.NoError(t, err)
	assert.Equal(t, catalog.Codes(), set.Sorted())
	// No store round trips for a super admin.
	assert.Zero(t, repo.activeRolesCalls)
}

func TestHasPermission(t *testing.T) {
	repo := newFakeRepo()
	resolver := NewResolver(repo, NewCatalog())
	ctx := context.Background()

	doctor := Principal{ID: 300, TenantID: 7, BaseRole: BaseRoleDoctor}

	ok, err := resolver.HasPermission(ctx, doctor, "lab:order")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = resolver.HasPermission(ctx, doctor, "mortuary:write")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = resolver.HasPermission(ctx, doctor, "starship:pilot")
	require.ErrorIs(t, err, ErrUnknownPermission)
}

func TestComputeEffectivePermissionsSurfacesStoreErrors(t *testing.T) {
	repo := newFakeRepo()
	repo.activeRolesErr = errors.New("connection reset")
	resolver := NewResolver(repo, NewCatalog())

	_, err := resolver.ComputeEffectivePermissions(context.Background(), Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse})
	require.Error(t, err)
}
