package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogDescribe(t *testing.T) {
	catalog := NewCatalog()

	entry, err := catalog.Describe("patients:read")
	require.NoError(t, err)
	assert.Equal(t, CategoryPatients, entry.Category)
	assert.NotEmpty(t, entry.Description)

	_, err = catalog.Describe("starship:pilot")
	require.ErrorIs(t, err, ErrUnknownPermission)
}

func TestCatalogEnumerateMatchesCodes(t *testing.T) {
	catalog := NewCatalog()

	entries := catalog.Enumerate()
	codes := catalog.Codes()
	require.Equal(t, len(entries), len(codes))

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		assert.False(t, seen[e.Code], "duplicate code %s", e.Code)
		seen[e.Code] = true
		assert.True(t, catalog.Contains(e.Code))
	}
}

func TestCatalogCategoriesCoverEveryCode(t *testing.T) {
	catalog := NewCatalog()

	total := 0
	for category, codes := range catalog.Categories() {
		assert.NotEmpty(t, codes, "empty category %s", category)
		for _, code := range codes {
			entry, err := catalog.Describe(code)
			require.NoError(t, err)
			assert.Equal(t, category, entry.Category)
		}
		total += len(codes)
	}
	assert.Equal(t, len(catalog.Codes()), total)
}

func TestCatalogValidate(t *testing.T) {
	catalog := NewCatalog()

	require.NoError(t, catalog.Validate([]string{"patients:read", "lab:approve"}))
	require.NoError(t, catalog.Validate(nil))

	err := catalog.Validate([]string{"patients:read", "starship:pilot"})
	require.ErrorIs(t, err, ErrUnknownPermission)
}

// Every base-role default must reference only catalog codes, otherwise
// startup seeding would fail.
func TestBaseRoleDefaultsAreInCatalog(t *testing.T) {
	catalog := NewCatalog()

	for role, perms := range baseRoleDefaults {
		assert.NotEmpty(t, perms, "no defaults for %s", role)
		require.NoError(t, catalog.Validate(perms), "defaults for %s", role)
	}
}

func TestBaseRoleValid(t *testing.T) {
	assert.True(t, BaseRoleDoctor.Valid())
	assert.True(t, BaseRoleSuperAdmin.Valid())
	assert.False(t, BaseRole("JANITOR").Valid())
	assert.False(t, BaseRole("").Valid())
}

func TestSeedSystemRoles(t *testing.T) {
	repo := newFakeRepo()
	catalog := NewCatalog()

	ctx := context.Background()
	require.NoError(t, SeedSystemRoles(ctx, repo, catalog, nil))
	assert.Len(t, repo.roles, len(baseRoleDefaults))
	for _, role := range repo.roles {
		assert.True(t, role.IsSystem)
		assert.True(t, role.IsActive)
		assert.Zero(t, role.TenantID)
	}

	// Re-seeding refreshes in place instead of duplicating.
	require.NoError(t, SeedSystemRoles(ctx, repo, catalog, nil))
	assert.Len(t, repo.roles, len(baseRoleDefaults))
}
