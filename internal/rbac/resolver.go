package rbac

import (
	"context"
	"fmt"
)

// Resolver computes a principal's effective permission set from base-role
// defaults, assigned custom roles and direct grants. It is side-effect free
// given a consistent read of the store.
type Resolver struct {
	repo    RepositoryPort
	catalog *Catalog
}

// NewResolver constructs a resolver.
func NewResolver(repo RepositoryPort, catalog *Catalog) *Resolver {
	return &Resolver{repo: repo, catalog: catalog}
}

// ComputeEffectivePermissions resolves the principal's full permission set.
// SUPER_ADMIN short-circuits to the entire catalog regardless of assignments.
// Soft-deleted roles never contribute.
func (r *Resolver) ComputeEffectivePermissions(ctx context.Context, principal Principal) (PermissionSet, error) {
	if principal.BaseRole == BaseRoleSuperAdmin {
		return NewPermissionSet(r.catalog.Codes()...), nil
	}

	set := NewPermissionSet(DefaultPermissions(principal.BaseRole)...)

	roles, err := r.repo.ActiveRolesOf(ctx, principal.ID, principal.TenantID)
	if err != nil {
		return nil, fmt.Errorf("rbac: resolve roles: %w", err)
	}
	for _, role := range roles {
		for _, code := range role.Permissions {
			set.Add(code)
		}
	}

	grants, err := r.repo.ListGrants(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("rbac: resolve grants: %w", err)
	}
	for _, g := range grants {
		set.Add(g.Permission)
	}
	return set, nil
}

// HasPermission reports whether the principal holds code. Unknown codes fail
// with ErrUnknownPermission so callers never conflate "no such capability"
// with "capability denied".
func (r *Resolver) HasPermission(ctx context.Context, principal Principal, code string) (bool, error) {
	if !r.catalog.Contains(code) {
		return false, fmt.Errorf("%w: %s", ErrUnknownPermission, code)
	}
	if principal.BaseRole == BaseRoleSuperAdmin {
		return true, nil
	}
	set, err := r.ComputeEffectivePermissions(ctx, principal)
	if err != nil {
		return false, err
	}
	return set.Has(code), nil
}
