package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"

	"github.com/meridian-hms/meridian-hms/internal/audit"
)

// Invalidator removes cached permission sets after a mutation. Calls are
// synchronous: a mutation does not return success until its invalidation
// completed.
type Invalidator interface {
	Invalidate(ctx context.Context, principalID int64) error
	InvalidateForRole(ctx context.Context, roleID int64) error
	InvalidateAll(ctx context.Context) error
}

var nameFolder = cases.Fold()

// foldName normalises a role name for tenant-unique comparison.
func foldName(name string) string {
	return nameFolder.String(strings.TrimSpace(name))
}

// Store orchestrates role, assignment and grant mutations. Every mutation
// writes its audit entry in the same transaction and invalidates affected
// cache entries before returning.
type Store struct {
	repo        RepositoryPort
	catalog     *Catalog
	invalidator Invalidator
	logger      *slog.Logger
}

// NewStore constructs the role store.
func NewStore(repo RepositoryPort, catalog *Catalog, invalidator Invalidator, logger *slog.Logger) *Store {
	return &Store{repo: repo, catalog: catalog, invalidator: invalidator, logger: logger}
}

// CreateRole creates a tenant-scoped custom role. Permission codes are
// validated against the catalog; the name must be unique within the tenant.
func (s *Store) CreateRole(ctx context.Context, tenantID int64, name string, permissions []string, createdBy int64) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" || tenantID == 0 {
		return Role{}, fmt.Errorf("%w: role name and tenant required", ErrValidation)
	}
	if err := s.catalog.Validate(permissions); err != nil {
		return Role{}, err
	}
	var created Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.InsertRole(ctx, Role{TenantID: tenantID, Name: name, Permissions: dedupe(permissions)})
		if err != nil {
			return err
		}
		created = role
		return tx.AppendAudit(ctx, audit.Entry{
			TenantID:     tenantID,
			ActorID:      createdBy,
			Action:       audit.ActionRoleCreated,
			TargetRoleID: role.ID,
		})
	})
	if err != nil {
		return Role{}, err
	}
	return created, nil
}

// UpdateRole applies a partial update to a custom role. System roles reject
// mutation with ErrValidation.
func (s *Store) UpdateRole(ctx context.Context, roleID, tenantID int64, patch RolePatch, updatedBy int64) (Role, error) {
	role, err := s.repo.GetRole(ctx, roleID, tenantID)
	if err != nil {
		return Role{}, err
	}
	if role.IsSystem {
		return Role{}, fmt.Errorf("%w: system roles are immutable", ErrValidation)
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name required", ErrValidation)
		}
		role.Name = name
	}
	if patch.Permissions != nil {
		if err := s.catalog.Validate(*patch.Permissions); err != nil {
			return Role{}, err
		}
		role.Permissions = dedupe(*patch.Permissions)
	}
	if patch.IsActive != nil {
		role.IsActive = *patch.IsActive
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateRole(ctx, role); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			TenantID:     tenantID,
			ActorID:      updatedBy,
			Action:       audit.ActionRoleUpdated,
			TargetRoleID: role.ID,
		})
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidateRole(ctx, roleID)
	return role, nil
}

// DeleteRole soft-deletes a custom role. Assignments stay in place but the
// role stops contributing to resolution immediately.
func (s *Store) DeleteRole(ctx context.Context, roleID, tenantID int64, deletedBy int64) error {
	role, err := s.repo.GetRole(ctx, roleID, tenantID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system roles are immutable", ErrValidation)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SoftDeleteRole(ctx, roleID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			TenantID:     tenantID,
			ActorID:      deletedBy,
			Action:       audit.ActionRoleDeleted,
			TargetRoleID: roleID,
		})
	})
	if err != nil {
		return err
	}
	s.invalidateRole(ctx, roleID)
	return nil
}

// ListRoles returns a page of roles visible to the tenant ordered by name.
func (s *Store) ListRoles(ctx context.Context, tenantID int64, filters RoleListFilters) ([]Role, int, error) {
	return s.repo.ListRoles(ctx, tenantID, filters)
}

// GetRole returns one role visible to the tenant.
func (s *Store) GetRole(ctx context.Context, roleID, tenantID int64) (Role, error) {
	return s.repo.GetRole(ctx, roleID, tenantID)
}

// PrincipalRoles returns the principal's current assignments.
func (s *Store) PrincipalRoles(ctx context.Context, principalID int64) ([]RoleAssignment, error) {
	return s.repo.ListAssignments(ctx, principalID)
}

// AssignRole assigns a role to a principal. Assigning an already-assigned
// role is idempotent. Inactive or missing roles fail with ErrNotFound.
func (s *Store) AssignRole(ctx context.Context, principalID, roleID, tenantID, assignedBy int64) error {
	role, err := s.repo.GetRole(ctx, roleID, tenantID)
	if err != nil {
		return err
	}
	if !role.IsActive {
		return fmt.Errorf("%w: role %d is inactive", ErrNotFound, roleID)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.UpsertAssignment(ctx, RoleAssignment{PrincipalID: principalID, RoleID: roleID, AssignedBy: assignedBy}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			TenantID:          tenantID,
			ActorID:           assignedBy,
			Action:            audit.ActionRoleAssigned,
			TargetPrincipalID: principalID,
			TargetRoleID:      roleID,
		})
	})
	if err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, principalID)
	return nil
}

// RemoveRole removes a role from a principal. Removing an absent assignment
// is not an error, but the role itself must be visible to the tenant: roles
// of other tenants fail with ErrNotFound just like in AssignRole.
func (s *Store) RemoveRole(ctx context.Context, principalID, roleID, tenantID, removedBy int64) error {
	if _, err := s.repo.GetRole(ctx, roleID, tenantID); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.DeleteAssignment(ctx, principalID, roleID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			TenantID:          tenantID,
			ActorID:           removedBy,
			Action:            audit.ActionRoleRemoved,
			TargetPrincipalID: principalID,
			TargetRoleID:      roleID,
		})
	})
	if err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, principalID)
	return nil
}

// SyncRoles reconciles the principal's assignments to exactly desiredRoleIDs.
// Removals and additions commit in a single transaction, and the cache is
// invalidated once at the end so readers never observe a torn intermediate
// state.
func (s *Store) SyncRoles(ctx context.Context, principalID, tenantID int64, desiredRoleIDs []int64, syncedBy int64) error {
	desired := make(map[int64]struct{}, len(desiredRoleIDs))
	for _, roleID := range desiredRoleIDs {
		role, err := s.repo.GetRole(ctx, roleID, tenantID)
		if err != nil {
			return err
		}
		if !role.IsActive {
			return fmt.Errorf("%w: role %d is inactive", ErrNotFound, roleID)
		}
		desired[roleID] = struct{}{}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.ListAssignments(ctx, principalID)
		if err != nil {
			return err
		}
		have := make(map[int64]struct{}, len(current))
		for _, a := range current {
			have[a.RoleID] = struct{}{}
		}
		for roleID := range have {
			if _, keep := desired[roleID]; keep {
				continue
			}
			// Assignments to roles of other tenants are invisible here and
			// stay untouched.
			if _, err := s.repo.GetRole(ctx, roleID, tenantID); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if _, err := tx.DeleteAssignment(ctx, principalID, roleID); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, audit.Entry{
				TenantID:          tenantID,
				ActorID:           syncedBy,
				Action:            audit.ActionRoleRemoved,
				TargetPrincipalID: principalID,
				TargetRoleID:      roleID,
			}); err != nil {
				return err
			}
		}
		for roleID := range desired {
			if _, ok := have[roleID]; ok {
				continue
			}
			if _, err := tx.UpsertAssignment(ctx, RoleAssignment{PrincipalID: principalID, RoleID: roleID, AssignedBy: syncedBy}); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, audit.Entry{
				TenantID:          tenantID,
				ActorID:           syncedBy,
				Action:            audit.ActionRoleAssigned,
				TargetPrincipalID: principalID,
				TargetRoleID:      roleID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, principalID)
	return nil
}

// GrantPermission attaches a direct permission to a principal. Idempotent.
func (s *Store) GrantPermission(ctx context.Context, principalID int64, code string, tenantID, grantedBy int64) error {
	if _, err := s.catalog.Describe(code); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.UpsertGrant(ctx, DirectGrant{PrincipalID: principalID, Permission: code, GrantedBy: grantedBy}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			TenantID:          tenantID,
			ActorID:           grantedBy,
			Action:            audit.ActionPermissionGranted,
			TargetPrincipalID: principalID,
			Permission:        code,
		})
	})
	if err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, principalID)
	return nil
}

// RevokePermission removes a direct grant. Revoking an absent grant is not
// an error.
func (s *Store) RevokePermission(ctx context.Context, principalID int64, code string, tenantID, revokedBy int64) error {
	if _, err := s.catalog.Describe(code); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.DeleteGrant(ctx, principalID, code); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			TenantID:          tenantID,
			ActorID:           revokedBy,
			Action:            audit.ActionPermissionRevoked,
			TargetPrincipalID: principalID,
			Permission:        code,
		})
	})
	if err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, principalID)
	return nil
}

// Invalidation failures do not fail the mutation: the committed state is the
// source of truth and cache reads degrade to direct resolution while the
// backend is unreachable. The warning keeps the degradation observable.
func (s *Store) invalidatePrincipal(ctx context.Context, principalID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, principalID); err != nil && s.logger != nil {
		s.logger.Warn("cache invalidation failed", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}

func (s *Store) invalidateRole(ctx context.Context, roleID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateForRole(ctx, roleID); err != nil && s.logger != nil {
		s.logger.Warn("role cache invalidation failed", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
