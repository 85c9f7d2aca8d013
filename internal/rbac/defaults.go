package rbac

import (
	"context"
	"fmt"
	"log/slog"
)

// baseRoleDefaults is the hardcoded base-role → default-permissions map the
// system roles are seeded from. SUPER_ADMIN is intentionally absent: the
// resolver short-circuits it to the full catalog.
var baseRoleDefaults = map[BaseRole][]string{
	BaseRoleHospitalAdmin: {
		"patients:read", "patients:write", "patients:delete", "patients:merge",
		"appointments:read", "appointments:write", "appointments:cancel",
		"billing:read", "billing:write", "billing:refund", "billing:discount",
		"pharmacy:read", "pharmacy:stock",
		"lab:read",
		"nursing:read",
		"mortuary:read", "mortuary:write",
		"telemedicine:read",
		"inventory:read", "inventory:write",
		"reports:financial", "reports:clinical", "reports:export",
		"staff:read", "staff:write", "staff:schedule",
		"roles:read", "roles:write", "roles:assign",
		"audit:read",
	},
	BaseRoleDoctor: {
		"patients:read", "patients:write",
		"appointments:read", "appointments:write", "appointments:cancel",
		"pharmacy:read", "pharmacy:prescribe",
		"lab:read", "lab:order", "lab:approve",
		"nursing:read",
		"telemedicine:read", "telemedicine:host",
		"reports:clinical",
	},
	BaseRoleNurse: {
		"patients:read",
		"appointments:read",
		"nursing:read", "nursing:write", "nursing:administer",
		"lab:read",
		"pharmacy:read",
	},
	BaseRoleLabTechnician: {
		"patients:read",
		"lab:read", "lab:write",
	},
	BaseRolePharmacist: {
		"patients:read",
		"pharmacy:read", "pharmacy:dispense", "pharmacy:stock",
		"inventory:read",
	},
	BaseRoleReceptionist: {
		"patients:read", "patients:write",
		"appointments:read", "appointments:write", "appointments:cancel",
		"billing:read",
	},
	BaseRoleAccountant: {
		"billing:read", "billing:write", "billing:refund", "billing:discount",
		"reports:financial", "reports:export",
	},
	BaseRoleMortuaryAttendant: {
		"mortuary:read", "mortuary:write",
	},
}

// DefaultPermissions returns a copy of the default set for role.
func DefaultPermissions(role BaseRole) []string {
	defaults := baseRoleDefaults[role]
	out := make([]string, len(defaults))
	copy(out, defaults)
	return out
}

// SeedSystemRoles upserts one immutable system role per base role at startup.
// Existing system roles keep their identity; their permission sets are
// refreshed to match the current defaults so catalog evolution propagates.
func SeedSystemRoles(ctx context.Context, repo RepositoryPort, catalog *Catalog, logger *slog.Logger) error {
	for role, perms := range baseRoleDefaults {
		if err := catalog.Validate(perms); err != nil {
			return fmt.Errorf("rbac: seed %s: %w", role, err)
		}
		if err := repo.UpsertSystemRole(ctx, string(role), perms); err != nil {
			return fmt.Errorf("rbac: seed %s: %w", role, err)
		}
	}
	if logger != nil {
		logger.Info("system roles seeded", slog.Int("count", len(baseRoleDefaults)))
	}
	return nil
}
