package rbac

import (
	"errors"
	"sort"
	"time"
)

// Sentinel errors for the authorization engine.
var (
	// ErrUnknownPermission indicates a referenced code is not in the catalog.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrNotFound indicates a role, assignment or grant target is missing or inactive.
	ErrNotFound = errors.New("rbac: not found")
	// ErrValidation indicates input violating the data model, including
	// attempts to mutate a system role.
	ErrValidation = errors.New("rbac: invalid input")
	// ErrConflict indicates a duplicate role name within a tenant.
	ErrConflict = errors.New("rbac: duplicate role name")
)

// BaseRole is the coarse classification every principal carries from the
// identity subsystem. It selects a hardcoded default permission set.
type BaseRole string

const (
	BaseRoleSuperAdmin        BaseRole = "SUPER_ADMIN"
	BaseRoleHospitalAdmin     BaseRole = "HOSPITAL_ADMIN"
	BaseRoleDoctor            BaseRole = "DOCTOR"
	BaseRoleNurse             BaseRole = "NURSE"
	BaseRoleLabTechnician     BaseRole = "LAB_TECHNICIAN"
	BaseRolePharmacist        BaseRole = "PHARMACIST"
	BaseRoleReceptionist      BaseRole = "RECEPTIONIST"
	BaseRoleAccountant        BaseRole = "ACCOUNTANT"
	BaseRoleMortuaryAttendant BaseRole = "MORTUARY_ATTENDANT"
)

// Valid reports whether r is a recognised base role.
func (r BaseRole) Valid() bool {
	switch r {
	case BaseRoleSuperAdmin, BaseRoleHospitalAdmin, BaseRoleDoctor, BaseRoleNurse,
		BaseRoleLabTechnician, BaseRolePharmacist, BaseRoleReceptionist,
		BaseRoleAccountant, BaseRoleMortuaryAttendant:
		return true
	}
	return false
}

// Principal is the authenticated actor, produced upstream by the identity
// subsystem and consumed read-only here.
type Principal struct {
	ID       int64
	TenantID int64
	BaseRole BaseRole
}

// Role is a named bundle of permission codes. System roles have no tenant,
// are seeded at startup from the base-role defaults, and reject mutation.
// Custom roles are tenant-scoped and soft-deleted once assigned.
type Role struct {
	ID          int64
	TenantID    int64 // zero for system roles
	Name        string
	Permissions []string
	IsSystem    bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleAssignment links a principal to a role.
type RoleAssignment struct {
	PrincipalID int64
	RoleID      int64
	AssignedBy  int64
	AssignedAt  time.Time
}

// DirectGrant attaches one permission to one principal, bypassing roles.
type DirectGrant struct {
	PrincipalID int64
	Permission  string
	GrantedBy   int64
	GrantedAt   time.Time
}

// PermissionSet is the resolved effective permission set of a principal.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from codes.
func NewPermissionSet(codes ...string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Has reports membership of code.
func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Add inserts code into the set.
func (s PermissionSet) Add(code string) {
	s[code] = struct{}{}
}

// Union merges other into s.
func (s PermissionSet) Union(other PermissionSet) {
	for code := range other {
		s[code] = struct{}{}
	}
}

// Sorted returns the member codes in lexicographic order.
func (s PermissionSet) Sorted() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// RolePatch carries partial updates for a custom role. Nil fields are left
// unchanged.
type RolePatch struct {
	Name        *string
	Permissions *[]string
	IsActive    *bool
}

// RoleListFilters narrows and pages role listings.
type RoleListFilters struct {
	Search string
	Page   int
	Limit  int
}
