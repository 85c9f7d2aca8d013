package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian-hms/internal/audit"
)

// RepositoryPort describes read operations used by Store, Resolver and Cache.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRole(ctx context.Context, roleID, tenantID int64) (Role, error)
	ListRoles(ctx context.Context, tenantID int64, filters RoleListFilters) ([]Role, int, error)
	ListAssignments(ctx context.Context, principalID int64) ([]RoleAssignment, error)
	ActiveRolesOf(ctx context.Context, principalID, tenantID int64) ([]Role, error)
	ListGrants(ctx context.Context, principalID int64) ([]DirectGrant, error)
	PrincipalIDsWithRole(ctx context.Context, roleID int64) ([]int64, error)
	UpsertSystemRole(ctx context.Context, name string, permissions []string) error
	AllRolePermissions(ctx context.Context) (map[int64][]string, error)
	AllGrantedPermissions(ctx context.Context) ([]DirectGrant, error)
}

// TxRepository exposes the mutations that must commit atomically with their
// audit record.
type TxRepository interface {
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) error
	SoftDeleteRole(ctx context.Context, roleID int64) error
	ListAssignments(ctx context.Context, principalID int64) ([]RoleAssignment, error)
	UpsertAssignment(ctx context.Context, a RoleAssignment) (bool, error)
	DeleteAssignment(ctx context.Context, principalID, roleID int64) (bool, error)
	UpsertGrant(ctx context.Context, g DirectGrant) (bool, error)
	DeleteGrant(ctx context.Context, principalID int64, permission string) (bool, error)
	AppendAudit(ctx context.Context, entry audit.Entry) error
}

// Repository provides PostgreSQL backed persistence for the engine.
type Repository struct {
	pool  *pgxpool.Pool
	audit *audit.Repository
}

// NewRepository constructs a repository. The audit repository is used to
// append entries inside engine transactions.
func NewRepository(pool *pgxpool.Pool, auditRepo *audit.Repository) *Repository {
	return &Repository{pool: pool, audit: auditRepo}
}

type txRepository struct {
	tx    pgx.Tx
	audit *audit.Repository
}

// WithTx runs fn inside a RepeatableRead transaction so multi-row mutations
// are never observed half applied.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("rbac: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txRepository{tx: tx, audit: r.audit}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("rbac: commit tx: %w", err)
	}
	return nil
}

const roleColumns = `id, COALESCE(tenant_id, 0), name, permissions, is_system, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	var created, updated pgtype.Timestamptz
	if err := row.Scan(&role.ID, &role.TenantID, &role.Name, &role.Permissions,
		&role.IsSystem, &role.IsActive, &created, &updated); err != nil {
		return Role{}, err
	}
	role.CreatedAt = created.Time
	role.UpdatedAt = updated.Time
	return role, nil
}

// GetRole fetches a role visible to the tenant: its own custom roles plus the
// shared system roles. Roles of other tenants are indistinguishable from
// missing ones.
func (r *Repository) GetRole(ctx context.Context, roleID, tenantID int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM authz_roles
		WHERE id = $1 AND (tenant_id IS NULL OR tenant_id = $2)`, roleID, tenantID)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, fmt.Errorf("rbac: get role: %w", err)
	}
	return role, nil
}

// ListRoles returns a page of roles visible to the tenant ordered by name,
// plus the total match count.
func (r *Repository) ListRoles(ctx context.Context, tenantID int64, filters RoleListFilters) ([]Role, int, error) {
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := (page - 1) * limit

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM authz_roles
		WHERE (tenant_id IS NULL OR tenant_id = $1)
		  AND ($2::text = '' OR name ILIKE '%' || $2 || '%')`,
		tenantID, filters.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("rbac: count roles: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM authz_roles
		WHERE (tenant_id IS NULL OR tenant_id = $1)
		  AND ($2::text = '' OR name ILIKE '%' || $2 || '%')
		ORDER BY name
		OFFSET $3 LIMIT $4`, tenantID, filters.Search, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("rbac: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rbac: list roles: %w", err)
	}
	return roles, total, nil
}

// ListAssignments returns the principal's role assignments.
func (r *Repository) ListAssignments(ctx context.Context, principalID int64) ([]RoleAssignment, error) {
	return listAssignments(ctx, r.pool, principalID)
}

// ActiveRolesOf returns the active roles currently assigned to the principal,
// restricted to roles visible to the tenant.
func (r *Repository) ActiveRolesOf(ctx context.Context, principalID, tenantID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM authz_roles r
		JOIN authz_role_assignments a ON a.role_id = r.id
		WHERE a.principal_id = $1
		  AND r.is_active
		  AND (r.tenant_id IS NULL OR r.tenant_id = $2)
		ORDER BY r.name`, principalID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rbac: active roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("rbac: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: active roles: %w", err)
	}
	return roles, nil
}

// ListGrants returns the principal's direct grants.
func (r *Repository) ListGrants(ctx context.Context, principalID int64) ([]DirectGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT principal_id, permission, granted_by, granted_at
		FROM authz_direct_grants WHERE principal_id = $1 ORDER BY permission`, principalID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list grants: %w", err)
	}
	defer rows.Close()

	var grants []DirectGrant
	for rows.Next() {
		var g DirectGrant
		var at pgtype.Timestamptz
		if err := rows.Scan(&g.PrincipalID, &g.Permission, &g.GrantedBy, &at); err != nil {
			return nil, fmt.Errorf("rbac: scan grant: %w", err)
		}
		g.GrantedAt = at.Time
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: list grants: %w", err)
	}
	return grants, nil
}

// PrincipalIDsWithRole returns every principal currently holding the role.
// Used to invalidate cached permission sets when the role itself changes.
func (r *Repository) PrincipalIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT principal_id FROM authz_role_assignments WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: principals with role: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("rbac: scan principal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: principals with role: %w", err)
	}
	return ids, nil
}

// UpsertSystemRole creates or refreshes a shared system role. System roles
// carry no tenant and stay active forever.
func (r *Repository) UpsertSystemRole(ctx context.Context, name string, permissions []string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO authz_roles
			(tenant_id, name, name_folded, permissions, is_system, is_active, created_at, updated_at)
		VALUES (NULL, $1, $2, $3, TRUE, TRUE, NOW(), NOW())
		ON CONFLICT (name_folded) WHERE tenant_id IS NULL
		DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = NOW()`,
		name, foldName(name), permissions)
	if err != nil {
		return fmt.Errorf("rbac: upsert system role: %w", err)
	}
	return nil
}

// AllRolePermissions returns role id → stored permission codes for every
// role. Consumed by the grant integrity job.
func (r *Repository) AllRolePermissions(ctx context.Context) (map[int64][]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, permissions FROM authz_roles`)
	if err != nil {
		return nil, fmt.Errorf("rbac: all role permissions: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var perms []string
		if err := rows.Scan(&id, &perms); err != nil {
			return nil, fmt.Errorf("rbac: scan permissions: %w", err)
		}
		out[id] = perms
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: all role permissions: %w", err)
	}
	return out, nil
}

// AllGrantedPermissions returns every direct grant in the store. Consumed by
// the grant integrity job.
func (r *Repository) AllGrantedPermissions(ctx context.Context) ([]DirectGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT principal_id, permission, granted_by, granted_at FROM authz_direct_grants`)
	if err != nil {
		return nil, fmt.Errorf("rbac: all grants: %w", err)
	}
	defer rows.Close()

	var grants []DirectGrant
	for rows.Next() {
		var g DirectGrant
		var at pgtype.Timestamptz
		if err := rows.Scan(&g.PrincipalID, &g.Permission, &g.GrantedBy, &at); err != nil {
			return nil, fmt.Errorf("rbac: scan grant: %w", err)
		}
		g.GrantedAt = at.Time
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: all grants: %w", err)
	}
	return grants, nil
}

func listAssignments(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, principalID int64) ([]RoleAssignment, error) {
	rows, err := q.Query(ctx, `SELECT principal_id, role_id, assigned_by, assigned_at
		FROM authz_role_assignments WHERE principal_id = $1 ORDER BY role_id`, principalID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		var at pgtype.Timestamptz
		if err := rows.Scan(&a.PrincipalID, &a.RoleID, &a.AssignedBy, &at); err != nil {
			return nil, fmt.Errorf("rbac: scan assignment: %w", err)
		}
		a.AssignedAt = at.Time
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: list assignments: %w", err)
	}
	return assignments, nil
}

func (t *txRepository) InsertRole(ctx context.Context, role Role) (Role, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO authz_roles
			(tenant_id, name, name_folded, permissions, is_system, is_active, created_at, updated_at)
		VALUES (NULLIF($1, 0), $2, $3, $4, FALSE, TRUE, NOW(), NOW())
		RETURNING `+roleColumns,
		role.TenantID, role.Name, foldName(role.Name), role.Permissions)
	created, err := scanRole(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, ErrConflict
		}
		return Role{}, fmt.Errorf("rbac: insert role: %w", err)
	}
	return created, nil
}

func (t *txRepository) UpdateRole(ctx context.Context, role Role) error {
	tag, err := t.tx.Exec(ctx, `UPDATE authz_roles
		SET name = $2, name_folded = $3, permissions = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1 AND NOT is_system`,
		role.ID, role.Name, foldName(role.Name), role.Permissions, role.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("rbac: update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) SoftDeleteRole(ctx context.Context, roleID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE authz_roles
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND NOT is_system`, roleID)
	if err != nil {
		return fmt.Errorf("rbac: soft delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) ListAssignments(ctx context.Context, principalID int64) ([]RoleAssignment, error) {
	return listAssignments(ctx, t.tx, principalID)
}

// UpsertAssignment inserts the assignment unless it already exists. The
// returned bool reports whether a row was created.
func (t *txRepository) UpsertAssignment(ctx context.Context, a RoleAssignment) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO authz_role_assignments
			(principal_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (principal_id, role_id) DO NOTHING`,
		a.PrincipalID, a.RoleID, a.AssignedBy)
	if err != nil {
		return false, fmt.Errorf("rbac: upsert assignment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepository) DeleteAssignment(ctx context.Context, principalID, roleID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM authz_role_assignments
		WHERE principal_id = $1 AND role_id = $2`, principalID, roleID)
	if err != nil {
		return false, fmt.Errorf("rbac: delete assignment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepository) UpsertGrant(ctx context.Context, g DirectGrant) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO authz_direct_grants
			(principal_id, permission, granted_by, granted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (principal_id, permission) DO NOTHING`,
		g.PrincipalID, g.Permission, g.GrantedBy)
	if err != nil {
		return false, fmt.Errorf("rbac: upsert grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepository) DeleteGrant(ctx context.Context, principalID int64, permission string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM authz_direct_grants
		WHERE principal_id = $1 AND permission = $2`, principalID, permission)
	if err != nil {
		return false, fmt.Errorf("rbac: delete grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepository) AppendAudit(ctx context.Context, entry audit.Entry) error {
	if t.audit == nil {
		return fmt.Errorf("rbac: audit repository not configured")
	}
	_, err := t.audit.RecordTx(ctx, t.tx, entry)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
