package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// Handler exposes the administrative surface of the authorization engine.
type Handler struct {
	logger   *slog.Logger
	catalog  *Catalog
	store    *Store
	resolver *Resolver
	cache    *Cache
	gateway  *Gateway
	validate *validator.Validate
	mw       Middleware
}

// NewHandler builds the admin handler.
func NewHandler(logger *slog.Logger, catalog *Catalog, store *Store, resolver *Resolver, cache *Cache, gateway *Gateway, mw Middleware) *Handler {
	return &Handler{
		logger:   logger,
		catalog:  catalog,
		store:    store,
		resolver: resolver,
		cache:    cache,
		gateway:  gateway,
		validate: validator.New(),
		mw:       mw,
	}
}

// MountRoutes registers the admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequirePermission("roles:read"))
		r.Get("/permissions", h.listPermissions)
		r.Get("/permissions/categories", h.listCategories)
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{roleID}", h.getRole)
		r.Get("/principals/{principalID}/roles", h.principalRoles)
		r.Get("/principals/{principalID}/permissions", h.principalPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequirePermission("roles:write"))
		r.Post("/roles", h.createRole)
		r.Patch("/roles/{roleID}", h.updateRole)
		r.Delete("/roles/{roleID}", h.deleteRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequirePermission("roles:assign"))
		r.Post("/principals/{principalID}/roles/{roleID}", h.assignRole)
		r.Delete("/principals/{principalID}/roles/{roleID}", h.removeRole)
		r.Put("/principals/{principalID}/roles", h.syncRoles)
		r.Post("/principals/{principalID}/grants", h.grantPermission)
		r.Delete("/principals/{principalID}/grants/{permission}", h.revokePermission)
	})
	// Self-service check needs no admin permission: callers may always ask
	// about their own capabilities.
	r.Get("/me/permissions/{permission}", h.checkOwnPermission)
}

type permissionResponse struct {
	Code        string `json:"code"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	entries := h.catalog.Enumerate()
	out := make([]permissionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, permissionResponse{Code: e.Code, Category: string(e.Category), Description: e.Description})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": h.catalog.Categories()})
}

type roleResponse struct {
	ID          int64    `json:"id"`
	TenantID    int64    `json:"tenant_id,omitempty"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	IsSystem    bool     `json:"is_system"`
	IsActive    bool     `json:"is_active"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		TenantID:    role.TenantID,
		Name:        role.Name,
		Permissions: role.Permissions,
		IsSystem:    role.IsSystem,
		IsActive:    role.IsActive,
	}
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filters := RoleListFilters{
		Search: r.URL.Query().Get("search"),
		Page:   page,
		Limit:  limit,
	}
	roles, total, err := h.store.ListRoles(r.Context(), principal.TenantID, filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"roles":      out,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	roleID, err := pathID(r, "roleID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	role, err := h.store.GetRole(r.Context(), roleID, principal.TenantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=100"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,required"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.store.CreateRole(r.Context(), principal.TenantID, req.Name, req.Permissions, principal.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

type updateRoleRequest struct {
	Name        *string   `json:"name" validate:"omitempty,min=2,max=100"`
	Permissions *[]string `json:"permissions" validate:"omitempty,min=1,dive,required"`
	IsActive    *bool     `json:"is_active"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	roleID, err := pathID(r, "roleID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.store.UpdateRole(r.Context(), roleID, principal.TenantID, RolePatch{
		Name:        req.Name,
		Permissions: req.Permissions,
		IsActive:    req.IsActive,
	}, principal.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	roleID, err := pathID(r, "roleID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.store.DeleteRole(r.Context(), roleID, principal.TenantID, principal.ID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) principalRoles(w http.ResponseWriter, r *http.Request) {
	principalID, err := pathID(r, "principalID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	assignments, err := h.store.PrincipalRoles(r.Context(), principalID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	type assignmentResponse struct {
		RoleID     int64  `json:"role_id"`
		AssignedBy int64  `json:"assigned_by"`
		AssignedAt string `json:"assigned_at"`
	}
	out := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, assignmentResponse{
			RoleID:     a.RoleID,
			AssignedBy: a.AssignedBy,
			AssignedAt: a.AssignedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": out})
}

// principalPermissions resolves another principal's effective set. The
// target's base role comes from the query because the principal directory is
// owned by the identity subsystem; the tenant is always the caller's.
func (h *Handler) principalPermissions(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	principalID, err := pathID(r, "principalID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	baseRole := BaseRole(r.URL.Query().Get("base_role"))
	if !baseRole.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "base_role query parameter required")
		return
	}
	target := Principal{ID: principalID, TenantID: actor.TenantID, BaseRole: baseRole}
	set, err := h.resolver.ComputeEffectivePermissions(r.Context(), target)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": set.Sorted()})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	principalID, err := pathID(r, "principalID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.store.AssignRole(r.Context(), principalID, roleID, actor.TenantID, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	principalID, err := pathID(r, "principalID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.store.RemoveRole(r.Context(), principalID, roleID, actor.TenantID, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

type syncRolesRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"required"`
}

func (h *Handler) syncRoles(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	principalID, err := pathID(r, "principalID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req syncRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.store.SyncRoles(r.Context(), principalID, actor.TenantID, req.RoleIDs, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

type grantRequest struct {
	Permission string `json:"permission" validate:"required"`
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	principalID, err := pathID(r, "principalID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.store.GrantPermission(r.Context(), principalID, req.Permission, actor.TenantID, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	principalID, err := pathID(r, "principalID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	permission := chi.URLParam(r, "permission")
	if err := h.store.RevokePermission(r.Context(), principalID, permission, actor.TenantID, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) checkOwnPermission(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	permission := chi.URLParam(r, "permission")
	if !h.catalog.Contains(permission) {
		httpx.Problem(w, http.StatusBadRequest, "Unknown Permission", permission)
		return
	}
	decision := h.gateway.Authorize(r.Context(), principal, permission)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"permission": permission,
		"allowed":    decision.Allowed,
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrValidation
	}
	return id, nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownPermission):
		httpx.Problem(w, http.StatusBadRequest, "Unknown Permission", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Role Name", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("rbac handler", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
