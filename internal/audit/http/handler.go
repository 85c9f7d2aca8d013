package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-hms/meridian-hms/internal/audit"
	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/rbac"
)

// Handler exposes audit log queries to administrators.
type Handler struct {
	logger  *slog.Logger
	service *audit.Service
	mw      rbac.Middleware
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service *audit.Service, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, mw: mw}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequirePermission("audit:read"))
		r.Get("/", h.query)
	})
}

type entryResponse struct {
	ID                int64  `json:"id"`
	ActorID           int64  `json:"actor_id"`
	Action            string `json:"action"`
	TargetPrincipalID int64  `json:"target_principal_id,omitempty"`
	TargetRoleID      int64  `json:"target_role_id,omitempty"`
	Permission        string `json:"permission,omitempty"`
	OccurredAt        string `json:"occurred_at"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	principal, _ := rbac.PrincipalFromContext(r.Context())

	q := r.URL.Query()
	actorID, _ := strconv.ParseInt(q.Get("actor_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	filters := audit.Filters{
		ActorID:  actorID,
		Action:   audit.Action(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}
	if filters.Action != "" && !filters.Action.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown action filter")
		return
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC3339")
			return
		}
		filters.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC3339")
			return
		}
		filters.To = t
	}

	result, err := h.service.Query(r.Context(), principal.TenantID, filters)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("audit query", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	entries := make([]entryResponse, 0, len(result.Entries))
	for _, e := range result.Entries {
		entries = append(entries, entryResponse{
			ID:                e.ID,
			ActorID:           e.ActorID,
			Action:            string(e.Action),
			TargetPrincipalID: e.TargetPrincipalID,
			TargetRoleID:      e.TargetRoleID,
			Permission:        e.Permission,
			OccurredAt:        e.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"paging":  result.Paging,
	})
}
