package rbac

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(repo *fakeRepo) *Handler {
	catalog := NewCatalog()
	resolver := NewResolver(repo, catalog)
	cache := NewCache(nil, resolver, repo, time.Minute, nil)
	gateway := NewGateway(cache, catalog, nil, time.Second)
	store := NewStore(repo, catalog, nil, nil)
	mw := Middleware{Gateway: gateway}
	return NewHandler(nil, catalog, store, resolver, cache, gateway, mw)
}

func serveAs(t *testing.T, h *Handler, principal Principal, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	})
	h.MountRoutes(router)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var hospitalAdmin = Principal{ID: 100, TenantID: 7, BaseRole: BaseRoleHospitalAdmin}

func TestListPermissionsEndpoint(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	rec := serveAs(t, h, hospitalAdmin, http.MethodGet, "/permissions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Permissions []struct {
			Code     string `json:"code"`
			Category string `json:"category"`
		} `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Permissions, len(NewCatalog().Codes()))
}

func TestPermissionsEndpointForbiddenWithoutRolesRead(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	attendant := Principal{ID: 400, TenantID: 7, BaseRole: BaseRoleMortuaryAttendant}
	rec := serveAs(t, h, attendant, http.MethodGet, "/permissions", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateRoleEndpoint(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	body := `{"name":"Triage Nurse","permissions":["patients:read","nursing:read"]}`
	rec := serveAs(t, h, hospitalAdmin, http.MethodPost, "/roles", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var role roleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	assert.Equal(t, "Triage Nurse", role.Name)
	assert.Equal(t, int64(7), role.TenantID)

	// Same name again conflicts.
	rec = serveAs(t, h, hospitalAdmin, http.MethodPost, "/roles", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown permission code is a 400, not a 500.
	rec = serveAs(t, h, hospitalAdmin, http.MethodPost, "/roles",
		`{"name":"Bad Role","permissions":["starship:pilot"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty permission list fails validation.
	rec = serveAs(t, h, hospitalAdmin, http.MethodPost, "/roles",
		`{"name":"Empty Role","permissions":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRoleEndpointTenantIsolation(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	foreign := repo.addRole(8, "Other Hospital Role", []string{"patients:read"}, false, true)

	rec := serveAs(t, h, hospitalAdmin, http.MethodGet, fmt.Sprintf("/roles/%d", foreign.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSystemRoleEndpoint(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	system := repo.addRole(0, "DOCTOR", []string{"patients:read"}, true, true)

	rec := serveAs(t, h, hospitalAdmin, http.MethodPatch, fmt.Sprintf("/roles/%d", system.ID),
		`{"is_active":false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignAndResolveEndpoints(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	role := repo.addRole(7, "Lab Supervisor", []string{"lab:approve"}, false, true)

	rec := serveAs(t, h, hospitalAdmin, http.MethodPost, fmt.Sprintf("/principals/200/roles/%d", role.ID), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serveAs(t, h, hospitalAdmin, http.MethodGet, "/principals/200/permissions?base_role=NURSE", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload.Permissions, "lab:approve")
	assert.Contains(t, payload.Permissions, "nursing:write")

	// Missing base_role is rejected.
	rec = serveAs(t, h, hospitalAdmin, http.MethodGet, "/principals/200/permissions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncRolesEndpoint(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	keep := repo.addRole(7, "Keeper", []string{"patients:read"}, false, true)
	drop := repo.addRole(7, "Dropper", []string{"lab:read"}, false, true)
	repo.assign(200, drop.ID, 100)

	rec := serveAs(t, h, hospitalAdmin, http.MethodPut, "/principals/200/roles",
		fmt.Sprintf(`{"role_ids":[%d]}`, keep.ID))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, repo.assignments[200], keep.ID)
	assert.NotContains(t, repo.assignments[200], drop.ID)
}

func TestGrantEndpoints(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	rec := serveAs(t, h, hospitalAdmin, http.MethodPost, "/principals/200/grants",
		`{"permission":"reports:export"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, repo.grants[200], "reports:export")

	rec = serveAs(t, h, hospitalAdmin, http.MethodDelete, "/principals/200/grants/reports:export", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, repo.grants[200], "reports:export")

	rec = serveAs(t, h, hospitalAdmin, http.MethodPost, "/principals/200/grants",
		`{"permission":"starship:pilot"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckOwnPermissionEndpoint(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}

	rec := serveAs(t, h, nurse, http.MethodGet, "/me/permissions/nursing:write", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Allowed bool `json:"allowed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.True(t, payload.Allowed)

	rec = serveAs(t, h, nurse, http.MethodGet, "/me/permissions/billing:refund", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.False(t, payload.Allowed)

	rec = serveAs(t, h, nurse, http.MethodGet, "/me/permissions/starship:pilot", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidPathID(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(repo)

	rec := serveAs(t, h, hospitalAdmin, http.MethodGet, "/roles/banana", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
