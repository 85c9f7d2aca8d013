package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingObserver struct {
	permissions []string
	outcomes    []bool
}

func (o *recordingObserver) ObserveDecision(permission string, allowed bool) {
	o.permissions = append(o.permissions, permission)
	o.outcomes = append(o.outcomes, allowed)
}

func doGuarded(t *testing.T, mw func(http.Handler) http.Handler, principal *Principal) *httptest.ResponseRecorder {
	t.Helper()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if principal != nil {
		req = req.WithContext(ContextWithPrincipal(req.Context(), *principal))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequirePermission(t *testing.T) {
	repo := newFakeRepo()
	observer := &recordingObserver{}
	mw := Middleware{Gateway: newTestGateway(repo), Observer: observer}
	guard := mw.RequirePermission("lab:order")

	// No principal at all.
	rec := doGuarded(t, guard, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Principal without the permission.
	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}
	rec = doGuarded(t, guard, &nurse)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Principal holding it through base-role defaults.
	doctor := Principal{ID: 300, TenantID: 7, BaseRole: BaseRoleDoctor}
	rec = doGuarded(t, guard, &doctor)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, []string{"lab:order", "lab:order"}, observer.permissions)
	assert.Equal(t, []bool{false, true}, observer.outcomes)
}

func TestRequireBaseRole(t *testing.T) {
	mw := Middleware{}
	guard := mw.RequireBaseRole(BaseRoleHospitalAdmin)

	rec := doGuarded(t, guard, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	nurse := Principal{ID: 200, TenantID: 7, BaseRole: BaseRoleNurse}
	rec = doGuarded(t, guard, &nurse)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := Principal{ID: 100, TenantID: 7, BaseRole: BaseRoleHospitalAdmin}
	rec = doGuarded(t, guard, &admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Super admin passes every coarse gate.
	super := Principal{ID: 1, TenantID: 7, BaseRole: BaseRoleSuperAdmin}
	rec = doGuarded(t, guard, &super)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
