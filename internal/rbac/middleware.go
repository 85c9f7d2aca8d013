package rbac

import (
	"log/slog"
	"net/http"
)

// DecisionObserver receives the outcome of each middleware authorization
// check, typically backed by a metrics counter.
type DecisionObserver interface {
	ObserveDecision(permission string, allowed bool)
}

// Middleware wires authorization checks into HTTP handlers.
type Middleware struct {
	Gateway  *Gateway
	Logger   *slog.Logger
	Observer DecisionObserver
}

// RequirePermission ensures the request's principal holds the permission.
// Requests without an authenticated principal are rejected outright.
func (m Middleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			decision := m.Gateway.Authorize(r.Context(), principal, permission)
			m.observe(permission, decision.Allowed)
			if !decision.Allowed {
				if m.Logger != nil {
					m.Logger.Info("authorization denied",
						slog.Int64("principal_id", principal.ID),
						slog.String("permission", permission),
						slog.String("reason", decision.Reason))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBaseRole allows only principals whose base role matches one of
// roles. Used for coarse administrative gates.
func (m Middleware) RequireBaseRole(roles ...BaseRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if principal.BaseRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			if principal.BaseRole == BaseRoleSuperAdmin {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func (m Middleware) observe(permission string, allowed bool) {
	if m.Observer != nil {
		m.Observer.ObserveDecision(permission, allowed)
	}
}
