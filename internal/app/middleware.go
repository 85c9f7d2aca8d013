package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/meridian-hms/meridian-hms/internal/observability"
	"github.com/meridian-hms/meridian-hms/internal/rbac"
)

const defaultRateWindow = time.Minute

// Headers the upstream authentication gateway sets on every request it has
// verified. Authentication itself is out of scope here; the engine consumes
// the resulting identity read-only.
const (
	HeaderPrincipalID = "X-Principal-Id"
	HeaderTenantID    = "X-Tenant-Id"
	HeaderBaseRole    = "X-Base-Role"
	HeaderRequestID   = "X-Request-Id"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the Meridian middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	limit, window := 300, defaultRateWindow
	if cfg.Config != nil {
		if cfg.Config.RateLimitRequests > 0 {
			limit = cfg.Config.RateLimitRequests
		}
		if cfg.Config.RateLimitWindow > 0 {
			window = cfg.Config.RateLimitWindow
		}
	}

	stack := []func(http.Handler) http.Handler{
		RequestID,
		secureMiddleware.Handler,
		httprate.LimitByIP(limit, window),
		PrincipalExtractor,
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.HTTPMiddleware)
	}
	return stack
}

// RequestID attaches a correlation ID to the request and response, keeping
// an upstream-provided one when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// PrincipalExtractor parses the verified identity headers into a principal
// and stores it in the request context. Requests without a complete identity
// proceed unauthenticated; permission-guarded routes reject them later.
func PrincipalExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFromHeaders(r)
		if ok {
			r = r.WithContext(rbac.ContextWithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

func principalFromHeaders(r *http.Request) (rbac.Principal, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderPrincipalID)), 10, 64)
	if err != nil || id <= 0 {
		return rbac.Principal{}, false
	}
	tenantID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTenantID)), 10, 64)
	if err != nil || tenantID < 0 {
		return rbac.Principal{}, false
	}
	baseRole := rbac.BaseRole(strings.TrimSpace(r.Header.Get(HeaderBaseRole)))
	if !baseRole.Valid() {
		return rbac.Principal{}, false
	}
	return rbac.Principal{ID: id, TenantID: tenantID, BaseRole: baseRole}, true
}
