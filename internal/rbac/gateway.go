package rbac

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Decision is the outcome of an authorization check. A denial is a normal,
// expected outcome, not a system fault.
type Decision struct {
	Allowed bool
	Reason  string
}

var (
	decisionAllowed = Decision{Allowed: true}

	// ReasonMissingPermission reports the required permission was not in the
	// principal's effective set.
	ReasonMissingPermission = "missing permission"
	// ReasonUnknownPermission reports the required code is not in the catalog.
	ReasonUnknownPermission = "unknown permission"
	// ReasonResolutionFailed reports the effective set could not be computed.
	ReasonResolutionFailed = "resolution failed"
)

// Gateway is the authorization contract every domain route consults before
// performing privileged work. It is a stateless decision function: all state
// lives in the store and cache behind it. Every unresolved error becomes a
// denial: the gateway never fails open.
type Gateway struct {
	cache   *Cache
	catalog *Catalog
	logger  *slog.Logger
	timeout time.Duration
}

// NewGateway constructs the gateway. timeout bounds how long a single check
// may block on the store; zero selects a conservative default.
func NewGateway(cache *Cache, catalog *Catalog, logger *slog.Logger, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Gateway{cache: cache, catalog: catalog, logger: logger, timeout: timeout}
}

// Authorize decides whether the principal may exercise requiredPermission.
// When allowedBaseRoles is non-empty, a matching base role allows immediately
// without touching the store, mirroring coarse role checks on hot paths.
func (g *Gateway) Authorize(ctx context.Context, principal Principal, requiredPermission string, allowedBaseRoles ...BaseRole) Decision {
	for _, role := range allowedBaseRoles {
		if principal.BaseRole == role {
			return decisionAllowed
		}
	}
	if !g.catalog.Contains(requiredPermission) {
		return Decision{Reason: ReasonUnknownPermission}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	set, err := g.cache.GetOrResolve(ctx, principal)
	if err != nil {
		if g.logger != nil {
			level := slog.LevelWarn
			if errors.Is(err, context.DeadlineExceeded) {
				level = slog.LevelError
			}
			g.logger.Log(ctx, level, "authorization resolution failed",
				slog.Int64("principal_id", principal.ID),
				slog.String("permission", requiredPermission),
				slog.Any("error", err))
		}
		return Decision{Reason: ReasonResolutionFailed}
	}
	if set.Has(requiredPermission) {
		return decisionAllowed
	}
	return Decision{Reason: ReasonMissingPermission}
}
