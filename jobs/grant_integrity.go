package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-hms/meridian-hms/internal/rbac"
)

// NewGrantIntegrityHandler returns the handler for TaskGrantIntegrity. The
// catalog is the closed set every stored permission must belong to; codes
// that drift out of it (a removed catalog entry, a bad import) are logged so
// operators can repair the offending roles and grants.
func NewGrantIntegrityHandler(repo rbac.RepositoryPort, catalog *rbac.Catalog, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		violations := 0

		rolePerms, err := repo.AllRolePermissions(ctx)
		if err != nil {
			return err
		}
		for roleID, perms := range rolePerms {
			for _, code := range perms {
				if catalog.Contains(code) {
					continue
				}
				violations++
				if logger != nil {
					logger.Warn("role references unknown permission",
						slog.Int64("role_id", roleID),
						slog.String("permission", code))
				}
			}
		}

		grants, err := repo.AllGrantedPermissions(ctx)
		if err != nil {
			return err
		}
		for _, g := range grants {
			if catalog.Contains(g.Permission) {
				continue
			}
			violations++
			if logger != nil {
				logger.Warn("direct grant references unknown permission",
					slog.Int64("principal_id", g.PrincipalID),
					slog.String("permission", g.Permission))
			}
		}

		if logger != nil {
			logger.Info("grant integrity scan complete", slog.Int("violations", violations))
		}
		return nil
	}
}
