package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for audit entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertEntrySQL = `INSERT INTO authz_audit_log
	(tenant_id, actor_id, action, target_principal_id, target_role_id, permission, occurred_at)
	VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, 0), NULLIF($6, ''), COALESCE($7, NOW()))
	RETURNING id, occurred_at`

// Record appends one entry using the pool. Mutating services that need the
// entry committed atomically with their own rows use RecordTx instead.
func (r *Repository) Record(ctx context.Context, entry Entry) (Entry, error) {
	if err := entry.Validate(); err != nil {
		return Entry{}, err
	}
	row := r.pool.QueryRow(ctx, insertEntrySQL,
		entry.TenantID, entry.ActorID, string(entry.Action),
		entry.TargetPrincipalID, entry.TargetRoleID, entry.Permission, optionalTime(entry.OccurredAt))
	if err := row.Scan(&entry.ID, &entry.OccurredAt); err != nil {
		return Entry{}, fmt.Errorf("audit: record: %w", err)
	}
	return entry, nil
}

// RecordTx appends one entry within an open transaction so the caller's
// mutation and its audit record commit or roll back together.
func (r *Repository) RecordTx(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error) {
	if err := entry.Validate(); err != nil {
		return Entry{}, err
	}
	row := tx.QueryRow(ctx, insertEntrySQL,
		entry.TenantID, entry.ActorID, string(entry.Action),
		entry.TargetPrincipalID, entry.TargetRoleID, entry.Permission, optionalTime(entry.OccurredAt))
	if err := row.Scan(&entry.ID, &entry.OccurredAt); err != nil {
		return Entry{}, fmt.Errorf("audit: record: %w", err)
	}
	return entry, nil
}

// Query returns entries for a tenant newest-first. The limit is expected to
// already include the extra look-ahead row used for hasNext detection.
func (r *Repository) Query(ctx context.Context, tenantID int64, filters Filters, offset, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, actor_id, action,
			COALESCE(target_principal_id, 0), COALESCE(target_role_id, 0), COALESCE(permission, ''), occurred_at
		FROM authz_audit_log
		WHERE tenant_id = $1
		  AND ($2::bigint = 0 OR actor_id = $2)
		  AND ($3::text = '' OR action = $3)
		  AND ($4::timestamptz IS NULL OR occurred_at >= $4)
		  AND ($5::timestamptz IS NULL OR occurred_at <= $5)
		ORDER BY occurred_at DESC, id DESC
		OFFSET $6 LIMIT $7`,
		tenantID, filters.ActorID, string(filters.Action),
		optionalTime(filters.From), optionalTime(filters.To), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		var at pgtype.Timestamptz
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorID, &action,
			&e.TargetPrincipalID, &e.TargetRoleID, &e.Permission, &at); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Action = Action(action)
		if at.Valid {
			e.OccurredAt = at.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return entries, nil
}

func optionalTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
