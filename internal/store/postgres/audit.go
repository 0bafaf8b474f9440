package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/pickpool/internal/domain"
)

func (s *Store) AppendAudit(ctx context.Context, entries ...domain.AuditLogEntry) error {
	const stmt = `
INSERT INTO audit_log (id, action, performed_by, target_type, target_id, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	if len(entries) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, e := range entries {
		details := e.Details
		if details == nil {
			details = map[string]any{}
		}
		b.Queue(stmt, e.ID, string(e.Action), e.PerformedBy, e.TargetType, e.TargetID, details, e.CreatedAt)
	}

	if err := s.conn(ctx).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	return nil
}

func (s *Store) ListAudit(ctx context.Context, f domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	const stmt = `
SELECT id, action, performed_by, target_type, target_id, details, created_at
FROM audit_log
WHERE ($1::text = '' OR action = $1)
  AND ($2::text = '' OR performed_by = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3;`

	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}

	rows, err := s.conn(ctx).Query(ctx, stmt, string(f.Action), f.PerformedBy, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.AuditLogEntry, error) {
		var (
			e      domain.AuditLogEntry
			action string
		)
		if err := r.Scan(&e.ID, &action, &e.PerformedBy, &e.TargetType, &e.TargetID, &e.Details, &e.CreatedAt); err != nil {
			return domain.AuditLogEntry{}, err
		}
		e.Action = domain.AuditAction(action)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	return entries, nil
}

// GetUsers resolves ids to users in one query. Unknown ids are absent from the result.
func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	const stmt = `SELECT id, display_name, email FROM users WHERE id = ANY($1);`

	if len(ids) == 0 {
		return map[string]domain.User{}, nil
	}

	rows, err := s.conn(ctx).Query(ctx, stmt, ids)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.User, error) {
		var u domain.User
		err := r.Scan(&u.ID, &u.DisplayName, &u.Email)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}

	res := make(map[string]domain.User, len(users))
	for _, u := range users {
		res[u.ID] = u
	}

	return res, nil
}

func (s *Store) SquadMembers(ctx context.Context, squadID string) ([]string, error) {
	const stmt = `SELECT user_id FROM squad_members WHERE squad_id = $1 ORDER BY joined_at, user_id;`

	rows, err := s.conn(ctx).Query(ctx, stmt, squadID)
	if err != nil {
		return nil, fmt.Errorf("query squad members: %w", err)
	}

	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan squad members: %w", err)
	}

	return members, nil
}
