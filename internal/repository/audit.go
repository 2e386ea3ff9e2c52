package repository

import (
	"context"
	"fmt"
	"strings"

	"bookshop/internal/domain"
)

// LogAction appends one operation audit entry. Entries are advisory
// operator history, separate from the movement ledger.
func (r *Repository) LogAction(
	ctx context.Context,
	actor *string,
	actionType, title, details string,
) error {
	actionType = strings.TrimSpace(actionType)
	title = strings.TrimSpace(title)
	if actionType == "" || title == "" {
		return validationErrorf("action_type and title are required")
	}
	if details == "" {
		details = "-"
	}
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor, action_type, title, details)
		VALUES ($1, $2, $3, $4)
	`, normalizeNullable(actor), actionType, title, details); err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

func (r *Repository) ListAuditEntries(
	ctx context.Context,
	limit, offset int,
	search string,
) ([]domain.AuditEntry, error) {
	limit = normalizeLimit(limit)
	offset = normalizeOffset(offset)
	search = strings.TrimSpace(search)

	rows, err := r.pool.Query(ctx, `
		SELECT id, created_at, actor, action_type, title, details
		FROM audit_log
		WHERE ($1 = '' OR title ILIKE '%' || $1 || '%' OR details ILIKE '%' || $1 || '%' OR COALESCE(actor, '') ILIKE '%' || $1 || '%')
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, search, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]domain.AuditEntry, 0, limit)
	for rows.Next() {
		var item domain.AuditEntry
		if err := rows.Scan(
			&item.ID,
			&item.CreatedAt,
			&item.Actor,
			&item.ActionType,
			&item.Title,
			&item.Details,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}

func (r *Repository) CountAuditEntries(ctx context.Context, search string) (int, error) {
	search = strings.TrimSpace(search)
	var count int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)::int
		FROM audit_log
		WHERE ($1 = '' OR title ILIKE '%' || $1 || '%' OR details ILIKE '%' || $1 || '%' OR COALESCE(actor, '') ILIKE '%' || $1 || '%')
	`, search).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}
