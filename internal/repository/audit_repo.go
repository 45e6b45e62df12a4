package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"go-auth-service/internal/model"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Log(ctx context.Context, entry model.AuditEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_entries
		 (action, occurred_at, actor_user_id, actor_role, actor_ip, subject_id, status, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Action, entry.OccurredAt, entry.Actor.UserID, string(entry.Actor.Role), entry.Actor.IP,
		entry.SubjectID, entry.Status, entry.Reason)
	if err != nil {
		return persistenceErr("log audit entry", err)
	}
	return nil
}

// normalizePaging clamps page to >= 1 and limit to (0, maxPageLimit].
func normalizePaging(page int, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func normalizeAuditPaging(query model.AuditQuery) model.AuditQuery {
	query.Page, query.Limit = normalizePaging(query.Page, query.Limit)
	return query
}

// auditFilters builds the WHERE clause; placeholder renders the n-th argument.
func auditFilters(query model.AuditQuery, placeholder func(n int) string) (string, []any) {
	where := make([]string, 0)
	args := make([]any, 0)

	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, placeholder(len(args))))
	}

	if action := strings.TrimSpace(query.Action); action != "" {
		add("lower(action) = lower(%s)", action)
	}
	if actorID := strings.TrimSpace(query.ActorID); actorID != "" {
		add("actor_user_id = %s", actorID)
	}
	if subjectID := strings.TrimSpace(query.SubjectID); subjectID != "" {
		add("subject_id = %s", subjectID)
	}
	if status := strings.TrimSpace(query.Status); status != "" {
		add("lower(status) = lower(%s)", status)
	}

	if len(where) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(where, " AND "), args
}

func buildMeta(page int, limit int, total int) model.Meta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return model.Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

func pageMeta(query model.AuditQuery, total int) model.Meta {
	return buildMeta(query.Page, query.Limit, total)
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query = normalizeAuditPaging(query)
	whereClause, args := auditFilters(query, func(n int) string { return fmt.Sprintf("$%d", n) })

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries "+whereClause, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, persistenceErr("count audit entries", err)
	}
	meta := pageMeta(query, total)

	offset := (query.Page - 1) * query.Limit
	dataQuery := fmt.Sprintf(
		`SELECT action, occurred_at, actor_user_id, actor_role, actor_ip, subject_id, status, reason
		 FROM audit_entries %s
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $%d OFFSET $%d`, whereClause, len(args)+1, len(args)+2)
	args = append(args, query.Limit, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, model.Meta{}, persistenceErr("query audit entries", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		var e model.AuditEntry
		var role string
		if err := rows.Scan(&e.Action, &e.OccurredAt, &e.Actor.UserID, &role, &e.Actor.IP,
			&e.SubjectID, &e.Status, &e.Reason); err != nil {
			return nil, model.Meta{}, persistenceErr("scan audit entry", err)
		}
		e.Actor.Role = model.Role(role)
		e.OccurredAt = e.OccurredAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Meta{}, persistenceErr("query audit entries", err)
	}
	return entries, meta, nil
}
