package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go-auth-service/internal/database"
	"go-auth-service/internal/model"
)

type SQLiteAuditRepository struct {
	db *sql.DB
}

func NewSQLiteAuditRepository(db *sql.DB) *SQLiteAuditRepository {
	return &SQLiteAuditRepository{db: db}
}

func (r *SQLiteAuditRepository) Log(ctx context.Context, entry model.AuditEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_entries
		 (action, occurred_at, actor_user_id, actor_role, actor_ip, subject_id, status, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Action, database.FormatTime(entry.OccurredAt), entry.Actor.UserID, string(entry.Actor.Role),
		entry.Actor.IP, entry.SubjectID, entry.Status, entry.Reason)
	if err != nil {
		return persistenceErr("log audit entry", err)
	}
	return nil
}

func (r *SQLiteAuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query = normalizeAuditPaging(query)
	whereClause, args := auditFilters(query, func(int) string { return "?" })

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries "+whereClause, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, persistenceErr("count audit entries", err)
	}
	meta := pageMeta(query, total)

	dataQuery := fmt.Sprintf(
		`SELECT action, occurred_at, actor_user_id, actor_role, actor_ip, subject_id, status, reason
		 FROM audit_entries %s
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ? OFFSET ?`, whereClause)
	args = append(args, query.Limit, (query.Page-1)*query.Limit)

	rows, err := r.db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, model.Meta{}, persistenceErr("query audit entries", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		var e model.AuditEntry
		var role, occurredAt string
		if err := rows.Scan(&e.Action, &occurredAt, &e.Actor.UserID, &role, &e.Actor.IP,
			&e.SubjectID, &e.Status, &e.Reason); err != nil {
			return nil, model.Meta{}, persistenceErr("scan audit entry", err)
		}
		if e.OccurredAt, err = database.ParseTime(occurredAt); err != nil {
			return nil, model.Meta{}, persistenceErr("scan audit entry", err)
		}
		e.Actor.Role = model.Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Meta{}, persistenceErr("query audit entries", err)
	}
	return entries, meta, nil
}
