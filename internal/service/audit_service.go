package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go-auth-service/internal/model"
	"go-auth-service/pkg/apierror"
)

type actorContextKey struct{}

// WithActor attaches the request's audit actor so services can record who
// triggered an operation without widening their signatures.
func WithActor(ctx context.Context, actor model.AuditActor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func actorFromContext(ctx context.Context) model.AuditActor {
	actor, _ := ctx.Value(actorContextKey{}).(model.AuditActor)
	return actor
}

type AuditService struct {
	store AuditStore
	now   func() time.Time
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store, now: time.Now}
}

// Record never fails the caller; a lost audit entry is logged instead.
func (s *AuditService) Record(ctx context.Context, action string, subjectID string, status string, reason string) {
	if s == nil {
		return
	}

	entry := model.AuditEntry{
		Action:     action,
		OccurredAt: s.now().UTC(),
		Actor:      actorFromContext(ctx),
		SubjectID:  subjectID,
		Status:     status,
		Reason:     reason,
	}

	if err := s.store.Log(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("audit entry lost", "action", action, "status", status, "error", err)
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	items, meta, err := s.store.Query(ctx, query)
	if err != nil {
		return nil, model.Meta{}, unavailable(err)
	}
	return items, meta, nil
}

func unavailable(err error) error {
	return apierror.Wrap(err, "SERVICE_UNAVAILABLE", "credential store unavailable", "", http.StatusServiceUnavailable)
}
