package handler

import (
	"context"
	"net/http"

	"go-auth-service/internal/middleware"
	"go-auth-service/internal/model"
	"go-auth-service/internal/service"
)

func actorFromRequest(r *http.Request) model.AuditActor {
	actor := model.AuditActor{IP: middleware.ClientIP(r)}

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return actor
	}

	actor.UserID = claims.UserID
	actor.Role = claims.Role

	return actor
}

// actorContext attaches the caller to the request context for audit records.
func actorContext(r *http.Request) context.Context {
	return service.WithActor(r.Context(), actorFromRequest(r))
}
