package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-auth-service/internal/config"
	"go-auth-service/internal/handler"
	"go-auth-service/internal/middleware"
	"go-auth-service/internal/model"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	User   *handler.UserHandler
	Audit  *handler.AuditHandler
	Health *handler.HealthHandler
}

func New(
	cfg *config.Config,
	clientIP *middleware.ClientIPResolver,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	h Handlers,
) http.Handler {
	r := chi.NewRouter()
	if rateLimitMiddleware == nil {
		rateLimitMiddleware = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	}

	r.Use(clientIP.Handler)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Check)

	adminOnly := authMiddleware.Require(model.RoleAdmin)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", h.Auth.Login)
			auth.Post("/register", h.Auth.Register)
			auth.Post("/refresh", h.Auth.Refresh)
			auth.Post("/logout", h.Auth.Logout)
			auth.With(authMiddleware.RequireAuth).Post("/logout-all", h.Auth.LogoutAll)
			auth.With(authMiddleware.RequireAuth).Get("/me", h.Auth.Me)
			auth.With(authMiddleware.RequireAuth).Get("/sessions", h.Auth.Sessions)
		})

		api.With(authMiddleware.RequireAuth).Put("/profile/password", h.Auth.ChangePassword)
		api.With(authMiddleware.RequireAuth).Post("/profile/deactivate", h.Auth.Deactivate)

		api.Route("/users", func(users chi.Router) {
			users.Use(adminOnly)
			users.Get("/", h.User.List)
			users.Post("/", h.User.Create)
			users.Get("/{id}", h.User.Get)
			users.Put("/{id}/reset-password", h.User.ResetPassword)
			users.Put("/{id}/role", h.User.UpdateRole)
			users.Put("/{id}/status", h.User.UpdateStatus)
			users.Delete("/{id}", h.User.Delete)
		})

		api.With(adminOnly).Get("/audit", h.Audit.List)
	})

	return r
}
