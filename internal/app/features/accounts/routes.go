// internal/app/features/accounts/routes.go
package accounts

import (
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router mounted under /auth.
func Routes(h *Handler, mw *auth.Middleware) chi.Router {
	r := chi.NewRouter()
	r.Post("/{role}/signup", h.HandleSignup)
	r.Post("/{role}/login", h.HandleLogin)

	r.Group(func(pr chi.Router) {
		pr.Use(mw.RequireAuth)
		pr.Get("/me", h.ServeMe)
	})
	return r
}
