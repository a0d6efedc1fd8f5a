// internal/app/features/member/routes.go
package member

import (
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router mounted under /dashboard/user.
func Routes(h *Handler, mw *auth.Middleware) chi.Router {
	r := chi.NewRouter()
	r.Use(mw.RequireAuth)
	r.Use(auth.RequireRole(models.RoleUser))

	r.Get("/institutes", h.ServeInstitutes)
	r.Post("/join/{instituteId}", h.HandleJoin)
	r.Post("/leave/{instituteId}", h.HandleLeave)
	return r
}
