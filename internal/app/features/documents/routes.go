// internal/app/features/documents/routes.go
package documents

import (
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router mounted under /documents.
func Routes(h *Handler, mw *auth.Middleware) chi.Router {
	r := chi.NewRouter()
	r.Use(mw.RequireAuth)

	r.With(auth.RequireRole(models.RoleInstitute)).Post("/upload", h.HandleUpload)

	r.Group(func(ur chi.Router) {
		ur.Use(auth.RequireRole(models.RoleUser))
		ur.Get("/", h.ServeList)
		ur.Get("/{documentId}", h.ServeDocument)
	})
	return r
}
