// internal/app/features/institute/routes.go
package institute

import (
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router mounted under /dashboard/institute.
func Routes(h *Handler, mw *auth.Middleware) chi.Router {
	r := chi.NewRouter()
	r.Use(mw.RequireAuth)
	r.Use(auth.RequireRole(models.RoleInstitute))

	r.Get("/pending", h.ServePending)
	r.Get("/linked-users", h.ServeLinkedUsers)
	r.Get("/rejected", h.ServeRejected)
	r.Put("/approve/{userId}", h.HandleApprove)
	r.Put("/reject/{userId}", h.HandleReject)
	r.Delete("/rejected/{userId}", h.HandleUnblock)

	r.Get("/groups", h.ServeGroups)
	r.Post("/groups", h.HandleCreateGroup)
	r.Put("/groups/{groupId}/members/{userId}", h.HandleAddMember)
	r.Delete("/groups/{groupId}/members/{userId}", h.HandleRemoveMember)

	r.Get("/documents", h.ServeDocuments)
	return r
}
