// internal/app/features/member/handler.go
package member

import (
	"context"
	"net/http"

	"github.com/dalemusser/institutehub/internal/app/features/shared/api"
	"github.com/dalemusser/institutehub/internal/app/membership"
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/app/system/respond"
	"github.com/dalemusser/institutehub/internal/app/system/timeouts"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves the user dashboard: joined institutes, join and leave.
type Handler struct {
	Membership *membership.Engine
	Log        *zap.Logger
}

// NewHandler constructs a user dashboard Handler.
func NewHandler(m *membership.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		Membership: m,
		Log:        logger,
	}
}

// ServeInstitutes lists institutes the caller is an approved member of.
// GET /dashboard/user/institutes
func (h *Handler) ServeInstitutes(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	views, err := h.Membership.ListUserInstitutes(ctx, user.ID)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, api.FromInstitutes(views))
}

// instituteParam reads {instituteId}. A malformed id names no institute,
// so it is NotFound like an unknown one.
func instituteParam(r *http.Request) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "instituteId"))
	if err != nil {
		return primitive.NilObjectID, apperr.New(apperr.KindNotFound, "Institute not found")
	}
	return id, nil
}

// HandleJoin files a pending request to join an institute.
// POST /dashboard/user/join/{instituteId}
func (h *Handler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r)
	instID, err := instituteParam(r)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if _, err := h.Membership.Join(ctx, user, instID); err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.Msg(w, http.StatusOK, "Join request sent")
}

// HandleLeave ends the caller's approved membership and removes them from
// every group of the institute.
// POST /dashboard/user/leave/{instituteId}
func (h *Handler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r)
	instID, err := instituteParam(r)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if err := h.Membership.Leave(ctx, user, instID); err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.Msg(w, http.StatusOK, "Left institute successfully")
}
