package institute

import (
	"context"
	"net/http"
	"strings"

	"github.com/dalemusser/institutehub/internal/app/features/shared/api"
	"github.com/dalemusser/institutehub/internal/app/membership"
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/app/system/respond"
	"github.com/dalemusser/institutehub/internal/app/system/timeouts"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type approveRequest struct {
	GroupID      string `json:"groupId"`
	NewGroupName string `json:"newGroupName"`
}

func (in approveRequest) ref() (membership.GroupRef, error) {
	ref := membership.GroupRef{NewGroupName: in.NewGroupName}
	if id := strings.TrimSpace(in.GroupID); id != "" {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return ref, apperr.New(apperr.KindInvalidArgument, "Invalid group id")
		}
		ref.GroupID = &oid
	}
	return ref, nil
}

type decisionResponse struct {
	Msg     string `json:"msg"`
	UserID  string `json:"userId"`
	Status  string `json:"status"`
	GroupID string `json:"groupId,omitempty"`
}

// ServePending lists pending requests, oldest first.
// GET /dashboard/institute/pending
func (h *Handler) ServePending(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	rows, err := h.Membership.ListPending(ctx, inst.ID)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, api.FromRequests(rows))
}

// ServeRejected lists rejected (blocked) requests.
// GET /dashboard/institute/rejected
func (h *Handler) ServeRejected(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	rows, err := h.Membership.ListRejected(ctx, inst.ID)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, api.FromRequests(rows))
}

// ServeLinkedUsers lists approved members.
// GET /dashboard/institute/linked-users
func (h *Handler) ServeLinkedUsers(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	people, err := h.Membership.ListLinkedUsers(ctx, inst.ID)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, api.FromPeople(people))
}

// HandleApprove approves a pending request into an existing or new group.
// PUT /dashboard/institute/approve/{userId}
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	userID, err := api.ObjectIDParam(r, "userId", "user")
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	var in approveRequest
	if err := api.DecodeJSON(w, r, &in); err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	ref, err := in.ref()
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	req, err := h.Membership.Decide(ctx, inst, userID, membership.Approve, ref)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	resp := decisionResponse{Msg: "User approved", UserID: userID.Hex(), Status: string(req.State)}
	if req.GroupID != nil {
		resp.GroupID = req.GroupID.Hex()
	}
	h.Log.Info("request approved",
		zap.String("institute_id", inst.ID.Hex()),
		zap.String("user_id", userID.Hex()),
		zap.String("group_id", resp.GroupID))
	respond.JSON(w, http.StatusOK, resp)
}

// HandleReject rejects a pending request. The user stays blocked until
// unblocked.
// PUT /dashboard/institute/reject/{userId}
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	userID, err := api.ObjectIDParam(r, "userId", "user")
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	req, err := h.Membership.Decide(ctx, inst, userID, membership.Reject, membership.GroupRef{})
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, decisionResponse{Msg: "User rejected", UserID: userID.Hex(), Status: string(req.State)})
}

// HandleUnblock deletes a rejected request so the user may apply again.
// DELETE /dashboard/institute/rejected/{userId}
func (h *Handler) HandleUnblock(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	userID, err := api.ObjectIDParam(r, "userId", "user")
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Membership.Unblock(ctx, inst, userID); err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.Msg(w, http.StatusOK, "User unblocked successfully")
}
