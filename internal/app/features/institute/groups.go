package institute

import (
	"context"
	"net/http"

	"github.com/dalemusser/institutehub/internal/app/features/shared/api"
	"github.com/dalemusser/institutehub/internal/app/groups"
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/app/system/respond"
	"github.com/dalemusser/institutehub/internal/app/system/timeouts"
)

type createGroupRequest struct {
	Name string `json:"name"`
}

// ServeGroups lists the institute's groups with their members.
// GET /dashboard/institute/groups
func (h *Handler) ServeGroups(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	views, err := h.Groups.ListGroups(ctx, inst.ID)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, api.FromGroups(views))
}

// HandleCreateGroup creates an empty group.
// POST /dashboard/institute/groups
func (h *Handler) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	var in createGroupRequest
	if err := api.DecodeJSON(w, r, &in); err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	g, err := h.Groups.Create(ctx, inst.ID, in.Name)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusCreated, api.FromGroup(groups.View{Group: g}))
}

// HandleAddMember adds an approved user to a group. Adding an existing
// member succeeds.
// PUT /dashboard/institute/groups/{groupId}/members/{userId}
func (h *Handler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	groupID, err := api.ObjectIDParam(r, "groupId", "group")
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	userID, err := api.ObjectIDParam(r, "userId", "user")
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Groups.AddMember(ctx, inst.ID, groupID, userID); err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.Msg(w, http.StatusOK, "Member added")
}

// HandleRemoveMember removes a user from a group. Removing a non-member
// succeeds.
// DELETE /dashboard/institute/groups/{groupId}/members/{userId}
func (h *Handler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	groupID, err := api.ObjectIDParam(r, "groupId", "group")
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	userID, err := api.ObjectIDParam(r, "userId", "user")
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Groups.RemoveMember(ctx, inst.ID, groupID, userID); err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.Msg(w, http.StatusOK, "Member removed")
}

// ServeDocuments lists documents this institute has distributed.
// GET /dashboard/institute/documents
func (h *Handler) ServeDocuments(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	docs, err := h.Distribution.ListForInstitute(ctx, inst.ID)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, api.FromDocuments(docs))
}
