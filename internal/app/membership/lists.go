package membership

import (
	"context"

	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Person is the display data of an account.
type Person struct {
	ID    primitive.ObjectID
	Name  string
	Email string
}

// RequestView is a request joined with the requesting user.
type RequestView struct {
	Request models.MembershipRequest
	User    Person
}

// InstituteView is an institute a user belongs to.
type InstituteView struct {
	ID         primitive.ObjectID
	Name       string
	AdminName  string
	AdminEmail string
}

// ListPending returns the institute's pending requests, oldest first.
func (e *Engine) ListPending(ctx context.Context, instituteID primitive.ObjectID) ([]RequestView, error) {
	return e.listRequests(ctx, instituteID, models.RequestPending)
}

// ListRejected returns the institute's rejected requests, oldest first.
func (e *Engine) ListRejected(ctx context.Context, instituteID primitive.ObjectID) ([]RequestView, error) {
	return e.listRequests(ctx, instituteID, models.RequestRejected)
}

// ListLinkedUsers returns the users holding an approved membership.
func (e *Engine) ListLinkedUsers(ctx context.Context, instituteID primitive.ObjectID) ([]Person, error) {
	views, err := e.listRequests(ctx, instituteID, models.RequestApproved)
	if err != nil {
		return nil, err
	}
	out := make([]Person, len(views))
	for i, v := range views {
		out[i] = v.User
	}
	return out, nil
}

func (e *Engine) listRequests(ctx context.Context, instituteID primitive.ObjectID, state models.RequestState) ([]RequestView, error) {
	reqs, err := e.store.ListRequestsByInstitute(ctx, instituteID, state)
	if err != nil {
		return nil, apperr.Internal("list requests", err)
	}
	ids := make([]primitive.ObjectID, len(reqs))
	for i, r := range reqs {
		ids[i] = r.UserID
	}
	accounts, err := e.store.GetAccountsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("load users", err)
	}

	out := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		a, ok := accounts[r.UserID]
		if !ok {
			continue
		}
		out = append(out, RequestView{Request: r, User: Person{ID: a.ID, Name: a.Name, Email: a.Email}})
	}
	return out, nil
}

// ListUserInstitutes returns the institutes userID is an approved member of.
func (e *Engine) ListUserInstitutes(ctx context.Context, userID primitive.ObjectID) ([]InstituteView, error) {
	reqs, err := e.store.ListRequestsByUser(ctx, userID, models.RequestApproved)
	if err != nil {
		return nil, apperr.Internal("list memberships", err)
	}
	ids := make([]primitive.ObjectID, len(reqs))
	for i, r := range reqs {
		ids[i] = r.InstituteID
	}
	accounts, err := e.store.GetAccountsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("load institutes", err)
	}

	out := make([]InstituteView, 0, len(reqs))
	for _, r := range reqs {
		a, ok := accounts[r.InstituteID]
		if !ok || a.Role != models.RoleInstitute {
			continue
		}
		out = append(out, InstituteView{ID: a.ID, Name: a.Name, AdminName: a.AdminName, AdminEmail: a.Email})
	}
	return out, nil
}
