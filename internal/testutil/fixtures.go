package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/system/normalize"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	rctx.URLParams.Add(key, value)
	return r
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	st store.Store
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given store.
func NewFixtures(t *testing.T, st store.Store) *Fixtures {
	t.Helper()
	return &Fixtures{st: st, t: t}
}

// Store returns the underlying store for direct access in tests.
func (f *Fixtures) Store() store.Store {
	return f.st
}

func (f *Fixtures) createAccount(ctx context.Context, a models.Account) models.Account {
	f.t.Helper()
	a.ID = primitive.NewObjectID()
	a.NameCI = text.Fold(a.Name)
	a.EmailCI = text.Fold(normalize.Email(a.Email))
	a.CreatedAt = time.Now().UTC()
	if err := f.st.CreateAccount(ctx, a); err != nil {
		f.t.Fatalf("failed to create test account: %v", err)
	}
	return a
}

// CreateUser creates a user account without a password.
func (f *Fixtures) CreateUser(ctx context.Context, name, email string) identity.UserPrincipal {
	f.t.Helper()
	a := f.createAccount(ctx, models.Account{Role: models.RoleUser, Name: name, Email: email})
	return identity.FromAccount(a).(identity.UserPrincipal)
}

// CreateInstitute creates an institute account without a password.
func (f *Fixtures) CreateInstitute(ctx context.Context, name, adminEmail string) identity.InstitutePrincipal {
	f.t.Helper()
	a := f.createAccount(ctx, models.Account{
		Role:      models.RoleInstitute,
		Name:      name,
		AdminName: name + " Admin",
		Email:     adminEmail,
	})
	return identity.FromAccount(a).(identity.InstitutePrincipal)
}

// CreateRequest stores a membership request in the given state.
func (f *Fixtures) CreateRequest(ctx context.Context, userID, instituteID primitive.ObjectID, state models.RequestState) models.MembershipRequest {
	f.t.Helper()
	now := time.Now().UTC()
	r := models.MembershipRequest{
		ID:          primitive.NewObjectID(),
		UserID:      userID,
		InstituteID: instituteID,
		State:       state,
		RequestedAt: now,
	}
	if state != models.RequestPending {
		r.DecidedAt = &now
	}
	if err := f.st.InsertRequest(ctx, r); err != nil {
		f.t.Fatalf("failed to create test request: %v", err)
	}
	return r
}

// CreateGroup creates a group in the institute.
func (f *Fixtures) CreateGroup(ctx context.Context, instituteID primitive.ObjectID, name string) models.Group {
	f.t.Helper()
	now := time.Now().UTC()
	g := models.Group{
		ID:          primitive.NewObjectID(),
		InstituteID: instituteID,
		Name:        name,
		NameCI:      normalize.Key(name),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.st.InsertGroup(ctx, g); err != nil {
		f.t.Fatalf("failed to create test group: %v", err)
	}
	return g
}

// AddMember puts userID in g.
func (f *Fixtures) AddMember(ctx context.Context, g models.Group, userID primitive.ObjectID) {
	f.t.Helper()
	_, err := f.st.AddGroupMember(ctx, models.GroupMembership{
		ID:          primitive.NewObjectID(),
		GroupID:     g.ID,
		UserID:      userID,
		InstituteID: g.InstituteID,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		f.t.Fatalf("failed to add test member: %v", err)
	}
}

// ApprovedMember creates a user with an approved request in the institute,
// placed in g.
func (f *Fixtures) ApprovedMember(ctx context.Context, g models.Group, name, email string) identity.UserPrincipal {
	f.t.Helper()
	u := f.CreateUser(ctx, name, email)
	f.CreateRequest(ctx, u.ID, g.InstituteID, models.RequestApproved)
	f.AddMember(ctx, g, u.ID)
	return u
}
