// internal/app/store/store.go

// Package store declares the persistence contract shared by the engines.
//
// Two backends implement Store: mongostore (MongoDB, production) and
// memstore (in-process, tests and local development). Both enforce the
// same uniqueness rules and return the sentinel errors below, so engines
// never branch on the backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a write violates a uniqueness rule.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrStale is returned when a conditional write finds the record no
	// longer in the expected state.
	ErrStale = errors.New("store: stale write")
)

// Accounts persists users and institutes. (role, email_ci) is unique.
type Accounts interface {
	CreateAccount(ctx context.Context, a models.Account) error
	GetAccount(ctx context.Context, id primitive.ObjectID) (models.Account, error)
	GetAccountByEmail(ctx context.Context, role models.Role, emailCI string) (models.Account, error)
	GetAccountsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Account, error)
}

// Requests persists membership requests. (user_id, institute_id) is unique.
type Requests interface {
	InsertRequest(ctx context.Context, r models.MembershipRequest) error
	GetRequest(ctx context.Context, userID, instituteID primitive.ObjectID) (models.MembershipRequest, error)
	// TransitionRequest moves a request from state `from` at `version` to
	// `to`, bumping the version. ErrStale if the record moved on.
	TransitionRequest(ctx context.Context, id primitive.ObjectID, from models.RequestState, version int64, to models.RequestState, groupID *primitive.ObjectID, decidedAt time.Time) (models.MembershipRequest, error)
	// DeleteRequest removes a request still in `state` at `version`.
	DeleteRequest(ctx context.Context, id primitive.ObjectID, state models.RequestState, version int64) error
	// ListRequestsByInstitute returns requests oldest first.
	ListRequestsByInstitute(ctx context.Context, instituteID primitive.ObjectID, state models.RequestState) ([]models.MembershipRequest, error)
	ListRequestsByUser(ctx context.Context, userID primitive.ObjectID, state models.RequestState) ([]models.MembershipRequest, error)
}

// Groups persists groups and their memberships.
// (institute_id, name_ci) is unique for groups; (group_id, user_id) for memberships.
type Groups interface {
	// UpsertGroup returns the group named g.NameCI in g.InstituteID,
	// inserting g when absent. created reports whether g was inserted.
	UpsertGroup(ctx context.Context, g models.Group) (stored models.Group, created bool, err error)
	InsertGroup(ctx context.Context, g models.Group) error
	GetGroup(ctx context.Context, id primitive.ObjectID) (models.Group, error)
	GetGroupsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Group, error)
	// ListGroups returns an institute's groups ordered by name.
	ListGroups(ctx context.Context, instituteID primitive.ObjectID) ([]models.Group, error)

	// AddGroupMember is idempotent; added is false when already present.
	AddGroupMember(ctx context.Context, m models.GroupMembership) (added bool, err error)
	RemoveGroupMember(ctx context.Context, groupID, userID primitive.ObjectID) (removed bool, err error)
	RemoveMemberFromInstitute(ctx context.Context, instituteID, userID primitive.ObjectID) (int64, error)
	ListGroupMembers(ctx context.Context, groupIDs []primitive.ObjectID) ([]models.GroupMembership, error)
}

// Documents persists distributed documents.
type Documents interface {
	InsertDocument(ctx context.Context, d models.Document) error
	GetDocument(ctx context.Context, id primitive.ObjectID) (models.Document, error)
	GetDocumentsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Document, error)
	// ListDocumentsByInstitute returns documents newest first.
	ListDocumentsByInstitute(ctx context.Context, instituteID primitive.ObjectID) ([]models.Document, error)
}

// Grants persists access grants. (document_id, user_id) is unique.
type Grants interface {
	InsertGrants(ctx context.Context, grants []models.AccessGrant) error
	GetGrant(ctx context.Context, documentID, userID primitive.ObjectID) (models.AccessGrant, error)
	// ConsumeGrant stamps consumed_at on an unconsumed view-once grant that
	// has not expired at `at`. ErrStale when no such grant exists.
	ConsumeGrant(ctx context.Context, documentID, userID primitive.ObjectID, at time.Time) (models.AccessGrant, error)
	// ListGrantsByUser returns grants newest first.
	ListGrantsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.AccessGrant, error)
	DeleteGrantsExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Audit persists audit events.
type Audit interface {
	InsertAuditEvent(ctx context.Context, e models.AuditEvent) error
	ListAuditEvents(ctx context.Context, instituteID primitive.ObjectID, limit int) ([]models.AuditEvent, error)
}

// Store is the full persistence surface.
type Store interface {
	Accounts
	Requests
	Groups
	Documents
	Grants
	Audit

	// WithTx runs fn as one atomic unit. fn must perform all of its reads
	// and writes through the Store it is given. If fn returns an error no
	// write made through that Store is kept.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Ping(ctx context.Context) error
}
