// internal/app/groups/groups.go

// Package groups manages the named member sets an institute distributes
// documents to.
package groups

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/system/auditlog"
	"github.com/dalemusser/institutehub/internal/app/system/htmlsanitize"
	"github.com/dalemusser/institutehub/internal/app/system/normalize"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// MaxNameLen bounds group names in runes.
const MaxNameLen = 100

// upsertAttempts bounds retry-as-get when two writers race on one name.
const upsertAttempts = 3

// Registry creates groups and maintains their members.
type Registry struct {
	store store.Store
	audit *auditlog.Logger
	log   *zap.Logger
	now   func() time.Time
}

// NewRegistry constructs a Registry. audit may be nil.
func NewRegistry(st store.Store, audit *auditlog.Logger, log *zap.Logger) *Registry {
	return &Registry{store: st, audit: audit, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// With returns a copy of r whose reads and writes go through tx.
// Methods on the copy never audit; the caller does once tx commits.
func (r *Registry) With(tx store.Store) *Registry {
	c := *r
	c.store = tx
	c.audit = nil
	return &c
}

// Member is a group member's display data.
type Member struct {
	ID    primitive.ObjectID
	Name  string
	Email string
}

// View is a group with its members resolved.
type View struct {
	Group   models.Group
	Members []Member
}

// CleanName sanitizes and validates a group name.
func CleanName(name string) (string, error) {
	n := normalize.Name(htmlsanitize.PlainText(name))
	if n == "" {
		return "", apperr.New(apperr.KindInvalidArgument, "Group name is required")
	}
	if utf8.RuneCountInString(n) > MaxNameLen {
		return "", apperr.Newf(apperr.KindInvalidArgument, "Group name must be at most %d characters", MaxNameLen)
	}
	return n, nil
}

// HasName reports whether name is non-blank once sanitized.
func HasName(name string) bool {
	return normalize.Name(htmlsanitize.PlainText(name)) != ""
}

func (r *Registry) newGroup(instituteID primitive.ObjectID, name string) models.Group {
	now := r.now().UTC()
	return models.Group{
		ID:          primitive.NewObjectID(),
		InstituteID: instituteID,
		Name:        name,
		NameCI:      normalize.Key(name),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CreateOrGet returns the institute's group matching name case- and
// diacritic-insensitively, creating it when absent. Concurrent callers
// with the same name all receive the same group.
func (r *Registry) CreateOrGet(ctx context.Context, instituteID primitive.ObjectID, name string) (models.Group, bool, error) {
	clean, err := CleanName(name)
	if err != nil {
		return models.Group{}, false, err
	}

	var lastErr error
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		g, created, err := r.store.UpsertGroup(ctx, r.newGroup(instituteID, clean))
		if err == nil {
			if created {
				r.audit.Membership(ctx, models.AuditGroupCreated, instituteID, g.ID, instituteID, nil,
					map[string]string{"name": g.Name})
			}
			return g, created, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return models.Group{}, false, apperr.Internal("upsert group", err)
		}
		// Lost the insert race; the next upsert finds the winner.
		lastErr = err
	}
	return models.Group{}, false, apperr.Internal("upsert group", lastErr)
}

// Create makes a new group and fails with Conflict when the name is taken.
func (r *Registry) Create(ctx context.Context, instituteID primitive.ObjectID, name string) (models.Group, error) {
	clean, err := CleanName(name)
	if err != nil {
		return models.Group{}, err
	}
	g := r.newGroup(instituteID, clean)
	err = r.store.InsertGroup(ctx, g)
	if errors.Is(err, store.ErrDuplicate) {
		err = apperr.New(apperr.KindConflict, "A group with this name already exists")
	} else if err != nil {
		err = apperr.Internal("insert group", err)
	}
	r.audit.Membership(ctx, models.AuditGroupCreated, instituteID, g.ID, instituteID, err,
		map[string]string{"name": clean})
	if err != nil {
		return models.Group{}, err
	}
	return g, nil
}

// GetGroup returns a group owned by instituteID. Unknown and foreign ids
// are both NotFound.
func (r *Registry) GetGroup(ctx context.Context, instituteID, groupID primitive.ObjectID) (models.Group, error) {
	g, err := r.store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && g.InstituteID != instituteID) {
		return models.Group{}, apperr.New(apperr.KindNotFound, "Group not found")
	}
	if err != nil {
		return models.Group{}, apperr.Internal("load group", err)
	}
	return g, nil
}

// AddMember adds userID to a group. The user must hold an approved
// membership in the group's institute. Adding an existing member is a no-op.
func (r *Registry) AddMember(ctx context.Context, instituteID, groupID, userID primitive.ObjectID) error {
	var added bool
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		reg := r.With(tx)
		g, err := reg.GetGroup(ctx, instituteID, groupID)
		if err != nil {
			return err
		}
		req, err := tx.GetRequest(ctx, userID, instituteID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && req.State != models.RequestApproved) {
			return apperr.New(apperr.KindInvalidArgument, "User is not a member of this institute")
		}
		if err != nil {
			return apperr.Internal("load request", err)
		}
		added, err = reg.addMember(ctx, g, userID)
		return err
	})
	if err == nil && !added {
		return nil
	}
	r.audit.Membership(ctx, models.AuditGroupMemberAdded, instituteID, userID, instituteID, err,
		map[string]string{"group_id": groupID.Hex()})
	return err
}

// Add puts userID in g inside the caller's transaction. Membership of the
// institute is the caller's responsibility.
func (r *Registry) Add(ctx context.Context, g models.Group, userID primitive.ObjectID) (bool, error) {
	return r.addMember(ctx, g, userID)
}

func (r *Registry) addMember(ctx context.Context, g models.Group, userID primitive.ObjectID) (bool, error) {
	added, err := r.store.AddGroupMember(ctx, models.GroupMembership{
		ID:          primitive.NewObjectID(),
		GroupID:     g.ID,
		UserID:      userID,
		InstituteID: g.InstituteID,
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		return false, apperr.Internal("add group member", err)
	}
	return added, nil
}

// RemoveMember removes userID from a group. Removing a non-member is a no-op.
func (r *Registry) RemoveMember(ctx context.Context, instituteID, groupID, userID primitive.ObjectID) error {
	if _, err := r.GetGroup(ctx, instituteID, groupID); err != nil {
		return err
	}
	removed, err := r.store.RemoveGroupMember(ctx, groupID, userID)
	if err != nil {
		err = apperr.Internal("remove group member", err)
	}
	if removed || err != nil {
		r.audit.Membership(ctx, models.AuditGroupMemberRemove, instituteID, userID, instituteID, err,
			map[string]string{"group_id": groupID.Hex()})
	}
	return err
}

// ListGroups returns the institute's groups by name with members resolved.
func (r *Registry) ListGroups(ctx context.Context, instituteID primitive.ObjectID) ([]View, error) {
	gs, err := r.store.ListGroups(ctx, instituteID)
	if err != nil {
		return nil, apperr.Internal("list groups", err)
	}
	if len(gs) == 0 {
		return []View{}, nil
	}

	ids := make([]primitive.ObjectID, len(gs))
	for i, g := range gs {
		ids[i] = g.ID
	}
	ms, err := r.store.ListGroupMembers(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("list group members", err)
	}

	userIDs := make([]primitive.ObjectID, 0, len(ms))
	byGroup := make(map[primitive.ObjectID][]primitive.ObjectID, len(gs))
	for _, m := range ms {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m.UserID)
		userIDs = append(userIDs, m.UserID)
	}
	accounts, err := r.store.GetAccountsByIDs(ctx, userIDs)
	if err != nil {
		return nil, apperr.Internal("load members", err)
	}

	out := make([]View, len(gs))
	for i, g := range gs {
		members := make([]Member, 0, len(byGroup[g.ID]))
		for _, uid := range byGroup[g.ID] {
			a, ok := accounts[uid]
			if !ok {
				r.log.Warn("group member without account",
					zap.String("group_id", g.ID.Hex()),
					zap.String("user_id", uid.Hex()))
				continue
			}
			members = append(members, Member{ID: a.ID, Name: a.Name, Email: a.Email})
		}
		out[i] = View{Group: g, Members: members}
	}
	return out, nil
}
