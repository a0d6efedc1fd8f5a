// internal/app/membership/membership.go

// Package membership runs the join / approve / reject / unblock / leave
// lifecycle between users and institutes.
package membership

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/institutehub/internal/app/groups"
	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/system/auditlog"
	"github.com/dalemusser/institutehub/internal/app/system/metrics"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Action is an institute's decision on a pending request.
type Action string

const (
	Approve Action = "approve"
	Reject  Action = "reject"
)

// GroupRef names the group an approved user joins: an existing group or a
// new name. Exactly one must be set for approval.
type GroupRef struct {
	GroupID      *primitive.ObjectID
	NewGroupName string
}

// Engine applies membership transitions. Audit events are written after the
// transaction that produced them, never inside it.
type Engine struct {
	store   store.Store
	groups  *groups.Registry
	audit   *auditlog.Logger
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithAudit records transitions in the audit log.
func WithAudit(a *auditlog.Logger) Option { return func(e *Engine) { e.audit = a } }

// WithMetrics counts transitions.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// NewEngine constructs an Engine over st.
func NewEngine(st store.Store, reg *groups.Registry, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{store: st, groups: reg, log: log, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) record(ctx context.Context, ev event, auditType string, actor, subject, institute primitive.ObjectID, err error, details map[string]string) {
	e.metrics.Transition(string(ev), err)
	e.audit.Membership(ctx, auditType, actor, subject, institute, err, details)
}

// conflictFor explains why ev cannot start from an existing record.
func conflictFor(ev event, state models.RequestState) error {
	if ev == evJoin {
		switch state {
		case models.RequestPending:
			return apperr.New(apperr.KindConflict, "You have already requested to join this institute")
		case models.RequestApproved:
			return apperr.New(apperr.KindConflict, "You are already a member of this institute")
		case models.RequestRejected:
			return apperr.New(apperr.KindConflict, "Your request was rejected. Ask the institute to unblock you before reapplying")
		}
	}
	return apperr.New(apperr.KindConflict, "Request has already been decided")
}

// Join creates a pending request from user to instituteID.
func (e *Engine) Join(ctx context.Context, user identity.UserPrincipal, instituteID primitive.ObjectID) (models.MembershipRequest, error) {
	req, err := e.join(ctx, user, instituteID)
	e.record(ctx, evJoin, models.AuditJoinRequested, user.ID, user.ID, instituteID, err, nil)
	return req, err
}

func (e *Engine) join(ctx context.Context, user identity.UserPrincipal, instituteID primitive.ObjectID) (models.MembershipRequest, error) {
	inst, err := e.store.GetAccount(ctx, instituteID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && inst.Role != models.RoleInstitute) {
		return models.MembershipRequest{}, apperr.New(apperr.KindNotFound, "Institute not found")
	}
	if err != nil {
		return models.MembershipRequest{}, apperr.Internal("load institute", err)
	}

	existing, err := e.store.GetRequest(ctx, user.ID, instituteID)
	switch {
	case err == nil:
		return models.MembershipRequest{}, conflictFor(evJoin, existing.State)
	case !errors.Is(err, store.ErrNotFound):
		return models.MembershipRequest{}, apperr.Internal("load request", err)
	}

	to, _ := next(stateNone, evJoin)
	req := models.MembershipRequest{
		ID:          primitive.NewObjectID(),
		UserID:      user.ID,
		InstituteID: instituteID,
		State:       to,
		RequestedAt: e.now().UTC(),
	}
	if err := e.store.InsertRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// A concurrent join for the same pair won.
			return models.MembershipRequest{}, conflictFor(evJoin, models.RequestPending)
		}
		return models.MembershipRequest{}, apperr.Internal("insert request", err)
	}
	return req, nil
}

// Decide approves or rejects userID's pending request to inst. Lookups are
// keyed by the caller's own id, so an institute can only decide its own
// requests.
func (e *Engine) Decide(ctx context.Context, inst identity.InstitutePrincipal, userID primitive.ObjectID, action Action, ref GroupRef) (models.MembershipRequest, error) {
	switch action {
	case Approve:
		return e.approve(ctx, inst, userID, ref)
	case Reject:
		return e.reject(ctx, inst, userID)
	}
	return models.MembershipRequest{}, apperr.Newf(apperr.KindInvalidArgument, "unknown action %q", action)
}

func (e *Engine) pending(ctx context.Context, tx store.Store, instituteID, userID primitive.ObjectID, ev event) (models.MembershipRequest, models.RequestState, error) {
	req, err := tx.GetRequest(ctx, userID, instituteID)
	if errors.Is(err, store.ErrNotFound) {
		return req, "", apperr.New(apperr.KindNotFound, "No pending request for this user")
	}
	if err != nil {
		return req, "", apperr.Internal("load request", err)
	}
	to, ok := next(req.State, ev)
	if !ok {
		return req, "", conflictFor(ev, req.State)
	}
	return req, to, nil
}

func (e *Engine) approve(ctx context.Context, inst identity.InstitutePrincipal, userID primitive.ObjectID, ref GroupRef) (models.MembershipRequest, error) {
	hasID := ref.GroupID != nil && !ref.GroupID.IsZero()
	hasName := groups.HasName(ref.NewGroupName)
	if hasID == hasName {
		err := apperr.New(apperr.KindInvalidArgument, "Provide exactly one of groupId or newGroupName")
		e.record(ctx, evApprove, models.AuditRequestApproved, inst.ID, userID, inst.ID, err, nil)
		return models.MembershipRequest{}, err
	}

	var (
		out          models.MembershipRequest
		group        models.Group
		groupCreated bool
	)
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		req, to, err := e.pending(ctx, tx, inst.ID, userID, evApprove)
		if err != nil {
			return err
		}

		reg := e.groups.With(tx)
		var groupID *primitive.ObjectID
		if hasID {
			group, err = reg.GetGroup(ctx, inst.ID, *ref.GroupID)
			if apperr.KindOf(err) == apperr.KindNotFound {
				return apperr.New(apperr.KindInvalidArgument, "Group does not exist in this institute")
			}
			if err != nil {
				return err
			}
			groupID = &group.ID
		}

		decidedAt := e.now().UTC()
		out, err = tx.TransitionRequest(ctx, req.ID, req.State, req.Version, to, groupID, decidedAt)
		if errors.Is(err, store.ErrStale) {
			return apperr.New(apperr.KindConflict, "Request has already been decided")
		}
		if err != nil {
			return apperr.Internal("approve request", err)
		}

		if !hasID {
			// Only the caller that claimed the request creates the group, so a
			// losing decision leaves nothing behind even without a transaction.
			group, groupCreated, err = reg.CreateOrGet(ctx, inst.ID, ref.NewGroupName)
			if err != nil {
				return err
			}
			out, err = tx.TransitionRequest(ctx, out.ID, out.State, out.Version, out.State, &group.ID, decidedAt)
			if errors.Is(err, store.ErrStale) {
				return apperr.New(apperr.KindConflict, "Request changed while approving")
			}
			if err != nil {
				return apperr.Internal("record approval group", err)
			}
		}
		_, err = reg.Add(ctx, group, userID)
		return err
	})

	details := map[string]string{}
	if !group.ID.IsZero() {
		details["group_id"] = group.ID.Hex()
		details["group_name"] = group.Name
	}
	e.record(ctx, evApprove, models.AuditRequestApproved, inst.ID, userID, inst.ID, err, details)
	if err != nil {
		return models.MembershipRequest{}, err
	}
	if groupCreated {
		e.audit.Membership(ctx, models.AuditGroupCreated, inst.ID, group.ID, inst.ID, nil,
			map[string]string{"name": group.Name})
	}
	e.audit.Membership(ctx, models.AuditGroupMemberAdded, inst.ID, userID, inst.ID, nil,
		map[string]string{"group_id": group.ID.Hex()})
	return out, nil
}

func (e *Engine) reject(ctx context.Context, inst identity.InstitutePrincipal, userID primitive.ObjectID) (models.MembershipRequest, error) {
	out, err := func() (models.MembershipRequest, error) {
		req, to, err := e.pending(ctx, e.store, inst.ID, userID, evReject)
		if err != nil {
			return models.MembershipRequest{}, err
		}
		out, err := e.store.TransitionRequest(ctx, req.ID, req.State, req.Version, to, nil, e.now().UTC())
		if errors.Is(err, store.ErrStale) {
			return models.MembershipRequest{}, apperr.New(apperr.KindConflict, "Request has already been decided")
		}
		if err != nil {
			return models.MembershipRequest{}, apperr.Internal("reject request", err)
		}
		return out, nil
	}()
	e.record(ctx, evReject, models.AuditRequestRejected, inst.ID, userID, inst.ID, err, nil)
	return out, err
}

// Unblock deletes userID's rejected request so they may join again.
func (e *Engine) Unblock(ctx context.Context, inst identity.InstitutePrincipal, userID primitive.ObjectID) error {
	err := func() error {
		req, err := e.store.GetRequest(ctx, userID, inst.ID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "No rejected request for this user")
		}
		if err != nil {
			return apperr.Internal("load request", err)
		}
		if _, ok := next(req.State, evUnblock); !ok {
			return apperr.New(apperr.KindNotFound, "No rejected request for this user")
		}
		err = e.store.DeleteRequest(ctx, req.ID, req.State, req.Version)
		if errors.Is(err, store.ErrStale) || errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindConflict, "Request changed while unblocking")
		}
		if err != nil {
			return apperr.Internal("delete request", err)
		}
		return nil
	}()
	e.record(ctx, evUnblock, models.AuditUserUnblocked, inst.ID, userID, inst.ID, err, nil)
	return err
}

// Leave ends user's approved membership of instituteID and removes them
// from every group of that institute.
func (e *Engine) Leave(ctx context.Context, user identity.UserPrincipal, instituteID primitive.ObjectID) error {
	var removed int64
	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		req, err := tx.GetRequest(ctx, user.ID, instituteID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "You are not a member of this institute")
		}
		if err != nil {
			return apperr.Internal("load request", err)
		}
		if _, ok := next(req.State, evLeave); !ok {
			return apperr.New(apperr.KindNotFound, "You are not a member of this institute")
		}
		err = tx.DeleteRequest(ctx, req.ID, req.State, req.Version)
		if errors.Is(err, store.ErrStale) || errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindConflict, "Membership changed while leaving")
		}
		if err != nil {
			return apperr.Internal("delete request", err)
		}
		removed, err = tx.RemoveMemberFromInstitute(ctx, instituteID, user.ID)
		if err != nil {
			return apperr.Internal("remove group memberships", err)
		}
		return nil
	})
	e.record(ctx, evLeave, models.AuditMemberLeft, user.ID, user.ID, instituteID, err, nil)
	if err == nil && removed > 0 {
		e.log.Debug("member left institute",
			zap.String("user_id", user.ID.Hex()),
			zap.String("institute_id", instituteID.Hex()),
			zap.Int64("groups_left", removed))
	}
	return err
}
