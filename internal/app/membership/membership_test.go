package membership_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/institutehub/internal/app/groups"
	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/membership"
	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/store/memstore"
	"github.com/dalemusser/institutehub/internal/app/system/auditlog"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/dalemusser/institutehub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type env struct {
	st     *memstore.Store
	fx     *testutil.Fixtures
	groups *groups.Registry
	eng    *membership.Engine
	inst   identity.InstitutePrincipal
}

// tick returns a clock that advances one second per call.
func tick() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	fx := testutil.NewFixtures(t, st)
	clock := tick()
	audit := auditlog.New(st, zap.NewNop(), nil, auditlog.AllOn)
	reg := groups.NewRegistry(st, audit, zap.NewNop()).WithClock(clock)
	eng := membership.NewEngine(st, reg, zap.NewNop(),
		membership.WithClock(clock),
		membership.WithAudit(audit))
	return &env{
		st:     st,
		fx:     fx,
		groups: reg,
		eng:    eng,
		inst:   fx.CreateInstitute(context.Background(), "Northwind", "admin@northwind.edu"),
	}
}

func wantKind(t *testing.T, err error, k apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", k)
	}
	if got := apperr.KindOf(err); got != k {
		t.Fatalf("error kind = %s, want %s (%v)", got, k, err)
	}
}

func newGroup(name string) membership.GroupRef { return membership.GroupRef{NewGroupName: name} }

func TestJoin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")

	req, err := e.eng.Join(ctx, u, e.inst.ID)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if req.State != models.RequestPending || req.UserID != u.ID || req.InstituteID != e.inst.ID {
		t.Errorf("unexpected request %+v", req)
	}

	_, err = e.eng.Join(ctx, u, e.inst.ID)
	wantKind(t, err, apperr.KindConflict)
}

func TestJoin_InstituteMustResolve(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	other := e.fx.CreateUser(ctx, "Bo", "bo@x.org")

	_, err := e.eng.Join(ctx, u, primitive.NewObjectID())
	wantKind(t, err, apperr.KindNotFound)

	// A user account is not an institute.
	_, err = e.eng.Join(ctx, u, other.ID)
	wantKind(t, err, apperr.KindNotFound)
}

func TestJoin_BlockedWhileRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")

	if _, err := e.eng.Join(ctx, u, e.inst.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := e.eng.Decide(ctx, e.inst, u.ID, membership.Reject, membership.GroupRef{}); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	_, err := e.eng.Join(ctx, u, e.inst.ID)
	wantKind(t, err, apperr.KindConflict)

	if err := e.eng.Unblock(ctx, e.inst, u.ID); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	req, err := e.eng.Join(ctx, u, e.inst.ID)
	if err != nil {
		t.Fatalf("Join after unblock: %v", err)
	}
	if req.State != models.RequestPending {
		t.Errorf("state = %s", req.State)
	}
}

func TestDecide_ApproveValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	e.fx.CreateRequest(ctx, u.ID, e.inst.ID, models.RequestPending)

	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	otherInst := e.fx.CreateInstitute(ctx, "Elsewhere", "admin@elsewhere.edu")
	foreign := e.fx.CreateGroup(ctx, otherInst.ID, "Foreign")
	missing := primitive.NewObjectID()

	tests := []struct {
		name string
		ref  membership.GroupRef
	}{
		{"neither", membership.GroupRef{}},
		{"blank name", membership.GroupRef{NewGroupName: "   "}},
		{"both", membership.GroupRef{GroupID: &g.ID, NewGroupName: "Beta"}},
		{"unknown group", membership.GroupRef{GroupID: &missing}},
		{"foreign group", membership.GroupRef{GroupID: &foreign.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.eng.Decide(ctx, e.inst, u.ID, membership.Approve, tt.ref)
			wantKind(t, err, apperr.KindInvalidArgument)
		})
	}

	// Failed attempts left the request pending.
	req, err := e.st.GetRequest(ctx, u.ID, e.inst.ID)
	if err != nil || req.State != models.RequestPending {
		t.Fatalf("request after failures: %+v, %v", req, err)
	}
}

func TestDecide_ApproveExistingGroup(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	e.fx.CreateRequest(ctx, u.ID, e.inst.ID, models.RequestPending)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")

	req, err := e.eng.Decide(ctx, e.inst, u.ID, membership.Approve, membership.GroupRef{GroupID: &g.ID})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if req.State != models.RequestApproved || req.GroupID == nil || *req.GroupID != g.ID || req.DecidedAt == nil {
		t.Errorf("unexpected request %+v", req)
	}

	views, err := e.groups.ListGroups(ctx, e.inst.ID)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(views) != 1 || len(views[0].Members) != 1 || views[0].Members[0].ID != u.ID {
		t.Errorf("groups = %+v", views)
	}

	_, err = e.eng.Decide(ctx, e.inst, u.ID, membership.Approve, membership.GroupRef{GroupID: &g.ID})
	wantKind(t, err, apperr.KindConflict)
	_, err = e.eng.Decide(ctx, e.inst, u.ID, membership.Reject, membership.GroupRef{})
	wantKind(t, err, apperr.KindConflict)
}

func TestDecide_ApproveNewGroupReusesExistingName(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	b := e.fx.CreateUser(ctx, "Bo", "bo@x.org")
	e.fx.CreateRequest(ctx, a.ID, e.inst.ID, models.RequestPending)
	e.fx.CreateRequest(ctx, b.ID, e.inst.ID, models.RequestPending)

	ra, err := e.eng.Decide(ctx, e.inst, a.ID, membership.Approve, newGroup("Physics"))
	if err != nil {
		t.Fatalf("approve a: %v", err)
	}
	rb, err := e.eng.Decide(ctx, e.inst, b.ID, membership.Approve, newGroup("  PHYSICS "))
	if err != nil {
		t.Fatalf("approve b: %v", err)
	}
	if *ra.GroupID != *rb.GroupID {
		t.Error("case-insensitive names should resolve to the same group")
	}

	views, _ := e.groups.ListGroups(ctx, e.inst.ID)
	if len(views) != 1 || views[0].Group.Name != "Physics" || len(views[0].Members) != 2 {
		t.Errorf("groups = %+v", views)
	}
}

func TestDecide_NoPendingRequest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")

	_, err := e.eng.Decide(ctx, e.inst, u.ID, membership.Reject, membership.GroupRef{})
	wantKind(t, err, apperr.KindNotFound)
	_, err = e.eng.Decide(ctx, e.inst, u.ID, membership.Approve, newGroup("Alpha"))
	wantKind(t, err, apperr.KindNotFound)

	// Nothing was created by the failed approval.
	views, _ := e.groups.ListGroups(ctx, e.inst.ID)
	if len(views) != 0 {
		t.Errorf("expected no groups, got %d", len(views))
	}
}

func TestDecide_OtherInstituteCannotDecide(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	if _, err := e.eng.Join(ctx, u, e.inst.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	intruder := e.fx.CreateInstitute(ctx, "Rival", "admin@rival.edu")

	_, err := e.eng.Decide(ctx, intruder, u.ID, membership.Reject, membership.GroupRef{})
	if err == nil {
		t.Fatal("another institute must not decide this request")
	}
	req, _ := e.st.GetRequest(ctx, u.ID, e.inst.ID)
	if req.State != models.RequestPending {
		t.Errorf("state = %s, want pending", req.State)
	}
}

func TestDecide_ConcurrentApprove(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	e.fx.CreateRequest(ctx, u.ID, e.inst.ID, models.RequestPending)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.eng.Decide(ctx, e.inst, u.ID, membership.Approve, membership.GroupRef{GroupID: &g.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != n-1 {
		t.Fatalf("ok=%d conflicts=%d", ok, conflicts)
	}
	ms, _ := e.st.ListGroupMembers(ctx, []primitive.ObjectID{g.ID})
	if len(ms) != 1 {
		t.Errorf("member count = %d, want 1", len(ms))
	}
}

func TestDecide_ConcurrentNewGroupName(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	const n = 6
	users := make([]identity.UserPrincipal, n)
	for i := range users {
		users[i] = e.fx.CreateUser(ctx, "User", primitive.NewObjectID().Hex()+"@x.org")
		e.fx.CreateRequest(ctx, users[i].ID, e.inst.ID, models.RequestPending)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.eng.Decide(ctx, e.inst, users[i].ID, membership.Approve, newGroup("Alpha"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
	}
	views, _ := e.groups.ListGroups(ctx, e.inst.ID)
	if len(views) != 1 {
		t.Fatalf("groups = %d, want 1", len(views))
	}
	if len(views[0].Members) != n {
		t.Errorf("members = %d, want %d", len(views[0].Members), n)
	}
}

// untxStore runs WithTx without rollback, as mongostore does on a standalone
// server, and lets a test slip a competing write in before the first
// request transition.
type untxStore struct {
	*memstore.Store
	beforeTransition func()
}

func (s *untxStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, s)
}

func (s *untxStore) TransitionRequest(ctx context.Context, id primitive.ObjectID, from models.RequestState, version int64, to models.RequestState, groupID *primitive.ObjectID, decidedAt time.Time) (models.MembershipRequest, error) {
	if hook := s.beforeTransition; hook != nil {
		s.beforeTransition = nil
		hook()
	}
	return s.Store.TransitionRequest(ctx, id, from, version, to, groupID, decidedAt)
}

func TestDecide_LosingApproveLeavesNoGroup(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	fx := testutil.NewFixtures(t, mem)
	inst := fx.CreateInstitute(ctx, "Northwind", "admin@northwind.edu")
	user := fx.CreateUser(ctx, "Ada", "ada@x.org")
	req := fx.CreateRequest(ctx, user.ID, inst.ID, models.RequestPending)

	st := &untxStore{Store: mem}
	st.beforeTransition = func() {
		if _, err := mem.TransitionRequest(ctx, req.ID, models.RequestPending, req.Version, models.RequestRejected, nil, time.Now().UTC()); err != nil {
			t.Fatalf("competing reject: %v", err)
		}
	}
	reg := groups.NewRegistry(st, nil, zap.NewNop())
	eng := membership.NewEngine(st, reg, zap.NewNop())

	_, err := eng.Decide(ctx, inst, user.ID, membership.Approve, newGroup("Fresh"))
	wantKind(t, err, apperr.KindConflict)

	views, err := reg.ListGroups(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("groups = %d, want none after a lost approval", len(views))
	}
	got, _ := mem.GetRequest(ctx, user.ID, inst.ID)
	if got.State != models.RequestRejected {
		t.Errorf("state = %q, want rejected", got.State)
	}
}

func TestDecide_ApproveNewGroupRecordsGroup(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	e.fx.CreateRequest(ctx, u.ID, e.inst.ID, models.RequestPending)

	out, err := e.eng.Decide(ctx, e.inst, u.ID, membership.Approve, newGroup("Cohort-A"))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if out.State != models.RequestApproved || out.GroupID == nil || out.DecidedAt == nil {
		t.Fatalf("approved request = %+v, want approved with group and decision time", out)
	}
	stored, _ := e.st.GetRequest(ctx, u.ID, e.inst.ID)
	if stored.GroupID == nil || *stored.GroupID != *out.GroupID {
		t.Errorf("stored group = %v, want %v", stored.GroupID, out.GroupID)
	}
}

func TestUnblock_RequiresRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")

	wantKind(t, e.eng.Unblock(ctx, e.inst, u.ID), apperr.KindNotFound)

	e.fx.CreateRequest(ctx, u.ID, e.inst.ID, models.RequestPending)
	wantKind(t, e.eng.Unblock(ctx, e.inst, u.ID), apperr.KindNotFound)
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")

	g1 := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	g2 := e.fx.CreateGroup(ctx, e.inst.ID, "Beta")
	e.fx.CreateRequest(ctx, u.ID, e.inst.ID, models.RequestApproved)
	e.fx.AddMember(ctx, g1, u.ID)
	e.fx.AddMember(ctx, g2, u.ID)
	e.fx.ApprovedMember(ctx, g1, "Bo", "bo@x.org")

	// A group in another institute is untouched.
	other := e.fx.CreateInstitute(ctx, "Other", "admin@other.edu")
	og := e.fx.CreateGroup(ctx, other.ID, "Gamma")
	e.fx.AddMember(ctx, og, u.ID)

	if err := e.eng.Leave(ctx, u, e.inst.ID); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	ms, _ := e.st.ListGroupMembers(ctx, []primitive.ObjectID{g1.ID, g2.ID})
	for _, m := range ms {
		if m.UserID == u.ID {
			t.Errorf("user still in group %s", m.GroupID.Hex())
		}
	}
	if len(ms) != 1 {
		t.Errorf("remaining members = %d, want 1", len(ms))
	}
	oms, _ := e.st.ListGroupMembers(ctx, []primitive.ObjectID{og.ID})
	if len(oms) != 1 {
		t.Error("membership in another institute was removed")
	}

	wantKind(t, e.eng.Leave(ctx, u, e.inst.ID), apperr.KindNotFound)

	if _, err := e.eng.Join(ctx, u, e.inst.ID); err != nil {
		t.Fatalf("rejoin after leave: %v", err)
	}
}

func TestLeave_RequiresApproved(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	e.fx.CreateRequest(ctx, u.ID, e.inst.ID, models.RequestPending)

	wantKind(t, e.eng.Leave(ctx, u, e.inst.ID), apperr.KindNotFound)
	req, err := e.st.GetRequest(ctx, u.ID, e.inst.ID)
	if err != nil || req.State != models.RequestPending {
		t.Errorf("pending request changed: %+v %v", req, err)
	}
}

func TestLists(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	b := e.fx.CreateUser(ctx, "Bo", "bo@x.org")
	c := e.fx.CreateUser(ctx, "Cy", "cy@x.org")

	for _, u := range []identity.UserPrincipal{a, b, c} {
		if _, err := e.eng.Join(ctx, u, e.inst.ID); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	pending, err := e.eng.ListPending(ctx, e.inst.ID)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 3 || pending[0].User.ID != a.ID || pending[2].User.ID != c.ID {
		t.Fatalf("pending not oldest first: %+v", pending)
	}
	if pending[0].User.Name != "Ada" || pending[0].User.Email != "ada@x.org" {
		t.Errorf("user display data = %+v", pending[0].User)
	}

	if _, err := e.eng.Decide(ctx, e.inst, a.ID, membership.Approve, newGroup("Alpha")); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := e.eng.Decide(ctx, e.inst, b.ID, membership.Reject, membership.GroupRef{}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	linked, _ := e.eng.ListLinkedUsers(ctx, e.inst.ID)
	if len(linked) != 1 || linked[0].ID != a.ID {
		t.Errorf("linked = %+v", linked)
	}
	rejected, _ := e.eng.ListRejected(ctx, e.inst.ID)
	if len(rejected) != 1 || rejected[0].User.ID != b.ID {
		t.Errorf("rejected = %+v", rejected)
	}
	pending, _ = e.eng.ListPending(ctx, e.inst.ID)
	if len(pending) != 1 || pending[0].User.ID != c.ID {
		t.Errorf("pending = %+v", pending)
	}

	insts, err := e.eng.ListUserInstitutes(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListUserInstitutes: %v", err)
	}
	if len(insts) != 1 || insts[0].ID != e.inst.ID || insts[0].AdminEmail != "admin@northwind.edu" {
		t.Errorf("institutes = %+v", insts)
	}
	if insts, _ := e.eng.ListUserInstitutes(ctx, b.ID); len(insts) != 0 {
		t.Errorf("rejected user should have no institutes, got %+v", insts)
	}
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")

	if _, err := e.eng.Join(ctx, u, e.inst.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := e.eng.Decide(ctx, e.inst, u.ID, membership.Approve, newGroup("Alpha")); err != nil {
		t.Fatalf("approve: %v", err)
	}

	events, err := e.st.ListAuditEvents(ctx, e.inst.ID, 50)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.EventType] = true
	}
	for _, want := range []string{
		models.AuditJoinRequested,
		models.AuditRequestApproved,
		models.AuditGroupCreated,
		models.AuditGroupMemberAdded,
	} {
		if !seen[want] {
			t.Errorf("missing audit event %s (have %v)", want, seen)
		}
	}
}
