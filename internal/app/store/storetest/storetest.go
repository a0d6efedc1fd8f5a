// internal/app/store/storetest/storetest.go

// Package storetest is a behavioral suite every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Options tunes the suite for a backend.
type Options struct {
	// Atomic reports whether WithTx rolls back on error. False for MongoDB
	// deployments without transaction support.
	Atomic bool
}

// Run executes the suite. newStore must return an empty store per call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store, opts Options) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("RequestUniqueness", func(t *testing.T) { testRequestUniqueness(t, newStore(t)) })
	t.Run("RequestTransitions", func(t *testing.T) { testRequestTransitions(t, newStore(t)) })
	t.Run("RequestOrdering", func(t *testing.T) { testRequestOrdering(t, newStore(t)) })
	t.Run("GroupUpsert", func(t *testing.T) { testGroupUpsert(t, newStore(t)) })
	t.Run("GroupMembers", func(t *testing.T) { testGroupMembers(t, newStore(t)) })
	t.Run("Grants", func(t *testing.T) { testGrants(t, newStore(t)) })
	t.Run("ConsumeOnceConcurrent", func(t *testing.T) { testConsumeOnceConcurrent(t, newStore(t)) })
	t.Run("Documents", func(t *testing.T) { testDocuments(t, newStore(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newStore(t)) })
	if opts.Atomic {
		t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	}
}

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

func account(role models.Role, email string) models.Account {
	return models.Account{
		ID:        primitive.NewObjectID(),
		Role:      role,
		Name:      "Name " + email,
		NameCI:    "name " + email,
		Email:     email,
		EmailCI:   email,
		CreatedAt: base,
	}
}

func testAccounts(t *testing.T, s store.Store) {
	c := ctx(t)
	u := account(models.RoleUser, "ada@example.com")
	if err := s.CreateAccount(c, u); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	dup := account(models.RoleUser, "ada@example.com")
	if err := s.CreateAccount(c, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for same role and email, got %v", err)
	}

	// Same email under the other role is a different account.
	inst := account(models.RoleInstitute, "ada@example.com")
	if err := s.CreateAccount(c, inst); err != nil {
		t.Errorf("institute with user's email should be allowed: %v", err)
	}

	got, err := s.GetAccountByEmail(c, models.RoleUser, "ada@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail failed: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("GetAccountByEmail returned %s, want %s", got.ID.Hex(), u.ID.Hex())
	}

	if _, err := s.GetAccount(c, primitive.NewObjectID()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	byID, err := s.GetAccountsByIDs(c, []primitive.ObjectID{u.ID, inst.ID, primitive.NewObjectID()})
	if err != nil {
		t.Fatalf("GetAccountsByIDs failed: %v", err)
	}
	if len(byID) != 2 {
		t.Errorf("GetAccountsByIDs returned %d accounts, want 2", len(byID))
	}
}

func request(user, inst primitive.ObjectID, at time.Time) models.MembershipRequest {
	return models.MembershipRequest{
		ID:          primitive.NewObjectID(),
		UserID:      user,
		InstituteID: inst,
		State:       models.RequestPending,
		RequestedAt: at,
	}
}

func testRequestUniqueness(t *testing.T, s store.Store) {
	c := ctx(t)
	user, inst := primitive.NewObjectID(), primitive.NewObjectID()

	if err := s.InsertRequest(c, request(user, inst, base)); err != nil {
		t.Fatalf("InsertRequest failed: %v", err)
	}
	if err := s.InsertRequest(c, request(user, inst, base)); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for second request on the pair, got %v", err)
	}
	if err := s.InsertRequest(c, request(user, primitive.NewObjectID(), base)); err != nil {
		t.Errorf("request to another institute should succeed: %v", err)
	}
}

func testRequestTransitions(t *testing.T, s store.Store) {
	c := ctx(t)
	r := request(primitive.NewObjectID(), primitive.NewObjectID(), base)
	if err := s.InsertRequest(c, r); err != nil {
		t.Fatalf("InsertRequest failed: %v", err)
	}

	gid := primitive.NewObjectID()
	decided := base.Add(time.Hour)
	got, err := s.TransitionRequest(c, r.ID, models.RequestPending, 0, models.RequestApproved, &gid, decided)
	if err != nil {
		t.Fatalf("TransitionRequest failed: %v", err)
	}
	if got.State != models.RequestApproved || got.Version != 1 {
		t.Errorf("got state %q version %d, want approved/1", got.State, got.Version)
	}
	if got.GroupID == nil || *got.GroupID != gid {
		t.Error("expected group id to be recorded")
	}
	if got.DecidedAt == nil || !got.DecidedAt.Equal(decided) {
		t.Error("expected decided_at to be stamped")
	}

	// Replaying the same compare-and-set must lose.
	if _, err := s.TransitionRequest(c, r.ID, models.RequestPending, 0, models.RequestRejected, nil, decided); !errors.Is(err, store.ErrStale) {
		t.Errorf("expected ErrStale on replay, got %v", err)
	}

	if err := s.DeleteRequest(c, r.ID, models.RequestApproved, 0); !errors.Is(err, store.ErrStale) {
		t.Errorf("expected ErrStale for stale version, got %v", err)
	}
	if err := s.DeleteRequest(c, r.ID, models.RequestApproved, 1); err != nil {
		t.Fatalf("DeleteRequest failed: %v", err)
	}
	if _, err := s.GetRequest(c, r.UserID, r.InstituteID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// The pair is free again.
	if err := s.InsertRequest(c, request(r.UserID, r.InstituteID, base)); err != nil {
		t.Errorf("re-insert after delete failed: %v", err)
	}
}

func testRequestOrdering(t *testing.T, s store.Store) {
	c := ctx(t)
	inst := primitive.NewObjectID()
	late := request(primitive.NewObjectID(), inst, base.Add(2*time.Minute))
	early := request(primitive.NewObjectID(), inst, base)
	mid := request(primitive.NewObjectID(), inst, base.Add(time.Minute))
	for _, r := range []models.MembershipRequest{late, early, mid} {
		if err := s.InsertRequest(c, r); err != nil {
			t.Fatalf("InsertRequest failed: %v", err)
		}
	}

	got, err := s.ListRequestsByInstitute(c, inst, models.RequestPending)
	if err != nil {
		t.Fatalf("ListRequestsByInstitute failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d requests, want 3", len(got))
	}
	if got[0].ID != early.ID || got[1].ID != mid.ID || got[2].ID != late.ID {
		t.Error("expected requests ordered oldest first")
	}

	approved, err := s.ListRequestsByInstitute(c, inst, models.RequestApproved)
	if err != nil {
		t.Fatalf("ListRequestsByInstitute failed: %v", err)
	}
	if len(approved) != 0 {
		t.Errorf("got %d approved requests, want 0", len(approved))
	}

	mine, err := s.ListRequestsByUser(c, early.UserID, models.RequestPending)
	if err != nil {
		t.Fatalf("ListRequestsByUser failed: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != early.ID {
		t.Error("ListRequestsByUser should return only the user's request")
	}
}

func group(inst primitive.ObjectID, name, nameCI string) models.Group {
	return models.Group{
		ID:          primitive.NewObjectID(),
		InstituteID: inst,
		Name:        name,
		NameCI:      nameCI,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

func testGroupUpsert(t *testing.T, s store.Store) {
	c := ctx(t)
	inst := primitive.NewObjectID()

	first, created, err := s.UpsertGroup(c, group(inst, "Physics", "physics"))
	if err != nil {
		t.Fatalf("UpsertGroup failed: %v", err)
	}
	if !created {
		t.Error("expected first upsert to create")
	}

	again, created, err := s.UpsertGroup(c, group(inst, "PHYSICS", "physics"))
	if err != nil {
		t.Fatalf("UpsertGroup failed: %v", err)
	}
	if created {
		t.Error("expected second upsert to find the existing group")
	}
	if again.ID != first.ID || again.Name != "Physics" {
		t.Errorf("upsert returned %s %q, want original group", again.ID.Hex(), again.Name)
	}

	if err := s.InsertGroup(c, group(inst, "physics", "physics")); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for InsertGroup, got %v", err)
	}
	if err := s.InsertGroup(c, group(primitive.NewObjectID(), "Physics", "physics")); err != nil {
		t.Errorf("same name in another institute should be allowed: %v", err)
	}

	if err := s.InsertGroup(c, group(inst, "Art", "art")); err != nil {
		t.Fatalf("InsertGroup failed: %v", err)
	}
	list, err := s.ListGroups(c, inst)
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(list) != 2 || list[0].NameCI != "art" || list[1].NameCI != "physics" {
		t.Errorf("ListGroups returned %+v, want art then physics", list)
	}

	byIDs, err := s.GetGroupsByIDs(c, []primitive.ObjectID{first.ID, first.ID, primitive.NewObjectID()})
	if err != nil {
		t.Fatalf("GetGroupsByIDs failed: %v", err)
	}
	if len(byIDs) != 1 {
		t.Errorf("GetGroupsByIDs returned %d groups, want 1", len(byIDs))
	}
}

func testGroupMembers(t *testing.T, s store.Store) {
	c := ctx(t)
	inst := primitive.NewObjectID()
	g1 := group(inst, "A", "a")
	g2 := group(inst, "B", "b")
	for _, g := range []models.Group{g1, g2} {
		if err := s.InsertGroup(c, g); err != nil {
			t.Fatalf("InsertGroup failed: %v", err)
		}
	}
	user := primitive.NewObjectID()

	m := func(g models.Group) models.GroupMembership {
		return models.GroupMembership{ID: primitive.NewObjectID(), GroupID: g.ID, UserID: user, InstituteID: inst, CreatedAt: base}
	}

	added, err := s.AddGroupMember(c, m(g1))
	if err != nil || !added {
		t.Fatalf("AddGroupMember = %v, %v; want true, nil", added, err)
	}
	added, err = s.AddGroupMember(c, m(g1))
	if err != nil || added {
		t.Errorf("second AddGroupMember = %v, %v; want false, nil", added, err)
	}
	if _, err := s.AddGroupMember(c, m(g2)); err != nil {
		t.Fatalf("AddGroupMember failed: %v", err)
	}

	members, err := s.ListGroupMembers(c, []primitive.ObjectID{g1.ID, g2.ID})
	if err != nil {
		t.Fatalf("ListGroupMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("got %d memberships, want 2", len(members))
	}

	removed, err := s.RemoveGroupMember(c, g2.ID, user)
	if err != nil || !removed {
		t.Errorf("RemoveGroupMember = %v, %v; want true, nil", removed, err)
	}
	removed, err = s.RemoveGroupMember(c, g2.ID, user)
	if err != nil || removed {
		t.Errorf("second RemoveGroupMember = %v, %v; want false, nil", removed, err)
	}

	if _, err := s.AddGroupMember(c, m(g2)); err != nil {
		t.Fatalf("AddGroupMember failed: %v", err)
	}
	n, err := s.RemoveMemberFromInstitute(c, inst, user)
	if err != nil {
		t.Fatalf("RemoveMemberFromInstitute failed: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d memberships, want 2", n)
	}
}

func grant(doc, user primitive.ObjectID, viewOnce bool) models.AccessGrant {
	return models.AccessGrant{
		ID:          primitive.NewObjectID(),
		DocumentID:  doc,
		UserID:      user,
		InstituteID: primitive.NewObjectID(),
		ViewOnce:    viewOnce,
		CreatedAt:   base,
		ExpiresAt:   base.Add(24 * time.Hour),
	}
}

func testGrants(t *testing.T, s store.Store) {
	c := ctx(t)
	doc, user := primitive.NewObjectID(), primitive.NewObjectID()

	if err := s.InsertGrants(c, []models.AccessGrant{grant(doc, user, true)}); err != nil {
		t.Fatalf("InsertGrants failed: %v", err)
	}
	if err := s.InsertGrants(c, []models.AccessGrant{grant(doc, user, false)}); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for second grant on the pair, got %v", err)
	}

	if _, err := s.ConsumeGrant(c, doc, user, base.Add(25*time.Hour)); !errors.Is(err, store.ErrStale) {
		t.Errorf("expected ErrStale when consuming after expiry, got %v", err)
	}

	at := base.Add(time.Hour)
	got, err := s.ConsumeGrant(c, doc, user, at)
	if err != nil {
		t.Fatalf("ConsumeGrant failed: %v", err)
	}
	if got.ConsumedAt == nil || !got.ConsumedAt.Equal(at) {
		t.Error("expected consumed_at to be stamped")
	}
	if _, err := s.ConsumeGrant(c, doc, user, at); !errors.Is(err, store.ErrStale) {
		t.Errorf("expected ErrStale on second consume, got %v", err)
	}

	plainDoc := primitive.NewObjectID()
	if err := s.InsertGrants(c, []models.AccessGrant{grant(plainDoc, user, false)}); err != nil {
		t.Fatalf("InsertGrants failed: %v", err)
	}
	if _, err := s.ConsumeGrant(c, plainDoc, user, at); !errors.Is(err, store.ErrStale) {
		t.Errorf("expected ErrStale consuming a reusable grant, got %v", err)
	}

	mine, err := s.ListGrantsByUser(c, user)
	if err != nil {
		t.Fatalf("ListGrantsByUser failed: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("got %d grants, want 2", len(mine))
	}

	n, err := s.DeleteGrantsExpiredBefore(c, base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("DeleteGrantsExpiredBefore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d grants, want 2", n)
	}
	if _, err := s.GetGrant(c, doc, user); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after sweep, got %v", err)
	}
}

func testConsumeOnceConcurrent(t *testing.T, s store.Store) {
	c := ctx(t)
	doc, user := primitive.NewObjectID(), primitive.NewObjectID()
	if err := s.InsertGrants(c, []models.AccessGrant{grant(doc, user, true)}); err != nil {
		t.Fatalf("InsertGrants failed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeGrant(c, doc, user, base.Add(time.Minute)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d concurrent consumers succeeded, want exactly 1", wins)
	}
}

func testDocuments(t *testing.T, s store.Store) {
	c := ctx(t)
	inst := primitive.NewObjectID()
	older := models.Document{ID: primitive.NewObjectID(), InstituteID: inst, FileName: "a.txt", CreatedAt: base}
	newer := models.Document{ID: primitive.NewObjectID(), InstituteID: inst, FileName: "b.txt", CreatedAt: base.Add(time.Hour),
		TargetGroupIDs: []primitive.ObjectID{primitive.NewObjectID()}}
	for _, d := range []models.Document{older, newer} {
		if err := s.InsertDocument(c, d); err != nil {
			t.Fatalf("InsertDocument failed: %v", err)
		}
	}

	list, err := s.ListDocumentsByInstitute(c, inst)
	if err != nil {
		t.Fatalf("ListDocumentsByInstitute failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID {
		t.Error("expected documents newest first")
	}

	got, err := s.GetDocument(c, newer.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if len(got.TargetGroupIDs) != 1 {
		t.Errorf("got %d target groups, want 1", len(got.TargetGroupIDs))
	}
	if _, err := s.GetDocument(c, primitive.NewObjectID()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	byID, err := s.GetDocumentsByIDs(c, []primitive.ObjectID{older.ID, newer.ID})
	if err != nil {
		t.Fatalf("GetDocumentsByIDs failed: %v", err)
	}
	if len(byID) != 2 {
		t.Errorf("got %d documents, want 2", len(byID))
	}
}

func testAudit(t *testing.T, s store.Store) {
	c := ctx(t)
	inst := primitive.NewObjectID()
	other := primitive.NewObjectID()
	for i, id := range []primitive.ObjectID{inst, other, inst} {
		iid := id
		e := models.AuditEvent{
			ID:          primitive.NewObjectID(),
			Category:    models.AuditCategoryMembership,
			EventType:   models.AuditJoinRequested,
			InstituteID: &iid,
			Success:     true,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertAuditEvent(c, e); err != nil {
			t.Fatalf("InsertAuditEvent failed: %v", err)
		}
	}

	events, err := s.ListAuditEvents(c, inst, 10)
	if err != nil {
		t.Fatalf("ListAuditEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if !events[0].CreatedAt.After(events[1].CreatedAt) {
		t.Error("expected events newest first")
	}
}

func testWithTxRollback(t *testing.T, s store.Store) {
	c := ctx(t)
	r := request(primitive.NewObjectID(), primitive.NewObjectID(), base)
	if err := s.InsertRequest(c, r); err != nil {
		t.Fatalf("InsertRequest failed: %v", err)
	}

	boom := errors.New("boom")
	g := group(r.InstituteID, "Rollback", "rollback")
	err := s.WithTx(c, func(c context.Context, tx store.Store) error {
		if err := tx.InsertGroup(c, g); err != nil {
			return err
		}
		if _, err := tx.TransitionRequest(c, r.ID, models.RequestPending, 0, models.RequestApproved, &g.ID, base); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx returned %v, want boom", err)
	}

	if _, err := s.GetGroup(c, g.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected group insert to be rolled back, got %v", err)
	}
	got, err := s.GetRequest(c, r.UserID, r.InstituteID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if got.State != models.RequestPending || got.Version != 0 {
		t.Errorf("expected request unchanged, got %q v%d", got.State, got.Version)
	}

	err = s.WithTx(c, func(c context.Context, tx store.Store) error {
		return tx.InsertGroup(c, g)
	})
	if err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}
	if _, err := s.GetGroup(c, g.ID); err != nil {
		t.Errorf("expected committed group, got %v", err)
	}
}
