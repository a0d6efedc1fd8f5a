package distribution_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/institutehub/internal/app/distribution"
	"github.com/dalemusser/institutehub/internal/app/groups"
	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/membership"
	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/store/memstore"
	"github.com/dalemusser/institutehub/internal/app/system/auditlog"
	"github.com/dalemusser/institutehub/internal/app/system/blobstore"
	"github.com/dalemusser/institutehub/internal/app/system/metrics"
	"github.com/dalemusser/institutehub/internal/app/system/watermark"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/dalemusser/institutehub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	st    *memstore.Store
	blobs *blobstore.Memory
	fx    *testutil.Fixtures
	eng   *distribution.Engine
	inst  identity.InstitutePrincipal
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	blobs := blobstore.NewMemory()
	fx := testutil.NewFixtures(t, st)
	eng := distribution.NewEngine(st, blobs, watermark.NewStamper("test"), zap.NewNop(),
		distribution.WithClock(func() time.Time { return t0 }),
		distribution.WithAudit(auditlog.New(st, zap.NewNop(), nil, auditlog.AllOn)),
		distribution.WithMetrics(metrics.New()))
	return &env{
		st:    st,
		blobs: blobs,
		fx:    fx,
		eng:   eng,
		inst:  fx.CreateInstitute(context.Background(), "Northwind", "admin@northwind.edu"),
	}
}

func upload(name, body string) distribution.Upload {
	return distribution.Upload{
		FileName:    name,
		ContentType: "text/plain",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}

func policy(days int, viewOnce, mark bool) models.Policy {
	return models.Policy{ExpiryDays: days, ViewOnce: viewOnce, Watermark: mark}
}

func wantKind(t *testing.T, err error, k apperr.Kind) {
	t.Helper()
	if got := apperr.KindOf(err); err == nil || got != k {
		t.Fatalf("error = %v, want kind %s", err, k)
	}
}

func TestDistribute_Validation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")

	tests := []struct {
		name    string
		up      distribution.Upload
		targets []primitive.ObjectID
		policy  models.Policy
		kind    apperr.Kind
	}{
		{"no file", distribution.Upload{}, []primitive.ObjectID{g.ID}, policy(1, false, false), apperr.KindInvalidArgument},
		{"no targets", upload("a.txt", "x"), nil, policy(1, false, false), apperr.KindInvalidArgument},
		{"zero expiry", upload("a.txt", "x"), []primitive.ObjectID{g.ID}, policy(0, false, false), apperr.KindInvalidArgument},
		{"expiry too long", upload("a.txt", "x"), []primitive.ObjectID{g.ID}, policy(200000, false, false), apperr.KindInvalidArgument},
		{"unknown group", upload("a.txt", "x"), []primitive.ObjectID{primitive.NewObjectID()}, policy(1, false, false), apperr.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.eng.Distribute(ctx, e.inst, tt.up, tt.targets, tt.policy)
			wantKind(t, err, tt.kind)
		})
	}
	if e.blobs.Len() != 0 {
		t.Errorf("rejected uploads left %d blobs", e.blobs.Len())
	}
}

func TestDistribute_ForeignGroupForbidden(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	own := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	other := e.fx.CreateInstitute(ctx, "Rival", "admin@rival.edu")
	foreign := e.fx.CreateGroup(ctx, other.ID, "Theirs")
	e.fx.ApprovedMember(ctx, foreign, "Spy", "spy@x.org")

	_, err := e.eng.Distribute(ctx, e.inst, upload("a.txt", "x"), []primitive.ObjectID{own.ID, foreign.ID}, policy(1, false, false))
	wantKind(t, err, apperr.KindForbidden)

	docs, _ := e.eng.ListForInstitute(ctx, e.inst.ID)
	if len(docs) != 0 {
		t.Errorf("documents = %d, want 0", len(docs))
	}
}

func TestDistribute_GrantDedup(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	b := e.fx.CreateGroup(ctx, e.inst.ID, "Beta")
	shared := e.fx.ApprovedMember(ctx, a, "Shared", "shared@x.org")
	e.fx.AddMember(ctx, b, shared.ID)
	onlyB := e.fx.ApprovedMember(ctx, b, "OnlyB", "b@x.org")

	doc, err := e.eng.Distribute(ctx, e.inst, upload("notes.txt", "hello"), []primitive.ObjectID{a.ID, b.ID, a.ID}, policy(3, false, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	if doc.RecipientCount != 2 {
		t.Errorf("RecipientCount = %d, want 2", doc.RecipientCount)
	}
	if len(doc.TargetGroupIDs) != 2 {
		t.Errorf("targets = %v", doc.TargetGroupIDs)
	}
	if doc.Size != 5 || doc.FileName != "notes.txt" {
		t.Errorf("doc = %+v", doc)
	}

	for _, u := range []primitive.ObjectID{shared.ID, onlyB.ID} {
		g, err := e.st.GetGrant(ctx, doc.ID, u)
		if err != nil {
			t.Fatalf("GetGrant: %v", err)
		}
		if !g.ExpiresAt.Equal(t0.Add(72 * time.Hour)) {
			t.Errorf("ExpiresAt = %v", g.ExpiresAt)
		}
	}
}

func TestDistribute_SnapshotRecipients(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	early := e.fx.ApprovedMember(ctx, g, "Early", "early@x.org")

	doc, err := e.eng.Distribute(ctx, e.inst, upload("a.txt", "x"), []primitive.ObjectID{g.ID}, policy(1, false, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	late := e.fx.ApprovedMember(ctx, g, "Late", "late@x.org")

	if _, err := e.eng.ResolveAccess(ctx, early, doc.ID, t0); err != nil {
		t.Errorf("early member: %v", err)
	}
	_, err = e.eng.ResolveAccess(ctx, late, doc.ID, t0)
	wantKind(t, err, apperr.KindForbidden)
}

type failingTx struct {
	*memstore.Store
}

func (f failingTx) WithTx(ctx context.Context, fn func(context.Context, store.Store) error) error {
	return f.Store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errors.New("commit failed")
	})
}

func TestDistribute_PersistenceFailureDeletesBlob(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	blobs := blobstore.NewMemory()
	fx := testutil.NewFixtures(t, st)
	inst := fx.CreateInstitute(ctx, "Northwind", "admin@northwind.edu")
	g := fx.CreateGroup(ctx, inst.ID, "Alpha")
	fx.ApprovedMember(ctx, g, "Ada", "ada@x.org")

	eng := distribution.NewEngine(failingTx{st}, blobs, watermark.NewStamper("k"), zap.NewNop())
	_, err := eng.Distribute(ctx, inst, upload("a.txt", "x"), []primitive.ObjectID{g.ID}, policy(1, false, false))
	if err == nil {
		t.Fatal("expected failure")
	}
	if blobs.Len() != 0 {
		t.Errorf("blob left behind after failed distribution")
	}
	docs, _ := st.ListDocumentsByInstitute(ctx, inst.ID)
	if len(docs) != 0 {
		t.Errorf("document persisted despite failure")
	}
}

func TestResolveAccess_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	u := e.fx.ApprovedMember(ctx, g, "Ada", "ada@x.org")

	doc, err := e.eng.Distribute(ctx, e.inst, upload("a.txt", "x"), []primitive.ObjectID{g.ID}, policy(7, false, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	expiry := t0.Add(7 * 24 * time.Hour)

	if _, err := e.eng.ResolveAccess(ctx, u, doc.ID, expiry.Add(-time.Second)); err != nil {
		t.Errorf("1s before expiry: %v", err)
	}
	_, err = e.eng.ResolveAccess(ctx, u, doc.ID, expiry)
	wantKind(t, err, apperr.KindExpired)
	_, err = e.eng.ResolveAccess(ctx, u, doc.ID, expiry.Add(time.Second))
	wantKind(t, err, apperr.KindExpired)
}

func TestResolveAccess_LongestExpiry(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	u := e.fx.ApprovedMember(ctx, g, "Ada", "ada@x.org")

	doc, err := e.eng.Distribute(ctx, e.inst, upload("a.txt", "x"), []primitive.ObjectID{g.ID}, policy(models.MaxExpiryDays, false, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	grant, err := e.eng.ResolveAccess(ctx, u, doc.ID, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("ResolveAccess just after distribution: %v", err)
	}
	if want := t0.AddDate(0, 0, models.MaxExpiryDays); !grant.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", grant.ExpiresAt, want)
	}
}

func TestResolveAccess_NoGrant(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")

	_, err := e.eng.ResolveAccess(ctx, u, primitive.NewObjectID(), t0)
	wantKind(t, err, apperr.KindForbidden)
}

func TestResolveAccess_ViewOnceConcurrent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	u := e.fx.ApprovedMember(ctx, g, "Ada", "ada@x.org")

	doc, err := e.eng.Distribute(ctx, e.inst, upload("a.txt", "x"), []primitive.ObjectID{g.ID}, policy(1, true, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	const n = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, gone int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.eng.ResolveAccess(ctx, u, doc.ID, t0.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrAlreadyConsumed):
				gone++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || gone != n-1 {
		t.Fatalf("ok=%d alreadyConsumed=%d", ok, gone)
	}
}

func TestOpen_WatermarkedText(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	u := e.fx.ApprovedMember(ctx, g, "Ada", "ada@x.org")

	doc, err := e.eng.Distribute(ctx, e.inst, upload("memo.txt", "secret plan"), []primitive.ObjectID{g.ID}, policy(1, false, true))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	c, err := e.eng.Open(ctx, u, doc.ID, t0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body, _ := io.ReadAll(c.Body)
	_ = c.Body.Close()

	if c.Mark == nil {
		t.Fatal("expected a watermark")
	}
	if !strings.HasPrefix(string(body), "[WATERMARK] ") || !strings.HasSuffix(string(body), "secret plan") {
		t.Errorf("body = %q", body)
	}
	if !strings.Contains(c.Mark.Text, "ada@x.org") {
		t.Errorf("mark = %q", c.Mark.Text)
	}

	// The stored blob is unchanged.
	rc, _ := e.blobs.Open(ctx, doc.StorageKey)
	raw, _ := io.ReadAll(rc)
	if string(raw) != "secret plan" {
		t.Errorf("stored blob mutated: %q", raw)
	}
}

func TestOpen_ViewOnceConsumes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	u := e.fx.ApprovedMember(ctx, g, "Ada", "ada@x.org")

	doc, err := e.eng.Distribute(ctx, e.inst, upload("a.txt", "once"), []primitive.ObjectID{g.ID}, policy(1, true, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	c, err := e.eng.Open(ctx, u, doc.ID, t0)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	body, _ := io.ReadAll(c.Body)
	if string(body) != "once" || c.Mark != nil {
		t.Errorf("body=%q mark=%v", body, c.Mark)
	}
	if c.Grant.ConsumedAt == nil {
		t.Error("grant not consumed")
	}

	_, err = e.eng.Open(ctx, u, doc.ID, t0)
	wantKind(t, err, apperr.KindAlreadyConsumed)
}

func TestOpen_MissingBlobDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	u := e.fx.ApprovedMember(ctx, g, "Ada", "ada@x.org")

	doc, err := e.eng.Distribute(ctx, e.inst, upload("a.txt", "x"), []primitive.ObjectID{g.ID}, policy(1, true, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	_ = e.blobs.Delete(ctx, doc.StorageKey)

	_, err = e.eng.Open(ctx, u, doc.ID, t0)
	wantKind(t, err, apperr.KindInternal)

	grant, _ := e.st.GetGrant(ctx, doc.ID, u.ID)
	if grant.ConsumedAt != nil {
		t.Error("view-once grant consumed although the body could not be read")
	}
}

func TestListForUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	g := e.fx.CreateGroup(ctx, e.inst.ID, "Alpha")
	u := e.fx.ApprovedMember(ctx, g, "Ada", "ada@x.org")

	short, err := e.eng.Distribute(ctx, e.inst, upload("short.txt", "x"), []primitive.ObjectID{g.ID}, policy(1, false, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	long, err := e.eng.Distribute(ctx, e.inst, upload("long.txt", "y"), []primitive.ObjectID{g.ID}, policy(30, false, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	views, err := e.eng.ListForUser(ctx, u.ID, t0.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %d", len(views))
	}
	status := map[primitive.ObjectID]models.GrantStatus{}
	for _, v := range views {
		status[v.Document.ID] = v.Status
		if v.InstituteName != "Northwind" {
			t.Errorf("institute name = %q", v.InstituteName)
		}
	}
	if status[short.ID] != models.GrantExpired || status[long.ID] != models.GrantValid {
		t.Errorf("status = %v", status)
	}
}

// A user joins, is approved into a new group, receives a view-once document
// and can open it exactly once.
func TestScenario_JoinApproveDistributeConsume(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	audit := auditlog.New(e.st, zap.NewNop(), nil, auditlog.AllOn)
	reg := groups.NewRegistry(e.st, audit, zap.NewNop())
	mem := membership.NewEngine(e.st, reg, zap.NewNop(), membership.WithAudit(audit))

	u := e.fx.CreateUser(ctx, "Ada", "ada@x.org")
	req, err := mem.Join(ctx, u, e.inst.ID)
	if err != nil || req.State != models.RequestPending {
		t.Fatalf("Join: %+v %v", req, err)
	}

	req, err = mem.Decide(ctx, e.inst, u.ID, membership.Approve, membership.GroupRef{NewGroupName: "Cohort-A"})
	if err != nil || req.State != models.RequestApproved {
		t.Fatalf("approve: %+v %v", req, err)
	}
	views, _ := reg.ListGroups(ctx, e.inst.ID)
	if len(views) != 1 || views[0].Group.Name != "Cohort-A" || len(views[0].Members) != 1 || views[0].Members[0].ID != u.ID {
		t.Fatalf("groups = %+v", views)
	}

	doc, err := e.eng.Distribute(ctx, e.inst, upload("d.txt", "D"), []primitive.ObjectID{views[0].Group.ID}, policy(7, true, false))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	grant, err := e.st.GetGrant(ctx, doc.ID, u.ID)
	if err != nil {
		t.Fatalf("GetGrant: %v", err)
	}
	if !grant.ExpiresAt.Equal(t0.Add(7 * 24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", grant.ExpiresAt)
	}

	got, err := e.eng.ResolveAccess(ctx, u, doc.ID, t0)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if got.ConsumedAt == nil {
		t.Error("consumedAt not set")
	}
	_, err = e.eng.ResolveAccess(ctx, u, doc.ID, t0)
	wantKind(t, err, apperr.KindAlreadyConsumed)
}
