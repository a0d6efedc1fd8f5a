// internal/app/distribution/distribution.go

// Package distribution shares uploaded documents with institute groups and
// decides, per recipient, whether a document may be opened.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/system/auditlog"
	"github.com/dalemusser/institutehub/internal/app/system/blobstore"
	"github.com/dalemusser/institutehub/internal/app/system/metrics"
	"github.com/dalemusser/institutehub/internal/app/system/watermark"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const defaultContentType = "application/octet-stream"

var expiryTooLong = fmt.Sprintf("expiryDays must be at most %d", models.MaxExpiryDays)

// Upload is a file received from an institute.
type Upload struct {
	FileName    string
	ContentType string
	// Size is the declared length, or -1 when unknown.
	Size int64
	Body io.Reader
}

// Engine distributes documents and resolves recipient access.
type Engine struct {
	store   store.Store
	blobs   blobstore.Store
	stamper *watermark.Stamper
	audit   *auditlog.Logger
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source used for distribution timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithAudit records distributions and access decisions.
func WithAudit(a *auditlog.Logger) Option { return func(e *Engine) { e.audit = a } }

// WithMetrics counts distributions and resolutions.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// NewEngine constructs an Engine.
func NewEngine(st store.Store, blobs blobstore.Store, stamper *watermark.Stamper, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{store: st, blobs: blobs, stamper: stamper, log: log, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

func dedupe(ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ownedGroups fails Forbidden unless every id names a group of instituteID.
// Unknown ids are treated like foreign ones.
func ownedGroups(ctx context.Context, st store.Groups, instituteID primitive.ObjectID, ids []primitive.ObjectID) error {
	gs, err := st.GetGroupsByIDs(ctx, ids)
	if err != nil {
		return apperr.Internal("load groups", err)
	}
	if len(gs) != len(ids) {
		return apperr.New(apperr.KindForbidden, "One or more groups do not belong to your institute")
	}
	for _, g := range gs {
		if g.InstituteID != instituteID {
			return apperr.New(apperr.KindForbidden, "One or more groups do not belong to your institute")
		}
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Distribute stores up and grants every current member of the target groups
// access under policy. Recipients are a snapshot: later group changes do
// not affect existing grants.
func (e *Engine) Distribute(ctx context.Context, inst identity.InstitutePrincipal, up Upload, targets []primitive.ObjectID, policy models.Policy) (models.Document, error) {
	doc, err := e.distribute(ctx, inst, up, targets, policy)

	details := map[string]string{"file_name": up.FileName}
	if err == nil {
		details["file_name"] = doc.FileName
		details["recipients"] = strconv.Itoa(doc.RecipientCount)
		e.metrics.Distributed(doc.RecipientCount)
	}
	e.audit.Distribution(ctx, models.AuditDocumentShared, inst.ID, doc.ID, inst.ID, err, details)
	return doc, err
}

func (e *Engine) distribute(ctx context.Context, inst identity.InstitutePrincipal, up Upload, targets []primitive.ObjectID, policy models.Policy) (models.Document, error) {
	if up.Body == nil || up.FileName == "" {
		return models.Document{}, apperr.New(apperr.KindInvalidArgument, "Please select a file to upload")
	}
	targets = dedupe(targets)
	if len(targets) == 0 {
		return models.Document{}, apperr.New(apperr.KindInvalidArgument, "Please select at least one recipient group")
	}
	if policy.ExpiryDays < 1 {
		return models.Document{}, apperr.New(apperr.KindInvalidArgument, "expiryDays must be at least 1")
	}
	if policy.ExpiryDays > models.MaxExpiryDays {
		return models.Document{}, apperr.New(apperr.KindInvalidArgument, expiryTooLong)
	}
	if err := ownedGroups(ctx, e.store, inst.ID, targets); err != nil {
		return models.Document{}, err
	}

	now := e.now().UTC()
	doc := models.Document{
		ID:             primitive.NewObjectID(),
		InstituteID:    inst.ID,
		OwnerID:        inst.ID,
		StorageKey:     blobstore.NewKey(now, up.FileName),
		FileName:       blobstore.SanitizeFilename(up.FileName),
		ContentType:    up.ContentType,
		TargetGroupIDs: targets,
		Policy:         policy,
		CreatedAt:      now,
	}
	if doc.ContentType == "" {
		doc.ContentType = defaultContentType
	}
	size := up.Size
	if size == 0 {
		size = -1
	}

	body := &countingReader{r: up.Body}
	if err := e.blobs.Put(ctx, doc.StorageKey, body, size, doc.ContentType); err != nil {
		return models.Document{}, apperr.Internal("store document", err)
	}
	doc.Size = body.n

	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		// Membership may have changed since the first check.
		if err := ownedGroups(ctx, tx, inst.ID, targets); err != nil {
			return err
		}
		ms, err := tx.ListGroupMembers(ctx, targets)
		if err != nil {
			return apperr.Internal("list recipients", err)
		}

		expires := policy.ExpiresAt(now)
		seen := make(map[primitive.ObjectID]struct{}, len(ms))
		grants := make([]models.AccessGrant, 0, len(ms))
		for _, m := range ms {
			if _, dup := seen[m.UserID]; dup {
				continue
			}
			seen[m.UserID] = struct{}{}
			grants = append(grants, models.AccessGrant{
				ID:          primitive.NewObjectID(),
				DocumentID:  doc.ID,
				UserID:      m.UserID,
				InstituteID: inst.ID,
				ViewOnce:    policy.ViewOnce,
				Watermark:   policy.Watermark,
				CreatedAt:   now,
				ExpiresAt:   expires,
			})
		}
		doc.RecipientCount = len(grants)

		if err := tx.InsertDocument(ctx, doc); err != nil {
			return apperr.Internal("insert document", err)
		}
		if len(grants) > 0 {
			if err := tx.InsertGrants(ctx, grants); err != nil {
				return apperr.Internal("insert grants", err)
			}
		}
		return nil
	})
	if err != nil {
		if derr := e.blobs.Delete(context.WithoutCancel(ctx), doc.StorageKey); derr != nil {
			e.log.Warn("failed to delete orphaned document blob",
				zap.String("key", doc.StorageKey),
				zap.Error(derr))
		}
		return models.Document{}, err
	}
	return doc, nil
}

// classify maps a grant's status at now to an access error, or nil.
func classify(g models.AccessGrant, now time.Time) error {
	switch g.StatusAt(now) {
	case models.GrantExpired:
		return apperr.New(apperr.KindExpired, "Access to this document has expired")
	case models.GrantConsumed:
		return apperr.New(apperr.KindAlreadyConsumed, "This document could only be viewed once and has already been opened")
	}
	return nil
}

func (e *Engine) peek(ctx context.Context, userID, documentID primitive.ObjectID, now time.Time) (models.AccessGrant, error) {
	g, err := e.store.GetGrant(ctx, documentID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return g, apperr.New(apperr.KindForbidden, "You do not have access to this document")
	}
	if err != nil {
		return g, apperr.Internal("load grant", err)
	}
	return g, classify(g, now)
}

func (e *Engine) resolve(ctx context.Context, userID, documentID primitive.ObjectID, now time.Time) (models.AccessGrant, error) {
	g, err := e.peek(ctx, userID, documentID, now)
	if err != nil || !g.ViewOnce {
		return g, err
	}
	consumed, err := e.store.ConsumeGrant(ctx, documentID, userID, now)
	if err == nil {
		return consumed, nil
	}
	if !errors.Is(err, store.ErrStale) {
		return g, apperr.Internal("consume grant", err)
	}
	// Someone else consumed it first, or it expired in between.
	g, err = e.peek(ctx, userID, documentID, now)
	if err == nil {
		err = apperr.New(apperr.KindAlreadyConsumed, "This document could only be viewed once and has already been opened")
	}
	return g, err
}

func (e *Engine) recordAccess(ctx context.Context, userID, documentID primitive.ObjectID, g models.AccessGrant, err error) {
	e.metrics.Resolution(err)
	ev := models.AuditDocumentOpened
	if err != nil {
		ev = models.AuditDocumentDenied
	}
	e.audit.Distribution(ctx, ev, userID, documentID, g.InstituteID, err, nil)
}

// ResolveAccess decides whether user may open documentID at now. A
// successful resolution of a view-once grant consumes it; of concurrent
// callers exactly one succeeds.
func (e *Engine) ResolveAccess(ctx context.Context, user identity.UserPrincipal, documentID primitive.ObjectID, now time.Time) (models.AccessGrant, error) {
	g, err := e.resolve(ctx, user.ID, documentID, now)
	e.recordAccess(ctx, user.ID, documentID, g, err)
	if err != nil {
		return models.AccessGrant{}, err
	}
	return g, nil
}

// Content is an opened document ready to stream.
type Content struct {
	Document models.Document
	Grant    models.AccessGrant
	// Mark is set when the policy asks for a watermark.
	Mark *watermark.Mark
	Body io.ReadCloser
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Open resolves access and returns the document body, watermarked for the
// recipient when the policy asks for it. The blob is opened before a
// view-once grant is consumed so a storage failure does not burn the view.
func (e *Engine) Open(ctx context.Context, user identity.UserPrincipal, documentID primitive.ObjectID, now time.Time) (*Content, error) {
	c, g, err := e.open(ctx, user, documentID, now)
	e.recordAccess(ctx, user.ID, documentID, g, err)
	return c, err
}

func (e *Engine) open(ctx context.Context, user identity.UserPrincipal, documentID primitive.ObjectID, now time.Time) (*Content, models.AccessGrant, error) {
	g, err := e.peek(ctx, user.ID, documentID, now)
	if err != nil {
		return nil, g, err
	}
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, g, apperr.Internal("load document", err)
	}
	rc, err := e.blobs.Open(ctx, doc.StorageKey)
	if err != nil {
		return nil, g, apperr.Internal("open document body", err)
	}

	g, err = e.resolve(ctx, user.ID, documentID, now)
	if err != nil {
		_ = rc.Close()
		return nil, g, err
	}

	c := &Content{Document: doc, Grant: g, Body: rc}
	if g.Watermark {
		m := e.stamper.Stamp(doc.ID, watermark.Recipient{ID: user.ID, Name: user.Name, Email: user.Email}, now)
		c.Mark = &m
		c.Body = readCloser{Reader: watermark.Apply(doc.ContentType, rc, m), Closer: rc}
	}
	return c, g, nil
}
