// internal/app/store/memstore/documents.go
package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (t *tables) InsertDocument(ctx context.Context, d models.Document) error {
	if _, ok := t.documents[d.ID]; ok {
		return store.ErrDuplicate
	}
	d.TargetGroupIDs = cloneIDs(d.TargetGroupIDs)
	t.documents[d.ID] = d
	return nil
}

func (t *tables) GetDocument(ctx context.Context, id primitive.ObjectID) (models.Document, error) {
	d, ok := t.documents[id]
	if !ok {
		return models.Document{}, store.ErrNotFound
	}
	d.TargetGroupIDs = cloneIDs(d.TargetGroupIDs)
	return d, nil
}

func (t *tables) GetDocumentsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Document, error) {
	out := make(map[primitive.ObjectID]models.Document, len(ids))
	for _, id := range ids {
		if d, ok := t.documents[id]; ok {
			d.TargetGroupIDs = cloneIDs(d.TargetGroupIDs)
			out[id] = d
		}
	}
	return out, nil
}

func (t *tables) ListDocumentsByInstitute(ctx context.Context, instituteID primitive.ObjectID) ([]models.Document, error) {
	var out []models.Document
	for _, d := range t.documents {
		if d.InstituteID == instituteID {
			d.TargetGroupIDs = cloneIDs(d.TargetGroupIDs)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return lessID(out[j].ID, out[i].ID)
	})
	return out, nil
}

func (t *tables) InsertGrants(ctx context.Context, grants []models.AccessGrant) error {
	seen := make(map[pairKey]struct{}, len(grants))
	for _, g := range grants {
		key := pairKey{a: g.DocumentID, b: g.UserID}
		if _, ok := t.grants[key]; ok {
			return store.ErrDuplicate
		}
		if _, ok := seen[key]; ok {
			return store.ErrDuplicate
		}
		seen[key] = struct{}{}
	}
	for _, g := range grants {
		t.grants[pairKey{a: g.DocumentID, b: g.UserID}] = g
	}
	return nil
}

func (t *tables) GetGrant(ctx context.Context, documentID, userID primitive.ObjectID) (models.AccessGrant, error) {
	g, ok := t.grants[pairKey{a: documentID, b: userID}]
	if !ok {
		return models.AccessGrant{}, store.ErrNotFound
	}
	return g, nil
}

func (t *tables) ConsumeGrant(ctx context.Context, documentID, userID primitive.ObjectID, at time.Time) (models.AccessGrant, error) {
	key := pairKey{a: documentID, b: userID}
	g, ok := t.grants[key]
	if !ok || !g.ViewOnce || g.ConsumedAt != nil || !at.Before(g.ExpiresAt) {
		return models.AccessGrant{}, store.ErrStale
	}
	c := at
	g.ConsumedAt = &c
	t.grants[key] = g
	return g, nil
}

func (t *tables) ListGrantsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.AccessGrant, error) {
	var out []models.AccessGrant
	for _, g := range t.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return lessID(out[j].ID, out[i].ID)
	})
	return out, nil
}

func (t *tables) DeleteGrantsExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for key, g := range t.grants {
		if g.ExpiresAt.Before(cutoff) {
			delete(t.grants, key)
			n++
		}
	}
	return n, nil
}

func (t *tables) InsertAuditEvent(ctx context.Context, e models.AuditEvent) error {
	t.audit = append(t.audit, e)
	return nil
}

func (t *tables) ListAuditEvents(ctx context.Context, instituteID primitive.ObjectID, limit int) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for i := len(t.audit) - 1; i >= 0; i-- {
		e := t.audit[i]
		if e.InstituteID == nil || *e.InstituteID != instituteID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) InsertDocument(ctx context.Context, d models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.InsertDocument(ctx, d)
}

func (s *Store) GetDocument(ctx context.Context, id primitive.ObjectID) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.GetDocument(ctx, id)
}

func (s *Store) GetDocumentsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.GetDocumentsByIDs(ctx, ids)
}

func (s *Store) ListDocumentsByInstitute(ctx context.Context, instituteID primitive.ObjectID) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.ListDocumentsByInstitute(ctx, instituteID)
}

func (s *Store) InsertGrants(ctx context.Context, grants []models.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.InsertGrants(ctx, grants)
}

func (s *Store) GetGrant(ctx context.Context, documentID, userID primitive.ObjectID) (models.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.GetGrant(ctx, documentID, userID)
}

func (s *Store) ConsumeGrant(ctx context.Context, documentID, userID primitive.ObjectID, at time.Time) (models.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.ConsumeGrant(ctx, documentID, userID, at)
}

func (s *Store) ListGrantsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.ListGrantsByUser(ctx, userID)
}

func (s *Store) DeleteGrantsExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.DeleteGrantsExpiredBefore(ctx, cutoff)
}

func (s *Store) InsertAuditEvent(ctx context.Context, e models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.InsertAuditEvent(ctx, e)
}

func (s *Store) ListAuditEvents(ctx context.Context, instituteID primitive.ObjectID, limit int) ([]models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.ListAuditEvents(ctx, instituteID, limit)
}
