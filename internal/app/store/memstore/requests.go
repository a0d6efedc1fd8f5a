// internal/app/store/memstore/requests.go
package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (t *tables) InsertRequest(ctx context.Context, r models.MembershipRequest) error {
	key := pairKey{a: r.UserID, b: r.InstituteID}
	if _, ok := t.requestPair[key]; ok {
		return store.ErrDuplicate
	}
	t.requests[r.ID] = r
	t.requestPair[key] = r.ID
	return nil
}

func (t *tables) GetRequest(ctx context.Context, userID, instituteID primitive.ObjectID) (models.MembershipRequest, error) {
	id, ok := t.requestPair[pairKey{a: userID, b: instituteID}]
	if !ok {
		return models.MembershipRequest{}, store.ErrNotFound
	}
	return t.requests[id], nil
}

func (t *tables) TransitionRequest(ctx context.Context, id primitive.ObjectID, from models.RequestState, version int64, to models.RequestState, groupID *primitive.ObjectID, decidedAt time.Time) (models.MembershipRequest, error) {
	r, ok := t.requests[id]
	if !ok || r.State != from || r.Version != version {
		return models.MembershipRequest{}, store.ErrStale
	}
	r.State = to
	r.Version++
	if groupID != nil {
		g := *groupID
		r.GroupID = &g
	}
	d := decidedAt
	r.DecidedAt = &d
	t.requests[id] = r
	return r, nil
}

func (t *tables) DeleteRequest(ctx context.Context, id primitive.ObjectID, state models.RequestState, version int64) error {
	r, ok := t.requests[id]
	if !ok || r.State != state || r.Version != version {
		return store.ErrStale
	}
	delete(t.requests, id)
	delete(t.requestPair, pairKey{a: r.UserID, b: r.InstituteID})
	return nil
}

func (t *tables) ListRequestsByInstitute(ctx context.Context, instituteID primitive.ObjectID, state models.RequestState) ([]models.MembershipRequest, error) {
	var out []models.MembershipRequest
	for _, r := range t.requests {
		if r.InstituteID == instituteID && r.State == state {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (t *tables) ListRequestsByUser(ctx context.Context, userID primitive.ObjectID, state models.RequestState) ([]models.MembershipRequest, error) {
	var out []models.MembershipRequest
	for _, r := range t.requests {
		if r.UserID == userID && r.State == state {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func sortRequests(rs []models.MembershipRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].RequestedAt.Equal(rs[j].RequestedAt) {
			return rs[i].RequestedAt.Before(rs[j].RequestedAt)
		}
		return lessID(rs[i].ID, rs[j].ID)
	})
}

func (s *Store) InsertRequest(ctx context.Context, r models.MembershipRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.InsertRequest(ctx, r)
}

func (s *Store) GetRequest(ctx context.Context, userID, instituteID primitive.ObjectID) (models.MembershipRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.GetRequest(ctx, userID, instituteID)
}

func (s *Store) TransitionRequest(ctx context.Context, id primitive.ObjectID, from models.RequestState, version int64, to models.RequestState, groupID *primitive.ObjectID, decidedAt time.Time) (models.MembershipRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.TransitionRequest(ctx, id, from, version, to, groupID, decidedAt)
}

func (s *Store) DeleteRequest(ctx context.Context, id primitive.ObjectID, state models.RequestState, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.DeleteRequest(ctx, id, state, version)
}

func (s *Store) ListRequestsByInstitute(ctx context.Context, instituteID primitive.ObjectID, state models.RequestState) ([]models.MembershipRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.ListRequestsByInstitute(ctx, instituteID, state)
}

func (s *Store) ListRequestsByUser(ctx context.Context, userID primitive.ObjectID, state models.RequestState) ([]models.MembershipRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.ListRequestsByUser(ctx, userID, state)
}
