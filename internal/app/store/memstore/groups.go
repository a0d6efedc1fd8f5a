// internal/app/store/memstore/groups.go
package memstore

import (
	"context"
	"sort"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (t *tables) UpsertGroup(ctx context.Context, g models.Group) (models.Group, bool, error) {
	if id, ok := t.groupName[nameKey{institute: g.InstituteID, nameCI: g.NameCI}]; ok {
		return t.groups[id], false, nil
	}
	if err := t.InsertGroup(ctx, g); err != nil {
		return models.Group{}, false, err
	}
	return g, true, nil
}

func (t *tables) InsertGroup(ctx context.Context, g models.Group) error {
	key := nameKey{institute: g.InstituteID, nameCI: g.NameCI}
	if _, ok := t.groupName[key]; ok {
		return store.ErrDuplicate
	}
	if _, ok := t.groups[g.ID]; ok {
		return store.ErrDuplicate
	}
	t.groups[g.ID] = g
	t.groupName[key] = g.ID
	return nil
}

func (t *tables) GetGroup(ctx context.Context, id primitive.ObjectID) (models.Group, error) {
	g, ok := t.groups[id]
	if !ok {
		return models.Group{}, store.ErrNotFound
	}
	return g, nil
}

func (t *tables) GetGroupsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Group, error) {
	var out []models.Group
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if g, ok := t.groups[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (t *tables) ListGroups(ctx context.Context, instituteID primitive.ObjectID) ([]models.Group, error) {
	var out []models.Group
	for _, g := range t.groups {
		if g.InstituteID == instituteID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NameCI != out[j].NameCI {
			return out[i].NameCI < out[j].NameCI
		}
		return lessID(out[i].ID, out[j].ID)
	})
	return out, nil
}

func (t *tables) AddGroupMember(ctx context.Context, m models.GroupMembership) (bool, error) {
	key := pairKey{a: m.GroupID, b: m.UserID}
	if _, ok := t.members[key]; ok {
		return false, nil
	}
	t.members[key] = m
	return true, nil
}

func (t *tables) RemoveGroupMember(ctx context.Context, groupID, userID primitive.ObjectID) (bool, error) {
	key := pairKey{a: groupID, b: userID}
	if _, ok := t.members[key]; !ok {
		return false, nil
	}
	delete(t.members, key)
	return true, nil
}

func (t *tables) RemoveMemberFromInstitute(ctx context.Context, instituteID, userID primitive.ObjectID) (int64, error) {
	var n int64
	for key, m := range t.members {
		if m.InstituteID == instituteID && m.UserID == userID {
			delete(t.members, key)
			n++
		}
	}
	return n, nil
}

func (t *tables) ListGroupMembers(ctx context.Context, groupIDs []primitive.ObjectID) ([]models.GroupMembership, error) {
	want := make(map[primitive.ObjectID]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		want[id] = struct{}{}
	}
	var out []models.GroupMembership
	for _, m := range t.members {
		if _, ok := want[m.GroupID]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return lessID(out[i].ID, out[j].ID)
	})
	return out, nil
}

func (s *Store) UpsertGroup(ctx context.Context, g models.Group) (models.Group, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.UpsertGroup(ctx, g)
}

func (s *Store) InsertGroup(ctx context.Context, g models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.InsertGroup(ctx, g)
}

func (s *Store) GetGroup(ctx context.Context, id primitive.ObjectID) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.GetGroup(ctx, id)
}

func (s *Store) GetGroupsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.GetGroupsByIDs(ctx, ids)
}

func (s *Store) ListGroups(ctx context.Context, instituteID primitive.ObjectID) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.ListGroups(ctx, instituteID)
}

func (s *Store) AddGroupMember(ctx context.Context, m models.GroupMembership) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.AddGroupMember(ctx, m)
}

func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.RemoveGroupMember(ctx, groupID, userID)
}

func (s *Store) RemoveMemberFromInstitute(ctx context.Context, instituteID, userID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.RemoveMemberFromInstitute(ctx, instituteID, userID)
}

func (s *Store) ListGroupMembers(ctx context.Context, groupIDs []primitive.ObjectID) ([]models.GroupMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.ListGroupMembers(ctx, groupIDs)
}
