// internal/app/store/mongostore/groups.go
package mongostore

import (
	"context"

	"github.com/dalemusser/institutehub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UpsertGroup finds the group by (institute_id, name_ci) and inserts g when
// absent. Two racing upserts can both miss and one then fails the unique
// index; that surfaces as store.ErrDuplicate and the caller retries.
func (s *Store) UpsertGroup(ctx context.Context, g models.Group) (models.Group, bool, error) {
	filter := bson.M{"institute_id": g.InstituteID, "name_ci": g.NameCI}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":        g.ID,
		"name":       g.Name,
		"created_at": g.CreatedAt,
		"updated_at": g.UpdatedAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out models.Group
	if err := s.groups.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out); err != nil {
		return models.Group{}, false, translate(err)
	}
	return out, out.ID == g.ID, nil
}

func (s *Store) InsertGroup(ctx context.Context, g models.Group) error {
	_, err := s.groups.InsertOne(ctx, g)
	return translate(err)
}

func (s *Store) GetGroup(ctx context.Context, id primitive.ObjectID) (models.Group, error) {
	var g models.Group
	if err := s.groups.FindOne(ctx, bson.M{"_id": id}).Decode(&g); err != nil {
		return models.Group{}, translate(err)
	}
	return g, nil
}

func (s *Store) GetGroupsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.groups.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Group
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListGroups(ctx context.Context, instituteID primitive.ObjectID) ([]models.Group, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name_ci", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.groups.Find(ctx, bson.M{"institute_id": instituteID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Group
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddGroupMember upserts instead of inserting so that an existing
// membership is a no-op rather than a write error that would abort an
// enclosing transaction.
func (s *Store) AddGroupMember(ctx context.Context, m models.GroupMembership) (bool, error) {
	filter := bson.M{"group_id": m.GroupID, "user_id": m.UserID}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          m.ID,
		"institute_id": m.InstituteID,
		"created_at":   m.CreatedAt,
	}}
	res, err := s.memberships.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if wafflemongo.IsDup(err) {
			return false, nil
		}
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID primitive.ObjectID) (bool, error) {
	res, err := s.memberships.DeleteOne(ctx, bson.M{"group_id": groupID, "user_id": userID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

func (s *Store) RemoveMemberFromInstitute(ctx context.Context, instituteID, userID primitive.ObjectID) (int64, error) {
	res, err := s.memberships.DeleteMany(ctx, bson.M{"institute_id": instituteID, "user_id": userID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) ListGroupMembers(ctx context.Context, groupIDs []primitive.ObjectID) ([]models.GroupMembership, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.memberships.Find(ctx, bson.M{"group_id": bson.M{"$in": groupIDs}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.GroupMembership
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
