// internal/app/store/mongostore/requests.go
package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) InsertRequest(ctx context.Context, r models.MembershipRequest) error {
	_, err := s.requests.InsertOne(ctx, r)
	return translate(err)
}

func (s *Store) GetRequest(ctx context.Context, userID, instituteID primitive.ObjectID) (models.MembershipRequest, error) {
	var r models.MembershipRequest
	err := s.requests.FindOne(ctx, bson.M{"user_id": userID, "institute_id": instituteID}).Decode(&r)
	if err != nil {
		return models.MembershipRequest{}, translate(err)
	}
	return r, nil
}

func (s *Store) TransitionRequest(ctx context.Context, id primitive.ObjectID, from models.RequestState, version int64, to models.RequestState, groupID *primitive.ObjectID, decidedAt time.Time) (models.MembershipRequest, error) {
	set := bson.M{"state": to, "decided_at": decidedAt}
	if groupID != nil {
		set["group_id"] = *groupID
	}
	filter := bson.M{"_id": id, "state": from, "version": version}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}

	var r models.MembershipRequest
	err := s.requests.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.MembershipRequest{}, store.ErrStale
		}
		return models.MembershipRequest{}, err
	}
	return r, nil
}

func (s *Store) DeleteRequest(ctx context.Context, id primitive.ObjectID, state models.RequestState, version int64) error {
	res, err := s.requests.DeleteOne(ctx, bson.M{"_id": id, "state": state, "version": version})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrStale
	}
	return nil
}

func (s *Store) ListRequestsByInstitute(ctx context.Context, instituteID primitive.ObjectID, state models.RequestState) ([]models.MembershipRequest, error) {
	return s.findRequests(ctx, bson.M{"institute_id": instituteID, "state": state})
}

func (s *Store) ListRequestsByUser(ctx context.Context, userID primitive.ObjectID, state models.RequestState) ([]models.MembershipRequest, error) {
	return s.findRequests(ctx, bson.M{"user_id": userID, "state": state})
}

func (s *Store) findRequests(ctx context.Context, filter bson.M) ([]models.MembershipRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "requested_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.requests.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.MembershipRequest
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
