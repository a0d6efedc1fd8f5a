// internal/app/store/mongostore/documents.go
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

func (s *Store) InsertDocument(ctx context.Context, d models.Document) error {
	_, err := s.documents.InsertOne(ctx, d)
	return translate(err)
}

func (s *Store) GetDocument(ctx context.Context, id primitive.ObjectID) (models.Document, error) {
	var d models.Document
	if err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return models.Document{}, translate(err)
	}
	return d, nil
}

func (s *Store) GetDocumentsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Document, error) {
	out := make(map[primitive.ObjectID]models.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.documents.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var d models.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, cur.Err()
}

func (s *Store) ListDocumentsByInstitute(ctx context.Context, instituteID primitive.ObjectID) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.documents.Find(ctx, bson.M{"institute_id": instituteID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Document
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) InsertGrants(ctx context.Context, grants []models.AccessGrant) error {
	if len(grants) == 0 {
		return nil
	}
	docs := make([]interface{}, len(grants))
	for i := range grants {
		docs[i] = grants[i]
	}
	_, err := s.grants.InsertMany(ctx, docs)
	return translate(err)
}

func (s *Store) GetGrant(ctx context.Context, documentID, userID primitive.ObjectID) (models.AccessGrant, error) {
	var g models.AccessGrant
	if err := s.grants.FindOne(ctx, bson.M{"document_id": documentID, "user_id": userID}).Decode(&g); err != nil {
		return models.AccessGrant{}, translate(err)
	}
	return g, nil
}

// ConsumeGrant is a single conditional update, so exactly one of any number
// of concurrent readers sees success.
func (s *Store) ConsumeGrant(ctx context.Context, documentID, userID primitive.ObjectID, at time.Time) (models.AccessGrant, error) {
	filter := bson.M{
		"document_id": documentID,
		"user_id":     userID,
		"view_once":   true,
		"consumed_at": nil,
		"expires_at":  bson.M{"$gt": at},
	}
	update := bson.M{"$set": bson.M{"consumed_at": at}}

	var g models.AccessGrant
	err := s.grants.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&g)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.AccessGrant{}, store.ErrStale
		}
		return models.AccessGrant{}, err
	}
	return g, nil
}

func (s *Store) ListGrantsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.AccessGrant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.grants.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.AccessGrant
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteGrantsExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.grants.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
