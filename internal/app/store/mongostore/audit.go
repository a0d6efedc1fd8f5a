// internal/app/store/mongostore/audit.go
package mongostore

import (
	"context"

	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) InsertAuditEvent(ctx context.Context, e models.AuditEvent) error {
	_, err := s.audit.InsertOne(ctx, e)
	return err
}

func (s *Store) ListAuditEvents(ctx context.Context, instituteID primitive.ObjectID, limit int) ([]models.AuditEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.audit.Find(ctx, bson.M{"institute_id": instituteID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.AuditEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
