// internal/app/store/mongostore/accounts.go
package mongostore

import (
	"context"

	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (s *Store) CreateAccount(ctx context.Context, a models.Account) error {
	_, err := s.accounts.InsertOne(ctx, a)
	return translate(err)
}

func (s *Store) GetAccount(ctx context.Context, id primitive.ObjectID) (models.Account, error) {
	var a models.Account
	if err := s.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		return models.Account{}, translate(err)
	}
	return a, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, role models.Role, emailCI string) (models.Account, error) {
	var a models.Account
	if err := s.accounts.FindOne(ctx, bson.M{"role": role, "email_ci": emailCI}).Decode(&a); err != nil {
		return models.Account{}, translate(err)
	}
	return a, nil
}

func (s *Store) GetAccountsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Account, error) {
	out := make(map[primitive.ObjectID]models.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.accounts.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var a models.Account
		if err := cur.Decode(&a); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, cur.Err()
}
