// internal/app/store/mongostore/mongostore.go

// Package mongostore implements store.Store on MongoDB.
//
// Uniqueness is enforced by the indexes created in system/indexes; this
// package maps duplicate-key failures to store.ErrDuplicate and relies on
// conditional updates for every state transition. WithTx uses a MongoDB
// transaction when the deployment supports one (replica set or sharded
// cluster) and otherwise runs the callback directly.
package mongostore

import (
	"context"
	"errors"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/system/indexes"
	"github.com/dalemusser/institutehub/internal/app/system/txn"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

type Store struct {
	client *mongo.Client
	log    *zap.Logger
	inTx   bool

	accounts    *mongo.Collection
	requests    *mongo.Collection
	groups      *mongo.Collection
	memberships *mongo.Collection
	documents   *mongo.Collection
	grants      *mongo.Collection
	audit       *mongo.Collection
}

var _ store.Store = (*Store)(nil)

func New(client *mongo.Client, db *mongo.Database, log *zap.Logger) *Store {
	return &Store{
		client:      client,
		log:         log,
		accounts:    db.Collection(indexes.Accounts),
		requests:    db.Collection(indexes.Requests),
		groups:      db.Collection(indexes.Groups),
		memberships: db.Collection(indexes.GroupMemberships),
		documents:   db.Collection(indexes.Documents),
		grants:      db.Collection(indexes.Grants),
		audit:       db.Collection(indexes.AuditEvents),
	}
}

// WithTx runs fn in a transaction. Nested calls join the outer one.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	tx := *s
	tx.inTx = true
	return txn.Run(ctx, s.client, s.log, func(ctx context.Context) error {
		return fn(ctx, &tx)
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case wafflemongo.IsDup(err):
		return store.ErrDuplicate
	}
	return err
}
