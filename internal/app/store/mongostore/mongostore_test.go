package mongostore_test

import (
	"testing"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/store/mongostore"
	"github.com/dalemusser/institutehub/internal/app/store/storetest"
	"github.com/dalemusser/institutehub/internal/app/system/indexes"
	"github.com/dalemusser/institutehub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func TestMongostore(t *testing.T) {
	client := testutil.SetupTestClient(t)
	atomic := supportsTransactions(t, client.Database("admin"))

	storetest.Run(t, func(t *testing.T) store.Store {
		db := testutil.SetupTestDB(t)
		ctx, cancel := testutil.TestContext()
		defer cancel()
		if err := indexes.EnsureAll(ctx, db, zap.NewNop()); err != nil {
			t.Fatalf("EnsureAll failed: %v", err)
		}
		return mongostore.New(db.Client(), db, zap.NewNop())
	}, storetest.Options{Atomic: atomic})
}

// supportsTransactions reports whether the server is part of a replica set.
func supportsTransactions(t *testing.T, admin *mongo.Database) bool {
	ctx, cancel := testutil.TestContext()
	defer cancel()
	var hello bson.M
	if err := admin.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		t.Logf("hello failed: %v", err)
		return false
	}
	_, ok := hello["setName"]
	return ok
}
