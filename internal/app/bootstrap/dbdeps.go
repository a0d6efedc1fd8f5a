// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/system/blobstore"
	"github.com/dalemusser/institutehub/internal/app/system/events"
	"github.com/dalemusser/institutehub/internal/app/system/metrics"
	"github.com/dalemusser/institutehub/internal/app/system/workers"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
// MongoClient and MongoDatabase are nil when the memory store is in use;
// Redis is nil when rate limits are kept in process.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	Store   store.Store
	Blobs   blobstore.Store
	Redis   *redis.Client
	Events  events.Publisher
	Metrics *metrics.Metrics

	// Sweep is built in ConnectDB, started in Startup and stopped in Shutdown.
	Sweep *workers.GrantSweep
}
