// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/institutehub/internal/app/store/memstore"
	"github.com/dalemusser/institutehub/internal/app/store/mongostore"
	"github.com/dalemusser/institutehub/internal/app/system/blobstore"
	"github.com/dalemusser/institutehub/internal/app/system/events"
	"github.com/dalemusser/institutehub/internal/app/system/indexes"
	"github.com/dalemusser/institutehub/internal/app/system/metrics"
	"github.com/dalemusser/institutehub/internal/app/system/validators"
	"github.com/dalemusser/institutehub/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// eventQueueSize is how many audit events may wait for the broker.
const eventQueueSize = 1024

// ConnectDB connects the store, blob storage, Redis and the audit event
// publisher. Every optional backend is skipped when its address is blank.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	deps := DBDeps{
		Events:  events.Nop{},
		Metrics: metrics.New(),
	}

	var err error
	switch appCfg.StoreType {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		deps.Store = memstore.New()
	default:
		deps.MongoClient, deps.MongoDatabase, err = connectMongo(ctx, appCfg, logger)
		if err != nil {
			return DBDeps{}, err
		}
		deps.Store = mongostore.New(deps.MongoClient, deps.MongoDatabase, logger)
	}

	if deps.Blobs, err = connectBlobs(ctx, appCfg, logger); err != nil {
		closeDeps(ctx, deps, logger)
		return DBDeps{}, err
	}

	if appCfg.RedisAddr != "" {
		deps.Redis = redis.NewClient(&redis.Options{
			Addr:     appCfg.RedisAddr,
			Password: appCfg.RedisPassword,
			DB:       appCfg.RedisDB,
		})
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			closeDeps(ctx, deps, logger)
			return DBDeps{}, fmt.Errorf("ping redis %s: %w", appCfg.RedisAddr, err)
		}
		logger.Info("connected to Redis", zap.String("addr", appCfg.RedisAddr))
	}

	if appCfg.AMQPURI != "" {
		pub, err := events.DialAMQP(appCfg.AMQPURI, appCfg.AMQPExchange, logger)
		if err != nil {
			closeDeps(ctx, deps, logger)
			return DBDeps{}, err
		}
		deps.Events = events.NewAsync(pub, eventQueueSize, logger)
	}

	if appCfg.GrantSweepInterval > 0 {
		deps.Sweep = workers.NewGrantSweep(deps.Store, logger, appCfg.GrantSweepInterval, appCfg.GrantRetention)
	}

	return deps, nil
}

func connectMongo(ctx context.Context, appCfg AppConfig, logger *zap.Logger) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().
		ApplyURI(appCfg.MongoURI).
		SetMaxPoolSize(appCfg.MongoMaxPoolSize).
		SetMinPoolSize(appCfg.MongoMinPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	logger.Info("connected to MongoDB",
		zap.String("database", appCfg.MongoDatabase),
		zap.Uint64("max_pool", appCfg.MongoMaxPoolSize),
		zap.Uint64("min_pool", appCfg.MongoMinPoolSize))
	return client, client.Database(appCfg.MongoDatabase), nil
}

func connectBlobs(ctx context.Context, appCfg AppConfig, logger *zap.Logger) (blobstore.Store, error) {
	if appCfg.BlobType != "minio" {
		logger.Warn("using in-memory blob storage; uploads are lost on restart")
		return blobstore.NewMemory(), nil
	}
	m, err := blobstore.NewMinio(ctx, blobstore.MinioConfig{
		Endpoint:  appCfg.MinioEndpoint,
		AccessKey: appCfg.MinioAccessKey,
		SecretKey: appCfg.MinioSecretKey,
		Bucket:    appCfg.MinioBucket,
		Region:    appCfg.MinioRegion,
		UseSSL:    appCfg.MinioUseSSL,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to blob storage",
		zap.String("endpoint", appCfg.MinioEndpoint),
		zap.String("bucket", appCfg.MinioBucket))
	return m, nil
}

// EnsureSchema applies collection validators and indexes. The memory store
// enforces the same uniqueness in code and needs neither.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.MongoDatabase == nil {
		return nil
	}
	if err := validators.EnsureAll(ctx, deps.MongoDatabase, logger); err != nil {
		return fmt.Errorf("ensure validators: %w", err)
	}
	if err := indexes.EnsureAll(ctx, deps.MongoDatabase, logger); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	return nil
}

