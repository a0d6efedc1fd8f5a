// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/institutehub/internal/app/system/indexes"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates every collection (if missing) and attaches JSON-Schema
// validators where the server supports them. Collections are created up
// front because older servers cannot create one inside a transaction.
func EnsureAll(ctx context.Context, db *mongo.Database, log *zap.Logger) error {
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if err := ensureCollection(ctx, db, coll, log); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			if isUnsupported(err) {
				log.Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
			return
		}
		log.Debug("validator ensured", zap.String("collection", coll))
	}

	ensure(indexes.Accounts, accountsSchema())
	ensure(indexes.Requests, requestsSchema())
	ensure(indexes.Groups, groupsSchema())
	ensure(indexes.GroupMemberships, nil)
	ensure(indexes.Documents, documentsSchema())
	ensure(indexes.Grants, grantsSchema())
	ensure(indexes.AuditEvents, nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, log *zap.Logger) error {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err == nil && len(names) > 0 {
		return nil
	}
	if err := db.CreateCollection(ctx, name); err != nil {
		if isNamespaceExistsErr(err) {
			return nil
		}
		log.Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return err
	}
	log.Info("created collection", zap.String("collection", name))
	return nil
}

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	return db.RunCommand(ctx, cmd).Err()
}

func isNamespaceExistsErr(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 48 {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "already exists") || strings.Contains(s, "namespace exists")
}

// isUnsupported matches DocumentDB-style deployments without collMod validators.
func isUnsupported(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 59 || ce.Code == 115) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "no such command") ||
		strings.Contains(s, "not implemented") ||
		strings.Contains(s, "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

func nonEmpty() bson.M {
	return bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"}
}

func accountsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"role", "name", "email", "email_ci", "password_hash"},
			"properties": bson.M{
				"role":     bson.M{"enum": bson.A{"user", "institute"}},
				"name":     nonEmpty(),
				"email":    nonEmpty(),
				"email_ci": nonEmpty(),
			},
		},
	}
}

func requestsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"user_id", "institute_id", "state", "version", "requested_at"},
			"properties": bson.M{
				"user_id":      bson.M{"bsonType": "objectId"},
				"institute_id": bson.M{"bsonType": "objectId"},
				"state":        bson.M{"enum": bson.A{"pending", "approved", "rejected"}},
				"version":      bson.M{"bsonType": bson.A{"long", "int"}, "minimum": 0},
			},
		},
	}
}

func groupsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"institute_id", "name", "name_ci"},
			"properties": bson.M{
				"institute_id": bson.M{"bsonType": "objectId"},
				"name":         nonEmpty(),
				"name_ci":      nonEmpty(),
			},
		},
	}
}

func documentsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"institute_id", "storage_key", "file_name", "policy"},
			"properties": bson.M{
				"storage_key": nonEmpty(),
				"file_name":   nonEmpty(),
				"policy": bson.M{
					"bsonType": "object",
					"required": bson.A{"expiry_days"},
					"properties": bson.M{
						"expiry_days": bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 1},
					},
				},
			},
		},
	}
}

func grantsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"document_id", "user_id", "expires_at"},
			"properties": bson.M{
				"document_id": bson.M{"bsonType": "objectId"},
				"user_id":     bson.M{"bsonType": "objectId"},
				"expires_at":  bson.M{"bsonType": "date"},
			},
		},
	}
}
