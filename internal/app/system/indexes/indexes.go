// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection names shared with mongostore.
const (
	Accounts         = "accounts"
	Requests         = "membership_requests"
	Groups           = "groups"
	GroupMemberships = "group_memberships"
	Documents        = "documents"
	Grants           = "access_grants"
	AuditEvents      = "audit_events"
)

/*
EnsureAll is called at startup. Each index set is idempotent.
Errors are aggregated so every problem is visible and startup can fail fast.

The unique indexes here are load-bearing: they are what makes concurrent
joins, group creation and grant issuance race-safe.
*/
func EnsureAll(ctx context.Context, db *mongo.Database, log *zap.Logger) error {
	var problems []string
	for _, set := range desired() {
		if err := ensureIndexSet(ctx, db.Collection(set.collection), set.models, log); err != nil {
			problems = append(problems, set.collection+": "+err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

type indexSet struct {
	collection string
	models     []mongo.IndexModel
}

func desired() []indexSet {
	return []indexSet{
		{Accounts, []mongo.IndexModel{
			// One account per folded email per role.
			{
				Keys:    bson.D{{Key: "role", Value: 1}, {Key: "email_ci", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_accounts_role_emailci"),
			},
		}},
		{Requests, []mongo.IndexModel{
			// At most one request per (user, institute).
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "institute_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_requests_user_institute"),
			},
			// Dashboard queues, oldest first.
			{
				Keys: bson.D{
					{Key: "institute_id", Value: 1},
					{Key: "state", Value: 1},
					{Key: "requested_at", Value: 1},
					{Key: "_id", Value: 1},
				},
				Options: options.Index().SetName("idx_requests_institute_state_requested"),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "state", Value: 1}},
				Options: options.Index().SetName("idx_requests_user_state"),
			},
		}},
		{Groups, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "institute_id", Value: 1}, {Key: "name_ci", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_groups_institute_nameci"),
			},
		}},
		{GroupMemberships, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "group_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_gm_group_user"),
			},
			// Leave removes a user from every group of one institute.
			{
				Keys:    bson.D{{Key: "institute_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetName("idx_gm_institute_user"),
			},
		}},
		{Documents, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "institute_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_documents_institute_created"),
			},
		}},
		{Grants, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_grants_document_user"),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_grants_user_created"),
			},
			// Sweep worker.
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetName("idx_grants_expires"),
			},
		}},
		{AuditEvents, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "institute_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_audit_institute_created"),
			},
		}},
	}
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique *bool  `bson:"unique,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func isUnique(b *bool) bool {
	return b != nil && *b
}

func listExisting(ctx context.Context, coll *mongo.Collection) (map[string]existingIndex, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[string]existingIndex{}
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			continue
		}
		out[keySig(idx.Key)] = idx
	}
	return out, cur.Err()
}

// ensureIndexSet creates each desired index. An existing index on the same
// keys is reused when its uniqueness and name match, and dropped and
// recreated otherwise.
func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel, log *zap.Logger) error {
	existing, err := listExisting(ctx, coll)
	if err != nil {
		// A collection that does not exist yet has no indexes to reconcile.
		existing = map[string]existingIndex{}
	}

	var errs []string
	for _, m := range models {
		name := *m.Options.Name
		unique := isUnique(m.Options.Unique)
		sig := keySig(m.Keys.(bson.D))
		start := time.Now()

		fields := []zap.Field{
			zap.String("collection", coll.Name()),
			zap.String("name", name),
			zap.String("keys", sig),
			zap.Bool("unique", unique),
		}

		if ex, ok := existing[sig]; ok {
			if isUnique(ex.Unique) == unique && ex.Name == name {
				log.Debug("reusing existing index", fields...)
				continue
			}
			if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
				log.Warn("drop existing index failed", append(fields, zap.Error(err))...)
				errs = append(errs, fmt.Sprintf("%s: drop %s failed: %v", name, ex.Name, err))
				continue
			}
		}

		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			if unique && isDuplicateKeyErr(err) {
				errs = append(errs, fmt.Sprintf("%s: cannot create unique index (duplicates present)", name))
			} else {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			}
			log.Warn("index ensure failed", append(fields, zap.Error(err))...)
			continue
		}
		log.Info("index ensured", append(fields, zap.Duration("took", time.Since(start)))...)
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return mongo.IsDuplicateKeyError(err)
}
