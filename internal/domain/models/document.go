// internal/domain/models/document.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Policy controls how recipients may read a distributed document.
type Policy struct {
	ExpiryDays int  `bson:"expiry_days" json:"expiry_days"`
	ViewOnce   bool `bson:"view_once" json:"view_once"`
	Watermark  bool `bson:"watermark" json:"watermark"`
}

// MaxExpiryDays bounds ExpiryDays so expiry times stay representable.
const MaxExpiryDays = 36500

// ExpiresAt is when grants issued at created under the policy lapse.
func (p Policy) ExpiresAt(created time.Time) time.Time {
	return created.AddDate(0, 0, p.ExpiryDays)
}

// Document is an uploaded file distributed to one or more groups.
// StorageKey addresses the blob in the configured blob store; the blob
// itself is never rewritten after upload.
type Document struct {
	ID             primitive.ObjectID   `bson:"_id" json:"id"`
	InstituteID    primitive.ObjectID   `bson:"institute_id" json:"institute_id"`
	OwnerID        primitive.ObjectID   `bson:"owner_id" json:"owner_id"`
	StorageKey     string               `bson:"storage_key" json:"-"`
	FileName       string               `bson:"file_name" json:"file_name"`
	ContentType    string               `bson:"content_type" json:"content_type"`
	Size           int64                `bson:"size" json:"size"`
	TargetGroupIDs []primitive.ObjectID `bson:"target_group_ids" json:"target_group_ids"`
	Policy         Policy               `bson:"policy" json:"policy"`
	RecipientCount int                  `bson:"recipient_count" json:"recipient_count"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
