// internal/domain/models/accessgrant.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GrantStatus is the evaluated state of an AccessGrant at a point in time.
type GrantStatus string

const (
	GrantValid    GrantStatus = "valid"
	GrantExpired  GrantStatus = "expired"
	GrantConsumed GrantStatus = "consumed"
)

// AccessGrant is one recipient's right to read one document.
// Exactly one document per (document_id, user_id).
type AccessGrant struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	DocumentID  primitive.ObjectID `bson:"document_id" json:"document_id"`
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	InstituteID primitive.ObjectID `bson:"institute_id" json:"institute_id"`
	ViewOnce    bool               `bson:"view_once" json:"view_once"`
	Watermark   bool               `bson:"watermark" json:"watermark"`

	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	ExpiresAt  time.Time  `bson:"expires_at" json:"expires_at"`
	ConsumedAt *time.Time `bson:"consumed_at,omitempty" json:"consumed_at,omitempty"`
}

// StatusAt evaluates the grant at now. A grant is valid only while
// now is strictly before ExpiresAt; expiry takes precedence over consumption.
func (g AccessGrant) StatusAt(now time.Time) GrantStatus {
	if !now.Before(g.ExpiresAt) {
		return GrantExpired
	}
	if g.ViewOnce && g.ConsumedAt != nil {
		return GrantConsumed
	}
	return GrantValid
}
