// internal/domain/models/membershiprequest.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RequestState is the lifecycle state of a membership request.
type RequestState string

const (
	RequestPending  RequestState = "pending"
	RequestApproved RequestState = "approved"
	RequestRejected RequestState = "rejected"
)

// MembershipRequest links one user to one institute.
// Exactly one document per (user_id, institute_id). Version is bumped on
// every state change and is used as the compare-and-set token.
type MembershipRequest struct {
	ID          primitive.ObjectID  `bson:"_id" json:"id"`
	UserID      primitive.ObjectID  `bson:"user_id" json:"user_id"`
	InstituteID primitive.ObjectID  `bson:"institute_id" json:"institute_id"`
	State       RequestState        `bson:"state" json:"state"`
	GroupID     *primitive.ObjectID `bson:"group_id,omitempty" json:"group_id,omitempty"`
	Version     int64               `bson:"version" json:"version"`

	RequestedAt time.Time  `bson:"requested_at" json:"requested_at"`
	DecidedAt   *time.Time `bson:"decided_at,omitempty" json:"decided_at,omitempty"`
}
