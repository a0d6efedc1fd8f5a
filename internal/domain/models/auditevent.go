// internal/domain/models/auditevent.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Audit categories.
const (
	AuditCategoryAuth         = "auth"
	AuditCategoryMembership   = "membership"
	AuditCategoryDistribution = "distribution"
)

// Audit event types.
const (
	AuditSignup            = "signup"
	AuditLoginSuccess      = "login_success"
	AuditLoginFailure      = "login_failure"
	AuditJoinRequested     = "join_requested"
	AuditRequestApproved   = "request_approved"
	AuditRequestRejected   = "request_rejected"
	AuditUserUnblocked     = "user_unblocked"
	AuditMemberLeft        = "member_left"
	AuditGroupCreated      = "group_created"
	AuditGroupMemberAdded  = "group_member_added"
	AuditGroupMemberRemove = "group_member_removed"
	AuditDocumentShared    = "document_distributed"
	AuditDocumentOpened    = "document_opened"
	AuditDocumentDenied    = "document_denied"
)

// AuditEvent records a security-relevant action.
type AuditEvent struct {
	ID            primitive.ObjectID  `bson:"_id" json:"id"`
	Category      string              `bson:"category" json:"category"`
	EventType     string              `bson:"event_type" json:"event_type"`
	ActorID       *primitive.ObjectID `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	SubjectID     *primitive.ObjectID `bson:"subject_id,omitempty" json:"subject_id,omitempty"`
	InstituteID   *primitive.ObjectID `bson:"institute_id,omitempty" json:"institute_id,omitempty"`
	Success       bool                `bson:"success" json:"success"`
	FailureReason string              `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	IP            string              `bson:"ip,omitempty" json:"ip,omitempty"`
	Details       map[string]string   `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt     time.Time           `bson:"created_at" json:"created_at"`
}
