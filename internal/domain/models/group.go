// internal/domain/models/group.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Group is a named set of approved members inside one institute.
//
// NOTE:
//   - Members are not embedded on Group.
//     All membership is stored in the group_memberships collection.
//   - NameCI is the folded name; (institute_id, name_ci) is unique.
type Group struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	InstituteID primitive.ObjectID `bson:"institute_id" json:"institute_id"`
	Name        string             `bson:"name" json:"name"`
	NameCI      string             `bson:"name_ci" json:"name_ci"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
