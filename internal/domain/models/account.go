// internal/domain/models/account.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role distinguishes the two kinds of account that can sign in.
type Role string

const (
	RoleUser      Role = "user"
	RoleInstitute Role = "institute"
)

// ParseRole maps a path segment such as "user" or "institute" to a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, true
	case RoleInstitute:
		return RoleInstitute, true
	}
	return "", false
}

// Account is a registered user or institute.
//
// NOTE:
//   - For institutes, Name is the institute name, Email is the
//     administrator's address and AdminName is the administrator's name.
//     The institute account is its own administrator.
//   - EmailCI is folded with text.Fold; (role, email_ci) is unique.
type Account struct {
	ID           primitive.ObjectID `bson:"_id" json:"id"`
	Role         Role               `bson:"role" json:"role"`
	Name         string             `bson:"name" json:"name"`
	NameCI       string             `bson:"name_ci" json:"-"`
	Email        string             `bson:"email" json:"email"`
	EmailCI      string             `bson:"email_ci" json:"-"`
	AdminName    string             `bson:"admin_name,omitempty" json:"admin_name,omitempty"`
	PasswordHash string             `bson:"password_hash" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
