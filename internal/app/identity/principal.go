// internal/app/identity/principal.go
package identity

import (
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Principal is an authenticated caller. It is either a UserPrincipal or an
// InstitutePrincipal; no other implementations exist.
type Principal interface {
	AccountID() primitive.ObjectID
	Role() models.Role
	DisplayName() string
	principal()
}

// UserPrincipal is a signed-in individual user.
type UserPrincipal struct {
	ID    primitive.ObjectID
	Name  string
	Email string
}

func (p UserPrincipal) AccountID() primitive.ObjectID { return p.ID }
func (p UserPrincipal) Role() models.Role             { return models.RoleUser }
func (p UserPrincipal) DisplayName() string           { return p.Name }
func (UserPrincipal) principal()                      {}

// InstitutePrincipal is a signed-in institute. The institute account is its
// own administrator, so ID is both the institute and the admin identity.
type InstitutePrincipal struct {
	ID         primitive.ObjectID
	Name       string
	AdminName  string
	AdminEmail string
}

func (p InstitutePrincipal) AccountID() primitive.ObjectID { return p.ID }
func (p InstitutePrincipal) Role() models.Role             { return models.RoleInstitute }
func (p InstitutePrincipal) DisplayName() string           { return p.Name }
func (InstitutePrincipal) principal()                      {}

// FromAccount builds the principal for a stored account.
func FromAccount(a models.Account) Principal {
	if a.Role == models.RoleInstitute {
		return InstitutePrincipal{ID: a.ID, Name: a.Name, AdminName: a.AdminName, AdminEmail: a.Email}
	}
	return UserPrincipal{ID: a.ID, Name: a.Name, Email: a.Email}
}
