package accounts

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

type userSignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r userSignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 128)),
	)
}

type instituteSignupRequest struct {
	Name       string `json:"name"`
	AdminName  string `json:"adminName"`
	AdminEmail string `json:"adminEmail"`
	Password   string `json:"password"`
}

func (r instituteSignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.AdminName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.AdminEmail, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 128)),
	)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// sessionResponse is returned by signup and login.
type sessionResponse struct {
	Token     string `json:"token"`
	Role      string `json:"role"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	ExpiresAt string `json:"expiresAt"`
	Msg       string `json:"msg,omitempty"`
}

// meResponse describes the authenticated caller.
type meResponse struct {
	ID         string `json:"_id"`
	Role       string `json:"role"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	AdminName  string `json:"adminName,omitempty"`
	AdminEmail string `json:"adminEmail,omitempty"`
}
