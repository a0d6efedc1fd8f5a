// internal/app/identity/registry.go
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/system/htmlsanitize"
	"github.com/dalemusser/institutehub/internal/app/system/normalize"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const invalidCredentials = "Invalid Credentials"

// Registry owns accounts: signup, login and bearer-token authentication.
type Registry struct {
	accounts store.Accounts
	tokens   *Tokens
	hasher   Hasher
	now      func() time.Time
}

type Option func(*Registry)

// WithHasher overrides the bcrypt cost; tests use bcrypt.MinCost.
func WithHasher(h Hasher) Option { return func(r *Registry) { r.hasher = h } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func NewRegistry(accounts store.Accounts, tokens *Tokens, opts ...Option) *Registry {
	r := &Registry{accounts: accounts, tokens: tokens, hasher: DefaultHasher, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// UserSignup is the input for a new user account.
type UserSignup struct {
	Name     string
	Email    string
	Password string
}

// InstituteSignup is the input for a new institute account.
type InstituteSignup struct {
	Name       string
	AdminName  string
	AdminEmail string
	Password   string
}

// Session is the result of a successful signup or login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Principal Principal
}

func emailKey(email string) string {
	return text.Fold(normalize.Email(email))
}

func displayText(s string) string {
	return normalize.Name(htmlsanitize.PlainText(s))
}

func (r *Registry) SignupUser(ctx context.Context, in UserSignup) (Session, error) {
	a := models.Account{
		Role:  models.RoleUser,
		Name:  displayText(in.Name),
		Email: normalize.Email(in.Email),
	}
	if a.Name == "" || a.Email == "" || in.Password == "" {
		return Session{}, apperr.New(apperr.KindInvalidArgument, "name, email and password are required")
	}
	return r.create(ctx, a, in.Password, "User already exists")
}

func (r *Registry) SignupInstitute(ctx context.Context, in InstituteSignup) (Session, error) {
	a := models.Account{
		Role:      models.RoleInstitute,
		Name:      displayText(in.Name),
		AdminName: displayText(in.AdminName),
		Email:     normalize.Email(in.AdminEmail),
	}
	if a.Name == "" || a.AdminName == "" || a.Email == "" || in.Password == "" {
		return Session{}, apperr.New(apperr.KindInvalidArgument, "name, adminName, adminEmail and password are required")
	}
	return r.create(ctx, a, in.Password, "Institute already exists")
}

func (r *Registry) create(ctx context.Context, a models.Account, password, dupMsg string) (Session, error) {
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return Session{}, apperr.Internal("hash password", err)
	}
	a.ID = primitive.NewObjectID()
	a.NameCI = text.Fold(a.Name)
	a.EmailCI = emailKey(a.Email)
	a.PasswordHash = hash
	a.CreatedAt = r.now().UTC()

	if err := r.accounts.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Session{}, apperr.New(apperr.KindConflict, dupMsg)
		}
		return Session{}, apperr.Internal("create account", err)
	}
	return r.issue(FromAccount(a))
}

// Login verifies credentials for the given role. Unknown emails and wrong
// passwords fail identically.
func (r *Registry) Login(ctx context.Context, role models.Role, email, password string) (Session, error) {
	a, err := r.accounts.GetAccountByEmail(ctx, role, emailKey(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, apperr.New(apperr.KindUnauthorized, invalidCredentials)
		}
		return Session{}, apperr.Internal("load account", err)
	}
	ok, err := r.hasher.Verify(a.PasswordHash, password)
	if err != nil {
		return Session{}, apperr.Internal("verify password", err)
	}
	if !ok {
		return Session{}, apperr.New(apperr.KindUnauthorized, invalidCredentials)
	}
	return r.issue(FromAccount(a))
}

func (r *Registry) issue(p Principal) (Session, error) {
	tok, exp, err := r.tokens.Issue(p)
	if err != nil {
		return Session{}, apperr.Internal("issue token", err)
	}
	return Session{Token: tok, ExpiresAt: exp, Principal: p}, nil
}

// Authenticate resolves a bearer token to a principal. The account is
// reloaded so deleted accounts and role changes take effect immediately.
func (r *Registry) Authenticate(ctx context.Context, raw string) (Principal, error) {
	id, role, err := r.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	a, err := r.accounts.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindUnauthorized, "account no longer exists")
		}
		return nil, apperr.Internal("load account", err)
	}
	if a.Role != role {
		return nil, apperr.New(apperr.KindUnauthorized, "token is not valid")
	}
	return FromAccount(a), nil
}

// Institute resolves an institute id. Any id that is not an institute
// account is NotFound.
func (r *Registry) Institute(ctx context.Context, id primitive.ObjectID) (InstitutePrincipal, error) {
	a, err := r.accounts.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return InstitutePrincipal{}, apperr.New(apperr.KindNotFound, "Institute not found")
		}
		return InstitutePrincipal{}, apperr.Internal("load institute", err)
	}
	if a.Role != models.RoleInstitute {
		return InstitutePrincipal{}, apperr.New(apperr.KindNotFound, "Institute not found")
	}
	return FromAccount(a).(InstitutePrincipal), nil
}
