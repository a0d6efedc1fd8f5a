// internal/app/identity/tokens.go
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TokenUser is the "user" claim. Browser clients decode the token and read
// user.id directly.
type TokenUser struct {
	ID string `json:"id"`
}

// Claims is the bearer token payload.
type Claims struct {
	jwt.RegisteredClaims
	User TokenUser   `json:"user"`
	Role models.Role `json:"role"`
}

// Tokens issues and verifies HS256 bearer tokens.
type Tokens struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens returns a token service. ttl is the lifetime of issued tokens.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{key: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	c := *t
	c.now = now
	return &c
}

// Issue signs a token for p and returns it with its expiry.
func (t *Tokens) Issue(p Principal) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	id := p.AccountID().Hex()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		User: TokenUser{ID: id},
		Role: p.Role(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses raw and returns the account id and role it was issued for.
// Every failure is apperr.KindUnauthorized.
func (t *Tokens) Verify(raw string) (primitive.ObjectID, models.Role, error) {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(t.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return primitive.NilObjectID, "", apperr.Wrap(apperr.KindUnauthorized, "token has expired", err)
		}
		return primitive.NilObjectID, "", apperr.Wrap(apperr.KindUnauthorized, "token is not valid", err)
	}
	if !tok.Valid {
		return primitive.NilObjectID, "", apperr.New(apperr.KindUnauthorized, "token is not valid")
	}

	id, err := primitive.ObjectIDFromHex(claims.User.ID)
	if err != nil {
		return primitive.NilObjectID, "", apperr.Wrap(apperr.KindUnauthorized, "token is not valid", err)
	}
	if _, ok := models.ParseRole(string(claims.Role)); !ok {
		return primitive.NilObjectID, "", apperr.New(apperr.KindUnauthorized, "token is not valid")
	}
	return id, claims.Role, nil
}
