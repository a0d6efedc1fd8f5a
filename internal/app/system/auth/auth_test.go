package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeAuth map[string]identity.Principal

func (f fakeAuth) Authenticate(_ context.Context, raw string) (identity.Principal, error) {
	if raw == "boom" {
		return nil, apperr.Internal("load account", errors.New("db down"))
	}
	p, ok := f[raw]
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, "token is not valid")
	}
	return p, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.CurrentPrincipal(r); !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"none", nil, ""},
		{"x-auth-token", map[string]string{"x-auth-token": "abc"}, "abc"},
		{"bearer", map[string]string{"Authorization": "Bearer xyz"}, "xyz"},
		{"bearer lower", map[string]string{"Authorization": "bearer xyz"}, "xyz"},
		{"basic ignored", map[string]string{"Authorization": "Basic xyz"}, ""},
		{"header wins", map[string]string{"x-auth-token": "a", "Authorization": "Bearer b"}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := auth.TokenFromRequest(r); got != tt.want {
				t.Errorf("TokenFromRequest = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	user := identity.UserPrincipal{ID: primitive.NewObjectID(), Name: "Ada"}
	mw := auth.NewMiddleware(fakeAuth{"good": user}, zap.NewNop())
	h := mw.RequireAuth(okHandler())

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"invalid", "bad", http.StatusUnauthorized},
		{"backend failure", "boom", http.StatusInternalServerError},
		{"valid", "good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.token != "" {
				r.Header.Set("x-auth-token", tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := auth.RequireRole(models.RoleInstitute)(okHandler())

	user := identity.UserPrincipal{ID: primitive.NewObjectID()}
	inst := identity.InstitutePrincipal{ID: primitive.NewObjectID()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, auth.WithPrincipal(httptest.NewRequest("GET", "/", nil), user))
	if rec.Code != http.StatusForbidden {
		t.Errorf("user: status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, auth.WithPrincipal(httptest.NewRequest("GET", "/", nil), inst))
	if rec.Code != http.StatusOK {
		t.Errorf("institute: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", rec.Code)
	}
}

func TestCurrentUserAndInstitute(t *testing.T) {
	inst := identity.InstitutePrincipal{ID: primitive.NewObjectID()}
	r := auth.WithPrincipal(httptest.NewRequest("GET", "/", nil), inst)

	if _, ok := auth.CurrentUser(r); ok {
		t.Error("institute should not be a user")
	}
	got, ok := auth.CurrentInstitute(r)
	if !ok || got.ID != inst.ID {
		t.Errorf("CurrentInstitute = %+v, %v", got, ok)
	}
}
