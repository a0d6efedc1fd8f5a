package accounts_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/institutehub/internal/app/features/accounts"
	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/store/memstore"
	"github.com/dalemusser/institutehub/internal/app/system/auditlog"
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/app/system/events"
	"github.com/dalemusser/institutehub/internal/app/system/ratelimit"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/dalemusser/institutehub/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type env struct {
	events *events.Recorder
	router chi.Router
}

func newEnv(t *testing.T, limiter *ratelimit.LoginLimiter) *env {
	t.Helper()
	st := memstore.New()
	ids := identity.NewRegistry(st, identity.NewTokens("0123456789abcdef0123456789abcdef", "test", time.Hour),
		identity.WithHasher(identity.Hasher{Cost: bcrypt.MinCost}))
	rec := &events.Recorder{}
	audit := auditlog.New(st, zap.NewNop(), rec, auditlog.AllOn)
	h := accounts.NewHandler(ids, audit, limiter, zap.NewNop())
	return &env{events: rec, router: accounts.Routes(h, auth.NewMiddleware(ids, zap.NewNop()))}
}

func (e *env) post(t *testing.T, target string, body any) *testutil.ResponseRecorder {
	t.Helper()
	rec := testutil.NewRecorder()
	e.router.ServeHTTP(rec, testutil.NewJSONRequest(t, "POST", target, body))
	return rec
}

type session struct {
	Token string `json:"token"`
	Role  string `json:"role"`
	ID    string `json:"id"`
}

func TestSignupAndLogin_User(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.post(t, "/user/signup", map[string]string{"name": "Ada", "email": "Ada@Example.com", "password": "hunter22"})
	rec.AssertStatus(t, http.StatusCreated)
	var s session
	rec.DecodeJSON(t, &s)
	if s.Token == "" || s.Role != "user" || s.ID == "" {
		t.Fatalf("session = %+v", s)
	}

	rec = e.post(t, "/user/login", map[string]string{"email": "ada@example.com", "password": "hunter22"})
	rec.AssertStatus(t, http.StatusOK)

	// The same email may not log in as an institute.
	e.post(t, "/institute/login", map[string]string{"email": "ada@example.com", "password": "hunter22"}).
		AssertStatus(t, http.StatusUnauthorized)

	e.post(t, "/user/login", map[string]string{"email": "ada@example.com", "password": "wrong"}).
		AssertStatus(t, http.StatusUnauthorized)
}

func TestSignup_Institute(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.post(t, "/institute/signup", map[string]string{
		"name": "Northwind", "adminName": "Grace", "adminEmail": "grace@northwind.edu", "password": "hunter22",
	})
	rec.AssertStatus(t, http.StatusCreated)
	var s session
	rec.DecodeJSON(t, &s)

	req := testutil.NewRequest("GET", "/me")
	req.Header.Set(auth.TokenHeader, s.Token)
	me := testutil.NewRecorder()
	e.router.ServeHTTP(me, req)
	me.AssertStatus(t, http.StatusOK)
	me.AssertContains(t, `"adminEmail":"grace@northwind.edu"`)
	me.AssertContains(t, `"role":"institute"`)
}

func TestSignup_Validation(t *testing.T) {
	e := newEnv(t, nil)

	cases := []struct {
		name   string
		target string
		body   map[string]string
		want   int
	}{
		{"bad email", "/user/signup", map[string]string{"name": "Ada", "email": "nope", "password": "hunter22"}, http.StatusBadRequest},
		{"short password", "/user/signup", map[string]string{"name": "Ada", "email": "ada@example.com", "password": "x"}, http.StatusBadRequest},
		{"missing name", "/user/signup", map[string]string{"email": "ada@example.com", "password": "hunter22"}, http.StatusBadRequest},
		{"missing admin", "/institute/signup", map[string]string{"name": "N", "adminEmail": "a@n.edu", "password": "hunter22"}, http.StatusBadRequest},
		{"unknown role", "/admin/signup", map[string]string{"name": "Ada", "email": "ada@example.com", "password": "hunter22"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e.post(t, tc.target, tc.body).AssertStatus(t, tc.want)
		})
	}
}

func TestSignup_Duplicate(t *testing.T) {
	e := newEnv(t, nil)
	body := map[string]string{"name": "Ada", "email": "ada@example.com", "password": "hunter22"}

	e.post(t, "/user/signup", body).AssertStatus(t, http.StatusCreated)
	rec := e.post(t, "/user/signup", body)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "User already exists")
}

func TestLogin_AuditTrail(t *testing.T) {
	e := newEnv(t, nil)
	e.post(t, "/user/signup", map[string]string{"name": "Ada", "email": "ada@example.com", "password": "hunter22"})
	e.post(t, "/user/login", map[string]string{"email": "ada@example.com", "password": "wrong"})

	var keys []string
	for _, m := range e.events.Messages() {
		keys = append(keys, m.RoutingKey)
	}
	want := []string{
		models.AuditCategoryAuth + "." + models.AuditSignup,
		models.AuditCategoryAuth + "." + models.AuditLoginFailure,
	}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("routing keys = %v, want %v", keys, want)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	e := newEnv(t, ratelimit.NewLoginLimiter(ratelimit.New(100, time.Minute), ratelimit.New(2, time.Minute), zap.NewNop()))
	body := map[string]string{"email": "ada@example.com", "password": "wrong"}

	e.post(t, "/user/login", body).AssertStatus(t, http.StatusUnauthorized)
	e.post(t, "/user/login", body).AssertStatus(t, http.StatusUnauthorized)
	e.post(t, "/user/login", body).AssertStatus(t, http.StatusTooManyRequests)
}

func TestMe_RequiresToken(t *testing.T) {
	e := newEnv(t, nil)

	rec := testutil.NewRecorder()
	e.router.ServeHTTP(rec, testutil.NewRequest("GET", "/me"))
	rec.AssertStatus(t, http.StatusUnauthorized)
	rec.AssertContains(t, "No token, authorization denied")
}
