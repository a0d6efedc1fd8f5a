package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/institutehub/internal/app/store/memstore"
	"github.com/dalemusser/institutehub/internal/app/system/blobstore"
	"github.com/dalemusser/institutehub/internal/app/system/events"
	"github.com/dalemusser/institutehub/internal/app/system/metrics"
	"github.com/dalemusser/institutehub/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func validConfig() AppConfig {
	return AppConfig{
		StoreType:            "memory",
		MongoURI:             "mongodb://localhost:27017",
		MongoDatabase:        "institute_hub",
		JWTSecret:            "0123456789abcdef0123456789abcdef-test",
		JWTIssuer:            "institutehub",
		TokenTTL:             time.Hour,
		WatermarkSecret:      "wm",
		BlobType:             "memory",
		UploadMaxBytes:       1 << 20,
		LoginRateLimit:       100,
		LoginRateWindow:      time.Minute,
		APIRateLimit:         100,
		APIRateWindow:        time.Minute,
		AuditLogAuth:         "all",
		AuditLogMembership:   "all",
		AuditLogDistribution: "log",
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name    string
		env     string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{"valid memory", "dev", func(*AppConfig) {}, false},
		{"valid mongo", "prod", func(c *AppConfig) { c.StoreType = "mongo" }, false},
		{"unknown store", "dev", func(c *AppConfig) { c.StoreType = "sqlite" }, true},
		{"memory in prod", "prod", func(*AppConfig) {}, true},
		{"minio without bucket", "dev", func(c *AppConfig) { c.BlobType = "minio"; c.MinioEndpoint = "localhost:9000" }, true},
		{"unknown blob", "dev", func(c *AppConfig) { c.BlobType = "disk" }, true},
		{"default secret in prod", "prod", func(c *AppConfig) { c.StoreType = "mongo"; c.JWTSecret = devJWTSecret }, true},
		{"short secret in prod", "prod", func(c *AppConfig) { c.StoreType = "mongo"; c.JWTSecret = "short" }, true},
		{"short secret in dev", "dev", func(c *AppConfig) { c.JWTSecret = "short" }, false},
		{"zero upload limit", "dev", func(c *AppConfig) { c.UploadMaxBytes = 0 }, true},
		{"bad audit setting", "dev", func(c *AppConfig) { c.AuditLogMembership = "sometimes" }, true},
		{"zero rate limit", "dev", func(c *AppConfig) { c.LoginRateLimit = 0 }, true},
		{"negative timeout", "dev", func(c *AppConfig) { c.Timeouts.Long = -time.Second }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := ValidateConfig(&config.CoreConfig{Env: tc.env}, cfg, testLogger())
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestStartupConfiguresTimeouts(t *testing.T) {
	t.Cleanup(timeouts.Reset)

	cfg := validConfig()
	cfg.Timeouts = timeouts.Config{Short: 7 * time.Second}
	if err := Startup(context.Background(), &config.CoreConfig{Env: "dev"}, cfg, DBDeps{}, testLogger()); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	got := timeouts.Current()
	if got.Short != 7*time.Second {
		t.Errorf("Short = %v, want 7s", got.Short)
	}
	if got.Long != timeouts.DefaultLong {
		t.Errorf("Long = %v, want default %v", got.Long, timeouts.DefaultLong)
	}
}

type client struct {
	t      *testing.T
	server *httptest.Server
}

func newClient(t *testing.T) *client {
	t.Helper()
	deps := DBDeps{
		Store:   memstore.New(),
		Blobs:   blobstore.NewMemory(),
		Events:  events.Nop{},
		Metrics: metrics.New(),
	}
	h, err := BuildHandler(&config.CoreConfig{Env: "dev"}, validConfig(), deps, testLogger())
	if err != nil {
		t.Fatalf("BuildHandler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &client{t: t, server: srv}
}

func (c *client) do(method, path, token string, body any) (*http.Response, []byte) {
	c.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.server.URL+path, rd)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, token)
}

func (c *client) send(req *http.Request, token string) (*http.Response, []byte) {
	c.t.Helper()
	if token != "" {
		req.Header.Set("x-auth-token", token)
	}
	resp, err := c.server.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (c *client) expect(want int, method, path, token string, body any) []byte {
	c.t.Helper()
	resp, b := c.do(method, path, token, body)
	if resp.StatusCode != want {
		c.t.Fatalf("%s %s: status %d, want %d (body %s)", method, path, resp.StatusCode, want, b)
	}
	return b
}

func (c *client) signup(role string, body map[string]string) (token, id string) {
	c.t.Helper()
	var s struct {
		Token string `json:"token"`
		ID    string `json:"id"`
	}
	if err := json.Unmarshal(c.expect(http.StatusCreated, "POST", "/auth/"+role+"/signup", "", body), &s); err != nil {
		c.t.Fatalf("decode session: %v", err)
	}
	return s.Token, s.ID
}

func (c *client) upload(token, groupID string) string {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("document", "syllabus.pdf")
	if err != nil {
		c.t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write([]byte("%PDF-1.4 syllabus"))
	_ = mw.WriteField("recipients", `["`+groupID+`"]`)
	_ = mw.WriteField("expiryDays", "7")
	_ = mw.WriteField("viewOnce", "true")
	_ = mw.Close()

	req, err := http.NewRequest("POST", c.server.URL+"/documents/upload", &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, b := c.send(req, token)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("upload: status %d (body %s)", resp.StatusCode, b)
	}
	var out struct {
		Document struct {
			ID             string `json:"_id"`
			RecipientCount int    `json:"recipientCount"`
		} `json:"document"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		c.t.Fatalf("decode upload: %v", err)
	}
	if out.Document.RecipientCount != 1 {
		c.t.Fatalf("recipientCount = %d, want 1", out.Document.RecipientCount)
	}
	return out.Document.ID
}

func TestBuildHandler_JoinApproveDistributeOpen(t *testing.T) {
	c := newClient(t)

	instTok, instID := c.signup("institute", map[string]string{
		"name": "Northwind", "adminName": "Grace", "adminEmail": "grace@northwind.edu", "password": "hunter22",
	})
	userTok, userID := c.signup("user", map[string]string{
		"name": "Ada", "email": "ada@example.com", "password": "hunter22",
	})

	c.expect(http.StatusOK, "POST", "/dashboard/user/join/"+instID, userTok, nil)
	c.expect(http.StatusBadRequest, "POST", "/dashboard/user/join/"+instID, userTok, nil)

	var pending []struct {
		UserID struct {
			ID string `json:"_id"`
		} `json:"userId"`
	}
	_ = json.Unmarshal(c.expect(http.StatusOK, "GET", "/dashboard/institute/pending", instTok, nil), &pending)
	if len(pending) != 1 || pending[0].UserID.ID != userID {
		t.Fatalf("pending = %+v", pending)
	}

	c.expect(http.StatusOK, "PUT", "/dashboard/institute/approve/"+userID, instTok, map[string]string{"newGroupName": "Cohort-A"})

	var gs []struct {
		ID      string `json:"_id"`
		Name    string `json:"name"`
		Members []struct {
			ID string `json:"_id"`
		} `json:"members"`
	}
	_ = json.Unmarshal(c.expect(http.StatusOK, "GET", "/dashboard/institute/groups", instTok, nil), &gs)
	if len(gs) != 1 || gs[0].Name != "Cohort-A" || len(gs[0].Members) != 1 {
		t.Fatalf("groups = %+v", gs)
	}

	body := c.expect(http.StatusOK, "GET", "/dashboard/user/institutes", userTok, nil)
	if !strings.Contains(string(body), "grace@northwind.edu") {
		t.Errorf("institutes = %s", body)
	}

	docID := c.upload(instTok, gs[0].ID)

	body = c.expect(http.StatusOK, "GET", "/documents", userTok, nil)
	if !strings.Contains(string(body), docID) {
		t.Errorf("documents = %s", body)
	}

	body = c.expect(http.StatusOK, "GET", "/documents/"+docID, userTok, nil)
	if string(body) != "%PDF-1.4 syllabus" {
		t.Errorf("content = %q", body)
	}
	body = c.expect(http.StatusGone, "GET", "/documents/"+docID, userTok, nil)
	if !strings.Contains(string(body), "already_consumed") {
		t.Errorf("second open = %s", body)
	}

	// Roles are enforced on every dashboard.
	c.expect(http.StatusForbidden, "GET", "/dashboard/institute/pending", userTok, nil)
	c.expect(http.StatusForbidden, "GET", "/documents", instTok, nil)
	c.expect(http.StatusUnauthorized, "GET", "/dashboard/user/institutes", "", nil)
}

func TestBuildHandler_HealthMetricsAndNotFound(t *testing.T) {
	c := newClient(t)

	body := c.expect(http.StatusOK, "GET", "/health", "", nil)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("health = %s", body)
	}

	c.expect(http.StatusOK, "GET", "/health", "", nil)
	body = c.expect(http.StatusOK, "GET", "/metrics", "", nil)
	if !strings.Contains(string(body), "institutehub_http_request_duration_seconds") {
		t.Errorf("metrics missing request histogram")
	}

	body = c.expect(http.StatusNotFound, "GET", "/nowhere", "", nil)
	if !strings.Contains(string(body), `"kind":"not_found"`) {
		t.Errorf("404 body = %s", body)
	}
}
