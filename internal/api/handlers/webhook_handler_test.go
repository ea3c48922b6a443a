package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	_ "github.com/mattn/go-sqlite3"

	apiContext "pulse/internal/api/context"
	"pulse/internal/engine/guard"
	"pulse/internal/engine/publish"
	"pulse/internal/platform/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	query := `
	CREATE TABLE assets (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		caption TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		created_by TEXT NOT NULL DEFAULT '',
		scheduled_at INTEGER,
		published_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE social_accounts (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		handle TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE destinations (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		platform_post_id TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		next_retry_at INTEGER,
		scheduled_at INTEGER,
		published_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE workflow_executions (
		id TEXT PRIMARY KEY,
		workflow_type TEXT NOT NULL DEFAULT '',
		asset_id TEXT NOT NULL,
		status TEXT NOT NULL,
		input TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		duration_ms INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}
	return db
}

type discardSink struct{}

func (discardSink) Emit(ev *models.SystemEvent) string { return "" }

type fakeConfigStore struct {
	configs map[string]*models.WebhookConfig
}

func (s *fakeConfigStore) GetByID(id string) (*models.WebhookConfig, error) {
	return s.configs[id], nil
}

type webhookEnv struct {
	repo   *publish.Repository
	key    []byte
	router *httprouter.Router
}

func newWebhookEnv(t *testing.T, rateLimitMax int) *webhookEnv {
	t.Helper()

	key := guard.DeriveKey("test-secret", []byte("0123456789abcdef"))
	store := &fakeConfigStore{configs: map[string]*models.WebhookConfig{
		"whc_1": {
			ID:              "whc_1",
			WorkflowType:    "publish",
			SecretHash:      hex.EncodeToString(key),
			Active:          true,
			RateLimitMax:    rateLimitMax,
			RateLimitWindow: 60,
		},
	}}

	repo := publish.NewRepository(setupTestDB(t))
	orch := publish.NewOrchestrator(repo, publish.NewRegistry(), discardSink{}, publish.Options{})
	guardSvc := guard.NewService(store, guard.NewLimiter(nil), discardSink{}, nil)
	h := NewWebhookHandler(guardSvc, orch)

	router := httprouter.New()
	router.POST("/api/v1/hooks/:workflow_type/:webhook_id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		h.Handle(w, r.WithContext(ctx))
	})
	return &webhookEnv{repo: repo, key: key, router: router}
}

func (e *webhookEnv) seed(t *testing.T) {
	t.Helper()
	if err := e.repo.CreateAsset(&models.Asset{ID: "ast_1", Title: "Teaser", Status: models.AssetStatusQueued}); err != nil {
		t.Fatal(err)
	}
	if err := e.repo.CreateDestination(&models.Destination{
		ID: "dst_1", AssetID: "ast_1", AccountID: "acc_1", Platform: "instagram",
		Status: models.DestinationStatusQueued, MaxAttempts: 3,
	}); err != nil {
		t.Fatal(err)
	}
}

func (e *webhookEnv) post(t *testing.T, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hooks/publish/whc_1", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.5:4000"
	req.Header.Set("Content-Type", "application/json")
	if sign {
		guard.NewSigner(e.key).SignRequest(req.Header, body)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func completionBody(t *testing.T, reports ...publish.DestinationReport) []byte {
	t.Helper()
	body, err := json.Marshal(publish.CompletionPayload{
		ExecutionID:  "wfx_1",
		Status:       models.ExecutionStatusCompleted,
		AssetID:      "ast_1",
		Destinations: reports,
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestWebhookHandlerAcceptsSignedCompletion(t *testing.T) {
	env := newWebhookEnv(t, 60)
	env.seed(t)

	body := completionBody(t, publish.DestinationReport{
		DestinationID: "dst_1", Status: models.DestinationStatusPublished, PlatformPostID: "ig_7",
	})
	rec := env.post(t, body, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("missing X-RateLimit-Remaining header")
	}

	var resp struct {
		Success     bool   `json:"success"`
		ExecutionID string `json:"executionId"`
		Processed   int    `json:"processed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.ExecutionID != "wfx_1" || resp.Processed != 1 {
		t.Errorf("response = %+v", resp)
	}

	dest, _ := env.repo.GetDestination("dst_1")
	if dest.Status != models.DestinationStatusPublished {
		t.Errorf("destination status = %s, want published", dest.Status)
	}
	asset, _ := env.repo.GetAsset("ast_1")
	if asset.Status != models.AssetStatusPublished {
		t.Errorf("asset status = %s, want published", asset.Status)
	}
}

func TestWebhookHandlerRejectsUnsignedRequest(t *testing.T) {
	env := newWebhookEnv(t, 60)
	env.seed(t)

	rec := env.post(t, completionBody(t), false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookHandlerRejectsTamperedBody(t *testing.T) {
	env := newWebhookEnv(t, 60)
	env.seed(t)

	body := completionBody(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hooks/publish/whc_1", bytes.NewReader(append(body, ' ')))
	req.RemoteAddr = "203.0.113.5:4000"
	guard.NewSigner(env.key).SignRequest(req.Header, body)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookHandlerRateLimits(t *testing.T) {
	env := newWebhookEnv(t, 1)
	env.seed(t)

	body := completionBody(t, publish.DestinationReport{
		DestinationID: "dst_1", Status: models.DestinationStatusPublished, PlatformPostID: "ig_7",
	})
	if rec := env.post(t, body, true); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}

	rec := env.post(t, body, true)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestWebhookHandlerUnknownChannel(t *testing.T) {
	env := newWebhookEnv(t, 60)

	body := completionBody(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hooks/publish/whc_missing", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.5:4000"
	guard.NewSigner(env.key).SignRequest(req.Header, body)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookHandlerRequiresExecutionFields(t *testing.T) {
	env := newWebhookEnv(t, 60)
	env.seed(t)

	body := []byte(`{"assetId":"ast_1"}`)
	rec := env.post(t, body, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookHandlerRejectsFinishedExecution(t *testing.T) {
	env := newWebhookEnv(t, 60)
	env.seed(t)

	body := completionBody(t)
	if rec := env.post(t, body, true); rec.Code != http.StatusOK {
		t.Fatalf("first completion: status = %d", rec.Code)
	}

	rec := env.post(t, body, true)
	if rec.Code != http.StatusConflict {
		t.Errorf("replayed completion: status = %d, want 409", rec.Code)
	}
}

func TestWebhookHandlerUnknownAsset(t *testing.T) {
	env := newWebhookEnv(t, 60)

	rec := env.post(t, completionBody(t), true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// A request carrying only the timestamped signature form still validates.
func TestWebhookHandlerTimestampedSignatureOnly(t *testing.T) {
	env := newWebhookEnv(t, 60)
	env.seed(t)

	body := completionBody(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hooks/publish/whc_1", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.5:4000"

	hdr := http.Header{}
	guard.NewSigner(env.key).SignRequest(hdr, body)
	req.Header.Set(guard.HeaderSignature, hdr.Get(guard.HeaderSignature))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("fresh timestamped signature: status = %d", rec.Code)
	}
}
