package handlers

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pulse/internal/engine/guard"
	"pulse/internal/platform/config"
	"pulse/internal/platform/models"
	"pulse/internal/platform/repositories"
)

func setupConfigDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	query := `
	CREATE TABLE webhook_configs (
		id TEXT PRIMARY KEY,
		workflow_type TEXT NOT NULL,
		secret_hash TEXT NOT NULL,
		secret_salt TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		allowed_origins TEXT NOT NULL DEFAULT '[]',
		rate_limit_max INTEGER NOT NULL,
		rate_limit_window INTEGER NOT NULL,
		expires_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return db
}

func newConfigEnv(t *testing.T) (*repositories.WebhookConfigRepository, *ConfigHandler) {
	t.Helper()
	repo := repositories.NewWebhookConfigRepository(setupConfigDB(t))
	defaults := config.GuardConfig{DefaultRateLimitMax: 60, DefaultRateLimitWindow: time.Minute}
	return repo, NewConfigHandler(repo, defaults)
}

func TestConfigCreateReturnsSecretOnce(t *testing.T) {
	repo, h := newConfigEnv(t)
	createRouter := route(http.MethodPost, "/api/v1/webhook-configs", h.Create)

	body := strings.NewReader(`{"workflow_type":"publish","allowed_origins":["https://engine.example.com"]}`)
	rec := httptest.NewRecorder()
	createRouter.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhook-configs", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Config     *models.WebhookConfig `json:"config"`
		Secret     string                `json:"secret"`
		SecretSalt string                `json:"secret_salt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.Secret, "whsec_") {
		t.Errorf("secret = %s", resp.Secret)
	}
	if resp.Config.RateLimitMax != 60 || resp.Config.RateLimitWindow != 60 {
		t.Errorf("defaults not applied: %+v", resp.Config)
	}

	// the returned secret and salt derive the stored key
	salt, err := hex.DecodeString(resp.SecretSalt)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := repo.GetByID(resp.Config.ID)
	if err != nil || stored == nil {
		t.Fatalf("stored config: %v %v", stored, err)
	}
	if hex.EncodeToString(guard.DeriveKey(resp.Secret, salt)) != stored.SecretHash {
		t.Error("derived key does not match stored key")
	}

	// the secret never appears on later reads
	getRouter := route(http.MethodGet, "/api/v1/webhook-configs/:config_id", h.Get)
	rec = httptest.NewRecorder()
	getRouter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/webhook-configs/"+resp.Config.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), stored.SecretHash) || strings.Contains(rec.Body.String(), resp.Secret) {
		t.Error("secret material leaked in read response")
	}
}

func TestConfigRevoke(t *testing.T) {
	repo, h := newConfigEnv(t)
	router := route(http.MethodPost, "/api/v1/webhook-configs/:config_id/revoke", h.Revoke)

	cfg := &models.WebhookConfig{WorkflowType: "publish", SecretHash: "ab", SecretSalt: "cd", RateLimitMax: 10, RateLimitWindow: 60}
	if err := repo.Create(cfg); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhook-configs/"+cfg.ID+"/revoke", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	stored, _ := repo.GetByID(cfg.ID)
	if stored.Active {
		t.Error("config still active after revoke")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhook-configs/whc_missing/revoke", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing config: status = %d, want 404", rec.Code)
	}
}

func TestConfigCreateRequiresWorkflowType(t *testing.T) {
	_, h := newConfigEnv(t)
	router := route(http.MethodPost, "/api/v1/webhook-configs", h.Create)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhook-configs", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
