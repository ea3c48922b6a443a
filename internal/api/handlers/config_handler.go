package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"pulse/internal/engine/guard"
	"pulse/internal/pkg/errors"
	"pulse/internal/platform/config"
	"pulse/internal/platform/models"
	"pulse/internal/platform/repositories"
)

// ConfigHandler provisions and revokes inbound webhook channels. The
// plaintext secret appears exactly once, in the provisioning response.
type ConfigHandler struct {
	repo     *repositories.WebhookConfigRepository
	defaults config.GuardConfig
}

func NewConfigHandler(repo *repositories.WebhookConfigRepository, defaults config.GuardConfig) *ConfigHandler {
	return &ConfigHandler{repo: repo, defaults: defaults}
}

func (h *ConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowType    string   `json:"workflow_type"`
		AllowedOrigins  []string `json:"allowed_origins"`
		RateLimitMax    int      `json:"rate_limit_max"`
		RateLimitWindow int      `json:"rate_limit_window"`
		ExpiresAt       *int64   `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkflowType == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "workflow_type is required", nil)
		return
	}

	secret, err := guard.GenerateSecret()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate secret", nil)
		return
	}
	keyHex, saltHex, err := guard.HashSecret(secret)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to derive key", nil)
		return
	}

	cfg := &models.WebhookConfig{
		WorkflowType:    req.WorkflowType,
		SecretHash:      keyHex,
		SecretSalt:      saltHex,
		AllowedOrigins:  req.AllowedOrigins,
		RateLimitMax:    req.RateLimitMax,
		RateLimitWindow: req.RateLimitWindow,
		ExpiresAt:       req.ExpiresAt,
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = h.defaults.DefaultRateLimitMax
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = int(h.defaults.DefaultRateLimitWindow / time.Second)
	}

	if err := h.repo.Create(cfg); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create webhook config", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"config": cfg,
		// the peer derives the shared HMAC key from these two values
		"secret":      secret,
		"secret_salt": cfg.SecretSalt,
	})
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.repo.GetByID(params(r).ByName("config_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load webhook config", nil)
		return
	}
	if cfg == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook config not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

func (h *ConfigHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	err := h.repo.Revoke(params(r).ByName("config_id"))
	if err == sql.ErrNoRows {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook config not found", nil)
		return
	}
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to revoke webhook config", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}
