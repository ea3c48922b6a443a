package handlers

import (
	"encoding/json"
	"net/http"

	"pulse/internal/engine/publish"
	"pulse/internal/pkg/errors"
	"pulse/internal/platform/models"
)

type AccountHandler struct {
	repo     *publish.Repository
	registry *publish.Registry
}

func NewAccountHandler(repo *publish.Repository, registry *publish.Registry) *AccountHandler {
	return &AccountHandler{repo: repo, registry: registry}
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platform    string `json:"platform"`
		Handle      string `json:"handle"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Platform == "" || req.Handle == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "platform and handle are required", nil)
		return
	}

	known := false
	for _, p := range publish.Platforms {
		if p == req.Platform {
			known = true
			break
		}
	}
	if !known {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeUnsupportedPlatform, "Unknown platform", map[string]interface{}{"platforms": publish.Platforms})
		return
	}

	account := &models.SocialAccount{
		Platform:    req.Platform,
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		Active:      true,
	}

	// Validate against the platform API when an adapter is wired; platforms
	// without one can still be registered and will fail at publish time.
	if adapter, err := h.registry.Get(req.Platform); err == nil {
		if err := adapter.ValidateAccount(r.Context(), account); err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Account validation failed: "+err.Error(), nil)
			return
		}
	}

	if err := h.repo.CreateAccount(account); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create account", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}
