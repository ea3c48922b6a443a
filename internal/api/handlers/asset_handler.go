package handlers

import (
	"encoding/json"
	"net/http"

	"pulse/internal/api/middleware"
	"pulse/internal/engine/publish"
	"pulse/internal/pkg/errors"
	"pulse/internal/platform/models"
)

type AssetHandler struct {
	repo *publish.Repository
	orch *publish.Orchestrator
}

func NewAssetHandler(repo *publish.Repository, orch *publish.Orchestrator) *AssetHandler {
	return &AssetHandler{repo: repo, orch: orch}
}

func (h *AssetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string `json:"title"`
		Caption  string `json:"caption"`
		MediaURL string `json:"media_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Title == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "title is required", nil)
		return
	}

	asset := &models.Asset{
		Title:     req.Title,
		Caption:   req.Caption,
		MediaURL:  req.MediaURL,
		CreatedBy: middleware.ActorFrom(r),
	}
	if err := h.repo.CreateAsset(asset); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create asset", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(asset)
}

func (h *AssetHandler) Get(w http.ResponseWriter, r *http.Request) {
	assetID := params(r).ByName("asset_id")

	asset, err := h.repo.GetAsset(assetID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load asset", nil)
		return
	}
	if asset == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Asset not found", nil)
		return
	}

	dests, err := h.repo.ListDestinationsByAsset(assetID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load destinations", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"asset":        asset,
		"destinations": dests,
	})
}

func (h *AssetHandler) AddDestination(w http.ResponseWriter, r *http.Request) {
	assetID := params(r).ByName("asset_id")

	var req struct {
		AccountID   string `json:"account_id"`
		MaxAttempts int    `json:"max_attempts"`
		ScheduledAt *int64 `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "account_id is required", nil)
		return
	}

	asset, err := h.repo.GetAsset(assetID)
	if err != nil || asset == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Asset not found", nil)
		return
	}

	account, err := h.repo.GetAccount(req.AccountID)
	if err != nil || account == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Account not found", nil)
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	dest := &models.Destination{
		AssetID:     assetID,
		AccountID:   account.ID,
		Platform:    account.Platform,
		Status:      models.DestinationStatusReady,
		MaxAttempts: maxAttempts,
		ScheduledAt: req.ScheduledAt,
	}
	if err := h.repo.CreateDestination(dest); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create destination", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(dest)
}

// UpdateStatus applies a manual status change and echoes the previous and
// new status.
func (h *AssetHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	assetID := params(r).ByName("asset_id")

	var req struct {
		Status         string                 `json:"status"`
		Message        string                 `json:"message"`
		PlatformPostID string                 `json:"platformPostId"`
		Error          string                 `json:"error"`
		Metadata       map[string]interface{} `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Status == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "status is required", nil)
		return
	}

	meta := map[string]interface{}{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.Message != "" {
		meta["message"] = req.Message
	}
	if req.Error != "" {
		meta["error"] = req.Error
	}
	if req.PlatformPostID != "" {
		meta["platform_post_id"] = req.PlatformPostID
	}
	if actor := middleware.ActorFrom(r); actor != "" {
		meta["actor"] = actor
	}

	prev, err := h.orch.UpdateAssetStatus(assetID, req.Status, meta)
	if err != nil {
		switch err {
		case publish.ErrNotFound:
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Asset not found", nil)
		case publish.ErrInvalidStatus:
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown asset status", nil)
		default:
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update status", nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"previousStatus": prev,
		"newStatus":      req.Status,
	})
}
