package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"pulse/internal/engine/guard"
	"pulse/internal/engine/publish"
	"pulse/internal/pkg/errors"
	"pulse/internal/platform/models"
)

// PublishHandler triggers publishing for an asset, either directly through
// the platform adapters or delegated to the external workflow engine.
type PublishHandler struct {
	repo      *publish.Repository
	orch      *publish.Orchestrator
	engineURL string
	signer    *guard.Signer
	client    *http.Client
}

func NewPublishHandler(repo *publish.Repository, orch *publish.Orchestrator, engineURL string, signer *guard.Signer) *PublishHandler {
	return &PublishHandler{
		repo:      repo,
		orch:      orch,
		engineURL: engineURL,
		signer:    signer,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	assetID := params(r).ByName("asset_id")

	var req struct {
		Destinations   []string `json:"destinations"`
		ScheduledTime  string   `json:"scheduledTime"`
		StaggerMinutes int      `json:"staggerMinutes"`
		Priority       string   `json:"priority"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}
	}

	asset, err := h.repo.GetAsset(assetID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load asset", nil)
		return
	}
	if asset == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Asset not found", nil)
		return
	}

	destIDs := req.Destinations
	if len(destIDs) == 0 {
		dests, err := h.repo.ListDestinationsByAsset(assetID)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load destinations", nil)
			return
		}
		for _, d := range dests {
			switch d.Status {
			case models.DestinationStatusReady, models.DestinationStatusQueued:
				destIDs = append(destIDs, d.ID)
			}
		}
	}
	if len(destIDs) == 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Asset has no publishable destinations", nil)
		return
	}

	base := time.Now()
	if req.ScheduledTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.ScheduledTime)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "scheduledTime must be RFC3339", nil)
			return
		}
		base = parsed
	}

	if h.engineURL != "" {
		h.delegate(w, r, asset, destIDs, base, req.StaggerMinutes, req.Priority)
		return
	}

	results := h.orch.PublishBatch(r.Context(), destIDs, base, req.StaggerMinutes)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"mode":    "direct",
		"results": results,
	})
}

// delegate hands the publish run to the external workflow engine with a
// signed request; completion comes back later through the inbound webhook.
func (h *PublishHandler) delegate(w http.ResponseWriter, r *http.Request, asset *models.Asset, destIDs []string, base time.Time, staggerMinutes int, priority string) {
	executionID := "wfx_" + uuid.New().String()

	payload := map[string]interface{}{
		"executionId":    executionID,
		"workflowType":   "publish",
		"assetId":        asset.ID,
		"destinations":   destIDs,
		"scheduledTime":  base.UTC().Format(time.RFC3339),
		"staggerMinutes": staggerMinutes,
	}
	if priority != "" {
		payload["priority"] = priority
	}

	body, err := json.Marshal(payload)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to encode request", nil)
		return
	}

	input := string(body)
	httpReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.engineURL, bytes.NewReader(body))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to build engine request", nil)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.signer != nil {
		h.signer.SignRequest(httpReq.Header, body)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeInternal, "Workflow engine unreachable", nil)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeInternal, fmt.Sprintf("Workflow engine returned HTTP %d", resp.StatusCode), nil)
		return
	}

	exec := &models.WorkflowExecution{
		ID:           executionID,
		WorkflowType: "publish",
		AssetID:      asset.ID,
		Status:       models.ExecutionStatusStarted,
		Input:        input,
	}
	if err := h.repo.CreateExecution(exec); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to record execution", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"mode":        "delegated",
		"executionId": executionID,
	})
}

// Retry re-queues one failed destination.
func (h *PublishHandler) Retry(w http.ResponseWriter, r *http.Request) {
	destinationID := params(r).ByName("destination_id")

	err := h.orch.RetryDestination(destinationID)
	switch err {
	case nil:
	case publish.ErrNotFound:
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Destination not found", nil)
		return
	case publish.ErrConflict:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Destination is not in a failed state", nil)
		return
	case publish.ErrMaxAttempts:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Max publish attempts reached", nil)
		return
	default:
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to retry destination", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}
