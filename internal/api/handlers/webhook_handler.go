package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"pulse/internal/engine/guard"
	"pulse/internal/engine/publish"
	"pulse/internal/pkg/errors"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives completion callbacks from the external workflow
// engine. Every request passes the guard before the orchestrator sees it.
type WebhookHandler struct {
	guard *guard.Service
	orch  *publish.Orchestrator
}

func NewWebhookHandler(g *guard.Service, orch *publish.Orchestrator) *WebhookHandler {
	return &WebhookHandler{guard: g, orch: orch}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ps := params(r)
	workflowType := ps.ByName("workflow_type")
	webhookID := ps.ByName("webhook_id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to read request body", nil)
		return
	}

	res := h.guard.Validate(webhookID, clientIP(r), body, r.Header)
	if !res.OK {
		switch res.Reason {
		case guard.ReasonRateLimited:
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			w.Header().Set("Retry-After", strconv.FormatInt(res.ResetAt.Unix()-nowUnix(), 10))
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
		case guard.ReasonOriginForbidden:
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Origin not allowed", nil)
		default:
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Signature validation failed", map[string]string{"reason": res.Reason})
		}
		return
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

	var payload publish.CompletionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid JSON payload", nil)
		return
	}
	if payload.ExecutionID == "" || payload.Status == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "executionId and status are required", nil)
		return
	}
	if payload.WorkflowType == "" {
		payload.WorkflowType = workflowType
	}

	result, err := h.orch.HandleWorkflowCompletion(r.Context(), &payload)
	if err != nil {
		switch err {
		case publish.ErrNotFound:
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Execution or asset not found", nil)
		case publish.ErrExecutionFinished:
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Workflow execution already finished", nil)
		case publish.ErrInvalidStatus:
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown workflow status", nil)
		default:
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to process completion", nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"executionId": result.ExecutionID,
		"processed":   result.Processed,
		"result":      result,
	})
}
