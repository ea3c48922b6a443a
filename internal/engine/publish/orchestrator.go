package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"pulse/internal/platform/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrExecutionFinished = errors.New("workflow execution already finished")
	ErrMaxAttempts       = errors.New("max publish attempts reached")
	ErrConflict          = errors.New("destination is not in a publishable state")
	ErrInvalidStatus     = errors.New("invalid status")
)

// EventSink receives the audit trail for every state transition.
type EventSink interface {
	Emit(ev *models.SystemEvent) string
}

type Options struct {
	MaxAttempts    int
	AdapterTimeout time.Duration
	InterItemDelay time.Duration
	RetryBackoff   time.Duration
	Now            func() time.Time
	Sleep          func(time.Duration)
}

// Orchestrator drives the per-destination publish state machine: it routes
// publish requests to platform adapters, applies webhook-reported workflow
// results, and emits an event for every transition.
type Orchestrator struct {
	repo     *Repository
	registry *Registry
	events   EventSink
	opts     Options
}

func NewOrchestrator(repo *Repository, registry *Registry, events EventSink, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 30 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Orchestrator{repo: repo, registry: registry, events: events, opts: opts}
}

// PublishResult is the outcome of one direct publish attempt.
type PublishResult struct {
	DestinationID  string `json:"destination_id"`
	Platform       string `json:"platform,omitempty"`
	OK             bool   `json:"ok"`
	PlatformPostID string `json:"platform_post_id,omitempty"`
	Error          string `json:"error,omitempty"`
	ScheduledAt    *int64 `json:"scheduled_at,omitempty"`
}

// PublishToDestination claims the destination, calls its platform adapter
// and records the outcome. The row moves to publishing before the adapter
// is invoked so a crash mid-call leaves queryable in-flight state.
func (o *Orchestrator) PublishToDestination(ctx context.Context, destinationID string) (*PublishResult, error) {
	dest, err := o.repo.GetDestination(destinationID)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		return nil, ErrNotFound
	}

	asset, err := o.repo.GetAsset(dest.AssetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, ErrNotFound
	}

	claimed, err := o.repo.MarkPublishing(dest.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrConflict
	}

	o.emit("destination", dest.ID, "publishing_started", models.SecurityLevelInfo, dest.AssetID, map[string]interface{}{
		"platform": dest.Platform,
		"attempt":  dest.Attempts + 1,
	})

	account, err := o.repo.GetAccount(dest.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return o.failDestination(dest, "target account not found"), nil
	}

	adapter, err := o.registry.Get(account.Platform)
	if err != nil {
		return o.failDestination(dest, err.Error()), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.AdapterTimeout)
	defer cancel()

	postID, err := adapter.PublishContent(callCtx, &PublishRequest{Asset: asset, Destination: dest, Account: account})
	if err != nil {
		return o.failDestination(dest, err.Error()), nil
	}

	if _, err := o.repo.MarkPublished(dest.ID, postID); err != nil {
		return nil, err
	}

	o.emit("destination", dest.ID, "publishing_succeeded", models.SecurityLevelInfo, dest.AssetID, map[string]interface{}{
		"platform":         account.Platform,
		"platform_post_id": postID,
	})

	return &PublishResult{DestinationID: dest.ID, Platform: account.Platform, OK: true, PlatformPostID: postID}, nil
}

func (o *Orchestrator) failDestination(dest *models.Destination, errMsg string) *PublishResult {
	nextRetry := o.opts.Now().Add(o.opts.RetryBackoff).Unix()
	if _, err := o.repo.MarkFailed(dest.ID, errMsg, nextRetry); err != nil {
		log.Error().Err(err).Str("destination_id", dest.ID).Msg("failed to record publish failure")
	}

	o.emit("destination", dest.ID, "publishing_failed", models.SecurityLevelError, dest.AssetID, map[string]interface{}{
		"platform": dest.Platform,
		"error":    errMsg,
		"attempt":  dest.Attempts + 1,
	})

	return &PublishResult{DestinationID: dest.ID, Platform: dest.Platform, OK: false, Error: errMsg}
}

// PublishBatch publishes destinations sequentially. The stagger offsets each
// item's effective scheduled time by i x staggerMinutes from the base to
// avoid bursts against rate-limited platform APIs; the inter-item delay just
// smooths load.
func (o *Orchestrator) PublishBatch(ctx context.Context, destinationIDs []string, base time.Time, staggerMinutes int) []*PublishResult {
	results := make([]*PublishResult, 0, len(destinationIDs))

	for i, id := range destinationIDs {
		scheduled := base.Add(time.Duration(i*staggerMinutes) * time.Minute).Unix()
		if err := o.repo.SetDestinationSchedule(id, scheduled); err != nil {
			log.Error().Err(err).Str("destination_id", id).Msg("failed to set destination schedule")
		}

		res, err := o.PublishToDestination(ctx, id)
		if err != nil {
			res = &PublishResult{DestinationID: id, OK: false, Error: err.Error()}
		}
		res.ScheduledAt = &scheduled
		results = append(results, res)

		if i < len(destinationIDs)-1 && o.opts.InterItemDelay > 0 {
			o.opts.Sleep(o.opts.InterItemDelay)
		}
	}
	return results
}

// CompletionPayload is the body the external workflow engine posts when a
// publish run progresses or finishes.
type CompletionPayload struct {
	ExecutionID  string                 `json:"executionId"`
	Status       string                 `json:"status"`
	AssetID      string                 `json:"assetId"`
	WorkflowType string                 `json:"workflowType,omitempty"`
	Destinations []DestinationReport    `json:"destinations,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// DestinationReport is one per-destination outcome inside a completion. A
// single workflow can report mixed outcomes across its destinations.
type DestinationReport struct {
	DestinationID  string `json:"destinationId"`
	Status         string `json:"status"`
	PlatformPostID string `json:"platformPostId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CompletionResult summarizes what one completion payload changed.
type CompletionResult struct {
	ExecutionID string           `json:"execution_id"`
	AssetStatus string           `json:"asset_status"`
	Processed   int              `json:"processed"`
	Results     []*PublishResult `json:"results,omitempty"`
}

// HandleWorkflowCompletion applies one reported workflow result: the
// execution record, each reported destination individually, and the asset's
// coarse aggregate. The aggregate rule is explicit: published if any
// destination published, failed only if every reported destination failed,
// otherwise the workflow-level mapping applies.
func (o *Orchestrator) HandleWorkflowCompletion(ctx context.Context, p *CompletionPayload) (*CompletionResult, error) {
	if _, ok := MapWorkflowStatus(p.Status); !ok {
		return nil, ErrInvalidStatus
	}

	exec, err := o.repo.GetExecution(p.ExecutionID)
	if err != nil {
		return nil, err
	}

	assetID := p.AssetID
	if assetID == "" && exec != nil {
		assetID = exec.AssetID
	}
	if assetID == "" {
		return nil, ErrNotFound
	}

	asset, err := o.repo.GetAsset(assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, ErrNotFound
	}

	now := o.opts.Now()
	if exec == nil {
		exec = &models.WorkflowExecution{
			ID:           p.ExecutionID,
			WorkflowType: p.WorkflowType,
			AssetID:      assetID,
			Status:       p.Status,
			StartedAt:    now.Unix(),
		}
		if err := o.applyExecutionResult(exec, p, now); err != nil {
			return nil, err
		}
		if err := o.repo.CreateExecution(exec); err != nil {
			return nil, err
		}
	} else {
		if models.IsTerminalExecutionStatus(exec.Status) {
			return nil, ErrExecutionFinished
		}
		exec.Status = p.Status
		if err := o.applyExecutionResult(exec, p, now); err != nil {
			return nil, err
		}
		if err := o.repo.UpdateExecution(exec); err != nil {
			return nil, err
		}
	}

	o.emit("workflow_execution", exec.ID, "workflow_"+p.Status, models.SecurityLevelInfo, assetID, map[string]interface{}{
		"workflow_type": exec.WorkflowType,
		"asset_id":      assetID,
	})

	results := make([]*PublishResult, 0, len(p.Destinations))
	published, failed := 0, 0
	for _, report := range p.Destinations {
		res := o.applyDestinationReport(assetID, report)
		if res == nil {
			continue
		}
		results = append(results, res)
		if res.OK {
			published++
		} else {
			failed++
		}
	}

	aggregate := o.aggregateAssetStatus(p.Status, len(results), published, failed)
	if aggregate != "" && aggregate != asset.Status {
		if err := o.repo.UpdateAssetStatus(assetID, aggregate); err != nil {
			return nil, err
		}
		o.emit("asset", assetID, "asset_status_changed", models.SecurityLevelInfo, assetID, map[string]interface{}{
			"previous_status": asset.Status,
			"new_status":      aggregate,
		})
	} else if aggregate == "" {
		aggregate = asset.Status
	}

	return &CompletionResult{
		ExecutionID: exec.ID,
		AssetStatus: aggregate,
		Processed:   len(results),
		Results:     results,
	}, nil
}

func (o *Orchestrator) applyExecutionResult(exec *models.WorkflowExecution, p *CompletionPayload, now time.Time) error {
	exec.Error = p.Error
	if p.Metadata != nil {
		out, err := json.Marshal(p.Metadata)
		if err != nil {
			return err
		}
		exec.Output = string(out)
	}
	if models.IsTerminalExecutionStatus(p.Status) {
		completed := now.Unix()
		exec.CompletedAt = &completed
		duration := (completed - exec.StartedAt) * 1000
		exec.DurationMs = &duration
	}
	return nil
}

// applyDestinationReport maps one reported outcome onto a destination. Rows
// always pass through publishing on the way to published or failed.
func (o *Orchestrator) applyDestinationReport(assetID string, report DestinationReport) *PublishResult {
	dest, err := o.repo.GetDestination(report.DestinationID)
	if err != nil {
		log.Error().Err(err).Str("destination_id", report.DestinationID).Msg("destination lookup failed")
		return nil
	}
	if dest == nil || dest.AssetID != assetID {
		log.Warn().Str("destination_id", report.DestinationID).Str("asset_id", assetID).Msg("completion reported unknown destination")
		return nil
	}

	switch report.Status {
	case models.DestinationStatusPublished:
		if dest.Status == models.DestinationStatusPublished {
			// duplicate report, idempotent
			return &PublishResult{DestinationID: dest.ID, Platform: dest.Platform, OK: true, PlatformPostID: dest.PlatformPostID}
		}
		if dest.Status != models.DestinationStatusPublishing {
			if ok, err := o.repo.MarkPublishing(dest.ID); err != nil || !ok {
				log.Warn().Str("destination_id", dest.ID).Str("status", dest.Status).Msg("cannot move reported destination to publishing")
				return nil
			}
		}
		if _, err := o.repo.MarkPublished(dest.ID, report.PlatformPostID); err != nil {
			log.Error().Err(err).Str("destination_id", dest.ID).Msg("failed to mark destination published")
			return nil
		}
		o.emit("destination", dest.ID, "publishing_succeeded", models.SecurityLevelInfo, assetID, map[string]interface{}{
			"platform":         dest.Platform,
			"platform_post_id": report.PlatformPostID,
		})
		return &PublishResult{DestinationID: dest.ID, Platform: dest.Platform, OK: true, PlatformPostID: report.PlatformPostID}

	case models.DestinationStatusFailed:
		if dest.Status == models.DestinationStatusFailed {
			return &PublishResult{DestinationID: dest.ID, Platform: dest.Platform, OK: false, Error: dest.ErrorMessage}
		}
		if dest.Status != models.DestinationStatusPublishing {
			if ok, err := o.repo.MarkPublishing(dest.ID); err != nil || !ok {
				log.Warn().Str("destination_id", dest.ID).Str("status", dest.Status).Msg("cannot move reported destination to publishing")
				return nil
			}
		}
		nextRetry := o.opts.Now().Add(o.opts.RetryBackoff).Unix()
		if _, err := o.repo.MarkFailed(dest.ID, report.Error, nextRetry); err != nil {
			log.Error().Err(err).Str("destination_id", dest.ID).Msg("failed to mark destination failed")
			return nil
		}
		o.emit("destination", dest.ID, "publishing_failed", models.SecurityLevelError, assetID, map[string]interface{}{
			"platform": dest.Platform,
			"error":    report.Error,
		})
		return &PublishResult{DestinationID: dest.ID, Platform: dest.Platform, OK: false, Error: report.Error}

	case models.DestinationStatusPublishing:
		if dest.Status != models.DestinationStatusPublishing {
			o.repo.MarkPublishing(dest.ID)
		}
		return nil

	case models.DestinationStatusCancelled:
		if ok, _ := o.repo.CancelDestination(dest.ID); ok {
			o.emit("destination", dest.ID, "publishing_cancelled", models.SecurityLevelInfo, assetID, map[string]interface{}{
				"platform": dest.Platform,
			})
		}
		return nil
	}

	log.Warn().Str("destination_id", dest.ID).Str("status", report.Status).Msg("completion reported unknown destination status")
	return nil
}

func (o *Orchestrator) aggregateAssetStatus(workflowStatus string, reported, published, failed int) string {
	if published > 0 {
		return models.AssetStatusPublished
	}
	if reported > 0 && failed == reported {
		return models.AssetStatusFailed
	}
	mapped, _ := MapWorkflowStatus(workflowStatus)
	return mapped
}

// RetryDestination re-queues a failed destination, refusing once the attempt
// ceiling is reached.
func (o *Orchestrator) RetryDestination(destinationID string) error {
	dest, err := o.repo.GetDestination(destinationID)
	if err != nil {
		return err
	}
	if dest == nil {
		return ErrNotFound
	}
	if dest.Status != models.DestinationStatusFailed {
		return ErrConflict
	}
	if dest.Attempts >= dest.MaxAttempts {
		return ErrMaxAttempts
	}

	ok, err := o.repo.Requeue(dest.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMaxAttempts
	}

	o.emit("destination", dest.ID, "destination_requeued", models.SecurityLevelInfo, dest.AssetID, map[string]interface{}{
		"attempt": dest.Attempts,
	})
	return nil
}

// UpdateAssetStatus applies a manual status update and returns the previous
// status for the response echo.
func (o *Orchestrator) UpdateAssetStatus(assetID, status string, meta map[string]interface{}) (string, error) {
	if !ValidAssetStatus(status) {
		return "", ErrInvalidStatus
	}

	asset, err := o.repo.GetAsset(assetID)
	if err != nil {
		return "", err
	}
	if asset == nil {
		return "", ErrNotFound
	}

	if err := o.repo.UpdateAssetStatus(assetID, status); err != nil {
		return "", err
	}

	data := map[string]interface{}{
		"previous_status": asset.Status,
		"new_status":      status,
	}
	for k, v := range meta {
		data[k] = v
	}
	o.emit("asset", assetID, "asset_status_changed", models.SecurityLevelInfo, assetID, data)

	return asset.Status, nil
}

// ReconcileStuckPublishing reverts in-flight rows older than the TTL to
// failed so they become retry-eligible again.
func (o *Orchestrator) ReconcileStuckPublishing(ttl time.Duration) (int64, error) {
	cutoff := o.opts.Now().Add(-ttl).Unix()
	n, err := o.repo.ReconcileStuckPublishing(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Int64("count", n).Msg("reverted stale publishing destinations to failed")
	}
	return n, nil
}

// RetryDue re-queues and republishes failed destinations whose retry window
// has opened. Driven by the background worker.
func (o *Orchestrator) RetryDue(ctx context.Context) int {
	dests, err := o.repo.ListRetryable(o.opts.Now().Unix())
	if err != nil {
		log.Error().Err(err).Msg("failed to list retryable destinations")
		return 0
	}

	retried := 0
	for _, dest := range dests {
		if err := o.RetryDestination(dest.ID); err != nil {
			continue
		}
		if _, err := o.PublishToDestination(ctx, dest.ID); err != nil {
			log.Error().Err(err).Str("destination_id", dest.ID).Msg("retry publish failed")
			continue
		}
		retried++
	}
	return retried
}

func (o *Orchestrator) emit(entityType, entityID, eventType, level, correlationID string, data map[string]interface{}) {
	o.events.Emit(&models.SystemEvent{
		EntityType:    entityType,
		EntityID:      entityID,
		EventType:     eventType,
		EventData:     data,
		SecurityLevel: level,
		CorrelationID: correlationID,
		Source:        "orchestrator",
	})
}
