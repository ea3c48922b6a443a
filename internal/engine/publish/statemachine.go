package publish

import "pulse/internal/platform/models"

// Destination state machine. failed -> queued is the only re-entry edge and
// is additionally gated by the attempt counter; cancelled is reachable from
// every pre-published state.
var destinationTransitions = map[string][]string{
	models.DestinationStatusDraft:      {models.DestinationStatusReady, models.DestinationStatusCancelled},
	models.DestinationStatusReady:      {models.DestinationStatusQueued, models.DestinationStatusCancelled},
	models.DestinationStatusQueued:     {models.DestinationStatusPublishing, models.DestinationStatusCancelled},
	models.DestinationStatusPublishing: {models.DestinationStatusPublished, models.DestinationStatusFailed, models.DestinationStatusCancelled},
	models.DestinationStatusFailed:     {models.DestinationStatusQueued, models.DestinationStatusCancelled},
	models.DestinationStatusPublished:  {},
	models.DestinationStatusCancelled:  {},
}

// CanTransition reports whether a destination may move from one status to
// another.
func CanTransition(from, to string) bool {
	for _, next := range destinationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var assetStatuses = map[string]bool{
	models.AssetStatusDraft:      true,
	models.AssetStatusInReview:   true,
	models.AssetStatusReady:      true,
	models.AssetStatusScheduled:  true,
	models.AssetStatusQueued:     true,
	models.AssetStatusPublishing: true,
	models.AssetStatusPublished:  true,
	models.AssetStatusFailed:     true,
	models.AssetStatusArchived:   true,
}

// ValidAssetStatus reports whether s names a known asset status.
func ValidAssetStatus(s string) bool {
	return assetStatuses[s]
}

// MapWorkflowStatus converts a workflow-level status to the coarse asset
// status it implies.
func MapWorkflowStatus(workflowStatus string) (string, bool) {
	switch workflowStatus {
	case models.ExecutionStatusStarted:
		return models.AssetStatusQueued, true
	case models.ExecutionStatusRunning:
		return models.AssetStatusPublishing, true
	case models.ExecutionStatusCompleted:
		return models.AssetStatusPublished, true
	case models.ExecutionStatusFailed, models.ExecutionStatusCancelled:
		return models.AssetStatusFailed, true
	}
	return "", false
}
