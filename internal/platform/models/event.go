package models

// Security levels for system events, ordered least to most severe.
const (
	SecurityLevelInfo     = "info"
	SecurityLevelWarning  = "warning"
	SecurityLevelError    = "error"
	SecurityLevelCritical = "critical"
)

// SystemEvent is an immutable fact. Once written it is never mutated or
// reordered; an entity's history is the stream filtered by entity type and id.
type SystemEvent struct {
	ID            string                 `json:"id"`
	EntityType    string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	EventType     string                 `json:"event_type"`
	EventData     map[string]interface{} `json:"event_data,omitempty"`
	SecurityLevel string                 `json:"security_level"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	TraceID       string                 `json:"trace_id,omitempty"`
	Source        string                 `json:"source,omitempty"`
	Actor         string                 `json:"actor,omitempty"`
	CreatedAt     int64                  `json:"created_at"`
}

var securityLevelRank = map[string]int{
	SecurityLevelInfo:     0,
	SecurityLevelWarning:  1,
	SecurityLevelError:    2,
	SecurityLevelCritical: 3,
}

// SecurityLevelAtLeast reports whether level is at or above min severity.
// Unknown levels rank below info.
func SecurityLevelAtLeast(level, min string) bool {
	return securityLevelRank[level] >= securityLevelRank[min]
}
