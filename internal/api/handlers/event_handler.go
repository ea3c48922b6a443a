package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"pulse/internal/engine/events"
	"pulse/internal/pkg/errors"
)

type EventHandler struct {
	log *events.Log
}

func NewEventHandler(log *events.Log) *EventHandler {
	return &EventHandler{log: log}
}

func filterFromQuery(r *http.Request) events.Filter {
	q := r.URL.Query()
	since, _ := strconv.ParseInt(q.Get("since"), 10, 64)
	until, _ := strconv.ParseInt(q.Get("until"), 10, 64)
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	return events.Filter{
		EntityType:       q.Get("entity_type"),
		EntityID:         q.Get("entity_id"),
		EventType:        q.Get("event_type"),
		MinSecurityLevel: q.Get("min_level"),
		CorrelationID:    q.Get("correlation_id"),
		TraceID:          q.Get("trace_id"),
		Since:            since,
		Until:            until,
		Offset:           offset,
		Limit:            limit,
	}
}

func (h *EventHandler) Query(w http.ResponseWriter, r *http.Request) {
	evs, total, hasMore, err := h.log.Query(filterFromQuery(r))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to query events", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events":   evs,
		"total":    total,
		"has_more": hasMore,
	})
}

func (h *EventHandler) Rollup(w http.ResponseWriter, r *http.Request) {
	rollups, err := h.log.Aggregate(filterFromQuery(r))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to aggregate events", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"rollups": rollups})
}
