package events

import (
	"database/sql"
	"encoding/json"
	"strings"

	"pulse/internal/platform/models"
)

// MaxQueryLimit caps one page of results to keep scans bounded.
const MaxQueryLimit = 200

// Filter narrows queries and subscriptions. Zero values match everything.
type Filter struct {
	EntityType       string
	EntityID         string
	EventType        string
	MinSecurityLevel string
	CorrelationID    string
	TraceID          string
	Since            int64 // inclusive, unix seconds
	Until            int64 // exclusive
	Offset           int
	Limit            int
}

// Matches applies the filter to a single event, used for push delivery to
// subscribers.
func (f Filter) Matches(ev *models.SystemEvent) bool {
	if f.EntityType != "" && ev.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && ev.EntityID != f.EntityID {
		return false
	}
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.MinSecurityLevel != "" && !models.SecurityLevelAtLeast(ev.SecurityLevel, f.MinSecurityLevel) {
		return false
	}
	if f.CorrelationID != "" && ev.CorrelationID != f.CorrelationID {
		return false
	}
	if f.TraceID != "" && ev.TraceID != f.TraceID {
		return false
	}
	if f.Since != 0 && ev.CreatedAt < f.Since {
		return false
	}
	if f.Until != 0 && ev.CreatedAt >= f.Until {
		return false
	}
	return true
}

// Rollup is one aggregation bucket for dashboard views, computed on read.
type Rollup struct {
	EntityType string `json:"entity_type"`
	EventType  string `json:"event_type"`
	Count      int    `json:"count"`
	FirstSeen  int64  `json:"first_seen"`
	LastSeen   int64  `json:"last_seen"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertBatch writes one flush batch. INSERT OR IGNORE keeps at-least-once
// delivery idempotent by event id.
func (r *Repository) InsertBatch(batch []*models.SystemEvent) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO system_events (id, entity_type, entity_id, event_type, event_data, security_level, correlation_id, trace_id, source, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range batch {
		dataJSON, err := json.Marshal(ev.EventData)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.Exec(ev.ID, ev.EntityType, ev.EntityID, ev.EventType, string(dataJSON), ev.SecurityLevel, ev.CorrelationID, ev.TraceID, ev.Source, ev.Actor, ev.CreatedAt); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (f Filter) whereClause() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.MinSecurityLevel != "" {
		levels := []string{}
		for _, l := range []string{models.SecurityLevelInfo, models.SecurityLevelWarning, models.SecurityLevelError, models.SecurityLevelCritical} {
			if models.SecurityLevelAtLeast(l, f.MinSecurityLevel) {
				levels = append(levels, l)
			}
		}
		conds = append(conds, "security_level IN (?"+strings.Repeat(",?", len(levels)-1)+")")
		for _, l := range levels {
			args = append(args, l)
		}
	}
	if f.CorrelationID != "" {
		conds = append(conds, "correlation_id = ?")
		args = append(args, f.CorrelationID)
	}
	if f.TraceID != "" {
		conds = append(conds, "trace_id = ?")
		args = append(args, f.TraceID)
	}
	if f.Since != 0 {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != 0 {
		conds = append(conds, "created_at < ?")
		args = append(args, f.Until)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns matching events newest-first with the total match count.
func (r *Repository) Query(f Filter) ([]*models.SystemEvent, int, error) {
	where, args := f.whereClause()

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM system_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	query := "SELECT id, entity_type, entity_id, event_type, event_data, security_level, correlation_id, trace_id, source, actor, created_at FROM system_events" +
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.Query(query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.SystemEvent
	for rows.Next() {
		var ev models.SystemEvent
		var dataStr string
		if err := rows.Scan(&ev.ID, &ev.EntityType, &ev.EntityID, &ev.EventType, &dataStr, &ev.SecurityLevel, &ev.CorrelationID, &ev.TraceID, &ev.Source, &ev.Actor, &ev.CreatedAt); err != nil {
			return nil, 0, err
		}
		if dataStr != "" && dataStr != "null" {
			json.Unmarshal([]byte(dataStr), &ev.EventData)
		}
		events = append(events, &ev)
	}
	return events, total, rows.Err()
}

// Aggregate reduces matching events into per (entity_type, event_type)
// buckets.
func (r *Repository) Aggregate(f Filter) ([]Rollup, error) {
	where, args := f.whereClause()

	query := "SELECT entity_type, event_type, COUNT(*), MIN(created_at), MAX(created_at) FROM system_events" +
		where + " GROUP BY entity_type, event_type ORDER BY entity_type, event_type"
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rollups []Rollup
	for rows.Next() {
		var ru Rollup
		if err := rows.Scan(&ru.EntityType, &ru.EventType, &ru.Count, &ru.FirstSeen, &ru.LastSeen); err != nil {
			return nil, err
		}
		rollups = append(rollups, ru)
	}
	return rollups, rows.Err()
}

// PurgeBefore removes events older than the cutoff. Best effort; the caller
// logs failures and moves on.
func (r *Repository) PurgeBefore(cutoff int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM system_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
