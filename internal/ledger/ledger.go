// Package ledger provides an append-only history of control actions:
// settled writes and bulk actions, with their outcomes. It exists for
// auditing; nothing in the control path reads it back.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mattsoldo/lumctl/internal/entity"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventWriteCompleted EventType = "write_completed"
	EventWriteFailed    EventType = "write_failed"
	EventBulkCompleted  EventType = "bulk_completed"
	EventBulkFailed     EventType = "bulk_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID            int64
	EventType     EventType
	Timestamp     time.Time
	Entity        string
	Axis          string
	Value         float64
	Error         string
	CorrelationID string
}

// Ledger provides append-only control action logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// RecordWrite appends a settled control write. Satisfies the engine's
// ActionRecorder; failures to record are logged, never propagated into the
// control path.
func (l *Ledger) RecordWrite(id entity.ID, axis entity.Axis, value float64, writeErr error) {
	eventType := EventWriteCompleted
	errText := ""
	if writeErr != nil {
		eventType = EventWriteFailed
		errText = writeErr.Error()
	}

	if err := l.append(eventType, id.String(), string(axis), value, errText); err != nil {
		log.Warn().Err(err).Msg("Failed to record write in ledger")
	}
}

// RecordBulk appends a settled bulk action (all-off, panic).
func (l *Ledger) RecordBulk(action string, actionErr error) {
	eventType := EventBulkCompleted
	errText := ""
	if actionErr != nil {
		eventType = EventBulkFailed
		errText = actionErr.Error()
	}

	if err := l.append(eventType, action, "", 0, errText); err != nil {
		log.Warn().Err(err).Msg("Failed to record bulk action in ledger")
	}
}

func (l *Ledger) append(eventType EventType, entityStr, axis string, value float64, errText string) error {
	now := time.Now().UTC().Unix()
	_, err := l.db.Exec(`
		INSERT INTO control_ledger (event_type, timestamp, entity, axis, value, error, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(eventType), now, entityStr, axis, value, errText, uuid.NewString())
	return err
}

// Recent returns the most recent entries, newest first.
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, entity, axis, value, error, correlation_id
		FROM control_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var ts int64
		var ent, axis, errText, corrID sql.NullString

		if err := rows.Scan(&entry.ID, &entry.EventType, &ts, &ent, &axis, &entry.Value, &errText, &corrID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(ts, 0).UTC()
		entry.Entity = ent.String
		entry.Axis = axis.String
		entry.Error = errText.String
		entry.CorrelationID = corrID.String
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// DeleteOlderThan removes entries older than the specified duration
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM control_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunCleanup periodically applies the retention policy until ctx is done.
func (l *Ledger) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Warn().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if removed > 0 {
				log.Debug().Int64("removed", removed).Msg("Ledger cleanup completed")
			}
		}
	}
}
