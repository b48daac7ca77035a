package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one append-only audit record. Events are never updated or
// deleted; there is deliberately no helper that could.
type Event struct {
	ID        string
	Ts        time.Time
	ProfileID string
	SessionID string
	EventType string
	ToolRunID string
	Payload   map[string]interface{}
}

// AppendEvent inserts one audit event. Payload must already be redacted.
func AppendEvent(ctx context.Context, tx *sql.Tx, ev Event) error {
	payloadJSON, err := marshalPayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	var toolRunID interface{}
	if ev.ToolRunID != "" {
		toolRunID = ev.ToolRunID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (event_id, profile_id, session_id, event_type, tool_run_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ev.ProfileID, ev.SessionID, ev.EventType, toolRunID, payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events for a profile, newest first
func ListEvents(ctx context.Context, tx *sql.Tx, profileID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, ts, profile_id, session_id, event_type, tool_run_id, payload_json
		FROM events WHERE profile_id = ?
		ORDER BY ts DESC LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents counts events of a given type for a tool run. Used by tests to
// assert exactly-once audit semantics.
func CountEvents(ctx context.Context, tx *sql.Tx, toolRunID, eventType string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE tool_run_id = ? AND event_type = ?`,
		toolRunID, eventType,
	).Scan(&count)
	return count, err
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var toolRunID sql.NullString
	var payloadJSON string

	err := row.Scan(&ev.ID, &ev.Ts, &ev.ProfileID, &ev.SessionID, &ev.EventType, &toolRunID, &payloadJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	ev.ToolRunID = toolRunID.String
	if ev.Payload, err = unmarshalPayload(payloadJSON); err != nil {
		return nil, err
	}
	return &ev, nil
}
