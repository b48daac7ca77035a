package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ToolRun is the durable record of one invocation attempt
type ToolRun struct {
	ID          string
	Ts          time.Time
	ProfileID   string
	SessionID   string
	RequestID   string
	ToolName    string
	ToolVersion string
	Status      string
	Input       map[string]interface{}
	Output      map[string]interface{}
	ErrorInfo   map[string]interface{}
	LatencyMS   int
}

// CreateToolRun inserts a new run in the given status and returns its id.
// Input must already be redacted by the caller.
func CreateToolRun(ctx context.Context, tx *sql.Tx, run ToolRun) (string, error) {
	id := uuid.NewString()

	inputJSON, err := marshalPayload(run.Input)
	if err != nil {
		return "", fmt.Errorf("failed to encode input: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tool_runs (tool_run_id, profile_id, session_id, request_id, tool_name, tool_version, status, input_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, run.ProfileID, run.SessionID, run.RequestID, run.ToolName, run.ToolVersion, run.Status, inputJSON,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert tool run: %w", err)
	}
	return id, nil
}

// FinalizeToolRun transitions a run to its next status. The WHERE clause only
// matches non-terminal rows, so a run that already reached ok/error/timeout/
// denied can never be rewritten, regardless of caller bugs or races.
func FinalizeToolRun(ctx context.Context, tx *sql.Tx, id, status string, output, errorInfo map[string]interface{}, latencyMS int) error {
	outputJSON, err := marshalPayload(output)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	errorJSON, err := marshalPayload(errorInfo)
	if err != nil {
		return fmt.Errorf("failed to encode error: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tool_runs
		SET status = ?, output_json = ?, error_json = ?, latency_ms = ?
		WHERE tool_run_id = ? AND status IN ('started', 'approval_required')`,
		status, outputJSON, errorJSON, latencyMS, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update tool run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tool_runs WHERE tool_run_id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: status is '%s'", ErrRunFinalized, current)
	}
	return nil
}

// GetToolRun loads a single run by id
func GetToolRun(ctx context.Context, tx *sql.Tx, id string) (*ToolRun, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT tool_run_id, ts, profile_id, session_id, request_id, tool_name, tool_version, status,
		       input_json, output_json, error_json, latency_ms
		FROM tool_runs WHERE tool_run_id = ?`, id)
	return scanToolRun(row)
}

// ListToolRuns returns the most recent runs for a profile, newest first
func ListToolRuns(ctx context.Context, tx *sql.Tx, profileID string, limit int) ([]*ToolRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT tool_run_id, ts, profile_id, session_id, request_id, tool_name, tool_version, status,
		       input_json, output_json, error_json, latency_ms
		FROM tool_runs WHERE profile_id = ?
		ORDER BY ts DESC LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool runs: %w", err)
	}
	defer rows.Close()

	var runs []*ToolRun
	for rows.Next() {
		run, err := scanToolRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToolRun(row rowScanner) (*ToolRun, error) {
	var run ToolRun
	var inputJSON, outputJSON, errorJSON string

	err := row.Scan(&run.ID, &run.Ts, &run.ProfileID, &run.SessionID, &run.RequestID,
		&run.ToolName, &run.ToolVersion, &run.Status, &inputJSON, &outputJSON, &errorJSON, &run.LatencyMS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tool run: %w", err)
	}

	if run.Input, err = unmarshalPayload(inputJSON); err != nil {
		return nil, err
	}
	if run.Output, err = unmarshalPayload(outputJSON); err != nil {
		return nil, err
	}
	if run.ErrorInfo, err = unmarshalPayload(errorJSON); err != nil {
		return nil, err
	}
	return &run, nil
}

func marshalPayload(payload map[string]interface{}) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalPayload(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return payload, nil
}
