package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Approval is the durable record of a pending or resolved human
// authorization, tied 1:1 to the tool run it gates. Context holds the exact
// reviewed payload so resumption uses what the operator saw, never a
// re-submitted one.
type Approval struct {
	ID          string
	ToolRunID   string
	ProfileID   string
	RequestedAt time.Time
	ResolvedAt  *time.Time
	Status      string
	Context     map[string]interface{}
}

// Approval statuses
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

// CreateApproval inserts a pending approval and returns its id
func CreateApproval(ctx context.Context, tx *sql.Tx, toolRunID, profileID string, approvalCtx map[string]interface{}) (string, error) {
	id := uuid.NewString()

	ctxJSON, err := marshalPayload(approvalCtx)
	if err != nil {
		return "", fmt.Errorf("failed to encode approval context: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approvals (approval_id, tool_run_id, profile_id, status, context_json)
		VALUES (?, ?, ?, 'pending', ?)`,
		id, toolRunID, profileID, ctxJSON,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert approval: %w", err)
	}
	return id, nil
}

// ResolveApproval transitions pending -> approved|denied exactly once. The
// WHERE status='pending' guard makes concurrent duplicate resolutions lose
// cleanly: the second caller gets ErrApprovalConflict and must not execute
// anything.
func ResolveApproval(ctx context.Context, tx *sql.Tx, id, status string) error {
	if status != ApprovalApproved && status != ApprovalDenied {
		return fmt.Errorf("%w: '%s'", ErrInvalidStatus, status)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, resolved_at = CURRENT_TIMESTAMP
		WHERE approval_id = ? AND status = 'pending'`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM approvals WHERE approval_id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: status is '%s'", ErrApprovalConflict, current)
	}
	return nil
}

// GetApproval loads a single approval by id
func GetApproval(ctx context.Context, tx *sql.Tx, id string) (*Approval, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT approval_id, tool_run_id, profile_id, requested_at, resolved_at, status, context_json
		FROM approvals WHERE approval_id = ?`, id)
	return scanApproval(row)
}

// ListApprovals returns approvals with the given status, newest first
func ListApprovals(ctx context.Context, tx *sql.Tx, status string, limit int) ([]*Approval, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT approval_id, tool_run_id, profile_id, requested_at, resolved_at, status, context_json
		FROM approvals WHERE status = ?
		ORDER BY requested_at DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, ap)
	}
	return approvals, rows.Err()
}

// ListStaleApprovals returns pending approvals requested before cutoff,
// oldest first. Used by the serve-mode expiry sweep.
func ListStaleApprovals(ctx context.Context, tx *sql.Tx, cutoff time.Time, limit int) ([]*Approval, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT approval_id, tool_run_id, profile_id, requested_at, resolved_at, status, context_json
		FROM approvals WHERE status = 'pending' AND requested_at < ?
		ORDER BY requested_at ASC LIMIT ?`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, ap)
	}
	return approvals, rows.Err()
}

func scanApproval(row rowScanner) (*Approval, error) {
	var ap Approval
	var resolvedAt sql.NullTime
	var ctxJSON string

	err := row.Scan(&ap.ID, &ap.ToolRunID, &ap.ProfileID, &ap.RequestedAt, &resolvedAt, &ap.Status, &ctxJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}

	if resolvedAt.Valid {
		t := resolvedAt.Time
		ap.ResolvedAt = &t
	}
	if ap.Context, err = unmarshalPayload(ctxJSON); err != nil {
		return nil, err
	}
	return &ap, nil
}
