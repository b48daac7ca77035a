package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "gapura.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := EnsureProfile(ctx, tx, "harun", "Harun", "UTC"); err != nil {
			return err
		}
		return EnsureSession(ctx, tx, "sess-1", "harun", "cli")
	}))
	return s
}

func insertRun(t *testing.T, s *Store, status string) string {
	t.Helper()

	var id string
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = CreateToolRun(ctx, tx, ToolRun{
			ProfileID:   "harun",
			SessionID:   "sess-1",
			RequestID:   "req-1",
			ToolName:    "system.noop",
			ToolVersion: "v0.1",
			Status:      status,
			Input:       map[string]interface{}{"message": "hi"},
		})
		return err
	}))
	return id
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestOpen_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "gapura.db")
	s, err := Open(path)
	require.NoError(t, err)
	s.Close()
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := CreateToolRun(ctx, tx, ToolRun{
			ProfileID: "harun", SessionID: "sess-1", RequestID: "r", ToolName: "x", Status: "started",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		runs, err := ListToolRuns(ctx, tx, "harun", 10)
		if err != nil {
			return err
		}
		assert.Empty(t, runs, "rolled-back insert must not persist")
		return nil
	}))
}

func TestToolRun_CreateAndGet(t *testing.T) {
	s := openTestStore(t)
	id := insertRun(t, s, "started")

	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		run, err := GetToolRun(ctx, tx, id)
		require.NoError(t, err)
		assert.Equal(t, "started", run.Status)
		assert.Equal(t, "system.noop", run.ToolName)
		assert.Equal(t, "hi", run.Input["message"])
		assert.Empty(t, run.Output)
		return nil
	}))
}

func TestToolRun_Finalize(t *testing.T) {
	s := openTestStore(t)
	id := insertRun(t, s, "started")
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return FinalizeToolRun(ctx, tx, id, "ok",
			map[string]interface{}{"echoed": "hi"}, nil, 12)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		run, err := GetToolRun(ctx, tx, id)
		require.NoError(t, err)
		assert.Equal(t, "ok", run.Status)
		assert.Equal(t, "hi", run.Output["echoed"])
		assert.Equal(t, 12, run.LatencyMS)
		return nil
	}))
}

func TestToolRun_TerminalRunsAreImmutable(t *testing.T) {
	s := openTestStore(t)
	id := insertRun(t, s, "started")
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return FinalizeToolRun(ctx, tx, id, "error", nil,
			map[string]interface{}{"code": "handler_error"}, 5)
	}))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return FinalizeToolRun(ctx, tx, id, "ok", map[string]interface{}{"sneaky": true}, nil, 1)
	})
	require.ErrorIs(t, err, ErrRunFinalized)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		run, err := GetToolRun(ctx, tx, id)
		require.NoError(t, err)
		assert.Equal(t, "error", run.Status, "terminal status must survive the second write")
		assert.Empty(t, run.Output)
		return nil
	}))
}

func TestToolRun_FinalizeFromApprovalRequired(t *testing.T) {
	s := openTestStore(t)
	id := insertRun(t, s, "approval_required")
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return FinalizeToolRun(ctx, tx, id, "denied", nil,
			map[string]interface{}{"code": "approval_denied"}, 0)
	}))
}

func TestToolRun_FinalizeMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return FinalizeToolRun(ctx, tx, "no-such-run", "ok", nil, nil, 0)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToolRun_ListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		for i := 0; i < 3; i++ {
			// Explicit timestamps: CURRENT_TIMESTAMP has one-second granularity
			id := fmt.Sprintf("run-%d", i)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tool_runs (tool_run_id, ts, profile_id, session_id, request_id, tool_name, status)
				VALUES (?, ?, 'harun', 'sess-1', 'req', 'system.noop', 'ok')`,
				id, time.Date(2026, 3, 1, 10, i, 0, 0, time.UTC)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		runs, err := ListToolRuns(ctx, tx, "harun", 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-2", runs[0].ID)
		assert.Equal(t, "run-1", runs[1].ID)
		return nil
	}))
}

func TestApproval_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	runID := insertRun(t, s, "approval_required")
	ctx := context.Background()

	var approvalID string
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		approvalID, err = CreateApproval(ctx, tx, runID, "harun", map[string]interface{}{
			"tool_name":      "sonos.set_volume",
			"proposed_input": map[string]interface{}{"room": "office", "volume": 30},
		})
		return err
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		ap, err := GetApproval(ctx, tx, approvalID)
		require.NoError(t, err)
		assert.Equal(t, ApprovalPending, ap.Status)
		assert.Equal(t, runID, ap.ToolRunID)
		assert.Nil(t, ap.ResolvedAt)
		proposed := ap.Context["proposed_input"].(map[string]interface{})
		assert.Equal(t, "office", proposed["room"])
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return ResolveApproval(ctx, tx, approvalID, ApprovalApproved)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		ap, err := GetApproval(ctx, tx, approvalID)
		require.NoError(t, err)
		assert.Equal(t, ApprovalApproved, ap.Status)
		assert.NotNil(t, ap.ResolvedAt)
		return nil
	}))
}

func TestApproval_ResolveTwiceConflicts(t *testing.T) {
	s := openTestStore(t)
	runID := insertRun(t, s, "approval_required")
	ctx := context.Background()

	var approvalID string
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		approvalID, err = CreateApproval(ctx, tx, runID, "harun", nil)
		return err
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return ResolveApproval(ctx, tx, approvalID, ApprovalDenied)
	}))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return ResolveApproval(ctx, tx, approvalID, ApprovalApproved)
	})
	assert.ErrorIs(t, err, ErrApprovalConflict)
}

func TestApproval_ResolveInvalidStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return ResolveApproval(ctx, tx, "whatever", "pending")
	})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestApproval_ResolveMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return ResolveApproval(ctx, tx, "no-such-approval", ApprovalApproved)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproval_ListStale(t *testing.T) {
	s := openTestStore(t)
	runID := insertRun(t, s, "approval_required")
	ctx := context.Background()

	var staleID string
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		staleID, err = CreateApproval(ctx, tx, runID, "harun", nil)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE approvals SET requested_at = datetime('now', '-2 days') WHERE approval_id = ?`, staleID)
		return err
	}))

	freshRun := insertRun(t, s, "approval_required")
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := CreateApproval(ctx, tx, freshRun, "harun", nil)
		return err
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		stale, err := ListStaleApprovals(ctx, tx, time.Now().Add(-24*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, staleID, stale[0].ID)
		return nil
	}))
}

func TestEvents_AppendAndCount(t *testing.T) {
	s := openTestStore(t)
	runID := insertRun(t, s, "started")
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, evType := range []string{"tool_called", "tool_succeeded"} {
			if err := AppendEvent(ctx, tx, Event{
				ProfileID: "harun",
				SessionID: "sess-1",
				EventType: evType,
				ToolRunID: runID,
				Payload:   map[string]interface{}{"tool_name": "system.noop"},
			}); err != nil {
				return err
			}
		}
		return AppendEvent(ctx, tx, Event{
			ProfileID: "harun",
			SessionID: "sess-1",
			EventType: "server_started",
		})
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		count, err := CountEvents(ctx, tx, runID, "tool_called")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		events, err := ListEvents(ctx, tx, "harun", 10)
		require.NoError(t, err)
		assert.Len(t, events, 3)

		var unattached *Event
		for _, ev := range events {
			if ev.EventType == "server_started" {
				unattached = ev
			}
		}
		require.NotNil(t, unattached)
		assert.Empty(t, unattached.ToolRunID)
		return nil
	}))
}

func TestEnsureProfile_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		// Second ensure with a different display name is a no-op
		return EnsureProfile(ctx, tx, "harun", "Someone Else", "UTC")
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx,
			`SELECT display_name FROM profiles WHERE profile_id = 'harun'`).Scan(&name)
		require.NoError(t, err)
		assert.Equal(t, "Harun", name)
		return nil
	}))
}
