package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/gapura/internal/metrics"
	"github.com/harun/gapura/pkg/connectors"
	"github.com/harun/gapura/pkg/gateway"
	"github.com/harun/gapura/pkg/policy"
	"github.com/harun/gapura/pkg/redact"
	"github.com/harun/gapura/pkg/registry"
	"github.com/harun/gapura/pkg/store"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "gapura.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx *sql.Tx) error {
		return store.EnsureProfile(ctx, tx, "owner", "Owner", "UTC")
	}))

	reg := registry.New()
	require.NoError(t, reg.RegisterAll(connectors.Builtin(connectors.Deps{})))

	cfg := policy.DefaultConfig()
	cfg.Sonos = &policy.SonosRules{AllowedRooms: []string{"office"}, MaxVolume: 60}

	gw, err := gateway.New(gateway.Config{
		Registry: reg,
		Policy:   policy.NewStatic(cfg),
		Redactor: redact.New(),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	srv, err := New(Config{
		Host:         "127.0.0.1",
		Port:         8484,
		SharedSecret: testSecret,
		Store:        st,
		Gateway:      gw,
		Logger:       zerolog.Nop(),
		ProfileID:    "owner",
		SessionID:    "serve-test",
	})
	require.NoError(t, err)
	return srv, st
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set(secretHeader, testSecret)
	}

	w := httptest.NewRecorder()
	handler := srv.handlerFor(path)
	srv.auth(handler)(w, req)
	return w
}

// handlerFor routes a test request to the same handler the mux would pick
func (s *Server) handlerFor(path string) http.HandlerFunc {
	switch {
	case path == "/v1/tools/run":
		return s.handleRunTool
	case path == "/v1/approvals":
		return s.handleListApprovals
	case path == "/v1/runs":
		return s.handleListRuns
	default:
		return s.handleResolveApproval
	}
}

func TestServer_RequiresSharedSecret(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/v1/tools/run", map[string]interface{}{
		"tool": "system.noop",
	}, false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_RunTool_OK(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/v1/tools/run", map[string]interface{}{
		"tool":  "system.noop",
		"input": map[string]interface{}{"message": "hi"},
	}, true)

	require.Equal(t, http.StatusOK, w.Code)

	var result gateway.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, gateway.StatusOK, result.Status)
	assert.Equal(t, "system.noop", result.ToolName)
}

func TestServer_RunTool_UnknownToolMapsTo404(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/v1/tools/run", map[string]interface{}{
		"tool": "does.not.exist",
	}, true)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RunTool_PolicyDenialMapsTo403(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/v1/tools/run", map[string]interface{}{
		"tool":  "sonos.set_volume",
		"input": map[string]interface{}{"room": "garage", "volume": 10},
	}, true)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_ApprovalFlowOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	// Gated call suspends with 202
	w := doRequest(t, srv, http.MethodPost, "/v1/tools/run", map[string]interface{}{
		"tool":  "sonos.set_volume",
		"input": map[string]interface{}{"room": "office", "volume": 30},
	}, true)
	require.Equal(t, http.StatusAccepted, w.Code)

	var suspended gateway.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &suspended))
	require.Equal(t, gateway.StatusApprovalRequired, suspended.Status)
	approvalID := suspended.Data["approval_id"].(string)

	// Pending approval is listed
	w = doRequest(t, srv, http.MethodGet, "/v1/approvals", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var approvals []store.Approval
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &approvals))
	require.Len(t, approvals, 1)

	// Approving resumes and executes
	w = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/v1/approvals/%s/approve", approvalID), nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resumed gateway.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resumed))
	assert.Equal(t, gateway.StatusOK, resumed.Status)

	// A second approve conflicts
	w = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/v1/approvals/%s/approve", approvalID), nil, true)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_ListRuns(t *testing.T) {
	srv, _ := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/v1/tools/run", map[string]interface{}{
		"tool":  "system.noop",
		"input": map[string]interface{}{"message": "hi"},
	}, true)

	w := doRequest(t, srv, http.MethodGet, "/v1/runs", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var runs []store.ToolRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].Status)
}

func TestServer_StoreFailureRollsBackRun(t *testing.T) {
	srv, st := newTestServer(t)

	// Break event persistence so the append after the run insert fails
	_, err := st.DB().Exec(`DROP TABLE events`)
	require.NoError(t, err)

	w := doRequest(t, srv, http.MethodPost, "/v1/tools/run", map[string]interface{}{
		"tool":  "system.noop",
		"input": map[string]interface{}{"message": "hi"},
	}, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// The run row written before the failure must have rolled back with it
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx *sql.Tx) error {
		runs, err := store.ListToolRuns(ctx, tx, "owner", 10)
		if err != nil {
			return err
		}
		assert.Empty(t, runs, "no partial run may commit")
		return nil
	}))
}

func TestSweeper_ExpiresStalePendingApprovals(t *testing.T) {
	srv, st := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/v1/tools/run", map[string]interface{}{
		"tool":  "sonos.set_volume",
		"input": map[string]interface{}{"room": "office", "volume": 30},
	}, true)
	require.Equal(t, http.StatusAccepted, w.Code)

	// Backdate the approval so it is older than the TTL
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE approvals SET requested_at = datetime('now', '-2 days') WHERE status = 'pending'`)
		return err
	}))

	m := metrics.NewMetrics()
	sweeper := NewSweeper(st, srv.cfg.Gateway, m, zerolog.Nop(), 24*time.Hour,
		gateway.RunContext{ProfileID: "owner", SessionID: "serve-test"})
	sweeper.Sweep()

	require.NoError(t, st.WithTx(ctx, func(tx *sql.Tx) error {
		pending, err := store.ListApprovals(ctx, tx, store.ApprovalPending, 10)
		if err != nil {
			return err
		}
		assert.Empty(t, pending, "stale approval must no longer be pending")

		denied, err := store.ListApprovals(ctx, tx, store.ApprovalDenied, 10)
		if err != nil {
			return err
		}
		assert.Len(t, denied, 1)
		return nil
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsExpiredTotal))
}

func TestSweeper_OperatorResolutionIsNotAnExpiry(t *testing.T) {
	srv, st := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/v1/tools/run", map[string]interface{}{
		"tool":  "sonos.set_volume",
		"input": map[string]interface{}{"room": "office", "volume": 30},
	}, true)
	require.Equal(t, http.StatusAccepted, w.Code)

	var suspended gateway.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &suspended))
	approvalID := suspended.Data["approval_id"].(string)

	// An operator wins the race before the sweeper gets to the approval
	w = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/v1/approvals/%s/approve", approvalID), nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	ctx := context.Background()
	var approval *store.Approval
	require.NoError(t, st.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		approval, err = store.GetApproval(ctx, tx, approvalID)
		return err
	}))

	m := metrics.NewMetrics()
	sweeper := NewSweeper(st, srv.cfg.Gateway, m, zerolog.Nop(), 24*time.Hour,
		gateway.RunContext{ProfileID: "owner", SessionID: "serve-test"})

	expired, err := sweeper.expire(ctx, approval)
	require.NoError(t, err)
	assert.False(t, expired, "an operator resolution is not an expiry")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ApprovalsExpiredTotal))

	// The operator's resolution stands
	require.NoError(t, st.WithTx(ctx, func(tx *sql.Tx) error {
		ap, err := store.GetApproval(ctx, tx, approvalID)
		if err != nil {
			return err
		}
		assert.Equal(t, store.ApprovalApproved, ap.Status)
		return nil
	}))
}

func TestBroadcaster_AddRemoveCount(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	assert.Equal(t, 0, b.Count())

	// Broadcast with no clients must not panic
	b.Broadcast("tool_run.ok", map[string]interface{}{"x": 1})
}
