// Package gateway is the single choke point for running tools safely. Every
// invocation flows through the same fixed order: registry lookup, input
// validation, policy evaluation, durable ToolRun record, optional human
// approval, handler execution under a deadline, output validation, and
// redacted persistence. The gateway owns the lifecycle state machine and is
// the only component permitted to invoke a connector handler.
//
// Transaction discipline: every entry point takes an already-open *sql.Tx
// and never begins, commits, or rolls back. The caller owns the boundary and
// commits exactly once per top-level command.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/gapura/internal/metrics"
	"github.com/harun/gapura/pkg/policy"
	"github.com/harun/gapura/pkg/redact"
	"github.com/harun/gapura/pkg/registry"
	"github.com/harun/gapura/pkg/store"
)

// DefaultTimeout bounds handler execution when neither the tool spec nor
// the config overrides it.
const DefaultTimeout = 10 * time.Second

// PolicySource yields the policy engine snapshot for the current command.
// A command captures the engine once and uses it for its whole transaction.
type PolicySource interface {
	Current() *policy.Engine
}

// Config holds gateway dependencies
type Config struct {
	Registry       *registry.Registry
	Policy         PolicySource
	Redactor       *redact.Redactor
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
	DefaultTimeout time.Duration
	Now            func() time.Time
}

// Gateway orchestrates tool execution
type Gateway struct {
	registry       *registry.Registry
	policy         PolicySource
	redactor       *redact.Redactor
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	defaultTimeout time.Duration
	now            func() time.Time
}

// New creates a gateway
func New(cfg Config) (*Gateway, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("policy source is required")
	}
	if cfg.Redactor == nil {
		cfg.Redactor = redact.New()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Gateway{
		registry:       cfg.Registry,
		policy:         cfg.Policy,
		redactor:       cfg.Redactor,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		defaultTimeout: cfg.DefaultTimeout,
		now:            cfg.Now,
	}, nil
}

// RunTool executes one tool invocation inside the caller's transaction.
// Every outcome, including failures before the handler is reached, leaves a
// ToolRun row and audit events behind.
func (g *Gateway) RunTool(ctx context.Context, tx *sql.Tx, toolName string, input map[string]interface{}, runCtx RunContext) Result {
	requestID, err := gonanoid.New()
	if err != nil {
		requestID = "req-fallback"
	}
	start := g.now()
	engine := g.policy.Current()

	if input == nil {
		input = map[string]interface{}{}
	}

	// The run row exists before any check so failed invocations are audited
	// the same as successful ones.
	runID, err := store.CreateToolRun(ctx, tx, store.ToolRun{
		ProfileID:   runCtx.ProfileID,
		SessionID:   runCtx.SessionID,
		RequestID:   requestID,
		ToolName:    toolName,
		ToolVersion: g.versionOf(toolName),
		Status:      string(StatusStarted),
		Input:       g.redactor.Redact(input),
	})
	if err != nil {
		return g.internalResult(toolName, requestID, start, fmt.Errorf("failed to create tool run: %w", err))
	}

	if err := g.appendEvent(ctx, tx, runCtx, EventToolCalled, runID, map[string]interface{}{
		"tool_name":  toolName,
		"request_id": requestID,
	}); err != nil {
		return g.internalResult(toolName, requestID, start, err)
	}

	// Registry lookup
	tool, err := g.registry.Lookup(toolName)
	if err != nil {
		terr := NewToolError(CodeUnknownTool, fmt.Sprintf("Unknown tool '%s'", toolName), map[string]interface{}{
			"tool_name": toolName,
		})
		return g.failRun(ctx, tx, runCtx, runID, toolName, "", requestID, start, StatusError, terr)
	}
	version := tool.Spec.Version

	// Input validation, closed-world
	if err := tool.ValidateInput(input); err != nil {
		g.metrics.ObserveSchemaFailure(toolName, "input")
		terr := schemaError(err)
		return g.failRun(ctx, tx, runCtx, runID, toolName, version, requestID, start, StatusError, terr)
	}

	// Policy evaluation
	decision := engine.Evaluate(tool.Spec, input, start)

	switch decision.Effect {
	case policy.Deny:
		g.metrics.ObserveDenial(toolName, ruleOf(decision))
		if err := g.appendEvent(ctx, tx, runCtx, EventPolicyViolation, runID, map[string]interface{}{
			"tool_name":  toolName,
			"request_id": requestID,
			"reason":     decision.Reason,
			"details":    decision.Details,
		}); err != nil {
			return g.internalResult(toolName, requestID, start, err)
		}
		terr := NewToolError(CodePolicyViolation, denyMessage(decision), decision.Details)
		return g.finalizeRun(ctx, tx, runCtx, runID, toolName, version, requestID, start, StatusError, nil, terr, false)

	case policy.RequireApproval:
		return g.suspendForApproval(ctx, tx, runCtx, runID, tool, requestID, start, decision)

	case policy.Allow:
		return g.execute(ctx, tx, runCtx, runID, tool, decision.SanitizedInput, requestID, start, "")
	}

	// Indeterminate policy outcome routes to error, never to execution
	terr := NewToolError(CodeInternal, fmt.Sprintf("Indeterminate policy effect '%s'", decision.Effect), nil)
	return g.failRun(ctx, tx, runCtx, runID, toolName, version, requestID, start, StatusError, terr)
}

// suspendForApproval persists the resumable state and returns early. The
// exact sanitized input is serialized into the approval record so resolution
// in another process re-executes what the operator reviewed.
func (g *Gateway) suspendForApproval(ctx context.Context, tx *sql.Tx, runCtx RunContext, runID string, tool *registry.Tool, requestID string, start time.Time, decision policy.Decision) Result {
	toolName := tool.Spec.Name

	approvalCtx := map[string]interface{}{
		"tool_name":      toolName,
		"tool_version":   tool.Spec.Version,
		"mode":           string(tool.Spec.Mode),
		"reason":         decision.Reason,
		"proposed_input": decision.SanitizedInput,
		"profile_id":     runCtx.ProfileID,
		"session_id":     runCtx.SessionID,
	}

	approvalID, err := store.CreateApproval(ctx, tx, runID, runCtx.ProfileID, approvalCtx)
	if err != nil {
		return g.internalResult(toolName, requestID, start, fmt.Errorf("failed to create approval: %w", err))
	}
	g.metrics.ObserveApprovalRequested()

	if err := g.appendEvent(ctx, tx, runCtx, EventApprovalRequested, runID, map[string]interface{}{
		"tool_name":   toolName,
		"request_id":  requestID,
		"approval_id": approvalID,
		"reason":      decision.Reason,
	}); err != nil {
		return g.internalResult(toolName, requestID, start, err)
	}

	data := map[string]interface{}{
		"approval_id": approvalID,
		"reason":      decision.Reason,
	}

	latency := g.msSince(start)
	if err := store.FinalizeToolRun(ctx, tx, runID, string(StatusApprovalRequired), g.redactor.Redact(data), nil, latency); err != nil {
		return g.internalResult(toolName, requestID, start, err)
	}

	g.logger.Info().
		Str("tool", toolName).
		Str("request_id", requestID).
		Str("approval_id", approvalID).
		Msg("Tool run suspended for approval")

	return Result{
		Status:      StatusApprovalRequired,
		ToolName:    toolName,
		ToolVersion: tool.Spec.Version,
		RequestID:   requestID,
		Data:        data,
		Meta:        g.meta(start),
	}
}

// Approve resolves a pending approval and resumes the suspended run. Policy
// is re-evaluated in full: the grant satisfies the human-in-the-loop
// requirement but never bypasses allowlist or bound checks, so a policy
// tightened between request and approval still denies.
func (g *Gateway) Approve(ctx context.Context, tx *sql.Tx, approvalID string, runCtx RunContext) Result {
	requestID, err := gonanoid.New()
	if err != nil {
		requestID = "req-fallback"
	}
	start := g.now()
	engine := g.policy.Current()

	approval, err := store.GetApproval(ctx, tx, approvalID)
	if err != nil {
		return g.resolutionError(approvalID, requestID, start, err)
	}

	if err := store.ResolveApproval(ctx, tx, approvalID, store.ApprovalApproved); err != nil {
		return g.resolutionError(approvalID, requestID, start, err)
	}
	g.metrics.ObserveApprovalResolved("approved")

	toolName, _ := approval.Context["tool_name"].(string)
	proposedInput, _ := approval.Context["proposed_input"].(map[string]interface{})
	if toolName == "" {
		terr := NewToolError(CodeInternal, "Malformed approval context (missing tool_name)", map[string]interface{}{
			"approval_id": approvalID,
		})
		return g.errResult(StatusError, "approval.resolve", "", requestID, start, terr)
	}
	if proposedInput == nil {
		proposedInput = map[string]interface{}{}
	}

	if err := g.appendEvent(ctx, tx, runCtx, EventApprovalGranted, approval.ToolRunID, map[string]interface{}{
		"approval_id": approvalID,
		"tool_name":   toolName,
	}); err != nil {
		return g.internalResult(toolName, requestID, start, err)
	}

	tool, err := g.registry.Lookup(toolName)
	if err != nil {
		terr := NewToolError(CodeUnknownTool, fmt.Sprintf("Unknown tool '%s'", toolName), map[string]interface{}{
			"tool_name":   toolName,
			"approval_id": approvalID,
		})
		return g.failRun(ctx, tx, runCtx, approval.ToolRunID, toolName, "", requestID, start, StatusError, terr)
	}
	version := tool.Spec.Version

	// The reviewed snapshot is validated again before execution
	if err := tool.ValidateInput(proposedInput); err != nil {
		g.metrics.ObserveSchemaFailure(toolName, "input")
		terr := schemaError(err)
		return g.failRun(ctx, tx, runCtx, approval.ToolRunID, toolName, version, requestID, start, StatusError, terr)
	}

	decision := engine.Evaluate(tool.Spec, proposedInput, start)
	if decision.Effect == policy.Deny {
		g.metrics.ObserveDenial(toolName, ruleOf(decision))
		if err := g.appendEvent(ctx, tx, runCtx, EventPolicyViolation, approval.ToolRunID, map[string]interface{}{
			"tool_name":   toolName,
			"approval_id": approvalID,
			"reason":      decision.Reason,
			"details":     decision.Details,
		}); err != nil {
			return g.internalResult(toolName, requestID, start, err)
		}
		terr := NewToolError(CodePolicyViolation, denyMessage(decision), decision.Details)
		return g.finalizeRun(ctx, tx, runCtx, approval.ToolRunID, toolName, version, requestID, start, StatusError, nil, terr, false)
	}

	// allow or require_approval both proceed: the grant satisfies the gate
	return g.execute(ctx, tx, runCtx, approval.ToolRunID, tool, decision.SanitizedInput, requestID, start, approvalID)
}

// Deny resolves a pending approval as denied and finalizes the suspended
// run. The handler is never invoked.
func (g *Gateway) Deny(ctx context.Context, tx *sql.Tx, approvalID string, runCtx RunContext) Result {
	requestID, err := gonanoid.New()
	if err != nil {
		requestID = "req-fallback"
	}
	start := g.now()

	approval, err := store.GetApproval(ctx, tx, approvalID)
	if err != nil {
		return g.resolutionError(approvalID, requestID, start, err)
	}

	if err := store.ResolveApproval(ctx, tx, approvalID, store.ApprovalDenied); err != nil {
		return g.resolutionError(approvalID, requestID, start, err)
	}
	g.metrics.ObserveApprovalResolved("denied")

	toolName, _ := approval.Context["tool_name"].(string)

	if err := g.appendEvent(ctx, tx, runCtx, EventApprovalDenied, approval.ToolRunID, map[string]interface{}{
		"approval_id": approvalID,
		"tool_name":   toolName,
	}); err != nil {
		return g.internalResult(toolName, requestID, start, err)
	}

	terr := NewToolError(CodeApprovalDenied, "Approval denied by operator", map[string]interface{}{
		"approval_id": approvalID,
	})
	return g.finalizeRun(ctx, tx, runCtx, approval.ToolRunID, toolName, g.versionOf(toolName), requestID, start, StatusDenied, nil, terr, false)
}

// ListApprovals returns approvals filtered by status, newest first
func (g *Gateway) ListApprovals(ctx context.Context, tx *sql.Tx, status string, limit int) ([]*store.Approval, error) {
	if status == "" {
		status = store.ApprovalPending
	}
	return store.ListApprovals(ctx, tx, status, limit)
}

// execute runs the handler under its deadline and finalizes the run. A
// result arriving after the deadline is discarded; stored state never
// changes once finalized.
func (g *Gateway) execute(ctx context.Context, tx *sql.Tx, runCtx RunContext, runID string, tool *registry.Tool, input map[string]interface{}, requestID string, start time.Time, approvalID string) Result {
	toolName := tool.Spec.Name
	version := tool.Spec.Version

	output, terr := g.invoke(ctx, tool, input)
	g.metrics.ObserveHandler(toolName, time.Since(start).Seconds())

	if terr != nil {
		status := StatusError
		if terr.Code == CodeTimeout {
			status = StatusTimeout
		}
		return g.failRun(ctx, tx, runCtx, runID, toolName, version, requestID, start, status, terr)
	}

	// An output failing its declared schema is a tool error, never passed
	// through silently.
	if err := tool.ValidateOutput(output); err != nil {
		g.metrics.ObserveSchemaFailure(toolName, "output")
		return g.failRun(ctx, tx, runCtx, runID, toolName, version, requestID, start, StatusError, schemaError(err))
	}

	payload := map[string]interface{}{
		"tool_name":  toolName,
		"request_id": requestID,
	}
	if approvalID != "" {
		payload["approval_id"] = approvalID
	}
	if err := g.appendEvent(ctx, tx, runCtx, EventToolSucceeded, runID, payload); err != nil {
		return g.internalResult(toolName, requestID, start, err)
	}

	return g.finalizeRun(ctx, tx, runCtx, runID, toolName, version, requestID, start, StatusOK, output, nil, true)
}

// failRun emits a tool_failed event and finalizes the run in a failure state
func (g *Gateway) failRun(ctx context.Context, tx *sql.Tx, runCtx RunContext, runID, toolName, version, requestID string, start time.Time, status Status, terr *ToolError) Result {
	if err := g.appendEvent(ctx, tx, runCtx, EventToolFailed, runID, map[string]interface{}{
		"tool_name":  toolName,
		"request_id": requestID,
		"error":      terr.AsJSON(),
	}); err != nil {
		return g.internalResult(toolName, requestID, start, err)
	}
	return g.finalizeRun(ctx, tx, runCtx, runID, toolName, version, requestID, start, status, nil, terr, false)
}

// finalizeRun persists the terminal state through the closed transition
// table and builds the result envelope.
func (g *Gateway) finalizeRun(ctx context.Context, tx *sql.Tx, runCtx RunContext, runID, toolName, version, requestID string, start time.Time, status Status, output map[string]interface{}, terr *ToolError, ok bool) Result {
	if !CanTransition(StatusStarted, status) && !CanTransition(StatusApprovalRequired, status) {
		return g.internalResult(toolName, requestID, start, fmt.Errorf("illegal transition to '%s'", status))
	}

	latency := g.msSince(start)
	var errJSON map[string]interface{}
	if terr != nil {
		errJSON = g.redactor.Redact(terr.AsJSON())
	}

	if err := store.FinalizeToolRun(ctx, tx, runID, string(status), g.redactor.Redact(output), errJSON, latency); err != nil {
		if errors.Is(err, store.ErrRunFinalized) {
			// A concurrent command won the race; the stored outcome stands
			return g.errResult(StatusError, toolName, version, requestID, start,
				NewToolError(CodeConflict, "Tool run already finalized", map[string]interface{}{"tool_run_id": runID}))
		}
		return g.internalResult(toolName, requestID, start, err)
	}
	g.metrics.ObserveRun(toolName, string(status))

	g.logger.Info().
		Str("tool", toolName).
		Str("request_id", requestID).
		Str("status", string(status)).
		Int("latency_ms", latency).
		Msg("Tool run finalized")

	if ok {
		return Result{
			Status:      StatusOK,
			ToolName:    toolName,
			ToolVersion: version,
			RequestID:   requestID,
			Data:        output,
			Meta:        g.meta(start),
		}
	}
	return g.errResult(status, toolName, version, requestID, start, terr)
}

// appendEvent persists one redacted audit event
func (g *Gateway) appendEvent(ctx context.Context, tx *sql.Tx, runCtx RunContext, eventType, runID string, payload map[string]interface{}) error {
	return store.AppendEvent(ctx, tx, store.Event{
		ProfileID: runCtx.ProfileID,
		SessionID: runCtx.SessionID,
		EventType: eventType,
		ToolRunID: runID,
		Payload:   g.redactor.Redact(payload),
	})
}

// resolutionError maps store errors from approval resolution onto the
// taxonomy: missing approvals and duplicate resolutions are distinct,
// structured outcomes.
func (g *Gateway) resolutionError(approvalID, requestID string, start time.Time, err error) Result {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return g.errResult(StatusError, "approval.resolve", "", requestID, start,
			NewToolError(CodeNotFound, "Approval not found", map[string]interface{}{"approval_id": approvalID}))
	case errors.Is(err, store.ErrApprovalConflict):
		g.metrics.ObserveApprovalConflict()
		return g.errResult(StatusError, "approval.resolve", "", requestID, start,
			NewToolError(CodeConflict, "Approval already resolved", map[string]interface{}{
				"approval_id": approvalID,
				"error":       err.Error(),
			}))
	default:
		return g.internalResult("approval.resolve", requestID, start, err)
	}
}

// internalResult reports a failed store write. The error rides along on the
// result so the boundary owner can roll the transaction back instead of
// committing whatever writes had already succeeded.
func (g *Gateway) internalResult(toolName, requestID string, start time.Time, err error) Result {
	g.logger.Error().Err(err).Str("tool", toolName).Msg("Gateway internal error")
	result := g.errResult(StatusError, toolName, "", requestID, start,
		NewToolError(CodeInternal, "Internal gateway error", map[string]interface{}{"error": err.Error()}))
	result.storeErr = err
	return result
}

func (g *Gateway) errResult(status Status, toolName, version, requestID string, start time.Time, terr *ToolError) Result {
	return Result{
		Status:      status,
		ToolName:    toolName,
		ToolVersion: version,
		RequestID:   requestID,
		Err:         terr,
		Meta:        g.meta(start),
	}
}

func (g *Gateway) meta(start time.Time) Meta {
	return Meta{
		LatencyMS: g.msSince(start),
		FetchedAt: g.now().UTC(),
		Source:    "gateway",
	}
}

func (g *Gateway) msSince(start time.Time) int {
	return int(g.now().Sub(start).Milliseconds())
}

func (g *Gateway) versionOf(toolName string) string {
	if tool, err := g.registry.Lookup(toolName); err == nil {
		return tool.Spec.Version
	}
	return ""
}

func schemaError(err error) *ToolError {
	var verr *registry.ValidationError
	if errors.As(err, &verr) {
		return NewToolError(CodeSchemaError, fmt.Sprintf("%s validation failed", verr.Side), map[string]interface{}{
			"side":   verr.Side,
			"issues": verr.Issues,
			"fields": verr.Fields,
		})
	}
	return NewToolError(CodeSchemaError, "Schema validation failed", map[string]interface{}{"error": err.Error()})
}

func denyMessage(decision policy.Decision) string {
	if decision.Reason != "" {
		return decision.Reason
	}
	return "Policy denied tool execution"
}

func ruleOf(decision policy.Decision) string {
	if rule, ok := decision.Details["rule"].(string); ok {
		return rule
	}
	return "unknown"
}
