package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/gapura/internal/metrics"
	"github.com/harun/gapura/pkg/gateway"
	"github.com/harun/gapura/pkg/store"
)

// Sweeper denies pending approvals that outlived their TTL. An unattended
// approval must eventually fail closed rather than stay actionable forever.
type Sweeper struct {
	store   *store.Store
	gateway *gateway.Gateway
	metrics *metrics.Metrics
	logger  zerolog.Logger
	ttl     time.Duration
	cron    *cron.Cron
	runCtx  gateway.RunContext
}

// NewSweeper creates a sweeper. A non-positive ttl disables it.
func NewSweeper(st *store.Store, gw *gateway.Gateway, m *metrics.Metrics, logger zerolog.Logger, ttl time.Duration, runCtx gateway.RunContext) *Sweeper {
	runCtx.Channel = "system"
	return &Sweeper{
		store:   st,
		gateway: gw,
		metrics: m,
		logger:  logger,
		ttl:     ttl,
		runCtx:  runCtx,
	}
}

// Start schedules the sweep. schedule is a cron expression or @every form.
func (s *Sweeper) Start(schedule string) error {
	if s.ttl <= 0 {
		s.logger.Info().Msg("Approval expiry disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, s.Sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	s.logger.Info().Str("schedule", schedule).Dur("ttl", s.ttl).Msg("Approval expiry sweep started")
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep denies every pending approval older than the TTL. Each denial goes
// through the normal resolution path in its own transaction, so it leaves
// the same audit trail as an operator denial.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.ttl)

	var stale []*store.Approval
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		stale, err = store.ListStaleApprovals(ctx, tx, cutoff, 100)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Approval expiry sweep failed to list")
		return
	}

	for _, approval := range stale {
		expired, err := s.expire(ctx, approval)
		if err != nil {
			s.logger.Error().Err(err).Str("approval_id", approval.ID).Msg("Failed to expire approval")
			continue
		}
		if !expired {
			// Resolved by an operator between the list and the deny; that
			// resolution stands and is not an expiry.
			continue
		}
		s.metrics.ObserveApprovalExpired()
		s.logger.Info().
			Str("approval_id", approval.ID).
			Time("requested_at", approval.RequestedAt).
			Msg("Expired pending approval")
	}
}

// expire denies one stale approval in its own transaction. It reports whether
// the approval actually expired: a conflict means an operator resolved it
// first, which is not an expiry.
func (s *Sweeper) expire(ctx context.Context, approval *store.Approval) (bool, error) {
	var expired bool
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.EnsureSession(ctx, tx, s.runCtx.SessionID, s.runCtx.ProfileID, s.runCtx.Channel); err != nil {
			return err
		}
		result := s.gateway.Deny(ctx, tx, approval.ID, s.runCtx)
		if err := result.InternalError(); err != nil {
			return err
		}
		expired = result.Status == gateway.StatusDenied
		return nil
	})
	return expired, err
}
