package cli

import (
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/gapura/internal/config"
	"github.com/harun/gapura/internal/logger"
	"github.com/harun/gapura/internal/metrics"
	"github.com/harun/gapura/internal/server"
	"github.com/harun/gapura/pkg/connectors"
	"github.com/harun/gapura/pkg/gateway"
	"github.com/harun/gapura/pkg/policy"
	"github.com/harun/gapura/pkg/redact"
	"github.com/harun/gapura/pkg/registry"
	"github.com/harun/gapura/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway as an HTTP service",
	Long: `Run the always-on gateway. Serve mode watches the policy document for
changes, exposes the HTTP and websocket API, serves Prometheus metrics, and
expires pending approvals that outlive their TTL.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Server.SharedSecret == "" {
		return fmt.Errorf("server.shared_secret is required in serve mode (set GAPURA_SERVER_SHARED_SECRET)")
	}

	logCfg := toLoggerConfig(cfg.Logging)
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	redactor := redact.New()
	log, err := logger.New(logCfg, redactor)
	if err != nil {
		return err
	}
	defer log.Close()
	zl := log.Zerolog()

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	// Serve mode watches the policy document; edits apply between commands
	// without a restart.
	policySrc, err := newServePolicy(cfg.PolicyPath, zl)
	if err != nil {
		return err
	}
	defer policySrc.stop()

	reg := registry.New()
	if err := reg.RegisterAll(connectors.Builtin(connectors.Deps{})); err != nil {
		return err
	}

	m := metrics.NewMetrics()

	gw, err := gateway.New(gateway.Config{
		Registry:       reg,
		Policy:         policySrc,
		Redactor:       redactor,
		Metrics:        m,
		Logger:         zl,
		DefaultTimeout: millis(cfg.Tools.DefaultTimeoutMS),
	})
	if err != nil {
		return err
	}

	sessionID, err := gonanoid.New()
	if err != nil {
		return err
	}
	sessionID = "serve-" + sessionID

	ctx := cmd.Context()
	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		return store.EnsureProfile(ctx, tx, cfg.Profile.ID, cfg.Profile.DisplayName, cfg.Profile.Timezone)
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		SharedSecret: cfg.Server.SharedSecret,
		Store:        st,
		Gateway:      gw,
		Metrics:      m,
		Logger:       zl,
		ProfileID:    cfg.Profile.ID,
		SessionID:    sessionID,
	})
	if err != nil {
		return err
	}

	sweeper := server.NewSweeper(st, gw, m, zl,
		time.Duration(cfg.Approvals.TTLHours)*time.Hour,
		gateway.RunContext{ProfileID: cfg.Profile.ID, SessionID: sessionID})
	if err := sweeper.Start(cfg.Approvals.SweepSchedule); err != nil {
		return fmt.Errorf("invalid approvals.sweep_schedule: %w", err)
	}
	defer sweeper.Stop()

	if err := srv.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zl.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	return srv.Stop()
}

// servePolicy is the serve-mode policy source: a live file watcher when the
// policy document exists, the restrictive defaults otherwise.
type servePolicy struct {
	reloader *policy.Reloader
	static   *policy.Static
}

func newServePolicy(path string, zl zerolog.Logger) (*servePolicy, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		zl.Warn().Str("path", path).Msg("No policy file, using restrictive defaults")
		return &servePolicy{static: policy.NewStatic(policy.DefaultConfig())}, nil
	}
	r, err := policy.NewReloader(path, zl)
	if err != nil {
		return nil, err
	}
	return &servePolicy{reloader: r}, nil
}

func (p *servePolicy) Current() *policy.Engine {
	if p.reloader != nil {
		return p.reloader.Current()
	}
	return p.static.Current()
}

func (p *servePolicy) stop() {
	if p.reloader != nil {
		p.reloader.Stop()
	}
}
