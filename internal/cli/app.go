package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/gapura/internal/config"
	"github.com/harun/gapura/internal/logger"
	"github.com/harun/gapura/pkg/connectors"
	"github.com/harun/gapura/pkg/gateway"
	"github.com/harun/gapura/pkg/policy"
	"github.com/harun/gapura/pkg/redact"
	"github.com/harun/gapura/pkg/registry"
	"github.com/harun/gapura/pkg/store"
)

// app holds the wired components shared by every command
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	gateway  *gateway.Gateway
	redactor *redact.Redactor
	registry *registry.Registry
	runCtx   gateway.RunContext
}

// newApp loads config and wires the one-shot command stack. One-shot
// commands read the policy document once; only serve mode watches it.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg := toLoggerConfig(cfg.Logging)
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	redactor := redact.New()
	log, err := logger.New(logCfg, redactor)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Close()
		return nil, err
	}

	policyCfg, err := loadPolicy(cfg.PolicyPath)
	if err != nil {
		st.Close()
		log.Close()
		return nil, err
	}

	reg := registry.New()
	if err := reg.RegisterAll(connectors.Builtin(connectors.Deps{})); err != nil {
		st.Close()
		log.Close()
		return nil, err
	}

	gw, err := gateway.New(gateway.Config{
		Registry:       reg,
		Policy:         policy.NewStatic(policyCfg),
		Redactor:       redactor,
		Logger:         log.Zerolog(),
		DefaultTimeout: millis(cfg.Tools.DefaultTimeoutMS),
	})
	if err != nil {
		st.Close()
		log.Close()
		return nil, err
	}

	sessionID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		gateway:  gw,
		redactor: redactor,
		registry: reg,
		runCtx: gateway.RunContext{
			ProfileID: cfg.Profile.ID,
			SessionID: "cli-" + sessionID,
			Channel:   "cli",
		},
	}, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}

// withIdentity runs fn inside one committed transaction, ensuring the
// profile and session rows exist first.
func (a *app) withIdentity(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return a.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.EnsureProfile(ctx, tx, a.cfg.Profile.ID, a.cfg.Profile.DisplayName, a.cfg.Profile.Timezone); err != nil {
			return err
		}
		if err := store.EnsureSession(ctx, tx, a.runCtx.SessionID, a.runCtx.ProfileID, a.runCtx.Channel); err != nil {
			return err
		}
		return fn(tx)
	})
}

// loadPolicy reads the policy document, falling back to the restrictive
// defaults when no file exists yet.
func loadPolicy(path string) (*policy.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return policy.DefaultConfig(), nil
	}
	return policy.LoadConfig(path)
}

func toLoggerConfig(lc config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:     lc.Level,
		File:      lc.File,
		Console:   true,
		Pretty:    true,
		Redaction: lc.Redaction,
		MaxSize:   lc.MaxSize,
		MaxAge:    lc.MaxAge,
		Compress:  lc.Compress,
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// printJSON renders v as indented JSON on stdout
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
