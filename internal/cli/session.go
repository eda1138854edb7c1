package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/idmerge/internal/config"
	"github.com/roach88/idmerge/internal/engine"
	"github.com/roach88/idmerge/internal/metrics"
	"github.com/roach88/idmerge/internal/notify"
	"github.com/roach88/idmerge/internal/store"
)

// session is the configured store and engine behind one command.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	engine   *engine.Engine
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	engineOpts []engine.Option
}

// loadConfig resolves the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(o.Config))
	if err != nil {
		return nil, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.Driver != "" {
		cfg.Driver = o.Driver
	}
	return cfg, nil
}

// logger writes text records to stderr at the configured level, or Debug
// with --verbose.
func (o *RootOptions) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := cfg.Level()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openSession loads config, opens the database and builds the engine.
// Failures are reported through f and returned wrapped with an exit code.
func (o *RootOptions) openSession(cmd *cobra.Command, f *OutputFormatter) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		var details any
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			details = cfgErr.Errors
		}
		_ = f.Error(ErrCodeConfig, err.Error(), details)
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := o.logger(cmd, cfg)

	logger.Debug("opening database", "path", cfg.Database, "driver", cfg.Driver)
	st, err := store.Open(cfg.Database,
		store.WithDriver(cfg.Driver),
		store.WithBusyTimeout(cfg.BusyTimeoutMS),
		store.WithLogger(logger))
	if err != nil {
		msg := fmt.Sprintf("failed to open database %s", cfg.Database)
		_ = f.Error(ErrCodeDatabase, fmt.Sprintf("%s: %v", msg, err), nil)
		return nil, WrapExitError(ExitCommandError, msg, err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	idgen := o.IDGenerator
	if idgen == nil {
		idgen = notify.UUIDv7Generator{}
	}
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithSelf(cfg.SelfACI()),
		engine.WithSelfE164(cfg.SelfE164()),
		engine.WithStrict(cfg.Strict),
		engine.WithIDGenerator(idgen),
	}

	return &session{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		engine:     engine.New(st, opts...),
		metrics:    m,
		registry:   reg,
		engineOpts: opts,
	}, nil
}

// withNotifier rebuilds the engine so committed change sets go to n.
func (s *session) withNotifier(n notify.Notifier) {
	opts := append(slices.Clip(s.engineOpts), engine.WithNotifier(n))
	s.engine = engine.New(s.store, opts...)
}

// Close closes the store, logging rather than returning a failure.
func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}
