// Package agent wires the lifecycle entry points the external process
// scheduler invokes: boot, login, privileged login, on-demand, the manual
// login passes, and cleanup.
package agent

import (
	"errors"
	"log/slog"
	"time"

	"github.com/stagecoach-mdm/stagecoach/internal/config"
	"github.com/stagecoach-mdm/stagecoach/internal/executor"
	"github.com/stagecoach-mdm/stagecoach/internal/history"
	"github.com/stagecoach-mdm/stagecoach/internal/netwait"
	"github.com/stagecoach-mdm/stagecoach/internal/permission"
	"github.com/stagecoach-mdm/stagecoach/internal/processor"
	"github.com/stagecoach-mdm/stagecoach/internal/store"
	"github.com/stagecoach-mdm/stagecoach/internal/trigger"
	"github.com/stagecoach-mdm/stagecoach/internal/trust"
)

// ErrNotPrivileged is returned when an administrative command is invoked
// without the privileged system identity. It is fatal: the process exits
// nonzero with no state mutated.
var ErrNotPrivileged = errors.New("requires the privileged system identity (root)")

// elevatedUser keys run history for passes that execute as root on the
// device's behalf rather than for a console user.
const elevatedUser = "root"

// Agent holds the engine's wired components for one invocation. Each
// invocation is a separate OS process; cross-invocation coordination is
// the store's durability and trigger-file existence.
type Agent struct {
	cfg    *config.Config
	db     *store.Store
	logger *slog.Logger

	runner    executor.Runner
	validator *permission.Validator
	prober    netwait.Prober

	trust   *trust.Store
	history *history.History
	proc    *processor.Processor
	gate    *netwait.Gate

	loginPrivileged trigger.Trigger
	cleanup         trigger.Trigger

	sweepDelay time.Duration
}

// Option overrides a component, mainly as a test seam.
type Option func(*Agent)

// WithRunner substitutes the executor.
func WithRunner(r executor.Runner) Option {
	return func(a *Agent) { a.runner = r }
}

// WithValidator substitutes the permission validator.
func WithValidator(v *permission.Validator) Option {
	return func(a *Agent) { a.validator = v }
}

// WithProber substitutes the network reachability probe.
func WithProber(p netwait.Prober) Option {
	return func(a *Agent) { a.prober = p }
}

// WithTriggers substitutes both trigger channels.
func WithTriggers(loginPrivileged, cleanup trigger.Trigger) Option {
	return func(a *Agent) {
		a.loginPrivileged = loginPrivileged
		a.cleanup = cleanup
	}
}

// WithSweepDelay overrides the deferred cleanup delay.
func WithSweepDelay(d time.Duration) Option {
	return func(a *Agent) { a.sweepDelay = d }
}

// New assembles an Agent from the loaded configuration and open store.
func New(cfg *config.Config, db *store.Store, logger *slog.Logger, opts ...Option) *Agent {
	a := &Agent{
		cfg:             cfg,
		db:              db,
		logger:          logger,
		runner:          executor.New(logger),
		validator:       permission.New(),
		prober:          netwait.NewHTTPProber(cfg.ProbeURL),
		loginPrivileged: trigger.NewFile(cfg.LoginPrivilegedTrigger()),
		cleanup:         trigger.NewFile(cfg.CleanupTrigger()),
		sweepDelay:      time.Duration(cfg.CleanupDelaySeconds) * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.trust = trust.New(db)
	a.history = history.New(db)
	a.proc = processor.New(a.validator, a.trust, a.history, a.runner, logger)
	a.gate = netwait.New(a.prober, logger)
	return a
}

// Trust exposes the trust store for the administrative commands.
func (a *Agent) Trust() *trust.Store {
	return a.trust
}
