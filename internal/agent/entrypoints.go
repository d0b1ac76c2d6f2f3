package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stagecoach-mdm/stagecoach/internal/config"
	"github.com/stagecoach-mdm/stagecoach/internal/item"
	"github.com/stagecoach-mdm/stagecoach/internal/trigger"
)

// Boot runs the boot-time passes. The once pass is gated on network
// readiness (when the network-wait preference is set); a timeout skips
// only the once pass, the every pass always proceeds.
func (a *Agent) Boot(ctx context.Context) error {
	a.logger.Info("boot processing started")

	if err := a.ensureDirs(config.BootOnceDir, config.BootEveryDir); err != nil {
		return err
	}

	runOnce := true
	wait, err := a.db.NetworkWait()
	if err != nil {
		return fmt.Errorf("read network-wait preference: %w", err)
	}
	if wait {
		timeoutSecs, err := a.db.NetworkTimeout()
		if err != nil {
			return fmt.Errorf("read network-timeout preference: %w", err)
		}
		if !a.gate.Wait(ctx, time.Duration(timeoutSecs)*time.Second) {
			a.logger.Error("network not available, skipping boot-once items")
			runOnce = false
		}
	}

	if runOnce {
		pol := item.Policy{Cadence: item.Once, Privilege: item.Elevated, DeleteAfterRun: true}
		if _, err := a.proc.Run(ctx, a.cfg.Dir(config.BootOnceDir), pol, elevatedUser); err != nil {
			return err
		}
	}

	pol := item.Policy{Cadence: item.Every, Privilege: item.Elevated}
	if _, err := a.proc.Run(ctx, a.cfg.Dir(config.BootEveryDir), pol, elevatedUser); err != nil {
		return err
	}

	a.logger.Info("boot processing finished")
	return nil
}

// Login runs the standard login passes for username and, when either
// privileged directory has work waiting, raises the privileged-login
// trigger for the external scheduler's privileged phase.
func (a *Agent) Login(ctx context.Context, username string) error {
	skip, err := a.skipForIgnoredUser(username)
	if err != nil || skip {
		return err
	}

	a.logger.Info("login processing started", "user", username)

	if err := a.ensureDirs(config.LoginOnceDir, config.LoginEveryDir); err != nil {
		return err
	}

	if _, err := a.proc.Run(ctx, a.cfg.Dir(config.LoginOnceDir),
		item.Policy{Cadence: item.Once, Privilege: item.Standard}, username); err != nil {
		return err
	}
	if _, err := a.proc.Run(ctx, a.cfg.Dir(config.LoginEveryDir),
		item.Policy{Cadence: item.Every, Privilege: item.Standard}, username); err != nil {
		return err
	}

	pending, err := a.privilegedWorkPending()
	if err != nil {
		return err
	}
	if pending {
		if err := a.loginPrivileged.Create(); err != nil {
			return fmt.Errorf("raise privileged-login trigger: %w", err)
		}
		a.logger.Info("privileged login items pending, trigger raised")
	}

	a.logger.Info("login processing finished", "user", username)
	return nil
}

// LoginPrivileged runs the privileged login passes. The trigger is
// consumed before any item processing, so a crash mid-pass does not
// re-trigger indefinitely; the pass still executes even when another
// actor cleared the trigger first.
func (a *Agent) LoginPrivileged(ctx context.Context, username string) error {
	skip, err := a.skipForIgnoredUser(username)
	if err != nil || skip {
		return err
	}

	present, err := a.loginPrivileged.CheckAndDelete()
	if err != nil {
		return err
	}
	a.logger.Info("privileged login processing started",
		"user", username,
		"trigger_present", present,
	)

	if err := a.ensureDirs(config.LoginPrivilegedOnceDir, config.LoginPrivilegedEvery); err != nil {
		return err
	}

	if _, err := a.proc.Run(ctx, a.cfg.Dir(config.LoginPrivilegedOnceDir),
		item.Policy{Cadence: item.Once, Privilege: item.Elevated}, username); err != nil {
		return err
	}
	if _, err := a.proc.Run(ctx, a.cfg.Dir(config.LoginPrivilegedEvery),
		item.Policy{Cadence: item.Every, Privilege: item.Elevated}, username); err != nil {
		return err
	}

	a.logger.Info("privileged login processing finished", "user", username)
	return nil
}

// OnDemand runs the on-demand directory and schedules the deferred
// cleanup sweep. The cleanup trigger is raised the moment the pass
// begins; the sweep fires after a fixed delay regardless of how long the
// pass takes.
func (a *Agent) OnDemand(ctx context.Context, username string) error {
	a.logger.Info("on-demand processing started", "user", username)

	if err := a.ensureDirs(config.OnDemandDir); err != nil {
		return err
	}

	if err := a.cleanup.Create(); err != nil {
		return fmt.Errorf("raise cleanup trigger: %w", err)
	}

	sweeper, err := trigger.NewSweeper(a.cleanup, a.cfg.Dir(config.OnDemandDir), a.sweepDelay, a.logger)
	if err != nil {
		return fmt.Errorf("create cleanup sweeper: %w", err)
	}
	if err := sweeper.Schedule(); err != nil {
		return fmt.Errorf("schedule cleanup sweep: %w", err)
	}

	if _, err := a.proc.Run(ctx, a.cfg.Dir(config.OnDemandDir),
		item.Policy{Cadence: item.Every, Privilege: item.Standard}, username); err != nil {
		return err
	}

	a.logger.Info("on-demand processing finished, awaiting cleanup sweep", "user", username)
	return sweeper.Wait()
}

// LoginEvery is the manual entry point for the login-every directory.
func (a *Agent) LoginEvery(ctx context.Context, username string) error {
	skip, err := a.skipForIgnoredUser(username)
	if err != nil || skip {
		return err
	}
	if err := a.ensureDirs(config.LoginEveryDir); err != nil {
		return err
	}
	_, err = a.proc.Run(ctx, a.cfg.Dir(config.LoginEveryDir),
		item.Policy{Cadence: item.Every, Privilege: item.Standard}, username)
	return err
}

// LoginOnce is the manual entry point for the login-once directory.
func (a *Agent) LoginOnce(ctx context.Context, username string) error {
	skip, err := a.skipForIgnoredUser(username)
	if err != nil || skip {
		return err
	}
	if err := a.ensureDirs(config.LoginOnceDir); err != nil {
		return err
	}
	_, err = a.proc.Run(ctx, a.cfg.Dir(config.LoginOnceDir),
		item.Policy{Cadence: item.Once, Privilege: item.Standard}, username)
	return err
}

// Cleanup is the external scheduler's own cleanup phase: consume the
// cleanup trigger and clear the on-demand directory. Safe to run whether
// or not the deferred sweep already did the same work.
func (a *Agent) Cleanup() error {
	present, err := a.cleanup.CheckAndDelete()
	if err != nil {
		return err
	}
	a.logger.Info("cleanup started", "trigger_present", present)

	dir := a.cfg.Dir(config.OnDemandDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list on-demand directory: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			a.logger.Error("failed to remove on-demand item", "path", path, "error", err)
			continue
		}
		a.logger.Info("removed on-demand item", "path", path)
	}
	return nil
}

// ensureDirs creates the managed directories an entry point is about to
// process, so a fresh installation works before any provisioning drops
// items in place.
func (a *Agent) ensureDirs(categories ...string) error {
	for _, cat := range categories {
		if err := os.MkdirAll(a.cfg.Dir(cat), 0o755); err != nil {
			return fmt.Errorf("create managed directory %s: %w", a.cfg.Dir(cat), err)
		}
	}
	return nil
}

// skipForIgnoredUser reports whether username is exempt from login-phase
// processing. Exempt users get zero executions and zero history writes.
func (a *Agent) skipForIgnoredUser(username string) (bool, error) {
	ignored, err := a.db.IsUserIgnored(username)
	if err != nil {
		return false, fmt.Errorf("read ignored users: %w", err)
	}
	if ignored {
		a.logger.Info("user is in the ignored set, skipping", "user", username)
	}
	return ignored, nil
}

// privilegedWorkPending reports whether either privileged login
// directory currently holds items.
func (a *Agent) privilegedWorkPending() (bool, error) {
	for _, cat := range []string{config.LoginPrivilegedOnceDir, config.LoginPrivilegedEvery} {
		items, err := item.Discover(a.cfg.Dir(cat))
		if err != nil {
			return false, err
		}
		if len(items) > 0 {
			return true, nil
		}
	}
	return false, nil
}
