// Package processor implements the per-directory processing pass: the
// single consumer of the permission validator, trust store, run history,
// and executor.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/stagecoach-mdm/stagecoach/internal/executor"
	"github.com/stagecoach-mdm/stagecoach/internal/history"
	"github.com/stagecoach-mdm/stagecoach/internal/item"
	"github.com/stagecoach-mdm/stagecoach/internal/permission"
	"github.com/stagecoach-mdm/stagecoach/internal/trust"
)

// Summary counts what one pass did.
type Summary struct {
	// Executed items, regardless of their exit status.
	Executed int
	// Skipped items: permission-rejected, ineligible, or untrusted.
	Skipped int
	// Failed executions (nonzero exit or launch failure).
	Failed int
}

// Processor orchestrates one pass over a managed directory.
type Processor struct {
	perm    *permission.Validator
	trust   *trust.Store
	history *history.History
	runner  executor.Runner
	logger  *slog.Logger

	// now is a clock seam for tests.
	now func() time.Time
}

// New wires a Processor from its collaborators.
func New(perm *permission.Validator, ts *trust.Store, hist *history.History, runner executor.Runner, logger *slog.Logger) *Processor {
	return &Processor{
		perm:    perm,
		trust:   ts,
		history: hist,
		runner:  runner,
		logger:  logger,
		now:     time.Now,
	}
}

// Run processes every item in dir under the given policy for username.
// Entries are visited in name order; no entry's failure aborts the rest
// of the pass. The returned error aggregates store I/O failures only —
// per-item permission, trust, and execution failures are contained and
// reflected in the Summary.
func (p *Processor) Run(ctx context.Context, dir string, pol item.Policy, username string) (Summary, error) {
	var sum Summary
	var storeErrs []error

	items, err := item.Discover(dir)
	if err != nil {
		return sum, err
	}
	if len(items) == 0 {
		p.logger.Debug("no items to process", "dir", dir)
		return sum, nil
	}

	p.logger.Info("processing directory",
		"dir", dir,
		"items", len(items),
		"cadence", pol.Cadence.String(),
		"privilege", pol.Privilege.String(),
		"user", username,
	)

	for _, it := range items {
		// Ownership and writability policy. A rejected item stays on
		// disk untouched and leaves no history.
		if verdict := p.perm.Validate(it); !verdict.OK {
			p.logger.Error("item failed permission check, skipping",
				"item", it.Path,
				"reason", verdict.Reason,
			)
			sum.Skipped++
			continue
		}

		if pol.Cadence == item.Once {
			eligible, err := p.history.Eligible(username, it.Path)
			if err != nil {
				storeErrs = append(storeErrs, err)
				sum.Skipped++
				continue
			}
			if !eligible {
				p.logger.Debug("item already run for user, skipping",
					"item", it.Path,
					"user", username,
				)
				sum.Skipped++
				continue
			}
		}

		// Checksum allow-list. An untrusted item is left on disk for
		// forensic inspection: no execution, no history, no deletion.
		verdict, err := p.trust.Verify(it)
		if err != nil {
			p.logger.Error("trust verification failed, skipping",
				"item", it.Path,
				"error", err,
			)
			sum.Skipped++
			continue
		}
		if verdict == trust.Untrusted {
			p.logger.Error("item failed trust verification, skipping",
				"item", it.Path,
			)
			sum.Skipped++
			continue
		}

		result := p.runner.Run(ctx, it)
		sum.Executed++
		switch {
		case result.ExitCode == executor.ExitCouldNotLaunch:
			sum.Failed++
			p.logger.Error("item could not be launched",
				"item", it.Path,
				"error", result.Err,
			)
		case !result.Success():
			sum.Failed++
			p.logger.Error("item exited with failure",
				"item", it.Path,
				"exit", result.ExitCode,
			)
		default:
			p.logger.Info("item executed",
				"item", it.Path,
				"exit", result.ExitCode,
			)
		}

		// A once-item is recorded no matter how the execution went, so a
		// permanently failing item cannot retry on every pass.
		if pol.Cadence == item.Once {
			if err := p.history.RecordRun(username, it.Path, p.now()); err != nil {
				p.logger.Error("failed to record run", "item", it.Path, "error", err)
				storeErrs = append(storeErrs, err)
			}
		}

		if pol.DeleteAfterRun {
			if err := os.RemoveAll(it.Path); err != nil {
				p.logger.Error("failed to delete item after run", "item", it.Path, "error", err)
			} else {
				p.logger.Debug("item deleted after run", "item", it.Path)
			}
		}
	}

	return sum, errors.Join(storeErrs...)
}
