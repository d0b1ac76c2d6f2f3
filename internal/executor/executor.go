// Package executor runs discovered items as child processes and captures
// their exit status. Output is streamed to the log sink line-by-line as
// it arrives, so long-running items leave incremental evidence.
package executor

import (
	"context"
	"log/slog"

	"github.com/go-cmd/cmd"

	"github.com/stagecoach-mdm/stagecoach/internal/item"
)

// ExitCouldNotLaunch is the distinguished code reported when the child
// process could not be started at all (missing interpreter, exec
// permission denied at the OS level).
const ExitCouldNotLaunch = -1

// installerArgs builds the platform package-installation command line,
// non-interactive and targeting the system volume.
func installerArgs(pkgPath string) (string, []string) {
	return "installer", []string{"-pkg", pkgPath, "-target", "/"}
}

// Result is the outcome of one execution.
type Result struct {
	// ExitCode is the child's numeric exit status; 0 is success,
	// ExitCouldNotLaunch means the process never started.
	ExitCode int
	// Err carries the launch error when ExitCode is ExitCouldNotLaunch.
	Err error
}

// Success reports whether the item exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner is the execution interface the processor depends on. Tests
// substitute a recording implementation.
type Runner interface {
	Run(ctx context.Context, it item.Item) Result
}

// Executor runs items with go-cmd streaming. The executor itself has no
// side effects beyond spawning; whatever the item does to the system is
// the item's purpose.
type Executor struct {
	logger *slog.Logger
}

// New returns an Executor logging output to logger.
func New(logger *slog.Logger) *Executor {
	return &Executor{logger: logger}
}

// Run executes one item and blocks until it finishes. A started item
// always runs to completion; cancellation only prevents starting.
func (e *Executor) Run(ctx context.Context, it item.Item) Result {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: ExitCouldNotLaunch, Err: err}
	}

	switch it.Kind {
	case item.Package:
		name, args := installerArgs(it.Path)
		return e.runStreaming(it, name, args...)
	default:
		// Scripts are spawned directly with no arguments and inherit
		// only the parent's environment.
		return e.runStreaming(it, it.Path)
	}
}

// runStreaming starts the command unbuffered with line streaming enabled
// and forwards every output line to the log sink as it arrives.
func (e *Executor) runStreaming(it item.Item, name string, args ...string) Result {
	c := cmd.NewCmdOptions(cmd.Options{
		Buffered:  false, // don't hold output until completion
		Streaming: true,
	}, name, args...)

	statusChan := c.Start()

	stdout := c.Stdout
	stderr := c.Stderr
	for stdout != nil || stderr != nil {
		select {
		case line, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			e.logger.Info("item output", "item", it.Name(), "line", line)
		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			e.logger.Info("item output", "item", it.Name(), "stream", "stderr", "line", line)
		}
	}

	final := <-statusChan
	if final.Error != nil {
		return Result{ExitCode: ExitCouldNotLaunch, Err: final.Error}
	}
	return Result{ExitCode: final.Exit}
}
