package trigger

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper schedules the deferred on-demand cleanup: a one-shot job that
// fires after a fixed delay, independent of how long the on-demand pass
// itself runs, consumes the cleanup trigger, and removes whatever is
// still sitting in the on-demand directory. It is a safety sweep: the
// external scheduler's own cleanup phase may already have run, so every
// step tolerates its target being absent.
type Sweeper struct {
	scheduler gocron.Scheduler
	trigger   Trigger
	dir       string
	delay     time.Duration
	logger    *slog.Logger
}

// NewSweeper returns a Sweeper that clears trigger and dir after delay.
func NewSweeper(trigger Trigger, dir string, delay time.Duration, logger *slog.Logger) (*Sweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		scheduler: s,
		trigger:   trigger,
		dir:       dir,
		delay:     delay,
		logger:    logger,
	}, nil
}

// Schedule arms the one-shot sweep job and starts the scheduler.
func (s *Sweeper) Schedule() error {
	_, err := s.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(s.delay))),
		gocron.NewTask(s.sweep),
		gocron.WithName("on-demand-cleanup"),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	return nil
}

// Wait blocks until the armed sweep has had time to fire, then shuts the
// scheduler down. The on-demand entry point calls this so the process
// outlives its deferred job.
func (s *Sweeper) Wait() error {
	time.Sleep(s.delay + time.Second)
	return s.scheduler.Shutdown()
}

// sweep consumes the trigger and clears the on-demand directory.
func (s *Sweeper) sweep() {
	present, err := s.trigger.CheckAndDelete()
	if err != nil {
		s.logger.Error("cleanup sweep failed to consume trigger", "error", err)
	} else if !present {
		s.logger.Debug("cleanup trigger already consumed")
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("cleanup sweep failed to list directory", "dir", s.dir, "error", err)
		}
		return
	}
	for _, e := range entries {
		path := filepath.Join(s.dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Error("cleanup sweep failed to remove item", "path", path, "error", err)
			continue
		}
		s.logger.Info("cleanup sweep removed leftover item", "path", path)
	}
}
