// Package history tracks which once-cadence items each user has already
// run, and the administrative override epochs that re-enable them.
package history

import (
	"fmt"
	"time"

	"github.com/stagecoach-mdm/stagecoach/internal/store"
)

// History answers once-cadence eligibility questions and records runs.
// Elevated passes use a different user key than standard passes, so
// root's history never shadows the console user's.
type History struct {
	db *store.Store
}

// New returns a History backed by db.
func New(db *store.Store) *History {
	return &History{db: db}
}

// HasRun reports whether (username, itemPath) has a run record.
func (h *History) HasRun(username, itemPath string) (bool, error) {
	rec, err := h.db.GetRun(username, itemPath)
	if err != nil {
		return false, fmt.Errorf("read run history: %w", err)
	}
	return rec != nil, nil
}

// Eligible reports whether a once-cadence item should run for username.
// An item is eligible iff it has no run record, or an override epoch
// exists that is strictly newer than the recorded run.
func (h *History) Eligible(username, itemPath string) (bool, error) {
	rec, err := h.db.GetRun(username, itemPath)
	if err != nil {
		return false, fmt.Errorf("read run history: %w", err)
	}
	if rec == nil {
		return true, nil
	}

	override, err := h.db.GetOverride(itemPath)
	if err != nil {
		return false, fmt.Errorf("read override: %w", err)
	}
	return override != nil && override.AddedAt.After(rec.RanAt), nil
}

// RecordRun durably records that username attempted itemPath at the given
// time. Recorded regardless of execution outcome, so a permanently
// failing item cannot block every subsequent boot or login.
func (h *History) RecordRun(username, itemPath string, when time.Time) error {
	if err := h.db.RecordRun(username, itemPath, when); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}
