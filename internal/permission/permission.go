// Package permission enforces the ownership and writability policy on
// discovered items. Items run with elevated or user privilege, so a file
// writable by anyone other than its owner is a privilege-escalation
// vector and must never execute.
package permission

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/stagecoach-mdm/stagecoach/internal/item"
)

// Verdict is the result of validating one item. Rejection is data, not an
// error: the processor logs it and skips the item.
type Verdict struct {
	OK     bool
	Reason string
}

// Validator checks items against the ownership/permission policy.
type Validator struct {
	// RequiredOwner is the uid that must own every item. Production use
	// is root (0); tests point it at the test user.
	RequiredOwner uint32
}

// New returns a Validator requiring root ownership.
func New() *Validator {
	return &Validator{RequiredOwner: 0}
}

// Validate checks the item's owner and mode. It never mutates anything.
func (v *Validator) Validate(it item.Item) Verdict {
	var st unix.Stat_t
	if err := unix.Stat(it.Path, &st); err != nil {
		return Verdict{Reason: fmt.Sprintf("stat failed: %v", err)}
	}

	if st.Uid != v.RequiredOwner {
		return Verdict{Reason: fmt.Sprintf("owned by uid %d, require uid %d", st.Uid, v.RequiredOwner)}
	}

	if st.Mode&0o022 != 0 {
		return Verdict{Reason: fmt.Sprintf("writable by group or other (mode %04o)", st.Mode&0o777)}
	}

	return Verdict{OK: true}
}
