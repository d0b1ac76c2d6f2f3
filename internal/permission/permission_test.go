package permission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stagecoach-mdm/stagecoach/internal/item"
)

// newTestValidator requires ownership by the test user so the policy can
// be exercised without root.
func newTestValidator() *Validator {
	return &Validator{RequiredOwner: uint32(os.Getuid())}
}

func writeWithMode(t *testing.T, dir, name string, mode os.FileMode) item.Item {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o700))
	require.NoError(t, os.Chmod(path, mode))
	return item.Item{Path: path, Kind: item.Script}
}

func TestValidateAccepts(t *testing.T) {
	v := newTestValidator()
	dir := t.TempDir()

	for _, mode := range []os.FileMode{0o700, 0o755, 0o644} {
		it := writeWithMode(t, dir, "ok.sh", mode)
		verdict := v.Validate(it)
		require.True(t, verdict.OK, "mode %04o: %s", mode, verdict.Reason)
	}
}

func TestValidateRejectsGroupOrOtherWritable(t *testing.T) {
	v := newTestValidator()
	dir := t.TempDir()

	for _, mode := range []os.FileMode{0o775, 0o757, 0o777, 0o722} {
		it := writeWithMode(t, dir, "loose.sh", mode)
		verdict := v.Validate(it)
		require.False(t, verdict.OK, "mode %04o must be rejected", mode)
		require.Contains(t, verdict.Reason, "writable")
	}
}

func TestValidateRejectsWrongOwner(t *testing.T) {
	v := &Validator{RequiredOwner: uint32(os.Getuid()) + 1}
	it := writeWithMode(t, t.TempDir(), "owned.sh", 0o700)

	verdict := v.Validate(it)
	require.False(t, verdict.OK)
	require.Contains(t, verdict.Reason, "owned by uid")
}

func TestValidateRejectsMissingFile(t *testing.T) {
	v := newTestValidator()
	verdict := v.Validate(item.Item{Path: filepath.Join(t.TempDir(), "gone.sh")})
	require.False(t, verdict.OK)
	require.Contains(t, verdict.Reason, "stat failed")
}
