package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	logger := New(path, false)
	logger.Info("item executed", "item", "setup.sh", "exit", 0)
	logger.Info("second entry")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "[INFO] item executed item=setup.sh exit=0")
	require.Contains(t, lines[1], "[INFO] second entry")
}

func TestDebugSuppressedByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	logger := New(path, false)
	logger.Debug("noise")
	logger.Info("signal")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "noise")
	require.Contains(t, string(data), "signal")
}

func TestDebugEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	logger := New(path, true)
	logger.Debug("detail", "k", "v")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "[DEBUG] detail k=v")
}

func TestWithAttrsCarriedIntoFileLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	logger := New(path, false).With("user", "alice")
	logger.Info("login processing started")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "login processing started user=alice")
}

func TestUnopenableFileFallsBackToConsole(t *testing.T) {
	// A directory path cannot be opened as a file.
	logger := New(t.TempDir(), false)
	require.NotNil(t, logger)
	logger.Info("still works")
}

func TestSequentialInvocationsAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	New(path, false).Info("first")
	New(path, false).Info("second")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "first")
	require.Contains(t, string(data), "second")
}
