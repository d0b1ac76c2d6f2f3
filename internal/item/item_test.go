package item

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
}

func TestDiscoverSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "20-second.sh"))
	writeFile(t, filepath.Join(dir, "10-first.sh"))
	writeFile(t, filepath.Join(dir, ".hidden.sh"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "notes"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "tools.pkg"), 0o755))

	items, err := Discover(dir)
	require.NoError(t, err)
	require.Equal(t, []Item{
		{Path: filepath.Join(dir, "10-first.sh"), Kind: Script},
		{Path: filepath.Join(dir, "20-second.sh"), Kind: Script},
		{Path: filepath.Join(dir, "tools.pkg"), Kind: Package},
	}, items)
}

func TestDiscoverMissingDir(t *testing.T) {
	items, err := Discover(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, Package, KindOf("/items/tools.pkg"))
	require.Equal(t, Package, KindOf("/items/Tools.MPKG"))
	require.Equal(t, Script, KindOf("/items/setup.sh"))
	require.Equal(t, Script, KindOf("/items/setup"))
}

func TestPolicyStrings(t *testing.T) {
	require.Equal(t, "once", Once.String())
	require.Equal(t, "every", Every.String())
	require.Equal(t, "standard", Standard.String())
	require.Equal(t, "elevated", Elevated.String())
}
