package processor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stagecoach-mdm/stagecoach/internal/executor"
	"github.com/stagecoach-mdm/stagecoach/internal/history"
	"github.com/stagecoach-mdm/stagecoach/internal/item"
	"github.com/stagecoach-mdm/stagecoach/internal/permission"
	"github.com/stagecoach-mdm/stagecoach/internal/store"
	"github.com/stagecoach-mdm/stagecoach/internal/trust"
)

// mockRunner records every item handed to it and returns scripted exit
// codes per path (zero when unscripted).
type mockRunner struct {
	exitCodes map[string]int
	ran       []string
}

func (m *mockRunner) Run(_ context.Context, it item.Item) executor.Result {
	m.ran = append(m.ran, it.Path)
	return executor.Result{ExitCode: m.exitCodes[it.Path]}
}

type fixture struct {
	proc   *Processor
	runner *mockRunner
	db     *store.Store
	trust  *trust.Store
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runner := &mockRunner{exitCodes: map[string]int{}}
	perm := &permission.Validator{RequiredOwner: uint32(os.Getuid())}
	ts := trust.New(db)
	proc := New(perm, ts, history.New(db), runner, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &fixture{proc: proc, runner: runner, db: db, trust: ts, dir: t.TempDir()}
}

func (f *fixture) writeItem(t *testing.T, name string) item.Item {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o700))
	return item.Item{Path: path, Kind: item.KindOf(name)}
}

func TestOncePassIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.writeItem(t, "10-first.sh")
	f.writeItem(t, "20-second.sh")
	pol := item.Policy{Cadence: item.Once, Privilege: item.Standard}

	sum, err := f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Equal(t, Summary{Executed: 2}, sum)
	require.Equal(t, []string{
		filepath.Join(f.dir, "10-first.sh"),
		filepath.Join(f.dir, "20-second.sh"),
	}, f.runner.ran)

	sum, err = f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Equal(t, Summary{Skipped: 2}, sum)
	require.Len(t, f.runner.ran, 2, "no second execution")
}

func TestEveryPassRunsEachTime(t *testing.T) {
	f := newFixture(t)
	f.writeItem(t, "task.sh")
	pol := item.Policy{Cadence: item.Every, Privilege: item.Standard}

	for i := 0; i < 3; i++ {
		sum, err := f.proc.Run(context.Background(), f.dir, pol, "alice")
		require.NoError(t, err)
		require.Equal(t, Summary{Executed: 1}, sum)
	}
	require.Len(t, f.runner.ran, 3)

	// Every-cadence leaves no run history behind.
	runs, err := f.db.GetAllRuns()
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestFailedOnceItemIsStillRecorded(t *testing.T) {
	f := newFixture(t)
	it := f.writeItem(t, "broken.sh")
	f.runner.exitCodes[it.Path] = 1
	pol := item.Policy{Cadence: item.Once, Privilege: item.Standard}

	sum, err := f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Equal(t, Summary{Executed: 1, Failed: 1}, sum)

	// The failure is final: no retry on the next pass.
	sum, err = f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Equal(t, Summary{Skipped: 1}, sum)
}

func TestOverrideReopensOnceItem(t *testing.T) {
	f := newFixture(t)
	it := f.writeItem(t, "setup.sh")
	pol := item.Policy{Cadence: item.Once, Privilege: item.Standard}

	_, err := f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Len(t, f.runner.ran, 1)

	require.NoError(t, f.db.AddOverride(it.Path, time.Now().Add(time.Minute)))

	sum, err := f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Equal(t, Summary{Executed: 1}, sum)
	require.Len(t, f.runner.ran, 2)

	// The re-run closes the override window again.
	sum, err = f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Equal(t, Summary{Skipped: 1}, sum)
}

func TestPermissionRejectLeavesItemUntouched(t *testing.T) {
	f := newFixture(t)
	it := f.writeItem(t, "loose.sh")
	require.NoError(t, os.Chmod(it.Path, 0o777))
	pol := item.Policy{Cadence: item.Once, Privilege: item.Standard, DeleteAfterRun: true}

	sum, err := f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Equal(t, Summary{Skipped: 1}, sum)
	require.Empty(t, f.runner.ran)

	// Still on disk, still unrecorded.
	_, err = os.Stat(it.Path)
	require.NoError(t, err)
	runs, err := f.db.GetAllRuns()
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestUntrustedItemIsSkipped(t *testing.T) {
	f := newFixture(t)
	trusted := f.writeItem(t, "trusted.sh")
	f.writeItem(t, "unknown.sh")

	_, err := f.trust.Record(trusted)
	require.NoError(t, err)

	pol := item.Policy{Cadence: item.Every, Privilege: item.Standard}
	sum, err := f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Equal(t, Summary{Executed: 1, Skipped: 1}, sum)
	require.Equal(t, []string{trusted.Path}, f.runner.ran)
}

func TestEmptyAllowListBypassesTrust(t *testing.T) {
	f := newFixture(t)
	f.writeItem(t, "anything.sh")

	pol := item.Policy{Cadence: item.Every, Privilege: item.Standard}
	sum, err := f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)
	require.Equal(t, Summary{Executed: 1}, sum)
}

func TestDeleteAfterRun(t *testing.T) {
	f := newFixture(t)
	ok := f.writeItem(t, "once.sh")
	failing := f.writeItem(t, "zz-broken.sh")
	f.runner.exitCodes[failing.Path] = 1
	pol := item.Policy{Cadence: item.Once, Privilege: item.Elevated, DeleteAfterRun: true}

	sum, err := f.proc.Run(context.Background(), f.dir, pol, "root")
	require.NoError(t, err)
	require.Equal(t, Summary{Executed: 2, Failed: 1}, sum)

	// Deletion happens regardless of exit status.
	_, err = os.Stat(ok.Path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(failing.Path)
	require.True(t, os.IsNotExist(err))
}

func TestMissingDirectoryIsQuietNoOp(t *testing.T) {
	f := newFixture(t)
	sum, err := f.proc.Run(context.Background(), filepath.Join(f.dir, "absent"),
		item.Policy{Cadence: item.Every, Privilege: item.Standard}, "alice")
	require.NoError(t, err)
	require.Zero(t, sum)
}

func TestHistoryScopedPerUser(t *testing.T) {
	f := newFixture(t)
	f.writeItem(t, "setup.sh")
	pol := item.Policy{Cadence: item.Once, Privilege: item.Standard}

	_, err := f.proc.Run(context.Background(), f.dir, pol, "alice")
	require.NoError(t, err)

	sum, err := f.proc.Run(context.Background(), f.dir, pol, "bob")
	require.NoError(t, err)
	require.Equal(t, Summary{Executed: 1}, sum, "bob's first login still runs it")
}
