//go:build !windows

package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	"git.home.luguber.info/inful/buildwatch/internal/events"
)

// fakeCompiler writes a shell script standing in for the wrapped compiler.
func fakeCompiler(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakeqx.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testOptions(compiler string) Options {
	return Options{
		CompilerCommand: compiler,
		BaseArgs:        []string{},
		MachineArgs:     []string{},
		Debounce:        50 * time.Millisecond,
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestBuildPublishesLifecycleAndOutput(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	compiler := fakeCompiler(t, `echo 'compiling...'`)
	cfg := builder.BuilderConfig{Name: "app", WorkDir: t.TempDir()}

	o, err := New(cfg, bus, testOptions(compiler))
	require.NoError(t, err)

	started, unsub1 := events.Subscribe[events.BuildStarted](bus, 8)
	defer unsub1()
	output, unsub2 := events.Subscribe[events.BuildOutput](bus, 64)
	defer unsub2()
	finished, unsub3 := events.Subscribe[events.BuildFinished](bus, 8)
	defer unsub3()

	require.NoError(t, o.Build(context.Background(), "manual"))

	start := waitFor(t, started, 5*time.Second, "BuildStarted")
	assert.Equal(t, "app", start.Builder)
	assert.Equal(t, "manual", start.Reason)
	assert.NotEmpty(t, start.Attempt)

	end := waitFor(t, finished, 5*time.Second, "BuildFinished")
	assert.Equal(t, start.Attempt, end.Attempt)
	assert.Equal(t, 0, end.ExitCode)

	var lines []string
	for len(lines) < 3 {
		evt := waitFor(t, output, 5*time.Second, "BuildOutput")
		lines = append(lines, evt.Line)
	}
	assert.Contains(t, lines, "####START####")
	assert.Contains(t, lines, "compiling...")
	assert.Contains(t, lines, "####END####")

	require.Eventually(t, func() bool { return o.LiveAttempts() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestBuildCollectsDiagnostics(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	compiler := fakeCompiler(t, `echo '##my.Class:[3,1]:[3,10]:error: Something broke'`)
	workDir := t.TempDir()
	cfg := builder.BuilderConfig{Name: "app", WorkDir: workDir}

	o, err := New(cfg, bus, testOptions(compiler))
	require.NoError(t, err)

	updated, unsub := events.Subscribe[events.DiagnosticsUpdated](bus, 16)
	defer unsub()
	finished, unsubFin := events.Subscribe[events.BuildFinished](bus, 8)
	defer unsubFin()

	require.NoError(t, o.Build(context.Background(), "manual"))
	waitFor(t, finished, 5*time.Second, "BuildFinished")

	// First update is the reset, a later one carries the parsed issue.
	reset := waitFor(t, updated, 5*time.Second, "reset update")
	assert.Zero(t, reset.Total)
	applied := waitFor(t, updated, 5*time.Second, "diagnostic update")
	assert.Equal(t, 1, applied.Total)

	snap := o.Diagnostics().Snapshot()
	require.Len(t, snap[workDir], 1)
	diag := snap[workDir][0]
	assert.Equal(t, "Something broke (no source file found)", diag.Message)
	assert.Equal(t, 2, diag.Start.Line)
	assert.Equal(t, 1, diag.Start.Col)
}

func TestBuildEscalatesSyntaxErrors(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	compiler := fakeCompiler(t, `echo 'SyntaxError: unexpected token in Main.js' 1>&2`)
	cfg := builder.BuilderConfig{Name: "app", WorkDir: t.TempDir()}

	o, err := New(cfg, bus, testOptions(compiler))
	require.NoError(t, err)

	problems, unsub := events.Subscribe[events.BuilderProblem](bus, 8)
	defer unsub()

	require.NoError(t, o.Build(context.Background(), "manual"))

	problem := waitFor(t, problems, 5*time.Second, "BuilderProblem")
	assert.Contains(t, problem.Message, "SyntaxError")
}

func TestBuildKillsPreviousAttempt(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	compiler := fakeCompiler(t, `sleep 30`)
	cfg := builder.BuilderConfig{Name: "app", WorkDir: t.TempDir()}

	o, err := New(cfg, bus, testOptions(compiler))
	require.NoError(t, err)

	killed, unsub := events.Subscribe[events.BuildKilled](bus, 8)
	defer unsub()
	started, unsubStarted := events.Subscribe[events.BuildStarted](bus, 8)
	defer unsubStarted()

	ctx := context.Background()
	require.NoError(t, o.Build(ctx, "first"))
	first := waitFor(t, started, 5*time.Second, "first BuildStarted")

	require.NoError(t, o.Build(ctx, "second"))
	waitFor(t, started, 5*time.Second, "second BuildStarted")

	kill := waitFor(t, killed, 5*time.Second, "BuildKilled")
	assert.Equal(t, first.Attempt, kill.Attempt)
	assert.LessOrEqual(t, o.LiveAttempts(), 1, "never two live compiler processes")

	o.Stop(ctx)
	assert.Zero(t, o.LiveAttempts())
}

func TestStartWatchesAndRebuildsOnChange(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	workDir := t.TempDir()
	srcDir := filepath.Join(workDir, "source", "class")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	compiler := fakeCompiler(t, `echo 'ok'`)
	cfg := builder.BuilderConfig{
		Name:        "app",
		WorkDir:     workDir,
		SourcePaths: []string{"source/class"},
	}

	o, err := New(cfg, bus, testOptions(compiler))
	require.NoError(t, err)

	started, unsub := events.Subscribe[events.BuildStarted](bus, 16)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(ctx)

	initial := waitFor(t, started, 5*time.Second, "initial build")
	assert.Equal(t, "start", initial.Reason)
	assert.Equal(t, StateWatching, o.State())
	assert.NotEmpty(t, o.WatchedPaths())

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "Main.js"), []byte("qx.Class.define();\n"), 0o644))

	rebuild := waitFor(t, started, 10*time.Second, "debounced rebuild")
	assert.Equal(t, "file_change", rebuild.Reason)
}

func TestWatchIgnoresOtherExtensionsAndOutputDir(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	workDir := t.TempDir()
	srcDir := filepath.Join(workDir, "source")
	outDir := filepath.Join(workDir, "source", "compiled")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.MkdirAll(outDir, 0o755))

	compiler := fakeCompiler(t, `echo 'ok'`)
	cfg := builder.BuilderConfig{Name: "app", WorkDir: workDir, SourcePaths: []string{"source"}}

	o, err := New(cfg, bus, testOptions(compiler))
	require.NoError(t, err)

	started, unsub := events.Subscribe[events.BuildStarted](bus, 16)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(ctx)

	waitFor(t, started, 5*time.Second, "initial build")

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "readme.txt"), []byte("notes\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "Generated.js"), []byte("_\n"), 0o644))

	select {
	case evt := <-started:
		t.Fatalf("unexpected rebuild for filtered change: %+v", evt)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestDebounceCoalescesBursts(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	workDir := t.TempDir()
	srcDir := filepath.Join(workDir, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	compiler := fakeCompiler(t, `echo 'ok'`)
	opts := testOptions(compiler)
	opts.Debounce = 250 * time.Millisecond
	cfg := builder.BuilderConfig{Name: "app", WorkDir: workDir, SourcePaths: []string{"src"}}

	o, err := New(cfg, bus, opts)
	require.NoError(t, err)

	started, unsub := events.Subscribe[events.BuildStarted](bus, 16)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(ctx)

	waitFor(t, started, 5*time.Second, "initial build")

	for i := 0; i < 3; i++ {
		name := filepath.Join(srcDir, "Burst"+string(rune('A'+i))+".js")
		require.NoError(t, os.WriteFile(name, []byte("x\n"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	waitFor(t, started, 5*time.Second, "coalesced rebuild")

	select {
	case evt := <-started:
		t.Fatalf("burst produced a second rebuild: %+v", evt)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestStopLeavesNothingBehind(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "src"), 0o755))

	compiler := fakeCompiler(t, `sleep 30`)
	cfg := builder.BuilderConfig{Name: "app", WorkDir: workDir, SourcePaths: []string{"src"}}

	o, err := New(cfg, bus, testOptions(compiler))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	require.NotEmpty(t, o.WatchedPaths())

	o.Stop(ctx)

	assert.Equal(t, StateStopped, o.State())
	assert.Empty(t, o.WatchedPaths(), "no active watches after stop")
	assert.Zero(t, o.LiveAttempts(), "no live processes after stop")

	// Idempotent.
	o.Stop(ctx)
	assert.Equal(t, StateStopped, o.State())
}

func TestUpdateConfigIdenticalIsNoOp(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "src"), 0o755))

	compiler := fakeCompiler(t, `echo 'ok'`)
	cfg := builder.BuilderConfig{Name: "app", WorkDir: workDir, SourcePaths: []string{"src"}}

	o, err := New(cfg, bus, testOptions(compiler))
	require.NoError(t, err)

	started, unsub := events.Subscribe[events.BuildStarted](bus, 16)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(ctx)
	waitFor(t, started, 5*time.Second, "initial build")

	same := builder.BuilderConfig{Name: "app", WorkDir: workDir, SourcePaths: []string{"src"}}
	require.NoError(t, o.UpdateConfig(ctx, same))

	assert.Equal(t, StateWatching, o.State())
	select {
	case evt := <-started:
		t.Fatalf("identical config caused a restart: %+v", evt)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestUpdateConfigChangeRestarts(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "lib"), 0o755))

	compiler := fakeCompiler(t, `echo 'ok'`)
	cfg := builder.BuilderConfig{Name: "app", WorkDir: workDir, SourcePaths: []string{"src"}}

	o, err := New(cfg, bus, testOptions(compiler))
	require.NoError(t, err)

	started, unsub := events.Subscribe[events.BuildStarted](bus, 16)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(ctx)
	waitFor(t, started, 5*time.Second, "initial build")

	changed := builder.BuilderConfig{Name: "app", WorkDir: workDir, SourcePaths: []string{"src", "lib"}}
	require.NoError(t, o.UpdateConfig(ctx, changed))

	restart := waitFor(t, started, 5*time.Second, "restart build")
	assert.Equal(t, "start", restart.Reason)
	assert.Equal(t, changed, o.Config())
	assert.Equal(t, StateWatching, o.State())
}

func TestUpdateConfigWhileStoppedJustStores(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	cfg := builder.BuilderConfig{Name: "app", WorkDir: t.TempDir()}
	o, err := New(cfg, bus, testOptions(fakeCompiler(t, `echo 'ok'`)))
	require.NoError(t, err)

	next := builder.BuilderConfig{Name: "app", WorkDir: cfg.WorkDir, CompilerArgs: []string{"--target=source"}}
	require.NoError(t, o.UpdateConfig(context.Background(), next))

	assert.Equal(t, StateStopped, o.State())
	assert.Equal(t, next, o.Config())
}

func TestToJSONSnapshotsResolvedConfig(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	cfg := builder.BuilderConfig{
		Name:         "app",
		WorkDir:      t.TempDir(),
		CompilerArgs: []string{"compile", "--target=build"},
		SourcePaths:  []string{"source/class"},
	}
	o, err := New(cfg, bus, testOptions(fakeCompiler(t, `echo 'ok'`)))
	require.NoError(t, err)

	data, err := o.ToJSON()
	require.NoError(t, err)

	var got builder.BuilderConfig
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Equal(o.Config()))
}

func TestBuildSpawnFailure(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	cfg := builder.BuilderConfig{Name: "app", WorkDir: filepath.Join(t.TempDir(), "missing")}
	o, err := New(cfg, bus, testOptions("qx"))
	require.NoError(t, err)

	require.Error(t, o.Build(context.Background(), "manual"))
	assert.Zero(t, o.LiveAttempts())
}

func TestStartIsIdempotent(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "src"), 0o755))
	cfg := builder.BuilderConfig{Name: "app", WorkDir: workDir, SourcePaths: []string{"src"}}

	o, err := New(cfg, bus, testOptions(fakeCompiler(t, `echo 'ok'`)))
	require.NoError(t, err)

	started, unsub := events.Subscribe[events.BuildStarted](bus, 16)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(ctx)
	waitFor(t, started, 5*time.Second, "initial build")

	require.NoError(t, o.Start(ctx))
	select {
	case evt := <-started:
		t.Fatalf("second Start triggered a build: %+v", evt)
	case <-time.After(300 * time.Millisecond):
	}
}
