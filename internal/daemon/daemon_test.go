//go:build !windows

package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildwatch/internal/builder"
	"git.home.luguber.info/inful/buildwatch/internal/config"
	"git.home.luguber.info/inful/buildwatch/internal/events"
	"git.home.luguber.info/inful/buildwatch/internal/orchestrator"
)

func fakeCompiler(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakeqx.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func writeMarker(t *testing.T, dir, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, builder.MarkerFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(compiler string) *config.Config {
	return &config.Config{
		Compiler: config.CompilerConfig{
			Command:     compiler,
			BaseArgs:    []string{},
			MachineArgs: []string{},
		},
		Watch: config.WatchConfig{Debounce: "50ms", OutputDir: "compiled"},
		HTTP:  config.HTTPConfig{Addr: "127.0.0.1:0"},
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

func startDaemon(t *testing.T, cfg *config.Config, opts Options) *Daemon {
	t.Helper()
	d, err := New(cfg, opts)
	require.NoError(t, err)
	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestDaemonStartServesStatus(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, `{"builders": [{"name": "app"}]}`)

	d := startDaemon(t, testConfig("qx"), Options{Roots: []string{dir}})
	base := "http://" + d.HTTPAddr()

	var health map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, base+"/health", &health))
	assert.Equal(t, "running", health["status"])

	var status statusResponse
	require.Equal(t, http.StatusOK, getJSON(t, base+"/api/status", &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, d.InstanceID(), status.InstanceID)
	require.Len(t, status.Workspaces, 1)
	require.Len(t, status.Workspaces[0].Builders, 1)
	assert.Equal(t, "app", status.Workspaces[0].Builders[0].Name)
	assert.Equal(t, "stopped", status.Workspaces[0].Builders[0].State)

	var listings []builderListing
	require.Equal(t, http.StatusOK, getJSON(t, base+"/api/builders", &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "app", listings[0].Config.Name)
	assert.Equal(t, dir, listings[0].Config.WorkDir)
}

func TestDaemonTriggerBuildEndpoint(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, `{"builders": [{"name": "app"}]}`)

	compiler := fakeCompiler(t, `echo ok`)
	d := startDaemon(t, testConfig(compiler), Options{Roots: []string{dir}})
	base := "http://" + d.HTTPAddr()

	finished, cancel := events.Subscribe[events.BuildFinished](d.bus, 1)
	defer cancel()

	resp, err := http.Post(base+"/api/build/trigger", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"app"}, body["triggered"])

	evt := waitFor(t, finished, 5*time.Second, "build to finish")
	assert.Equal(t, "app", evt.Builder)
	assert.Equal(t, 0, evt.ExitCode)
}

func TestDaemonTriggerBuildUnknownBuilder(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, `{"builders": [{"name": "app"}]}`)

	d := startDaemon(t, testConfig("qx"), Options{Roots: []string{dir}})

	resp, err := http.Post("http://"+d.HTTPAddr()+"/api/build/trigger?builder=nope", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Trigger is POST-only.
	getResp, err := http.Get("http://" + d.HTTPAddr() + "/api/build/trigger")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestDaemonHistoryRecordsAttempts(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, `{"builders": [{"name": "app"}]}`)

	cfg := testConfig(fakeCompiler(t, `echo ok`))
	cfg.History = config.HistoryConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "history.db"),
	}
	d := startDaemon(t, cfg, Options{Roots: []string{dir}})
	base := "http://" + d.HTTPAddr()

	finished, cancel := events.Subscribe[events.BuildFinished](d.bus, 1)
	defer cancel()

	_, err := d.TriggerBuild("app", "manual")
	require.NoError(t, err)
	waitFor(t, finished, 5*time.Second, "build to finish")

	require.Eventually(t, func() bool {
		attempts, err := d.History().Recent(t.Context(), "app", 10)
		return err == nil && len(attempts) == 1 && attempts[0].Finished
	}, 5*time.Second, 20*time.Millisecond, "attempt should be recorded as finished")

	var attempts []historyAttemptView
	require.Equal(t, http.StatusOK, getJSON(t, base+"/api/history?builder=app", &attempts))
	require.Len(t, attempts, 1)
	assert.Equal(t, "app", attempts[0].Builder)
	assert.Equal(t, "manual", attempts[0].Reason)
	assert.Equal(t, 0, attempts[0].ExitCode)
}

// historyAttemptView mirrors the wire shape of /api/history entries.
type historyAttemptView struct {
	Builder  string `json:"builder"`
	Reason   string `json:"reason"`
	ExitCode int    `json:"exit_code"`
	Finished bool   `json:"finished"`
}

func TestDaemonMetricsEndpointScrapes(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, `{"builders": [{"name": "app"}]}`)

	cfg := testConfig(fakeCompiler(t, `echo ok`))
	cfg.HTTP.Metrics = config.MetricsConfig{Enabled: true, Path: "/metrics"}
	d := startDaemon(t, cfg, Options{Roots: []string{dir}})
	base := "http://" + d.HTTPAddr()

	finished, cancel := events.Subscribe[events.BuildFinished](d.bus, 1)
	defer cancel()
	_, err := d.TriggerBuild("", "manual")
	require.NoError(t, err)
	waitFor(t, finished, 5*time.Second, "build to finish")

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		return resp.StatusCode == http.StatusOK &&
			strings.Contains(string(body), "buildwatch_builds_started_total") &&
			strings.Contains(string(body), "buildwatch_builds_finished_total")
	}, 5*time.Second, 50*time.Millisecond, "metrics should expose build counters")
}

func TestDaemonWatchAllStartsWatching(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, `{"builders": [{"name": "app"}, {"name": "lib"}]}`)

	compiler := fakeCompiler(t, `echo ok`)
	d := startDaemon(t, testConfig(compiler), Options{Roots: []string{dir}, WatchAll: true})

	for _, o := range d.Registry().Builders() {
		assert.Equal(t, orchestrator.StateWatching, o.State(), o.Name())
	}

	require.NoError(t, d.Stop(t.Context()))
	for _, o := range d.Registry().Builders() {
		assert.Equal(t, orchestrator.StateStopped, o.State(), o.Name())
	}
}

func TestDaemonDoubleStartRejected(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, `{"builders": [{"name": "app"}]}`)

	d := startDaemon(t, testConfig("qx"), Options{Roots: []string{dir}})

	err := d.Start(t.Context())
	require.Error(t, err)

	require.NoError(t, d.Stop(t.Context()))
	assert.Equal(t, StatusStopped, d.Status())
	// Stop is idempotent.
	require.NoError(t, d.Stop(t.Context()))
}

func TestDaemonBindFailureFailsStart(t *testing.T) {
	dir := t.TempDir()
	writeMarker(t, dir, `{"builders": [{"name": "app"}]}`)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig("qx")
	cfg.HTTP.Addr = ln.Addr().String()

	d, err := New(cfg, Options{Roots: []string{dir}})
	require.NoError(t, err)

	err = d.Start(t.Context())
	require.Error(t, err)
	assert.Equal(t, StatusError, d.Status())
}

func TestDaemonRequiresConfigAndRoots(t *testing.T) {
	_, err := New(nil, Options{Roots: []string{"."}})
	require.Error(t, err)

	_, err = New(testConfig("qx"), Options{})
	require.Error(t, err)
}
