package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorderRegistersAllSeries(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.BuildStarted("app", "file_change")
	pr.BuildFinished("app", OutcomeSuccess, 900*time.Millisecond)
	pr.BuildKilled("app")
	pr.SetDiagnostics("app", 2, 5)
	pr.OutputLine("app", "stdout")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		got[mf.GetName()] = true
	}
	for _, want := range []string{
		"buildwatch_builds_started_total",
		"buildwatch_builds_finished_total",
		"buildwatch_builds_killed_total",
		"buildwatch_build_duration_seconds",
		"buildwatch_diagnostics",
		"buildwatch_diagnostic_files",
		"buildwatch_output_lines_total",
	} {
		if !got[want] {
			t.Errorf("metric %s was not registered", want)
		}
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.BuildStarted("app", "manual")
	pr.BuildFinished("app", OutcomeFailed, time.Second)
	pr.BuildKilled("app")
	pr.SetDiagnostics("app", 0, 0)
	pr.OutputLine("app", "stderr")
}
