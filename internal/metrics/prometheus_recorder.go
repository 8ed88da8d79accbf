package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	buildsStarted *prom.CounterVec
	buildsDone    *prom.CounterVec
	buildsKilled  *prom.CounterVec
	buildDuration *prom.HistogramVec
	diagnostics   *prom.GaugeVec
	diagFiles     *prom.GaugeVec
	outputLines   *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.buildsStarted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildwatch",
			Name:      "builds_started_total",
			Help:      "Build attempts started, by builder and trigger reason",
		}, []string{"builder", "reason"})
		pr.buildsDone = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildwatch",
			Name:      "builds_finished_total",
			Help:      "Build attempts that ran to completion, by outcome",
		}, []string{"builder", "outcome"})
		pr.buildsKilled = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildwatch",
			Name:      "builds_killed_total",
			Help:      "Build attempts killed before completion",
		}, []string{"builder"})
		pr.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "buildwatch",
			Name:      "build_duration_seconds",
			Help:      "Duration of completed build attempts",
			Buckets:   prom.DefBuckets,
		}, []string{"builder"})
		pr.diagnostics = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "buildwatch",
			Name:      "diagnostics",
			Help:      "Diagnostics currently held for the builder's last attempt",
		}, []string{"builder"})
		pr.diagFiles = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "buildwatch",
			Name:      "diagnostic_files",
			Help:      "Files carrying at least one diagnostic for the builder's last attempt",
		}, []string{"builder"})
		pr.outputLines = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildwatch",
			Name:      "output_lines_total",
			Help:      "Compiler output lines streamed, by stream",
		}, []string{"builder", "stream"})
		reg.MustRegister(pr.buildsStarted, pr.buildsDone, pr.buildsKilled, pr.buildDuration,
			pr.diagnostics, pr.diagFiles, pr.outputLines)
	})
	return pr
}

func (p *PrometheusRecorder) BuildStarted(builder, reason string) {
	if p == nil || p.buildsStarted == nil {
		return
	}
	p.buildsStarted.WithLabelValues(builder, reason).Inc()
}

func (p *PrometheusRecorder) BuildFinished(builder string, outcome Outcome, d time.Duration) {
	if p == nil || p.buildsDone == nil {
		return
	}
	p.buildsDone.WithLabelValues(builder, string(outcome)).Inc()
	p.buildDuration.WithLabelValues(builder).Observe(d.Seconds())
}

func (p *PrometheusRecorder) BuildKilled(builder string) {
	if p == nil || p.buildsKilled == nil {
		return
	}
	p.buildsKilled.WithLabelValues(builder).Inc()
}

func (p *PrometheusRecorder) SetDiagnostics(builder string, files, total int) {
	if p == nil || p.diagnostics == nil {
		return
	}
	p.diagnostics.WithLabelValues(builder).Set(float64(total))
	p.diagFiles.WithLabelValues(builder).Set(float64(files))
}

func (p *PrometheusRecorder) OutputLine(builder, stream string) {
	if p == nil || p.outputLines == nil {
		return
	}
	p.outputLines.WithLabelValues(builder, stream).Inc()
}
