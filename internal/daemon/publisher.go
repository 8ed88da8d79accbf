package daemon

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/buildwatch/internal/config"
	"git.home.luguber.info/inful/buildwatch/internal/events"
	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
)

// eventEnvelope is the JSON frame published to NATS for every build event.
type eventEnvelope struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
	Event any       `json:"event"`
}

// EventPublisher mirrors build lifecycle events onto a NATS subject so other
// systems (CI dashboards, notifiers) can follow builds without polling the
// status server. Output lines are not mirrored; subscribers who need raw
// compiler output should use the websocket stream.
type EventPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewEventPublisher connects to the configured NATS server. The connection is
// retried internally by the client; only the initial connect is fail-fast.
func NewEventPublisher(cfg config.NATSConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return nil, ferrors.ConfigError("NATS publishing is disabled").Build()
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("buildwatch"))
	if err != nil {
		return nil, ferrors.DaemonError("cannot connect to NATS").
			WithCause(err).
			WithContext("url", cfg.URL).
			Build()
	}

	slog.Info("NATS publisher connected",
		slog.String("url", cfg.URL),
		slog.String("subject", cfg.Subject))

	return &EventPublisher{conn: conn, subject: cfg.Subject}, nil
}

// Run consumes the bus and publishes until the bus is closed.
func (p *EventPublisher) Run(bus *events.Bus) {
	all, cancel := events.Subscribe[any](bus, 64)
	defer cancel()

	for raw := range all {
		switch evt := raw.(type) {
		case events.BuildStarted:
			p.publish("build_started", evt)
		case events.BuildKilled:
			p.publish("build_killed", evt)
		case events.BuildFinished:
			p.publish("build_finished", evt)
		case events.DiagnosticsUpdated:
			p.publish("diagnostics_updated", evt)
		case events.BuilderProblem:
			p.publish("builder_problem", evt)
		case events.ReconcileError:
			p.publish("reconcile_error", evt)
		case events.BuilderSetChanged:
			p.publish("builder_set_changed", evt)
		}
	}
}

// publish sends one envelope. Failures are logged, never propagated; a NATS
// outage must not affect builds.
func (p *EventPublisher) publish(msgType string, evt any) {
	data, err := json.Marshal(eventEnvelope{Type: msgType, Time: time.Now(), Event: evt})
	if err != nil {
		slog.Error("Cannot marshal build event", logfields.Error(err))
		return
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		slog.Warn("Cannot publish build event",
			slog.String("subject", p.subject),
			logfields.Error(err))
	}
}

// Close flushes and closes the NATS connection.
func (p *EventPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
