package daemon

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"git.home.luguber.info/inful/buildwatch/internal/events"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
	"git.home.luguber.info/inful/buildwatch/internal/version"
)

const socketWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status server binds to loopback by default; UI pages served from
	// anywhere may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// socketMessage is the envelope for every frame sent to websocket clients.
type socketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// helloPayload is sent once per connection. Clients compare InstanceID against
// their last seen value to detect a daemon restart and drop stale state.
type helloPayload struct {
	InstanceID string `json:"instance_id"`
	Version    string `json:"version"`
}

// SocketHub streams bus events to websocket clients. Compiler output lines
// arrive in bursts of hundreds per build, so they pass through a rate limiter;
// lifecycle and diagnostics events are always delivered.
type SocketHub struct {
	bus        *events.Bus
	instanceID string

	mu    sync.RWMutex
	conns map[*websocket.Conn]*sync.Mutex

	outputLimiter *rate.Limiter
}

// NewSocketHub creates a hub for the given bus.
func NewSocketHub(bus *events.Bus, instanceID string) *SocketHub {
	return &SocketHub{
		bus:           bus,
		instanceID:    instanceID,
		conns:         make(map[*websocket.Conn]*sync.Mutex),
		outputLimiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 20),
	}
}

// Run consumes the bus and broadcasts until the bus is closed. A single
// ordered subscription keeps frames in publish order for every client.
func (h *SocketHub) Run() {
	all, cancel := events.Subscribe[any](h.bus, 64)
	defer cancel()

	for raw := range all {
		switch evt := raw.(type) {
		case events.BuildStarted:
			h.broadcast("build_started", evt)
		case events.BuildKilled:
			h.broadcast("build_killed", evt)
		case events.BuildFinished:
			h.broadcast("build_finished", evt)
		case events.DiagnosticsUpdated:
			h.broadcast("diagnostics_updated", evt)
		case events.BuilderProblem:
			h.broadcast("builder_problem", evt)
		case events.ReconcileError:
			h.broadcast("reconcile_error", evt)
		case events.BuilderSetChanged:
			h.broadcast("builder_set_changed", evt)
		case events.BuildOutput:
			if !h.outputLimiter.Allow() {
				continue
			}
			h.broadcast("build_output", evt)
		}
	}
}

// HandleSocket upgrades the request and keeps the connection registered until
// the client goes away. The read loop only exists to detect disconnects;
// clients do not send commands.
func (h *SocketHub) HandleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Cannot upgrade websocket connection", logfields.Error(err))
		return
	}
	// The server's ReadTimeout set a deadline on the underlying conn before
	// the hijack; clear it or idle clients get dropped after 30s.
	_ = conn.SetReadDeadline(time.Time{})

	h.mu.Lock()
	h.conns[conn] = &sync.Mutex{}
	total := len(h.conns)
	h.mu.Unlock()
	slog.Debug("Websocket client connected", logfields.Count(total))

	h.send(conn, "hello", helloPayload{
		InstanceID: h.instanceID,
		Version:    version.Version,
	})

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		remaining := len(h.conns)
		h.mu.Unlock()

		_ = conn.Close()
		slog.Debug("Websocket client disconnected", logfields.Count(remaining))
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("Websocket read failed", logfields.Error(err))
			}
			return
		}
	}
}

// ClientCount returns the number of connected websocket clients.
func (h *SocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseConnections force-closes every client connection. Their read loops
// return and deregister themselves.
func (h *SocketHub) CloseConnections() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// broadcast sends one frame to every connected client. Write failures are
// logged and left to the client's read loop to clean up.
func (h *SocketHub) broadcast(msgType string, payload any) {
	data, err := json.Marshal(socketMessage{Type: msgType, Payload: payload})
	if err != nil {
		slog.Error("Cannot marshal websocket frame", logfields.Error(err))
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	locks := make([]*sync.Mutex, 0, len(h.conns))
	for conn, lock := range h.conns {
		conns = append(conns, conn)
		locks = append(locks, lock)
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		locks[i].Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		err := conn.WriteMessage(websocket.TextMessage, data)
		locks[i].Unlock()

		if err != nil {
			slog.Warn("Cannot write websocket frame", logfields.Error(err))
		}
	}
}

// send delivers one frame to a single client.
func (h *SocketHub) send(conn *websocket.Conn, msgType string, payload any) {
	data, err := json.Marshal(socketMessage{Type: msgType, Payload: payload})
	if err != nil {
		slog.Error("Cannot marshal websocket frame", logfields.Error(err))
		return
	}

	h.mu.RLock()
	lock := h.conns[conn]
	h.mu.RUnlock()
	if lock == nil {
		return
	}

	lock.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	lock.Unlock()

	if err != nil {
		slog.Warn("Cannot write websocket frame", logfields.Error(err))
	}
}
