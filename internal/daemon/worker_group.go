package daemon

import (
	"context"
	"sync"
)

// WorkerGroup tracks the daemon's long-lived goroutines: the bus consumers,
// the websocket hub loop and the NATS forwarder. Launch and shutdown share
// one lock so a worker started mid-stop can never slip past the final Wait.
type WorkerGroup struct {
	mu     sync.Mutex
	active sync.WaitGroup
	sealed bool
}

// Go launches fn as a tracked worker. It reports false once the group is
// sealed by StopAndWait, or when fn is nil.
func (g *WorkerGroup) Go(fn func()) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	if g.sealed {
		g.mu.Unlock()
		return false
	}
	g.active.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.active.Done()
		fn()
	}()
	return true
}

// StopAndWait seals the group and waits for the remaining workers, giving up
// when ctx expires.
func (g *WorkerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.sealed = true
	g.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		g.active.Wait()
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
