package events

import (
	"context"
	"reflect"
	"sync"

	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
)

// Bus is the in-process pipe between build orchestration and everything that
// observes it. Orchestrators publish lifecycle, output and diagnostics
// events; the daemon side (websocket hub, NATS forwarder, history recorder,
// metrics) subscribes. Subscribers never call back into orchestration, so
// the observer side can be torn down without stalling builds.
//
// Subscriptions are typed via generics. Subscribing to an interface type
// (including any) delivers every event assignable to it, which is how the
// websocket hub gets one ordered feed of all traffic.
//
// Publish applies backpressure: it blocks until every matching subscriber
// has accepted the event or the caller's context is canceled.
type Bus struct {
	mu     sync.RWMutex
	regs   map[uint64]*registration
	lastID uint64
	closed bool
}

// registration is one live subscription, type-erased so subscriptions of
// different event types share a single table.
type registration struct {
	kind    reflect.Type
	deliver func(ctx context.Context, evt any) error
	shut    func()
}

func NewBus() *Bus {
	return &Bus{regs: make(map[uint64]*registration)}
}

// Subscribe registers for events of type T and returns the receive channel
// plus a cancel function. Cancel is idempotent and closes the channel. When
// T is an interface, any event implementing it is delivered.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)
	kind := reflect.TypeFor[T]()

	var shutOnce sync.Once
	shut := func() { shutOnce.Do(func() { close(ch) }) }

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		shut()
		return ch, func() {}
	}
	b.lastID++
	id := b.lastID
	b.regs[id] = &registration{
		kind: kind,
		deliver: func(ctx context.Context, evt any) error {
			typed, ok := evt.(T)
			if !ok {
				return ferrors.InternalError("event type mismatch").
					WithContext("expected", kind.String()).
					WithContext("actual", reflect.TypeOf(evt).String()).
					Build()
			}
			select {
			case ch <- typed:
				return nil
			case <-ctx.Done():
				return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "event publish canceled").
					WithContext("event_type", kind.String()).
					Build()
			}
		},
		shut: shut,
	}
	b.mu.Unlock()

	var cancelOnce sync.Once
	cancel := func() {
		cancelOnce.Do(func() {
			b.mu.Lock()
			delete(b.regs, id)
			b.mu.Unlock()
			shut()
		})
	}
	return ch, cancel
}

// SubscriberCount reports the live subscriptions registered for exactly T.
// Intended for tests and diagnostics.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	kind := reflect.TypeFor[T]()

	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, reg := range b.regs {
		if reg.kind == kind {
			n++
		}
	}
	return n
}

// Publish delivers evt to every matching subscriber, blocking per subscriber
// until accepted or ctx is canceled.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}
	if ctx == nil {
		return ferrors.ValidationError("context cannot be nil").Build()
	}

	kind := reflect.TypeOf(evt)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ferrors.DaemonError("event bus is closed").Build()
	}
	matched := make([]*registration, 0, len(b.regs))
	for _, reg := range b.regs {
		if reg.kind == kind || (reg.kind.Kind() == reflect.Interface && kind.Implements(reg.kind)) {
			matched = append(matched, reg)
		}
	}
	b.mu.RUnlock()

	for _, reg := range matched {
		if err := reg.deliver(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the bus down: every subscription channel is closed and further
// publishes fail. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	regs := b.regs
	b.regs = make(map[uint64]*registration)
	b.mu.Unlock()

	for _, reg := range regs {
		reg.shut()
	}
}
