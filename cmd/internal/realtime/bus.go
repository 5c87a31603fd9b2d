package realtime

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	v1 "mergemeet/shared/contracts/realtime/v1"
)

// Handler consumes one raw inbound frame of the type it subscribed to.
type Handler func(data []byte)

type busEntry struct {
	id int
	fn Handler
}

// Bus is the typed dispatch registry. Handlers for a frame type run in
// registration order; a panic in one handler is isolated and does not
// stop the rest. Registrations are independent of the connection and
// survive reconnects.
type Bus struct {
	log     *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	nextID   int
	handlers map[string][]busEntry
	send     func(frame any) bool
}

// NewBus constructs an empty bus.
func NewBus(log *slog.Logger, metrics *Metrics) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:      log,
		metrics:  metrics,
		handlers: make(map[string][]busEntry),
	}
}

// BindSender wires the bus to the connection's Send. May be called again
// after a reconnect; registrations are unaffected.
func (b *Bus) BindSender(send func(frame any) bool) {
	b.mu.Lock()
	b.send = send
	b.mu.Unlock()
}

// Send forwards a frame to the connection. false means no open transport;
// the caller owns resubmission.
func (b *Bus) Send(frame any) bool {
	b.mu.Lock()
	send := b.send
	b.mu.Unlock()
	if send == nil {
		return false
	}
	return send(frame)
}

// OnMessage registers a handler for a frame type and returns its
// disposer. Disposal is effective for subsequent frames only; a dispatch
// already in progress completes with the handler set it started with.
func (b *Bus) OnMessage(frameType string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[frameType] = append(b.handlers[frameType], busEntry{id: id, fn: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[frameType]
		for i, e := range entries {
			if e.id == id {
				b.handlers[frameType] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Dispatch routes one inbound frame. A ping gets a built-in pong reply
// without requiring a subscription; frames with no handler and no
// built-in behavior are dropped silently.
func (b *Bus) Dispatch(data []byte) {
	typ, err := v1.PeekType(data)
	if err != nil {
		b.log.Debug("bus.frame.bad", "err", err)
		return
	}

	if typ == v1.TypePing {
		if !b.Send(v1.NewPong()) {
			b.log.Debug("bus.pong.drop")
		}
	}

	b.Publish(typ, data)
}

// Publish invokes the handlers registered for eventType. It carries both
// wire frames (via Dispatch) and synthetic events a consumer republishes
// for other consumers, which keeps those consumers decoupled from each
// other's packages.
func (b *Bus) Publish(eventType string, data []byte) {
	b.mu.Lock()
	entries := append([]busEntry(nil), b.handlers[eventType]...)
	b.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	frameID := ulid.Make().String()
	for _, e := range entries {
		b.invoke(eventType, frameID, e, data)
	}
}

func (b *Bus) invoke(typ, frameID string, e busEntry, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.incHandlerPanic()
			b.log.Error("bus.handler.panic", "type", typ, "frame_id", frameID, "panic", r)
		}
	}()
	e.fn(data)
}
