package rfx

import "sync"

// Event names emitted by the driver. Decoded device events are emitted
// under the name their decoder chooses (e.g. "lighting1", "temp1",
// "energy").
const (
	EventConnecting    = "connecting"
	EventReady         = "ready"
	EventDisconnect    = "disconnect"
	EventConnectFailed = "connectfailed"
	EventEnd           = "end"
	EventReceive       = "receive"
	EventResponse      = "response"
	EventStatus        = "status"
)

// ResponseEvent is the payload of a "response" event: the settlement of a
// transmitted command.
type ResponseEvent struct {
	Message string
	Seq     byte
	Code    byte
}

// Handler receives one event occurrence. The payload type depends on the
// event: []byte for "receive", ResponseEvent for "response",
// *StatusReport for "status", a protocol event value for device events,
// and a reason string for "disconnect"/"connectfailed".
type Handler func(data any)

// Emitter fans events out to registered handlers. Handlers run
// synchronously on the emitting goroutine in registration order.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewEmitter constructs a ready Emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]Handler)}
}

// On registers a handler for the named event.
func (e *Emitter) On(name string, h Handler) {
	e.mu.Lock()
	e.handlers[name] = append(e.handlers[name], h)
	e.mu.Unlock()
}

// Emit invokes every handler registered for name.
func (e *Emitter) Emit(name string, data any) {
	e.mu.RLock()
	hs := make([]Handler, len(e.handlers[name]))
	copy(hs, e.handlers[name])
	e.mu.RUnlock()

	for _, h := range hs {
		h(data)
	}
}
