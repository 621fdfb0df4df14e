package protocol

import "sync"

// Sequence allocates cyclic command sequence numbers. Numbers run 0..255
// and wrap; they are not persisted across restarts.
type Sequence struct {
	mu   sync.Mutex
	next byte
}

// Next returns the current counter value and advances it.
func (s *Sequence) Next() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	s.next++ // wraps to 0 after 255
	return n
}

// AckCallback is invoked with the transmit result code when the matching
// acknowledgement arrives.
type AckCallback func(code byte)

// AckTable maps a sequence number to the pending completion callback of an
// in-flight command. Registering over an occupied slot silently replaces
// it: with 256 slots and the transmit queue's bounded concurrency the
// in-flight count stays far below saturation in practice.
type AckTable struct {
	mu    sync.Mutex
	slots [256]AckCallback
}

// Register stores the callback for seq, replacing any previous entry.
func (t *AckTable) Register(seq byte, fn AckCallback) {
	t.mu.Lock()
	t.slots[seq] = fn
	t.mu.Unlock()
}

// Resolve invokes and clears the callback registered for seq. Resolving an
// empty slot is a no-op; the return value reports whether a callback ran.
func (t *AckTable) Resolve(seq byte, code byte) bool {
	t.mu.Lock()
	fn := t.slots[seq]
	t.slots[seq] = nil
	t.mu.Unlock()

	if fn == nil {
		return false
	}
	// Invoke outside the lock so a callback may register new entries.
	fn(code)
	return true
}

// Take removes and returns the callback for seq without invoking it. Used
// by the transmit queue when a command times out, so a late
// acknowledgement cannot complete the job a second time.
func (t *AckTable) Take(seq byte) AckCallback {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn := t.slots[seq]
	t.slots[seq] = nil
	return fn
}

// Clear empties every slot. Called on driver teardown; pending commands
// are never resolved after a disconnect.
func (t *AckTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		t.slots[i] = nil
	}
}
