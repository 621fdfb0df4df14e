package protocol

import "testing"

func TestSequenceCyclesWithoutGaps(t *testing.T) {
	var s Sequence

	seen := make(map[byte]bool)
	for i := 0; i < 256; i++ {
		n := s.Next()
		if n != byte(i) {
			t.Fatalf("allocation %d: expected %d, got %d", i, i, n)
		}
		if seen[n] {
			t.Fatalf("sequence number %d repeated within one cycle", n)
		}
		seen[n] = true
	}

	// Wraps back to zero.
	if n := s.Next(); n != 0 {
		t.Errorf("expected wrap to 0 after 255, got %d", n)
	}
}

func TestAckTableResolve(t *testing.T) {
	var table AckTable

	var got []byte
	table.Register(5, func(code byte) { got = append(got, code) })

	if !table.Resolve(5, ResultTransmitOK) {
		t.Fatal("expected Resolve to invoke the registered callback")
	}
	if len(got) != 1 || got[0] != ResultTransmitOK {
		t.Fatalf("unexpected callback invocations: %v", got)
	}

	// One-shot: a second resolve is a no-op.
	if table.Resolve(5, ResultTransmitOK) {
		t.Error("expected second Resolve to be a no-op")
	}
	if len(got) != 1 {
		t.Errorf("callback ran again: %v", got)
	}
}

func TestAckTableResolveEmptySlot(t *testing.T) {
	var table AckTable
	if table.Resolve(99, 0) {
		t.Error("resolving an unregistered slot must be a no-op")
	}
}

func TestAckTableOverwrite(t *testing.T) {
	var table AckTable

	first, second := 0, 0
	table.Register(7, func(byte) { first++ })
	table.Register(7, func(byte) { second++ })

	table.Resolve(7, 0)
	if first != 0 || second != 1 {
		t.Errorf("expected overwrite semantics, got first=%d second=%d", first, second)
	}
}

func TestAckTableTakeAndClear(t *testing.T) {
	var table AckTable

	calls := 0
	table.Register(3, func(byte) { calls++ })

	if fn := table.Take(3); fn == nil {
		t.Fatal("expected Take to return the registered callback")
	}
	if table.Resolve(3, 0) {
		t.Error("slot should be empty after Take")
	}
	if calls != 0 {
		t.Errorf("Take must not invoke the callback, got %d calls", calls)
	}

	table.Register(4, func(byte) { calls++ })
	table.Clear()
	if table.Resolve(4, 0) {
		t.Error("slot should be empty after Clear")
	}
}
