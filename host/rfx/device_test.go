package rfx

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rfxgate/protocol"
)

// mockPort is a scripted transport. Reads block until a chunk is injected
// or the port is closed; writes are recorded and signalled.
type mockPort struct {
	incoming chan []byte
	writes   chan []byte

	mu      sync.Mutex
	flushes int

	closeOnce sync.Once
	done      chan struct{}
}

var errPortClosed = errors.New("port closed")

func newMockPort() *mockPort {
	return &mockPort{
		incoming: make(chan []byte, 16),
		writes:   make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

func (p *mockPort) Read(buf []byte) (int, error) {
	select {
	case chunk := <-p.incoming:
		return copy(buf, chunk), nil
	case <-p.done:
		return 0, errPortClosed
	}
}

func (p *mockPort) Write(buf []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errPortClosed
	default:
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.writes <- cp
	return len(buf), nil
}

func (p *mockPort) Flush() error {
	p.mu.Lock()
	p.flushes++
	p.mu.Unlock()
	return nil
}

func (p *mockPort) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *mockPort) flushCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

func (p *mockPort) inject(t *testing.T, packet []byte) {
	t.Helper()
	select {
	case p.incoming <- packet:
	case <-time.After(time.Second):
		t.Fatal("timed out injecting a packet")
	}
}

func testConfig() Config {
	cfg := DefaultConfig("mock")
	cfg.GuardDelay = time.Millisecond
	cfg.ResetSettle = time.Millisecond
	cfg.AckTimeout = time.Second
	cfg.Logger = zerolog.Nop()
	return cfg
}

func awaitWrite(t *testing.T, p *mockPort) []byte {
	t.Helper()
	select {
	case buf := <-p.writes:
		return buf
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a transport write")
		return nil
	}
}

func awaitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// statusPacket is a mode response advertising a 433.92MHz transceiver with
// firmware 0x30 and only x10 enabled.
var statusPacket = []byte{
	0x0D, 0x01, 0x00, 0x01, 0x02,
	0x53, 0x30, 0x00, 0x00, 0x02,
	0x00, 0x00, 0x00, 0x00,
}

func copyrightPacket() []byte {
	pkt := []byte{0x14, 0x01, 0x07, 0x02, 0x07}
	return append(pkt, []byte("Copyright RFXCOM")...)
}

// runHandshake drives the device through the full bring-up against the
// mock and returns once it is ready.
func runHandshake(t *testing.T, d *Device, port *mockPort) {
	t.Helper()

	ready := make(chan struct{})
	if err := d.Initialise(func() { close(ready) }); err != nil {
		t.Fatalf("initialise failed: %v", err)
	}

	reset := awaitWrite(t, port)
	if reset[1] != protocol.PacketInterfaceMessage || reset[4] != protocol.CmdReset {
		t.Fatalf("first write is not a reset: %v", reset)
	}
	if len(reset) != 14 || reset[0] != 0x0D {
		t.Fatalf("reset has wrong envelope: %v", reset)
	}

	status := awaitWrite(t, port)
	if status[4] != protocol.CmdGetStatus {
		t.Fatalf("second write is not a status query: %v", status)
	}
	if port.flushCount() == 0 {
		t.Error("transport was never flushed before the status query")
	}

	port.inject(t, statusPacket)

	startRx := awaitWrite(t, port)
	if startRx[4] != protocol.CmdStartReceiver {
		t.Fatalf("third write is not start-receiver: %v", startRx)
	}

	port.inject(t, copyrightPacket())
	awaitSignal(t, ready, "ready callback")

	if d.State() != StateReady {
		t.Fatalf("state after handshake = %v, want ready", d.State())
	}
}

func TestHandshakeSequence(t *testing.T) {
	port := newMockPort()
	d := NewWithPort(port, testConfig())
	defer d.Close()

	statusSeen := make(chan struct{}, 1)
	d.On(EventStatus, func(data any) {
		report := data.(*StatusReport)
		if report.Frequency != "433.92MHz transceiver" {
			t.Errorf("unexpected frequency: %q", report.Frequency)
		}
		if len(report.EnabledProtocols) != 1 || report.EnabledProtocols[0] != "x10" {
			t.Errorf("unexpected protocols: %v", report.EnabledProtocols)
		}
		statusSeen <- struct{}{}
	})

	runHandshake(t, d, port)
	awaitSignal(t, statusSeen, "status event")

	if d.LastStatus() == nil {
		t.Error("status report was not retained")
	}
}

func TestQueueHeldUntilReady(t *testing.T) {
	port := newMockPort()
	d := NewWithPort(port, testConfig())
	defer d.Close()

	ready := make(chan struct{})
	if err := d.Initialise(func() { close(ready) }); err != nil {
		t.Fatalf("initialise failed: %v", err)
	}

	awaitWrite(t, port) // reset
	awaitWrite(t, port) // status query

	// Queue a switch command mid-handshake. It must not reach the wire
	// until the handshake completes.
	lights := NewLighting1(d, protocol.Lighting1ARC)
	settled := make(chan byte, 1)
	seq, err := lights.SwitchOn('A', 1, func(code byte, err error) {
		if err != nil {
			t.Errorf("switch settled with error: %v", err)
		}
		settled <- code
	})
	if err != nil {
		t.Fatalf("queueing failed: %v", err)
	}

	select {
	case buf := <-port.writes:
		t.Fatalf("command transmitted before ready: %v", buf)
	case <-time.After(50 * time.Millisecond):
	}

	port.inject(t, statusPacket)
	awaitWrite(t, port) // start-receiver
	port.inject(t, copyrightPacket())
	awaitSignal(t, ready, "ready callback")

	cmd := awaitWrite(t, port)
	want := []byte{0x07, protocol.PacketLighting1, protocol.Lighting1ARC, seq, 'A', 1, protocol.Lighting1On, 0x00}
	if len(cmd) != len(want) {
		t.Fatalf("command envelope mismatch: %v", cmd)
	}
	for i := range want {
		if cmd[i] != want[i] {
			t.Fatalf("command byte %d = 0x%02X, want 0x%02X", i, cmd[i], want[i])
		}
	}

	port.inject(t, []byte{0x04, protocol.PacketTransmitAck, 0x00, seq, protocol.ResultTransmitOK})
	select {
	case code := <-settled:
		if code != protocol.ResultTransmitOK {
			t.Errorf("settlement code = %d, want transmit OK", code)
		}
	case <-time.After(time.Second):
		t.Fatal("command never settled after acknowledgement")
	}
}

func TestCloseMidHandshakeEmitsConnectFailed(t *testing.T) {
	port := newMockPort()
	d := NewWithPort(port, testConfig())

	failed := make(chan struct{}, 1)
	d.On(EventConnectFailed, func(any) { failed <- struct{}{} })
	d.On(EventDisconnect, func(any) {
		t.Error("disconnect emitted for a connection that never became ready")
	})
	ended := make(chan struct{}, 1)
	d.On(EventEnd, func(any) { ended <- struct{}{} })

	if err := d.Initialise(nil); err != nil {
		t.Fatalf("initialise failed: %v", err)
	}
	awaitWrite(t, port) // reset

	d.Close()
	awaitSignal(t, failed, "connectfailed event")
	awaitSignal(t, ended, "end event")

	if d.State() != StateClosed {
		t.Errorf("state after close = %v, want closed", d.State())
	}
}

func TestDisconnectAfterReady(t *testing.T) {
	port := newMockPort()
	d := NewWithPort(port, testConfig())

	disconnected := make(chan struct{}, 1)
	d.On(EventDisconnect, func(any) { disconnected <- struct{}{} })
	d.On(EventConnectFailed, func(any) {
		t.Error("connectfailed emitted for a connection that had become ready")
	})

	runHandshake(t, d, port)

	d.Close()
	awaitSignal(t, disconnected, "disconnect event")
}

func TestOldFirmwareStatusShortcut(t *testing.T) {
	port := newMockPort()
	d := NewWithPort(port, testConfig())
	defer d.Close()

	ready := make(chan struct{})
	if err := d.Initialise(func() { close(ready) }); err != nil {
		t.Fatalf("initialise failed: %v", err)
	}

	awaitWrite(t, port) // reset
	awaitWrite(t, port) // status query

	// Old firmware answers the status query with "unknown command". The
	// handshake tolerates it and goes straight to ready.
	port.inject(t, []byte{0x04, protocol.PacketInterfaceResponse, protocol.SubtypeUnknownCommand, 0x01, 0x02})

	awaitSignal(t, ready, "ready callback")
	if d.State() != StateReady {
		t.Errorf("state = %v, want ready", d.State())
	}
}

func TestWrongCopyrightFailsHandshake(t *testing.T) {
	port := newMockPort()
	d := NewWithPort(port, testConfig())

	failed := make(chan struct{}, 1)
	d.On(EventConnectFailed, func(any) { failed <- struct{}{} })

	if err := d.Initialise(nil); err != nil {
		t.Fatalf("initialise failed: %v", err)
	}
	awaitWrite(t, port) // reset
	awaitWrite(t, port) // status query
	port.inject(t, statusPacket)
	awaitWrite(t, port) // start-receiver

	bogus := []byte{0x14, 0x01, 0x07, 0x02, 0x07}
	bogus = append(bogus, []byte("Copyright ACME Co")...)
	bogus = bogus[:21]
	bogus[0] = byte(len(bogus) - 1)
	port.inject(t, bogus)

	awaitSignal(t, failed, "connectfailed event")
	if d.State() != StateClosed {
		t.Errorf("state = %v, want closed", d.State())
	}
}

func TestDecodedEventsReachHandlers(t *testing.T) {
	port := newMockPort()
	d := NewWithPort(port, testConfig())
	defer d.Close()

	temps := make(chan *protocol.TemperatureEvent, 1)
	d.On("temp1", func(data any) { temps <- data.(*protocol.TemperatureEvent) })

	runHandshake(t, d, port)

	port.inject(t, []byte{0x08, protocol.PacketTemperature, 0x01, 0x00, 0x12, 0x34, 0x80, 0x05, 0x29})

	select {
	case ev := <-temps:
		if ev.Temperature != -0.5 || ev.ID != "0x1234" {
			t.Errorf("unexpected reading: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("temperature event never arrived")
	}
}

func TestQueueMessageWhileClosed(t *testing.T) {
	d := NewWithPort(newMockPort(), testConfig())

	lights := NewLighting1(d, protocol.Lighting1ARC)
	if _, err := lights.SwitchOn('A', 1, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before open, got %v", err)
	}
}

func TestOpenTwice(t *testing.T) {
	port := newMockPort()
	d := NewWithPort(port, testConfig())
	defer d.Close()

	if err := d.Open(); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := d.Open(); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}
}
