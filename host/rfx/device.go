// Package rfx drives an RFXtrx433-class USB RF gateway: it owns the
// connection lifecycle, runs the mandatory initialization handshake, and
// bridges the protocol engine to the host application through events.
package rfx

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rfxgate/host/serial"
	"rfxgate/protocol"
)

// State is the connection lifecycle state. Transitions are owned solely by
// the driver's handshake logic; external callers only observe it.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateAwaitingReadyDelay
	StateResetting
	StateFlushing
	StateQueryingStatus
	StateInitializing
	StateReady
)

var stateNames = map[State]string{
	StateClosed:             "closed",
	StateConnecting:         "connecting",
	StateAwaitingReadyDelay: "awaiting-ready-delay",
	StateResetting:          "resetting",
	StateFlushing:           "flushing",
	StateQueryingStatus:     "querying-status",
	StateInitializing:       "initializing",
	StateReady:              "ready",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// copyrightNotice is the text the device must return from start-receiver.
// Anything else means we are not talking to genuine RFXCOM firmware.
const copyrightNotice = "Copyright RFXCOM"

// Config holds driver configuration.
type Config struct {
	// Device path, e.g. "/dev/ttyUSB0". Ignored when a Port is injected.
	Device string

	// GuardDelay is the unconditional wait after opening the transport
	// before any byte is sent. The device's bootloader listens for a
	// firmware update during its first seconds of uptime and must not be
	// disturbed; since the driver cannot know how long the device has
	// been powered, it always waits. Default 5.5s (6s minus a small
	// transmission margin).
	GuardDelay time.Duration

	// ResetSettle is the pause after the reset command. Default 500ms.
	ResetSettle time.Duration

	// AckTimeout bounds the wait for a command acknowledgement.
	AckTimeout time.Duration

	// Concurrency is the number of commands in flight at once.
	Concurrency int

	Logger zerolog.Logger
}

// DefaultConfig returns the standard driver configuration for a device
// path.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		GuardDelay:  5500 * time.Millisecond,
		ResetSettle: 500 * time.Millisecond,
		AckTimeout:  protocol.DefaultAckTimeout,
		Concurrency: protocol.DefaultConcurrency,
		Logger:      zerolog.Nop(),
	}
}

// Device is one driver instance bound to one gateway. All shared state is
// owned by the instance and serialized through its own operations.
type Device struct {
	cfg Config
	log zerolog.Logger

	seq        protocol.Sequence
	acks       protocol.AckTable
	framer     *protocol.Framer
	dispatcher *protocol.Dispatcher
	events     *Emitter

	mu           sync.Mutex
	state        State
	everReady    bool
	initialising bool
	readyCb      func()
	statusCb     func(*StatusReport)
	startRxCb    func(error)
	lastStatus   *StatusReport
	queue        *protocol.TransmitQueue
	port         serial.Port
	stop         chan struct{}

	writeMu sync.Mutex
}

// New creates a driver for the device path in cfg. The transport is opened
// by Open or Initialise.
func New(cfg Config) *Device {
	d := &Device{
		cfg:    cfg,
		log:    cfg.Logger,
		framer: protocol.NewFramer(cfg.Logger),
		events: NewEmitter(),
	}
	d.dispatcher = protocol.NewDispatcher(&d.acks, deviceSink{d}, cfg.Logger)
	d.dispatcher.SetControlHandler(d.handleControl)
	return d
}

// NewWithPort creates a driver bound to an already-open transport. Used by
// tests and by callers bridging non-serial transports.
func NewWithPort(port serial.Port, cfg Config) *Device {
	d := New(cfg)
	d.port = port
	return d
}

// On registers an event handler. See the Event* constants for the core
// event names; decoded device events use decoder-chosen names.
func (d *Device) On(name string, h Handler) {
	d.events.On(name, h)
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastStatus returns the most recent status report, or nil.
func (d *Device) LastStatus() *StatusReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastStatus
}

// NextSequence allocates a sequence number for a command built outside the
// driver (the command-builder path).
func (d *Device) NextSequence() byte {
	return d.seq.Next()
}

// Open opens the transport and starts the read loop. It does not run the
// handshake; use Initialise for the full bring-up.
func (d *Device) Open() error {
	d.mu.Lock()
	if d.state != StateClosed {
		d.mu.Unlock()
		return ErrAlreadyOpen
	}
	if d.port == nil {
		port, err := serial.Open(serial.DefaultConfig(d.cfg.Device))
		if err != nil {
			d.mu.Unlock()
			return err
		}
		d.port = port
	}
	d.stop = make(chan struct{})
	d.queue = protocol.NewTransmitQueue(queueWriter{d}, &d.acks, d.cfg.Concurrency, d.cfg.AckTimeout, d.log)
	d.queue.SetTimeoutHandler(func(seq byte) {
		d.emitResponse(protocol.ResultMessage(protocol.ResultTimeout), seq, protocol.ResultTimeout)
	})
	d.state = StateConnecting
	port, stop := d.port, d.stop
	d.mu.Unlock()

	go d.readLoop(port, stop)

	d.log.Info().Str("device", d.cfg.Device).Msg("transport open")
	d.events.Emit(EventConnecting, nil)
	return nil
}

// Initialise opens the transport if necessary and runs the mandatory
// handshake (guard delay, reset, flush, status query, start receiver). The
// callback, if non-nil, fires once the device is ready for commands. A
// concurrent Initialise while one is already running is a no-op.
func (d *Device) Initialise(cb func()) error {
	d.mu.Lock()
	if d.initialising {
		d.mu.Unlock()
		return nil
	}
	d.initialising = true
	d.readyCb = cb
	opened := d.state != StateClosed
	d.mu.Unlock()

	if !opened {
		if err := d.Open(); err != nil {
			d.mu.Lock()
			d.initialising = false
			d.readyCb = nil
			d.mu.Unlock()
			return err
		}
	}

	go d.handshake()
	return nil
}

// Close tears the connection down. Pending and not-yet-started queue jobs
// are discarded without their callbacks firing. Idempotent.
func (d *Device) Close() error {
	d.teardown(nil)
	return nil
}

// handshake runs the post-connect bring-up sequence on its own goroutine.
// Any failure closes the connection. The later steps complete
// asynchronously in handleControl as the device's responses arrive.
func (d *Device) handshake() {
	d.mu.Lock()
	stop := d.stop
	d.mu.Unlock()

	d.setState(StateAwaitingReadyDelay)
	if !d.sleep(d.cfg.GuardDelay, stop) {
		return
	}
	d.events.Emit(EventReady, nil)

	d.setState(StateResetting)
	if _, err := d.sendInterfaceCommand(protocol.CmdReset, nil); err != nil {
		d.fail(fmt.Errorf("reset: %w", err))
		return
	}
	if !d.sleep(d.cfg.ResetSettle, stop) {
		return
	}

	d.setState(StateFlushing)
	if err := d.Flush(nil); err != nil {
		d.fail(fmt.Errorf("flush: %w", err))
		return
	}

	// The bootloader window is over; bytes from here on are real packets.
	d.framer.Enable()

	d.setState(StateQueryingStatus)
	if err := d.GetStatus(nil); err != nil {
		d.fail(fmt.Errorf("status query: %w", err))
	}
}

// SendMessage serializes and writes a command directly to the transport,
// bypassing the transmit queue. Only the handshake path uses this; normal
// commands go through QueueMessage. Returns the allocated sequence number.
func (d *Device) SendMessage(pktType, subtype, cmd byte, payload []byte) (byte, error) {
	seq := d.seq.Next()
	msg := protocol.Command{
		Type:    pktType,
		Subtype: subtype,
		Seq:     seq,
		Cmd:     cmd,
		Payload: payload,
	}
	if err := d.write(msg.Marshal()); err != nil {
		return seq, err
	}
	return seq, nil
}

// QueueMessage enqueues a serialized command for transmission once the
// handshake has completed. The sender is consulted if the command times
// out; the callback receives the settlement.
func (d *Device) QueueMessage(sender protocol.Sender, buffer []byte, seq byte, cb protocol.Callback) error {
	d.mu.Lock()
	queue := d.queue
	connected := d.state != StateClosed
	d.mu.Unlock()

	if !connected || queue == nil {
		return ErrNotConnected
	}
	return queue.Enqueue(&protocol.Job{
		Buffer:   buffer,
		Seq:      seq,
		Sender:   sender,
		Callback: cb,
	})
}

// GetStatus asks the device for its status. The callback, if non-nil,
// fires when the status response is decoded.
func (d *Device) GetStatus(cb func(*StatusReport)) error {
	d.mu.Lock()
	d.statusCb = cb
	d.mu.Unlock()
	_, err := d.sendInterfaceCommand(protocol.CmdGetStatus, nil)
	return err
}

// StartRx sends the start-receiver command. The callback, if non-nil,
// fires when the response arrives and its copyright text checks out.
func (d *Device) StartRx(cb func(error)) error {
	d.mu.Lock()
	d.startRxCb = cb
	d.mu.Unlock()
	_, err := d.sendInterfaceCommand(protocol.CmdStartReceiver, nil)
	return err
}

// Reset sends the reset command. The device does not respond to a reset;
// the callback fires once the command has been written.
func (d *Device) Reset(cb func(error)) error {
	_, err := d.sendInterfaceCommand(protocol.CmdReset, nil)
	if cb != nil {
		cb(err)
	}
	return err
}

// Flush discards buffered transport input.
func (d *Device) Flush(cb func(error)) error {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}
	err := port.Flush()
	if cb != nil {
		cb(err)
	}
	return err
}

// Enable sets which receiver protocols the device decodes. Protocol names
// follow the status report's vocabulary. The device answers with a mode
// response, re-emitting "status".
func (d *Device) Enable(protocols []string, cb func(error)) error {
	masks, err := encodeProtocolMasks(protocols)
	if err != nil {
		if cb != nil {
			cb(err)
		}
		return err
	}

	d.mu.Lock()
	transceiver := byte(0x53)
	if d.lastStatus != nil {
		transceiver = d.lastStatus.TransceiverType
	}
	d.mu.Unlock()

	payload := []byte{transceiver, 0x00, masks[0], masks[1], masks[2]}
	_, err = d.sendInterfaceCommand(protocol.CmdSetMode, payload)
	if cb != nil {
		cb(err)
	}
	return err
}

// Save persists the current protocol selection in the device's
// non-volatile memory. The hardware supports a limited number of save
// cycles, so this is not done automatically by Enable.
func (d *Device) Save(cb func(error)) error {
	_, err := d.sendInterfaceCommand(protocol.CmdSave, nil)
	if cb != nil {
		cb(err)
	}
	return err
}

// sendInterfaceCommand writes an interface control message. Control
// messages carry a fixed 9-byte data block; unused bytes are zero.
func (d *Device) sendInterfaceCommand(cmd byte, payload []byte) (byte, error) {
	buf := make([]byte, 9)
	copy(buf, payload)
	return d.SendMessage(protocol.PacketInterfaceMessage, 0x00, cmd, buf)
}

// write serializes transport writes across the handshake path and the
// queue workers.
func (d *Device) write(buf []byte) error {
	d.mu.Lock()
	port := d.port
	closed := d.state == StateClosed
	d.mu.Unlock()
	if closed || port == nil {
		return ErrNotConnected
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	n, err := port.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(buf))
	}
	return nil
}

// readLoop continuously reads transport chunks, emits them raw, and feeds
// the framer. It exits on teardown or a fatal transport error.
func (d *Device) readLoop(port serial.Port, stop chan struct{}) {
	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if n > 0 {
			raw := make([]byte, n)
			copy(raw, buf[:n])
			d.events.Emit(EventReceive, raw)
			for _, pkt := range d.framer.Push(raw) {
				d.dispatcher.OnFrame(pkt)
			}
		}
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if err == io.EOF {
				// tarm/serial reports a read timeout as a bare EOF;
				// nothing was lost, poll again.
				time.Sleep(10 * time.Millisecond)
				continue
			}
			d.log.Error().Err(err).Msg("transport read failed")
			go d.teardown(err)
			return
		}
	}
}

// handleControl interprets interface response packets (type 0x01). During
// the handshake these drive the remaining lifecycle transitions.
func (d *Device) handleControl(payload []byte) {
	if len(payload) < 2 {
		d.log.Warn().Hex("payload", payload).Msg("dropping truncated interface response")
		return
	}

	switch payload[0] {
	case protocol.SubtypeModeResponse:
		d.handleStatusResponse(payload)

	case protocol.SubtypeStartReceiver:
		d.handleStartReceiverResponse(payload)

	case protocol.SubtypeUnknownRemoteID:
		d.emitResponse(protocol.ResultMessage(protocol.ResultUnknownRemoteID),
			payload[1], protocol.ResultUnknownRemoteID)

	case protocol.SubtypeUnknownCommand:
		d.mu.Lock()
		inHandshake := d.initialising && d.state == StateQueryingStatus
		d.mu.Unlock()
		if inHandshake {
			// Firmware too old to answer a status query. Tolerate it:
			// the handshake counts as satisfied and commands may flow.
			d.log.Warn().Msg("firmware does not support status query, skipping")
			d.becomeReady()
			return
		}
		d.emitResponse(protocol.ResultMessage(protocol.ResultUnknownCommand),
			payload[1], protocol.ResultUnknownCommand)

	default:
		d.log.Debug().Uint8("subtype", payload[0]).Msg("unhandled interface response subtype")
	}
}

// handleStatusResponse decodes a mode response, emits "status", and during
// the handshake advances to the start-receiver step.
func (d *Device) handleStatusResponse(payload []byte) {
	if len(payload) < 3 {
		d.log.Warn().Hex("payload", payload).Msg("dropping truncated status response")
		return
	}
	report, err := decodeStatus(payload[3:])
	if err != nil {
		d.log.Warn().Err(err).Msg("dropping undecodable status response")
		return
	}

	d.mu.Lock()
	d.lastStatus = report
	cb := d.statusCb
	d.statusCb = nil
	inHandshake := d.initialising && d.state == StateQueryingStatus
	d.mu.Unlock()

	d.log.Info().
		Str("frequency", report.Frequency).
		Uint8("firmware", report.FirmwareVersion).
		Strs("protocols", report.EnabledProtocols).
		Msg("device status")
	d.events.Emit(EventStatus, report)
	if cb != nil {
		cb(report)
	}

	if inHandshake {
		d.setState(StateInitializing)
		if err := d.StartRx(nil); err != nil {
			d.fail(fmt.Errorf("start receiver: %w", err))
		}
	}
}

// handleStartReceiverResponse validates the copyright text and completes
// the handshake. A wrong copyright string is fatal: the firmware on the
// other end is not what this driver was built against.
func (d *Device) handleStartReceiverResponse(payload []byte) {
	if len(payload) < 4 {
		d.log.Warn().Hex("payload", payload).Msg("dropping truncated start-receiver response")
		return
	}
	text := string(bytes.TrimRight(payload[3:], "\x00"))

	d.mu.Lock()
	cb := d.startRxCb
	d.startRxCb = nil
	d.mu.Unlock()

	if text != copyrightNotice {
		err := fmt.Errorf("%w: %q", ErrHandshakeIntegrity, text)
		if cb != nil {
			cb(err)
		}
		d.fail(err)
		return
	}
	if cb != nil {
		cb(nil)
	}
	d.becomeReady()
}

// becomeReady unblocks the transmit queue and fires the stored ready
// callback. The queue starts exactly once per connection.
func (d *Device) becomeReady() {
	d.mu.Lock()
	if d.state == StateClosed {
		// Torn down while the final handshake response was in flight.
		d.mu.Unlock()
		return
	}
	d.state = StateReady
	d.everReady = true
	d.initialising = false
	cb := d.readyCb
	d.readyCb = nil
	queue := d.queue
	d.mu.Unlock()

	d.log.Info().Msg("handshake complete, transmit queue started")
	if queue != nil {
		queue.Start()
	}
	if cb != nil {
		cb()
	}
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	old := d.state
	d.state = s
	d.mu.Unlock()
	d.log.Debug().Stringer("from", old).Stringer("to", s).Msg("state transition")
}

// sleep waits for the duration unless teardown intervenes.
func (d *Device) sleep(dur time.Duration, stop chan struct{}) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

// fail closes the connection after a handshake or transport error.
func (d *Device) fail(err error) {
	d.log.Error().Err(err).Msg("connection failed")
	d.teardown(err)
}

// teardown resets the driver to Closed: the read loop and queue stop,
// pending acknowledgements are dropped, and the transport is closed. The
// host sees "disconnect" if the device had reached Ready, otherwise
// "connectfailed", followed by "end".
func (d *Device) teardown(reason error) {
	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return
	}
	wasReady := d.everReady
	d.state = StateClosed
	d.everReady = false
	d.initialising = false
	d.readyCb = nil
	d.statusCb = nil
	d.startRxCb = nil
	stop := d.stop
	queue := d.queue
	d.queue = nil
	port := d.port
	d.port = nil
	d.mu.Unlock()

	// The read loop may be the goroutine running this teardown (a fatal
	// control response arrives through it), so it is signalled, never
	// joined. Closing the port unblocks any in-progress read.
	if stop != nil {
		close(stop)
	}
	if port != nil {
		port.Close()
	}
	if queue != nil {
		queue.Close()
	}
	d.acks.Clear()
	d.framer.Disable()

	reasonText := ""
	if reason != nil {
		reasonText = reason.Error()
	}
	if wasReady {
		d.events.Emit(EventDisconnect, reasonText)
	} else {
		d.events.Emit(EventConnectFailed, reasonText)
	}
	d.events.Emit(EventEnd, nil)
}

func (d *Device) emitResponse(message string, seq byte, code byte) {
	d.events.Emit(EventResponse, ResponseEvent{Message: message, Seq: seq, Code: code})
}

// deviceSink adapts the device to the dispatcher's output interface.
type deviceSink struct{ d *Device }

func (s deviceSink) EmitEvent(ev protocol.Event) {
	s.d.events.Emit(ev.Name(), ev)
}

func (s deviceSink) EmitResponse(message string, seq byte, code byte) {
	s.d.emitResponse(message, seq, code)
}

// queueWriter adapts the device's serialized write path to the transmit
// queue's io.Writer.
type queueWriter struct{ d *Device }

func (w queueWriter) Write(p []byte) (int, error) {
	if err := w.d.write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
