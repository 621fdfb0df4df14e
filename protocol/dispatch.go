package protocol

import "github.com/rs/zerolog"

// Event is a decoded device event. Each decoder determines the event name
// its output is emitted under; most families use a fixed name, some append
// a subtype-derived suffix.
type Event interface {
	Name() string
}

// Decoder turns a packet's payload (the bytes after the two-byte envelope)
// into an Event. Decode failures are reported as errors, never panics; the
// dispatcher logs and discards them without stopping the stream.
type Decoder interface {
	Decode(payload []byte) (Event, error)
}

// Sink receives the dispatcher's output.
type Sink interface {
	// EmitEvent publishes a decoded device event.
	EmitEvent(ev Event)
	// EmitResponse publishes a transmit acknowledgement result.
	EmitResponse(message string, seq byte, code byte)
}

// Dispatcher routes framed packets to the decoder registered for their
// type byte. Acknowledgement packets resolve the pending entry in the
// acknowledgement table before being reported; interface responses are
// handed to the driver's handshake handler.
type Dispatcher struct {
	decoders  map[byte]Decoder
	acks      *AckTable
	sink      Sink
	onControl func(payload []byte)
	log       zerolog.Logger
}

// NewDispatcher creates a dispatcher with the built-in decoder registry.
func NewDispatcher(acks *AckTable, sink Sink, log zerolog.Logger) *Dispatcher {
	registerMetrics()
	return &Dispatcher{
		decoders: map[byte]Decoder{
			PacketLighting1:   Lighting1Decoder{},
			PacketTemperature: TemperatureDecoder{},
			PacketEnergy:      EnergyDecoder{},
		},
		acks: acks,
		sink: sink,
		log:  log,
	}
}

// Register adds or replaces the decoder for a packet type.
func (d *Dispatcher) Register(packetType byte, dec Decoder) {
	d.decoders[packetType] = dec
}

// SetControlHandler installs the handler for interface response packets
// (type 0x01). The driver owns these during the handshake.
func (d *Dispatcher) SetControlHandler(fn func(payload []byte)) {
	d.onControl = fn
}

// OnFrame processes one framed packet. A malformed or unknown packet is
// logged and dropped; one bad packet never stops the stream.
func (d *Dispatcher) OnFrame(packet []byte) {
	if len(packet) < 2 || len(packet) != int(packet[0])+1 {
		d.log.Warn().Hex("packet", packet).Msg("dropping packet with mismatched length byte")
		packetsDropped.WithLabelValues("length_mismatch").Inc()
		return
	}

	packetType := packet[1]
	payload := packet[2:]

	switch packetType {
	case PacketTransmitAck:
		d.handleAck(payload)
		return
	case PacketInterfaceResponse:
		if d.onControl != nil {
			d.onControl(payload)
		}
		return
	}

	dec, ok := d.decoders[packetType]
	if !ok {
		// Expected: the firmware decodes protocols this driver does not.
		d.log.Debug().Uint8("type", packetType).Msg("unhandled packet type")
		packetsDropped.WithLabelValues("unknown_type").Inc()
		return
	}

	ev, err := dec.Decode(payload)
	if err != nil {
		d.log.Warn().Err(err).Uint8("type", packetType).Msg("decoder failed, packet dropped")
		packetsDropped.WithLabelValues("decode_error").Inc()
		return
	}
	d.sink.EmitEvent(ev)
}

// handleAck settles the pending command for an acknowledgement packet with
// payload [subtype, seqnbr, resultCode], then reports the result.
func (d *Dispatcher) handleAck(payload []byte) {
	if len(payload) < 3 {
		d.log.Warn().Hex("payload", payload).Msg("dropping truncated acknowledgement")
		packetsDropped.WithLabelValues("short_ack").Inc()
		return
	}
	seq, code := payload[1], payload[2]
	d.acks.Resolve(seq, code)
	d.sink.EmitResponse(ResultMessage(code), seq, code)
}
