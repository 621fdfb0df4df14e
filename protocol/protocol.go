// Package protocol implements the RFXtrx433 wire protocol engine: framing
// of the raw byte stream, sequence-numbered acknowledgement matching, the
// transmit queue, and packet dispatch to per-family decoders.
package protocol

// Protocol constants
const (
	// PacketLengthMin/Max bound the value of a packet's length byte. A
	// length byte outside this range means the stream is desynchronized.
	PacketLengthMin = 4
	PacketLengthMax = 36

	// CommandOverhead is the number of envelope bytes counted in an
	// outbound command's length byte besides the payload
	// (type, subtype, seqnbr, cmd).
	CommandOverhead = 4
)

// Packet type codes (byte 1 of a framed packet)
const (
	PacketInterfaceMessage  = 0x00 // host -> device control commands
	PacketInterfaceResponse = 0x01 // device -> host control responses
	PacketTransmitAck       = 0x02 // acknowledgement for a queued transmission
	PacketLighting1         = 0x10 // X10/ARC style lighting
	PacketTemperature       = 0x50 // temperature sensors
	PacketEnergy            = 0x5A // CM119/160/180 energy meters
)

// Interface command codes (cmd byte of an interface message)
const (
	CmdReset         = 0x00
	CmdGetStatus     = 0x02
	CmdSetMode       = 0x03
	CmdSave          = 0x06
	CmdStartReceiver = 0x07
)

// Interface response subtypes
const (
	SubtypeModeResponse    = 0x00
	SubtypeStartReceiver   = 0x07
	SubtypeUnknownRemoteID = 0xFE
	SubtypeUnknownCommand  = 0xFF
)

// Transmit result codes carried by acknowledgement packets. Codes 0xF0 and
// above never appear on the wire; they are generated by the driver itself.
const (
	ResultTransmitOK      = 0x00
	ResultTransmitDelayed = 0x01
	ResultNAKNoLock       = 0x02
	ResultNAKAddress      = 0x03

	ResultTimeout         = 0xF0
	ResultUnknownCommand  = 0xF1
	ResultUnknownRemoteID = 0xF2
)

var resultMessages = map[byte]string{
	ResultTransmitOK:      "ACK - transmit OK",
	ResultTransmitDelayed: "ACK - transmit delayed",
	ResultNAKNoLock:       "NAK - transmitter did not lock onto frequency",
	ResultNAKAddress:      "NAK - AC address zero in id1-id4 not allowed",
	ResultTimeout:         "Response timeout",
	ResultUnknownCommand:  "Device does not support the command",
	ResultUnknownRemoteID: "Remote ID is not known to the device",
}

// ResultMessage returns the human-readable description for a transmit
// result code.
func ResultMessage(code byte) string {
	if msg, ok := resultMessages[code]; ok {
		return msg
	}
	return "Unknown result code"
}

// Command is one outbound command message before serialization.
type Command struct {
	Type    byte
	Subtype byte
	Seq     byte
	Cmd     byte
	Payload []byte
}

// Marshal serializes the command into its wire form:
// [payloadLen+4, type, subtype, seqnbr, cmd, payload...].
func (c Command) Marshal() []byte {
	buf := make([]byte, 0, 5+len(c.Payload))
	buf = append(buf, byte(len(c.Payload)+CommandOverhead), c.Type, c.Subtype, c.Seq, c.Cmd)
	return append(buf, c.Payload...)
}
