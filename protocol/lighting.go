package protocol

import "fmt"

// Lighting1 subtypes
const (
	Lighting1X10 = 0x00
	Lighting1ARC = 0x01
)

// Lighting1 command codes
const (
	Lighting1Off      = 0x00
	Lighting1On       = 0x01
	Lighting1Dim      = 0x02
	Lighting1Bright   = 0x03
	Lighting1GroupOff = 0x05
	Lighting1GroupOn  = 0x06
	Lighting1Chime    = 0x07
)

var lighting1Commands = map[byte]string{
	Lighting1Off:      "Off",
	Lighting1On:       "On",
	Lighting1Dim:      "Dim",
	Lighting1Bright:   "Bright",
	Lighting1GroupOff: "Group Off",
	Lighting1GroupOn:  "Group On",
	Lighting1Chime:    "Chime",
}

// LightingEvent is a received Lighting1 remote command.
type LightingEvent struct {
	Subtype byte
	Seq     byte
	ID      string // house code + unit, e.g. "0x41/3"
	Command byte
	Action  string
	Signal  byte
}

func (e *LightingEvent) Name() string { return "lighting1" }

// Lighting1Decoder decodes X10/ARC style lighting packets. Payload layout:
// [subtype, seqnbr, housecode, unitcode, command, rssi].
type Lighting1Decoder struct{}

func (Lighting1Decoder) Decode(payload []byte) (Event, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("%w: lighting1 needs 6 bytes, got %d", ErrShortPayload, len(payload))
	}
	action, ok := lighting1Commands[payload[4]]
	if !ok {
		return nil, fmt.Errorf("%w: lighting1 command 0x%02X", ErrUnknownCommandCode, payload[4])
	}
	return &LightingEvent{
		Subtype: payload[0],
		Seq:     payload[1],
		ID:      DeviceIDUnit(payload[3], payload[2]),
		Command: payload[4],
		Action:  action,
		Signal:  SignalStrength(payload[5]),
	}, nil
}
