package protocol

import "fmt"

// TemperatureEvent is a reading from one of the temperature sensor
// families (THR128, THC238, THWR800, ...). The subtype distinguishes the
// sensor family and suffixes the event name.
type TemperatureEvent struct {
	Subtype     byte
	Seq         byte
	ID          string
	Temperature float64 // degrees C, negative readings supported
	Signal      byte
	Battery     byte
}

func (e *TemperatureEvent) Name() string { return fmt.Sprintf("temp%d", e.Subtype) }

// TemperatureDecoder decodes temperature sensor packets. Payload layout:
// [subtype, seqnbr, id1, id2, temp-high, temp-low, battery+rssi].
// Temperature uses the signed fixed-point convention in tenths of a
// degree.
type TemperatureDecoder struct{}

func (TemperatureDecoder) Decode(payload []byte) (Event, error) {
	if len(payload) < 7 {
		return nil, fmt.Errorf("%w: temperature needs 7 bytes, got %d", ErrShortPayload, len(payload))
	}
	return &TemperatureEvent{
		Subtype:     payload[0],
		Seq:         payload[1],
		ID:          DeviceID(payload[2], payload[3]),
		Temperature: SignedTenths(payload[4], payload[5]),
		Signal:      SignalStrength(payload[6]),
		Battery:     BatteryLevel(payload[6]),
	}, nil
}
