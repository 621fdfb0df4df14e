package protocol

import "fmt"

// EnergyEvent is a reading from a CM119/160/180 energy meter. Power is the
// instantaneous draw in watts; Energy is the cumulative total in
// watt-hours and is only present when the meter's count byte is zero.
type EnergyEvent struct {
	Subtype   byte
	Seq       byte
	ID        string
	Count     byte
	Power     float64
	Energy    float64
	HasEnergy bool
	Signal    byte
	Battery   byte
}

func (e *EnergyEvent) Name() string { return "energy" }

// EnergyDecoder decodes energy meter packets. Payload layout:
// [subtype, seqnbr, id1, id2, count, instant(4), total(6), battery+rssi].
// The 4-byte instantaneous counter is watts; the 6-byte cumulative counter
// is scaled by EnergyDivisor to watt-hours and gated on count == 0.
type EnergyDecoder struct{}

func (EnergyDecoder) Decode(payload []byte) (Event, error) {
	if len(payload) < 16 {
		return nil, fmt.Errorf("%w: energy needs 16 bytes, got %d", ErrShortPayload, len(payload))
	}
	ev := &EnergyEvent{
		Subtype: payload[0],
		Seq:     payload[1],
		ID:      DeviceID(payload[2], payload[3]),
		Count:   payload[4],
		Power:   float64(BigEndianUint(payload[5:9])),
		Signal:  SignalStrength(payload[15]),
		Battery: BatteryLevel(payload[15]),
	}
	if ev.Count == 0 {
		ev.Energy = float64(BigEndianUint(payload[9:15])) / EnergyDivisor
		ev.HasEnergy = true
	}
	return ev, nil
}
