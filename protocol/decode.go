package protocol

import (
	"fmt"
	"strings"
)

// Shared byte-layout conventions used across the device families. Every
// decoder builds on these rather than reimplementing them.

// EnergyDivisor converts the raw cumulative energy counter to watt-hours.
const EnergyDivisor = 223.666

// DeviceID renders raw id bytes as a fixed-width hex string, e.g.
// DeviceID(0x12, 0x34) == "0x1234".
func DeviceID(id ...byte) string {
	var b strings.Builder
	b.WriteString("0x")
	for _, v := range id {
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// DeviceIDUnit renders id bytes with a trailing unit/channel number, e.g.
// "0x41/3".
func DeviceIDUnit(unit byte, id ...byte) string {
	return fmt.Sprintf("%s/%d", DeviceID(id...), unit)
}

// SignalStrength extracts the RSSI nibble from a trailing status byte.
func SignalStrength(status byte) byte {
	return status >> 4
}

// BatteryLevel extracts the battery nibble co-packed with the RSSI nibble.
func BatteryLevel(status byte) byte {
	return status & 0x0F
}

// SignedTenths decodes the two-byte signed fixed-point convention: the
// high bit of hi is the sign flag, the remaining 15 bits are the magnitude
// in tenths of a unit.
func SignedTenths(hi, lo byte) float64 {
	magnitude := float64(uint16(hi&0x7F)<<8|uint16(lo)) / 10
	if hi&0x80 != 0 {
		return -magnitude
	}
	return magnitude
}

// BigEndianUint decodes a big-endian unsigned counter of up to 8 bytes.
// The energy and rain families use 4- and 6-byte counters.
func BigEndianUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
