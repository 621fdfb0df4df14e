package rfx

import "rfxgate/protocol"

// Lighting1 builds and queues commands for X10/ARC style switches. It is
// the reference command builder: any device-family helper follows the same
// shape — allocate a sequence number, serialize the command, hand it to
// QueueMessage with itself as the timeout sender.
type Lighting1 struct {
	device  *Device
	subtype byte
}

// NewLighting1 creates a command builder for one Lighting1 subtype.
func NewLighting1(d *Device, subtype byte) *Lighting1 {
	return &Lighting1{device: d, subtype: subtype}
}

// SwitchOn turns the addressed unit on.
func (l *Lighting1) SwitchOn(houseCode, unit byte, cb protocol.Callback) (byte, error) {
	return l.send(houseCode, unit, protocol.Lighting1On, cb)
}

// SwitchOff turns the addressed unit off.
func (l *Lighting1) SwitchOff(houseCode, unit byte, cb protocol.Callback) (byte, error) {
	return l.send(houseCode, unit, protocol.Lighting1Off, cb)
}

// Chime rings a doorbell unit.
func (l *Lighting1) Chime(houseCode, unit byte, cb protocol.Callback) (byte, error) {
	return l.send(houseCode, unit, protocol.Lighting1Chime, cb)
}

func (l *Lighting1) send(houseCode, unit, command byte, cb protocol.Callback) (byte, error) {
	seq := l.device.NextSequence()
	buffer := []byte{0x07, protocol.PacketLighting1, l.subtype, seq, houseCode, unit, command, 0x00}
	if err := l.device.QueueMessage(l, buffer, seq, cb); err != nil {
		return seq, err
	}
	return seq, nil
}

// TrySatisfyTimeout declines to handle timeouts; the generic timeout
// response is reported instead.
func (l *Lighting1) TrySatisfyTimeout(buffer []byte, seq byte) bool {
	return false
}
