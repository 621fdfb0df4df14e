package protocol

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// framerBufferSize is comfortably larger than one serial read plus a
// maximum-length partial packet.
const framerBufferSize = 512

// Framer turns the raw inbound byte stream into complete packets. The first
// byte of every packet declares the number of bytes that follow it, so a
// packet of length byte L occupies L+1 bytes on the wire. A length byte
// outside [PacketLengthMin, PacketLengthMax] means the stream is
// desynchronized: all accumulated bytes are discarded and framing resumes
// with the next chunk.
//
// The framer is not safe for concurrent use; the driver's read loop is its
// only caller.
type Framer struct {
	buf      *FifoBuffer
	required int         // bytes needed for the next packet; 0 = need a length byte
	enabled  atomic.Bool // set once the handshake completes

	log zerolog.Logger
}

// NewFramer creates a disabled framer. It must be enabled before it will
// accept input; until then the device's bootloader window can emit garbage
// bytes that must not be misframed.
func NewFramer(log zerolog.Logger) *Framer {
	registerMetrics()
	return &Framer{
		buf: NewFifoBuffer(framerBufferSize),
		log: log,
	}
}

// Enable starts framing. Called when the connection handshake completes.
func (f *Framer) Enable() {
	f.enabled.Store(true)
}

// Disable stops framing. The next Push while disabled discards whatever
// partial packet was accumulated. Safe to call from a goroutine other than
// the read loop.
func (f *Framer) Disable() {
	f.enabled.Store(false)
}

// Enabled reports whether the framer is accepting input.
func (f *Framer) Enabled() bool {
	return f.enabled.Load()
}

// Push appends a chunk of raw bytes and returns the complete packets that
// can now be extracted. A single chunk may complete zero, one, or several
// packets. While the framer is disabled all input is dropped.
func (f *Framer) Push(chunk []byte) [][]byte {
	if !f.enabled.Load() {
		if !f.buf.IsEmpty() {
			f.buf.Reset()
			f.required = 0
		}
		return nil
	}

	f.buf.Write(chunk)

	var packets [][]byte
	for f.buf.Available() >= f.required {
		if f.required > 0 {
			data := f.buf.Data()
			pkt := make([]byte, f.required)
			copy(pkt, data[:f.required])
			f.buf.Pop(f.required)
			f.required = 0

			framesTotal.Inc()
			packets = append(packets, pkt)
		}

		if f.buf.Available() == 0 {
			break
		}

		length := f.buf.Data()[0]
		if length < PacketLengthMin || length > PacketLengthMax {
			// Desynchronized. Drop everything buffered and wait for a
			// future chunk to start with a valid length byte.
			f.log.Debug().
				Uint8("length_byte", length).
				Int("discarded", f.buf.Available()).
				Msg("framer desynchronized, resyncing")
			f.buf.Reset()
			f.required = 0
			resyncsTotal.Inc()
			break
		}
		f.required = int(length) + 1
	}

	return packets
}
