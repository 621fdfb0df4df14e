// Package serial abstracts the byte-stream transport under the driver.
package serial

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Mock serial (for testing)
type Port interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error

	// Flush discards buffered input; the connection handshake uses it to
	// clear whatever the device emitted while resetting.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate; the RFXtrx runs fixed at 38400
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns a default configuration for the RFXtrx
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        38400, // fixed rate of the RFXtrx USB bridge
		ReadTimeout: 100,   // 100ms read timeout
	}
}
