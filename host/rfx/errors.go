package rfx

import "errors"

// Predefined error types for robust error handling
var (
	ErrNotConnected       = errors.New("rfx: device not connected")
	ErrAlreadyOpen        = errors.New("rfx: device already open")
	ErrHandshakeIntegrity = errors.New("rfx: unexpected copyright text in start-receiver response")
	ErrUnknownProtocol    = errors.New("rfx: unknown protocol name")
	ErrShortResponse      = errors.New("rfx: interface response too short")
)
