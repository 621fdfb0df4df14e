package protocol

import "errors"

// Predefined error types for robust error handling
var (
	ErrShortPayload       = errors.New("protocol: payload too short for packet type")
	ErrUnknownCommandCode = errors.New("protocol: unknown command code in payload")
	ErrCommandTimeout     = errors.New("protocol: no acknowledgement before timeout")
	ErrWriteFailed        = errors.New("protocol: transport write failed")
	ErrQueueClosed        = errors.New("protocol: transmit queue closed")
)
