package cgate

import (
	"errors"
	"fmt"
)

// Domain errors for the C-Gate client package.
var (
	// ErrClosed is returned when an operation is attempted on a session
	// that has been closed.
	ErrClosed = errors.New("cgate: session closed")

	// ErrNotConnected is returned when an operation requires a connection
	// but the channel is not connected.
	ErrNotConnected = errors.New("cgate: not connected")

	// ErrConnectionFailed is returned when a channel cannot be opened.
	ErrConnectionFailed = errors.New("cgate: connection failed")

	// ErrInvalidAddress is returned when a group address string cannot
	// be parsed.
	ErrInvalidAddress = errors.New("cgate: invalid group address")
)

// ProtocolError is returned when C-Gate rejects a command with a status
// code of 400 or above. It reflects a rejected command, not a transient
// fault, and is never retried.
type ProtocolError struct {
	// Code is the 3-digit status code from the terminal response line.
	Code int

	// Line is the complete terminal response line as received.
	Line string
}

// Error returns the rejection including the raw response line.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cgate: command rejected: %s", e.Line)
}
