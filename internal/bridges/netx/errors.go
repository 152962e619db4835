package netx

import "errors"

// Domain errors for the NetX bridge package.
var (
	// ErrConnectionFailed is returned when the TCP connection to the
	// thermostat cannot be established or is lost mid-operation.
	ErrConnectionFailed = errors.New("netx: connection failed")

	// ErrAuthFailed is returned when the thermostat rejects the login line.
	// This is fatal until credentials change and is never retried
	// automatically.
	ErrAuthFailed = errors.New("netx: authentication failed")

	// ErrNotReady is returned when a command is issued before the session
	// has authenticated.
	ErrNotReady = errors.New("netx: session not ready")

	// ErrTimeout is returned when the thermostat does not reply within the
	// command timeout. The session is torn down, since a late reply would
	// desync the request/reply pairing on the shared connection.
	ErrTimeout = errors.New("netx: command timed out")

	// ErrProtocolError is returned when a reply does not match the expected
	// shape for the command that was sent.
	ErrProtocolError = errors.New("netx: unexpected reply shape")

	// ErrCommandRejected is returned when the thermostat explicitly refused
	// a command ("BAD COMMAND", "ERROR", "?", or a non-matching write echo).
	ErrCommandRejected = errors.New("netx: command rejected by device")

	// ErrValidation is returned when a write intent fails client-side bound
	// checks. Nothing is sent to the wire.
	ErrValidation = errors.New("netx: validation failed")

	// ErrNotInstalled signals that the thermostat has no CO2 module.
	// This is a normal, expected state, not a fault.
	ErrNotInstalled = errors.New("netx: module not installed")

	// ErrClosed is returned when an operation is attempted on a closed
	// client or aggregator.
	ErrClosed = errors.New("netx: closed")
)
