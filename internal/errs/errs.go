// Package errs defines the control plane's sentinel error kinds. Call
// sites wrap them with fmt.Errorf("...: %w", errs.Unreachable) so errors.Is
// keeps working while the message stays specific.
package errs

import "errors"

var (
	// Unreachable means a device or external collaborator did not respond
	// within its timeout. Never fatal; the next tick retries.
	Unreachable = errors.New("unreachable")

	// DecodeError means a response was received but could not be parsed
	// into the expected shape.
	DecodeError = errors.New("decode error")

	// ProtocolError means a response violated the wire protocol (e.g. an
	// adapter command the device rejected).
	ProtocolError = errors.New("protocol error")

	// ValidationError means a caller-supplied value (a band edit, a config
	// set) failed validation. Surfaced to the caller; never stored.
	ValidationError = errors.New("validation error")

	// ConflictError means a requested state transition cannot be satisfied
	// given current device constraints (e.g. a fixed-slot pool target not
	// present on the device).
	ConflictError = errors.New("conflict")

	// StoreTransientError means a store write failed due to transient
	// contention (e.g. a SQLite write lock) and may succeed on retry.
	StoreTransientError = errors.New("store transient error")

	// StrategyInvariantViolation means a strategy's required invariants no
	// longer hold (e.g. the Agile Solo strategy references a coin with no
	// matching pool). The strategy disables itself and records an audit
	// entry.
	StrategyInvariantViolation = errors.New("strategy invariant violation")

	// Unsupported means a family does not support the requested
	// capability (mode control, pool switching). A SetMode/SwitchPool call
	// against an unsupported family is a no-op that fails rather than
	// silently succeeding.
	Unsupported = errors.New("unsupported by family")

	// PoolNotInSlots means a fixed-slot family's device does not have the
	// requested pool in any of its slots.
	PoolNotInSlots = errors.New("pool not in device slots")

	// NoFetcherConfigured means a job that depends on an external fetcher
	// contract was wired without a concrete
	// implementation. Logged and retried next tick, same as Unreachable.
	NoFetcherConfigured = errors.New("no fetcher configured")
)
