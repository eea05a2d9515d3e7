// Package errors provides standardized error handling patterns for starsync.
//
// # Overview
//
// The errors package implements a three-class error classification system for
// the state-synchronization core: Transient (temporary, retryable), Invalid
// (bad input, non-retryable), and Fatal (unrecoverable, stop processing).
//
// Classification lets the network layer make informed decisions about retries
// and failure isolation without hardcoded error string matching. Per-connection
// errors stay Invalid or Transient and never escalate past their session;
// construction-time failures (bad bind address, bad certificate) are Fatal.
//
// # Error Classification
//
//   - Transient: connection loss, timeouts, shutdown overruns (retry or absorb)
//   - Invalid: value validation failures, oversized payloads, malformed
//     subscription requests (surface to the caller, do not retry)
//   - Fatal: bind failures, missing transport implementations, bad
//     configuration (fail startup, surface to the operator)
//
// # Quick Start
//
// Use standard error variables for known conditions:
//
//	if prop.finalized {
//	    return errors.ErrPropertyGone
//	}
//
// Wrap errors with context for debugging:
//
//	if err := sess.SendPacket(data); err != nil {
//	    return errors.WrapTransient(err, "ConnectionRegistry", "Deliver", "send packet")
//	}
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// The types support errors.Is, errors.As and wrapping chains; classification
// is preserved through the chain.
package errors
