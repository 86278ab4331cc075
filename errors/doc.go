// Package errors provides the error classification used across skystream.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, the caller may try again later),
// Invalid (bad input such as a malformed frame or record, never retried) and Fatal
// (misconfiguration, stop the process at startup).
//
// The ingester itself never stops on a classified error at runtime. The classes decide how
// a failure is logged and counted:
//
//   - transport failure on the firehose socket: transient, reconnect after a fixed delay
//   - frame that fails decoding or schema validation: invalid, drop the frame
//   - record that cannot be decoded: invalid, skip that operation
//   - unknown identity or handle in the profile cache: returned to the caller
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// For example:
//
//	return errors.WrapInvalid(err, "firehose", "decodeFrame", "decode header")
//
// The wrapped error keeps the chain intact so errors.Is and errors.As work on the
// sentinel values defined in this package.
package errors
