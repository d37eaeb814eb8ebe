// Package errs defines the sentinel errors that cross component
// boundaries in this module, per the error taxonomy in spec.md §7.
package errs

import "errors"

var (
	// ErrMalformedPacket marks a wire-level parse failure. Callers drop
	// the packet and log; it never propagates past the codec/listener.
	ErrMalformedPacket = errors.New("meshctl: malformed packet")

	// ErrRouteCacheMiss is internal to the DSR resolver: it triggers a
	// broadcast and is never returned to a caller of getNextHop.
	ErrRouteCacheMiss = errors.New("meshctl: route cache miss")

	// ErrDestinationUnreachable is the only error the DSR resolver
	// surfaces to its callers, on timeout.
	ErrDestinationUnreachable = errors.New("meshctl: destination unreachable")

	// ErrSocketError marks a bind/connect/send failure. The calling
	// loop logs and continues.
	ErrSocketError = errors.New("meshctl: socket error")

	// ErrRelayerStallTimeout marks a relayer whose heartbeat exceeded
	// RELAY_TIMEOUT_MS.
	ErrRelayerStallTimeout = errors.New("meshctl: relayer stall timeout")

	// ErrParamInvalid marks a programmer error, e.g. an unknown
	// resolver mode. Fatal for the call that produced it.
	ErrParamInvalid = errors.New("meshctl: invalid parameter")
)
