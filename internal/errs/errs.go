// Package errs defines the error kinds shared by every simulcast-mpv
// process, per the error handling policy in SPEC_FULL.md §7.
package errs

import "errors"

// Sentinel error kinds. Wrap them with fmt.Errorf("...: %w", ErrX) at the
// call site so errors.Is still matches after context is added.
var (
	// ErrConfig marks a fatal startup configuration problem. Exit code 1.
	ErrConfig = errors.New("config error")

	// ErrPlayerUnavailable marks loss of (or failure to reach) the player's
	// IPC endpoint. Exit code 2 at startup; mid-session it ends the process.
	ErrPlayerUnavailable = errors.New("player unavailable")

	// ErrRelayUnavailable marks a relay connection failure. The client-relay
	// link retries with backoff; this error never terminates the process by
	// itself.
	ErrRelayUnavailable = errors.New("relay unavailable")

	// ErrProtocol marks a malformed or out-of-sequence wire message. On the
	// relay this closes the offending session; on the client it is logged
	// and the frame is dropped.
	ErrProtocol = errors.New("protocol error")

	// ErrPeerGone marks a peer that disconnected mid-coordination (e.g.
	// mid-barrier). Not fatal; the peer is dropped from tracking structures.
	ErrPeerGone = errors.New("peer gone")

	// ErrTransient marks a single dropped write or broadcast. Logged at
	// debug level, never surfaced to the user.
	ErrTransient = errors.New("transient error")
)

// ExitCode maps a startup error to the process exit code from SPEC_FULL.md §7.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfig):
		return 1
	case errors.Is(err, ErrPlayerUnavailable):
		return 2
	case errors.Is(err, ErrRelayUnavailable):
		return 3
	default:
		return 1
	}
}
