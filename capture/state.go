// Package capture runs live-capture sessions: it follows a channel's live
// status, records the stream, watches chat excitement over a sliding window,
// auto-clips hot moments, and finalizes the footage into the processing
// pipeline.
package capture

import "fmt"

// SessionState is the capture state machine. Idle sessions hold no
// resources; every other state owns a connection, a recording, or both.
type SessionState string

const (
	StateIdle       SessionState = "IDLE"
	StateConnecting SessionState = "CONNECTING"
	StateCapturing  SessionState = "CAPTURING"
	StateFinalizing SessionState = "FINALIZING"
	StateError      SessionState = "ERROR"
)

// transitions is the closed set of legal state changes. Anything else is a
// programming error.
var transitions = map[SessionState][]SessionState{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateCapturing, StateError, StateIdle},
	StateCapturing:  {StateFinalizing, StateError},
	StateFinalizing: {StateIdle, StateError},
	StateError:      {StateIdle},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns an error naming the illegal transition, for the
// session's single state mutator.
func checkTransition(from, to SessionState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal capture state transition %s -> %s", from, to)
	}
	return nil
}
