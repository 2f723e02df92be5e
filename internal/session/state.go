package session

import "fmt"

// State is a session lifecycle phase. A session walks forward through the
// happy path and may bounce between Streaming, Suspended and Connecting
// while the network flaps; every path funnels through Stopping into one of
// the two terminal states.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StateConnecting           State = "connecting"
	StateConfiguring          State = "configuring_session"
	StateStreaming            State = "streaming"
	StateSuspended            State = "suspended"
	StateStopping             State = "stopping"
	StateClosed               State = "closed"
	StateFailed               State = "failed"
)

// Terminal reports whether a state is absorbing: Closed after a clean stop,
// Failed after a fatal error.
func Terminal(s State) bool {
	return s == StateClosed || s == StateFailed
}

// Code classifies why a session degraded or ended. A fatal code rides
// through Stopping into Failed and stays readable on the final snapshot.
type Code string

const (
	CodePermissionDenied   Code = "permission_denied"
	CodeConfigTimeout      Code = "config_timeout"
	CodeConnectionLost     Code = "connection_lost"
	CodeNetworkError       Code = "network_error"
	CodeProtocolError      Code = "protocol_error"
	CodeQuotaExceeded      Code = "quota_exceeded"
	CodePlaybackError      Code = "playback_error"
	CodeCaptureDeviceError Code = "capture_device_error"
)

// Error ties a lifecycle code to its cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

var validTransitions = map[State][]State{
	StateIdle:                 {StateRequestingPermission},
	StateRequestingPermission: {StateConnecting, StateStopping},
	StateConnecting:           {StateConfiguring, StateSuspended, StateStopping},
	StateConfiguring:          {StateStreaming, StateSuspended, StateStopping},
	StateStreaming:            {StateSuspended, StateStopping},
	StateSuspended:            {StateConnecting, StateStopping},
	StateStopping:             {StateClosed, StateFailed},
	StateClosed:               {},
	StateFailed:               {},
}

// ValidTransition reports whether the state machine documents an edge
// from one state to another.
func ValidTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
