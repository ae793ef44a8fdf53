package broker

import "errors"

// Initialization failures.
var (
	// ErrConfigRejected reports a configuration value the client cannot use.
	ErrConfigRejected = errors.New("broker config rejected")
	// ErrConnectionUnavailable reports that no connection handle could be built.
	ErrConnectionUnavailable = errors.New("broker connection unavailable")
	// ErrTopicUnavailable reports that the topic handle could not be built from a valid connection.
	ErrTopicUnavailable = errors.New("broker topic unavailable")
)

// Publish failures.
var (
	// ErrQueueFull reports that the local outgoing queue cannot take more messages right now.
	ErrQueueFull = errors.New("broker queue full")
	// ErrNotReady reports that the connection or topic handle is not usable.
	ErrNotReady = errors.New("broker session not ready")
)

// ErrSessionClosed is returned by every operation on a closed session.
var ErrSessionClosed = errors.New("broker session closed")

// IsTransient reports whether a publish error may clear up within the same call.
func IsTransient(err error) bool {
	return errors.Is(err, ErrQueueFull)
}
