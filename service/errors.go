package service

import "errors"

var (
	// ErrBrokerUnavailable reports that the broker session could not be
	// initialized for this call. No publish was attempted.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrPublishFailed reports that the publish attempt was rejected.
	ErrPublishFailed = errors.New("publish failed")
	// ErrInvalidPayload reports a caller fault: empty or oversized payload.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrSupervisorClosed reports a submit after shutdown began.
	ErrSupervisorClosed = errors.New("publish supervisor closed")
)
