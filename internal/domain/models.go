package domain

import (
	"context"
	"time"
)

// PublishRequest is one inbound event on its way to the broker. It is built
// per call and never reused.
type PublishRequest struct {
	// Key selects the partition; events sharing a key keep their relative order.
	Key        []byte
	Payload    []byte
	ReceivedAt time.Time
}

// RejectedEvent is an event whose submission failed on the broker side.
type RejectedEvent struct {
	Request    PublishRequest
	Reason     string
	Kind       string
	RejectedAt time.Time
}

// Archiver keeps rejected events somewhere they can be inspected or replayed.
type Archiver interface {
	Archive(ctx context.Context, event RejectedEvent) error
}
