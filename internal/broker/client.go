package broker

import "context"

// Client builds connection handles for the broker.
type Client interface {
	Connect(ctx context.Context, cfg Config) (Connection, error)
}

// Connection is a live connection handle. It owns every Topic it opens.
type Connection interface {
	OpenTopic(ctx context.Context, name string) (Topic, error)
	Close() error
}

// Topic accepts messages for asynchronous, batched delivery.
//
// Produce must not wait for broker acknowledgment: a nil error means the
// message entered the local outgoing queue. Implementations report
// ErrQueueFull when the queue cannot take the message and ErrNotReady when
// the handle can no longer deliver.
type Topic interface {
	Produce(ctx context.Context, key, value []byte) error
	Close() error
}
