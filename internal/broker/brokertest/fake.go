// Package brokertest provides a fault-injectable broker.Client for tests.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lechuhuuha/event_relay/internal/broker"
)

// Message is a payload accepted by a fake topic handle.
type Message struct {
	Generation int
	Key        []byte
	Value      []byte
}

// Client is an in-memory broker.Client. Faults are injected with the Set*
// methods and take effect on the next call. Generations are numbered by
// successful Connect calls starting at 1.
type Client struct {
	mu sync.Mutex

	connectErr   error
	openTopicErr error
	produceErr   error
	produceFunc  func(generation int, key, value []byte) error
	closeGate    <-chan struct{}

	connects     int
	openTopics   int
	produceCalls int
	connIDs      int
	messages     []Message
	events       []string
}

// NewClient returns a Client that accepts everything.
func NewClient() *Client {
	return &Client{}
}

func (c *Client) SetConnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *Client) SetOpenTopicErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openTopicErr = err
}

// SetProduceErr makes every Produce call fail with err until reset with nil.
func (c *Client) SetProduceErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.produceErr = err
}

// SetProduceFunc installs a hook that decides the outcome of each Produce call.
func (c *Client) SetProduceFunc(fn func(generation int, key, value []byte) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.produceFunc = fn
}

// SetTopicCloseGate makes topic Close block until gate is closed, the way a
// writer flushing retried batches does. A nil gate restores immediate closes.
func (c *Client) SetTopicCloseGate(gate <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeGate = gate
}

// Connect implements broker.Client.
func (c *Client) Connect(ctx context.Context, _ broker.Config) (broker.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	c.connIDs++
	return &connection{client: c, id: c.connIDs}, nil
}

// Connects returns how many times Connect was called.
func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// OpenTopics returns how many times OpenTopic was called.
func (c *Client) OpenTopics() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openTopics
}

// ProduceCalls returns how many times Produce was called, failed calls included.
func (c *Client) ProduceCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.produceCalls
}

// Messages returns the accepted messages in acceptance order.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Events returns handle lifecycle events such as "topic-1 closed" and "conn-1 closed".
func (c *Client) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	copy(out, c.events)
	return out
}

func (c *Client) record(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

type connection struct {
	client *Client
	id     int

	mu     sync.Mutex
	closed bool
}

func (c *connection) OpenTopic(ctx context.Context, name string) (broker.Topic, error) {
	c.client.mu.Lock()
	c.client.openTopics++
	err := c.client.openTopicErr
	c.client.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	return &topic{conn: c, name: name}, nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.client.record(fmt.Sprintf("conn-%d closed", c.id))
	return nil
}

type topic struct {
	conn *connection
	name string

	mu     sync.Mutex
	closed bool
}

func (t *topic) Produce(_ context.Context, key, value []byte) error {
	c := t.conn.client
	c.mu.Lock()
	c.produceCalls++
	fn, err := c.produceFunc, c.produceErr
	c.mu.Unlock()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: topic handle of generation %d is closed", broker.ErrNotReady, t.conn.id)
	}
	if fn != nil {
		err = fn(t.conn.id, key, value)
	}
	if err != nil {
		return err
	}

	msg := Message{
		Generation: t.conn.id,
		Key:        append([]byte(nil), key...),
		Value:      append([]byte(nil), value...),
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	return nil
}

func (t *topic) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	c := t.conn.client
	c.mu.Lock()
	gate := c.closeGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.record(fmt.Sprintf("topic-%d closed", t.conn.id))
	return nil
}
