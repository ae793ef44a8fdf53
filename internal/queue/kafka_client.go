package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/lechuhuuha/event_relay/internal/broker"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

const defaultIdleTimeout = 30 * time.Second

// KafkaClient builds broker connections backed by segmentio/kafka-go.
type KafkaClient struct {
	logger loggerpkg.Logger
}

// NewKafkaClient returns a broker.Client for Kafka clusters.
func NewKafkaClient(logger loggerpkg.Logger) *KafkaClient {
	if logger == nil {
		logger = loggerpkg.NewNop()
	}
	return &KafkaClient{logger: logger}
}

// Connect dials the first reachable bootstrap broker. The control connection
// is kept for metadata lookups; messages travel through a shared transport.
func (c *KafkaClient) Connect(ctx context.Context, cfg broker.Config) (broker.Connection, error) {
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	var (
		control *kafka.Conn
		errs    []error
	)
	for _, addr := range cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", addr, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		control = conn
		break
	}
	if control == nil {
		return nil, fmt.Errorf("%w: %w", broker.ErrConnectionUnavailable, errors.Join(errs...))
	}

	transport := &kafka.Transport{
		ClientID:    cfg.ClientID,
		DialTimeout: cfg.DialTimeout,
		IdleTimeout: defaultIdleTimeout,
	}
	c.logger.Debug("kafka control connection established",
		loggerpkg.F("broker", control.RemoteAddr().String()),
	)
	return &kafkaConnection{
		cfg:       cfg,
		codec:     codec,
		control:   control,
		transport: transport,
		logger:    c.logger,
	}, nil
}

type kafkaConnection struct {
	cfg       broker.Config
	codec     kafka.Compression
	control   *kafka.Conn
	transport *kafka.Transport
	logger    loggerpkg.Logger

	mu     sync.Mutex
	topics []*kafkaTopic
	closed bool
}

func (c *kafkaConnection) OpenTopic(ctx context.Context, name string) (broker.Topic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: connection closed", broker.ErrNotReady)
	}
	if !c.cfg.AutoCreateTopic {
		if err := c.lookupTopic(ctx, name); err != nil {
			return nil, err
		}
	}

	acks := kafka.RequireOne
	if c.cfg.RequireAllAcks {
		acks = kafka.RequireAll
	}
	topic := newKafkaTopic(name, c.cfg.MaxBufferedMessages, c.logger)
	topic.writeTimeout = c.cfg.PublishTimeout
	topic.writer = &kafka.Writer{
		Addr:                   kafka.TCP(c.cfg.Brokers...),
		Topic:                  name,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            c.cfg.MaxRetries + 1,
		WriteBackoffMin:        c.cfg.ReconnectBackoff,
		WriteBackoffMax:        c.cfg.ReconnectBackoffMax,
		BatchSize:              c.cfg.BatchSize,
		BatchBytes:             c.cfg.BatchBytes,
		BatchTimeout:           c.cfg.BatchTimeout,
		RequiredAcks:           acks,
		Async:                  true,
		Completion:             topic.complete,
		Compression:            c.codec,
		Transport:              c.transport,
		AllowAutoTopicCreation: c.cfg.AutoCreateTopic,
	}
	c.topics = append(c.topics, topic)
	return topic, nil
}

func (c *kafkaConnection) lookupTopic(ctx context.Context, name string) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.control.SetDeadline(deadline); err != nil {
			return fmt.Errorf("%w: set deadline: %w", broker.ErrTopicUnavailable, err)
		}
		defer c.control.SetDeadline(time.Time{})
	}
	partitions, err := c.control.ReadPartitions(name)
	if err != nil {
		return fmt.Errorf("%w: read partitions for %q: %w", broker.ErrTopicUnavailable, name, err)
	}
	if len(partitions) == 0 {
		return fmt.Errorf("%w: topic %q has no partitions", broker.ErrTopicUnavailable, name)
	}
	return nil
}

// Close closes every topic that is still open, then the control connection.
func (c *kafkaConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	topics := c.topics
	c.topics = nil
	c.mu.Unlock()

	var errs []error
	for _, t := range topics {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.control.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close control connection: %w", err))
	}
	c.transport.CloseIdleConnections()
	return errors.Join(errs...)
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd", "zstandard":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("%w: unsupported compression %q", broker.ErrConfigRejected, name)
	}
}
