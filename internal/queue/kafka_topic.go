package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/lechuhuuha/event_relay/internal/broker"
	"github.com/lechuhuuha/event_relay/internal/metrics"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaTopic wraps an async kafka.Writer. Delivery results arrive through
// complete; a failed delivery marks the handle broken so later produces
// report broker.ErrNotReady.
type kafkaTopic struct {
	name        string
	writer      messageWriter
	maxInflight int64
	logger      loggerpkg.Logger
	// writeTimeout bounds WriteMessages, which looks up partition metadata
	// synchronously even for an async writer.
	writeTimeout time.Duration

	inflight  atomic.Int64
	brokenErr atomic.Pointer[error]
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newKafkaTopic(name string, maxInflight int, logger loggerpkg.Logger) *kafkaTopic {
	if logger == nil {
		logger = loggerpkg.NewNop()
	}
	return &kafkaTopic{
		name:        name,
		maxInflight: int64(maxInflight),
		logger:      logger,
	}
}

func (t *kafkaTopic) Produce(ctx context.Context, key, value []byte) error {
	if t.closed.Load() {
		return fmt.Errorf("%w: topic handle closed", broker.ErrNotReady)
	}
	if errp := t.brokenErr.Load(); errp != nil {
		return fmt.Errorf("%w: %w", broker.ErrNotReady, *errp)
	}
	if n := t.inflight.Add(1); t.maxInflight > 0 && n > t.maxInflight {
		t.inflight.Add(-1)
		return broker.ErrQueueFull
	}
	metrics.AddInflightMessages(1)

	writeCtx := ctx
	if t.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, t.writeTimeout)
		defer cancel()
	}

	msg := kafka.Message{Key: key, Value: value}
	if err := t.writer.WriteMessages(writeCtx, msg); err != nil {
		t.inflight.Add(-1)
		metrics.AddInflightMessages(-1)
		if ctx.Err() != nil {
			return err
		}
		if writeCtx.Err() != nil {
			return fmt.Errorf("%w: kafka write did not return within %s: %v", broker.ErrNotReady, t.writeTimeout, err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if errors.Is(err, io.ErrClosedPipe) {
			return fmt.Errorf("%w: %w", broker.ErrNotReady, err)
		}
		return err
	}
	return nil
}

// complete is the writer's completion callback. It runs once per delivered batch.
func (t *kafkaTopic) complete(messages []kafka.Message, err error) {
	n := int64(len(messages))
	if n == 0 {
		return
	}
	t.inflight.Add(-n)
	metrics.AddInflightMessages(-int(n))
	if err == nil {
		metrics.AddMessagesDelivered(int(n))
		return
	}
	metrics.AddDeliveryFailures(int(n))
	if t.brokenErr.CompareAndSwap(nil, &err) {
		t.logger.Warn("kafka delivery failed",
			loggerpkg.F("topic", t.name),
			loggerpkg.F("messages", n),
			loggerpkg.F("error", err),
		)
	}
}

// Inflight reports how many produced messages still wait for a delivery result.
func (t *kafkaTopic) Inflight() int64 {
	return t.inflight.Load()
}

// Close flushes pending batches and closes the writer. It is safe to call more than once.
func (t *kafkaTopic) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.writer == nil {
			return
		}
		if err := t.writer.Close(); err != nil {
			t.closeErr = fmt.Errorf("close writer for %q: %w", t.name, err)
		}
	})
	return t.closeErr
}
