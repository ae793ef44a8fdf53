package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/lechuhuuha/event_relay/internal/broker"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

type fakeKafkaWriter struct {
	mu         sync.Mutex
	writes     []kafka.Message
	writeErr   error
	closeErr   error
	closeCalls int
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, msgs...)
	return w.writeErr
}

func (w *fakeKafkaWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeCalls++
	return w.closeErr
}

func (w *fakeKafkaWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]kafka.Message, len(w.writes))
	copy(out, w.writes)
	return out
}

func newTestTopic(writer messageWriter, maxInflight int) *kafkaTopic {
	topic := newKafkaTopic("events", maxInflight, loggerpkg.NewNop())
	topic.writer = writer
	return topic
}

func TestKafkaTopicProduce(t *testing.T) {
	cases := []struct {
		name         string
		writerErr    error
		maxInflight  int
		preInflight  int64
		wantErr      error
		wantWrites   int
		wantInflight int64
	}{
		{
			name:         "accepted message stays in flight",
			maxInflight:  10,
			wantWrites:   1,
			wantInflight: 1,
		},
		{
			name:         "full queue rejects without writing",
			maxInflight:  2,
			preInflight:  2,
			wantErr:      broker.ErrQueueFull,
			wantInflight: 2,
		},
		{
			name:         "unbounded when max is zero",
			maxInflight:  0,
			preInflight:  1000,
			wantWrites:   1,
			wantInflight: 1001,
		},
		{
			name:         "closed writer maps to not ready",
			maxInflight:  10,
			writerErr:    io.ErrClosedPipe,
			wantErr:      broker.ErrNotReady,
			wantWrites:   1,
			wantInflight: 0,
		},
		{
			name:         "context errors pass through",
			maxInflight:  10,
			writerErr:    context.DeadlineExceeded,
			wantErr:      context.DeadlineExceeded,
			wantWrites:   1,
			wantInflight: 0,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			writer := &fakeKafkaWriter{writeErr: tc.writerErr}
			topic := newTestTopic(writer, tc.maxInflight)
			topic.inflight.Store(tc.preInflight)

			err := topic.Produce(context.Background(), []byte("k"), []byte("v"))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := len(writer.written()); got != tc.wantWrites {
				t.Fatalf("unexpected writes: got=%d want=%d", got, tc.wantWrites)
			}
			if got := topic.Inflight(); got != tc.wantInflight {
				t.Fatalf("unexpected inflight: got=%d want=%d", got, tc.wantInflight)
			}
		})
	}
}

func TestKafkaTopicProduceCarriesKeyAndValue(t *testing.T) {
	writer := &fakeKafkaWriter{}
	topic := newTestTopic(writer, 10)

	if err := topic.Produce(context.Background(), []byte("10.0.0.1:5000"), []byte(`{"id":1}`)); err != nil {
		t.Fatalf("produce: %v", err)
	}
	msgs := writer.written()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Key) != "10.0.0.1:5000" || string(msgs[0].Value) != `{"id":1}` {
		t.Fatalf("unexpected message: key=%q value=%q", msgs[0].Key, msgs[0].Value)
	}
}

func TestKafkaTopicCompletion(t *testing.T) {
	cases := []struct {
		name         string
		deliveryErr  error
		wantNotReady bool
	}{
		{name: "successful delivery keeps handle usable"},
		{name: "failed delivery breaks handle", deliveryErr: errors.New("leader not available"), wantNotReady: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			writer := &fakeKafkaWriter{}
			topic := newTestTopic(writer, 10)
			if err := topic.Produce(context.Background(), nil, []byte("a")); err != nil {
				t.Fatalf("produce: %v", err)
			}
			topic.complete(writer.written(), tc.deliveryErr)
			if got := topic.Inflight(); got != 0 {
				t.Fatalf("expected inflight drained, got %d", got)
			}

			err := topic.Produce(context.Background(), nil, []byte("b"))
			if tc.wantNotReady {
				if !errors.Is(err, broker.ErrNotReady) {
					t.Fatalf("expected ErrNotReady, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// stalledWriter stands in for a writer stuck on a metadata lookup.
type stalledWriter struct{}

func (stalledWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledWriter) Close() error { return nil }

func TestKafkaTopicProduceWriteTimeout(t *testing.T) {
	cases := []struct {
		name         string
		writeTimeout time.Duration
		callerWait   time.Duration
		wantErr      error
		wantNotReady bool
	}{
		{
			name:         "stalled write reports not ready",
			writeTimeout: 50 * time.Millisecond,
			callerWait:   5 * time.Second,
			wantErr:      broker.ErrNotReady,
			wantNotReady: true,
		},
		{
			name:         "caller deadline wins over write timeout",
			writeTimeout: 5 * time.Second,
			callerWait:   50 * time.Millisecond,
			wantErr:      context.DeadlineExceeded,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			topic := newTestTopic(stalledWriter{}, 10)
			topic.writeTimeout = tc.writeTimeout
			ctx, cancel := context.WithTimeout(context.Background(), tc.callerWait)
			defer cancel()

			start := time.Now()
			err := topic.Produce(ctx, nil, []byte("v"))
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Fatalf("Produce blocked for %v", elapsed)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.wantNotReady && errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("write timeout must not read as a caller deadline: %v", err)
			}
			if got := errors.Is(err, broker.ErrNotReady); got != tc.wantNotReady {
				t.Fatalf("unexpected ErrNotReady match: got=%v want=%v (err=%v)", got, tc.wantNotReady, err)
			}
			if topic.Inflight() != 0 {
				t.Fatalf("expected inflight reverted, got %d", topic.Inflight())
			}
		})
	}
}

func TestKafkaTopicCloseIsIdempotent(t *testing.T) {
	writer := &fakeKafkaWriter{closeErr: errors.New("flush failed")}
	topic := newTestTopic(writer, 10)

	first := topic.Close()
	second := topic.Close()
	if first == nil || second == nil {
		t.Fatalf("expected close error to be kept, got %v and %v", first, second)
	}
	if writer.closeCalls != 1 {
		t.Fatalf("expected writer closed once, got %d", writer.closeCalls)
	}
	if err := topic.Produce(context.Background(), nil, []byte("late")); !errors.Is(err, broker.ErrNotReady) {
		t.Fatalf("expected ErrNotReady after close, got %v", err)
	}
}

func TestCompressionCodec(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    kafka.Compression
		wantErr bool
	}{
		{name: "none empty", in: "", want: 0},
		{name: "none literal", in: "none", want: 0},
		{name: "gzip", in: "gzip", want: kafka.Gzip},
		{name: "snappy upper", in: "SNAPPY", want: kafka.Snappy},
		{name: "lz4", in: "lz4", want: kafka.Lz4},
		{name: "zstd", in: "zstd", want: kafka.Zstd},
		{name: "zstandard", in: "zstandard", want: kafka.Zstd},
		{name: "unknown", in: "brotli", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := compressionCodec(tc.in)
			if tc.wantErr {
				if !errors.Is(err, broker.ErrConfigRejected) {
					t.Fatalf("expected ErrConfigRejected, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected codec: got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestKafkaClientConnectUnreachable(t *testing.T) {
	client := NewKafkaClient(nil)
	cfg := broker.Config{
		Brokers:     []string{"127.0.0.1:1"},
		Topic:       "events",
		DialTimeout: 200 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := client.Connect(ctx, cfg)
	if !errors.Is(err, broker.ErrConnectionUnavailable) {
		t.Fatalf("expected ErrConnectionUnavailable, got %v", err)
	}
	if conn != nil {
		t.Fatalf("expected nil connection, got %v", conn)
	}
}

func TestKafkaClientConnectRejectsCompression(t *testing.T) {
	client := NewKafkaClient(loggerpkg.NewNop())
	cfg := broker.Config{Brokers: []string{"127.0.0.1:1"}, Topic: "events", Compression: "brotli"}

	if _, err := client.Connect(context.Background(), cfg); !errors.Is(err, broker.ErrConfigRejected) {
		t.Fatalf("expected ErrConfigRejected, got %v", err)
	}
}
