package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/lechuhuuha/event_relay/internal/broker"
	"github.com/lechuhuuha/event_relay/internal/broker/brokertest"
	"github.com/lechuhuuha/event_relay/internal/domain"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
	"github.com/lechuhuuha/event_relay/service"
)

const bufSize = 1 << 20

type logRecord struct {
	level  string
	msg    string
	fields map[string]interface{}
}

type captureLogger struct {
	mu      sync.Mutex
	records []logRecord
}

func (l *captureLogger) add(level, msg string, fields []loggerpkg.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	l.records = append(l.records, logRecord{level: level, msg: msg, fields: m})
}

func (l *captureLogger) Info(msg string, fields ...loggerpkg.Field)  { l.add("info", msg, fields) }
func (l *captureLogger) Warn(msg string, fields ...loggerpkg.Field)  { l.add("warn", msg, fields) }
func (l *captureLogger) Error(msg string, fields ...loggerpkg.Field) { l.add("error", msg, fields) }
func (l *captureLogger) Debug(msg string, fields ...loggerpkg.Field) { l.add("debug", msg, fields) }
func (l *captureLogger) Fatal(msg string, fields ...loggerpkg.Field) { l.add("fatal", msg, fields) }
func (l *captureLogger) With(...loggerpkg.Field) loggerpkg.Logger    { return l }

func (l *captureLogger) errors() []logRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logRecord
	for _, r := range l.records {
		if r.level == "error" {
			out = append(out, r)
		}
	}
	return out
}

type submitFunc func(ctx context.Context, req domain.PublishRequest) error

func (f submitFunc) Submit(ctx context.Context, req domain.PublishRequest) error {
	return f(ctx, req)
}

type relayFixture struct {
	client  *brokertest.Client
	session *broker.Session
	sup     *service.PublishSupervisor
	logs    *captureLogger
	conn    *grpc.ClientConn
	rpc     *IngestionClient
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	client := brokertest.NewClient()
	session, err := broker.NewSession(broker.Config{
		Brokers:             []string{"localhost:9092"},
		Topic:               "olist-enterprise-events",
		BatchTimeout:        5 * time.Millisecond,
		ReconnectBackoff:    time.Second,
		ReconnectBackoffMax: 10 * time.Second,
		MaxRetries:          5,
	}, client, nil)
	require.NoError(t, err)
	sup := service.NewPublishSupervisor(session, nil, nil, &service.SupervisorConfig{InitTimeout: time.Second})
	require.NoError(t, sup.Start(context.Background()))

	logs := &captureLogger{}
	handler := NewHandler(sup, "olist-enterprise-events", logs)
	conn := dialServer(t, NewServer(handler, logs))
	return &relayFixture{
		client:  client,
		session: session,
		sup:     sup,
		logs:    logs,
		conn:    conn,
		rpc:     NewIngestionClient(conn),
	}
}

func dialServer(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSendEventAccepted(t *testing.T) {
	f := newRelayFixture(t)

	resp, err := f.rpc.SendEvent(callCtx(t), &EventRequest{Value: []byte("x")})
	require.NoError(t, err)
	require.True(t, resp.GetValue())

	msgs := f.client.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "x", string(msgs[0].Value))
	require.Empty(t, f.logs.errors())
}

func TestSendEventPartitionKeyHeader(t *testing.T) {
	f := newRelayFixture(t)
	ctx := metadata.AppendToOutgoingContext(callCtx(t), "x-partition-key", "customer-42")

	resp, err := f.rpc.SendEvent(ctx, &EventRequest{Value: []byte("x")})
	require.NoError(t, err)
	require.True(t, resp.GetValue())
	require.Equal(t, "customer-42", string(f.client.Messages()[0].Key))
}

func TestSendEventConnectionFailureDegrades(t *testing.T) {
	f := newRelayFixture(t)
	f.client.SetProduceErr(errors.New("broker connection reset"))

	resp, err := f.rpc.SendEvent(callCtx(t), &EventRequest{Value: []byte("x")})
	require.Error(t, err)
	require.Nil(t, resp)
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.Equal(t, broker.StateDegraded, f.session.State())

	errs := f.logs.errors()
	require.Len(t, errs, 1)
	require.Equal(t, "publish_failed", errs[0].fields["kind"])
	require.Equal(t, "olist-enterprise-events", errs[0].fields["topic"])
}

func TestSendEventRecoversDegradedSession(t *testing.T) {
	f := newRelayFixture(t)
	f.client.SetProduceErr(errors.New("broker connection reset"))
	_, err := f.rpc.SendEvent(callCtx(t), &EventRequest{Value: []byte("first")})
	require.Error(t, err)
	f.client.SetProduceErr(nil)

	resp, err := f.rpc.SendEvent(callCtx(t), &EventRequest{Value: []byte("second")})
	require.NoError(t, err)
	require.True(t, resp.GetValue())
	require.Equal(t, broker.StateReady, f.session.State())
	require.Equal(t, 2, f.client.Connects())
}

func TestSendEventBrokerStillDown(t *testing.T) {
	f := newRelayFixture(t)
	f.client.SetProduceErr(errors.New("broker connection reset"))
	_, err := f.rpc.SendEvent(callCtx(t), &EventRequest{Value: []byte("first")})
	require.Error(t, err)
	f.client.SetConnectErr(errors.New("connection refused"))
	producesBefore := f.client.ProduceCalls()

	_, err = f.rpc.SendEvent(callCtx(t), &EventRequest{Value: []byte("second")})
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.Equal(t, broker.StateDegraded, f.session.State())
	require.Equal(t, producesBefore, f.client.ProduceCalls())

	errs := f.logs.errors()
	require.Len(t, errs, 2)
	require.Equal(t, "broker_unavailable", errs[1].fields["kind"])
}

func TestSendEventEmptyPayload(t *testing.T) {
	f := newRelayFixture(t)

	_, err := f.rpc.SendEvent(callCtx(t), &EventRequest{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Equal(t, broker.StateReady, f.session.State())
	require.Zero(t, f.client.ProduceCalls())
}

func TestSendEventAfterShutdown(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.sup.Close(context.Background()))

	_, err := f.rpc.SendEvent(callCtx(t), &EventRequest{Value: []byte("late")})
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.Equal(t, "shutting_down", f.logs.errors()[0].fields["kind"])
}

func TestSendEventPanicIsContained(t *testing.T) {
	logs := &captureLogger{}
	handler := NewHandler(submitFunc(func(context.Context, domain.PublishRequest) error {
		panic("boom")
	}), "events", logs)
	conn := dialServer(t, NewServer(handler, logs))

	_, err := NewIngestionClient(conn).SendEvent(callCtx(t), &EventRequest{Value: []byte("x")})
	require.Equal(t, codes.Internal, status.Code(err))
	errs := logs.errors()
	require.Len(t, errs, 1)
	require.Equal(t, "panic recovered in SendEvent", errs[0].msg)

	// The server keeps serving after the panic.
	_, err = NewIngestionClient(conn).SendEvent(callCtx(t), &EventRequest{Value: []byte("y")})
	require.Equal(t, codes.Internal, status.Code(err))
}

func TestSendEventConcurrentCalls(t *testing.T) {
	f := newRelayFixture(t)

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.rpc.SendEvent(callCtx(t), &EventRequest{Value: []byte(fmt.Sprintf("e-%d", i))})
			if err != nil || !resp.GetValue() {
				t.Errorf("call %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, f.client.Messages(), n)
	require.Equal(t, broker.StateReady, f.session.State())
}

func TestHealthServing(t *testing.T) {
	f := newRelayFixture(t)

	resp, err := healthpb.NewHealthClient(f.conn).Check(callCtx(t), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode codes.Code
		wantKind string
	}{
		{name: "invalid payload", err: fmt.Errorf("%w: empty", service.ErrInvalidPayload), wantCode: codes.InvalidArgument, wantKind: "invalid_payload"},
		{name: "canceled", err: context.Canceled, wantCode: codes.Canceled, wantKind: "canceled"},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: codes.DeadlineExceeded, wantKind: "deadline_exceeded"},
		{name: "closed", err: service.ErrSupervisorClosed, wantCode: codes.Unavailable, wantKind: "shutting_down"},
		{
			name:     "broker unavailable",
			err:      fmt.Errorf("%w: %w", service.ErrBrokerUnavailable, broker.ErrConnectionUnavailable),
			wantCode: codes.Unavailable,
			wantKind: "broker_unavailable",
		},
		{
			name:     "queue full",
			err:      fmt.Errorf("%w: %w", service.ErrPublishFailed, broker.ErrQueueFull),
			wantCode: codes.ResourceExhausted,
			wantKind: "queue_full",
		},
		{
			name:     "publish failed",
			err:      fmt.Errorf("%w: %w", service.ErrPublishFailed, broker.ErrNotReady),
			wantCode: codes.Unavailable,
			wantKind: "publish_failed",
		},
		{name: "unclassified", err: errors.New("surprise"), wantCode: codes.Internal, wantKind: "internal"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			code, kind := classify(tc.err)
			require.Equal(t, tc.wantCode, code)
			require.Equal(t, tc.wantKind, kind)
		})
	}
}

func TestPartitionKey(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5555}
	cases := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{name: "no metadata no peer", ctx: context.Background(), want: ""},
		{name: "peer host without port", ctx: peer.NewContext(context.Background(), &peer.Peer{Addr: addr}), want: "10.1.2.3"},
		{
			name: "header wins over peer",
			ctx: metadata.NewIncomingContext(
				peer.NewContext(context.Background(), &peer.Peer{Addr: addr}),
				metadata.Pairs("x-partition-key", "order-7"),
			),
			want: "order-7",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, string(partitionKey(tc.ctx, "x-partition-key")))
		})
	}
}
