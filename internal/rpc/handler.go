package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/lechuhuuha/event_relay/internal/broker"
	"github.com/lechuhuuha/event_relay/internal/domain"
	"github.com/lechuhuuha/event_relay/internal/metrics"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
	"github.com/lechuhuuha/event_relay/service"
	"github.com/lechuhuuha/event_relay/util"
)

// Submitter is the publish entry point the handler calls once per request.
type Submitter interface {
	Submit(ctx context.Context, req domain.PublishRequest) error
}

// Handler implements IngestionServer on top of a Submitter.
type Handler struct {
	submitter Submitter
	topic     string
	keyHeader string
	logger    loggerpkg.Logger
	tracer    trace.Tracer
}

// NewHandler builds the SendEvent handler. topic is only used in log records.
func NewHandler(submitter Submitter, topic string, logr loggerpkg.Logger) *Handler {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	return &Handler{
		submitter: submitter,
		topic:     topic,
		keyHeader: util.DefaultPartitionKeyHeader,
		logger:    logr,
		tracer:    otel.Tracer("github.com/lechuhuuha/event_relay/internal/rpc"),
	}
}

// SendEvent submits the payload once. The response is {true} with OK or
// {false} with a status from classify. Every failure is logged exactly once.
func (h *Handler) SendEvent(ctx context.Context, req *EventRequest) (resp *EventResponse, err error) {
	ctx, span := h.tracer.Start(ctx, "relay.SendEvent", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			metrics.IncSubmitFailure("internal")
			h.logger.Error("panic recovered in SendEvent",
				loggerpkg.F("kind", "internal"),
				loggerpkg.F("code", codes.Internal.String()),
				loggerpkg.F("topic", h.topic),
				loggerpkg.F("error", fmt.Sprint(r)),
				loggerpkg.F("stack", string(debug.Stack())))
			span.SetStatus(otelcodes.Error, "panic")
			resp, err = &EventResponse{Value: false}, status.Error(codes.Internal, "internal error")
		}
	}()

	metrics.IncEventsReceived()
	payload := req.GetValue()
	span.SetAttributes(attribute.Int("relay.payload_bytes", len(payload)))

	submitErr := h.submitter.Submit(ctx, domain.PublishRequest{
		Key:        partitionKey(ctx, h.keyHeader),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})
	if submitErr == nil {
		span.SetAttributes(attribute.String("relay.outcome", "accepted"))
		return &EventResponse{Value: true}, nil
	}

	code, kind := classify(submitErr)
	metrics.IncSubmitFailure(kind)
	span.SetAttributes(attribute.String("relay.outcome", kind))
	span.RecordError(submitErr)
	span.SetStatus(otelcodes.Error, kind)
	h.logger.Error("event submission failed",
		loggerpkg.F("kind", kind),
		loggerpkg.F("code", code.String()),
		loggerpkg.F("topic", h.topic),
		loggerpkg.F("payload_bytes", len(payload)),
		loggerpkg.F("error", submitErr))
	return &EventResponse{Value: false}, status.Error(code, kind+": "+submitErr.Error())
}

// classify maps a submit error to a status code and a short failure kind.
// Caller faults get InvalidArgument; broker faults get retryable codes.
func classify(err error) (codes.Code, string) {
	switch {
	case errors.Is(err, service.ErrInvalidPayload):
		return codes.InvalidArgument, "invalid_payload"
	case errors.Is(err, context.Canceled):
		return codes.Canceled, "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded, "deadline_exceeded"
	case errors.Is(err, service.ErrSupervisorClosed):
		return codes.Unavailable, "shutting_down"
	case errors.Is(err, service.ErrBrokerUnavailable):
		return codes.Unavailable, "broker_unavailable"
	case errors.Is(err, service.ErrPublishFailed) && errors.Is(err, broker.ErrQueueFull):
		return codes.ResourceExhausted, "queue_full"
	case errors.Is(err, service.ErrPublishFailed):
		return codes.Unavailable, "publish_failed"
	default:
		return codes.Internal, "internal"
	}
}

// partitionKey prefers the caller-supplied metadata header and falls back to
// the caller's host so one caller's events share a partition.
func partitionKey(ctx context.Context, header string) []byte {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, v := range md.Get(header) {
			if v != "" {
				return []byte(v)
			}
		}
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return nil
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return []byte(host)
	}
	return []byte(addr)
}
