package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lechuhuuha/event_relay/internal/broker"
	"github.com/lechuhuuha/event_relay/internal/domain"
	"github.com/lechuhuuha/event_relay/internal/metrics"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
	"github.com/lechuhuuha/event_relay/util"
)

const (
	defaultInitTimeout         = 10 * time.Second
	defaultQueueFullRetryDelay = 5 * time.Millisecond
	defaultMaxPayloadBytes     = 1 << 20
)

// Session is the part of broker.Session the supervisor drives.
type Session interface {
	State() broker.State
	Initialize(ctx context.Context) error
	Publish(ctx context.Context, key, payload []byte) error
	Close(ctx context.Context) error
}

// Spool accepts rejected events for asynchronous archiving.
type Spool interface {
	Offer(event domain.RejectedEvent) bool
}

// SupervisorConfig tunes the per-call policy.
type SupervisorConfig struct {
	InitTimeout         time.Duration
	QueueFullRetryDelay time.Duration
	MaxPayloadBytes     int
}

// PublishSupervisor runs one bounded publish per Submit: at most one
// initialize attempt and at most one retried publish.
//
// gate is held shared while publishing to a Ready session and exclusively
// while the session moves between states. Close takes it exclusively so no
// publish or initialize is running when the handles are released.
type PublishSupervisor struct {
	session Session
	spool   Spool
	logger  loggerpkg.Logger

	gate   sync.RWMutex
	closed bool

	initTimeout     time.Duration
	retryDelay      time.Duration
	maxPayloadBytes int
}

// NewPublishSupervisor wraps the session. spool may be nil.
func NewPublishSupervisor(session Session, spool Spool, logr loggerpkg.Logger, cfg *SupervisorConfig) *PublishSupervisor {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	initTimeout := defaultInitTimeout
	retryDelay := defaultQueueFullRetryDelay
	maxPayload := defaultMaxPayloadBytes
	if cfg != nil {
		if cfg.InitTimeout > 0 {
			initTimeout = cfg.InitTimeout
		}
		if cfg.QueueFullRetryDelay > 0 {
			retryDelay = cfg.QueueFullRetryDelay
		}
		if cfg.MaxPayloadBytes > 0 {
			maxPayload = cfg.MaxPayloadBytes
		}
	}
	return &PublishSupervisor{
		session:         session,
		spool:           spool,
		logger:          logr,
		initTimeout:     initTimeout,
		retryDelay:      retryDelay,
		maxPayloadBytes: maxPayload,
	}
}

// Start performs the first initialization. An error here must abort startup.
func (s *PublishSupervisor) Start(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.closed {
		return ErrSupervisorClosed
	}
	return s.initialize(ctx)
}

// State reports the session state without taking the gate.
func (s *PublishSupervisor) State() broker.State {
	return s.session.State()
}

// Submit publishes one event. Errors wrap ErrInvalidPayload,
// ErrBrokerUnavailable, ErrPublishFailed, ErrSupervisorClosed or a context error.
func (s *PublishSupervisor) Submit(ctx context.Context, req domain.PublishRequest) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}
	if len(req.Payload) > s.maxPayloadBytes {
		return fmt.Errorf("%w: payload is %d bytes, limit is %d", ErrInvalidPayload, len(req.Payload), s.maxPayloadBytes)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.gate.RLock()
	if s.closed {
		s.gate.RUnlock()
		return ErrSupervisorClosed
	}
	if s.session.State() == broker.StateReady {
		err := s.publish(ctx, req)
		s.gate.RUnlock()
		return err
	}
	s.gate.RUnlock()

	s.gate.Lock()
	defer s.gate.Unlock()
	switch s.session.State() {
	case broker.StateClosed:
		return ErrSupervisorClosed
	case broker.StateUninitialized, broker.StateDegraded:
		if s.closed {
			return ErrSupervisorClosed
		}
		if err := s.initialize(ctx); err != nil {
			wrapped := fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
			s.archive(req, wrapped, "broker_unavailable")
			return wrapped
		}
	}
	return s.publish(ctx, req)
}

func (s *PublishSupervisor) initialize(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, s.initTimeout)
	defer cancel()
	return s.session.Initialize(initCtx)
}

// publish makes one attempt and retries once when the local queue is full.
func (s *PublishSupervisor) publish(ctx context.Context, req domain.PublishRequest) error {
	err := s.session.Publish(ctx, req.Key, req.Payload)
	if err != nil && broker.IsTransient(err) {
		if !util.WaitForRetry(ctx, s.retryDelay) {
			return ctx.Err()
		}
		err = s.session.Publish(ctx, req.Key, req.Payload)
	}
	switch {
	case err == nil:
		metrics.IncEventsAccepted()
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, broker.ErrSessionClosed):
		return fmt.Errorf("%w: %w", ErrSupervisorClosed, err)
	}
	wrapped := fmt.Errorf("%w: %w", ErrPublishFailed, err)
	kind := "publish_failed"
	if broker.IsTransient(err) {
		kind = "queue_full"
	}
	s.archive(req, wrapped, kind)
	return wrapped
}

func (s *PublishSupervisor) archive(req domain.PublishRequest, cause error, kind string) {
	if s.spool == nil {
		return
	}
	s.spool.Offer(domain.RejectedEvent{
		Request:    req,
		Reason:     cause.Error(),
		Kind:       kind,
		RejectedAt: time.Now().UTC(),
	})
}

// Close waits for every running publish or initialize, then closes the
// session. Waiting for the session's handles to be released ends with ctx.
func (s *PublishSupervisor) Close(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.session.Close(ctx); err != nil {
		s.logger.Warn("broker session close reported errors", loggerpkg.F("error", err))
		return err
	}
	return nil
}
