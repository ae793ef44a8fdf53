package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lechuhuuha/event_relay/internal/metrics"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

// generation pairs a connection handle with the topic handle built from it.
type generation struct {
	id    uint64
	conn  Connection
	topic Topic
}

// Session is the process-wide broker session.
type Session struct {
	cfg    Config
	client Client
	logger loggerpkg.Logger

	// initMu serializes Initialize calls; mu guards the fields below.
	initMu sync.Mutex
	mu     sync.Mutex
	state  State
	gen    *generation
	genID  uint64
	// releasing holds one channel per handle pair still being closed.
	releasing map[chan struct{}]struct{}
}

// NewSession validates cfg and returns an Uninitialized session.
func NewSession(cfg Config, client Client, logr loggerpkg.Logger) (*Session, error) {
	if client == nil {
		return nil, errors.New("broker client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	cfg.Brokers = append([]string(nil), cfg.Brokers...)
	metrics.SetBrokerSessionState(int(StateUninitialized))
	return &Session{
		cfg:       cfg,
		client:    client,
		logger:    logr.With(loggerpkg.F("topic", cfg.Topic)),
		state:     StateUninitialized,
		releasing: make(map[chan struct{}]struct{}),
	}, nil
}

// Config returns the configuration the session was built with.
func (s *Session) Config() Config {
	cfg := s.cfg
	cfg.Brokers = append([]string(nil), s.cfg.Brokers...)
	return cfg
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the id of the current handle pair, or of the last
// successful initialization when no handles are held. Zero means never initialized.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.genID
}

// Initialize builds a new connection and topic handle pair and makes it current.
// Any previous pair is released in the background after the swap; Close and
// WaitReleased wait for it. On failure the previous pair is released too and
// the session is left Uninitialized (never initialized) or Degraded.
func (s *Session) Initialize(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	next, err := s.build(ctx)
	if err != nil {
		s.mu.Lock()
		stale := s.gen
		s.gen = nil
		if s.state == StateReady || s.state == StateDegraded {
			s.setStateLocked(StateDegraded)
		}
		state := s.state
		s.mu.Unlock()

		s.releaseAsync(stale)
		metrics.IncBrokerInit(false)
		s.logger.Warn("broker session initialization failed",
			loggerpkg.F("brokers", s.cfg.Brokers),
			loggerpkg.F("state", state.String()),
			loggerpkg.Err(err))
		return err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.releaseAsync(next)
		return ErrSessionClosed
	}
	s.genID++
	next.id = s.genID
	stale := s.gen
	s.gen = next
	s.setStateLocked(StateReady)
	s.mu.Unlock()

	s.releaseAsync(stale)
	metrics.IncBrokerInit(true)
	metrics.SetBrokerGeneration(next.id)
	s.logger.Info("broker session initialized",
		loggerpkg.F("brokers", s.cfg.Brokers),
		loggerpkg.F("generation", next.id))
	return nil
}

// Publish hands payload to the current topic handle. It never waits for a
// broker acknowledgment. A handle failure moves a Ready session to Degraded.
func (s *Session) Publish(ctx context.Context, key, payload []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	state, gen := s.state, s.gen
	s.mu.Unlock()

	switch state {
	case StateClosed:
		return ErrSessionClosed
	case StateUninitialized:
		return ErrNotReady
	}
	if gen == nil {
		return ErrNotReady
	}

	err := gen.topic.Produce(ctx, key, payload)
	switch {
	case err == nil:
		if state == StateDegraded {
			s.markRecovered(gen)
		}
		return nil
	case IsTransient(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	if !errors.Is(err, ErrNotReady) {
		err = fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	s.degrade(gen, err)
	return err
}

// Close makes the session terminal and releases the current topic handle,
// then its connection. It waits for every release still running, including
// pairs replaced by earlier Initialize calls, until ctx is done. It is safe to
// call more than once.
func (s *Session) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return s.WaitReleased(ctx)
	}
	stale := s.gen
	s.gen = nil
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	result := s.releaseAsync(stale)
	if err := s.WaitReleased(ctx); err != nil {
		s.logger.Warn("broker session closed before its handles were released", loggerpkg.Err(err))
		return err
	}
	err := <-result
	s.logger.Info("broker session closed")
	return err
}

// WaitReleased blocks until every handle pair handed off for release has
// been closed, or ctx is done.
func (s *Session) WaitReleased(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]chan struct{}, 0, len(s.releasing))
	for done := range s.releasing {
		pending = append(pending, done)
	}
	s.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("wait for broker handle release: %w", ctx.Err())
		}
	}
	return nil
}

func (s *Session) build(ctx context.Context) (*generation, error) {
	conn, err := s.client.Connect(ctx, s.Config())
	if err != nil {
		if errors.Is(err, ErrConfigRejected) || errors.Is(err, ErrConnectionUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionUnavailable, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: client returned no connection", ErrConnectionUnavailable)
	}

	topic, err := conn.OpenTopic(ctx, s.cfg.Topic)
	if err == nil && topic == nil {
		err = errors.New("client returned no topic handle")
	}
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, ErrConfigRejected) || errors.Is(err, ErrTopicUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrTopicUnavailable, err)
	}
	return &generation{conn: conn, topic: topic}, nil
}

// releaseAsync closes g in its own goroutine. The returned channel yields
// the release result once.
func (s *Session) releaseAsync(g *generation) <-chan error {
	result := make(chan error, 1)
	if g == nil {
		result <- nil
		return result
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.releasing[done] = struct{}{}
	s.mu.Unlock()

	go func() {
		result <- s.release(g)
		s.mu.Lock()
		delete(s.releasing, done)
		s.mu.Unlock()
		close(done)
	}()
	return result
}

// release closes the topic handle before its connection.
func (s *Session) release(g *generation) error {
	if g == nil {
		return nil
	}
	var errs []error
	if err := g.topic.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close topic handle: %w", err))
		s.logger.Warn("broker topic handle release failed", loggerpkg.F("generation", g.id), loggerpkg.Err(err))
	} else {
		s.logger.Info("broker topic handle released", loggerpkg.F("generation", g.id))
	}
	if err := g.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection handle: %w", err))
		s.logger.Warn("broker connection release failed", loggerpkg.F("generation", g.id), loggerpkg.Err(err))
	} else {
		s.logger.Info("broker connection released", loggerpkg.F("generation", g.id))
	}
	return errors.Join(errs...)
}

// degrade only applies when gen is still current, so a failure reported by a
// replaced pair cannot taint its successor.
func (s *Session) degrade(gen *generation, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateReady {
		return
	}
	s.setStateLocked(StateDegraded)
	s.logger.Warn("broker session degraded", loggerpkg.F("generation", gen.id), loggerpkg.Err(cause))
}

func (s *Session) markRecovered(gen *generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateDegraded {
		return
	}
	s.setStateLocked(StateReady)
	s.logger.Info("broker session recovered", loggerpkg.F("generation", gen.id))
}

func (s *Session) setStateLocked(next State) {
	s.state = next
	metrics.SetBrokerSessionState(int(next))
}
