package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lechuhuuha/event_relay/internal/domain"
	"github.com/lechuhuuha/event_relay/internal/metrics"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
	"github.com/lechuhuuha/event_relay/util"
)

// ArchiveSpoolConfig tunes buffering and retry behavior before writing to the archive.
type ArchiveSpoolConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

const (
	defaultArchiveQueueSize    = 1000
	defaultArchiveWorkers      = 2
	defaultArchiveWriteTimeout = 10 * time.Second
	defaultArchiveMaxRetries   = 3
	defaultArchiveRetryBackoff = 200 * time.Millisecond
	maxArchiveRetryBackoff     = 5 * time.Second
)

// ArchiveSpool hands rejected events to an Archiver from a bounded worker pool.
// Offer never blocks: a full spool drops the event with a warning.
type ArchiveSpool struct {
	archiver domain.Archiver
	logger   loggerpkg.Logger

	workCh    chan domain.RejectedEvent
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	started   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	workers      int
	writeTimeout time.Duration
	maxRetries   int
	retryBackoff time.Duration
}

// NewArchiveSpool wires spool workers around the provided archiver.
func NewArchiveSpool(archiver domain.Archiver, logr loggerpkg.Logger, cfg *ArchiveSpoolConfig) *ArchiveSpool {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}

	queueSize := defaultArchiveQueueSize
	workers := defaultArchiveWorkers
	writeTimeout := defaultArchiveWriteTimeout
	maxRetries := defaultArchiveMaxRetries
	retryBackoff := defaultArchiveRetryBackoff
	if cfg != nil {
		if cfg.QueueSize > 0 {
			queueSize = cfg.QueueSize
		}
		if cfg.Workers > 0 {
			workers = cfg.Workers
		}
		if cfg.WriteTimeout > 0 {
			writeTimeout = cfg.WriteTimeout
		}
		if cfg.MaxRetries >= 0 {
			maxRetries = cfg.MaxRetries
		}
		if cfg.RetryBackoff > 0 {
			retryBackoff = cfg.RetryBackoff
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ArchiveSpool{
		archiver:     archiver,
		logger:       logr,
		workCh:       make(chan domain.RejectedEvent, queueSize),
		ctx:          ctx,
		cancel:       cancel,
		workers:      workers,
		writeTimeout: writeTimeout,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}
}

// Start launches spool workers. Safe to call multiple times.
func (p *ArchiveSpool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
		p.started.Store(true)
	})
}

// Offer queues the event and reports whether it was accepted.
func (p *ArchiveSpool) Offer(event domain.RejectedEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || !p.started.Load() {
		metrics.IncArchiveDropped()
		return false
	}
	select {
	case p.workCh <- event:
		metrics.SetArchiveQueueDepth(len(p.workCh))
		return true
	default:
		metrics.IncArchiveDropped()
		p.logger.Warn("archive spool full, dropping rejected event",
			loggerpkg.F("kind", event.Kind),
			loggerpkg.F("capacity", cap(p.workCh)))
		return false
	}
}

// Close stops accepting events and waits for queued ones to be written.
// Pending retries are abandoned once ctx is done.
func (p *ArchiveSpool) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			p.cancel()
			<-done
			err = ctx.Err()
		}
		p.cancel()
		metrics.SetArchiveQueueDepth(0)
	})
	return err
}

func (p *ArchiveSpool) run(workerID int) {
	defer p.wg.Done()
	backoff := util.NewBackoff(p.retryBackoff, maxArchiveRetryBackoff, time.Now().UnixNano()+int64(workerID))
	for event := range p.workCh {
		metrics.SetArchiveQueueDepth(len(p.workCh))
		backoff.Reset()
		if !p.writeWithRetry(event, workerID, backoff) {
			p.logger.Warn("rejected event not archived",
				loggerpkg.F("kind", event.Kind),
				loggerpkg.F("worker_id", workerID),
				loggerpkg.F("max_attempts", p.maxRetries+1))
		}
	}
}

func (p *ArchiveSpool) writeWithRetry(event domain.RejectedEvent, workerID int, backoff *util.Backoff) bool {
	maxAttempts := p.maxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(p.ctx, p.writeTimeout)
		err := p.archiver.Archive(writeCtx, event)
		cancel()
		if err == nil {
			metrics.IncArchiveWrite(true)
			return true
		}
		metrics.IncArchiveWrite(false)
		p.logger.Debug("archive write failed",
			loggerpkg.F("error", err),
			loggerpkg.F("worker_id", workerID),
			loggerpkg.F("attempt", attempt),
			loggerpkg.F("max_attempts", maxAttempts))
		if attempt == maxAttempts {
			return false
		}
		if !util.WaitForRetry(p.ctx, backoff.Next()) {
			return false
		}
	}
	return false
}
