package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

const publishTimeout = 5 * time.Second

type queuedEvent struct {
	ctx   context.Context
	event domain.Event
}

// QueueSink decouples committed operations from broker latency: events go to a
// bounded queue drained by a fixed pool of workers.
type QueueSink struct {
	publisher port.EventPublisher
	logger    *zap.Logger
	queue     chan queuedEvent
	wg        sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewQueueSink(publisher port.EventPublisher, queueSize, workers int, logger *zap.Logger) *QueueSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &QueueSink{
		publisher: publisher,
		logger:    logger,
		queue:     make(chan queuedEvent, queueSize),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.workerLoop(id)
		}(i)
	}
	return s
}

// Committed enqueues without blocking. A full queue drops the event.
func (s *QueueSink) Committed(ctx context.Context, events ...domain.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Keep trace values but outlive the request.
	ctx = context.WithoutCancel(ctx)
	for _, event := range events {
		if s.closed {
			s.drop(event, "sink closed")
			continue
		}
		select {
		case s.queue <- queuedEvent{ctx: ctx, event: event}:
		default:
			s.drop(event, "queue full")
		}
	}
}

func (s *QueueSink) drop(event domain.Event, reason string) {
	s.dropped.Add(1)
	s.logger.Warn("event dropped",
		zap.String("reason", reason),
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)
}

// Dropped returns how many events were discarded so far.
func (s *QueueSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events, drains the queue and waits for the workers.
func (s *QueueSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *QueueSink) workerLoop(id int) {
	for item := range s.queue {
		ctx, cancel := context.WithTimeout(item.ctx, publishTimeout)

		if err := s.publisher.Publish(ctx, item.event); err != nil {
			s.logger.Error("failed to publish event",
				zap.Int("worker", id),
				zap.String("event_id", item.event.ID),
				zap.String("event_type", string(item.event.Type)),
				zap.Error(err),
			)
		} else {
			s.logger.Debug("published event",
				zap.Int("worker", id),
				zap.String("event_id", item.event.ID),
			)
		}

		cancel()
	}
}
