package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synthlang/proxy/internal/monitoring"
)

// sinkWriteTimeout bounds a single sink write so a wedged database
// cannot stall the consumer forever.
const sinkWriteTimeout = 5 * time.Second

// Queue is the bounded write-behind buffer between request handlers
// and the sink. Submit never blocks: when the queue is full the
// oldest pending record is evicted so the newest one fits.
type Queue struct {
	sink    Sink
	logger  *monitoring.Logger
	metrics *monitoring.Metrics

	mu     sync.RWMutex
	closed bool
	ch     chan *Record

	dropped atomic.Int64
	done    chan struct{}
}

// NewQueue starts the consumer goroutine and returns the queue. The
// queue takes ownership of the sink; Close closes it.
func NewQueue(sink Sink, size int, logger *monitoring.Logger, metrics *monitoring.Metrics) *Queue {
	if size < 1 {
		size = 1
	}
	q := &Queue{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		ch:      make(chan *Record, size),
		done:    make(chan struct{}),
	}
	go q.consume()
	return q
}

// Submit enqueues a record for persistence. It reports whether the
// record was accepted; a false return means it was dropped (queue
// closed, or still full after evicting the oldest entry).
func (q *Queue) Submit(rec *Record) bool {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop()
		return false
	}

	select {
	case q.ch <- rec:
		return true
	default:
	}

	// Full: evict the oldest pending record and try once more.
	select {
	case <-q.ch:
		q.drop()
	default:
	}
	select {
	case q.ch <- rec:
		return true
	default:
		q.drop()
		return false
	}
}

// Dropped returns how many records have been dropped so far.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

func (q *Queue) drop() {
	q.dropped.Add(1)
	if q.metrics != nil {
		q.metrics.AuditDroppedTotal.Inc()
	}
}

func (q *Queue) consume() {
	defer close(q.done)
	for rec := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		err := q.sink.Write(ctx, rec)
		cancel()
		if err != nil && q.logger != nil {
			q.logger.Error().
				Err(err).
				Str("request_id", rec.RequestID).
				Msg("audit write failed")
		}
	}
}

// Close stops intake, waits for queued records to drain, and closes
// the sink. Safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	<-q.done
	return q.sink.Close()
}
