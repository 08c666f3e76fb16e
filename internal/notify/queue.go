package notify

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/askdrop/askdrop/internal/services"
)

// ErrQueueBusy is returned when the queue stays at capacity for the whole
// wait the caller allowed. Work is never dropped silently: the caller either
// gets its job buffered or gets this error.
var ErrQueueBusy = errors.New("fanout queue at capacity")

// Stats is a point-in-time counter snapshot of the queue.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// Queue is the bounded fan-out queue with a single consumer. Producers block
// on Enqueue when the buffer is full (deliberate backpressure), the consumer
// drains at its own pace, and a failed delivery is terminal: logged, counted,
// dropped. Jobs live only in process memory; a restart loses whatever was
// still buffered, which the notification contract accepts.
type Queue struct {
	jobs     chan services.FanoutJob
	notifier Notifier
	logger   *zap.Logger

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewQueue(capacity int, notifier Notifier, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		jobs:     make(chan services.FanoutJob, capacity),
		notifier: notifier,
		logger:   logger,
	}
}

// Enqueue buffers a job, blocking while the queue is at capacity. The
// context bounds the wait; on cancellation the job is rejected with
// ErrQueueBusy so a producer under backpressure fails loudly, not silently.
func (q *Queue) Enqueue(ctx context.Context, job services.FanoutJob) error {
	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ErrQueueBusy
	}
}

// Run drains the queue until ctx is cancelled. It is the single consumer;
// one job is processed at a time and one bad job never stops the loop.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.process(job)
		}
	}
}

func (q *Queue) process(job services.FanoutJob) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("fanout job panicked",
				zap.String("kind", job.Kind),
				zap.Any("panic", r),
			)
		}
	}()
	if err := q.notifier.Deliver(job.Address, job.Kind, job.Data); err != nil {
		q.failed.Add(1)
		q.logger.Warn("fanout delivery failed",
			zap.String("kind", job.Kind),
			zap.Error(err),
		)
		return
	}
	q.delivered.Add(1)
}

func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Delivered: q.delivered.Load(),
		Failed:    q.failed.Load(),
	}
}

var _ services.FanoutEnqueuer = (*Queue)(nil)
