package services

import "context"

// Fan-out job kinds. Each job is independent and commutative; no ordering is
// guaranteed across jobs.
const (
	JobDistributionNotice = "distribution_notice"
	JobAnswerNotice       = "answer_notice"
	JobReminderNotice     = "reminder_notice"
)

// FanoutJob is one unit of best-effort outbound notification work.
type FanoutJob struct {
	Kind    string
	Address string
	Data    map[string]string
}

// FanoutEnqueuer hands a job to the notification queue. Enqueue blocks while
// the queue is at capacity; the context bounds how long a caller is willing
// to wait. Enqueue failures on the request path are logged, never surfaced.
type FanoutEnqueuer interface {
	Enqueue(ctx context.Context, job FanoutJob) error
}
