package loader

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TaskOutcome is the resolved result of one task: Err is nil on success.
type TaskOutcome struct {
	Task *LoadTask
	Job  *JobResult
	Err  error
}

// Succeeded reports whether the load and its metadata writes went through.
func (o TaskOutcome) Succeeded() bool { return o.Err == nil }

// QueueResult holds every task outcome in submission order. It stays
// available after WaitForAll returns an aggregate error.
type QueueResult struct {
	Outcomes []TaskOutcome
}

// Succeeded returns the destinations whose load succeeded.
func (r *QueueResult) Succeeded() []TableID {
	var out []TableID
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			out = append(out, o.Task.Destination())
		}
	}
	return out
}

// Failures returns one TaskFailure per failed task.
func (r *QueueResult) Failures() []TaskFailure {
	var out []TaskFailure
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			continue
		}
		out = append(out, TaskFailure{
			Destination: o.Task.Destination(),
			JobID:       o.Task.JobID(),
			Message:     failureMessage(o.Err),
			Err:         o.Err,
		})
	}
	return out
}

// Err reduces the outcomes to nil or one *AggregateLoadError.
func (r *QueueResult) Err() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	return &AggregateLoadError{Failures: failures}
}

func failureMessage(err error) string {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Message
	}
	return err.Error()
}

// Option configures a LoadQueue.
type Option func(*LoadQueue)

// WithLogger sets the queue logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *LoadQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithWaitConcurrency lets up to n job waits run at once. Metadata is still
// written per task only after its own success and in submission order.
func WithWaitConcurrency(n int) Option {
	return func(q *LoadQueue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// LoadQueue submits a list of tasks as one unit and collects their outcome.
type LoadQueue struct {
	storage     Storage
	tasks       []*LoadTask
	logger      *zap.Logger
	concurrency int
	result      *QueueResult
}

// NewLoadQueue builds a queue over tasks; it does not submit anything.
func NewLoadQueue(storage Storage, tasks []*LoadTask, opts ...Option) *LoadQueue {
	q := &LoadQueue{
		storage:     storage,
		tasks:       append([]*LoadTask(nil), tasks...),
		logger:      zap.NewNop(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *LoadQueue) Tasks() []*LoadTask { return append([]*LoadTask(nil), q.tasks...) }

// JobIDs returns the job ids of the submitted tasks in order.
func (q *LoadQueue) JobIDs() []string {
	ids := make([]string, 0, len(q.tasks))
	for _, t := range q.tasks {
		if t.Submitted() {
			ids = append(ids, t.JobID())
		}
	}
	return ids
}

// Destinations returns every task destination in order.
func (q *LoadQueue) Destinations() []TableID {
	out := make([]TableID, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Destination()
	}
	return out
}

// Start submits every task in order. The first submission error aborts.
func (q *LoadQueue) Start(ctx context.Context) error {
	for _, t := range q.tasks {
		if err := t.StartImport(ctx, q.storage); err != nil {
			q.logger.Error("load job submission failed",
				zap.String("table", t.Destination().String()),
				zap.Error(err))
			return err
		}
		q.logger.Debug("load job submitted",
			zap.String("table", t.Destination().String()),
			zap.String("jobId", t.JobID()))
	}
	return nil
}

// WaitForAll waits for every task, continuing past failures. Successful
// tasks get their pending metadata applied in task order. The returned
// result always lists every outcome; the error is an *AggregateLoadError
// naming each failed destination when at least one task failed.
func (q *LoadQueue) WaitForAll(ctx context.Context) (*QueueResult, error) {
	outcomes := make([]TaskOutcome, len(q.tasks))
	for i, t := range q.tasks {
		outcomes[i].Task = t
	}

	if q.concurrency <= 1 {
		for i := range outcomes {
			q.resolve(ctx, &outcomes[i])
			q.finish(ctx, &outcomes[i])
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(q.concurrency)
		for i := range outcomes {
			o := &outcomes[i]
			g.Go(func() error {
				q.resolve(gctx, o)
				return nil
			})
		}
		_ = g.Wait()
		for i := range outcomes {
			q.finish(ctx, &outcomes[i])
		}
	}

	q.result = &QueueResult{Outcomes: outcomes}
	if err := q.result.Err(); err != nil {
		q.logger.Warn("table load finished with failures",
			zap.Int("failed", len(q.result.Failures())),
			zap.Int("succeeded", len(q.result.Succeeded())))
		return q.result, err
	}
	return q.result, nil
}

// Result returns the outcome of the last WaitForAll call, or nil.
func (q *LoadQueue) Result() *QueueResult { return q.result }

// resolve blocks until the task's job is terminal and records the outcome.
func (q *LoadQueue) resolve(ctx context.Context, o *TaskOutcome) {
	t := o.Task
	if !t.Submitted() {
		o.Err = fmt.Errorf("load task for %s was never submitted", t.Destination())
		return
	}
	job, err := q.storage.WaitForJob(ctx, t.JobID())
	if err != nil {
		o.Err = fmt.Errorf("wait for job %s: %w", t.JobID(), err)
		return
	}
	o.Job = job
	if job.Status != JobStatusSuccess {
		o.Err = &JobError{JobID: t.JobID(), Message: job.Message}
	}
}

// finish applies metadata for a successful outcome and logs it.
func (q *LoadQueue) finish(ctx context.Context, o *TaskOutcome) {
	t := o.Task
	if o.Err == nil {
		if err := t.applyMetadata(ctx, q.storage); err != nil {
			o.Err = err
		}
	}
	if o.Err != nil {
		q.logger.Warn("table load failed",
			zap.String("table", t.Destination().String()),
			zap.String("jobId", t.JobID()),
			zap.Error(o.Err))
		return
	}
	q.logger.Info("table loaded",
		zap.String("table", t.Destination().String()),
		zap.String("jobId", t.JobID()))
}
