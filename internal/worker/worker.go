package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/commercekit/sagaflow/internal/compensate"
	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/tracing"
)

// Config tunes the worker pool.
type Config struct {
	// Queues the pool polls. Defaults to every declared queue.
	Queues []string
	// Concurrency bounds in-flight handler executions across all queues.
	Concurrency int
	// PollInterval is the delay between fetches when a queue is empty.
	PollInterval time.Duration
	// FetchBatch is the maximum number of jobs leased per fetch.
	FetchBatch int
}

func (c *Config) applyDefaults() {
	if len(c.Queues) == 0 {
		c.Queues = core.AllQueues()
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = 10
	}
}

// Worker pulls jobs from the durable queue, routes them to step handlers,
// and settles each job according to its outcome: ack on success, retry
// with backoff on transient failure, discard plus compensation on fatal
// failure or an exhausted retry budget.
type Worker struct {
	backend     core.Backend
	router      *Router
	policies    *core.PolicyRegistry
	compensator *compensate.Trigger
	observer    Observer
	logger      *slog.Logger
	cfg         Config

	sem      chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Worker. The router must pass Validate before the pool is
// started; a handler gap is a startup error, not a runtime condition.
func New(backend core.Backend, router *Router, policies *core.PolicyRegistry,
	compensator *compensate.Trigger, observer Observer, logger *slog.Logger, cfg Config) (*Worker, error) {
	if err := router.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Worker{
		backend:     backend,
		router:      router,
		policies:    policies,
		compensator: compensator,
		observer:    observer,
		logger:      logger,
		cfg:         cfg,
		sem:         make(chan struct{}, cfg.Concurrency),
		stop:        make(chan struct{}),
	}, nil
}

// Start launches one polling loop per queue.
func (w *Worker) Start() {
	for _, queue := range w.cfg.Queues {
		w.wg.Add(1)
		go w.runLoop(queue)
	}
}

// Stop signals the loops to exit and waits for in-flight jobs to settle.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	w.wg.Wait()
}

func (w *Worker) runLoop(queue string) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		jobs, err := w.backend.Fetch(ctx, queue, w.cfg.FetchBatch)
		cancel()
		if err != nil {
			w.logger.Error("fetch failed", "queue", queue, "error", err)
			w.sleep(w.cfg.PollInterval)
			continue
		}
		if len(jobs) == 0 {
			w.sleep(w.cfg.PollInterval)
			continue
		}

		var batch sync.WaitGroup
		for _, job := range jobs {
			w.sem <- struct{}{}
			batch.Add(1)
			go func(job *core.Job) {
				defer batch.Done()
				defer func() { <-w.sem }()
				w.process(context.Background(), job)
			}(job)
		}
		batch.Wait()
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stop:
	case <-time.After(d):
	}
}

// Process executes one job to a settled state. Exported for the end-to-end
// tests, which drive jobs through a fake backend without the polling loop.
func (w *Worker) Process(ctx context.Context, job *core.Job) {
	w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *core.Job) {
	w.observer.JobStarted(core.NewJobEvent(core.EventJobStarted, job))
	started := time.Now()

	handler, err := w.router.Route(job.Name)
	if err != nil {
		// Unknown step name on the wire: configuration error, never
		// silently dropped.
		w.settleFatal(ctx, job, err)
		return
	}

	spanCtx, span := tracing.StartJobSpan(ctx, job.Queue, string(job.Name), job.ID, job.FlowID)
	outcome := handler(spanCtx, job)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Kind.String())
	}
	span.End()
	duration := time.Since(started)

	switch outcome.Kind {
	case core.OutcomeSuccess:
		if err := w.backend.Ack(ctx, job, outcome.Result); err != nil {
			w.logger.Error("ack failed", "job_id", job.ID, "error", err)
			// The lease expires and the job runs again; report it as
			// retried so every started job gets a terminal event.
			e := core.NewJobEvent(core.EventJobRetried, job)
			e.Error = err.Error()
			w.observer.JobRetried(e)
			return
		}
		e := core.NewJobEvent(core.EventJobCompleted, job)
		e.Duration = duration
		w.observer.JobCompleted(e)

	case core.OutcomeRetryable:
		w.settleRetryable(ctx, job, outcome.Err)

	case core.OutcomeFatal:
		w.settleFatal(ctx, job, outcome.Err)
	}
}

// settleRetryable schedules a retry, or escalates to the fatal path when
// the step's attempt budget is exhausted.
func (w *Worker) settleRetryable(ctx context.Context, job *core.Job, cause error) {
	cfg, err := w.policies.Policy(job.Name)
	if err != nil {
		w.settleFatal(ctx, job, err)
		return
	}

	// Attempt counts executions including the one that just failed.
	if job.Attempt >= cfg.MaxAttempts {
		w.settleFatal(ctx, job, fmt.Errorf("retries exhausted after %d attempts: %w", job.Attempt, cause))
		return
	}

	delay := core.DelayForAttempt(job.Attempt-1, cfg)
	e := core.NewJobEvent(core.EventJobRetried, job)
	e.Error = cause.Error()
	if err := w.backend.Retry(ctx, job, delay, cause.Error()); err != nil {
		w.logger.Error("retry scheduling failed", "job_id", job.ID, "error", err)
		// Redelivery happens anyway when the lease expires.
		e.Error = err.Error()
	}
	w.observer.JobRetried(e)
}

// settleFatal discards the job and triggers compensation. Fatal failures
// are never swallowed: either a compensation is enqueued or the trigger
// logs the escalation with the saga identifiers.
func (w *Worker) settleFatal(ctx context.Context, job *core.Job, cause error) {
	if err := w.backend.Discard(ctx, job, cause.Error()); err != nil {
		w.logger.Error("discard failed", "job_id", job.ID, "error", err)
	}

	e := core.NewJobEvent(core.EventJobDiscarded, job)
	e.Error = cause.Error()
	w.observer.JobDiscarded(e)

	cc := compensationContext(job)
	if _, err := w.compensator.Compensate(ctx, job.Name, cc); err != nil && err != compensate.ErrNoCompensation {
		w.logger.Error("compensation failed",
			"job_id", job.ID, "step", job.Name, "flow_id", cc.FlowID, "error", err)
	}
}

// compensationContext extracts the saga identifiers a compensation needs
// from the job's pass-through payload.
func compensationContext(job *core.Job) compensate.Context {
	var keys struct {
		FlowID  string `json:"flow_id"`
		OrderID string `json:"order_id"`
	}
	_ = json.Unmarshal(job.Payload, &keys)

	flowID := keys.FlowID
	if flowID == "" {
		flowID = job.FlowID
	}
	businessKey := keys.OrderID
	if businessKey == "" {
		businessKey = flowID
	}
	return compensate.Context{
		FlowID:      flowID,
		BusinessKey: businessKey,
		Payload:     job.Payload,
	}
}
