package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/commercekit/sagaflow/internal/compensate"
	"github.com/commercekit/sagaflow/internal/core"
)

// fakeBackend records every settlement so tests can assert on the exact
// path a job took.
type fakeBackend struct {
	acks     []*core.Job
	retries  []retryCall
	discards []discardCall
	enqueued []*core.JobSpec
	seen     map[string]bool
	ackErr   error
	retryErr error
}

type retryCall struct {
	job    *core.Job
	delay  time.Duration
	reason string
}

type discardCall struct {
	job    *core.Job
	reason string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{seen: make(map[string]bool)}
}

func (f *fakeBackend) SubmitFlow(ctx context.Context, flowID string, root *core.JobSpec) (string, error) {
	return "", nil
}

func (f *fakeBackend) Enqueue(ctx context.Context, spec *core.JobSpec) (*core.Job, error) {
	if f.seen[spec.Options.JobID] {
		return nil, &core.DuplicateJobError{JobID: spec.Options.JobID}
	}
	f.seen[spec.Options.JobID] = true
	f.enqueued = append(f.enqueued, spec)
	return &core.Job{ID: spec.Options.JobID, Name: spec.Name, Queue: spec.Queue}, nil
}

func (f *fakeBackend) Fetch(ctx context.Context, queue string, count int) ([]*core.Job, error) {
	return nil, nil
}

func (f *fakeBackend) Ack(ctx context.Context, job *core.Job, result []byte) error {
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acks = append(f.acks, job)
	return nil
}

func (f *fakeBackend) Retry(ctx context.Context, job *core.Job, delay time.Duration, reason string) error {
	if f.retryErr != nil {
		return f.retryErr
	}
	f.retries = append(f.retries, retryCall{job: job, delay: delay, reason: reason})
	return nil
}

func (f *fakeBackend) Discard(ctx context.Context, job *core.Job, reason string) error {
	f.discards = append(f.discards, discardCall{job: job, reason: reason})
	return nil
}

func (f *fakeBackend) RegisterCron(ctx context.Context, name, schedule string, spec *core.JobSpec) error {
	return nil
}

func (f *fakeBackend) Health(ctx context.Context) error { return nil }

// newTestWorker builds a worker whose handlers come from outcomes: steps
// present in the map return that outcome, everything else succeeds.
func newTestWorker(t *testing.T, backend *fakeBackend, outcomes map[core.StepName]core.StepOutcome) *Worker {
	t.Helper()

	policies, err := core.DefaultPolicies(nil)
	if err != nil {
		t.Fatalf("DefaultPolicies error = %v", err)
	}

	router := NewRouter()
	for _, step := range core.AllSteps() {
		err := router.Register(step, func(ctx context.Context, job *core.Job) core.StepOutcome {
			if outcome, ok := outcomes[step]; ok {
				return outcome
			}
			return core.Success(nil)
		})
		if err != nil {
			t.Fatalf("Register(%s) error = %v", step, err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	compensator := compensate.NewTrigger(compensate.DefaultRegistry(), policies, backend, logger)

	w, err := New(backend, router, policies, compensator, MultiObserver{}, logger, Config{})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	return w
}

func checkoutJob(step core.StepName, attempt int) *core.Job {
	return &core.Job{
		ID:          "flow-1-" + string(step),
		Name:        step,
		Queue:       core.QueueCheckout,
		State:       core.StateActive,
		FlowID:      "flow-1",
		Attempt:     attempt,
		MaxAttempts: 3,
		Payload:     []byte(`{"flow_id":"flow-1","order_id":"ORD-9"}`),
	}
}

func TestProcess_SuccessAcks(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWorker(t, backend, nil)

	w.Process(context.Background(), checkoutJob(core.StepValidateCart, 1))

	if len(backend.acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(backend.acks))
	}
	if len(backend.retries) != 0 || len(backend.discards) != 0 {
		t.Errorf("unexpected retries=%d discards=%d", len(backend.retries), len(backend.discards))
	}
}

func TestProcess_RetryableSchedulesBackoff(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWorker(t, backend, map[core.StepName]core.StepOutcome{
		core.StepReserveStock: core.Retryable(errors.New("inventory timeout")),
	})

	// First execution: one retry scheduled with the initial delay.
	w.Process(context.Background(), checkoutJob(core.StepReserveStock, 1))

	if len(backend.retries) != 1 {
		t.Fatalf("retries = %d, want 1", len(backend.retries))
	}
	if got := backend.retries[0].delay; got != 1*time.Second {
		t.Errorf("first retry delay = %v, want 1s", got)
	}
	if backend.retries[0].reason != "inventory timeout" {
		t.Errorf("retry reason = %q", backend.retries[0].reason)
	}
	if len(backend.discards) != 0 {
		t.Errorf("discards = %d, want 0", len(backend.discards))
	}

	// Second execution: backoff doubles.
	w.Process(context.Background(), checkoutJob(core.StepReserveStock, 2))

	if len(backend.retries) != 2 {
		t.Fatalf("retries = %d, want 2", len(backend.retries))
	}
	if got := backend.retries[1].delay; got != 2*time.Second {
		t.Errorf("second retry delay = %v, want 2s", got)
	}
}

func TestProcess_RetryExhaustionDiscardsAndCompensates(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWorker(t, backend, map[core.StepName]core.StepOutcome{
		core.StepProcessPayment: core.Retryable(errors.New("gateway timeout")),
	})

	// Third execution of a 3-attempt budget: no retry left.
	w.Process(context.Background(), checkoutJob(core.StepProcessPayment, 3))

	if len(backend.retries) != 0 {
		t.Fatalf("retries = %d, want 0", len(backend.retries))
	}
	if len(backend.discards) != 1 {
		t.Fatalf("discards = %d, want 1", len(backend.discards))
	}

	wantIDs := map[string]bool{
		"release-order-stock-ORD-9": true,
		"cancel-order-ORD-9":        true,
	}
	if len(backend.enqueued) != len(wantIDs) {
		t.Fatalf("compensations enqueued = %d, want %d", len(backend.enqueued), len(wantIDs))
	}
	for _, spec := range backend.enqueued {
		if !wantIDs[spec.Options.JobID] {
			t.Errorf("unexpected compensation job ID %q", spec.Options.JobID)
		}
	}
}

func TestProcess_FatalDiscardsAndCompensates(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWorker(t, backend, map[core.StepName]core.StepOutcome{
		core.StepCreateOrder: core.FatalOutcome(errors.New("duplicate order number")),
	})

	w.Process(context.Background(), checkoutJob(core.StepCreateOrder, 1))

	if len(backend.retries) != 0 {
		t.Errorf("retries = %d, want 0 for fatal failure", len(backend.retries))
	}
	if len(backend.discards) != 1 {
		t.Fatalf("discards = %d, want 1", len(backend.discards))
	}
	if backend.discards[0].reason != "duplicate order number" {
		t.Errorf("discard reason = %q", backend.discards[0].reason)
	}

	if len(backend.enqueued) != 1 {
		t.Fatalf("compensations enqueued = %d, want 1", len(backend.enqueued))
	}
	if backend.enqueued[0].Options.JobID != "release-stock-ORD-9" {
		t.Errorf("compensation job ID = %q, want release-stock-ORD-9", backend.enqueued[0].Options.JobID)
	}
}

func TestProcess_FatalWithoutCompensationStillDiscards(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWorker(t, backend, map[core.StepName]core.StepOutcome{
		core.StepValidateCart: core.FatalOutcome(errors.New("cart does not exist")),
	})

	w.Process(context.Background(), checkoutJob(core.StepValidateCart, 1))

	if len(backend.discards) != 1 {
		t.Fatalf("discards = %d, want 1", len(backend.discards))
	}
	if len(backend.enqueued) != 0 {
		t.Errorf("compensations enqueued = %d, want 0", len(backend.enqueued))
	}
}

func TestProcess_DoubleFatalCompensatesOnce(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWorker(t, backend, map[core.StepName]core.StepOutcome{
		core.StepConfirmOrder: core.FatalOutcome(errors.New("order state conflict")),
	})

	// The same job settling fatally twice (e.g. a redelivered message)
	// must not duplicate the compensating work.
	w.Process(context.Background(), checkoutJob(core.StepConfirmOrder, 1))
	w.Process(context.Background(), checkoutJob(core.StepConfirmOrder, 1))

	if len(backend.enqueued) != 2 {
		t.Errorf("compensations enqueued = %d, want 2 (cancel + refund, once each)", len(backend.enqueued))
	}
}

func TestProcess_CompensationKeyFallsBackToFlowID(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWorker(t, backend, map[core.StepName]core.StepOutcome{
		core.StepCreateOrder: core.FatalOutcome(errors.New("rejected")),
	})

	job := checkoutJob(core.StepCreateOrder, 1)
	job.Payload = []byte(`{}`)

	w.Process(context.Background(), job)

	if len(backend.enqueued) != 1 {
		t.Fatalf("compensations enqueued = %d, want 1", len(backend.enqueued))
	}
	if backend.enqueued[0].Options.JobID != "release-stock-flow-1" {
		t.Errorf("compensation job ID = %q, want release-stock-flow-1", backend.enqueued[0].Options.JobID)
	}
}

func TestRouter_Validate(t *testing.T) {
	router := NewRouter()
	if err := router.Validate(); err == nil {
		t.Error("expected error for empty router")
	}

	noop := func(ctx context.Context, job *core.Job) core.StepOutcome {
		return core.Success(nil)
	}
	for _, step := range core.AllSteps() {
		if err := router.Register(step, noop); err != nil {
			t.Fatalf("Register(%s) error = %v", step, err)
		}
	}
	if err := router.Validate(); err != nil {
		t.Errorf("Validate() with full coverage error = %v", err)
	}
}

func TestRouter_RejectsBadRegistrations(t *testing.T) {
	router := NewRouter()
	noop := func(ctx context.Context, job *core.Job) core.StepOutcome {
		return core.Success(nil)
	}

	if err := router.Register("ship-order", noop); err == nil {
		t.Error("expected error for unknown step")
	}
	if err := router.Register(core.StepValidateCart, nil); err == nil {
		t.Error("expected error for nil handler")
	}
	if err := router.Register(core.StepValidateCart, noop); err != nil {
		t.Fatalf("Register error = %v", err)
	}
	if err := router.Register(core.StepValidateCart, noop); err == nil {
		t.Error("expected error for double registration")
	}
}

func TestWorker_StartStop(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWorker(t, backend, nil)

	w.Start()
	time.Sleep(10 * time.Millisecond)
	w.Stop()

	// Stop is idempotent.
	w.Stop()
}

// eventCounter tallies lifecycle events so tests can check that every
// started job reaches exactly one terminal event.
type eventCounter struct {
	started   int
	completed int
	retried   int
	discarded int
	lastError string
}

func (c *eventCounter) JobStarted(e *core.JobEvent)   { c.started++ }
func (c *eventCounter) JobCompleted(e *core.JobEvent) { c.completed++ }
func (c *eventCounter) JobRetried(e *core.JobEvent) {
	c.retried++
	c.lastError = e.Error
}
func (c *eventCounter) JobDiscarded(e *core.JobEvent) { c.discarded++ }

func (c *eventCounter) terminal() int {
	return c.completed + c.retried + c.discarded
}

func newObservedWorker(t *testing.T, backend *fakeBackend, counter *eventCounter,
	outcomes map[core.StepName]core.StepOutcome) *Worker {
	t.Helper()

	w := newTestWorker(t, backend, outcomes)
	w.observer = counter
	return w
}

func TestProcess_AckFailureEmitsTerminalEvent(t *testing.T) {
	backend := newFakeBackend()
	backend.ackErr = errors.New("dynamodb unavailable")
	counter := &eventCounter{}
	w := newObservedWorker(t, backend, counter, nil)

	w.Process(context.Background(), checkoutJob(core.StepValidateCart, 1))

	if counter.started != 1 || counter.terminal() != 1 {
		t.Fatalf("started = %d terminal = %d, want 1/1", counter.started, counter.terminal())
	}
	// The job will be redelivered when the lease expires, so the terminal
	// event is a retry carrying the settlement error.
	if counter.retried != 1 {
		t.Errorf("retried = %d, want 1", counter.retried)
	}
	if counter.lastError != "dynamodb unavailable" {
		t.Errorf("event error = %q, want the ack error", counter.lastError)
	}
}

func TestProcess_RetrySchedulingFailureEmitsTerminalEvent(t *testing.T) {
	backend := newFakeBackend()
	backend.retryErr = errors.New("due index write failed")
	counter := &eventCounter{}
	w := newObservedWorker(t, backend, counter, map[core.StepName]core.StepOutcome{
		core.StepProcessPayment: core.Retryable(errors.New("gateway timeout")),
	})

	w.Process(context.Background(), checkoutJob(core.StepProcessPayment, 1))

	if counter.started != 1 || counter.terminal() != 1 {
		t.Fatalf("started = %d terminal = %d, want 1/1", counter.started, counter.terminal())
	}
	if counter.retried != 1 {
		t.Errorf("retried = %d, want 1", counter.retried)
	}
	if counter.lastError != "due index write failed" {
		t.Errorf("event error = %q, want the scheduling error", counter.lastError)
	}
}

func TestProcess_EveryOutcomeBalancesEvents(t *testing.T) {
	outcomes := map[core.StepName]core.StepOutcome{
		core.StepProcessPayment: core.Retryable(errors.New("gateway timeout")),
		core.StepCreateOrder:    core.FatalOutcome(errors.New("order rejected")),
	}

	backend := newFakeBackend()
	counter := &eventCounter{}
	w := newObservedWorker(t, backend, counter, outcomes)

	w.Process(context.Background(), checkoutJob(core.StepValidateCart, 1))
	w.Process(context.Background(), checkoutJob(core.StepProcessPayment, 1))
	w.Process(context.Background(), checkoutJob(core.StepCreateOrder, 1))

	if counter.started != 3 || counter.terminal() != 3 {
		t.Errorf("started = %d terminal = %d, want 3/3", counter.started, counter.terminal())
	}
}
