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
	"github.com/commercekit/sagaflow/internal/flow"
)

// memBackend models the durable queue's tree semantics in memory: children
// stay pending until their parent is acked, retries go straight back to
// available, discards cascade to pending descendants.
type memBackend struct {
	records  map[string]*memRecord
	queues   map[string][]string
	enqueues []string // job IDs enqueued outside a flow (compensations)
}

type memRecord struct {
	job      *core.Job
	parentID string
	childIDs []string
}

func newMemBackend() *memBackend {
	return &memBackend{
		records: make(map[string]*memRecord),
		queues:  make(map[string][]string),
	}
}

func (m *memBackend) SubmitFlow(ctx context.Context, flowID string, root *core.JobSpec) (string, error) {
	err := root.Walk(func(node *core.JobSpec, parent *core.JobSpec) error {
		id := node.Options.JobID
		if _, exists := m.records[id]; exists {
			return &core.DuplicateJobError{JobID: id}
		}
		rec := &memRecord{
			job: &core.Job{
				ID:          id,
				Name:        node.Name,
				Queue:       node.Queue,
				State:       core.StatePending,
				FlowID:      flowID,
				Payload:     node.Payload,
				MaxAttempts: node.Options.Attempts,
			},
		}
		if parent == nil {
			rec.job.State = core.StateAvailable
		} else {
			rec.parentID = parent.Options.JobID
		}
		for i := range node.Children {
			rec.childIDs = append(rec.childIDs, node.Children[i].Options.JobID)
		}
		m.records[id] = rec
		return nil
	})
	if err != nil {
		return "", err
	}
	rootID := root.Options.JobID
	m.queues[root.Queue] = append(m.queues[root.Queue], rootID)
	return rootID, nil
}

func (m *memBackend) Enqueue(ctx context.Context, spec *core.JobSpec) (*core.Job, error) {
	id := spec.Options.JobID
	if _, exists := m.records[id]; exists {
		return nil, &core.DuplicateJobError{JobID: id}
	}
	job := &core.Job{
		ID:          id,
		Name:        spec.Name,
		Queue:       spec.Queue,
		State:       core.StateAvailable,
		Payload:     spec.Payload,
		MaxAttempts: spec.Options.Attempts,
	}
	m.records[id] = &memRecord{job: job}
	m.queues[spec.Queue] = append(m.queues[spec.Queue], id)
	m.enqueues = append(m.enqueues, id)
	return job, nil
}

func (m *memBackend) Fetch(ctx context.Context, queue string, count int) ([]*core.Job, error) {
	var jobs []*core.Job
	for len(jobs) < count && len(m.queues[queue]) > 0 {
		id := m.queues[queue][0]
		m.queues[queue] = m.queues[queue][1:]
		rec := m.records[id]
		rec.job.State = core.StateActive
		rec.job.Attempt++
		leased := *rec.job
		jobs = append(jobs, &leased)
	}
	return jobs, nil
}

func (m *memBackend) Ack(ctx context.Context, job *core.Job, result []byte) error {
	rec := m.records[job.ID]
	rec.job.State = core.StateCompleted
	for _, childID := range rec.childIDs {
		child := m.records[childID]
		if child.job.State != core.StatePending {
			continue
		}
		child.job.State = core.StateAvailable
		m.queues[child.job.Queue] = append(m.queues[child.job.Queue], childID)
	}
	return nil
}

func (m *memBackend) Retry(ctx context.Context, job *core.Job, delay time.Duration, reason string) error {
	rec := m.records[job.ID]
	rec.job.State = core.StateAvailable
	rec.job.LastError = reason
	m.queues[rec.job.Queue] = append(m.queues[rec.job.Queue], job.ID)
	return nil
}

func (m *memBackend) Discard(ctx context.Context, job *core.Job, reason string) error {
	rec := m.records[job.ID]
	rec.job.State = core.StateDiscarded
	rec.job.LastError = reason
	m.discardDescendants(rec)
	return nil
}

func (m *memBackend) discardDescendants(rec *memRecord) {
	for _, childID := range rec.childIDs {
		child := m.records[childID]
		if child.job.State != core.StatePending {
			continue
		}
		child.job.State = core.StateDiscarded
		m.discardDescendants(child)
	}
}

func (m *memBackend) RegisterCron(ctx context.Context, name, schedule string, spec *core.JobSpec) error {
	return nil
}

func (m *memBackend) Health(ctx context.Context) error { return nil }

func (m *memBackend) stateOf(jobID string) string {
	if rec, ok := m.records[jobID]; ok {
		return rec.job.State
	}
	return ""
}

// runToCompletion drives every queue until no job remains available.
func runToCompletion(t *testing.T, w *Worker, m *memBackend) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		progressed := false
		for _, queue := range core.AllQueues() {
			jobs, err := m.Fetch(context.Background(), queue, 10)
			if err != nil {
				t.Fatalf("fetch %s: %v", queue, err)
			}
			for _, job := range jobs {
				progressed = true
				w.Process(context.Background(), job)
			}
		}
		if !progressed {
			return
		}
	}
	t.Fatal("flow did not settle within the iteration budget")
}

// scenarioWorker builds a worker whose handlers count executions per step
// and fail according to failures.
func scenarioWorker(t *testing.T, backend *memBackend, executions map[core.StepName]int,
	failures map[core.StepName]core.StepOutcome) *Worker {
	t.Helper()

	policies, err := core.DefaultPolicies(nil)
	if err != nil {
		t.Fatalf("DefaultPolicies error = %v", err)
	}

	router := NewRouter()
	for _, step := range core.AllSteps() {
		err := router.Register(step, func(ctx context.Context, job *core.Job) core.StepOutcome {
			executions[job.Name]++
			if outcome, ok := failures[job.Name]; ok {
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

func submitCheckout(t *testing.T, backend *memBackend) (flowID, orderID string) {
	t.Helper()
	policies, err := core.DefaultPolicies(nil)
	if err != nil {
		t.Fatalf("DefaultPolicies error = %v", err)
	}
	root, flowID, orderID, err := flow.NewBuilder(policies).CheckoutFlow(flow.CheckoutTrigger{
		CartID:        "CART1",
		CustomerID:    "cust-1",
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("CheckoutFlow error = %v", err)
	}
	if _, err := backend.SubmitFlow(context.Background(), flowID, root); err != nil {
		t.Fatalf("SubmitFlow error = %v", err)
	}
	return flowID, orderID
}

func TestCheckoutFlow_AllStepsSucceed(t *testing.T) {
	backend := newMemBackend()
	executions := make(map[core.StepName]int)
	w := scenarioWorker(t, backend, executions, nil)

	submitCheckout(t, backend)
	runToCompletion(t, w, backend)

	for _, step := range []core.StepName{
		core.StepValidateCart,
		core.StepResolveAddress,
		core.StepReserveStock,
		core.StepCreateOrder,
		core.StepProcessPayment,
		core.StepConfirmReservation,
		core.StepConfirmOrder,
		core.StepClearCart,
		core.StepFinalizeCheckout,
	} {
		if executions[step] != 1 {
			t.Errorf("%s executed %d times, want 1", step, executions[step])
		}
	}
	if len(backend.enqueues) != 0 {
		t.Errorf("compensations enqueued = %v, want none", backend.enqueues)
	}
}

func TestCheckoutFlow_PaymentExhaustionCompensates(t *testing.T) {
	backend := newMemBackend()
	executions := make(map[core.StepName]int)
	w := scenarioWorker(t, backend, executions, map[core.StepName]core.StepOutcome{
		core.StepProcessPayment: core.Retryable(errors.New("gateway timeout")),
	})

	flowID, orderID := submitCheckout(t, backend)
	runToCompletion(t, w, backend)

	// Default policy: 3 attempts, all consumed.
	if executions[core.StepProcessPayment] != 3 {
		t.Errorf("process-payment executed %d times, want 3", executions[core.StepProcessPayment])
	}

	// Exactly one release-order-stock and one cancel-order, keyed by the
	// pre-allocated order ID.
	wantComp := []string{
		"release-order-stock-" + orderID,
		"cancel-order-" + orderID,
	}
	if len(backend.enqueues) != len(wantComp) {
		t.Fatalf("compensations = %v, want %v", backend.enqueues, wantComp)
	}
	for i := range wantComp {
		if backend.enqueues[i] != wantComp[i] {
			t.Errorf("compensation %d = %q, want %q", i, backend.enqueues[i], wantComp[i])
		}
	}
	if executions[core.StepReleaseOrderStock] != 1 || executions[core.StepCancelOrder] != 1 {
		t.Errorf("compensation executions = %d/%d, want 1/1",
			executions[core.StepReleaseOrderStock], executions[core.StepCancelOrder])
	}

	// No step past the failure ever runs; their jobs are discarded with
	// the failed parent.
	for _, step := range []core.StepName{
		core.StepConfirmReservation,
		core.StepConfirmOrder,
		core.StepClearCart,
		core.StepFinalizeCheckout,
	} {
		if executions[step] != 0 {
			t.Errorf("%s executed %d times, want 0", step, executions[step])
		}
		if got := backend.stateOf(core.FlowJobID(flowID, step)); got != core.StateDiscarded {
			t.Errorf("%s state = %q, want discarded", step, got)
		}
	}
}

func TestNotificationFlow_FatalSendSkipsHistory(t *testing.T) {
	backend := newMemBackend()
	executions := make(map[core.StepName]int)
	w := scenarioWorker(t, backend, executions, map[core.StepName]core.StepOutcome{
		core.StepSendNotification: core.FatalOutcome(errors.New("user opted out")),
	})

	policies, err := core.DefaultPolicies(nil)
	if err != nil {
		t.Fatalf("DefaultPolicies error = %v", err)
	}
	root, flowID, err := flow.NewBuilder(policies).NotificationFlow(flow.NotificationTrigger{
		ID:     "notif-1",
		UserID: "user-1",
	}, "DELIVERED")
	if err != nil {
		t.Fatalf("NotificationFlow error = %v", err)
	}
	if _, err := backend.SubmitFlow(context.Background(), flowID, root); err != nil {
		t.Fatalf("SubmitFlow error = %v", err)
	}

	runToCompletion(t, w, backend)

	if executions[core.StepUpdateNotificationStatus] != 1 {
		t.Errorf("update-status executed %d times, want 1", executions[core.StepUpdateNotificationStatus])
	}
	if executions[core.StepSendNotification] != 1 {
		t.Errorf("send-notification executed %d times, want 1 (fatal, no retries)", executions[core.StepSendNotification])
	}
	if executions[core.StepSaveNotificationHistory] != 0 {
		t.Errorf("save-history executed %d times, want 0", executions[core.StepSaveNotificationHistory])
	}

	// No compensation registered for send-notification: escalated, not
	// compensated, and the gated history job dies with it.
	if len(backend.enqueues) != 0 {
		t.Errorf("compensations enqueued = %v, want none", backend.enqueues)
	}
	if got := backend.stateOf(core.FlowJobID(flowID, core.StepSaveNotificationHistory)); got != core.StateDiscarded {
		t.Errorf("save-history state = %q, want discarded", got)
	}
}
