package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commercekit/sagaflow/internal/core"
	"github.com/commercekit/sagaflow/internal/flow"
	"github.com/commercekit/sagaflow/internal/metrics"
	"github.com/commercekit/sagaflow/internal/state"
)

// NewRouter creates the HTTP router: flow submission endpoints, flow
// status lookup, health, and Prometheus metrics.
func NewRouter(backend core.Backend, store state.Store, builder *flow.Builder,
	dispatcher *flow.Dispatcher, logger *slog.Logger) http.Handler {

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := backend.Health(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := &flowHandler{store: store, builder: builder, dispatcher: dispatcher, logger: logger}
	r.Post("/v1/checkouts", h.submitCheckout)
	r.Post("/v1/notifications", h.submitNotification)
	r.Get("/v1/flows/{id}", h.getFlow)
	r.Get("/v1/queues/{queue}/jobs", h.listQueueJobs)

	return r
}

type flowHandler struct {
	store      state.Store
	builder    *flow.Builder
	dispatcher *flow.Dispatcher
	logger     *slog.Logger
}

// submitCheckout builds and submits a checkout flow. The response carries
// only the flow handle: completion is observed asynchronously, never by
// blocking the request.
func (h *flowHandler) submitCheckout(w http.ResponseWriter, req *http.Request) {
	var trigger flow.CheckoutTrigger
	if err := json.NewDecoder(req.Body).Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	root, flowID, orderID, err := h.builder.CheckoutFlow(trigger)
	if err != nil {
		if core.IsConfigurationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("checkout flow build failed", "error", err)
		writeError(w, http.StatusInternalServerError, "flow build failed")
		return
	}

	if _, err := h.dispatcher.Submit(req.Context(), flowID, root); err != nil {
		h.logger.Error("checkout flow submit failed", "flow_id", flowID, "error", err)
		writeError(w, http.StatusBadGateway, "flow submission failed")
		return
	}

	metrics.FlowsSubmitted.WithLabelValues("checkout").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"flow_id":  flowID,
		"order_id": orderID,
	})
}

func (h *flowHandler) submitNotification(w http.ResponseWriter, req *http.Request) {
	var body struct {
		flow.NotificationTrigger
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Status == "" {
		body.Status = "DELIVERED"
	}

	root, flowID, err := h.builder.NotificationFlow(body.NotificationTrigger, body.Status)
	if err != nil {
		if core.IsConfigurationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("notification flow build failed", "error", err)
		writeError(w, http.StatusInternalServerError, "flow build failed")
		return
	}

	if _, err := h.dispatcher.Submit(req.Context(), flowID, root); err != nil {
		h.logger.Error("notification flow submit failed", "flow_id", flowID, "error", err)
		writeError(w, http.StatusBadGateway, "flow submission failed")
		return
	}

	metrics.FlowsSubmitted.WithLabelValues("notification").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"flow_id": flowID})
}

func (h *flowHandler) getFlow(w http.ResponseWriter, req *http.Request) {
	flowID := chi.URLParam(req, "id")
	record, err := h.store.GetFlow(req.Context(), flowID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "flow not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "flow lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"flow_id":      record.ID,
		"root_job_id":  record.RootJobID,
		"state":        record.State,
		"total":        record.Total,
		"completed":    record.Completed,
		"created_at":   record.CreatedAt,
		"completed_at": record.CompletedAt,
	})
}

// listQueueJobs is an operational inspection endpoint: jobs in one queue
// filtered by state, newest-first ordering left to the store.
func (h *flowHandler) listQueueJobs(w http.ResponseWriter, req *http.Request) {
	queue := chi.URLParam(req, "queue")
	jobState := req.URL.Query().Get("state")
	if jobState == "" {
		jobState = core.StateAvailable
	}

	records, err := h.store.ListJobsByQueue(req.Context(), queue, jobState, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job listing failed")
		return
	}

	jobs := make([]*core.Job, 0, len(records))
	for _, record := range records {
		jobs = append(jobs, state.RecordToJob(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue": queue,
		"state": jobState,
		"jobs":  jobs,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
