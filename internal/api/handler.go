package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/domain"
	"github.com/djlord-it/reflex/internal/scheduler"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Gateway is the notification surface the handler drives.
type Gateway interface {
	Emit(ctx context.Context, event domain.NotificationEvent) domain.SendReceipt
	AuditTrail() []domain.SendReceipt
}

// Scheduler is the job surface the handler drives.
type Scheduler interface {
	Jobs() []scheduler.JobInfo
	Run(ctx context.Context, name string, jc domain.JobContext) (domain.RunResult, error)
}

// Replayer runs one dead-letter replay pass over every queue.
type Replayer interface {
	RunOnce(ctx context.Context) map[string]int
}

// HealthCheck reports a component's health for the verbose /health response.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	gateway   Gateway
	scheduler Scheduler
	replayer  Replayer // nil = replay endpoint disabled
	checks    map[string]HealthCheck
}

func NewHandler(gateway Gateway, sched Scheduler) *Handler {
	return &Handler{
		gateway:   gateway,
		scheduler: sched,
		checks:    make(map[string]HealthCheck),
	}
}

// WithReplayer enables POST /v1/dlq/replay.
func (h *Handler) WithReplayer(r Replayer) *Handler {
	h.replayer = r
	return h
}

// WithHealthCheck registers a component probed by /health?verbose=true.
func (h *Handler) WithHealthCheck(name string, check HealthCheck) *Handler {
	h.checks[name] = check
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/v1/notifications" && r.Method == http.MethodPost:
		h.emit(w, r)

	case path == "/v1/notifications/audit" && r.Method == http.MethodGet:
		h.audit(w, r)

	case path == "/v1/jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case strings.HasPrefix(path, "/v1/jobs/") && strings.HasSuffix(path, "/run") && r.Method == http.MethodPost:
		h.runJob(w, r)

	case path == "/v1/dlq/replay" && r.Method == http.MethodPost:
		h.replay(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string, len(h.checks)),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decodeBody decodes a JSON request body. An empty body leaves v untouched
// when allowEmpty is set. It writes the error response itself and reports
// whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	if allowEmpty && errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid json")
	return false
}

func (h *Handler) emit(w http.ResponseWriter, r *http.Request) {
	var req EmitRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	if err := validateEmit(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	eventID := req.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	receipt := h.gateway.Emit(r.Context(), domain.NotificationEvent{
		EventID:            eventID,
		TenantID:           req.TenantID,
		Channel:            domain.Channel(req.Channel),
		Payload:            req.Payload,
		CorrelationKey:     req.CorrelationKey,
		RecipientLocalTime: req.RecipientLocalTime,
		Metadata:           req.Metadata,
	})

	status := http.StatusOK
	if receipt.Status == domain.ReceiptStatusDeferred {
		status = http.StatusAccepted
	}
	writeJSON(w, status, receipt)
}

func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	channel := q.Get("channel")
	status := q.Get("status")

	trail := h.gateway.AuditTrail()
	filtered := make([]domain.SendReceipt, 0, len(trail))
	for _, receipt := range trail {
		if channel != "" && string(receipt.Channel) != channel {
			continue
		}
		if status != "" && string(receipt.Status) != status {
			continue
		}
		filtered = append(filtered, receipt)
	}

	resp := AuditResponse{Total: len(filtered), Receipts: []domain.SendReceipt{}}
	if offset < len(filtered) {
		end := offset + limit
		if end > len(filtered) {
			end = len(filtered)
		}
		resp.Receipts = filtered[offset:end]
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.Jobs()
	if jobs == nil {
		jobs = []scheduler.JobInfo{}
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs})
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request) {
	// Extract job name from path: /v1/jobs/{name}/run
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "jobs" || parts[3] != "run" || parts[2] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	name := parts[2]

	var req RunJobRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	result, err := h.scheduler.Run(r.Context(), name, domain.JobContext{Payload: req.Payload})
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Error().Err(err).Str("component", "api").Str("job", name).Msg("run job error")
		writeError(w, http.StatusInternalServerError, "failed to run job")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request) {
	if h.replayer == nil {
		writeError(w, http.StatusServiceUnavailable, "replay disabled")
		return
	}

	replayed := h.replayer.RunOnce(r.Context())

	resp := ReplayResponse{Replayed: replayed, Queues: make([]string, 0, len(replayed))}
	for name := range replayed {
		resp.Queues = append(resp.Queues, name)
	}
	sort.Strings(resp.Queues)

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("component", "api").Msg("json encode error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination reads limit and offset. A missing or zero limit means
// DefaultLimit; values must be non-negative and limit at most MaxLimit.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		return 0, 0, err
	}
	if limit > MaxLimit {
		return 0, 0, fmt.Errorf("limit exceeds maximum of %d", MaxLimit)
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func queryInt(value, name string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
