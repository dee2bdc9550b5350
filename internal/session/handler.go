// Package session answers the Web Connector polling protocol: authenticate,
// pull the next request, push its response, query the last error and close.
// Session tickets live in memory; the only durable state is the job queue and
// its current-job slot.
package session

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dandantas/stocksync/internal/metrics"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/qbxml"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("stocksync/session")

// Protocol answers
const (
	SelectorInvalidUser = "nvu"
	SelectorNoWork      = "none"
	ProgressDone        = 100
	ProgressMore        = 0
	ProgressFailed      = -1
	CloseOK             = "OK"
	ConnectionDone      = "done"
	ServerVersion       = "stocksync/1.0"
	defaultTicketTTL    = 2 * time.Hour
)

// Completion reacts to the outcome of a dispatched job
type Completion interface {
	// Complete handles a successful response
	Complete(ctx context.Context, current model.CurrentJob, resp *qbxml.Response, raw string) error
	// Fail handles a job the accounting system did not execute
	Fail(ctx context.Context, current model.CurrentJob, raw, message string)
}

// Options configures the handler
type Options struct {
	Username    string
	Password    string
	CompanyFile string
	// QueryOnConnect queues an inventory query on every successful login
	// unless one is already waiting
	QueryOnConnect bool
	TicketTTL      time.Duration
}

type ticketState struct {
	user      string
	createdAt time.Time
	lastError string
}

// Handler is the session state machine
type Handler struct {
	opts       Options
	queue      *store.JobQueue
	builder    *qbxml.Builder
	completion Completion
	metrics    *metrics.Metrics

	mu      sync.Mutex
	tickets map[string]*ticketState

	now       func() time.Time
	newTicket func() string
}

// NewHandler creates a session handler
func NewHandler(opts Options, queue *store.JobQueue, builder *qbxml.Builder, completion Completion, m *metrics.Metrics) *Handler {
	if opts.TicketTTL <= 0 {
		opts.TicketTTL = defaultTicketTTL
	}
	return &Handler{
		opts:       opts,
		queue:      queue,
		builder:    builder,
		completion: completion,
		metrics:    m,
		tickets:    make(map[string]*ticketState),
		now:        func() time.Time { return time.Now().UTC() },
		newTicket:  uuid.NewString,
	}
}

// Authenticate checks the credentials. A mismatch is answered with an empty
// ticket and the not-valid-user selector, never with an error.
func (h *Handler) Authenticate(ctx context.Context, username, password string) (string, string) {
	ctx, span := tracer.Start(ctx, "session.authenticate", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.opts.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.opts.Password)) == 1
	if !userOK || !passOK || h.opts.Username == "" {
		slog.Warn("Web Connector authentication rejected", "username", username)
		h.metrics.RecordSession("rejected")
		span.SetAttributes(attribute.Bool("session.authenticated", false))
		return "", SelectorInvalidUser
	}

	ticket := h.newTicket()
	h.mu.Lock()
	h.pruneLocked()
	h.tickets[ticket] = &ticketState{user: username, createdAt: h.now()}
	h.mu.Unlock()

	if h.opts.QueryOnConnect {
		h.ensureQuery(ctx)
	}

	selector := h.opts.CompanyFile
	current, _ := h.queue.Current(ctx)
	if current == nil && h.queue.Len(ctx) == 0 {
		selector = SelectorNoWork
	}

	slog.Info("Web Connector session opened", "ticket", ticket, "selector", selector)
	h.metrics.RecordSession("authenticated")
	span.SetAttributes(attribute.Bool("session.authenticated", true), attribute.String("session.selector", selector))
	return ticket, selector
}

// SendRequest dispatches the next job and returns its request document, or
// "" when there is nothing to do. Jobs that render to nothing are dropped.
func (h *Handler) SendRequest(ctx context.Context, ticket string) string {
	ctx, span := tracer.Start(ctx, "session.send_request", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	if !h.valid(ticket) {
		slog.Warn("Request pulled with unknown ticket", "ticket", ticket)
		return ""
	}

	if err := h.abandonCurrent(ctx, "session ended before a response was received"); err != nil {
		h.setLastError(ticket, err.Error())
		return ""
	}
	if h.queue.Len(ctx) == 0 {
		return ""
	}

	var (
		doc        string
		dispatched *model.Job
		skipped    []model.Job
	)
	err := h.queue.Update(ctx, func(state *model.QueueState) error {
		doc, dispatched, skipped = "", nil, nil
		for remaining := len(state.Jobs); remaining > 0; remaining-- {
			job := state.Jobs[0]
			rendered, err := h.builder.Build(job)
			if err != nil {
				slog.Error("Failed to render job, dropping it", "job_id", job.ID, "job_type", job.Type, "error", err)
			}
			if err != nil || strings.TrimSpace(rendered) == "" {
				skipped = append(skipped, job)
				state.Jobs = state.Jobs[1:]
				continue
			}

			state.Current = &model.CurrentJob{Job: job, Ticket: ticket, DispatchedAt: h.now()}
			state.Jobs = state.Jobs[1:]
			doc, dispatched = rendered, &job
			return nil
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to dispatch job", "ticket", ticket, "error", err)
		h.setLastError(ticket, err.Error())
		span.RecordError(err)
		return ""
	}

	for _, job := range skipped {
		slog.Info("Skipped job with empty request", "job_id", job.ID, "job_type", job.Type, "source", job.Source)
		h.metrics.RecordJobSkipped(string(job.Type))
	}
	if dispatched == nil {
		return ""
	}

	slog.Info("Job dispatched",
		"ticket", ticket,
		"job_id", dispatched.ID,
		"job_type", dispatched.Type,
		"source", dispatched.Source,
	)
	h.metrics.RecordJobDispatched(string(dispatched.Type))
	span.SetAttributes(attribute.String("job.id", dispatched.ID), attribute.String("job.type", string(dispatched.Type)))
	return doc
}

// ReceiveResponse completes the current job and tells the client whether to
// pull again: 100 when the queue is empty, 0 otherwise, -1 when the client
// reported an error.
func (h *Handler) ReceiveResponse(ctx context.Context, ticket, response, hresult, message string) int {
	ctx, span := tracer.Start(ctx, "session.receive_response", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	if !h.valid(ticket) {
		slog.Warn("Response pushed with unknown ticket", "ticket", ticket)
		return ProgressFailed
	}

	current, err := h.queue.Current(ctx)
	if err != nil || current == nil {
		slog.Warn("Response received without a current job", "ticket", ticket)
		return h.progress(ctx)
	}
	if current.Ticket != "" && current.Ticket != ticket {
		slog.Warn("Response ticket differs from dispatch ticket",
			"ticket", ticket,
			"dispatch_ticket", current.Ticket,
			"job_id", current.Job.ID,
		)
	}
	span.SetAttributes(attribute.String("job.id", current.Job.ID), attribute.String("job.type", string(current.Job.Type)))

	result := ProgressMore
	if hresult != "" {
		msg := fmt.Sprintf("%s: %s", hresult, message)
		h.setLastError(ticket, msg)
		h.completion.Fail(ctx, *current, response, msg)
		h.metrics.RecordJobCompleted(string(current.Job.Type), false)
		result = ProgressFailed
	} else {
		h.complete(ctx, ticket, *current, response)
	}

	if _, err := h.queue.ClearCurrent(ctx); err != nil {
		slog.Error("Failed to clear current job", "job_id", current.Job.ID, "error", err)
		h.setLastError(ticket, err.Error())
		return ProgressFailed
	}
	if result == ProgressFailed {
		return result
	}
	return h.progress(ctx)
}

func (h *Handler) complete(ctx context.Context, ticket string, current model.CurrentJob, raw string) {
	resp, err := qbxml.ParseResponse(raw)
	if err != nil {
		msg := fmt.Sprintf("unreadable response: %v", err)
		h.setLastError(ticket, msg)
		h.completion.Fail(ctx, current, raw, msg)
		h.metrics.RecordJobCompleted(string(current.Job.Type), false)
		return
	}
	if !resp.OK() {
		h.setLastError(ticket, resp.Error())
		h.completion.Fail(ctx, current, raw, resp.Error())
		h.metrics.RecordJobCompleted(string(current.Job.Type), false)
		return
	}

	if err := h.completion.Complete(ctx, current, resp, raw); err != nil {
		slog.Error("Completion handler failed", "job_id", current.Job.ID, "job_type", current.Job.Type, "error", err)
		h.setLastError(ticket, err.Error())
	}
	h.metrics.RecordJobCompleted(string(current.Job.Type), true)
	slog.Info("Job completed", "ticket", ticket, "job_id", current.Job.ID, "job_type", current.Job.Type)
}

// GetLastError returns the last error recorded for the ticket
func (h *Handler) GetLastError(_ context.Context, ticket string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tickets[ticket]; ok {
		return t.lastError
	}
	return ""
}

// ConnectionError is called when the client could not reach the company
// file. The in-flight job, if any, is treated as lost.
func (h *Handler) ConnectionError(ctx context.Context, ticket, hresult, message string) string {
	slog.Warn("Web Connector connection error", "ticket", ticket, "hresult", hresult, "message", message)
	h.setLastError(ticket, fmt.Sprintf("%s: %s", hresult, message))
	if err := h.abandonCurrent(ctx, "connection error: "+message); err != nil {
		slog.Error("Failed to release current job after connection error", "error", err)
	}
	return ConnectionDone
}

// Close forgets the ticket
func (h *Handler) Close(_ context.Context, ticket string) string {
	h.mu.Lock()
	delete(h.tickets, ticket)
	h.mu.Unlock()
	slog.Info("Web Connector session closed", "ticket", ticket)
	return CloseOK
}

// ClientVersion accepts every client version
func (h *Handler) ClientVersion(_ context.Context, version string) string {
	slog.Debug("Web Connector client version", "version", version)
	return ""
}

// abandonCurrent releases a slot left by an exchange that never completed.
// Reads go back to the front of the queue; adjustments are failed.
func (h *Handler) abandonCurrent(ctx context.Context, reason string) error {
	current, err := h.queue.Current(ctx)
	if err != nil || current == nil {
		return err
	}
	lost, err := h.queue.Recover(ctx)
	if err != nil {
		return err
	}
	if lost != nil {
		h.completion.Fail(ctx, model.CurrentJob{Job: *lost}, "", "unconfirmed: "+reason)
		h.metrics.RecordJobCompleted(string(lost.Type), false)
	}
	return nil
}

func (h *Handler) ensureQuery(ctx context.Context) {
	isQuery := func(j model.Job) bool { return j.Type == model.JobTypeInventoryQuery }
	if h.queue.HasQueued(ctx, isQuery) {
		return
	}
	if _, err := h.queue.Enqueue(ctx, model.NewInventoryQueryJob(model.SourceWebConnect, 0)); err != nil {
		slog.Error("Failed to queue inventory query on connect", "error", err)
	}
}

func (h *Handler) progress(ctx context.Context) int {
	if h.queue.Len(ctx) == 0 {
		return ProgressDone
	}
	return ProgressMore
}

func (h *Handler) valid(ticket string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.tickets[ticket]
	return ok
}

func (h *Handler) setLastError(ticket, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tickets[ticket]; ok {
		t.lastError = msg
	}
}

func (h *Handler) pruneLocked() {
	cutoff := h.now().Add(-h.opts.TicketTTL)
	for id, t := range h.tickets {
		if t.createdAt.Before(cutoff) {
			delete(h.tickets, id)
		}
	}
}
