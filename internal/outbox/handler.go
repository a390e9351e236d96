package outbox

import (
	"context"
	"net/http"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"
)

// Status is the operator view of the outbox.
type Status struct {
	Depth       int          `json:"depth"`
	Items       []Item       `json:"items"`
	DeadLetters []DeadLetter `json:"deadLetters"`
}

func (q *Queue) Status(ctx context.Context) (Status, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return Status{}, err
	}
	dead, err := q.DeadLetters(ctx)
	if err != nil {
		return Status{}, err
	}
	if items == nil {
		items = []Item{}
	}
	if dead == nil {
		dead = []DeadLetter{}
	}
	return Status{Depth: len(items), Items: items, DeadLetters: dead}, nil
}

type Handler struct {
	queue  *Queue
	logger aqm.Logger
	tlm    *telemetry.HTTP
}

func NewHandler(queue *Queue, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Handler{
		queue:  queue,
		logger: logger,
		tlm:    telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/outbox", func(r chi.Router) {
		r.Get("/", h.GetStatus)
		r.Post("/flush", h.Flush)
		r.Delete("/dead-letters", h.ClearDeadLetters)
	})
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetStatus")
	defer finish()

	status, err := h.queue.Status(r.Context())
	if err != nil {
		h.log(r).Errorf("cannot read outbox: %v", err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not read outbox")
		return
	}
	aqm.Respond(w, http.StatusOK, status, nil)
}

// Flush runs one pass synchronously and reports it.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Flush")
	defer finish()

	res, err := h.queue.FlushOnce(r.Context())
	if err != nil {
		h.log(r).Errorf("manual flush failed: %v", err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not flush outbox")
		return
	}
	aqm.Respond(w, http.StatusOK, res, nil)
}

func (h *Handler) ClearDeadLetters(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ClearDeadLetters")
	defer finish()

	if err := h.queue.ClearDeadLetters(r.Context()); err != nil {
		h.log(r).Errorf("cannot clear dead letters: %v", err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not clear dead letters")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
