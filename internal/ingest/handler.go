package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/appetiteclub/edge/internal/kds"
	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"
)

const (
	MaxBodyBytes = 1 << 20

	// CallerHeader names the UI surface making the request. It selects a
	// pinned session when one exists.
	CallerHeader = "X-Caller-ID"
)

type Handler struct {
	coordinator *Coordinator
	logger      aqm.Logger
	tlm         *telemetry.HTTP
}

func NewHandler(coordinator *Coordinator, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Handler{
		coordinator: coordinator,
		logger:      logger,
		tlm:         telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/fire", h.FireOrder)
		r.Post("/void-item", h.VoidItem)
		r.Post("/void-ticket", h.VoidTicket)
	})

	r.Route("/tables", func(r chi.Router) {
		r.Post("/open", h.OpenTable)
		r.Post("/close", h.CloseTable)
	})
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}

func (h *Handler) FireOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.FireOrder")
	defer finish()

	var req kds.FireRequest
	if !decodePayload(w, r, h.log(r), &req) {
		return
	}

	out, err := h.coordinator.FireOrder(r.Context(), req, r.Header.Get(CallerHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	aqm.Respond(w, http.StatusOK, out, nil)
}

func (h *Handler) VoidItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.VoidItem")
	defer finish()

	var req kds.VoidItemRequest
	if !decodePayload(w, r, h.log(r), &req) {
		return
	}

	out, err := h.coordinator.VoidItem(r.Context(), req, r.Header.Get(CallerHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	aqm.Respond(w, http.StatusOK, out, nil)
}

func (h *Handler) VoidTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.VoidTicket")
	defer finish()

	var req VoidTicketRequest
	if !decodePayload(w, r, h.log(r), &req) {
		return
	}

	out, err := h.coordinator.VoidTicket(r.Context(), req, r.Header.Get(CallerHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	aqm.Respond(w, http.StatusOK, out, nil)
}

func (h *Handler) OpenTable(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.OpenTable")
	defer finish()

	var req TableRequest
	if !decodePayload(w, r, h.log(r), &req) {
		return
	}

	out, err := h.coordinator.OpenTable(r.Context(), req, r.Header.Get(CallerHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	aqm.Respond(w, http.StatusOK, out, nil)
}

func (h *Handler) CloseTable(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CloseTable")
	defer finish()

	var req TableRequest
	if !decodePayload(w, r, h.log(r), &req) {
		return
	}

	out, err := h.coordinator.CloseTable(r.Context(), req, r.Header.Get(CallerHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	aqm.Respond(w, http.StatusOK, out, nil)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrInvalid) {
		aqm.RespondError(w, http.StatusBadRequest, "area, table and at least one item are required")
		return
	}
	h.log(r).Errorf("cannot apply write: %v", err)
	aqm.RespondError(w, http.StatusInternalServerError, "Could not apply write")
}

func decodePayload(w http.ResponseWriter, r *http.Request, log aqm.Logger, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		aqm.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, dest); err != nil {
		log.Debug("failed to decode request body", "error", err)
		aqm.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}
