package kds

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const MaxBodyBytes = 1 << 20

// Handler exposes the station displays' surface.
type Handler struct {
	engine *Engine
	logger aqm.Logger
	tlm    *telemetry.HTTP
}

func NewHandler(engine *Engine, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Handler{
		engine: engine,
		logger: logger,
		tlm:    telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/kds", func(r chi.Router) {
		r.Get("/stations/{station}/tickets", h.StationBoard)
		r.Patch("/tickets/{id}/stations/{station}/bump", h.BumpStation)
		r.Patch("/tickets/{id}/items/{index}/bump", h.BumpItem)
		r.Get("/orders", h.OpenOrder)
	})
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}

type bumpRequest struct {
	BumpedBy string `json:"bumped_by"`
}

func (h *Handler) StationBoard(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.StationBoard")
	defer finish()

	board, err := h.engine.StationBoard(r.Context(), chi.URLParam(r, "station"))
	if err != nil {
		h.respondError(w, r, err, "Could not load station board")
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"tickets": board,
	}, nil)
}

func (h *Handler) BumpStation(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.BumpStation")
	defer finish()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid ticket ID")
		return
	}
	req, ok := decodeBump(w, r)
	if !ok {
		return
	}

	changed, err := h.engine.BumpStation(r.Context(), id, chi.URLParam(r, "station"), req.BumpedBy)
	if err != nil {
		h.respondError(w, r, err, "Could not bump station")
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"changed": changed,
	}, nil)
}

func (h *Handler) BumpItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.BumpItem")
	defer finish()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid ticket ID")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid item index")
		return
	}
	req, ok := decodeBump(w, r)
	if !ok {
		return
	}

	changed, err := h.engine.BumpItem(r.Context(), id, index, req.BumpedBy)
	if err != nil {
		h.respondError(w, r, err, "Could not bump item")
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"changed": changed,
	}, nil)
}

func (h *Handler) OpenOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.OpenOrder")
	defer finish()

	q := r.URL.Query()
	view, err := h.engine.OpenOrder(r.Context(), q.Get("area"), q.Get("table"))
	if err != nil {
		h.respondError(w, r, err, "Could not load order")
		return
	}

	aqm.Respond(w, http.StatusOK, view, nil)
}

// decodeBump reads the optional bump body. An empty body is accepted.
func decodeBump(w http.ResponseWriter, r *http.Request) (bumpRequest, bool) {
	var req bumpRequest
	if r.Body == nil {
		return req, true
	}
	err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	return req, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log(r).Errorf("%s: %v", msg, err)
	}
	aqm.RespondError(w, status, msg+": "+err.Error())
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoOpenOrder):
		return http.StatusNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
