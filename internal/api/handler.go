// Package api serves a pipeline snapshot over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/assad-lz/ansetl/internal/metrics"
	"github.com/assad-lz/ansetl/internal/record"
	"github.com/assad-lz/ansetl/internal/snapshot"
)

// Default paging values for the operator listing.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	statsTopN    = 5
)

// Handler wires the query endpoints to the current snapshot. The snapshot
// can be swapped while serving; each request sees exactly one snapshot.
type Handler struct {
	current atomic.Pointer[snapshot.Snapshot]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a handler serving snap, which may be nil until the first
// run completes.
func New(snap *snapshot.Snapshot, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger, metrics: m}
	h.current.Store(snap)
	return h
}

// Swap replaces the served snapshot.
func (h *Handler) Swap(snap *snapshot.Snapshot) {
	h.current.Store(snap)
}

// Register mounts the query endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/operadoras", h.handleListOperators)
		r.Get("/operadoras/{id}", h.handleGetOperator)
		r.Get("/operadoras/{id}/despesas", h.handleOperatorExpenses)
		r.Get("/estatisticas", h.handleStatistics)
	})
}

type healthResponse struct {
	Status          string `json:"status"`
	OperatorsLoaded int    `json:"operators_loaded"`
	RunID           string `json:"run_id,omitempty"`
}

type pageMeta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

type operatorPage struct {
	Data []record.OperatorRecord `json:"data"`
	Meta pageMeta                `json:"meta"`
}

type operatorTotal struct {
	RegistryID  string          `json:"registry_id"`
	LegalName   string          `json:"legal_name"`
	Region      string          `json:"region"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Count       int             `json:"count"`
}

type regionTotal struct {
	Region      string          `json:"region"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Count       int             `json:"count"`
}

type statisticsResponse struct {
	TopOperators []operatorTotal `json:"top_5_operadoras"`
	ByRegion     []regionTotal   `json:"despesas_por_uf"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Count        int             `json:"count"`
}

// handleHealth reports liveness. It answers 200 even without data so probes
// can tell a running server from a dead one.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.current.Load()
	resp := healthResponse{Status: "online", OperatorsLoaded: snap.OperatorCount()}
	if snap != nil {
		resp.RunID = snap.RunID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListOperators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), DefaultPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "page must be an integer")
		return
	}
	limit, err := intParam(q.Get("limit"), DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be an integer")
		return
	}

	p, err := h.current.Load().Operators(page, limit, q.Get("search"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, operatorPage{
		Data: p.Items,
		Meta: pageMeta{Total: p.Total, Page: p.Page, Limit: p.Size, TotalPages: p.TotalPages},
	})
}

func (h *Handler) handleGetOperator(w http.ResponseWriter, r *http.Request) {
	op, err := h.current.Load().Operator(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (h *Handler) handleOperatorExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.current.Load().Expenses(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.current.Load().Statistics(statsTopN)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := statisticsResponse{
		TopOperators: make([]operatorTotal, 0, len(st.TopOperators)),
		ByRegion:     make([]regionTotal, 0, len(st.TopRegions)),
		TotalAmount:  st.TotalAmount,
		Count:        st.Count,
	}
	for _, row := range st.TopOperators {
		resp.TopOperators = append(resp.TopOperators, operatorTotal{
			RegistryID:  row.Value(record.FieldRegistryID),
			LegalName:   row.Value(record.FieldLegalName),
			Region:      row.Value(record.FieldRegion),
			TotalAmount: row.TotalAmount,
			Count:       row.Count,
		})
	}
	for _, row := range st.TopRegions {
		resp.ByRegion = append(resp.ByRegion, regionTotal{
			Region:      row.Value(record.FieldRegion),
			TotalAmount: row.TotalAmount,
			Count:       row.Count,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail maps snapshot errors onto status codes. A lookup miss and missing
// data never share a status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "operator not found")
	case errors.Is(err, snapshot.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "data_unavailable", "no pipeline run has produced data")
	case errors.Is(err, snapshot.ErrInvalidPage):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "query failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
