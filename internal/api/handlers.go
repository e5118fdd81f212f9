package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/pricing"
	"github.com/fixpoint-repair/buyback/internal/store"
)

var validate = validator.New()

const maxLogLimit = 500

type maxPricesRequest struct {
	Models []string `json:"models" validate:"required,min=1,max=100,dive,required,max=200"`
}

type marginsResponse struct {
	Stored bool               `json:"stored"`
	Config model.MarginConfig `json:"config"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health: store ping failed", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleQuote always answers 200 with the quote envelope once the body
// decodes; success=false carries the customer-facing message.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req pricing.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Store failures are logged by the quote service; the envelope hides them.
	q, err := s.quotes.Quote(r.Context(), req)
	writeJSON(w, http.StatusOK, pricing.Respond(q, err))
}

func (s *Server) handleMaxPrice(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("model"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":    name,
		"maxPrice": s.prices.MaxPrice(r.Context(), name),
	})
}

func (s *Server) handleMaxPrices(w http.ResponseWriter, r *http.Request) {
	var req maxPricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "models must list 1 to 100 model names")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prices": s.prices.MaxPrices(r.Context(), req.Models),
	})
}

func (s *Server) handleGetMargins(w http.ResponseWriter, r *http.Request) {
	cfg, stored, err := s.margins.Stored(r.Context())
	if err != nil {
		s.log.Error("read margin settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to read margin settings")
		return
	}
	writeJSON(w, http.StatusOK, marginsResponse{Stored: stored, Config: cfg})
}

func (s *Server) handlePutMargins(w http.ResponseWriter, r *http.Request) {
	var cfg model.MarginConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid margin settings: "+err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.margins.Save(r.Context(), cfg); err != nil {
		s.log.Error("save margin settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to save margin settings")
		return
	}
	writeJSON(w, http.StatusOK, marginsResponse{Stored: true, Config: cfg})
}

// handleUpload ingests a CSV body. A sheet rejected as a whole answers 422
// with the run summary; a store failure answers 500.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	if source == "" {
		source = s.opts.DefaultSource
	}
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	res, err := s.uploads.Run(r.Context(), source, body)
	if err != nil {
		s.log.Error("price sheet upload failed", zap.String("source", source), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "price sheet ingestion failed",
			"result": res,
		})
		return
	}
	code := http.StatusOK
	if res.Status == model.UpdateStatusFailed {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, res)
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	res, err := s.recalc.Run(r.Context())
	if err != nil {
		s.log.Error("recalculation failed", zap.Error(err))
		updated := 0
		if res != nil {
			updated = res.Updated
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "recalculation failed",
			"updated": updated,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LogFilter{Source: q.Get("source")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxLogLimit)
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}

	logs, err := s.store.ListUpdateLogs(r.Context(), filter)
	if err != nil {
		s.log.Error("list update logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to list update logs")
		return
	}
	if logs == nil {
		logs = []model.PricingUpdateLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleSetOverrides(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var overrides model.GradePrices
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, g := range model.Grades {
		if v := overrides.Get(g); v != nil && *v < 0 {
			writeError(w, http.StatusBadRequest, "override for "+string(g)+" must be >= 0")
			return
		}
	}

	if err := s.store.SetOverrides(r.Context(), id, overrides); err != nil {
		s.storeError(w, "set overrides", id, err)
		return
	}
	row, err := s.store.GetPriceRowByID(r.Context(), id)
	if err != nil || row == nil {
		s.storeError(w, "reload price row", id, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.SetActive(r.Context(), id, false); err != nil {
		s.storeError(w, "deactivate price row", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) storeError(w http.ResponseWriter, op, id string, err error) {
	if err == nil || eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "price row "+id+" not found")
		return
	}
	s.log.Error(op, zap.String("id", id), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "unable to "+op)
}
