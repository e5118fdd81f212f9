// Package api exposes the pricing engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/ingest"
	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/pricing"
	"github.com/fixpoint-repair/buyback/internal/store"
)

// Quoter answers customer quote requests.
type Quoter interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (*pricing.Quote, error)
}

// MaxPricer returns headline "up to" prices.
type MaxPricer interface {
	MaxPrice(ctx context.Context, modelName string) float64
	MaxPrices(ctx context.Context, names []string) map[string]float64
}

// Recalculator refreshes cached offers.
type Recalculator interface {
	Run(ctx context.Context) (*pricing.RecalcResult, error)
}

// Uploader ingests an uploaded CSV price sheet.
type Uploader interface {
	Run(ctx context.Context, source string, r io.Reader) (*ingest.Result, error)
}

// MarginSettings reads and replaces the stored margin document.
type MarginSettings interface {
	Stored(ctx context.Context) (model.MarginConfig, bool, error)
	Save(ctx context.Context, cfg model.MarginConfig) error
}

// AdminStore is the part of the price store the admin endpoints touch.
type AdminStore interface {
	GetPriceRowByID(ctx context.Context, id string) (*model.PriceRow, error)
	SetOverrides(ctx context.Context, id string, overrides model.GradePrices) error
	SetActive(ctx context.Context, id string, active bool) error
	ListUpdateLogs(ctx context.Context, filter store.LogFilter) ([]model.PricingUpdateLog, error)
	Ping(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	// MaxUploadBytes caps price sheet uploads. Default 20 MiB.
	MaxUploadBytes int64
	// DefaultSource names uploads that do not pass ?source=.
	DefaultSource string
}

// Server holds the handlers' dependencies.
type Server struct {
	quotes  Quoter
	prices  MaxPricer
	recalc  Recalculator
	uploads Uploader
	margins MarginSettings
	store   AdminStore
	opts    Options
	log     *zap.Logger
	started time.Time
}

// New creates a Server.
func New(quotes Quoter, prices MaxPricer, recalc Recalculator, uploads Uploader,
	margins MarginSettings, st AdminStore, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if opts.DefaultSource == "" {
		opts.DefaultSource = "upload"
	}
	return &Server{
		quotes:  quotes,
		prices:  prices,
		recalc:  recalc,
		uploads: uploads,
		margins: margins,
		store:   st,
		opts:    opts,
		log:     zap.L().With(zap.String("component", "api")),
		started: time.Now(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(metrics)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.opts.RateLimitRPS > 0 {
			r.Use(rateLimit(s.opts.RateLimitRPS, s.opts.RateLimitBurst))
		}

		r.Post("/quote", s.handleQuote)
		r.Get("/max-price", s.handleMaxPrice)
		r.Post("/max-price", s.handleMaxPrices)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/margins", s.handleGetMargins)
			r.Put("/margins", s.handlePutMargins)

			r.Post("/pricing/upload", s.handleUpload)
			r.Post("/pricing/recalculate", s.handleRecalculate)
			r.Get("/pricing/logs", s.handleLogs)
			r.Put("/pricing/rows/{id}/overrides", s.handleSetOverrides)
			r.Delete("/pricing/rows/{id}", s.handleDeactivate)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
