package pricing

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/catalog"
	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/store"
)

var (
	quotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buyback_quotes_total",
			Help: "Quote requests partitioned by result",
		},
		[]string{"result"},
	)
	quoteLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buyback_quote_lookups_total",
			Help: "Price row resolutions partitioned by path",
		},
		[]string{"path"},
	)
)

// RowReader is the read side of the price record store.
type RowReader interface {
	GetPriceRow(ctx context.Context, modelKey, network string) (*model.PriceRow, error)
	ListActiveRows(ctx context.Context, filter store.RowFilter) ([]model.PriceRow, error)
}

// MarginSource supplies the active margin configuration.
type MarginSource interface {
	Load(ctx context.Context) model.MarginConfig
}

// QuoteRequest is a customer-facing quote request.
type QuoteRequest struct {
	Model     string `json:"model" validate:"required,max=200"`
	Storage   string `json:"storage" validate:"required,max=20"`
	Network   string `json:"network" validate:"max=50"`
	Condition string `json:"condition" validate:"required,max=50"`
}

// Quote is a resolved offer for one request.
type Quote struct {
	Row              *model.PriceRow
	Grade            model.Grade
	AtlasPrice       float64
	OfferPrice       float64
	Margin           float64
	MarginPercentage string
	IsOverride       bool
	IsSeriesOverride bool
}

// QuoteResponse is the wire envelope for a quote. On failure only Success
// and Error are set.
type QuoteResponse struct {
	Success          bool     `json:"success"`
	AtlasPrice       *float64 `json:"atlasPrice,omitempty"`
	OfferPrice       *float64 `json:"offerPrice,omitempty"`
	Margin           *float64 `json:"margin,omitempty"`
	MarginPercentage string   `json:"marginPercentage,omitempty"`
	IsOverride       bool     `json:"isOverride,omitempty"`
	IsSeriesOverride bool     `json:"isSeriesOverride,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Respond renders a Quote call's result as a response envelope. Errors that
// are not QuoteErrors are reported generically.
func Respond(q *Quote, err error) QuoteResponse {
	if err != nil {
		var qe *QuoteError
		if errors.As(err, &qe) {
			return QuoteResponse{Error: qe.Message}
		}
		return QuoteResponse{Error: "Unable to calculate price right now"}
	}
	if q == nil {
		return QuoteResponse{Error: "Unable to calculate price right now"}
	}
	return QuoteResponse{
		Success:          true,
		AtlasPrice:       model.Float(q.AtlasPrice),
		OfferPrice:       model.Float(q.OfferPrice),
		Margin:           model.Float(q.Margin),
		MarginPercentage: q.MarginPercentage,
		IsOverride:       q.IsOverride,
		IsSeriesOverride: q.IsSeriesOverride,
	}
}

// Service answers quote requests.
type Service struct {
	rows     RowReader
	margins  MarginSource
	catalog  *catalog.Catalog
	validate *validator.Validate
	log      *zap.Logger
}

// NewService creates a quote service. A nil catalog uses the default device
// families.
func NewService(rows RowReader, margins MarginSource, cat *catalog.Catalog) *Service {
	if cat == nil {
		cat = catalog.New()
	}
	return &Service{
		rows:     rows,
		margins:  margins,
		catalog:  cat,
		validate: validator.New(),
		log:      zap.L().With(zap.String("component", "quote")),
	}
}

// Quote resolves the offer for req. Recoverable failures are *QuoteError;
// anything else is a store failure.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	q, err := s.quote(ctx, req)
	switch {
	case err == nil:
		quotesTotal.WithLabelValues("ok").Inc()
	case CodeOf(err) != "":
		quotesTotal.WithLabelValues(string(CodeOf(err))).Inc()
	default:
		quotesTotal.WithLabelValues("error").Inc()
		s.log.Error("quote failed",
			zap.String("model", req.Model),
			zap.String("storage", req.Storage),
			zap.String("network", req.Network),
			zap.String("condition", req.Condition),
			zap.Error(err),
		)
	}
	return q, err
}

func (s *Service) quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &QuoteError{Code: CodeInvalidRequest, Message: "Model, storage and condition are required"}
	}

	grade, ok := GradeForCondition(req.Condition)
	if !ok {
		return nil, invalidCondition(req.Condition)
	}

	modelName := strings.Join(strings.Fields(req.Model), " ")
	storage := NormalizeStorage(req.Storage)
	network := NormalizeNetwork(req.Network)

	row, err := s.findRow(ctx, modelName, storage, network)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, pricingUnavailable("Pricing not available for %s %s %s", modelName, storage, network)
	}

	wholesale := row.Prices.Get(grade)
	if wholesale == nil {
		return nil, pricingUnavailable("Pricing not available for %s in %s condition", row.Model, req.Condition)
	}

	q := &Quote{Row: row, Grade: grade, AtlasPrice: *wholesale}
	if o := row.Overrides.Get(grade); o != nil {
		q.OfferPrice = *o
		q.Margin, _ = decimal.NewFromFloat(*wholesale).Sub(decimal.NewFromFloat(*o)).Round(2).Float64()
		q.IsOverride = true
	} else {
		offer := CalculateOffer(*wholesale, grade, row.Series, s.margins.Load(ctx))
		q.OfferPrice = offer.Price
		q.Margin = offer.Margin
		q.IsSeriesOverride = offer.SeriesApplied
	}
	q.MarginPercentage = MarginPercentage(q.Margin, q.AtlasPrice)
	return q, nil
}

// findRow tries the exact composite key, then the descriptor fallback.
// It returns nil, nil when neither path finds an active row.
func (s *Service) findRow(ctx context.Context, modelName, storage, network string) (*model.PriceRow, error) {
	key := modelName + " " + storage + " " + network
	row, err := s.rows.GetPriceRow(ctx, key, network)
	if err != nil {
		return nil, eris.Wrap(err, "quote: exact lookup")
	}
	if row != nil && row.IsActive {
		quoteLookups.WithLabelValues("exact").Inc()
		return row, nil
	}

	descriptor := s.catalog.Descriptor(modelName)
	candidates, err := s.rows.ListActiveRows(ctx, store.RowFilter{
		Storage:           storage,
		Network:           network,
		ModelNameContains: descriptor,
	})
	if err != nil {
		return nil, eris.Wrap(err, "quote: fallback lookup")
	}

	best := pickCandidate(s.catalog, candidates, descriptor)
	if best == nil {
		quoteLookups.WithLabelValues("miss").Inc()
		return nil, nil
	}
	quoteLookups.WithLabelValues("fallback").Inc()
	s.log.Debug("quote resolved by fallback",
		zap.String("requested", key),
		zap.String("matched", best.Model),
	)
	return best, nil
}

// pickCandidate keeps rows whose model name contains descriptor and orders
// them: exact descriptor match first, then shortest model name, then model.
func pickCandidate(cat *catalog.Catalog, rows []model.PriceRow, descriptor string) *model.PriceRow {
	type ranked struct {
		row   model.PriceRow
		exact bool
	}
	var matches []ranked
	for _, r := range rows {
		if !r.IsActive || !catalog.ContainsFold(r.ModelName, descriptor) {
			continue
		}
		matches = append(matches, ranked{row: r, exact: catalog.EqualFold(cat.Descriptor(r.ModelName), descriptor)})
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.exact != b.exact {
			return a.exact
		}
		if len(a.row.ModelName) != len(b.row.ModelName) {
			return len(a.row.ModelName) < len(b.row.ModelName)
		}
		return a.row.Model < b.row.Model
	})
	best := matches[0].row
	return &best
}

// NormalizeStorage uppercases a storage label and drops spaces: "128 gb" -> "128GB".
func NormalizeStorage(storage string) string {
	return strings.ToUpper(strings.Join(strings.Fields(storage), ""))
}
