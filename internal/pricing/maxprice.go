package pricing

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fixpoint-repair/buyback/internal/catalog"
	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/store"
)

var maxPriceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "buyback_max_price_cache_misses_total",
	Help: "Max-price rows that had neither override nor cached offer",
})

// Aggregator computes the "up to $X" figure for a model family.
type Aggregator struct {
	rows        RowReader
	margins     MarginSource
	catalog     *catalog.Catalog
	concurrency int
	log         *zap.Logger
}

// NewAggregator creates an Aggregator. concurrency bounds MaxPrices; values
// below 1 mean 1.
func NewAggregator(rows RowReader, margins MarginSource, cat *catalog.Catalog, concurrency int) *Aggregator {
	if cat == nil {
		cat = catalog.New()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Aggregator{
		rows:        rows,
		margins:     margins,
		catalog:     cat,
		concurrency: concurrency,
		log:         zap.L().With(zap.String("component", "maxprice")),
	}
}

// MaxPrice returns the highest Grade A offer across the unlocked storage
// variants of modelName, or 0 when nothing matches. Store failures are
// logged and also yield 0.
func (a *Aggregator) MaxPrice(ctx context.Context, modelName string) float64 {
	modelName = strings.Join(strings.Fields(modelName), " ")
	if modelName == "" {
		return 0
	}
	descriptor := a.catalog.Descriptor(modelName)

	rows, err := a.rows.ListActiveRows(ctx, store.RowFilter{
		Network:           model.NetworkUnlocked,
		ModelNameContains: descriptor,
		Limit:             store.NoLimit,
	})
	if err != nil {
		a.log.Error("max price lookup failed", zap.String("model", modelName), zap.Error(err))
		return 0
	}

	var cfg *model.MarginConfig
	var best float64
	for _, r := range rows {
		if r.Network != model.NetworkUnlocked || !catalog.EqualFold(a.catalog.Descriptor(r.ModelName), descriptor) {
			continue
		}
		price, ok := a.gradeAPrice(ctx, r, &cfg)
		if ok && price > best {
			best = price
		}
	}
	return best
}

// gradeAPrice resolves the Grade A figure for one row: override, then cached
// offer, then a live calculation. cfg is loaded on first use.
func (a *Aggregator) gradeAPrice(ctx context.Context, r model.PriceRow, cfg **model.MarginConfig) (float64, bool) {
	if o := r.Overrides.GradeA; o != nil {
		return *o, true
	}
	if o := r.Offers.GradeA; o != nil {
		return *o, true
	}
	if r.Prices.GradeA == nil {
		return 0, false
	}

	maxPriceCacheMisses.Inc()
	a.log.Warn("cached offer missing, calculating live",
		zap.String("model", r.Model),
		zap.String("id", r.ID),
	)
	if *cfg == nil {
		c := a.margins.Load(ctx)
		*cfg = &c
	}
	return CalculateOfferPrice(*r.Prices.GradeA, model.GradeA, r.Series, **cfg), true
}

// MaxPrices runs MaxPrice for each name with bounded concurrency. Duplicate
// names are computed once.
func (a *Aggregator) MaxPrices(ctx context.Context, names []string) map[string]float64 {
	out := make(map[string]float64, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		g.Go(func() error {
			v := a.MaxPrice(gctx, name)
			mu.Lock()
			out[name] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
