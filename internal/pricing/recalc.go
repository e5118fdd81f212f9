package pricing

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/store"
)

// RecalcSource is the audit log source recorded for recalculation runs.
const RecalcSource = "recalculation"

var recalcDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "buyback_recalculation_duration_seconds",
	Help:    "Wall time of batch offer recalculation runs",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
})

// RecalcStore is what batch recalculation needs from the price store.
type RecalcStore interface {
	ListActiveRows(ctx context.Context, filter store.RowFilter) ([]model.PriceRow, error)
	UpdateOffers(ctx context.Context, id string, offers model.GradePrices, at time.Time) error
	InsertUpdateLog(ctx context.Context, entry *model.PricingUpdateLog) error
}

// RecalcResult reports a recalculation run.
type RecalcResult struct {
	Updated int `json:"updated"`
}

// Recalculator refreshes the cached offer columns of every active row.
type Recalculator struct {
	st      RecalcStore
	margins MarginSource
	now     func() time.Time
	log     *zap.Logger
}

// NewRecalculator creates a Recalculator.
func NewRecalculator(st RecalcStore, margins MarginSource) *Recalculator {
	return &Recalculator{
		st:      st,
		margins: margins,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "recalc")),
	}
}

// Run loads the margin configuration once and rewrites offers row by row.
// It is not transactional: on a write failure the rows already written keep
// their new offers, a failed log entry is recorded and the error returned.
func (r *Recalculator) Run(ctx context.Context) (*RecalcResult, error) {
	start := time.Now()
	defer func() { recalcDuration.Observe(time.Since(start).Seconds()) }()

	cfg := r.margins.Load(ctx)
	rows, err := r.st.ListActiveRows(ctx, store.RowFilter{Limit: store.NoLimit})
	if err != nil {
		err = eris.Wrap(err, "recalc: list active rows")
		r.record(ctx, 0, err)
		return nil, err
	}

	res := &RecalcResult{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			r.record(ctx, res.Updated, err)
			return res, eris.Wrap(err, "recalc: interrupted")
		}
		offers := CalculateOffers(row.Prices, row.Series, cfg)
		if err := r.st.UpdateOffers(ctx, row.ID, offers, r.now().UTC()); err != nil {
			err = eris.Wrapf(err, "recalc: update offers for %s", row.Model)
			r.record(ctx, res.Updated, err)
			return res, err
		}
		res.Updated++
	}

	r.record(ctx, res.Updated, nil)
	r.log.Info("offers recalculated",
		zap.Int("updated", res.Updated),
		zap.String("mode", string(cfg.Mode())),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// record writes the audit entry. A failure to log is itself only logged so
// it never masks the run's own error.
func (r *Recalculator) record(ctx context.Context, updated int, runErr error) {
	entry := &model.PricingUpdateLog{
		Source:      RecalcSource,
		RowsUpdated: updated,
		Status:      model.UpdateStatusSuccess,
	}
	if runErr != nil {
		entry.Status = model.UpdateStatusFailed
		entry.Errors = runErr.Error()
		r.log.Error("recalculation failed", zap.Int("updated", updated), zap.Error(runErr))
	}
	// Use a fresh context so a cancelled run still gets its log entry.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.st.InsertUpdateLog(logCtx, entry); err != nil {
		r.log.Warn("recalc: write update log", zap.Error(err))
	}
}
