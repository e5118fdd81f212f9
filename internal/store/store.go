package store

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fixpoint-repair/buyback/internal/model"
)

// ErrNotFound is returned by mutations that match no row.
var ErrNotFound = eris.New("not found")

// RowFilter narrows ListActiveRows. Empty fields match everything.
type RowFilter struct {
	Storage string `json:"storage,omitempty"`
	Network string `json:"network,omitempty"`
	// ModelNameContains is a case-insensitive substring match on model_name.
	ModelNameContains string `json:"modelNameContains,omitempty"`
	Limit             int    `json:"limit,omitempty"`
}

// LogFilter narrows ListUpdateLogs.
type LogFilter struct {
	Source string    `json:"source,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// Store defines the persistence interface for the pricing engine.
type Store interface {
	// Price rows
	GetPriceRow(ctx context.Context, modelKey, network string) (*model.PriceRow, error)
	GetPriceRowByID(ctx context.Context, id string) (*model.PriceRow, error)
	ListActiveRows(ctx context.Context, filter RowFilter) ([]model.PriceRow, error)
	InsertPriceRow(ctx context.Context, row *model.PriceRow) error
	UpdatePrices(ctx context.Context, row *model.PriceRow) error
	UpdateOffers(ctx context.Context, id string, offers model.GradePrices, at time.Time) error
	SetOverrides(ctx context.Context, id string, overrides model.GradePrices) error
	SetActive(ctx context.Context, id string, active bool) error

	// Settings documents
	GetSetting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error

	// Audit log
	InsertUpdateLog(ctx context.Context, entry *model.PricingUpdateLog) error
	ListUpdateLogs(ctx context.Context, filter LogFilter) ([]model.PricingUpdateLog, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// priceColumns is the shared select list for price rows, in scan order.
const priceColumns = `id, model, device_type, model_name, storage, network, series,
	price_grade_a, price_grade_b, price_grade_c, price_grade_d, price_doa, price_swap,
	override_grade_a, override_grade_b, override_grade_c, override_grade_d, override_doa,
	offer_grade_a, offer_grade_b, offer_grade_c, offer_grade_d, offer_doa,
	offers_calculated_at, is_active, last_updated, created_at`

const logColumns = `id, source, rows_added, rows_updated, status, errors, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanPriceRow(row scannable) (*model.PriceRow, error) {
	var r model.PriceRow
	var series *string
	err := row.Scan(
		&r.ID, &r.Model, &r.DeviceType, &r.ModelName, &r.Storage, &r.Network, &series,
		&r.Prices.GradeA, &r.Prices.GradeB, &r.Prices.GradeC, &r.Prices.GradeD, &r.Prices.DOA, &r.PriceSwap,
		&r.Overrides.GradeA, &r.Overrides.GradeB, &r.Overrides.GradeC, &r.Overrides.GradeD, &r.Overrides.DOA,
		&r.Offers.GradeA, &r.Offers.GradeB, &r.Offers.GradeC, &r.Offers.GradeD, &r.Offers.DOA,
		&r.OffersCalculatedAt, &r.IsActive, &r.LastUpdated, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if series != nil {
		r.Series = *series
	}
	return &r, nil
}

func scanUpdateLog(row scannable) (*model.PricingUpdateLog, error) {
	var l model.PricingUpdateLog
	var status string
	var errs *string
	if err := row.Scan(&l.ID, &l.Source, &l.RowsAdded, &l.RowsUpdated, &status, &errs, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Status = model.UpdateStatus(status)
	if errs != nil {
		l.Errors = *errs
	}
	return &l, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const defaultListLimit = 1000

// NoLimit lifts the default ListActiveRows cap for full scans.
const NoLimit = math.MaxInt32

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching s literally anywhere.
// Queries using it must declare ESCAPE '\'.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(s)) + "%"
}

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
