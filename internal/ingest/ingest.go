// Package ingest loads wholesale price sheets into the price store.
//
// A sheet has a header row naming a Model column and one column per grade.
// Each data row is parsed into a device configuration, its grade cells are
// read as optional prices, and the result is upserted by (model, network).
// Bad rows are collected and reported; they never abort the run.
package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/catalog"
	"github.com/fixpoint-repair/buyback/internal/fetcher"
	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/resilience"
)

var (
	ingestRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buyback_ingest_rows_total",
			Help: "Price sheet rows partitioned by outcome",
		},
		[]string{"outcome"},
	)
	ingestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buyback_ingest_runs_total",
			Help: "Ingestion runs partitioned by final status",
		},
		[]string{"status"},
	)
)

// Store is the part of the price store ingestion writes to.
type Store interface {
	GetPriceRow(ctx context.Context, modelKey, network string) (*model.PriceRow, error)
	InsertPriceRow(ctx context.Context, row *model.PriceRow) error
	UpdatePrices(ctx context.Context, row *model.PriceRow) error
	InsertUpdateLog(ctx context.Context, entry *model.PricingUpdateLog) error
}

// Result summarises one ingestion run.
type Result struct {
	Source      string             `json:"source"`
	RowsAdded   int                `json:"rowsAdded"`
	RowsUpdated int                `json:"rowsUpdated"`
	RowsSkipped int                `json:"rowsSkipped"`
	Errors      []string           `json:"errors"`
	Status      model.UpdateStatus `json:"status"`
	LogID       string             `json:"logId,omitempty"`
}

func (r *Result) written() int { return r.RowsAdded + r.RowsUpdated }

// Ingester runs price sheet imports.
type Ingester struct {
	st        Store
	catalog   *catalog.Catalog
	http      fetcher.Downloader
	ftp       fetcher.Downloader
	sheetName string
	csvOpts   fetcher.CSVOptions
	log       *zap.Logger
}

// Option customises an Ingester.
type Option func(*Ingester)

// WithHTTP sets the downloader for http(s) locations.
func WithHTTP(d fetcher.Downloader) Option { return func(i *Ingester) { i.http = d } }

// WithFTP sets the downloader for ftp locations.
func WithFTP(d fetcher.Downloader) Option { return func(i *Ingester) { i.ftp = d } }

// WithSheetName picks the worksheet read from .xlsx sheets.
func WithSheetName(name string) Option { return func(i *Ingester) { i.sheetName = name } }

// New creates an Ingester. A nil catalog uses the default device families.
func New(st Store, cat *catalog.Catalog, opts ...Option) *Ingester {
	if cat == nil {
		cat = catalog.New()
	}
	i := &Ingester{
		st:      st,
		catalog: cat,
		csvOpts: fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true},
		log:     zap.L().With(zap.String("component", "ingest")),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// rowSource yields sheet rows, header first. It returns io.EOF at the end.
type rowSource interface {
	Next() (line int, fields []string, err error)
}

// Run ingests a CSV sheet. A sheet that cannot be read at all is recorded as
// a failed run and returned without error; a store write failure is
// recorded and returned as the error.
func (i *Ingester) Run(ctx context.Context, source string, r io.Reader) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	recCh, errCh := fetcher.StreamCSV(ctx, r, i.csvOpts)
	return i.run(ctx, source, &csvSource{recs: recCh, errs: errCh})
}

// RunRows ingests an already tabulated sheet whose first row is the header.
func (i *Ingester) RunRows(ctx context.Context, source string, rows [][]string) (*Result, error) {
	return i.run(ctx, source, &sliceSource{rows: rows})
}

// RunSource ingests the sheet at location: a local .csv or .xlsx path, an
// http(s) URL or an ftp URL.
func (i *Ingester) RunSource(ctx context.Context, source, location string) (*Result, error) {
	if source == "" {
		source = filepath.Base(location)
	}
	format := fetcher.DetectFormat(location)

	var body io.ReadCloser
	var err error
	switch scheme := fetcher.Scheme(location); scheme {
	case "http", "https":
		if i.http == nil {
			err = eris.Errorf("ingest: no http fetcher configured for %s", location)
			break
		}
		body, err = i.http.Download(ctx, location)
	case "ftp":
		if i.ftp == nil {
			err = eris.Errorf("ingest: no ftp fetcher configured for %s", location)
			break
		}
		body, err = i.ftp.Download(ctx, location)
	case "", "file":
		path := strings.TrimPrefix(location, "file://")
		if format == fetcher.FormatXLSX {
			rows, xerr := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: i.sheetName})
			if xerr != nil {
				return i.abort(ctx, source, eris.Wrapf(xerr, "ingest: read %s", path))
			}
			return i.RunRows(ctx, source, rows)
		}
		body, err = os.Open(path)
	default:
		err = eris.Errorf("ingest: unsupported location scheme %q", scheme)
	}
	if err != nil {
		return i.abort(ctx, source, eris.Wrapf(err, "ingest: open %s", location))
	}
	defer body.Close() //nolint:errcheck

	if format == fetcher.FormatXLSX {
		data, rerr := io.ReadAll(body)
		if rerr != nil {
			return i.abort(ctx, source, eris.Wrapf(rerr, "ingest: read %s", location))
		}
		rows, xerr := fetcher.ReadXLSXBytes(data, fetcher.XLSXOptions{SheetName: i.sheetName})
		if xerr != nil {
			return i.abort(ctx, source, eris.Wrapf(xerr, "ingest: decode %s", location))
		}
		return i.RunRows(ctx, source, rows)
	}
	return i.Run(ctx, source, body)
}

// abort records a run that failed before any row was read.
func (i *Ingester) abort(ctx context.Context, source string, err error) (*Result, error) {
	res := &Result{Source: source, Errors: []string{err.Error()}, Status: model.UpdateStatusFailed}
	i.finish(ctx, res)
	return res, err
}

func (i *Ingester) run(ctx context.Context, source string, src rowSource) (*Result, error) {
	start := time.Now()
	res := &Result{Source: source}

	_, header, err := src.Next()
	switch {
	case err == io.EOF:
		res.Errors = append(res.Errors, "sheet is empty")
		res.Status = model.UpdateStatusFailed
		i.finish(ctx, res)
		return res, nil
	case err != nil:
		return i.unreadable(ctx, res, err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		res.Status = model.UpdateStatusFailed
		i.finish(ctx, res)
		return res, nil
	}

	for {
		line, fields, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return i.unreadable(ctx, res, err)
		}

		row, perr := cols.parse(i.catalog, line, fields)
		switch {
		case perr != nil:
			ingestRows.WithLabelValues("error").Inc()
			res.Errors = append(res.Errors, perr.Error())
			continue
		case row == nil:
			ingestRows.WithLabelValues("skipped").Inc()
			res.RowsSkipped++
			continue
		}

		added, werr := i.upsert(ctx, row)
		if werr != nil {
			werr = eris.Wrapf(werr, "ingest: line %d", line)
			res.Errors = append(res.Errors, werr.Error())
			res.Status = model.UpdateStatusFailed
			i.finish(ctx, res)
			return res, werr
		}
		if added {
			ingestRows.WithLabelValues("added").Inc()
			res.RowsAdded++
		} else {
			ingestRows.WithLabelValues("updated").Inc()
			res.RowsUpdated++
		}
	}

	res.Status = statusFor(res)
	i.finish(ctx, res)
	i.log.Info("price sheet ingested",
		zap.String("source", source),
		zap.Int("added", res.RowsAdded),
		zap.Int("updated", res.RowsUpdated),
		zap.Int("skipped", res.RowsSkipped),
		zap.Int("errors", len(res.Errors)),
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// unreadable ends a run whose sheet stopped yielding rows. A cancelled
// context is returned to the caller; a broken sheet is only recorded.
func (i *Ingester) unreadable(ctx context.Context, res *Result, err error) (*Result, error) {
	res.Errors = append(res.Errors, err.Error())
	res.Status = model.UpdateStatusFailed
	i.finish(ctx, res)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, eris.Wrap(ctxErr, "ingest: cancelled")
	}
	return res, nil
}

func statusFor(res *Result) model.UpdateStatus {
	switch {
	case len(res.Errors) == 0:
		return model.UpdateStatusSuccess
	case res.written() > 0:
		return model.UpdateStatusPartial
	default:
		return model.UpdateStatusFailed
	}
}

// upsert writes row, reporting whether it was newly inserted. Transient
// store errors (a busy SQLite file, a dropped connection) are retried.
func (i *Ingester) upsert(ctx context.Context, row *model.PriceRow) (bool, error) {
	retry := resilience.Retry{Attempts: 3, Backoff: 50 * time.Millisecond, Op: "upsert " + row.Model}
	return resilience.Do(ctx, retry, func(ctx context.Context) (bool, error) {
		existing, err := i.st.GetPriceRow(ctx, row.Model, row.Network)
		if err != nil {
			return false, err
		}
		if existing == nil {
			row.IsActive = true
			return true, i.st.InsertPriceRow(ctx, row)
		}

		existing.DeviceType = row.DeviceType
		existing.ModelName = row.ModelName
		existing.Storage = row.Storage
		existing.Series = row.Series
		existing.Prices = row.Prices
		existing.PriceSwap = row.PriceSwap
		return false, i.st.UpdatePrices(ctx, existing)
	})
}

// finish writes the audit entry for res. The entry is written even when the
// run's context has been cancelled.
func (i *Ingester) finish(ctx context.Context, res *Result) {
	ingestRuns.WithLabelValues(string(res.Status)).Inc()

	entry := &model.PricingUpdateLog{
		Source:      res.Source,
		RowsAdded:   res.RowsAdded,
		RowsUpdated: res.RowsUpdated,
		Status:      res.Status,
		Errors:      strings.Join(res.Errors, "\n"),
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := i.st.InsertUpdateLog(logCtx, entry); err != nil {
		i.log.Error("ingest: write update log", zap.String("source", res.Source), zap.Error(err))
		return
	}
	res.LogID = entry.ID
	if res.Status == model.UpdateStatusFailed {
		i.log.Warn("price sheet ingestion failed",
			zap.String("source", res.Source),
			zap.Strings("errors", res.Errors),
		)
	}
}

type csvSource struct {
	recs <-chan fetcher.Record
	errs <-chan error
}

func (s *csvSource) Next() (int, []string, error) {
	rec, ok := <-s.recs
	if ok {
		return rec.Line, rec.Fields, nil
	}
	if err, ok := <-s.errs; ok && err != nil {
		return 0, nil, err
	}
	return 0, nil, io.EOF
}

type sliceSource struct {
	rows [][]string
	pos  int
}

func (s *sliceSource) Next() (int, []string, error) {
	if s.pos >= len(s.rows) {
		return 0, nil, io.EOF
	}
	s.pos++
	return s.pos, s.rows[s.pos-1], nil
}
