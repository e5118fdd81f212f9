package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fixpoint-repair/buyback/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS price_rows (
	id                   TEXT PRIMARY KEY,
	model                TEXT NOT NULL,
	device_type          TEXT NOT NULL,
	model_name           TEXT NOT NULL,
	storage              TEXT NOT NULL,
	network              TEXT NOT NULL,
	series               TEXT,
	price_grade_a        REAL,
	price_grade_b        REAL,
	price_grade_c        REAL,
	price_grade_d        REAL,
	price_doa            REAL,
	price_swap           REAL,
	override_grade_a     REAL,
	override_grade_b     REAL,
	override_grade_c     REAL,
	override_grade_d     REAL,
	override_doa         REAL,
	offer_grade_a        REAL,
	offer_grade_b        REAL,
	offer_grade_c        REAL,
	offer_grade_d        REAL,
	offer_doa            REAL,
	offers_calculated_at DATETIME,
	is_active            INTEGER NOT NULL DEFAULT 1,
	last_updated         DATETIME NOT NULL,
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pricing_update_logs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	rows_added   INTEGER NOT NULL DEFAULT 0,
	rows_updated INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	errors       TEXT,
	created_at   DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_price_rows_model_network ON price_rows(model, network);
CREATE INDEX IF NOT EXISTS idx_price_rows_lookup ON price_rows(is_active, storage, network);
CREATE INDEX IF NOT EXISTS idx_pricing_update_logs_created_at ON pricing_update_logs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetPriceRow(ctx context.Context, modelKey, network string) (*model.PriceRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+priceColumns+` FROM price_rows WHERE model = ? AND network = ?`,
		modelKey, network,
	)
	r, err := scanPriceRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get price row %s %s", modelKey, network)
	}
	return r, nil
}

func (s *SQLiteStore) GetPriceRowByID(ctx context.Context, id string) (*model.PriceRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+priceColumns+` FROM price_rows WHERE id = ?`, id)
	r, err := scanPriceRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get price row %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListActiveRows(ctx context.Context, filter RowFilter) ([]model.PriceRow, error) {
	query := `SELECT ` + priceColumns + ` FROM price_rows WHERE is_active = 1`
	var args []any
	if filter.Storage != "" {
		query += ` AND storage = ?`
		args = append(args, filter.Storage)
	}
	if filter.Network != "" {
		query += ` AND network = ?`
		args = append(args, filter.Network)
	}
	if filter.ModelNameContains != "" {
		// LIKE is case-insensitive for ASCII in SQLite.
		query += ` AND model_name LIKE ? ESCAPE '\'`
		args = append(args, containsPattern(filter.ModelNameContains))
	}
	query += ` ORDER BY model_name, model LIMIT ?`
	args = append(args, limitOr(filter.Limit, defaultListLimit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active rows")
	}
	defer rows.Close()

	var out []model.PriceRow
	for rows.Next() {
		r, err := scanPriceRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price row")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate price rows")
}

func (s *SQLiteStore) InsertPriceRow(ctx context.Context, r *model.PriceRow) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.LastUpdated.IsZero() {
		r.LastUpdated = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_rows (`+priceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Model, r.DeviceType, r.ModelName, r.Storage, r.Network, nullable(r.Series),
		r.Prices.GradeA, r.Prices.GradeB, r.Prices.GradeC, r.Prices.GradeD, r.Prices.DOA, r.PriceSwap,
		r.Overrides.GradeA, r.Overrides.GradeB, r.Overrides.GradeC, r.Overrides.GradeD, r.Overrides.DOA,
		r.Offers.GradeA, r.Offers.GradeB, r.Offers.GradeC, r.Offers.GradeD, r.Offers.DOA,
		r.OffersCalculatedAt, r.IsActive, r.LastUpdated, r.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert price row %s", r.Model)
}

func (s *SQLiteStore) UpdatePrices(ctx context.Context, r *model.PriceRow) error {
	r.LastUpdated = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_rows SET device_type = ?, model_name = ?, storage = ?, series = ?,
			price_grade_a = ?, price_grade_b = ?, price_grade_c = ?, price_grade_d = ?, price_doa = ?, price_swap = ?,
			last_updated = ?
		 WHERE id = ?`,
		r.DeviceType, r.ModelName, r.Storage, nullable(r.Series),
		r.Prices.GradeA, r.Prices.GradeB, r.Prices.GradeC, r.Prices.GradeD, r.Prices.DOA, r.PriceSwap,
		r.LastUpdated, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update prices %s", r.ID)
	}
	return checkRowsAffected(res, "price row", r.ID)
}

func (s *SQLiteStore) UpdateOffers(ctx context.Context, id string, offers model.GradePrices, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_rows SET offer_grade_a = ?, offer_grade_b = ?, offer_grade_c = ?, offer_grade_d = ?, offer_doa = ?,
			offers_calculated_at = ?
		 WHERE id = ?`,
		offers.GradeA, offers.GradeB, offers.GradeC, offers.GradeD, offers.DOA, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update offers %s", id)
	}
	return checkRowsAffected(res, "price row", id)
}

func (s *SQLiteStore) SetOverrides(ctx context.Context, id string, o model.GradePrices) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_rows SET override_grade_a = ?, override_grade_b = ?, override_grade_c = ?, override_grade_d = ?, override_doa = ?
		 WHERE id = ?`,
		o.GradeA, o.GradeB, o.GradeC, o.GradeD, o.DOA, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set overrides %s", id)
	}
	return checkRowsAffected(res, "price row", id)
}

func (s *SQLiteStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE price_rows SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set active %s", id)
	}
	return checkRowsAffected(res, "price row", id)
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return []byte(value), nil
}

func (s *SQLiteStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put setting %s", key)
}

func (s *SQLiteStore) InsertUpdateLog(ctx context.Context, l *model.PricingUpdateLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pricing_update_logs (`+logColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Source, l.RowsAdded, l.RowsUpdated, string(l.Status), nullable(l.Errors), l.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert update log")
}

func (s *SQLiteStore) ListUpdateLogs(ctx context.Context, filter LogFilter) ([]model.PricingUpdateLog, error) {
	query := `SELECT ` + logColumns + ` FROM pricing_update_logs WHERE 1 = 1`
	var args []any
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit, 50))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list update logs")
	}
	defer rows.Close()

	var out []model.PricingUpdateLog
	for rows.Next() {
		l, err := scanUpdateLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan update log")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate update logs")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
