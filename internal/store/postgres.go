package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fixpoint-repair/buyback/internal/db"
	"github.com/fixpoint-repair/buyback/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS price_rows (
		id                   TEXT PRIMARY KEY,
		model                TEXT NOT NULL,
		device_type          TEXT NOT NULL,
		model_name           TEXT NOT NULL,
		storage              TEXT NOT NULL,
		network              TEXT NOT NULL,
		series               TEXT,
		price_grade_a        DOUBLE PRECISION,
		price_grade_b        DOUBLE PRECISION,
		price_grade_c        DOUBLE PRECISION,
		price_grade_d        DOUBLE PRECISION,
		price_doa            DOUBLE PRECISION,
		price_swap           DOUBLE PRECISION,
		override_grade_a     DOUBLE PRECISION,
		override_grade_b     DOUBLE PRECISION,
		override_grade_c     DOUBLE PRECISION,
		override_grade_d     DOUBLE PRECISION,
		override_doa         DOUBLE PRECISION,
		offer_grade_a        DOUBLE PRECISION,
		offer_grade_b        DOUBLE PRECISION,
		offer_grade_c        DOUBLE PRECISION,
		offer_grade_d        DOUBLE PRECISION,
		offer_doa            DOUBLE PRECISION,
		offers_calculated_at TIMESTAMPTZ,
		is_active            BOOLEAN NOT NULL DEFAULT true,
		last_updated         TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (model, network)
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pricing_update_logs (
		id           TEXT PRIMARY KEY,
		source       TEXT NOT NULL,
		rows_added   INTEGER NOT NULL DEFAULT 0,
		rows_updated INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		errors       TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_rows_lookup ON price_rows(is_active, storage, network)`,
	`CREATE INDEX IF NOT EXISTS idx_pricing_update_logs_created_at ON pricing_update_logs(created_at)`,
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	err := db.Tx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range postgresMigrations {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetPriceRow(ctx context.Context, modelKey, network string) (*model.PriceRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+priceColumns+` FROM price_rows WHERE model = $1 AND network = $2`,
		modelKey, network,
	)
	r, err := scanPriceRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get price row %s %s", modelKey, network)
	}
	return r, nil
}

func (s *PostgresStore) GetPriceRowByID(ctx context.Context, id string) (*model.PriceRow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+priceColumns+` FROM price_rows WHERE id = $1`, id)
	r, err := scanPriceRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get price row %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListActiveRows(ctx context.Context, filter RowFilter) ([]model.PriceRow, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	where = append(where, "is_active")
	if filter.Storage != "" {
		add("storage = $%d", filter.Storage)
	}
	if filter.Network != "" {
		add("network = $%d", filter.Network)
	}
	if filter.ModelNameContains != "" {
		add(`model_name ILIKE $%d ESCAPE '\'`, containsPattern(filter.ModelNameContains))
	}
	args = append(args, limitOr(filter.Limit, defaultListLimit))
	query := fmt.Sprintf(`SELECT %s FROM price_rows WHERE %s ORDER BY model_name, model LIMIT $%d`,
		priceColumns, strings.Join(where, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active rows")
	}
	defer rows.Close()

	var out []model.PriceRow
	for rows.Next() {
		r, err := scanPriceRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan price row")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate price rows")
}

func (s *PostgresStore) InsertPriceRow(ctx context.Context, r *model.PriceRow) error {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_rows (`+priceColumns+`) VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			 $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`,
		r.ID, r.Model, r.DeviceType, r.ModelName, r.Storage, r.Network, nullable(r.Series),
		r.Prices.GradeA, r.Prices.GradeB, r.Prices.GradeC, r.Prices.GradeD, r.Prices.DOA, r.PriceSwap,
		r.Overrides.GradeA, r.Overrides.GradeB, r.Overrides.GradeC, r.Overrides.GradeD, r.Overrides.DOA,
		r.Offers.GradeA, r.Offers.GradeB, r.Offers.GradeC, r.Offers.GradeD, r.Offers.DOA,
		r.OffersCalculatedAt, r.IsActive, r.LastUpdated, r.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert price row %s", r.Model)
}

func (s *PostgresStore) UpdatePrices(ctx context.Context, r *model.PriceRow) error {
	r.LastUpdated = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_rows SET device_type = $1, model_name = $2, storage = $3, series = $4,
			price_grade_a = $5, price_grade_b = $6, price_grade_c = $7, price_grade_d = $8, price_doa = $9, price_swap = $10,
			last_updated = $11
		 WHERE id = $12`,
		r.DeviceType, r.ModelName, r.Storage, nullable(r.Series),
		r.Prices.GradeA, r.Prices.GradeB, r.Prices.GradeC, r.Prices.GradeD, r.Prices.DOA, r.PriceSwap,
		r.LastUpdated, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update prices %s", r.ID)
	}
	return checkTag(tag.RowsAffected(), "price row", r.ID)
}

func (s *PostgresStore) UpdateOffers(ctx context.Context, id string, offers model.GradePrices, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_rows SET offer_grade_a = $1, offer_grade_b = $2, offer_grade_c = $3, offer_grade_d = $4, offer_doa = $5,
			offers_calculated_at = $6
		 WHERE id = $7`,
		offers.GradeA, offers.GradeB, offers.GradeC, offers.GradeD, offers.DOA, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update offers %s", id)
	}
	return checkTag(tag.RowsAffected(), "price row", id)
}

func (s *PostgresStore) SetOverrides(ctx context.Context, id string, o model.GradePrices) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_rows SET override_grade_a = $1, override_grade_b = $2, override_grade_c = $3, override_grade_d = $4, override_doa = $5
		 WHERE id = $6`,
		o.GradeA, o.GradeB, o.GradeC, o.GradeD, o.DOA, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set overrides %s", id)
	}
	return checkTag(tag.RowsAffected(), "price row", id)
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE price_rows SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set active %s", id)
	}
	return checkTag(tag.RowsAffected(), "price row", id)
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return value, nil
}

func (s *PostgresStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: put setting %s", key)
}

func (s *PostgresStore) InsertUpdateLog(ctx context.Context, l *model.PricingUpdateLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pricing_update_logs (`+logColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.Source, l.RowsAdded, l.RowsUpdated, string(l.Status), nullable(l.Errors), l.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert update log")
}

func (s *PostgresStore) ListUpdateLogs(ctx context.Context, filter LogFilter) ([]model.PricingUpdateLog, error) {
	query := `SELECT ` + logColumns + ` FROM pricing_update_logs WHERE true`
	var args []any
	if filter.Source != "" {
		args = append(args, filter.Source)
		query += fmt.Sprintf(` AND source = $%d`, len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	args = append(args, limitOr(filter.Limit, 50))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list update logs")
	}
	defer rows.Close()

	var out []model.PricingUpdateLog
	for rows.Next() {
		l, err := scanUpdateLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan update log")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate update logs")
}

func checkTag(n int64, entity, id string) error {
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
