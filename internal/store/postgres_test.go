package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint-repair/buyback/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

var priceColumnNames = []string{
	"id", "model", "device_type", "model_name", "storage", "network", "series",
	"price_grade_a", "price_grade_b", "price_grade_c", "price_grade_d", "price_doa", "price_swap",
	"override_grade_a", "override_grade_b", "override_grade_c", "override_grade_d", "override_doa",
	"offer_grade_a", "offer_grade_b", "offer_grade_c", "offer_grade_d", "offer_doa",
	"offers_calculated_at", "is_active", "last_updated", "created_at",
}

func mockPriceRow(rows *pgxmock.Rows, id, modelName string, gradeA *float64, offerA *float64) *pgxmock.Rows {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	none := (*float64)(nil)
	series := "15"
	return rows.AddRow(
		id, modelName+" 128GB Unlocked", "iPhone", modelName, "128GB", "Unlocked", &series,
		gradeA, none, none, none, none, none,
		none, none, none, none, none,
		offerA, none, none, none, none,
		(*time.Time)(nil), true, now, now,
	)
}

func TestPostgresStore_GetPriceRow_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM price_rows WHERE model = \$1 AND network = \$2`).
		WithArgs("iPhone 99 1TB Unlocked", "Unlocked").
		WillReturnError(pgx.ErrNoRows)

	row, err := s.GetPriceRow(context.Background(), "iPhone 99 1TB Unlocked", "Unlocked")
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPriceRow_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM price_rows WHERE model = \$1`).
		WithArgs("x", "Unlocked").
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetPriceRow(context.Background(), "x", "Unlocked")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: get price row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPriceRowByID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := mockPriceRow(pgxmock.NewRows(priceColumnNames), "row-1", "iPhone 15 Pro", model.Float(500), model.Float(440))
	mock.ExpectQuery(`FROM price_rows WHERE id = \$1`).
		WithArgs("row-1").
		WillReturnRows(rows)

	row, err := s.GetPriceRowByID(context.Background(), "row-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "iPhone 15 Pro", row.ModelName)
	assert.Equal(t, "15", row.Series)
	assert.Equal(t, 500.0, *row.Prices.GradeA)
	assert.Equal(t, 440.0, *row.Offers.GradeA)
	assert.Nil(t, row.Prices.GradeB)
	assert.True(t, row.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveRows_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(priceColumnNames)
	mockPriceRow(rows, "a", "iPhone 15 Pro", model.Float(500), nil)
	mockPriceRow(rows, "b", "iPhone 15 Pro Max", model.Float(700), nil)

	mock.ExpectQuery(`WHERE is_active AND storage = \$1 AND network = \$2 AND model_name ILIKE \$3 ESCAPE '\\' ORDER BY model_name, model LIMIT \$4`).
		WithArgs("128GB", "Unlocked", "%15 Pro%", defaultListLimit).
		WillReturnRows(rows)

	got, err := s.ListActiveRows(context.Background(), RowFilter{Storage: "128GB", Network: "Unlocked", ModelNameContains: " 15 Pro "})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveRows_EscapesWildcards(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE is_active AND model_name ILIKE \$1 ESCAPE '\\' ORDER BY`).
		WithArgs(`%15\_Pro\%%`, defaultListLimit).
		WillReturnRows(pgxmock.NewRows(priceColumnNames))

	got, err := s.ListActiveRows(context.Background(), RowFilter{ModelNameContains: "15_Pro%"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveRows_NoFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE is_active ORDER BY model_name, model LIMIT \$1`).
		WithArgs(25).
		WillReturnRows(pgxmock.NewRows(priceColumnNames))

	got, err := s.ListActiveRows(context.Background(), RowFilter{Limit: 25})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertPriceRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO price_rows`).
		WithArgs(pgxmock.AnyArg(), "iPhone 15 128GB Unlocked", "iPhone", "iPhone 15", "128GB", "Unlocked",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	row := testRow("iPhone 15", "128GB", "Unlocked")
	require.NoError(t, s.InsertPriceRow(context.Background(), row))
	assert.NotEmpty(t, row.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateOffers_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE price_rows SET offer_grade_a`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateOffers(context.Background(), "missing", model.GradePrices{}, time.Now())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetActive(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE price_rows SET is_active = \$1 WHERE id = \$2`).
		WithArgs(false, "row-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SetActive(context.Background(), "row-1", false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Settings(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \$1`).
		WithArgs("margin_settings").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("margin_settings", []byte(`{"mode":"percentage"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \$1`).
		WithArgs("margin_settings").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`{"mode":"percentage"}`)))

	v, err := s.GetSetting(ctx, "margin_settings")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.PutSetting(ctx, "margin_settings", []byte(`{"mode":"percentage"}`)))

	v, err = s.GetSetting(ctx, "margin_settings")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"percentage"}`, string(v))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLogs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO pricing_update_logs`).
		WithArgs(pgxmock.AnyArg(), "atlas", 2, 1, "partial", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	errText := "row 4: bad"
	mock.ExpectQuery(`FROM pricing_update_logs WHERE true AND source = \$1 AND created_at >= \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("atlas", since, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "rows_added", "rows_updated", "status", "errors", "created_at"}).
			AddRow("log-1", "atlas", 2, 1, "partial", &errText, since.Add(time.Hour)))

	require.NoError(t, s.InsertUpdateLog(ctx, &model.PricingUpdateLog{
		Source: "atlas", RowsAdded: 2, RowsUpdated: 1, Status: model.UpdateStatusPartial, Errors: errText,
	}))

	logs, err := s.ListUpdateLogs(ctx, LogFilter{Source: "atlas", Since: since, Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.UpdateStatusPartial, logs[0].Status)
	assert.Equal(t, errText, logs[0].Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	for range postgresMigrations {
		mock.ExpectExec(`CREATE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS price_rows`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: migrate")
	assert.NoError(t, mock.ExpectationsWereMet())
}
