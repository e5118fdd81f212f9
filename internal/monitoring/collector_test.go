package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/store"
)

// mockStore serves fixed logs and rows.
type mockStore struct {
	logs    []model.PricingUpdateLog
	rows    []model.PriceRow
	logErr  error
	rowsErr error
}

func (m *mockStore) ListUpdateLogs(_ context.Context, filter store.LogFilter) ([]model.PricingUpdateLog, error) {
	if m.logErr != nil {
		return nil, m.logErr
	}
	var out []model.PricingUpdateLog
	for _, l := range m.logs {
		if !filter.Since.IsZero() && l.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *mockStore) ListActiveRows(context.Context, store.RowFilter) ([]model.PriceRow, error) {
	return m.rows, m.rowsErr
}

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestCollector(st Store) *Collector {
	c := NewCollector(st)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	calculated := fixedNow.Add(-time.Hour)
	st := &mockStore{
		logs: []model.PricingUpdateLog{
			{Source: "atlas", Status: model.UpdateStatusSuccess, CreatedAt: fixedNow.Add(-2 * time.Hour)},
			{Source: "atlas", Status: model.UpdateStatusPartial, CreatedAt: fixedNow.Add(-3 * time.Hour)},
			{Source: "atlas", Status: model.UpdateStatusFailed, CreatedAt: fixedNow.Add(-30 * time.Minute)},
			{Source: "recalculation", Status: model.UpdateStatusSuccess, CreatedAt: fixedNow.Add(-time.Hour)},
			{Source: "recalculation", Status: model.UpdateStatusFailed, CreatedAt: fixedNow.Add(-time.Hour)},
			// Outside the 24h window.
			{Source: "atlas", Status: model.UpdateStatusFailed, CreatedAt: fixedNow.Add(-48 * time.Hour)},
		},
		rows: []model.PriceRow{
			{ // fresh
				Prices:             model.GradePrices{GradeA: model.Float(100)},
				Offers:             model.GradePrices{GradeA: model.Float(88)},
				OffersCalculatedAt: &calculated,
				LastUpdated:        calculated.Add(-time.Minute),
			},
			{ // never calculated
				Prices:      model.GradePrices{GradeA: model.Float(100)},
				LastUpdated: calculated,
			},
			{ // prices changed after the last recalculation
				Prices:             model.GradePrices{GradeA: model.Float(100)},
				Offers:             model.GradePrices{GradeA: model.Float(88)},
				OffersCalculatedAt: &calculated,
				LastUpdated:        calculated.Add(time.Minute),
			},
			{ // a priced grade without an offer
				Prices:             model.GradePrices{GradeA: model.Float(100), GradeC: model.Float(60)},
				Offers:             model.GradePrices{GradeA: model.Float(88)},
				OffersCalculatedAt: &calculated,
				LastUpdated:        calculated,
			},
			{}, // no prices at all
		},
	}

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.IngestTotal)
	assert.Equal(t, 1, snap.IngestSuccess)
	assert.Equal(t, 1, snap.IngestPartial)
	assert.Equal(t, 1, snap.IngestFailed)
	require.NotNil(t, snap.LastIngestAt)
	assert.Equal(t, fixedNow.Add(-30*time.Minute), *snap.LastIngestAt)

	assert.Equal(t, 2, snap.RecalcTotal)
	assert.Equal(t, 1, snap.RecalcFailed)

	assert.Equal(t, 5, snap.ActiveRows)
	assert.Equal(t, 3, snap.StaleOffers)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&mockStore{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.IngestTotal)
	assert.Nil(t, snap.LastIngestAt)
	assert.Zero(t, snap.ActiveRows)
}

func TestCollector_StoreErrors(t *testing.T) {
	_, err := newTestCollector(&mockStore{logErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list update logs")

	_, err = newTestCollector(&mockStore{rowsErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list active rows")
}
