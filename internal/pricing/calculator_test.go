package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fixpoint-repair/buyback/internal/model"
)

func percentConfig(m model.GradeMargins) model.MarginConfig {
	return model.MarginConfig{Policy: model.PercentagePolicy{Margins: m}}
}

func flatMargins(v float64) model.GradeMargins {
	return model.GradeMargins{GradeA: v, GradeB: v, GradeC: v, GradeD: v, DOA: v}
}

func TestCalculateOffer_Percentage(t *testing.T) {
	t.Parallel()
	cfg := percentConfig(model.GradeMargins{GradeA: 25, GradeB: 15, GradeC: 20, GradeD: 25, DOA: 30})

	o := CalculateOffer(200, model.GradeA, "", cfg)
	assert.Equal(t, 150.0, o.Price)
	assert.Equal(t, 50.0, o.Margin)
	assert.Equal(t, model.ModePercentage, o.Mode)
	assert.False(t, o.SeriesApplied)
	assert.Equal(t, "25.0", MarginPercentage(o.Margin, 200))
}

func TestCalculateOffer_RoundsToCents(t *testing.T) {
	t.Parallel()
	cfg := percentConfig(flatMargins(12))

	// 333.33 * 0.88 = 293.3304
	o := CalculateOffer(333.33, model.GradeB, "", cfg)
	assert.Equal(t, 293.33, o.Price)
	assert.Equal(t, 40.0, o.Margin)
}

func TestCalculateOffer_Tiered(t *testing.T) {
	t.Parallel()
	cfg := model.MarginConfig{Policy: model.DefaultTieredPolicy()}

	tests := []struct {
		name      string
		wholesale float64
		grade     model.Grade
		wantTier  int
		wantPrice float64
	}{
		{"floor band", 50, model.GradeA, 1, 35},
		{"just under 100", 99.99, model.GradeA, 1, 84.99},
		{"exactly 100", 100, model.GradeA, 2, 70},
		{"band 3", 300, model.GradeC, 3, 210},
		{"band 4 doa", 600, model.GradeDOA, 4, 410},
		{"top band", 750, model.GradeD, 5, 530},
		{"far above top", 5000, model.GradeA, 5, 4880},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := CalculateOffer(tt.wholesale, tt.grade, "", cfg)
			assert.Equal(t, tt.wantTier, o.Tier)
			assert.InDelta(t, tt.wantPrice, o.Price, 0.001)
			assert.Equal(t, model.ModeTiered, o.Mode)
		})
	}
}

func TestCalculateOffer_NeverNegative(t *testing.T) {
	t.Parallel()
	tiered := model.MarginConfig{Policy: model.DefaultTieredPolicy()}
	full := percentConfig(flatMargins(100))

	for _, w := range []float64{0, 0.01, 5, 14.99, 39.5, 99, 250} {
		for _, g := range model.Grades {
			assert.GreaterOrEqual(t, CalculateOfferPrice(w, g, "", tiered), 0.0, "tiered %v %s", w, g)
			assert.GreaterOrEqual(t, CalculateOfferPrice(w, g, "", full), 0.0, "percentage %v %s", w, g)
		}
	}

	// Flat $40 DOA margin on a $10 device clamps to zero; the margin is what
	// was actually kept.
	o := CalculateOffer(10, model.GradeDOA, "", tiered)
	assert.Equal(t, 0.0, o.Price)
	assert.Equal(t, 10.0, o.Margin)
}

func TestCalculateOffer_SeriesOverride(t *testing.T) {
	t.Parallel()
	overrides := map[string]model.SeriesOverride{
		"17": {Enabled: true, GradeMargins: flatMargins(10)},
		"16": {Enabled: false, GradeMargins: flatMargins(50)},
	}

	pct := percentConfig(flatMargins(25))
	pct.SeriesOverrides = overrides

	o := CalculateOffer(200, model.GradeA, "17", pct)
	assert.Equal(t, 180.0, o.Price)
	assert.True(t, o.SeriesApplied)

	o = CalculateOffer(200, model.GradeA, "16", pct)
	assert.Equal(t, 150.0, o.Price, "disabled override is ignored")
	assert.False(t, o.SeriesApplied)

	o = CalculateOffer(200, model.GradeA, "", pct)
	assert.False(t, o.SeriesApplied)

	tiered := model.MarginConfig{Policy: model.DefaultTieredPolicy(), SeriesOverrides: overrides}
	o = CalculateOffer(200, model.GradeA, "17", tiered)
	assert.Equal(t, 180.0, o.Price, "series table replaces the tiers")
	assert.Equal(t, model.ModePercentage, o.Mode)
	assert.Zero(t, o.Tier)
	assert.True(t, o.SeriesApplied)
}

func TestCalculateOffer_NoPolicyUsesDefaults(t *testing.T) {
	t.Parallel()
	o := CalculateOffer(100, model.GradeDOA, "", model.MarginConfig{})
	assert.Equal(t, 70.0, o.Price)
}

func TestCalculateOffers(t *testing.T) {
	t.Parallel()
	prices := model.GradePrices{GradeA: model.Float(400), GradeC: model.Float(200)}

	got := CalculateOffers(prices, "", percentConfig(flatMargins(25)))
	assert.Equal(t, 300.0, *got.GradeA)
	assert.Nil(t, got.GradeB)
	assert.Equal(t, 150.0, *got.GradeC)
	assert.Nil(t, got.GradeD)
	assert.Nil(t, got.DOA)
}

func TestMarginPercentage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0.0", MarginPercentage(0, 0))
	assert.Equal(t, "12.0", MarginPercentage(60, 500))
	assert.Equal(t, "33.3", MarginPercentage(100, 300))
	assert.Equal(t, "100.0", MarginPercentage(10, 10))
}

func TestGradeForCondition(t *testing.T) {
	t.Parallel()
	tests := map[string]model.Grade{
		"Like New":          model.GradeA,
		"flawless":          model.GradeA,
		"  Very   Good ":    model.GradeB,
		"Good":              model.GradeC,
		"POOR":              model.GradeD,
		"Does Not Power On": model.GradeDOA,
		"broken":            model.GradeDOA,
	}
	for in, want := range tests {
		g, ok := GradeForCondition(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, g, in)
	}

	_, ok := GradeForCondition("Pristine")
	assert.False(t, ok)
}

func TestNormalizeNetwork(t *testing.T) {
	t.Parallel()
	assert.Equal(t, model.NetworkUnlocked, NormalizeNetwork("unlocked"))
	assert.Equal(t, model.NetworkCarrierLocked, NormalizeNetwork("Verizon"))
	assert.Equal(t, model.NetworkCarrierLocked, NormalizeNetwork(""))
	assert.Equal(t, "256GB", NormalizeStorage(" 256 gb"))
}
