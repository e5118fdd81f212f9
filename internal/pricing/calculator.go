// Package pricing turns wholesale price rows and the active margin policy
// into customer offers: single quotes, batch recalculation of cached offers,
// and the "up to $X" max-price figure.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fixpoint-repair/buyback/internal/model"
)

// Offer is the result of one offer calculation.
type Offer struct {
	Price  float64
	Margin float64
	// SeriesApplied is set when a series override table replaced the
	// configured policy.
	SeriesApplied bool
	Mode          model.MarginMode
	// Tier is the 1-based band used in tiered mode, 0 otherwise.
	Tier int
}

var hundred = decimal.NewFromInt(100)

// CalculateOffer derives the customer offer for one grade of a wholesale
// price. An enabled series override wins in either mode and is applied as a
// percentage table. The result is rounded to cents and never negative.
func CalculateOffer(wholesale float64, grade model.Grade, series string, cfg model.MarginConfig) Offer {
	w := decimal.NewFromFloat(wholesale)

	if m, ok := cfg.SeriesMargins(series); ok {
		o := settle(w, percentOf(w, m.For(grade)))
		o.SeriesApplied = true
		o.Mode = model.ModePercentage
		return o
	}

	switch p := cfg.Policy.(type) {
	case model.TieredPolicy:
		idx := p.TierIndex(wholesale)
		o := settle(w, decimal.NewFromFloat(p.Tiers[idx].For(grade)))
		o.Mode = model.ModeTiered
		o.Tier = idx + 1
		return o
	case model.PercentagePolicy:
		o := settle(w, percentOf(w, p.Margins.For(grade)))
		o.Mode = model.ModePercentage
		return o
	default:
		o := settle(w, percentOf(w, model.DefaultPercentageMargins().For(grade)))
		o.Mode = model.ModePercentage
		return o
	}
}

// CalculateOfferPrice returns only the offer price of CalculateOffer.
func CalculateOfferPrice(wholesale float64, grade model.Grade, series string, cfg model.MarginConfig) float64 {
	return CalculateOffer(wholesale, grade, series, cfg).Price
}

// CalculateOffers fills an offer for every grade that has a wholesale price.
func CalculateOffers(prices model.GradePrices, series string, cfg model.MarginConfig) model.GradePrices {
	var out model.GradePrices
	for _, g := range model.Grades {
		w := prices.Get(g)
		if w == nil {
			continue
		}
		out.Set(g, model.Float(CalculateOfferPrice(*w, g, series, cfg)))
	}
	return out
}

// MarginPercentage formats margin as a share of wholesale with one decimal.
func MarginPercentage(margin, wholesale float64) string {
	if wholesale == 0 {
		return "0.0"
	}
	pct, _ := decimal.NewFromFloat(margin).Div(decimal.NewFromFloat(wholesale)).Mul(hundred).Float64()
	return fmt.Sprintf("%.1f", pct)
}

func percentOf(w decimal.Decimal, pct float64) decimal.Decimal {
	return w.Mul(decimal.NewFromFloat(pct)).Div(hundred)
}

func settle(w, margin decimal.Decimal) Offer {
	offer := w.Sub(margin)
	if offer.IsNegative() {
		offer = decimal.Zero
	}
	offer = offer.Round(2)
	price, _ := offer.Float64()
	m, _ := w.Sub(offer).Round(2).Float64()
	return Offer{Price: price, Margin: m}
}
