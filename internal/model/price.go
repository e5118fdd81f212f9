package model

import "time"

// Grade is a device condition band. Grade values double as the JSON keys
// used in margin documents and price maps.
type Grade string

const (
	GradeA   Grade = "gradeA"
	GradeB   Grade = "gradeB"
	GradeC   Grade = "gradeC"
	GradeD   Grade = "gradeD"
	GradeDOA Grade = "doa"
)

// Grades lists every grade in display order.
var Grades = []Grade{GradeA, GradeB, GradeC, GradeD, GradeDOA}

// Valid reports whether g is one of the known grades.
func (g Grade) Valid() bool {
	switch g {
	case GradeA, GradeB, GradeC, GradeD, GradeDOA:
		return true
	}
	return false
}

// Network values recognised by the quote path. Price sheets may carry other
// carrier names; those rows are stored verbatim.
const (
	NetworkUnlocked      = "Unlocked"
	NetworkCarrierLocked = "Carrier Locked"
)

// GradePrices holds one optional dollar amount per grade. A nil entry means
// "no price for this grade".
type GradePrices struct {
	GradeA *float64 `json:"gradeA"`
	GradeB *float64 `json:"gradeB"`
	GradeC *float64 `json:"gradeC"`
	GradeD *float64 `json:"gradeD"`
	DOA    *float64 `json:"doa"`
}

// Get returns the price for g, or nil.
func (p GradePrices) Get(g Grade) *float64 {
	switch g {
	case GradeA:
		return p.GradeA
	case GradeB:
		return p.GradeB
	case GradeC:
		return p.GradeC
	case GradeD:
		return p.GradeD
	case GradeDOA:
		return p.DOA
	}
	return nil
}

// Set stores v for g. Unknown grades are ignored.
func (p *GradePrices) Set(g Grade, v *float64) {
	switch g {
	case GradeA:
		p.GradeA = v
	case GradeB:
		p.GradeB = v
	case GradeC:
		p.GradeC = v
	case GradeD:
		p.GradeD = v
	case GradeDOA:
		p.DOA = v
	}
}

// Any reports whether at least one grade has a price.
func (p GradePrices) Any() bool {
	for _, g := range Grades {
		if p.Get(g) != nil {
			return true
		}
	}
	return false
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// PriceRow is one wholesale price record for a device configuration.
// (Model, Network) is unique across the table.
type PriceRow struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	DeviceType string `json:"deviceType"`
	ModelName  string `json:"modelName"`
	Storage    string `json:"storage"`
	Network    string `json:"network"`
	Series     string `json:"series,omitempty"`

	Prices    GradePrices `json:"prices"`
	PriceSwap *float64    `json:"priceSwap,omitempty"`
	Overrides GradePrices `json:"overrides"`
	Offers    GradePrices `json:"offers"`

	OffersCalculatedAt *time.Time `json:"offersCalculatedAt,omitempty"`
	IsActive           bool       `json:"isActive"`
	LastUpdated        time.Time  `json:"lastUpdated"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// UpdateStatus is the outcome of an ingestion or recalculation run.
type UpdateStatus string

const (
	UpdateStatusSuccess UpdateStatus = "success"
	UpdateStatusPartial UpdateStatus = "partial"
	UpdateStatusFailed  UpdateStatus = "failed"
)

// PricingUpdateLog is an immutable audit record for one ingestion run.
type PricingUpdateLog struct {
	ID          string       `json:"id"`
	Source      string       `json:"source"`
	RowsAdded   int          `json:"rowsAdded"`
	RowsUpdated int          `json:"rowsUpdated"`
	Status      UpdateStatus `json:"status"`
	Errors      string       `json:"errors,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}
