package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/fixpoint-repair/buyback/internal/catalog"
	"github.com/fixpoint-repair/buyback/internal/model"
)

// gradeColumns maps normalised header names to grades.
var gradeColumns = map[string]model.Grade{
	"gradea": model.GradeA,
	"gradeb": model.GradeB,
	"gradec": model.GradeC,
	"graded": model.GradeD,
	"doa":    model.GradeDOA,
}

const (
	modelColumn = "model"
	swapColumn  = "swaphso"
)

// skipPrefixes mark annotation rows that spreadsheet authors leave in the
// Model column: section titles, totals, footnotes, repeated headers.
var skipPrefixes = []string{
	"total",
	"note",
	"disclaimer",
	"price list",
	"last updated",
	"effective",
	"model",
	"*",
	"#",
}

// normalizeCol folds a header to lowercase alphanumerics: "SWAP / HSO" -> "swaphso".
func normalizeCol(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// columns locates the sheet's columns by header name.
type columns struct {
	model  int
	swap   int // -1 when absent
	grades map[model.Grade]int
	// width is the number of cells a data row must have.
	width int
}

func mapColumns(header []string) (*columns, error) {
	c := &columns{model: -1, swap: -1, grades: map[model.Grade]int{}}
	for i, h := range header {
		name := normalizeCol(h)
		switch {
		case name == modelColumn && c.model < 0:
			c.model = i
		case name == swapColumn:
			c.swap = i
		default:
			if g, ok := gradeColumns[name]; ok {
				c.grades[g] = i
			}
		}
	}
	if c.model < 0 {
		return nil, eris.Errorf("header has no Model column: %q", strings.Join(header, ","))
	}
	if len(c.grades) == 0 {
		return nil, eris.New("header has no grade columns")
	}

	c.width = c.model + 1
	for _, idx := range c.grades {
		c.width = max(c.width, idx+1)
	}
	if c.swap >= 0 {
		c.width = max(c.width, c.swap+1)
	}
	return c, nil
}

// parse turns one data row into a PriceRow. Blank, annotation and
// unrecognised rows come back as nil, nil, as do rows with no grade price.
func (c *columns) parse(cat *catalog.Catalog, line int, fields []string) (*model.PriceRow, error) {
	if blank(fields) {
		return nil, nil
	}
	if len(fields) <= c.model {
		return nil, eris.Errorf("line %d: expected %d cells, got %d", line, c.width, len(fields))
	}

	raw := strings.TrimSpace(fields[c.model])
	if raw == "" || isAnnotation(raw) {
		return nil, nil
	}
	if len(fields) < c.width {
		return nil, eris.Errorf("line %d: %q: expected %d cells, got %d", line, raw, c.width, len(fields))
	}

	p, ok := cat.Parse(raw)
	if !ok {
		return nil, nil
	}

	var prices model.GradePrices
	for g, idx := range c.grades {
		prices.Set(g, parsePrice(fields[idx]))
	}
	if !prices.Any() {
		return nil, nil
	}

	row := &model.PriceRow{
		Model:      p.ModelName + " " + p.Storage + " " + p.Network,
		DeviceType: p.DeviceType,
		ModelName:  p.ModelName,
		Storage:    p.Storage,
		Network:    p.Network,
		Series:     p.Series,
		Prices:     prices,
	}
	if c.swap >= 0 {
		row.PriceSwap = parsePrice(fields[c.swap])
	}
	return row, nil
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func isAnnotation(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range skipPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return strings.Contains(lower, "subject to change")
}

// parsePrice reads a currency cell such as "$1,020.50". Empty cells and
// anything that is not a non-negative number yield nil.
func parsePrice(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" || s == "-" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return nil
	}
	v, _ := d.Round(2).Float64()
	return &v
}
