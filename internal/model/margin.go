package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// MarginMode names which margin table a MarginConfig carries.
type MarginMode string

const (
	ModePercentage MarginMode = "percentage"
	ModeTiered     MarginMode = "tiered"
)

// TierCount is the fixed number of wholesale price bands in tiered mode.
const TierCount = 5

// GradeMargins holds one margin value per grade. Depending on where it is
// used the values are percentages (0-100) or flat dollar deductions.
type GradeMargins struct {
	GradeA float64 `json:"gradeA" yaml:"gradeA"`
	GradeB float64 `json:"gradeB" yaml:"gradeB"`
	GradeC float64 `json:"gradeC" yaml:"gradeC"`
	GradeD float64 `json:"gradeD" yaml:"gradeD"`
	DOA    float64 `json:"doa" yaml:"doa"`
}

// For returns the margin for g.
func (m GradeMargins) For(g Grade) float64 {
	switch g {
	case GradeA:
		return m.GradeA
	case GradeB:
		return m.GradeB
	case GradeC:
		return m.GradeC
	case GradeD:
		return m.GradeD
	case GradeDOA:
		return m.DOA
	}
	return 0
}

// MarginPolicy is either a PercentagePolicy or a TieredPolicy.
type MarginPolicy interface {
	Mode() MarginMode
	marginPolicy()
}

// PercentagePolicy deducts a per-grade percentage of the wholesale price.
type PercentagePolicy struct {
	Margins GradeMargins
}

func (PercentagePolicy) Mode() MarginMode { return ModePercentage }
func (PercentagePolicy) marginPolicy()    {}

// Tier is one wholesale price band. Max is nil for the open-ended top band.
type Tier struct {
	Min          float64  `json:"min" yaml:"min"`
	Max          *float64 `json:"max" yaml:"max"`
	GradeMargins `yaml:",inline"`
}

// TieredPolicy deducts a flat per-grade dollar amount chosen by price band.
type TieredPolicy struct {
	Tiers [TierCount]Tier
}

func (TieredPolicy) Mode() MarginMode { return ModeTiered }
func (TieredPolicy) marginPolicy()    {}

// TierIndex returns the zero-based band for a wholesale price: the highest
// band whose Min the price meets. Band 0 is the floor for everything else.
func (p TieredPolicy) TierIndex(wholesale float64) int {
	for i := TierCount - 1; i > 0; i-- {
		if wholesale >= p.Tiers[i].Min {
			return i
		}
	}
	return 0
}

// SeriesOverride replaces the percentage table for rows of one series.
type SeriesOverride struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	GradeMargins `yaml:",inline"`
}

// MarginConfig is the active margin policy document.
type MarginConfig struct {
	Policy          MarginPolicy
	SeriesOverrides map[string]SeriesOverride
}

// Mode returns the mode of the active policy.
func (c MarginConfig) Mode() MarginMode {
	if c.Policy == nil {
		return ""
	}
	return c.Policy.Mode()
}

// SeriesMargins returns the percentage table for series when an enabled
// override exists for it.
func (c MarginConfig) SeriesMargins(series string) (GradeMargins, bool) {
	if series == "" {
		return GradeMargins{}, false
	}
	o, ok := c.SeriesOverrides[series]
	if !ok || !o.Enabled {
		return GradeMargins{}, false
	}
	return o.GradeMargins, true
}

// DefaultPercentageMargins are applied when no settings document exists.
func DefaultPercentageMargins() GradeMargins {
	return GradeMargins{GradeA: 12, GradeB: 15, GradeC: 20, GradeD: 25, DOA: 30}
}

// DefaultTieredPolicy returns the stock dollar bands:
// [0,100) [100,300) [300,500) [500,750) [750,inf).
func DefaultTieredPolicy() TieredPolicy {
	return TieredPolicy{Tiers: [TierCount]Tier{
		{Min: 0, Max: Float(100), GradeMargins: GradeMargins{GradeA: 15, GradeB: 20, GradeC: 25, GradeD: 30, DOA: 40}},
		{Min: 100, Max: Float(300), GradeMargins: GradeMargins{GradeA: 30, GradeB: 40, GradeC: 50, GradeD: 60, DOA: 75}},
		{Min: 300, Max: Float(500), GradeMargins: GradeMargins{GradeA: 60, GradeB: 75, GradeC: 90, GradeD: 110, DOA: 130}},
		{Min: 500, Max: Float(750), GradeMargins: GradeMargins{GradeA: 90, GradeB: 110, GradeC: 130, GradeD: 160, DOA: 190}},
		{Min: 750, GradeMargins: GradeMargins{GradeA: 120, GradeB: 150, GradeC: 180, GradeD: 220, DOA: 260}},
	}}
}

// DefaultMarginConfig is the built-in configuration used when the settings
// document is missing or unreadable.
func DefaultMarginConfig() MarginConfig {
	return MarginConfig{
		Policy:          PercentagePolicy{Margins: DefaultPercentageMargins()},
		SeriesOverrides: map[string]SeriesOverride{},
	}
}

var validate = validator.New()

// Validate checks percentage bounds, dollar signs and band contiguity.
func (c MarginConfig) Validate() error {
	switch p := c.Policy.(type) {
	case PercentagePolicy:
		if err := validateMargins("percentageMargins", p.Margins, "gte=0,lte=100"); err != nil {
			return err
		}
	case TieredPolicy:
		for i, t := range p.Tiers {
			name := fmt.Sprintf("tier%d", i+1)
			if err := validateMargins(name, t.GradeMargins, "gte=0"); err != nil {
				return err
			}
			if i == 0 && t.Min != 0 {
				return eris.Errorf("margins: %s must start at 0", name)
			}
			if i > 0 {
				prev := p.Tiers[i-1]
				if prev.Max == nil || *prev.Max != t.Min {
					return eris.Errorf("margins: %s must start where tier%d ends", name, i)
				}
			}
			last := i == TierCount-1
			switch {
			case last && t.Max != nil:
				return eris.Errorf("margins: %s must be open-ended", name)
			case !last && t.Max == nil:
				return eris.Errorf("margins: %s needs a max", name)
			case !last && *t.Max <= t.Min:
				return eris.Errorf("margins: %s max must exceed min", name)
			}
		}
	case nil:
		return eris.New("margins: mode is required")
	default:
		return eris.Errorf("margins: unsupported policy %T", p)
	}

	for series, o := range c.SeriesOverrides {
		if err := validateMargins("seriesOverrides."+series, o.GradeMargins, "gte=0,lte=100"); err != nil {
			return err
		}
	}
	return nil
}

func validateMargins(name string, m GradeMargins, tag string) error {
	for _, g := range Grades {
		v := m.For(g)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Errorf("margins: %s.%s is not a number", name, g)
		}
		if err := validate.Var(v, tag); err != nil {
			return eris.Wrapf(err, "margins: %s.%s out of range", name, g)
		}
	}
	return nil
}

// marginDocument is the persisted shape of a MarginConfig.
type marginDocument struct {
	Mode              MarginMode                `json:"mode" yaml:"mode"`
	PercentageMargins *GradeMargins             `json:"percentageMargins,omitempty" yaml:"percentageMargins,omitempty"`
	TieredMargins     *tierDocument             `json:"tieredMargins,omitempty" yaml:"tieredMargins,omitempty"`
	SeriesOverrides   map[string]SeriesOverride `json:"seriesOverrides,omitempty" yaml:"seriesOverrides,omitempty"`
}

type tierDocument struct {
	Tier1 Tier `json:"tier1" yaml:"tier1"`
	Tier2 Tier `json:"tier2" yaml:"tier2"`
	Tier3 Tier `json:"tier3" yaml:"tier3"`
	Tier4 Tier `json:"tier4" yaml:"tier4"`
	Tier5 Tier `json:"tier5" yaml:"tier5"`
}

func (c MarginConfig) document() (marginDocument, error) {
	doc := marginDocument{Mode: c.Mode(), SeriesOverrides: c.SeriesOverrides}
	switch p := c.Policy.(type) {
	case PercentagePolicy:
		m := p.Margins
		doc.PercentageMargins = &m
	case TieredPolicy:
		doc.TieredMargins = &tierDocument{p.Tiers[0], p.Tiers[1], p.Tiers[2], p.Tiers[3], p.Tiers[4]}
	default:
		return doc, eris.New("margins: config has no policy")
	}
	return doc, nil
}

func (c *MarginConfig) fromDocument(doc marginDocument) error {
	out := MarginConfig{SeriesOverrides: doc.SeriesOverrides}
	switch doc.Mode {
	case ModePercentage:
		if doc.PercentageMargins == nil {
			return eris.New("margins: percentage mode without percentageMargins")
		}
		out.Policy = PercentagePolicy{Margins: *doc.PercentageMargins}
	case ModeTiered:
		if doc.TieredMargins == nil {
			return eris.New("margins: tiered mode without tieredMargins")
		}
		t := doc.TieredMargins
		out.Policy = TieredPolicy{Tiers: [TierCount]Tier{t.Tier1, t.Tier2, t.Tier3, t.Tier4, t.Tier5}}
	default:
		return eris.Errorf("margins: unknown mode %q", doc.Mode)
	}
	if out.SeriesOverrides == nil {
		out.SeriesOverrides = map[string]SeriesOverride{}
	}
	*c = out
	return nil
}

// MarshalJSON encodes the config in its document shape.
func (c MarginConfig) MarshalJSON() ([]byte, error) {
	doc, err := c.document()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a settings document.
func (c *MarginConfig) UnmarshalJSON(data []byte) error {
	var doc marginDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return eris.Wrap(err, "margins: decode json")
	}
	return c.fromDocument(doc)
}

// MarshalYAML encodes the config in its document shape.
func (c MarginConfig) MarshalYAML() (any, error) {
	return c.document()
}

// UnmarshalYAML decodes a settings document.
func (c *MarginConfig) UnmarshalYAML(value *yaml.Node) error {
	var doc marginDocument
	if err := value.Decode(&doc); err != nil {
		return eris.Wrap(err, "margins: decode yaml")
	}
	return c.fromDocument(doc)
}
