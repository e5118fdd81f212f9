// Package catalog parses composite device strings from wholesale price
// sheets into their model name, storage and network parts.
package catalog

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// Parsed is a decomposed price sheet model string.
type Parsed struct {
	DeviceType string
	ModelName  string
	Storage    string
	Network    string
	Series     string
}

// Matcher recognises the model strings of one device family.
type Matcher interface {
	Family() string
	Match(s string) (Parsed, bool)
	// Descriptor strips the family prefix from a model name, e.g.
	// "iPhone 15 Pro" -> "15 Pro".
	Descriptor(modelName string) string
}

// Networks lists the network labels a price sheet may use.
var Networks = []string{"Unlocked", "Carrier Locked", "Verizon", "AT&T", "T-Mobile", "US Cellular", "Other"}

// Fold returns s case-folded for comparison. Casers carry state, so each
// call gets its own.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// EqualFold reports whether a and b match after trimming and case folding.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}

// ContainsFold reports whether s contains substr, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}

// Catalog tries each registered matcher in order.
type Catalog struct {
	matchers []Matcher
}

// New builds a catalog from matchers. With no arguments it registers the
// default families.
func New(matchers ...Matcher) *Catalog {
	if len(matchers) == 0 {
		matchers = []Matcher{NewIPhone()}
	}
	return &Catalog{matchers: matchers}
}

// Parse returns the first family match for s.
func (c *Catalog) Parse(s string) (Parsed, bool) {
	s = strings.Join(strings.Fields(s), " ")
	for _, m := range c.matchers {
		if p, ok := m.Match(s); ok {
			return p, true
		}
	}
	return Parsed{}, false
}

// Descriptor strips the prefix of whichever family claims modelName. Names
// no family claims are returned trimmed.
func (c *Catalog) Descriptor(modelName string) string {
	modelName = strings.Join(strings.Fields(modelName), " ")
	for _, m := range c.matchers {
		if d := m.Descriptor(modelName); d != modelName {
			return d
		}
	}
	return modelName
}

var networkAlternation = func() string {
	parts := make([]string, len(Networks))
	for i, n := range Networks {
		parts[i] = regexp.QuoteMeta(n)
	}
	return strings.Join(parts, "|")
}()

// IPhone matches "iPhone <name> <n>(GB|TB) <network>".
type IPhone struct {
	pattern *regexp.Regexp
	prefix  *regexp.Regexp
	series  *regexp.Regexp
}

// NewIPhone returns the iPhone family matcher.
func NewIPhone() *IPhone {
	return &IPhone{
		pattern: regexp.MustCompile(`(?i)^(iPhone\s+.+?)\s+(\d+\s*(?:GB|TB))\s+(` + networkAlternation + `)$`),
		prefix:  regexp.MustCompile(`(?i)^iPhone\s+`),
		series:  regexp.MustCompile(`^(\d+)`),
	}
}

func (m *IPhone) Family() string { return "iPhone" }

func (m *IPhone) Match(s string) (Parsed, bool) {
	sub := m.pattern.FindStringSubmatch(strings.TrimSpace(s))
	if sub == nil {
		return Parsed{}, false
	}
	// Sheets disagree on the prefix's case; the stored row key must not.
	name := m.Family() + " " + m.Descriptor(sub[1])
	return Parsed{
		DeviceType: "iPhone",
		ModelName:  name,
		Storage:    strings.ToUpper(strings.ReplaceAll(sub[2], " ", "")),
		Network:    canonicalNetwork(sub[3]),
		Series:     m.series.FindString(m.Descriptor(name)),
	}, true
}

func (m *IPhone) Descriptor(modelName string) string {
	return m.prefix.ReplaceAllString(strings.TrimSpace(modelName), "")
}

func canonicalNetwork(s string) string {
	for _, n := range Networks {
		if strings.EqualFold(n, s) {
			return n
		}
	}
	return s
}
