package news

import "strings"

// DefaultNoiseTerms drops promotional and off-topic coverage.
var DefaultNoiseTerms = []string{
	"sponsored",
	"promo code",
	"coupon",
	"giveaway",
	"horoscope",
	"lottery",
	"celebrity",
	"k-pop idol",
	"recipe",
	"weather forecast",
	"stock price prediction",
}

// DefaultExemptLanes are never noise-filtered: deals, bilateral relations and
// items already scoped to the target locality.
var DefaultExemptLanes = []Lane{LaneDeal, LaneBilateral, LaneLocal}

// NoiseFilter drops items whose text contains a noise term unless their lane is exempt.
type NoiseFilter struct {
	terms  []string
	exempt map[Lane]bool
}

func NewNoiseFilter(terms []string, exempt []Lane) *NoiseFilter {
	f := &NoiseFilter{exempt: make(map[Lane]bool, len(exempt))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			f.terms = append(f.terms, t)
		}
	}
	for _, l := range exempt {
		f.exempt[l] = true
	}
	return f
}

// Exempt reports whether items on the lane bypass filtering.
func (f *NoiseFilter) Exempt(l Lane) bool {
	return f.exempt[l]
}

// IsNoise checks the lane exemption first, then the lowercase title+summary.
func (f *NoiseFilter) IsNoise(it Item) bool {
	if f.Exempt(it.Lane) {
		return false
	}
	text := it.text()
	for _, t := range f.terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// Apply returns the kept items in input order and the number dropped.
func (f *NoiseFilter) Apply(items []Item) ([]Item, int) {
	kept := make([]Item, 0, len(items))
	for _, it := range items {
		if f.IsNoise(it) {
			continue
		}
		kept = append(kept, it)
	}
	return kept, len(items) - len(kept)
}
