package news

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoiseFilterDropsNoise(t *testing.T) {
	f := NewNoiseFilter([]string{"Sponsored", "coupon"}, DefaultExemptLanes)

	items := []Item{
		{Title: "Korea UAE trade rises", Lane: LaneMacro},
		{Title: "Best Dubai hotels", Summary: "SPONSORED content", Lane: LaneMacro},
		{Title: "Coupon for Seoul flights", Lane: ""},
	}

	kept, dropped := f.Apply(items)
	assert.Equal(t, 2, dropped)
	assert.Len(t, kept, 1)
	assert.Equal(t, "Korea UAE trade rises", kept[0].Title)
}

func TestNoiseFilterNeverDropsExemptLanes(t *testing.T) {
	f := NewNoiseFilter(DefaultNoiseTerms, DefaultExemptLanes)
	everything := strings.Join(DefaultNoiseTerms, " ")

	for _, lane := range DefaultExemptLanes {
		it := Item{Title: everything, Summary: everything, Lane: lane}
		assert.False(t, f.IsNoise(it), "lane %s must be exempt", lane)
	}

	assert.True(t, f.IsNoise(Item{Title: everything, Lane: LaneMacro}))
}

func TestNoiseFilterIgnoresBlankTerms(t *testing.T) {
	f := NewNoiseFilter([]string{"", "   "}, nil)
	assert.False(t, f.IsNoise(Item{Title: "anything"}))
}
