package news

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// TaxonomyRule maps matching terms to one category.
type TaxonomyRule struct {
	Category Category `yaml:"category"`
	Terms    []string `yaml:"terms"`
}

// DefaultTaxonomy covers the bilateral coverage the desk follows.
var DefaultTaxonomy = []TaxonomyRule{
	{Category: "trade", Terms: []string{"trade", "export", "import", "cepa", "tariff", "무역", "수출"}},
	{Category: "investment", Terms: []string{"investment", "invest", "fund", "stake", "billion", "투자"}},
	{Category: "energy", Terms: []string{"energy", "oil", "gas", "nuclear", "barakah", "hydrogen", "solar", "에너지", "원전"}},
	{Category: "defense", Terms: []string{"defense", "defence", "military", "missile", "cheongung", "방산"}},
	{Category: "technology", Terms: []string{"technology", "semiconductor", "ai ", "artificial intelligence", "startup", "기술"}},
	{Category: "diplomacy", Terms: []string{"president", "minister", "summit", "embassy", "ambassador", "visit", "외교"}},
	{Category: "culture", Terms: []string{"culture", "k-pop", "hallyu", "film", "festival", "문화"}},
	{Category: "tourism", Terms: []string{"tourism", "tourist", "travel", "flight", "airline", "관광"}},
}

// DefaultImpactTerms grade coverage by scale.
var DefaultImpactTerms = ImpactTerms{
	High:   []string{"billion", "agreement", "deal", "treaty", "summit", "mou", "signs", "ink"},
	Medium: []string{"million", "partnership", "talks", "visit", "plan", "launch"},
}

// ImpactTerms lists the substrings that promote an item to high or medium impact.
type ImpactTerms struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
}

type taxonomyTerm struct {
	term     string
	category Category
}

// Tagger attaches categories from a keyword taxonomy.
type Tagger struct {
	terms      []taxonomyTerm
	categories []Category
	high       []string
	medium     []string
}

// NewTagger validates the taxonomy. Category names must be non-empty and unique.
func NewTagger(rules []TaxonomyRule, impact ImpactTerms) (*Tagger, error) {
	t := &Tagger{}
	seen := map[Category]bool{}
	for _, r := range rules {
		c := Category(strings.ToLower(strings.TrimSpace(string(r.Category))))
		if c == "" {
			return nil, errors.New("taxonomy: empty category name")
		}
		if seen[c] {
			return nil, errors.Newf("taxonomy: duplicate category %q", c)
		}
		seen[c] = true
		t.categories = append(t.categories, c)
		for _, term := range r.Terms {
			term = strings.ToLower(term)
			if strings.TrimSpace(term) == "" {
				continue
			}
			t.terms = append(t.terms, taxonomyTerm{term: term, category: c})
		}
	}
	t.high = lowerAll(impact.High)
	t.medium = lowerAll(impact.Medium)
	return t, nil
}

// Tag re-derives tags, primary category and impact for every item in place.
// Tagging twice yields the same result.
func (t *Tagger) Tag(items []Item) {
	for i := range items {
		t.tagOne(&items[i])
	}
}

func (t *Tagger) tagOne(it *Item) {
	text := it.text()

	matched := map[Category]bool{}
	for _, tt := range t.terms {
		if !matched[tt.category] && strings.Contains(text, tt.term) {
			matched[tt.category] = true
		}
	}

	tags := make([]Category, 0, len(matched))
	for _, c := range t.categories {
		if matched[c] {
			tags = append(tags, c)
		}
	}
	it.Tags = tags

	it.Category = ""
	if len(tags) > 0 {
		it.Category = tags[0]
	}

	switch {
	case containsAny(text, t.high):
		it.Impact = ImpactHigh
	case containsAny(text, t.medium):
		it.Impact = ImpactMedium
	default:
		it.Impact = ImpactLow
	}
}

func containsAny(text string, terms []string) bool {
	for _, k := range terms {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
