package news

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Source identifies the feed family an item came from.
type Source string

const (
	SourceGoogleNews Source = "google_news"
	SourceNewsAPI    Source = "newsapi"
)

// ParseSource accepts the wire names used by triggers and config.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceGoogleNews:
		return SourceGoogleNews, nil
	case SourceNewsAPI:
		return SourceNewsAPI, nil
	}
	return "", errors.Newf("unknown source %q", s)
}

// Lane is the coarse editorial category that steers queries and noise exemptions.
type Lane string

const (
	LaneDeal      Lane = "deal"
	LaneMacro     Lane = "macro"
	LaneBilateral Lane = "bilateral"
	LaneLocal     Lane = "local"
)

// Lanes lists every lane in a stable order.
var Lanes = []Lane{LaneDeal, LaneMacro, LaneBilateral, LaneLocal}

func ParseLane(s string) (Lane, error) {
	l := Lane(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Lanes {
		if l == known {
			return l, nil
		}
	}
	return "", errors.Newf("unknown lane %q", s)
}

// Category is a topical tag name from the keyword taxonomy.
type Category string

// Impact is a coarse importance grade derived from impact terms.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Item is a single normalized news item. Identity for storage is the
// content hash of URL; identity inside a batch is title similarity.
type Item struct {
	URL         string
	Title       string
	Publisher   string
	Source      Source
	Language    string
	PublishedAt time.Time
	Summary     string
	Tags        []Category
	Rank        int
	ImageURL    string
	Impact      Impact
	Category    Category
	Lane        Lane
}

// Hash is the cross-run storage identity.
func (it Item) Hash() string {
	return ContentHash(it.URL)
}

func (it Item) text() string {
	return strings.ToLower(it.Title + " " + it.Summary)
}

// PublisherRanks is a fixed total order over publishers. Lower wins.
type PublisherRanks struct {
	ranks   map[string]int
	unknown int
}

// NewPublisherRanks builds the order from a list, best first.
func NewPublisherRanks(ordered []string) PublisherRanks {
	r := PublisherRanks{ranks: make(map[string]int, len(ordered))}
	for i, p := range ordered {
		key := normalizePublisher(p)
		if key == "" {
			continue
		}
		if _, dup := r.ranks[key]; dup {
			continue
		}
		r.ranks[key] = i + 1
	}
	r.unknown = len(ordered) + 1
	return r
}

// Rank returns the publisher's position; unknown publishers sort after all known ones.
func (r PublisherRanks) Rank(publisher string) int {
	if rank, ok := r.ranks[normalizePublisher(publisher)]; ok {
		return rank
	}
	if r.unknown == 0 {
		return 1
	}
	return r.unknown
}

// Apply stamps every item with its publisher rank.
func (r PublisherRanks) Apply(items []Item) {
	for i := range items {
		items[i].Rank = r.Rank(items[i].Publisher)
	}
}

func normalizePublisher(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	return strings.TrimPrefix(p, "www.")
}
