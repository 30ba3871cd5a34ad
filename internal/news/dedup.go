package news

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSimilarityThreshold is the Jaccard score at which two titles are the same story.
const DefaultSimilarityThreshold = 0.45

// TokenSet is a set of lowercase title tokens.
type TokenSet map[string]struct{}

// Tokenize splits a title into lowercase letter/number runs longer than one
// rune. Non-Latin scripts are kept.
func Tokenize(title string) TokenSet {
	set := TokenSet{}
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			set[f] = struct{}{}
		}
	}
	return set
}

// Jaccard is |a∩b| / |a∪b|. Two empty sets are identical; an empty set
// against a populated one scores 0.
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Deduplicator collapses near-identical titles across sources.
type Deduplicator struct {
	threshold float64
}

func NewDeduplicator(threshold float64) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Deduplicator{threshold: threshold}
}

type cluster struct {
	rep    Item
	tokens TokenSet
	order  int
	size   int
}

// Dedup clusters items greedily in input order. Each item joins the most
// similar kept cluster when that similarity reaches the threshold; the
// cluster representative is the lowest publisher rank, earlier item on ties.
// Output is one representative per cluster, newest first, input order on ties.
//
// A representative swap can bring a cluster within the threshold of one kept
// apart earlier, so passes repeat over the survivors until nothing merges.
func (d *Deduplicator) Dedup(items []Item) []Item {
	out := d.pass(items)
	for {
		next := d.pass(out)
		if len(next) == len(out) {
			return out
		}
		out = next
	}
}

func (d *Deduplicator) pass(items []Item) []Item {
	clusters := make([]*cluster, 0, len(items))

	for i, it := range items {
		tokens := Tokenize(it.Title)

		best, bestSim := -1, -1.0
		for ci, c := range clusters {
			if sim := Jaccard(tokens, c.tokens); sim > bestSim {
				best, bestSim = ci, sim
			}
		}

		if best >= 0 && bestSim >= d.threshold {
			c := clusters[best]
			c.size++
			if it.Rank < c.rep.Rank {
				c.rep, c.tokens, c.order = it, tokens, i
			}
			continue
		}

		clusters = append(clusters, &cluster{rep: it, tokens: tokens, order: i, size: 1})
	}

	sort.SliceStable(clusters, func(a, b int) bool {
		ta, tb := clusters[a].rep.PublishedAt, clusters[b].rep.PublishedAt
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return clusters[a].order < clusters[b].order
	})

	out := make([]Item, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, c.rep)
	}
	return out
}
