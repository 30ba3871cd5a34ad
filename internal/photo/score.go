package photo

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Tier grants Bonus when a measure reaches Min.
type Tier struct {
	Min   int `yaml:"min"`
	Bonus int `yaml:"bonus"`
}

// ScorePolicy holds the tunable scoring constants.
type ScorePolicy struct {
	VerifiedBase    int      `yaml:"verified_base"`
	StockBase       int      `yaml:"stock_base"`
	WidthTiers      []Tier   `yaml:"width_tiers"`
	LikesTiers      []Tier   `yaml:"likes_tiers"`
	LandscapeBonus  int      `yaml:"landscape_bonus"`
	OffTopicPenalty int      `yaml:"off_topic_penalty"`
	OffTopicTerms   []string `yaml:"off_topic_terms"`
}

const MaxScore = 100

func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		VerifiedBase: 60,
		StockBase:    40,
		WidthTiers: []Tier{
			{Min: 3000, Bonus: 20},
			{Min: 2000, Bonus: 15},
			{Min: 1200, Bonus: 10},
			{Min: 800, Bonus: 5},
		},
		LikesTiers: []Tier{
			{Min: 500, Bonus: 15},
			{Min: 100, Bonus: 10},
			{Min: 25, Bonus: 5},
		},
		LandscapeBonus:  5,
		OffTopicPenalty: 15,
		OffTopicTerms: []string{
			"indoor", "interior", "portrait", "selfie", "food", "dish",
			"restaurant", "bedroom", "office", "people", "wedding",
		},
	}
}

// Validate rejects policies whose higher tiers pay less than lower ones,
// which would break score monotonicity.
func (p ScorePolicy) Validate() error {
	if p.VerifiedBase < 0 || p.StockBase < 0 || p.OffTopicPenalty < 0 || p.LandscapeBonus < 0 {
		return errors.New("score policy: negative base, bonus or penalty")
	}
	for name, tiers := range map[string][]Tier{"width": p.WidthTiers, "likes": p.LikesTiers} {
		sorted := sortedTiers(tiers)
		for i := range sorted {
			if sorted[i].Bonus < 0 {
				return errors.Newf("score policy: negative %s tier bonus", name)
			}
			if i > 0 && sorted[i].Bonus > sorted[i-1].Bonus {
				return errors.Newf("score policy: %s tier %d pays more than tier %d", name, sorted[i].Min, sorted[i-1].Min)
			}
		}
	}
	return nil
}

// Scorer applies a ScorePolicy.
type Scorer struct {
	policy     ScorePolicy
	widthTiers []Tier
	likesTiers []Tier
	offTopic   []string
}

func NewScorer(p ScorePolicy) *Scorer {
	s := &Scorer{
		policy:     p,
		widthTiers: sortedTiers(p.WidthTiers),
		likesTiers: sortedTiers(p.LikesTiers),
	}
	for _, t := range p.OffTopicTerms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			s.offTopic = append(s.offTopic, t)
		}
	}
	return s
}

// Score is base + resolution tier + popularity (or landscape for verified
// photos) - off-topic penalty for stock photos, clamped to [0, MaxScore].
func (s *Scorer) Score(c Candidate) int {
	score := s.policy.StockBase
	if c.Verified {
		score = s.policy.VerifiedBase
	}

	score += tierBonus(s.widthTiers, c.Width)

	if c.Verified {
		if c.Landscape() {
			score += s.policy.LandscapeBonus
		}
	} else {
		score += tierBonus(s.likesTiers, c.Likes)
		score -= s.Penalty(c)
	}

	return clamp(score, 0, MaxScore)
}

// Penalty counts off-topic terms in a stock candidate's description and tags.
func (s *Scorer) Penalty(c Candidate) int {
	if c.Verified {
		return 0
	}
	text := c.text()
	hits := 0
	for _, t := range s.offTopic {
		if strings.Contains(text, t) {
			hits++
		}
	}
	return hits * s.policy.OffTopicPenalty
}

// Relevant is the stock relevance gate: a stock candidate that matches no
// positive keyword and none of the place's must-include terms is excluded.
// Places without must-include terms never exclude.
func Relevant(c Candidate, place Place) bool {
	if c.Verified || len(place.MustInclude) == 0 {
		return true
	}
	text := c.text()
	if containsAny(text, place.Keywords) {
		return true
	}
	return containsAny(text, place.MustInclude)
}

// Rank scores every candidate and drops the ones failing the relevance gate.
func (s *Scorer) Rank(place Place, cands []Candidate) (kept []Candidate, gated int) {
	kept = make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if !Relevant(c, place) {
			gated++
			continue
		}
		c.Score = s.Score(c)
		kept = append(kept, c)
	}
	return kept, gated
}

// Select orders candidates by score, keeps the top n and marks the first
// one active. Equal scores keep input order.
func Select(cands []Candidate, n int) []Candidate {
	if n <= 0 || len(cands) == 0 {
		return nil
	}
	out := append([]Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	for i := range out {
		out[i].Active = i == 0
	}
	return out
}

func tierBonus(tiers []Tier, v int) int {
	for _, t := range tiers {
		if v >= t.Min {
			return t.Bonus
		}
	}
	return 0
}

func sortedTiers(in []Tier) []Tier {
	out := append([]Tier(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min > out[j].Min })
	return out
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
