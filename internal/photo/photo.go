// Package photo curates hero images for places: it collects candidates
// from a verified-location provider and a stock provider, scores them,
// gates off-topic stock shots and selects the active image.
package photo

import (
	"context"
	"regexp"
	"strings"

	"github.com/deusflow/newsdesk/internal/apperr"
)

// MaxQueries bounds the search queries sent per place.
const MaxQueries = 5

const (
	ProviderPlaces   = "places"
	ProviderUnsplash = "unsplash"
)

type Attribution struct {
	AuthorName string `json:"author_name,omitempty"`
	AuthorURL  string `json:"author_url,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
}

// Candidate is one photo offered by a provider for a place.
type Candidate struct {
	Provider    string      `json:"provider"`
	Ref         string      `json:"ref"`
	URL         string      `json:"url"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Likes       int         `json:"likes"`
	Verified    bool        `json:"verified"`
	Description string      `json:"description,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Score       int         `json:"score"`
	Active      bool        `json:"active"`
	Attribution Attribution `json:"attribution"`
}

// Landscape reports a wider-than-tall image.
func (c Candidate) Landscape() bool {
	return c.Height > 0 && c.Width > c.Height
}

func (c Candidate) text() string {
	return strings.ToLower(c.Description + " " + strings.Join(c.Tags, " "))
}

// Place is a curation subject from the catalog.
type Place struct {
	Slug          string   `yaml:"slug" json:"slug"`
	Name          string   `yaml:"name" json:"name"`
	Queries       []string `yaml:"queries" json:"queries,omitempty"`
	Keywords      []string `yaml:"keywords" json:"keywords,omitempty"`
	MustInclude   []string `yaml:"must_include" json:"must_include,omitempty"`
	VerifiedQuery string   `yaml:"verified_query" json:"verified_query,omitempty"`
}

// SearchQueries returns at most MaxQueries non-blank queries, falling
// back to the place name.
func (p Place) SearchQueries() []string {
	out := make([]string, 0, MaxQueries)
	for _, q := range p.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == MaxQueries {
			break
		}
	}
	if len(out) == 0 && strings.TrimSpace(p.Name) != "" {
		out = append(out, strings.TrimSpace(p.Name))
	}
	return out
}

// LocationQuery is the text sent to the verified-location provider.
func (p Place) LocationQuery() string {
	if q := strings.TrimSpace(p.VerifiedQuery); q != "" {
		return q
	}
	return strings.TrimSpace(p.Name)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidSlug reports whether s is a lowercase kebab-case identifier.
func ValidSlug(s string) bool {
	return len(s) <= 80 && slugPattern.MatchString(s)
}

// Catalog indexes places by slug.
type Catalog struct {
	bySlug map[string]Place
	order  []string
}

func NewCatalog(places []Place) (*Catalog, error) {
	c := &Catalog{bySlug: make(map[string]Place, len(places))}
	for _, p := range places {
		if !ValidSlug(p.Slug) {
			return nil, apperr.Validation("place catalog: invalid slug %q", p.Slug)
		}
		if _, dup := c.bySlug[p.Slug]; dup {
			return nil, apperr.Validation("place catalog: duplicate slug %q", p.Slug)
		}
		if strings.TrimSpace(p.Name) == "" {
			return nil, apperr.Validation("place catalog: %s has no name", p.Slug)
		}
		c.bySlug[p.Slug] = p
		c.order = append(c.order, p.Slug)
	}
	return c, nil
}

func (c *Catalog) Get(slug string) (Place, bool) {
	p, ok := c.bySlug[slug]
	return p, ok
}

func (c *Catalog) Slugs() []string {
	return append([]string(nil), c.order...)
}

func (c *Catalog) Len() int { return len(c.order) }

// Provider supplies candidates for a place. Authentication is the
// provider's own concern.
type Provider interface {
	Name() string
	Search(ctx context.Context, place Place, limit int) ([]Candidate, error)
}
