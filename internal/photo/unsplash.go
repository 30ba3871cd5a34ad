package photo

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/deusflow/newsdesk/internal/apperr"
	"github.com/deusflow/newsdesk/internal/ratelimit"
)

const DefaultUnsplashEndpoint = "https://api.unsplash.com"

// Unsplash is the stock provider. It authenticates with a Client-ID header.
type Unsplash struct {
	endpoint  string
	accessKey string
	client    *http.Client
	budget    *ratelimit.Budget
	log       *slog.Logger
}

func NewUnsplash(endpoint, accessKey string, timeout time.Duration, budget *ratelimit.Budget, log *slog.Logger) *Unsplash {
	if endpoint == "" {
		endpoint = DefaultUnsplashEndpoint
	}
	if log == nil {
		log = slog.Default()
	}
	return &Unsplash{
		endpoint:  strings.TrimRight(endpoint, "/"),
		accessKey: accessKey,
		client:    &http.Client{Timeout: timeout},
		budget:    budget,
		log:       log.With("component", "unsplash"),
	}
}

func (u *Unsplash) Name() string { return ProviderUnsplash }

type unsplashSearch struct {
	Results []unsplashPhoto `json:"results"`
}

type unsplashPhoto struct {
	ID             string `json:"id"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Likes          int    `json:"likes"`
	Description    string `json:"description"`
	AltDescription string `json:"alt_description"`
	URLs           struct {
		Regular string `json:"regular"`
	} `json:"urls"`
	Links struct {
		HTML string `json:"html"`
	} `json:"links"`
	User struct {
		Name  string `json:"name"`
		Links struct {
			HTML string `json:"html"`
		} `json:"links"`
	} `json:"user"`
	Tags []struct {
		Title string `json:"title"`
	} `json:"tags"`
}

// Search runs each of the place's queries in turn and merges the results.
// A rate-limit answer stops immediately with ErrProviderExhausted; other
// per-query failures are logged and skipped unless every query fails.
func (u *Unsplash) Search(ctx context.Context, place Place, limit int) ([]Candidate, error) {
	queries := place.SearchQueries()
	seen := map[string]bool{}
	var out []Candidate
	var lastErr error
	failed := 0

	for _, q := range queries {
		if err := u.budget.Use(ProviderUnsplash); err != nil {
			return out, err
		}
		photos, err := u.search(ctx, q, limit)
		if err != nil {
			if errors.Is(err, apperr.ErrProviderExhausted) {
				return out, err
			}
			u.log.Warn("query failed", "slug", place.Slug, "query", q, "error", err)
			lastErr = err
			failed++
			continue
		}
		for _, p := range photos {
			if p.ID == "" || p.URLs.Regular == "" || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, toCandidate(p))
		}
	}

	if failed > 0 && failed == len(queries) {
		return nil, lastErr
	}
	return out, nil
}

func (u *Unsplash) search(ctx context.Context, query string, limit int) ([]unsplashPhoto, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(limit))
	params.Set("orientation", "landscape")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint+"/search/photos?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build unsplash request")
	}
	req.Header.Set("Authorization", "Client-ID "+u.accessKey)
	req.Header.Set("Accept-Version", "v1")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "unsplash request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.ProviderExhausted(ProviderUnsplash)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("unsplash: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload unsplashSearch
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode unsplash response")
	}
	return payload.Results, nil
}

func toCandidate(p unsplashPhoto) Candidate {
	desc := p.Description
	if desc == "" {
		desc = p.AltDescription
	}
	tags := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		if t.Title != "" {
			tags = append(tags, t.Title)
		}
	}
	return Candidate{
		Provider:    ProviderUnsplash,
		Ref:         p.ID,
		URL:         p.URLs.Regular,
		Width:       p.Width,
		Height:      p.Height,
		Likes:       p.Likes,
		Description: desc,
		Tags:        tags,
		Attribution: Attribution{
			AuthorName: p.User.Name,
			AuthorURL:  p.User.Links.HTML,
			SourceURL:  p.Links.HTML,
		},
	}
}
