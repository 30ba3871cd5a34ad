// Package scraper reads preview images from article pages.
package scraper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsdesk/internal/cache"
	"github.com/deusflow/newsdesk/internal/news"
)

const (
	maxPageBytes     = 2 << 20
	defaultUserAgent = "newsdesk/1.0 (+preview-image)"
)

var imageSelectors = []string{
	`meta[property="og:image:secure_url"]`,
	`meta[property="og:image"]`,
	`meta[name="twitter:image"]`,
	`meta[name="twitter:image:src"]`,
}

// OGImage looks up og:image / twitter:image for article URLs. Hits and
// misses are cached so repeated runs do not refetch the same page.
type OGImage struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int
	cache       *cache.TTL[string]
	log         *slog.Logger
}

func NewOGImage(timeout time.Duration, concurrency int, c *cache.TTL[string], log *slog.Logger) *OGImage {
	if concurrency <= 0 {
		concurrency = 4
	}
	if c == nil {
		c = cache.New[string](cache.DefaultSize, cache.DefaultTTL)
	}
	if log == nil {
		log = slog.Default()
	}
	return &OGImage{
		client:      &http.Client{},
		timeout:     timeout,
		concurrency: concurrency,
		cache:       c,
		log:         log.With("component", "og_image"),
	}
}

// Lookup returns the page's https preview image or "" when it has none.
func (o *OGImage) Lookup(ctx context.Context, pageURL string) (string, error) {
	key := cache.Key(news.CanonicalURL(pageURL))
	if v, ok := o.cache.Get(key); ok {
		return v, nil
	}

	img, err := o.fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	o.cache.Set(key, img)
	return img, nil
}

func (o *OGImage) fetch(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "build page request")
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "load page")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("HTTP error: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", errors.Wrap(err, "parse HTML")
	}

	base := resp.Request.URL
	for _, sel := range imageSelectors {
		content, ok := doc.Find(sel).First().Attr("content")
		if !ok {
			continue
		}
		if img := resolve(base, content); img != "" {
			return img, nil
		}
	}
	return "", nil
}

// resolve makes ref absolute against base and keeps it only if https.
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}

// Enrich fills ImageURL for at most limit items lacking one, concurrently.
// Failures leave the item without an image. It returns how many items
// past the cap still have no image.
func (o *OGImage) Enrich(ctx context.Context, items []news.Item, limit int) (pending int) {
	var targets []int
	for i := range items {
		if items[i].ImageURL != "" {
			continue
		}
		if len(targets) < limit {
			targets = append(targets, i)
		} else {
			pending++
		}
	}
	if len(targets) == 0 {
		return pending
	}

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, idx := range targets {
		idx := idx
		g.Go(func() error {
			img, err := o.Lookup(ctx, items[idx].URL)
			if err != nil {
				o.log.Debug("preview image lookup failed", "url", items[idx].URL, "error", err)
				return nil
			}
			items[idx].ImageURL = img
			return nil
		})
	}
	_ = g.Wait()

	found := 0
	for _, idx := range targets {
		if items[idx].ImageURL != "" {
			found++
		}
	}
	o.log.Info("preview images enriched", "attempted", len(targets), "found", found, "pending", pending)
	return pending
}
