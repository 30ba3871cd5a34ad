// Package rss fetches Google News RSS search results.
package rss

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
	"github.com/mmcdole/gofeed"

	"github.com/deusflow/newsdesk/internal/fetch"
	"github.com/deusflow/newsdesk/internal/news"
)

const DefaultEndpoint = "https://news.google.com"

// editions maps a language to the Google News country edition.
var editions = map[string]string{
	"en": "US",
	"ko": "KR",
	"ar": "AE",
}

// GoogleNews searches the Google News RSS endpoint once per query.
type GoogleNews struct {
	endpoint string
	language string
	country  string
	timeout  time.Duration
	client   *http.Client
	log      *slog.Logger
}

func NewGoogleNews(endpoint, language, country string, timeout time.Duration, log *slog.Logger) *GoogleNews {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if language == "" {
		language = "en"
	}
	if country == "" {
		country = "US"
	}
	if log == nil {
		log = slog.Default()
	}
	return &GoogleNews{
		endpoint: strings.TrimRight(endpoint, "/"),
		language: language,
		country:  country,
		timeout:  timeout,
		client:   &http.Client{},
		log:      log.With("component", "google_news"),
	}
}

func (g *GoogleNews) Name() string        { return "google_news_rss" }
func (g *GoogleNews) Source() news.Source { return news.SourceGoogleNews }

// Fetch runs each query sequentially; failures are recorded per query.
func (g *GoogleNews) Fetch(ctx context.Context, req fetch.Request) fetch.Result {
	var res fetch.Result
	successCount := 0

	for _, q := range req.Queries {
		items, err := g.search(ctx, q, req.Language, req.Limit)
		if err != nil {
			g.log.Warn("query failed", "lane", req.Lane, "query", q, "error", err)
			res.Errors = append(res.Errors, fetch.QueryError{
				Source: news.SourceGoogleNews, Lane: req.Lane, Query: q, Err: err.Error(),
			})
			continue
		}
		successCount++
		res.Items = append(res.Items, items...)
	}

	g.log.Debug("lane fetched", "lane", req.Lane, "ok", successCount, "queries", len(req.Queries), "items", len(res.Items))
	return res
}

// SearchURL builds the RSS search URL for a query in the given language.
func (g *GoogleNews) SearchURL(query, language string) string {
	lang, country := g.edition(language)
	params := url.Values{}
	params.Set("q", query)
	params.Set("hl", lang+"-"+country)
	params.Set("gl", country)
	params.Set("ceid", country+":"+lang)
	return g.endpoint + "/rss/search?" + params.Encode()
}

func (g *GoogleNews) edition(language string) (string, string) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return g.language, g.country
	}
	if c, ok := editions[lang]; ok {
		return lang, c
	}
	return lang, g.country
}

func (g *GoogleNews) search(ctx context.Context, query, language string, limit int) ([]news.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = g.client
	feed, err := parser.ParseURLWithContext(g.SearchURL(query, language), ctx)
	if err != nil {
		return nil, errors.Wrap(err, "parse google news feed")
	}

	lang, _ := g.edition(language)
	items := make([]news.Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		if limit > 0 && len(items) >= limit {
			break
		}
		items = append(items, toItem(fi, lang))
	}
	return items, nil
}

func toItem(fi *gofeed.Item, language string) news.Item {
	title, publisher := splitPublisher(fi.Title)
	if publisher == "" && fi.Author != nil {
		publisher = fi.Author.Name
	}
	if publisher == "" {
		publisher = news.Host(fi.Link)
	}

	it := news.Item{
		URL:       fi.Link,
		Title:     title,
		Publisher: publisher,
		Source:    news.SourceGoogleNews,
		Language:  language,
		Summary:   plainText(fi.Description),
	}
	if fi.PublishedParsed != nil {
		it.PublishedAt = fi.PublishedParsed.UTC()
	} else if fi.UpdatedParsed != nil {
		it.PublishedAt = fi.UpdatedParsed.UTC()
	}
	if fi.Image != nil && strings.HasPrefix(fi.Image.URL, "https://") {
		it.ImageURL = fi.Image.URL
	}
	return it
}

// splitPublisher separates Google's "Headline - Publisher" title suffix.
func splitPublisher(title string) (string, string) {
	title = strings.TrimSpace(title)
	i := strings.LastIndex(title, " - ")
	if i <= 0 {
		return title, ""
	}
	return strings.TrimSpace(title[:i]), strings.TrimSpace(title[i+3:])
}

// plainText flattens an HTML description into text.
func plainText(html string) string {
	if !strings.Contains(html, "<") {
		return strings.TrimSpace(html)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
