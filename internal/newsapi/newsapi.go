// Package newsapi is the keyword-search adapter for NewsAPI-compatible
// /v2/everything endpoints.
package newsapi

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

	"github.com/deusflow/newsdesk/internal/fetch"
	"github.com/deusflow/newsdesk/internal/news"
)

const (
	DefaultEndpoint = "https://newsapi.org"
	maxPageSize     = 100
)

type Client struct {
	endpoint string
	apiKey   string
	language string
	timeout  time.Duration
	client   *http.Client
	log      *slog.Logger
}

func New(endpoint, apiKey, language string, timeout time.Duration, log *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if language == "" {
		language = "en"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		language: language,
		timeout:  timeout,
		client:   &http.Client{},
		log:      log.With("component", "newsapi"),
	}
}

func (c *Client) Name() string        { return "newsapi" }
func (c *Client) Source() news.Source { return news.SourceNewsAPI }

type response struct {
	Status       string    `json:"status"`
	Code         string    `json:"code"`
	Message      string    `json:"message"`
	TotalResults int       `json:"totalResults"`
	Articles     []article `json:"articles"`
}

type article struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	URLToImage  string    `json:"urlToImage"`
	PublishedAt time.Time `json:"publishedAt"`
}

func (c *Client) Fetch(ctx context.Context, req fetch.Request) fetch.Result {
	var res fetch.Result
	for _, q := range req.Queries {
		items, err := c.search(ctx, q, req.Language, req.Limit)
		if err != nil {
			c.log.Warn("query failed", "lane", req.Lane, "query", q, "error", err)
			res.Errors = append(res.Errors, fetch.QueryError{
				Source: news.SourceNewsAPI, Lane: req.Lane, Query: q, Err: err.Error(),
			})
			continue
		}
		res.Items = append(res.Items, items...)
	}
	return res
}

func (c *Client) search(ctx context.Context, query, language string, limit int) ([]news.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if language == "" {
		language = c.language
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("language", language)
	params.Set("pageSize", strconv.Itoa(limit))
	params.Set("sortBy", "publishedAt")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v2/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "newsapi request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read newsapi response")
	}

	var payload response
	decodeErr := json.Unmarshal(body, &payload)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && payload.Message != "" {
			return nil, errors.Newf("newsapi: status %d: %s: %s", resp.StatusCode, payload.Code, payload.Message)
		}
		return nil, errors.Newf("newsapi: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, errors.Wrap(decodeErr, "decode newsapi response")
	}
	if payload.Status == "error" {
		return nil, errors.Newf("newsapi: %s: %s", payload.Code, payload.Message)
	}

	items := make([]news.Item, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		if a.Title == "" || a.Title == "[Removed]" || a.URL == "" {
			continue
		}
		it := news.Item{
			URL:         a.URL,
			Title:       a.Title,
			Publisher:   a.Source.Name,
			Source:      news.SourceNewsAPI,
			Language:    language,
			PublishedAt: a.PublishedAt.UTC(),
			Summary:     a.Description,
		}
		if it.Publisher == "" {
			it.Publisher = news.Host(a.URL)
		}
		if strings.HasPrefix(a.URLToImage, "https://") {
			it.ImageURL = a.URLToImage
		}
		items = append(items, it)
	}
	return items, nil
}
