package photo

import (
	"bytes"
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

const (
	DefaultPlacesEndpoint = "https://places.googleapis.com"
	placesMaxWidthPx      = 1600
)

// Places is the verified-location provider backed by the Places API text
// search. The key travels in the X-Goog-Api-Key header, never in URLs.
type Places struct {
	endpoint string
	apiKey   string
	client   *http.Client
	budget   *ratelimit.Budget
	log      *slog.Logger
}

func NewPlaces(endpoint, apiKey string, timeout time.Duration, budget *ratelimit.Budget, log *slog.Logger) *Places {
	if endpoint == "" {
		endpoint = DefaultPlacesEndpoint
	}
	if log == nil {
		log = slog.Default()
	}
	return &Places{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		budget:   budget,
		log:      log.With("component", "places"),
	}
}

func (p *Places) Name() string { return ProviderPlaces }

type placesSearchResponse struct {
	Places []struct {
		ID          string `json:"id"`
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		Photos []placesPhoto `json:"photos"`
	} `json:"places"`
}

type placesPhoto struct {
	Name               string `json:"name"`
	WidthPx            int    `json:"widthPx"`
	HeightPx           int    `json:"heightPx"`
	AuthorAttributions []struct {
		DisplayName string `json:"displayName"`
		URI         string `json:"uri"`
	} `json:"authorAttributions"`
}

type placesMediaResponse struct {
	PhotoURI string `json:"photoUri"`
}

// Search finds the best matching place and resolves up to limit of its
// photos to public URLs.
func (p *Places) Search(ctx context.Context, place Place, limit int) ([]Candidate, error) {
	query := place.LocationQuery()
	if query == "" {
		return nil, nil
	}
	if err := p.budget.Use(ProviderPlaces); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]any{"textQuery": query, "pageSize": 1})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build places request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-FieldMask", "places.id,places.displayName,places.photos")

	var found placesSearchResponse
	if err := p.do(req, &found); err != nil {
		return nil, err
	}
	if len(found.Places) == 0 {
		return nil, nil
	}

	hit := found.Places[0]
	var out []Candidate
	for _, ph := range hit.Photos {
		if len(out) >= limit {
			break
		}
		uri, err := p.media(ctx, ph.Name)
		if err != nil {
			if errors.Is(err, apperr.ErrProviderExhausted) {
				return out, err
			}
			p.log.Warn("photo media lookup failed", "slug", place.Slug, "photo", ph.Name, "error", err)
			continue
		}
		c := Candidate{
			Provider:    ProviderPlaces,
			Ref:         ph.Name,
			URL:         uri,
			Width:       ph.WidthPx,
			Height:      ph.HeightPx,
			Verified:    true,
			Description: hit.DisplayName.Text,
		}
		if len(ph.AuthorAttributions) > 0 {
			c.Attribution = Attribution{
				AuthorName: ph.AuthorAttributions[0].DisplayName,
				AuthorURL:  ph.AuthorAttributions[0].URI,
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *Places) media(ctx context.Context, name string) (string, error) {
	if err := p.budget.Use(ProviderPlaces); err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("maxWidthPx", strconv.Itoa(placesMaxWidthPx))
	params.Set("skipHttpRedirect", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/v1/"+name+"/media?"+params.Encode(), nil)
	if err != nil {
		return "", errors.Wrap(err, "build media request")
	}

	var media placesMediaResponse
	if err := p.do(req, &media); err != nil {
		return "", err
	}
	if media.PhotoURI == "" {
		return "", errors.New("places: empty photo uri")
	}
	return media.PhotoURI, nil
}

func (p *Places) do(req *http.Request, into any) error {
	req.Header.Set("X-Goog-Api-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "places request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperr.ProviderExhausted(ProviderPlaces)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("places: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(into), "decode places response")
}
