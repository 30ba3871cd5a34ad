package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdesk/internal/cache"
	"github.com/deusflow/newsdesk/internal/news"
)

func page(meta string) string {
	return fmt.Sprintf(`<!doctype html><html><head><title>t</title>%s</head><body><p>x</p></body></html>`, meta)
}

func TestLookupPrefersOGImageAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(page(`
			<meta name="twitter:image" content="https://cdn.example/tw.jpg">
			<meta property="og:image" content="https://cdn.example/og.jpg">`)))
	}))
	defer srv.Close()

	o := NewOGImage(time.Second, 2, nil, nil)
	img, err := o.Lookup(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/og.jpg", img)

	img, err = o.Lookup(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/og.jpg", img)
	assert.EqualValues(t, 1, hits.Load())
}

func TestLookupSharesCacheAcrossTrackingVariants(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(page(`<meta property="og:image" content="https://cdn.example/og.jpg">`)))
	}))
	defer srv.Close()

	o := NewOGImage(time.Second, 2, nil, nil)
	for _, u := range []string{srv.URL + "/a?utm_source=feed", srv.URL + "/a/", srv.URL + "/a#top"} {
		img, err := o.Lookup(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example/og.jpg", img)
	}
	assert.EqualValues(t, 1, hits.Load())
}

func TestLookupFallbacks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/twitter":
			_, _ = w.Write([]byte(page(`<meta name="twitter:image" content="https://cdn.example/tw.jpg">`)))
		case "/insecure":
			_, _ = w.Write([]byte(page(`<meta property="og:image" content="http://cdn.example/og.jpg">`)))
		case "/none":
			_, _ = w.Write([]byte(page(``)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOGImage(time.Second, 2, cache.New[string](10, time.Minute), nil)

	img, err := o.Lookup(context.Background(), srv.URL+"/twitter")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/tw.jpg", img)

	img, err = o.Lookup(context.Background(), srv.URL+"/insecure")
	require.NoError(t, err)
	assert.Empty(t, img)

	img, err = o.Lookup(context.Background(), srv.URL+"/none")
	require.NoError(t, err)
	assert.Empty(t, img)

	_, err = o.Lookup(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestResolveRelative(t *testing.T) {
	base, _ := url.Parse("https://news.example/world/story")
	assert.Equal(t, "https://news.example/img/a.jpg", resolve(base, "/img/a.jpg"))
	assert.Equal(t, "https://cdn.example/b.jpg", resolve(base, "//cdn.example/b.jpg"))
	assert.Empty(t, resolve(base, "  "))

	plain, _ := url.Parse("http://news.example/x")
	assert.Empty(t, resolve(plain, "/img/a.jpg"))
}

func TestEnrichCapsAndReportsPending(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/broken" {
			http.Error(w, "x", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(page(`<meta property="og:image" content="https://cdn.example` + r.URL.Path + `.jpg">`)))
	}))
	defer srv.Close()

	items := []news.Item{
		{URL: srv.URL + "/has", ImageURL: "https://already.example/x.jpg"},
		{URL: srv.URL + "/one"},
		{URL: srv.URL + "/broken"},
		{URL: srv.URL + "/three"},
		{URL: srv.URL + "/four"},
	}

	o := NewOGImage(time.Second, 2, nil, nil)
	pending := o.Enrich(context.Background(), items, 2)

	assert.Equal(t, 2, pending)
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, "https://already.example/x.jpg", items[0].ImageURL)
	assert.Equal(t, "https://cdn.example/one.jpg", items[1].ImageURL)
	assert.Empty(t, items[2].ImageURL)
	assert.Empty(t, items[3].ImageURL)
}

func TestEnrichZeroLimit(t *testing.T) {
	o := NewOGImage(time.Second, 2, nil, nil)
	pending := o.Enrich(context.Background(), []news.Item{{URL: "https://example.com/a"}}, 0)
	assert.Equal(t, 1, pending)
}
