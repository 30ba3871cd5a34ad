package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRunUpdatesHealth(t *testing.T) {
	m := New()
	assert.True(t, m.Health().IsHealthy)

	m.RecordRun("news", "failed", 2*time.Second, "all sources failed")
	h := m.Health()
	assert.False(t, h.IsHealthy)
	assert.Equal(t, "failed", h.LastStatus)
	assert.Equal(t, "all sources failed", h.LastError)

	m.RecordRun("news", "partial", time.Second, "")
	h = m.Health()
	assert.True(t, h.IsHealthy)
	assert.Equal(t, "all sources failed", h.LastError, "last error is kept")
	assert.EqualValues(t, 2, h.RunCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("news", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("news", "partial")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ItemsFetched.WithLabelValues("newsapi").Add(4)
	m.ItemsSaved.Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `newsdesk_items_fetched_total{source="newsapi"} 4`)
	assert.Contains(t, string(body), `newsdesk_items_saved_total 3`)
}
