package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyRunPostsForPartial(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "TOKEN", "-100", nil)
	err := n.NotifyRun(context.Background(), RunAlert{
		RunID: "r-1", Source: "news", Status: "partial", Fetched: 12, Saved: 3, Errors: 7,
		Duration: 1500 * time.Millisecond, Error: "<timeout>",
	})
	require.NoError(t, err)

	assert.Equal(t, "-100", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	text := got["text"].(string)
	assert.Contains(t, text, "news run partial")
	assert.Contains(t, text, "saved 3, errors 7")
	assert.Contains(t, text, "&lt;timeout&gt;")
}

func TestNotifyRunSkipsSuccessAndUnconfigured(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	require.NoError(t, NewNotifier(srv.URL, "T", "C", nil).NotifyRun(context.Background(), RunAlert{Status: "success"}))
	require.NoError(t, NewNotifier(srv.URL, "", "C", nil).NotifyRun(context.Background(), RunAlert{Status: "failed"}))

	var nilNotifier *Notifier
	require.NoError(t, nilNotifier.NotifyRun(context.Background(), RunAlert{Status: "failed"}))
	assert.Zero(t, calls.Load())
}

func TestSendMessageRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "T", "C", nil)
	n.backoff = time.Millisecond
	err := n.SendMessage(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.EqualValues(t, 2, calls.Load())
}
