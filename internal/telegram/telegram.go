// Package telegram posts run alerts to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const DefaultAPIBase = "https://api.telegram.org"

// Notifier sends plain HTML messages through the Bot API.
type Notifier struct {
	apiBase    string
	token      string
	chatID     string
	maxRetries int
	backoff    time.Duration
	client     *http.Client
	log        *slog.Logger
}

func NewNotifier(apiBase, token, chatID string, log *slog.Logger) *Notifier {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		apiBase:    strings.TrimRight(apiBase, "/"),
		token:      token,
		chatID:     chatID,
		maxRetries: 2,
		backoff:    time.Second,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log.With("component", "telegram"),
	}
}

// Enabled reports whether both token and chat are configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.token != "" && n.chatID != ""
}

// SendMessage posts text with a short bounded retry.
func (n *Notifier) SendMessage(ctx context.Context, text string) error {
	var lastErr error
	for attempt := 1; attempt <= n.maxRetries; attempt++ {
		lastErr = n.sendMessageOnce(ctx, text)
		if lastErr == nil {
			return nil
		}
		n.log.Warn("send failed", "attempt", attempt, "max", n.maxRetries, "error", lastErr)

		if attempt < n.maxRetries {
			wait := time.Duration(attempt) * n.backoff
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return errors.Wrapf(lastErr, "can't send message after %d tries", n.maxRetries)
}

func (n *Notifier) sendMessageOnce(ctx context.Context, text string) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "error make JSON")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "error HTTP request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("telegram API error: status %d", resp.StatusCode)
	}
	return nil
}

// RunAlert is the summary posted when a run does not succeed.
type RunAlert struct {
	RunID    string
	Source   string
	Status   string
	Fetched  int
	Saved    int
	Errors   int
	Duration time.Duration
	Error    string
}

func FormatRunAlert(a RunAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>newsdesk %s run %s</b>\n", html.EscapeString(a.Source), html.EscapeString(a.Status))
	fmt.Fprintf(&b, "run: <code>%s</code>\n", html.EscapeString(a.RunID))
	fmt.Fprintf(&b, "fetched %d, saved %d, errors %d in %s", a.Fetched, a.Saved, a.Errors, a.Duration.Round(time.Millisecond))
	if a.Error != "" {
		msg := a.Error
		if len(msg) > 500 {
			msg = msg[:500] + "..."
		}
		fmt.Fprintf(&b, "\n<i>%s</i>", html.EscapeString(msg))
	}
	return b.String()
}

// NotifyRun posts an alert for non-success runs; it is a no-op when the
// notifier is not configured or the run succeeded.
func (n *Notifier) NotifyRun(ctx context.Context, a RunAlert) error {
	if !n.Enabled() || a.Status == "success" {
		return nil
	}
	return n.SendMessage(ctx, FormatRunAlert(a))
}
