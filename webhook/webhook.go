package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ornabmomin/poem-api/models"
)

// EventEpisodesRefreshed is sent after a run produced a fresh episode set.
const EventEpisodesRefreshed = "episodes.refreshed"

// SignatureHeader carries the HMAC-SHA256 of the body as "sha256=<hex>".
const SignatureHeader = "X-Poem-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if secret is non-empty.
func Deliver(ctx context.Context, client *http.Client, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Poem-API-Webhook/1.0")

	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Notifier delivers refresh events in the background with retries.
type Notifier struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger

	// Delays before each attempt. The first is normally zero.
	Delays []time.Duration

	wg sync.WaitGroup
}

// NewNotifier creates a Notifier posting to url.
func NewNotifier(url, secret string, timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		url:     url,
		secret:  secret,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		Delays:  []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// EpisodesRefreshed queues an episodes.refreshed event. It never blocks.
func (n *Notifier) EpisodesRefreshed(runID string, episodes []models.Episode) {
	event := &Event{
		Type:      EventEpisodesRefreshed,
		RunID:     runID,
		Timestamp: time.Now().Unix(),
		Data:      episodes,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliverWithRetry(event)
	}()
}

func (n *Notifier) deliverWithRetry(event *Event) {
	for attempt, delay := range n.Delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := Deliver(ctx, n.client, n.url, n.secret, event)
		cancel()
		if err == nil {
			n.logger.Info("webhook delivered",
				"url", n.url,
				"event", event.Type,
				"run_id", event.RunID,
				"attempt", attempt+1,
			)
			return
		}
		n.logger.Warn("webhook delivery failed",
			"url", n.url,
			"event", event.Type,
			"run_id", event.RunID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	n.logger.Error("webhook delivery exhausted all retries",
		"url", n.url,
		"event", event.Type,
		"run_id", event.RunID,
	)
}

// Wait blocks until queued deliveries finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
