package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neuroca/alert-router/pkg/config"
	"github.com/neuroca/alert-router/pkg/models"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	initialBackoff    = time.Second
	maxBackoff        = 30 * time.Second
)

// WebhookNotifier delivers notification batches as JSON POST requests.
// Transient failures are retried with bounded exponential backoff; a
// request rejected with a non-retriable status fails immediately.
type WebhookNotifier struct {
	url          string
	maxRetries   int
	sendResolved bool
	client       *http.Client
}

// NewWebhookNotifier creates a notifier for one webhook target.
func NewWebhookNotifier(cfg *config.WebhookConfig) *WebhookNotifier {
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &WebhookNotifier{
		url:          cfg.URL,
		maxRetries:   maxRetries,
		sendResolved: cfg.NotifyResolved(),
		client:       &http.Client{Timeout: timeout},
	}
}

// Notify delivers the batch. It returns an error only after every retry has
// been exhausted.
func (w *WebhookNotifier) Notify(ctx context.Context, n *models.Notification) error {
	if n.Status == models.AlertStateResolved && !w.sendResolved {
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			logrus.Warnf("Retrying webhook %s (attempt %d/%d): %v", w.url, attempt, w.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		retriable, err := w.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable {
			return err
		}
	}
	return fmt.Errorf("webhook %s failed after %d retries: %w", w.url, w.maxRetries, lastErr)
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) (retriable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 400:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
}
