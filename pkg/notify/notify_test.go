package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroca/alert-router/pkg/config"
	"github.com/neuroca/alert-router/pkg/models"
)

func testNotification(status models.AlertState) *models.Notification {
	now := time.Now()
	a := &models.Alert{
		Labels:    model.LabelSet{"alertname": "X", "severity": "critical"},
		StartsAt:  now.Add(-time.Minute),
		UpdatedAt: now,
	}
	if status == models.AlertStateResolved {
		a.EndsAt = now
	}
	return &models.Notification{
		Receiver:    "oncall",
		Status:      status,
		GroupKey:    "{}/severity=\"critical\":{alertname=\"X\"}",
		GroupLabels: model.LabelSet{"alertname": "X"},
		Alerts:      []*models.Alert{a},
	}
}

func webhookCfg(url string, retries int) *config.WebhookConfig {
	return &config.WebhookConfig{URL: url, Timeout: model.Duration(time.Second), MaxRetries: retries}
}

func TestWebhookDeliversBatch(t *testing.T) {
	var got *models.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhookNotifier(webhookCfg(srv.URL, 1))
	require.NoError(t, wh.Notify(context.Background(), testNotification(models.AlertStateFiring)))

	require.NotNil(t, got)
	assert.Equal(t, "oncall", got.Receiver)
	assert.Equal(t, models.AlertStateFiring, got.Status)
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, "X", got.Alerts[0].Name())
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhookNotifier(webhookCfg(srv.URL, 3))
	err := wh.Notify(context.Background(), testNotification(models.AlertStateFiring))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts, "a 5xx is retried until it succeeds")
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhookNotifier(webhookCfg(srv.URL, 5))
	err := wh.Notify(context.Background(), testNotification(models.AlertStateFiring))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts, "a 4xx rejection is final")
}

func TestWebhookSkipsResolvedWhenConfigured(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	sendResolved := false
	cfg := webhookCfg(srv.URL, 1)
	cfg.SendResolved = &sendResolved

	wh := NewWebhookNotifier(cfg)
	require.NoError(t, wh.Notify(context.Background(), testNotification(models.AlertStateResolved)))
	assert.False(t, called, "resolved batches are dropped when send_resolved is off")
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeNotifier) Notify(context.Context, *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type fakeJournal struct {
	mu      sync.Mutex
	records []error
}

func (f *fakeJournal) RecordNotification(_ *models.Notification, deliveryErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, deliveryErr)
}

func TestPipelineSendFansOutAndJournals(t *testing.T) {
	p := NewPipeline(nil)
	nf := &fakeNotifier{}
	p.receivers = map[string][]Notifier{"oncall": {nf}}

	j := &fakeJournal{}
	p.SetJournal(j)

	p.Send(context.Background(), testNotification(models.AlertStateFiring))

	assert.Equal(t, 1, nf.calls)
	require.Len(t, j.records, 1)
	assert.NoError(t, j.records[0])
}

func TestPipelineJournalsDeliveryFailure(t *testing.T) {
	p := NewPipeline(nil)
	nf := &fakeNotifier{err: assert.AnError}
	p.receivers = map[string][]Notifier{"oncall": {nf}}

	j := &fakeJournal{}
	p.SetJournal(j)

	p.Send(context.Background(), testNotification(models.AlertStateFiring))

	require.Len(t, j.records, 1)
	assert.Error(t, j.records[0])
}

func TestPipelinePlaceholderReceiverDiscards(t *testing.T) {
	p := NewPipeline([]*config.ReceiverConfig{{Name: "default"}})

	j := &fakeJournal{}
	p.SetJournal(j)

	n := testNotification(models.AlertStateFiring)
	n.Receiver = "default"
	p.Send(context.Background(), n)

	// Discarded but still journaled.
	require.Len(t, j.records, 1)
	assert.NoError(t, j.records[0])
}

func TestUpdateReceivers(t *testing.T) {
	p := NewPipeline([]*config.ReceiverConfig{{Name: "old"}})
	assert.Equal(t, []string{"old"}, p.ReceiverNames())

	p.UpdateReceivers([]*config.ReceiverConfig{
		{Name: "oncall", Webhooks: []*config.WebhookConfig{{URL: "http://example.com/hook"}}},
	})
	assert.Equal(t, []string{"oncall"}, p.ReceiverNames())
}
