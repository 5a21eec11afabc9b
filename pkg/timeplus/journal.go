package timeplus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neuroca/alert-router/pkg/models"
)

// Stream names for the audit journal
const (
	AlertEventsStream     = "nc_alert_events"
	NotificationLogStream = "nc_notification_log"
)

const journalQueueDepth = 1024

// journalEntry is one pending write for the journal worker.
type journalEntry struct {
	stream  string
	columns []string
	values  []interface{}
}

// AlertJournal is an append-only audit trail of ingested alert events and
// notification outcomes, backed by Timeplus streams. Writes are queued and
// performed by a background worker so journaling never blocks the ingest or
// dispatch hot paths; when the queue is full, entries are dropped with a
// warning rather than applying backpressure.
type AlertJournal struct {
	client TimeplusClient
	queue  chan journalEntry
}

// NewAlertJournal creates a journal over the given client.
func NewAlertJournal(client TimeplusClient) *AlertJournal {
	return &AlertJournal{
		client: client,
		queue:  make(chan journalEntry, journalQueueDepth),
	}
}

// SetupStreams ensures the journal streams exist with the expected schemas.
func (j *AlertJournal) SetupStreams(ctx context.Context) error {
	eventSchema := []Column{
		{Name: "fingerprint", Type: "string"},
		{Name: "alertname", Type: "string"},
		{Name: "labels", Type: "string"},
		{Name: "annotations", Type: "string"},
		{Name: "state", Type: "string"},
		{Name: "starts_at", Type: "datetime64"},
		{Name: "ends_at", Type: "datetime64", Nullable: true},
		{Name: "received_at", Type: "datetime64"},
	}
	if err := j.client.CreateStream(ctx, AlertEventsStream, eventSchema); err != nil {
		return err
	}

	logSchema := []Column{
		{Name: "group_key", Type: "string"},
		{Name: "receiver", Type: "string"},
		{Name: "status", Type: "string"},
		{Name: "alert_count", Type: "int32"},
		{Name: "delivered", Type: "bool"},
		{Name: "error", Type: "string", Nullable: true},
		{Name: "created_at", Type: "datetime64"},
	}
	return j.client.CreateStream(ctx, NotificationLogStream, logSchema)
}

// Run drains the write queue until ctx is cancelled.
func (j *AlertJournal) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-j.queue:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := j.client.InsertIntoStream(writeCtx, entry.stream, entry.columns, entry.values)
			cancel()
			if err != nil {
				logrus.Errorf("Journal write to %s failed: %v", entry.stream, err)
			}
		}
	}
}

// RecordAlert journals one accepted alert event.
func (j *AlertJournal) RecordAlert(a *models.Alert) {
	labels, _ := json.Marshal(a.Labels)
	annotations, _ := json.Marshal(a.Annotations)

	j.enqueue(journalEntry{
		stream: AlertEventsStream,
		columns: []string{
			"fingerprint", "alertname", "labels", "annotations",
			"state", "starts_at", "ends_at", "received_at",
		},
		values: []interface{}{
			a.Fingerprint().String(),
			a.Name(),
			string(labels),
			string(annotations),
			string(a.State()),
			a.StartsAt,
			a.EndsAt,
			a.UpdatedAt,
		},
	})
}

// RecordNotification journals the outcome of one dispatched batch. A nil
// deliveryErr means the batch was delivered (or the receiver is an empty
// placeholder).
func (j *AlertJournal) RecordNotification(n *models.Notification, deliveryErr error) {
	errStr := ""
	if deliveryErr != nil {
		errStr = deliveryErr.Error()
	}

	j.enqueue(journalEntry{
		stream: NotificationLogStream,
		columns: []string{
			"group_key", "receiver", "status", "alert_count",
			"delivered", "error", "created_at",
		},
		values: []interface{}{
			n.GroupKey,
			n.Receiver,
			string(n.Status),
			int32(len(n.Alerts)),
			deliveryErr == nil,
			errStr,
			time.Now(),
		},
	})
}

func (j *AlertJournal) enqueue(entry journalEntry) {
	select {
	case j.queue <- entry:
	default:
		logrus.Warnf("Journal queue full, dropping entry for %s", entry.stream)
	}
}
