// Package notify delivers flushed notification batches to their receivers.
package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/neuroca/alert-router/pkg/config"
	"github.com/neuroca/alert-router/pkg/metrics"
	"github.com/neuroca/alert-router/pkg/models"
)

// Notifier delivers one notification batch to a single destination.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// Journal records notification outcomes for auditing. Implementations must
// not block the caller for long; delivery accounting never gates routing.
type Journal interface {
	RecordNotification(n *models.Notification, deliveryErr error)
}

// Broadcaster pushes dispatched notifications to live API consumers.
type Broadcaster interface {
	BroadcastNotification(n *models.Notification)
}

// Pipeline resolves a receiver name to its configured notifiers and drives
// delivery. Delivery runs on the dispatcher's flush goroutines, detached
// from group state: a failed delivery never corrupts or rewinds grouping
// decisions, giving at-least-once semantics.
type Pipeline struct {
	journal     Journal
	broadcaster Broadcaster

	mu        sync.RWMutex
	receivers map[string][]Notifier
}

// NewPipeline builds the receiver table from configuration.
func NewPipeline(cfgs []*config.ReceiverConfig) *Pipeline {
	return &Pipeline{receivers: buildReceivers(cfgs)}
}

func buildReceivers(cfgs []*config.ReceiverConfig) map[string][]Notifier {
	receivers := make(map[string][]Notifier, len(cfgs))
	for _, cfg := range cfgs {
		notifiers := make([]Notifier, 0, len(cfg.Webhooks))
		for _, wh := range cfg.Webhooks {
			notifiers = append(notifiers, NewWebhookNotifier(wh))
		}
		receivers[cfg.Name] = notifiers
	}
	return receivers
}

// SetJournal attaches an audit journal for notification outcomes.
func (p *Pipeline) SetJournal(j Journal) {
	p.journal = j
}

// SetBroadcaster attaches a live feed for dispatched notifications.
func (p *Pipeline) SetBroadcaster(b Broadcaster) {
	p.broadcaster = b
}

// UpdateReceivers swaps in a new receiver table on configuration reload.
func (p *Pipeline) UpdateReceivers(cfgs []*config.ReceiverConfig) {
	receivers := buildReceivers(cfgs)
	p.mu.Lock()
	p.receivers = receivers
	p.mu.Unlock()
}

// ReceiverNames returns the configured receiver names.
func (p *Pipeline) ReceiverNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.receivers))
	for name := range p.receivers {
		names = append(names, name)
	}
	return names
}

// Send delivers n to every notifier of its receiver.
func (p *Pipeline) Send(ctx context.Context, n *models.Notification) {
	metrics.NotificationsTotal.WithLabelValues(n.Receiver).Inc()

	p.mu.RLock()
	notifiers, ok := p.receivers[n.Receiver]
	p.mu.RUnlock()

	var deliveryErr error
	switch {
	case !ok:
		// Validation guarantees routed receivers exist; this can only be a
		// reload race. The batch will be re-sent by the repeat interval.
		logrus.Warnf("Receiver %q not configured, dropping batch %s", n.Receiver, n.GroupKey)
	case len(notifiers) == 0:
		// Placeholder receiver: accounted, intentionally not delivered.
		logrus.Debugf("Receiver %q has no notification targets, batch %s discarded", n.Receiver, n.GroupKey)
	default:
		for _, nf := range notifiers {
			if err := nf.Notify(ctx, n); err != nil {
				deliveryErr = err
				metrics.NotificationFailures.WithLabelValues(n.Receiver).Inc()
				logrus.Errorf("Delivery to receiver %q failed: %v", n.Receiver, err)
			}
		}
		if deliveryErr == nil {
			logrus.Infof("Delivered %d alert(s) for group %s to receiver %q", len(n.Alerts), n.GroupKey, n.Receiver)
		}
	}

	if p.journal != nil {
		p.journal.RecordNotification(n, deliveryErr)
	}
	if p.broadcaster != nil {
		p.broadcaster.BroadcastNotification(n)
	}
}
