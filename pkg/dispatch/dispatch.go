// Package dispatch implements the router's grouping and notification
// scheduling: alerts are aggregated into per-route groups, batched on the
// group's timers, and handed to the notification pipeline.
package dispatch

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/common/model"
	"github.com/sirupsen/logrus"

	"github.com/neuroca/alert-router/pkg/metrics"
	"github.com/neuroca/alert-router/pkg/models"
	"github.com/neuroca/alert-router/pkg/routing"
	"github.com/neuroca/alert-router/pkg/store"
)

// Muter decides whether an alert with the given labels is currently
// suppressed. Both the silencer and the inhibitor implement it.
type Muter interface {
	Mutes(model.LabelSet) bool
}

// Sender delivers one flushed notification batch. Delivery outcome never
// feeds back into grouping state.
type Sender interface {
	Send(ctx context.Context, n *models.Notification)
}

// Dispatcher routes ingested alerts into aggregation groups and schedules
// their notification flushes. Each group runs its own timer goroutine, so a
// slow flush on one group never blocks ingestion or other groups.
type Dispatcher struct {
	store     *store.Store
	sender    Sender
	silencer  Muter
	inhibitor Muter

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	route  *routing.Route
	groups map[string]*aggrGroup
}

// New creates a dispatcher over the given route tree. silencer and
// inhibitor may be nil.
func New(route *routing.Route, st *store.Store, sender Sender, silencer, inhibitor Muter) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:     st,
		sender:    sender,
		silencer:  silencer,
		inhibitor: inhibitor,
		ctx:       ctx,
		cancel:    cancel,
		route:     route,
		groups:    make(map[string]*aggrGroup),
	}
}

// Ingest stores the given alert events and files each one into the
// aggregation group of every route it matches. A new group starts its
// group_wait timer; an existing group buffers the alert until its next
// scheduled flush.
func (d *Dispatcher) Ingest(alerts ...*models.Alert) {
	for _, a := range alerts {
		stored := d.store.Set(a)
		metrics.AlertsReceived.WithLabelValues(string(stored.State())).Inc()

		d.mu.Lock()
		for _, rt := range d.route.Match(stored.Labels) {
			groupLabels := projectLabels(stored.Labels, rt.GroupBy)
			key := rt.Key() + ":" + groupLabels.String()

			ag, ok := d.groups[key]
			if !ok {
				ag = newAggrGroup(d.ctx, rt, key, groupLabels)
				d.groups[key] = ag
				metrics.ActiveGroups.Set(float64(len(d.groups)))
				logrus.Debugf("Created aggregation group %s", key)
				go ag.run(d.flush)
			}
			ag.insert(stored)
		}
		d.mu.Unlock()
	}
}

// GroupStatus is a point-in-time view of one aggregation group.
type GroupStatus struct {
	GroupKey string          `json:"groupKey"`
	Receiver string          `json:"receiver"`
	Labels   model.LabelSet  `json:"labels"`
	Alerts   []*models.Alert `json:"alerts"`
}

// Groups returns the current aggregation groups, sorted by group key.
func (d *Dispatcher) Groups() []*GroupStatus {
	d.mu.Lock()
	groups := make([]*aggrGroup, 0, len(d.groups))
	for _, ag := range d.groups {
		groups = append(groups, ag)
	}
	d.mu.Unlock()

	out := make([]*GroupStatus, 0, len(groups))
	for _, ag := range groups {
		out = append(out, &GroupStatus{
			GroupKey: ag.key,
			Receiver: ag.route.Receiver,
			Labels:   ag.labels,
			Alerts:   ag.snapshot(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupKey < out[j].GroupKey })
	return out
}

// UpdateRoute replaces the route tree on configuration reload. Existing
// groups are torn down; active alerts re-group under the new tree as their
// next events arrive.
func (d *Dispatcher) UpdateRoute(route *routing.Route) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ag := range d.groups {
		ag.stop()
	}
	d.groups = make(map[string]*aggrGroup)
	d.route = route
	metrics.ActiveGroups.Set(0)
	logrus.Info("Route tree replaced, aggregation groups reset")
}

// Stop cancels all group timers. In-flight deliveries are abandoned.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// flush assembles the group's current batch, applies silences and
// inhibition, and dispatches a notification when the batch changed or the
// repeat interval lapsed. A group whose last member resolved is flushed one
// final time and then torn down.
func (d *Dispatcher) flush(ag *aggrGroup) {
	now := time.Now()

	ag.mu.Lock()

	alerts := make([]*models.Alert, 0, len(ag.alerts))
	for fp := range ag.alerts {
		// Pick up state transitions ingested since the alert was filed.
		if cur, ok := d.store.Get(fp); ok {
			ag.alerts[fp] = cur
		}
		alerts = append(alerts, ag.alerts[fp])
	}

	batch := make([]*models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !a.ResolvedAt(now) {
			if d.silencer != nil && d.silencer.Mutes(a.Labels) {
				metrics.AlertsSuppressed.WithLabelValues(metrics.ReasonSilenced).Inc()
				continue
			}
			if d.inhibitor != nil && d.inhibitor.Mutes(a.Labels) {
				metrics.AlertsSuppressed.WithLabelValues(metrics.ReasonInhibited).Inc()
				continue
			}
		}
		batch = append(batch, a)
	}

	if len(batch) > 0 {
		hash := batchHash(batch, now)
		changed := hash != ag.lastHash
		if changed || now.Sub(ag.lastNotify) >= ag.route.RepeatInterval {
			n := buildNotification(ag, batch, now)
			ag.lastHash = hash
			ag.lastNotify = now
			go d.sender.Send(d.ctx, n)
		}
	}

	// Resolved members have been reported (or were never notifiable);
	// drop them so the group can dissolve.
	for fp, a := range ag.alerts {
		if a.ResolvedAt(now) {
			delete(ag.alerts, fp)
		}
	}
	empty := len(ag.alerts) == 0
	ag.mu.Unlock()

	if empty {
		d.removeGroup(ag)
	}
}

func (d *Dispatcher) removeGroup(ag *aggrGroup) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// An alert may have been filed between the flush and this point;
	// ingestion holds the dispatcher lock, so the check is race-free here.
	if !ag.empty() {
		return
	}
	if _, ok := d.groups[ag.key]; !ok {
		return
	}
	ag.stop()
	delete(d.groups, ag.key)
	metrics.ActiveGroups.Set(float64(len(d.groups)))
	logrus.Debugf("Removed empty aggregation group %s", ag.key)
}

func buildNotification(ag *aggrGroup, batch []*models.Alert, now time.Time) *models.Notification {
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].Fingerprint() < batch[j].Fingerprint()
	})

	status := models.AlertStateResolved
	for _, a := range batch {
		if !a.ResolvedAt(now) {
			status = models.AlertStateFiring
			break
		}
	}

	return &models.Notification{
		Receiver:          ag.route.Receiver,
		Status:            status,
		GroupKey:          ag.key,
		GroupLabels:       ag.labels,
		CommonLabels:      models.CommonLabels(batch),
		CommonAnnotations: models.CommonAnnotations(batch),
		Alerts:            batch,
	}
}

// projectLabels restricts ls to the route's group_by label names. Labels
// absent from the alert are simply not part of the projection.
func projectLabels(ls model.LabelSet, groupBy []model.LabelName) model.LabelSet {
	out := model.LabelSet{}
	for _, name := range groupBy {
		if value, ok := ls[name]; ok {
			out[name] = value
		}
	}
	return out
}

// batchHash digests the identities and states of a batch so an unchanged
// group is not re-notified before its repeat interval.
func batchHash(batch []*models.Alert, now time.Time) uint64 {
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].Fingerprint() < batch[j].Fingerprint()
	})

	h := fnv.New64a()
	for _, a := range batch {
		h.Write([]byte(a.Fingerprint().String()))
		if a.ResolvedAt(now) {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	return h.Sum64()
}

// aggrGroup is one aggregation group: the alerts sharing a group_by
// projection under one route, plus the flush schedule state. Its timer
// goroutine is the only place flushes happen, so a single group can never
// flush twice concurrently.
type aggrGroup struct {
	route  *routing.Route
	key    string
	labels model.LabelSet

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	alerts     map[model.Fingerprint]*models.Alert
	lastNotify time.Time
	lastHash   uint64
}

func newAggrGroup(ctx context.Context, route *routing.Route, key string, labels model.LabelSet) *aggrGroup {
	ag := &aggrGroup{
		route:  route,
		key:    key,
		labels: labels,
		alerts: make(map[model.Fingerprint]*models.Alert),
	}
	ag.ctx, ag.cancel = context.WithCancel(ctx)
	return ag
}

// run waits group_wait before the first flush, then flushes every
// group_interval until the group is stopped.
func (ag *aggrGroup) run(flush func(*aggrGroup)) {
	timer := time.NewTimer(ag.route.GroupWait)
	defer timer.Stop()

	for {
		select {
		case <-ag.ctx.Done():
			return
		case <-timer.C:
			flush(ag)
			timer.Reset(ag.route.GroupInterval)
		}
	}
}

func (ag *aggrGroup) insert(a *models.Alert) {
	ag.mu.Lock()
	ag.alerts[a.Fingerprint()] = a
	ag.mu.Unlock()
}

func (ag *aggrGroup) empty() bool {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return len(ag.alerts) == 0
}

func (ag *aggrGroup) snapshot() []*models.Alert {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	out := make([]*models.Alert, 0, len(ag.alerts))
	for _, a := range ag.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint() < out[j].Fingerprint() })
	return out
}

func (ag *aggrGroup) stop() {
	ag.cancel()
}
