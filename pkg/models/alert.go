package models

import (
	"fmt"
	"time"

	"github.com/prometheus/common/model"
)

// AlertState represents the lifecycle state of an alert
type AlertState string

const (
	AlertStateFiring   AlertState = "firing"
	AlertStateResolved AlertState = "resolved"
)

// Alert represents a single alert tracked by the router. Its identity is the
// fingerprint of its label set: a resolved event carrying the same labels
// updates the existing alert instead of creating a new one.
type Alert struct {
	Labels      model.LabelSet `json:"labels"`
	Annotations model.LabelSet `json:"annotations,omitempty"`
	StartsAt    time.Time      `json:"startsAt"`
	EndsAt      time.Time      `json:"endsAt,omitempty"`

	// UpdatedAt is the last time an event for this alert was ingested.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Name returns the value of the alertname label.
func (a *Alert) Name() string {
	return string(a.Labels[model.AlertNameLabel])
}

// Fingerprint returns the identity of the alert across state transitions.
func (a *Alert) Fingerprint() model.Fingerprint {
	return a.Labels.Fingerprint()
}

// Resolved reports whether the alert's activity interval ended in the past.
func (a *Alert) Resolved() bool {
	return a.ResolvedAt(time.Now())
}

// ResolvedAt reports whether the alert's activity interval ended before ts.
func (a *Alert) ResolvedAt(ts time.Time) bool {
	if a.EndsAt.IsZero() {
		return false
	}
	return !a.EndsAt.After(ts)
}

// State returns the current lifecycle state of the alert.
func (a *Alert) State() AlertState {
	if a.Resolved() {
		return AlertStateResolved
	}
	return AlertStateFiring
}

func (a *Alert) String() string {
	s := fmt.Sprintf("%s[%s]", a.Name(), a.Fingerprint().String()[:7])
	if a.Resolved() {
		return s + "[resolved]"
	}
	return s + "[firing]"
}

// Merge combines two events for the same identity. The more recently
// ingested event is authoritative for the end time, so a resolve followed by
// a re-fire (or vice versa) always lands in the state of the latest event.
// On an ingestion timestamp tie the argument wins, so events carrying the
// same receive time apply in call order. The earliest observed start time is
// kept.
func (a *Alert) Merge(o *Alert) *Alert {
	newer, older := a, o
	if !a.UpdatedAt.After(o.UpdatedAt) {
		newer, older = o, a
	}

	res := *newer
	if !older.StartsAt.IsZero() && older.StartsAt.Before(res.StartsAt) {
		res.StartsAt = older.StartsAt
	}
	if len(res.Annotations) == 0 {
		res.Annotations = older.Annotations
	}
	return &res
}

// PostableAlert is the wire form of an alert event pushed by a collector.
type PostableAlert struct {
	Labels      model.LabelSet `json:"labels"`
	Annotations model.LabelSet `json:"annotations,omitempty"`
	State       AlertState     `json:"state,omitempty"`
	StartsAt    time.Time      `json:"startsAt,omitempty"`
	EndsAt      time.Time      `json:"endsAt,omitempty"`
}

// Validate checks that the event carries a usable identity. Malformed
// events are rejected at the API boundary and counted, never ingested.
func (p *PostableAlert) Validate() error {
	if len(p.Labels) == 0 {
		return fmt.Errorf("alert has no labels")
	}
	if _, ok := p.Labels[model.AlertNameLabel]; !ok {
		return fmt.Errorf("alert is missing the %q label", model.AlertNameLabel)
	}
	if err := p.Labels.Validate(); err != nil {
		return fmt.Errorf("invalid label set: %w", err)
	}
	switch p.State {
	case "", AlertStateFiring, AlertStateResolved:
	default:
		return fmt.Errorf("invalid alert state %q", p.State)
	}
	if !p.EndsAt.IsZero() && !p.StartsAt.IsZero() && p.EndsAt.Before(p.StartsAt) {
		return fmt.Errorf("alert ends before it starts")
	}
	return nil
}

// ToAlert converts the wire form into a tracked alert, filling defaults
// relative to now. A resolved event without an explicit end time ends now.
func (p *PostableAlert) ToAlert(now time.Time) *Alert {
	a := &Alert{
		Labels:      p.Labels,
		Annotations: p.Annotations,
		StartsAt:    p.StartsAt,
		EndsAt:      p.EndsAt,
		UpdatedAt:   now,
	}
	if a.StartsAt.IsZero() {
		a.StartsAt = now
	}
	if p.State == AlertStateResolved && a.EndsAt.IsZero() {
		a.EndsAt = now
	}
	return a
}
