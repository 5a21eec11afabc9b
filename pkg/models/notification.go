package models

import (
	"github.com/prometheus/common/model"
)

// Notification is the payload delivered to a receiver: one flushed batch of
// alerts from a single aggregation group.
type Notification struct {
	Receiver          string         `json:"receiver"`
	Status            AlertState     `json:"status"`
	GroupKey          string         `json:"groupKey"`
	GroupLabels       model.LabelSet `json:"groupLabels"`
	CommonLabels      model.LabelSet `json:"commonLabels"`
	CommonAnnotations model.LabelSet `json:"commonAnnotations"`
	Alerts            []*Alert       `json:"alerts"`
}

// Firing returns the subset of alerts in the batch that are still firing.
func (n *Notification) Firing() []*Alert {
	var out []*Alert
	for _, a := range n.Alerts {
		if !a.Resolved() {
			out = append(out, a)
		}
	}
	return out
}

// Resolved returns the subset of alerts in the batch that have resolved.
func (n *Notification) Resolved() []*Alert {
	var out []*Alert
	for _, a := range n.Alerts {
		if a.Resolved() {
			out = append(out, a)
		}
	}
	return out
}

// CommonLabels computes the label pairs shared by every alert in the batch.
func CommonLabels(alerts []*Alert) model.LabelSet {
	if len(alerts) == 0 {
		return model.LabelSet{}
	}
	common := alerts[0].Labels.Clone()
	for _, a := range alerts[1:] {
		for name, value := range common {
			if a.Labels[name] != value {
				delete(common, name)
			}
		}
	}
	return common
}

// CommonAnnotations computes the annotation pairs shared by every alert in
// the batch.
func CommonAnnotations(alerts []*Alert) model.LabelSet {
	if len(alerts) == 0 {
		return model.LabelSet{}
	}
	common := alerts[0].Annotations.Clone()
	for _, a := range alerts[1:] {
		for name, value := range common {
			if a.Annotations[name] != value {
				delete(common, name)
			}
		}
	}
	return common
}
