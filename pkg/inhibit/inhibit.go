// Package inhibit suppresses notifications for lower-priority alerts while
// a related higher-priority alert is firing.
package inhibit

import (
	"sync"

	"github.com/prometheus/common/model"
	"github.com/sirupsen/logrus"

	"github.com/neuroca/alert-router/pkg/config"
	"github.com/neuroca/alert-router/pkg/models"
	"github.com/neuroca/alert-router/pkg/routing"
	"github.com/neuroca/alert-router/pkg/store"
)

// Rule is one compiled inhibition rule.
type Rule struct {
	SourceMatchers routing.Matchers
	TargetMatchers routing.Matchers
	Equal          []model.LabelName
}

// NewRule compiles an inhibition rule from its configuration. Regex errors
// surface here, at load time.
func NewRule(cfg *config.InhibitRuleConfig) (*Rule, error) {
	source, err := routing.BuildMatchers(cfg.SourceMatch, cfg.SourceMatchRE)
	if err != nil {
		return nil, err
	}
	target, err := routing.BuildMatchers(cfg.TargetMatch, cfg.TargetMatchRE)
	if err != nil {
		return nil, err
	}
	equal := make([]model.LabelName, 0, len(cfg.Equal))
	for _, l := range cfg.Equal {
		equal = append(equal, model.LabelName(l))
	}
	return &Rule{SourceMatchers: source, TargetMatchers: target, Equal: equal}, nil
}

// equalMatch reports whether the source alert agrees with the target labels
// on every equal key of the rule.
func (r *Rule) equalMatch(source, target model.LabelSet) bool {
	for _, name := range r.Equal {
		if source[name] != target[name] {
			return false
		}
	}
	return true
}

// Inhibitor decides whether an alert is currently muted by an inhibition
// rule. It holds no state of its own beyond the rule set: every decision is
// a pure function over the store's firing index, so suppression lifts the
// moment the last matching source alert resolves.
type Inhibitor struct {
	store *store.Store

	mu    sync.RWMutex
	rules []*Rule
}

// NewInhibitor compiles the configured rules against the given alert store.
func NewInhibitor(st *store.Store, cfgs []*config.InhibitRuleConfig) (*Inhibitor, error) {
	ih := &Inhibitor{store: st}
	rules, err := compileRules(cfgs)
	if err != nil {
		return nil, err
	}
	ih.rules = rules
	return ih, nil
}

func compileRules(cfgs []*config.InhibitRuleConfig) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		rule, err := NewRule(cfg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// UpdateRules swaps in a new rule set on configuration reload.
func (ih *Inhibitor) UpdateRules(cfgs []*config.InhibitRuleConfig) error {
	rules, err := compileRules(cfgs)
	if err != nil {
		return err
	}
	ih.mu.Lock()
	ih.rules = rules
	ih.mu.Unlock()
	return nil
}

// Mutes reports whether an alert with the given labels is suppressed: some
// rule's target matchers match it and a different, currently firing alert
// matches the rule's source with agreeing equal labels. An alert never
// inhibits itself.
func (ih *Inhibitor) Mutes(ls model.LabelSet) bool {
	ih.mu.RLock()
	rules := ih.rules
	ih.mu.RUnlock()

	if len(rules) == 0 {
		return false
	}

	targetFP := ls.Fingerprint()
	var firing []*models.Alert

	for _, rule := range rules {
		if !rule.TargetMatchers.Matches(ls) {
			continue
		}
		if firing == nil {
			firing = ih.store.Firing()
		}
		for _, source := range firing {
			if source.Fingerprint() == targetFP {
				continue
			}
			if rule.SourceMatchers.Matches(source.Labels) && rule.equalMatch(source.Labels, ls) {
				logrus.Debugf("Alert %v inhibited by firing source %s", ls, source)
				return true
			}
		}
	}
	return false
}
