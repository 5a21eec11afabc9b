package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

// DefaultResolveTimeout is applied to firing alerts that never report an
// end time. After this long without a re-fire they are treated as resolved.
const DefaultResolveTimeout = 5 * time.Minute

// RoutingConfig is the routing policy document: the route tree, receiver
// definitions, and inhibition rules. It is loaded from a YAML file separate
// from the server configuration and can be hot-reloaded.
type RoutingConfig struct {
	ResolveTimeout model.Duration       `yaml:"resolve_timeout,omitempty"`
	Route          *RouteConfig         `yaml:"route"`
	Receivers      []*ReceiverConfig    `yaml:"receivers"`
	InhibitRules   []*InhibitRuleConfig `yaml:"inhibit_rules,omitempty"`
}

// RouteConfig is one node of the route tree. Timing and grouping parameters
// left unset are inherited from the parent node.
type RouteConfig struct {
	Receiver       string            `yaml:"receiver,omitempty"`
	GroupBy        []string          `yaml:"group_by,omitempty"`
	GroupWait      *model.Duration   `yaml:"group_wait,omitempty"`
	GroupInterval  *model.Duration   `yaml:"group_interval,omitempty"`
	RepeatInterval *model.Duration   `yaml:"repeat_interval,omitempty"`
	Match          map[string]string `yaml:"match,omitempty"`
	MatchRE        map[string]string `yaml:"match_re,omitempty"`
	Continue       bool              `yaml:"continue,omitempty"`
	Routes         []*RouteConfig    `yaml:"routes,omitempty"`
}

// ReceiverConfig names a notification destination. A receiver with no
// notifier configurations is a valid placeholder: matched notifications are
// accounted and discarded.
type ReceiverConfig struct {
	Name     string           `yaml:"name"`
	Webhooks []*WebhookConfig `yaml:"webhook_configs,omitempty"`
}

// WebhookConfig configures a single webhook notification target.
type WebhookConfig struct {
	URL          string         `yaml:"url"`
	Timeout      model.Duration `yaml:"timeout,omitempty"`
	MaxRetries   int            `yaml:"max_retries,omitempty"`
	SendResolved *bool          `yaml:"send_resolved,omitempty"`
}

// NotifyResolved reports whether resolved-only notifications should be
// delivered to this target. Defaults to true.
func (w *WebhookConfig) NotifyResolved() bool {
	return w.SendResolved == nil || *w.SendResolved
}

// InhibitRuleConfig suppresses notifications for target-matching alerts
// while a source-matching alert is firing and the equal labels agree.
type InhibitRuleConfig struct {
	SourceMatch   map[string]string `yaml:"source_match,omitempty"`
	SourceMatchRE map[string]string `yaml:"source_match_re,omitempty"`
	TargetMatch   map[string]string `yaml:"target_match,omitempty"`
	TargetMatchRE map[string]string `yaml:"target_match_re,omitempty"`
	Equal         []string          `yaml:"equal,omitempty"`
}

// LoadRoutingConfig reads and validates the routing policy file. Any
// structural or matcher error is returned here so the process can refuse to
// start instead of failing per-event later.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing config %s: %w", path, err)
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse routing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks structural invariants and compiles every regex matcher
// once to surface malformed expressions at load time.
func (c *RoutingConfig) Validate() error {
	if c.Route == nil {
		return fmt.Errorf("no route tree defined")
	}
	if c.Route.Receiver == "" {
		return fmt.Errorf("root route must have a default receiver")
	}
	if len(c.Route.Match) > 0 || len(c.Route.MatchRE) > 0 {
		return fmt.Errorf("root route must not have matchers")
	}
	if c.Route.Continue {
		return fmt.Errorf("root route cannot have continue enabled")
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = model.Duration(DefaultResolveTimeout)
	}

	names := map[string]struct{}{}
	for _, rcv := range c.Receivers {
		if rcv.Name == "" {
			return fmt.Errorf("receiver without a name")
		}
		if _, ok := names[rcv.Name]; ok {
			return fmt.Errorf("duplicate receiver name %q", rcv.Name)
		}
		names[rcv.Name] = struct{}{}
		for _, wh := range rcv.Webhooks {
			if wh.URL == "" {
				return fmt.Errorf("receiver %q has a webhook without a url", rcv.Name)
			}
		}
	}

	if err := validateRoute(c.Route, names); err != nil {
		return err
	}

	for i, rule := range c.InhibitRules {
		if len(rule.TargetMatch) == 0 && len(rule.TargetMatchRE) == 0 {
			return fmt.Errorf("inhibit rule %d has no target matchers", i)
		}
		if len(rule.SourceMatch) == 0 && len(rule.SourceMatchRE) == 0 {
			return fmt.Errorf("inhibit rule %d has no source matchers", i)
		}
		for _, exprs := range []map[string]string{rule.SourceMatchRE, rule.TargetMatchRE} {
			for name, expr := range exprs {
				if _, err := regexp.Compile("^(?:" + expr + ")$"); err != nil {
					return fmt.Errorf("inhibit rule %d: invalid regex for label %q: %w", i, name, err)
				}
			}
		}
	}
	return nil
}

func validateRoute(r *RouteConfig, receivers map[string]struct{}) error {
	if r.Receiver != "" {
		if _, ok := receivers[r.Receiver]; !ok {
			return fmt.Errorf("route references undefined receiver %q", r.Receiver)
		}
	}
	for name, expr := range r.MatchRE {
		if _, err := regexp.Compile("^(?:" + expr + ")$"); err != nil {
			return fmt.Errorf("route: invalid regex for label %q: %w", name, err)
		}
	}
	seen := map[string]struct{}{}
	for _, lbl := range r.GroupBy {
		if _, ok := seen[lbl]; ok {
			return fmt.Errorf("route: duplicate group_by label %q", lbl)
		}
		seen[lbl] = struct{}{}
	}
	for _, child := range r.Routes {
		if err := validateRoute(child, receivers); err != nil {
			return err
		}
	}
	return nil
}
