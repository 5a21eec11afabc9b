package routing

import (
	"sort"
	"time"

	"github.com/prometheus/common/model"

	"github.com/neuroca/alert-router/pkg/config"
)

// Default grouping and timing parameters, applied at the root when the
// configuration leaves them unset. Children inherit from their parent.
const (
	DefaultGroupWait      = 30 * time.Second
	DefaultGroupInterval  = 5 * time.Minute
	DefaultRepeatInterval = 4 * time.Hour
)

// Route is one node of the compiled route tree. All matchers are compiled at
// construction; matching an alert against the tree never fails.
type Route struct {
	Receiver       string
	GroupBy        []model.LabelName
	GroupWait      time.Duration
	GroupInterval  time.Duration
	RepeatInterval time.Duration
	Matchers       Matchers
	Continue       bool
	Routes         []*Route

	parent *Route
}

// NewRoute compiles a configured route node and its subtree. parent is nil
// for the root. Parameters not set on a node are inherited from its parent.
func NewRoute(cfg *config.RouteConfig, parent *Route) (*Route, error) {
	r := &Route{
		Continue: cfg.Continue,
		parent:   parent,
	}

	// Inherited defaults.
	if parent != nil {
		r.Receiver = parent.Receiver
		r.GroupBy = parent.GroupBy
		r.GroupWait = parent.GroupWait
		r.GroupInterval = parent.GroupInterval
		r.RepeatInterval = parent.RepeatInterval
	} else {
		r.GroupWait = DefaultGroupWait
		r.GroupInterval = DefaultGroupInterval
		r.RepeatInterval = DefaultRepeatInterval
	}

	if cfg.Receiver != "" {
		r.Receiver = cfg.Receiver
	}
	if cfg.GroupBy != nil {
		groupBy := make([]model.LabelName, 0, len(cfg.GroupBy))
		for _, l := range cfg.GroupBy {
			groupBy = append(groupBy, model.LabelName(l))
		}
		sort.Slice(groupBy, func(i, j int) bool { return groupBy[i] < groupBy[j] })
		r.GroupBy = groupBy
	}
	if cfg.GroupWait != nil {
		r.GroupWait = time.Duration(*cfg.GroupWait)
	}
	if cfg.GroupInterval != nil {
		r.GroupInterval = time.Duration(*cfg.GroupInterval)
	}
	if cfg.RepeatInterval != nil {
		r.RepeatInterval = time.Duration(*cfg.RepeatInterval)
	}

	matchers, err := BuildMatchers(cfg.Match, cfg.MatchRE)
	if err != nil {
		return nil, err
	}
	r.Matchers = matchers

	for _, childCfg := range cfg.Routes {
		child, err := NewRoute(childCfg, r)
		if err != nil {
			return nil, err
		}
		r.Routes = append(r.Routes, child)
	}
	return r, nil
}

// Match walks the tree depth-first and returns every route the label set
// lands on. A matching child with continue disabled stops evaluation of its
// later siblings; with continue enabled the alert can reach multiple
// receivers. A node whose children all miss matches itself, so an alert that
// matches no inner route falls through to the root default.
func (r *Route) Match(ls model.LabelSet) []*Route {
	if !r.Matchers.Matches(ls) {
		return nil
	}

	var all []*Route
	for _, child := range r.Routes {
		matches := child.Match(ls)
		all = append(all, matches...)
		if len(matches) > 0 && !child.Continue {
			break
		}
	}

	if len(all) == 0 {
		all = append(all, r)
	}
	return all
}

// Key identifies the route by its position in the tree. It is stable across
// restarts for an unchanged configuration and prefixes every group key.
func (r *Route) Key() string {
	b := r.Matchers.String()
	if r.parent != nil {
		b = r.parent.Key() + "/" + b
	}
	return b
}
