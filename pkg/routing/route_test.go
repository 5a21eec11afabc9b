package routing

import (
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroca/alert-router/pkg/config"
)

func buildTree(t *testing.T, cfg *config.RouteConfig) *Route {
	t.Helper()
	root, err := NewRoute(cfg, nil)
	require.NoError(t, err)
	return root
}

func receiversFor(root *Route, ls model.LabelSet) []string {
	var out []string
	for _, r := range root.Match(ls) {
		out = append(out, r.Receiver)
	}
	return out
}

func TestMatchFallsThroughToRootDefault(t *testing.T) {
	root := buildTree(t, &config.RouteConfig{
		Receiver: "default",
		Routes: []*config.RouteConfig{
			{Receiver: "oncall", Match: map[string]string{"severity": "critical"}},
		},
	})

	got := receiversFor(root, model.LabelSet{"alertname": "X", "severity": "info"})
	assert.Equal(t, []string{"default"}, got)
}

func TestMatchStopsWithoutContinue(t *testing.T) {
	root := buildTree(t, &config.RouteConfig{
		Receiver: "default",
		Routes: []*config.RouteConfig{
			{Receiver: "oncall", Match: map[string]string{"severity": "critical"}},
			{Receiver: "archive", Match: map[string]string{"severity": "critical"}},
		},
	})

	got := receiversFor(root, model.LabelSet{"severity": "critical"})
	assert.Equal(t, []string{"oncall"}, got, "first match without continue short-circuits siblings")
}

func TestMatchContinueReachesMultipleReceivers(t *testing.T) {
	root := buildTree(t, &config.RouteConfig{
		Receiver: "default",
		Routes: []*config.RouteConfig{
			{Receiver: "oncall", Match: map[string]string{"severity": "critical"}, Continue: true},
			{Receiver: "archive", Match: map[string]string{"severity": "critical"}},
		},
	})

	got := receiversFor(root, model.LabelSet{"severity": "critical"})
	assert.Equal(t, []string{"oncall", "archive"}, got)
}

func TestNestedRoutePrefersDeepestMatch(t *testing.T) {
	root := buildTree(t, &config.RouteConfig{
		Receiver: "default",
		Routes: []*config.RouteConfig{
			{
				Receiver: "team-neuroca",
				Match:    map[string]string{"namespace": "neuroca"},
				Routes: []*config.RouteConfig{
					{Receiver: "neuroca-oncall", Match: map[string]string{"severity": "critical"}},
				},
			},
		},
	})

	assert.Equal(t, []string{"neuroca-oncall"},
		receiversFor(root, model.LabelSet{"namespace": "neuroca", "severity": "critical"}))
	assert.Equal(t, []string{"team-neuroca"},
		receiversFor(root, model.LabelSet{"namespace": "neuroca", "severity": "warning"}),
		"non-matching children fall back to their parent")
}

func TestParameterInheritance(t *testing.T) {
	gw := model.Duration(10 * time.Second)
	root := buildTree(t, &config.RouteConfig{
		Receiver:  "default",
		GroupBy:   []string{"alertname"},
		GroupWait: &gw,
		Routes: []*config.RouteConfig{
			{Match: map[string]string{"severity": "critical"}},
			{Match: map[string]string{"severity": "warning"}, GroupBy: []string{"alertname", "namespace"}},
		},
	})

	critical := root.Routes[0]
	assert.Equal(t, "default", critical.Receiver, "receiver inherited from parent")
	assert.Equal(t, 10*time.Second, critical.GroupWait)
	assert.Equal(t, []model.LabelName{"alertname"}, critical.GroupBy)

	warning := root.Routes[1]
	assert.Equal(t, []model.LabelName{"alertname", "namespace"}, warning.GroupBy, "explicit group_by overrides")
	assert.Equal(t, DefaultGroupInterval, warning.GroupInterval)
	assert.Equal(t, DefaultRepeatInterval, warning.RepeatInterval)
}

func TestRouteKeysAreDistinct(t *testing.T) {
	root := buildTree(t, &config.RouteConfig{
		Receiver: "default",
		Routes: []*config.RouteConfig{
			{Receiver: "a", Match: map[string]string{"severity": "critical"}},
			{Receiver: "b", Match: map[string]string{"severity": "warning"}},
		},
	})

	assert.NotEqual(t, root.Routes[0].Key(), root.Routes[1].Key())
	assert.Contains(t, root.Routes[0].Key(), root.Key(), "child keys are prefixed by the parent")
}
