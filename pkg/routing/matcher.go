package routing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/prometheus/common/model"
)

// Matcher is a single label predicate: either an exact value match or an
// anchored regular expression match.
type Matcher struct {
	Name    model.LabelName
	Value   string
	IsRegex bool

	re *regexp.Regexp
}

// NewMatcher returns an equality matcher on the given label.
func NewMatcher(name model.LabelName, value string) *Matcher {
	return &Matcher{Name: name, Value: value}
}

// NewRegexMatcher returns a regex matcher on the given label. The expression
// is anchored so it must match the whole label value. A malformed expression
// is an error here, at configuration load, never at alert time.
func NewRegexMatcher(name model.LabelName, value string) (*Matcher, error) {
	re, err := regexp.Compile("^(?:" + value + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid regex matcher for label %q: %w", name, err)
	}
	return &Matcher{Name: name, Value: value, IsRegex: true, re: re}, nil
}

// Matches tests the matcher against a label set. A label that is absent
// matches like an empty value, mirroring Prometheus matching semantics.
func (m *Matcher) Matches(ls model.LabelSet) bool {
	v := string(ls[m.Name])
	if m.IsRegex {
		return m.re.MatchString(v)
	}
	return v == m.Value
}

func (m *Matcher) String() string {
	if m.IsRegex {
		return fmt.Sprintf("%s=~%q", m.Name, m.Value)
	}
	return fmt.Sprintf("%s=%q", m.Name, m.Value)
}

// Matchers is a conjunction of label predicates.
type Matchers []*Matcher

// Matches reports whether every matcher in the set matches ls.
func (ms Matchers) Matches(ls model.LabelSet) bool {
	for _, m := range ms {
		if !m.Matches(ls) {
			return false
		}
	}
	return true
}

func (ms Matchers) String() string {
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		parts = append(parts, m.String())
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

// BuildMatchers compiles equality and regex matcher maps, as they appear in
// the routing configuration, into a matcher set.
func BuildMatchers(match, matchRE map[string]string) (Matchers, error) {
	ms := make(Matchers, 0, len(match)+len(matchRE))
	for name, value := range match {
		ms = append(ms, NewMatcher(model.LabelName(name), value))
	}
	for name, value := range matchRE {
		m, err := NewRegexMatcher(model.LabelName(name), value)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Name < ms[j].Name })
	return ms, nil
}
