// Package silence implements operator-created mutes over label matchers.
package silence

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/common/model"
	"github.com/sirupsen/logrus"
)

// Matcher is a label predicate attached to a silence.
type Matcher struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	IsRegex bool   `json:"isRegex,omitempty"`

	re *regexp.Regexp
}

func (m *Matcher) init() error {
	if m.Name == "" {
		return fmt.Errorf("silence matcher without a label name")
	}
	if !m.IsRegex {
		return nil
	}
	re, err := regexp.Compile("^(?:" + m.Value + ")$")
	if err != nil {
		return fmt.Errorf("invalid silence regex for label %q: %w", m.Name, err)
	}
	m.re = re
	return nil
}

func (m *Matcher) matches(ls model.LabelSet) bool {
	v := string(ls[model.LabelName(m.Name)])
	if m.IsRegex {
		return m.re.MatchString(v)
	}
	return v == m.Value
}

// Silence mutes all alerts matching its matchers between StartsAt and
// EndsAt.
type Silence struct {
	ID        string     `json:"id"`
	Matchers  []*Matcher `json:"matchers"`
	StartsAt  time.Time  `json:"startsAt"`
	EndsAt    time.Time  `json:"endsAt"`
	CreatedBy string     `json:"createdBy,omitempty"`
	Comment   string     `json:"comment,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Active reports whether the silence is in effect at ts.
func (s *Silence) Active(ts time.Time) bool {
	return !ts.Before(s.StartsAt) && ts.Before(s.EndsAt)
}

// Expired reports whether the silence window has fully passed at ts.
func (s *Silence) Expired(ts time.Time) bool {
	return !s.EndsAt.After(ts)
}

func (s *Silence) mutes(ls model.LabelSet, ts time.Time) bool {
	if !s.Active(ts) {
		return false
	}
	for _, m := range s.Matchers {
		if !m.matches(ls) {
			return false
		}
	}
	return true
}

// Silencer holds the current set of silences. Safe for concurrent use.
type Silencer struct {
	retention time.Duration

	mu       sync.RWMutex
	silences map[string]*Silence
}

// NewSilencer creates an empty silencer. Expired silences are kept for
// retention before garbage collection so they remain visible in the API.
func NewSilencer(retention time.Duration) *Silencer {
	return &Silencer{
		retention: retention,
		silences:  make(map[string]*Silence),
	}
}

// Create validates and stores a new silence, assigning it an ID.
func (sl *Silencer) Create(s *Silence) (*Silence, error) {
	if len(s.Matchers) == 0 {
		return nil, fmt.Errorf("silence has no matchers")
	}
	for _, m := range s.Matchers {
		if err := m.init(); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if s.StartsAt.IsZero() {
		s.StartsAt = now
	}
	if !s.EndsAt.After(s.StartsAt) {
		return nil, fmt.Errorf("silence ends before it starts")
	}

	s.ID = uuid.NewString()
	s.CreatedAt = now

	sl.mu.Lock()
	sl.silences[s.ID] = s
	sl.mu.Unlock()

	logrus.Infof("Created silence %s by %q until %s", s.ID, s.CreatedBy, s.EndsAt)
	return s, nil
}

// Get returns the silence with the given ID.
func (sl *Silencer) Get(id string) (*Silence, bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	s, ok := sl.silences[id]
	return s, ok
}

// List returns all known silences, newest first.
func (sl *Silencer) List() []*Silence {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	out := make([]*Silence, 0, len(sl.silences))
	for _, s := range sl.silences {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Expire ends the silence with the given ID immediately.
func (sl *Silencer) Expire(id string) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	s, ok := sl.silences[id]
	if !ok {
		return fmt.Errorf("silence %s not found", id)
	}
	now := time.Now()
	if s.EndsAt.After(now) {
		s.EndsAt = now
	}
	logrus.Infof("Expired silence %s", id)
	return nil
}

// Mutes reports whether any active silence matches the given labels.
func (sl *Silencer) Mutes(ls model.LabelSet) bool {
	now := time.Now()

	sl.mu.RLock()
	defer sl.mu.RUnlock()

	for _, s := range sl.silences {
		if s.mutes(ls, now) {
			return true
		}
	}
	return false
}

// ActiveCount returns the number of silences currently in effect.
func (sl *Silencer) ActiveCount() int {
	now := time.Now()

	sl.mu.RLock()
	defer sl.mu.RUnlock()

	var n int
	for _, s := range sl.silences {
		if s.Active(now) {
			n++
		}
	}
	return n
}

// Run garbage-collects long-expired silences until ctx is cancelled.
func (sl *Silencer) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sl.gc(time.Now())
		}
	}
}

func (sl *Silencer) gc(now time.Time) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for id, s := range sl.silences {
		if s.Expired(now) && now.Sub(s.EndsAt) > sl.retention {
			delete(sl.silences, id)
		}
	}
}
