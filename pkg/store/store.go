// Package store keeps the set of alerts the router currently knows about.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/common/model"
	"github.com/sirupsen/logrus"

	"github.com/neuroca/alert-router/pkg/models"
)

// Store is an in-memory alert index keyed by label-set fingerprint. It is
// safe for concurrent use.
//
// Firing alerts that never report an end time are given one resolveTimeout
// in the future; a re-fire pushes it out again, so an alert whose source
// goes quiet eventually resolves on its own. Resolved alerts are garbage
// collected one resolveTimeout after their end time.
type Store struct {
	resolveTimeout time.Duration

	mu     sync.RWMutex
	alerts map[model.Fingerprint]*models.Alert
}

// New creates an empty store.
func New(resolveTimeout time.Duration) *Store {
	return &Store{
		resolveTimeout: resolveTimeout,
		alerts:         make(map[model.Fingerprint]*models.Alert),
	}
}

// Run garbage-collects expired alerts every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.gc(time.Now()); n > 0 {
				logrus.Debugf("Alert store garbage-collected %d alerts", n)
			}
		}
	}
}

// Set ingests an alert event, merging it with any previous event for the
// same identity, and returns the stored result.
func (s *Store) Set(a *models.Alert) *models.Alert {
	if a.EndsAt.IsZero() {
		// Firing event with no reported end: expires unless re-fired.
		withTimeout := *a
		withTimeout.EndsAt = a.UpdatedAt.Add(s.resolveTimeout)
		a = &withTimeout
	}

	fp := a.Fingerprint()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.alerts[fp]; ok {
		a = prev.Merge(a)
	}
	s.alerts[fp] = a
	return a
}

// Get returns the alert with the given fingerprint.
func (s *Store) Get(fp model.Fingerprint) (*models.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[fp]
	return a, ok
}

// List returns all tracked alerts, firing and recently resolved.
func (s *Store) List() []*models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	return out
}

// Firing returns all alerts that are currently firing. This is the index
// the inhibitor evaluates source matchers against.
func (s *Store) Firing() []*models.Alert {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Alert
	for _, a := range s.alerts {
		if !a.ResolvedAt(now) {
			out = append(out, a)
		}
	}
	return out
}

// Delete removes the alert with the given fingerprint.
func (s *Store) Delete(fp model.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alerts, fp)
}

// Count returns the number of firing and resolved alerts tracked.
func (s *Store) Count() (firing, resolved int) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.ResolvedAt(now) {
			resolved++
		} else {
			firing++
		}
	}
	return firing, resolved
}

func (s *Store) gc(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for fp, a := range s.alerts {
		if a.ResolvedAt(now) && now.Sub(a.EndsAt) > s.resolveTimeout {
			delete(s.alerts, fp)
			n++
		}
	}
	return n
}
