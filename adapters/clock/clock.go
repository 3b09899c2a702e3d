// Package clock provides the timestamps stamped on stored documents.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/facet/ports"
)

// Func adapts a function to ports.Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// System reads the wall clock in UTC.
var System ports.Clock = Func(func() time.Time { return time.Now().UTC() })

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual creates a manual clock reading t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current reading.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
