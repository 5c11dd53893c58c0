package device

import (
	"context"
	"sync"
	"time"

	"github.com/redshiftplayer/redshift-sync/events"
	"github.com/redshiftplayer/redshift-sync/logging"
)

// Default poll intervals. Polling is cheap but not free: once presence is
// established the loop only needs to notice eventual removal, so it slows
// down.
const (
	DefaultPollIdle    = 3 * time.Second
	DefaultPollTracked = 10 * time.Second
)

// Monitor polls for attached compatible hardware and raises logical
// attach/detach events. The transport library has no hot-plug eventing, so
// detection is poll-based with an adaptive interval.
type Monitor struct {
	lister   Lister
	resolver Resolver
	bus      *events.Bus[Event]

	pollIdle    time.Duration
	pollTracked time.Duration

	// ResolveUDID, when set, is invoked asynchronously after attach to fill
	// in the persistent device identifier. It may fail indefinitely for a
	// locked device; the descriptor's UDID then stays empty.
	ResolveUDID func(ctx context.Context, key Key) (string, error)

	mu      sync.Mutex
	tracked map[Key]*Descriptor
	paused  bool
}

// NewMonitor creates a Monitor. Zero intervals fall back to the defaults.
func NewMonitor(lister Lister, resolver Resolver, bus *events.Bus[Event], pollIdle, pollTracked time.Duration) *Monitor {
	if pollIdle <= 0 {
		pollIdle = DefaultPollIdle
	}
	if pollTracked <= 0 {
		pollTracked = DefaultPollTracked
	}
	return &Monitor{
		lister:      lister,
		resolver:    resolver,
		bus:         bus,
		pollIdle:    pollIdle,
		pollTracked: pollTracked,
		tracked:     make(map[Key]*Descriptor),
	}
}

// Interval returns the delay before the next poll given the current tracked
// set.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tracked) > 0 {
		return m.pollTracked
	}
	return m.pollIdle
}

// Pause suspends polling. The orchestrator pauses the loop for the duration
// of a session so transport contention is not misread as disconnection.
func (m *Monitor) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	logging.Sub("discovery").Debug("polling paused")
}

// Resume re-enables polling.
func (m *Monitor) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	logging.Sub("discovery").Debug("polling resumed")
}

// Tracked returns a snapshot of currently tracked devices.
func (m *Monitor) Tracked() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Descriptor, 0, len(m.tracked))
	for _, d := range m.tracked {
		out = append(out, *d)
	}
	return out
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	l := logging.Sub("discovery")
	l.Info("discovery loop starting", "idle", m.pollIdle, "tracked", m.pollTracked)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info("discovery loop stopped")
			return
		case <-timer.C:
		}

		m.mu.Lock()
		paused := m.paused
		m.mu.Unlock()

		if !paused {
			m.Poll(ctx)
		}
		timer.Reset(m.Interval())
	}
}

// Poll performs one detection pass. Exported so tests and the daemon can
// force a pass without waiting out the interval.
func (m *Monitor) Poll(ctx context.Context) {
	l := logging.Sub("discovery")

	keys, err := m.lister.List(ctx)
	if err != nil {
		// A failed listing is not a detach signal; devices stay tracked
		// until a successful listing omits them.
		l.Warn("device listing failed", "err", err)
		return
	}

	present := make(map[Key]struct{}, len(keys))
	for _, key := range keys {
		present[key] = struct{}{}
		m.handlePresent(ctx, key)
	}

	m.mu.Lock()
	var detached []Descriptor
	for key, d := range m.tracked {
		if _, ok := present[key]; !ok {
			detached = append(detached, *d)
			delete(m.tracked, key)
		}
	}
	m.mu.Unlock()

	for _, d := range detached {
		l.Info("device detached", "vendor", d.Key.VendorID, "product", d.Key.ProductID, "name", d.Name)
		m.bus.Publish(Event{Kind: Detached, Device: d})
	}
}

// handlePresent announces a key the first time it is seen; later polls are
// idempotent.
func (m *Monitor) handlePresent(ctx context.Context, key Key) {
	m.mu.Lock()
	if _, ok := m.tracked[key]; ok {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	class, name, err := m.resolver.Resolve(ctx, key)
	if err != nil {
		logging.Sub("discovery").Warn("classification failed", "key", key, "err", err)
		class, name = ClassUnknown, ""
	}

	d := &Descriptor{
		Key:         key,
		Class:       class,
		Name:        name,
		ConnectedAt: nowFunc(),
	}

	m.mu.Lock()
	// Re-check under the lock: a concurrent Poll may have won.
	if _, ok := m.tracked[key]; ok {
		m.mu.Unlock()
		return
	}
	m.tracked[key] = d
	m.mu.Unlock()

	logging.Sub("discovery").Info("device attached", "vendor", key.VendorID, "product", key.ProductID, "class", class, "name", name)
	m.bus.Publish(Event{Kind: Attached, Device: *d})

	if m.ResolveUDID != nil {
		go m.resolveIdentity(ctx, key)
	}
}

// resolveIdentity fills the UDID in after attach. Identity resolution can
// fail indefinitely on a locked device; that is fine.
func (m *Monitor) resolveIdentity(ctx context.Context, key Key) {
	udid, err := m.ResolveUDID(ctx, key)
	if err != nil {
		logging.Sub("discovery").Debug("identity resolution failed", "key", key, "err", err)
		return
	}
	m.mu.Lock()
	if d, ok := m.tracked[key]; ok {
		d.UDID = udid
	}
	m.mu.Unlock()
}
