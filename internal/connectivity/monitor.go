// Package connectivity maintains the single boolean "online" signal the
// sync engine consumes. Observations come from a periodic reachability
// probe and from platform-delivered events; transitions are debounced with
// a hold-down window so a flapping connection cannot trigger sync storms.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober checks whether the remote service is reachable right now. The
// daemon wires the remote sync client here, so probing shares its health
// endpoint and retry policy.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Monitor holds the debounced online state and fans out transitions to
// subscribers. A raw observation must hold for the debounce window before
// subscribers see it.
type Monitor struct {
	prober   Prober
	interval time.Duration
	debounce time.Duration

	mu       sync.Mutex
	online   bool
	raw      bool
	rawSince time.Time
	subs     map[int]chan bool
	next     int
}

// NewMonitor creates a monitor. The state starts offline until the first
// observation proves otherwise. interval is the probe period; debounce is
// the hold-down window applied to every transition.
func NewMonitor(prober Prober, interval, debounce time.Duration) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		debounce: debounce,
		subs:     make(map[int]chan bool),
	}
}

// Online returns the current debounced state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers for transition notifications. The channel carries the
// new state and coalesces to the latest value for slow receivers.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// SetOnline feeds a platform-delivered connectivity event into the monitor.
// It goes through the same hold-down as probe results.
func (m *Monitor) SetOnline(online bool) {
	m.observe(online)
}

// Run starts the probe loop. It blocks until ctx is cancelled. A monitor
// without a prober (tests, embedded use) can skip Run and drive state via
// SetOnline.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("connectivity monitor started",
		"component", "connectivity",
		"interval", m.interval.String(),
		"debounce", m.debounce.String(),
	)

	// Probe immediately on start so the daemon does not sit in the offline
	// default for a full interval on a healthy network.
	m.observe(m.prober.Probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity monitor stopped", "component", "connectivity")
			return
		case <-ticker.C:
			m.observe(m.prober.Probe(ctx))
		}
	}
}

// observe records a raw observation and arms the hold-down check when it
// differs from the published state.
func (m *Monitor) observe(online bool) {
	m.mu.Lock()

	if online != m.raw {
		m.raw = online
		m.rawSince = time.Now()
	}
	if m.raw == m.online {
		m.mu.Unlock()
		return
	}

	if m.debounce <= 0 {
		m.publishLocked()
		m.mu.Unlock()
		return
	}

	since := m.rawSince
	m.mu.Unlock()

	// Each raw change arms its own check; checks from superseded
	// observations find rawSince moved and do nothing.
	time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.raw == m.online || !m.rawSince.Equal(since) {
			return
		}
		m.publishLocked()
	})
}

// publishLocked flips the published state to the raw one and notifies
// subscribers. Caller holds m.mu.
func (m *Monitor) publishLocked() {
	m.online = m.raw
	slog.Info("connectivity changed", "component", "connectivity", "online", m.online)

	for _, ch := range m.subs {
		select {
		case ch <- m.online:
		default:
			// Replace a stale pending value with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- m.online:
			default:
			}
		}
	}
}
