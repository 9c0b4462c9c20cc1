package connectivity

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type staticProber struct{ online atomic.Bool }

func (p *staticProber) Probe(ctx context.Context) bool { return p.online.Load() }

func TestMonitor_StartsOffline(t *testing.T) {
	m := NewMonitor(nil, time.Second, time.Second)
	if m.Online() {
		t.Error("expected initial state offline")
	}
}

func TestMonitor_TransitionAfterDebounce(t *testing.T) {
	m := NewMonitor(nil, time.Second, 20*time.Millisecond)

	m.SetOnline(true)
	if m.Online() {
		t.Error("transition should not publish before the hold-down elapses")
	}

	deadline := time.Now().Add(time.Second)
	for !m.Online() {
		if time.Now().After(deadline) {
			t.Fatal("transition never published")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitor_ZeroDebouncePublishesImmediately(t *testing.T) {
	m := NewMonitor(nil, time.Second, 0)
	m.SetOnline(true)
	if !m.Online() {
		t.Error("expected immediate publish with zero debounce")
	}
}

func TestMonitor_FlappingSuppressed(t *testing.T) {
	m := NewMonitor(nil, time.Second, 50*time.Millisecond)

	// Bounce within the hold-down window; the monitor ends where it began.
	m.SetOnline(true)
	time.Sleep(10 * time.Millisecond)
	m.SetOnline(false)

	time.Sleep(100 * time.Millisecond)
	if m.Online() {
		t.Error("flap within the hold-down window should not publish")
	}
}

func TestMonitor_SubscribeDelivery(t *testing.T) {
	m := NewMonitor(nil, time.Second, 0)

	ch, cancel := m.Subscribe()
	defer cancel()

	m.SetOnline(true)
	select {
	case online := <-ch:
		if !online {
			t.Error("expected online=true")
		}
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}

	// A slow subscriber sees only the latest value.
	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(false)
	select {
	case online := <-ch:
		if online {
			t.Error("expected coalesced latest value false")
		}
	case <-time.After(time.Second):
		t.Fatal("no coalesced notification delivered")
	}
}

func TestMonitor_UnsubscribeStopsDelivery(t *testing.T) {
	m := NewMonitor(nil, time.Second, 0)

	ch, cancel := m.Subscribe()
	cancel()

	m.SetOnline(true)
	select {
	case <-ch:
		t.Error("unsubscribed channel should not receive")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitor_RunProbesAndPublishes(t *testing.T) {
	prober := &staticProber{}
	prober.online.Store(true)

	m := NewMonitor(prober, 10*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !m.Online() {
		if time.Now().After(deadline) {
			t.Fatal("monitor never went online")
		}
		time.Sleep(5 * time.Millisecond)
	}

	prober.online.Store(false)
	deadline = time.Now().Add(time.Second)
	for m.Online() {
		if time.Now().After(deadline) {
			t.Fatal("monitor never went offline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
