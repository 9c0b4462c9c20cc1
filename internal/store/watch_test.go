package store

import (
	"context"
	"testing"
	"time"
)

func waitForSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatch_FiresOnMutation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Watch()
	defer cancel()

	if err := s.Add(ctx, testReport("local-1")); err != nil {
		t.Fatal(err)
	}
	waitForSignal(t, ch)

	if err := s.ApplySyncFailure(ctx, "local-1", "timeout"); err != nil {
		t.Fatal(err)
	}
	waitForSignal(t, ch)

	if err := s.Delete(ctx, "local-1"); err != nil {
		t.Fatal(err)
	}
	waitForSignal(t, ch)
}

func TestWatch_CoalescesNotifications(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Watch()
	defer cancel()

	// Several mutations without draining collapse into one pending signal.
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Add(ctx, testReport(id)); err != nil {
			t.Fatal(err)
		}
	}

	waitForSignal(t, ch)
	select {
	case <-ch:
		t.Error("expected at most one pending signal")
	default:
	}
}

func TestWatch_UnsubscribeStopsDelivery(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Watch()
	cancel()
	cancel() // safe to call twice

	if err := s.Add(ctx, testReport("local-1")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
		t.Error("unsubscribed channel should not receive")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatch_NoSignalOnDeleteOfMissing(t *testing.T) {
	s, _ := newTestStore(t)

	ch, cancel := s.Watch()
	defer cancel()

	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
		t.Error("no-op delete should not notify")
	case <-time.After(50 * time.Millisecond):
	}
}
