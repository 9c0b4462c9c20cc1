package agent

import (
	"testing"
	"time"

	"github.com/aegisfield/aegis/internal/types"
)

func TestNotifierDeliversToAllSubscribers(t *testing.T) {
	n := NewNotifier()

	ch1, cancel1 := n.Subscribe()
	defer cancel1()
	ch2, cancel2 := n.Subscribe()
	defer cancel2()

	n.Publish(types.SyncMessage{Type: types.MsgSyncSuccess, ReportID: "r1"})

	for i, ch := range []<-chan types.SyncMessage{ch1, ch2} {
		select {
		case msg := <-ch:
			if msg.ReportID != "r1" {
				t.Errorf("subscriber %d got %+v", i, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestNotifierUnsubscribeStopsDelivery(t *testing.T) {
	n := NewNotifier()

	ch, cancel := n.Subscribe()
	cancel()
	cancel() // safe to call twice

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	n.Publish(types.SyncMessage{Type: types.MsgSyncComplete})
}

func TestNotifierDoesNotBlockOnSlowSubscriber(t *testing.T) {
	n := NewNotifier()

	_, cancel := n.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Publish(types.SyncMessage{Type: types.MsgSyncSuccess})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a subscriber that never reads")
	}
}
