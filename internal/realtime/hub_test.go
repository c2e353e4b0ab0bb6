package realtime

import (
	"testing"
	"time"
)

func recvOrFail(t *testing.T, c <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-c:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublish_ReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("conv-1")
	b := h.Subscribe("conv-1")
	defer a.Cancel()
	defer b.Cancel()

	h.Publish(Event{MessageID: "m1", ConversationID: "conv-1", Body: "hi"})

	for _, sub := range []*Subscription{a, b} {
		ev := recvOrFail(t, sub.C)
		if ev.MessageID != "m1" {
			t.Fatalf("got event %+v", ev)
		}
	}
}

func TestPublish_IsolatedPerConversation(t *testing.T) {
	h := NewHub()
	other := h.Subscribe("conv-2")
	defer other.Cancel()

	h.Publish(Event{MessageID: "m1", ConversationID: "conv-1"})

	select {
	case ev := <-other.C:
		t.Fatalf("subscriber of conv-2 received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancel_DetachesAndClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("conv-1")
	sub.Cancel()
	sub.Cancel() // second cancel is a no-op

	if n := h.Subscribers("conv-1"); n != 0 {
		t.Fatalf("subscribers = %d; want 0", n)
	}
	if _, open := <-sub.C; open {
		t.Fatal("channel should be closed after Cancel")
	}

	// Publishing to a conversation with no subscribers is fine.
	h.Publish(Event{ConversationID: "conv-1"})
}

func TestPublish_DropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("conv-1")
	defer sub.Cancel()

	// Overfill the buffer; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(Event{ConversationID: "conv-1", MessageID: "m"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The subscriber still gets the buffered prefix.
	if ev := recvOrFail(t, sub.C); ev.ConversationID != "conv-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestClose_CancelsAllSubscriptions(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("conv-1")
	b := h.Subscribe("conv-2")

	h.Close()

	if _, open := <-a.C; open {
		t.Fatal("conv-1 channel should be closed")
	}
	if _, open := <-b.C; open {
		t.Fatal("conv-2 channel should be closed")
	}
	if h.Subscribers("conv-1")+h.Subscribers("conv-2") != 0 {
		t.Fatal("subscribers remain after Close")
	}

	// Close on an already-empty hub is a no-op.
	h.Close()
}
