package ledgercored

import "testing"

func TestEventHubPublishDeliversToSubscriber(t *testing.T) {
	hub := NewEventHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.Publish(PushEvent{SubAccount: "sub", Reason: "r", Status: "confirmed", Timestamp: 1})

	select {
	case evt := <-events:
		if evt.SubAccount != "sub" || evt.Status != "confirmed" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected buffered event to be available immediately")
	}
}

func TestEventHubPublishWithNoSubscribersIsNoop(t *testing.T) {
	hub := NewEventHub()
	hub.Publish(PushEvent{SubAccount: "sub"})
}

func TestEventHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewEventHub()
	events, unsubscribe := hub.Subscribe()
	unsubscribe()

	if _, ok := <-events; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
