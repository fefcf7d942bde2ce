package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventCreditGrant, UserID: "u1", Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventCreditGrant},
	}}

	grant := &Event{Type: EventCreditGrant}
	minted := &Event{Type: EventCheckoutMinted}

	if !h.shouldSend(client, grant) {
		t.Error("should receive credit_grant events")
	}
	if h.shouldSend(client, minted) {
		t.Error("should not receive checkout_minted events")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{UserIDs: []string{"u1"}}}

	mine := &Event{Type: EventCreditGrant, UserID: "u1"}
	other := &Event{Type: EventCreditGrant, UserID: "u2"}

	if !h.shouldSend(client, mine) {
		t.Error("should receive own user's events")
	}
	if h.shouldSend(client, other) {
		t.Error("should not receive another user's events")
	}
}

func TestShouldSend_EmptySubscriptionReceivesNothing(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventCreditGrant, UserID: "u1"}
	if h.shouldSend(client, event) {
		t.Error("empty subscription should receive nothing until the client subscribes")
	}
}

func TestShouldSend_CombinedFilters(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventCreditGrant},
		UserIDs:    []string{"u1"},
	}}

	if !h.shouldSend(client, &Event{Type: EventCreditGrant, UserID: "u1"}) {
		t.Error("matching type and user should pass")
	}
	if h.shouldSend(client, &Event{Type: EventCheckoutMinted, UserID: "u1"}) {
		t.Error("wrong type should be filtered despite matching user")
	}
	if h.shouldSend(client, &Event{Type: EventCreditGrant, UserID: "u2"}) {
		t.Error("wrong user should be filtered despite matching type")
	}
}

// ---------------------------------------------------------------------------
// Hub loop tests
// ---------------------------------------------------------------------------

func TestHub_RegisterAndBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 4),
		sub:  Subscription{UserIDs: []string{"u1"}},
	}
	h.register <- client

	h.BroadcastCreditGrant("u1", 5, 12)

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Fatal("empty broadcast payload")
		}
	case <-time.After(time.Second):
		t.Fatal("subscribed client did not receive the credit grant")
	}
}

func TestHub_BroadcastSkipsOtherUsers(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 4),
		sub:  Subscription{UserIDs: []string{"u2"}},
	}
	h.register <- client

	h.BroadcastCreditGrant("u1", 5, 12)

	select {
	case <-client.send:
		t.Fatal("client subscribed to u2 received u1's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 1), sub: Subscription{AllEvents: true}}
	h.register <- client

	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("expected send channel to be closed on shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed after shutdown")
	}

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not signal done")
	}
}

func TestHub_Stats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 4), sub: Subscription{AllEvents: true}}
	h.register <- client
	h.BroadcastCheckoutMinted("u1", "pack_5", "mercadopago")

	// Wait for the broadcast to be processed.
	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Fatal("broadcast not delivered")
	}

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("connectedClients = %v, want 1", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("totalEvents = %v, want 1", stats["totalEvents"])
	}
}
