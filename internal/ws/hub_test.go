package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/logger"
)

func mockClient(hub *Hub, restaurantID string) *Client {
	return &Client{
		hub:          hub,
		restaurantID: restaurantID,
		send:         make(chan []byte, 256),
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHubRegistration(t *testing.T) {
	hub := startHub(t)
	client := mockClient(hub, "r1")

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount("r1") != 1 {
		t.Fatal("client not registered in restaurant room")
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if hub.rooms["r1"] != nil {
		t.Fatal("room not cleaned up after last client unregistered")
	}
}

func TestDispatchOnlyReachesOwnRestaurant(t *testing.T) {
	hub := startHub(t)
	client1 := mockClient(hub, "r1")
	client2 := mockClient(hub, "r2")
	hub.register <- client1
	hub.register <- client2
	time.Sleep(10 * time.Millisecond)

	err := hub.Dispatch(context.Background(), []domain.Event{
		{Type: domain.EventOrderCreated, RestaurantID: "r1", OrderID: "ord-1", OrderNumber: 3},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	select {
	case msg := <-client1.send:
		var received domain.Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal message: %v", err)
		}
		if received.Type != domain.EventOrderCreated || received.OrderNumber != 3 {
			t.Errorf("unexpected event %+v", received)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client1 did not receive message")
	}

	select {
	case <-client2.send:
		t.Fatal("client2 should not receive another restaurant's events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServeWSRejectsBadToken(t *testing.T) {
	hub := startHub(t)
	verify := func(string) (domain.Actor, error) { return domain.Actor{}, errors.New("bad") }

	rec := httptest.NewRecorder()
	ServeWS(hub, verify, logger.Discard(), rec, httptest.NewRequest(http.MethodGet, "/ws/events?token=x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ServeWS(hub, verify, logger.Discard(), rec, httptest.NewRequest(http.MethodGet, "/ws/events", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rec.Code)
	}
}

func TestServeWSStreamsEvents(t *testing.T) {
	hub := startHub(t)
	verify := func(token string) (domain.Actor, error) {
		return domain.Actor{Username: "cashier", RestaurantID: "r1"}, nil
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, verify, logger.Discard(), w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?token=ok"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount("r1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Dispatch(context.Background(), []domain.Event{{Type: domain.EventOrderClosed, RestaurantID: "r1", OrderID: "ord-9"}}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var received domain.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if received.OrderID != "ord-9" {
		t.Fatalf("expected ord-9, got %s", received.OrderID)
	}
}

func TestStoppedHubDoesNotBlockClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := mockClient(hub, "r1")
	if !hub.join(client) {
		t.Fatal("expected running hub to accept client")
	}
	cancel()

	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	finished := make(chan bool, 1)
	go func() {
		hub.leave(client)
		finished <- hub.join(mockClient(hub, "r1"))
	}()
	select {
	case joined := <-finished:
		if joined {
			t.Fatal("stopped hub must not accept new clients")
		}
	case <-time.After(time.Second):
		t.Fatal("leave/join blocked after the hub stopped")
	}

	if _, ok := <-client.send; ok {
		t.Fatal("expected client send channel closed on shutdown")
	}
	for i := 0; i < 300; i++ {
		if err := hub.Dispatch(context.Background(), []domain.Event{{Type: domain.EventOrderCreated, RestaurantID: "r1"}}); err != nil {
			t.Fatalf("dispatch after shutdown: %v", err)
		}
	}
}
