package bus

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Wait for registration before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() == 0 {
		t.Fatal("client never registered")
	}
	return conn
}

func TestPublishReachesClient(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	conn := dialHub(t, hub)

	hub.Publish(EventTyping, map[string]string{"contactId": "55@s.whatsapp.net"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got struct {
		Event   string            `json:"event"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Event != EventTyping {
		t.Errorf("event = %q, want %q", got.Event, EventTyping)
	}
	if got.Payload["contactId"] != "55@s.whatsapp.net" {
		t.Errorf("payload = %v", got.Payload)
	}
}

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(EventChannelStatus, map[string]string{"status": "connected"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	_ = dialHub(t, hub)

	// Flood with large frames while the client never reads. Once the socket
	// and the per-client buffer are full the hub must shed the client
	// rather than stall the publisher.
	payload := map[string]string{"blob": strings.Repeat("x", 1<<16)}
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() > 0 && time.Now().Before(deadline) {
		hub.Publish(EventMessageNew, payload)
	}
	if hub.ClientCount() != 0 {
		t.Error("slow client was never dropped")
	}
}
