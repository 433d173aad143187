package websocket

import (
	"testing"
	"time"

	"domstyle-sync-server/internal/domain"
)

func TestPush_FullBufferReturnsWithoutManagerLoop(t *testing.T) {
	manager := NewManager(10, time.Second, time.Second, time.Second)
	client := NewClient("c1", domain.PageContext{Hostname: "contoso.crm.dynamics.com"}, nil, manager)

	for i := 0; i < cap(client.Send); i++ {
		client.Send <- []byte("{}")
	}

	// The manager loop is not running, so nothing drains Unregister. Push
	// must still return instead of blocking on the handoff.
	done := make(chan error, 1)
	go func() {
		msg, _ := NewMessage(TypePing, nil)
		done <- client.Push(msg)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for a full send buffer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked on a full send buffer")
	}

	select {
	case got := <-manager.Unregister:
		if got != client {
			t.Errorf("expected the pushing client to be unregistered, got %v", got.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the client to be handed to Unregister")
	}
}
