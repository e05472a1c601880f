package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dexsniper/internal/domain"
	"github.com/alanyoungcy/dexsniper/internal/store/memory"
)

func readEnvelope(t *testing.T, c *websocket.Conn) Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env Envelope
	if err := c.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestHubRelaysBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewBus(0)
	hub := NewHub(bus, func() any { return map[string]string{"mode": "snipe"} }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	first := readEnvelope(t, c)
	if first.Type != "status" || !strings.Contains(string(first.Data), `"snipe"`) {
		t.Fatalf("first frame = %+v", first)
	}
	if hub.Clients() != 1 {
		t.Fatalf("clients = %d", hub.Clients())
	}

	// Run subscribes asynchronously, so keep publishing until a frame lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_ = bus.Publish(ctx, domain.ChannelPositions, []byte(`{"id":"p1"}`))
			}
		}
	}()

	ev := readEnvelope(t, c)
	if ev.Type != "event" || ev.Channel != domain.ChannelPositions || string(ev.Data) != `{"id":"p1"}` {
		t.Fatalf("event = %+v", ev)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}
	if hub.Clients() != 0 {
		t.Fatalf("clients after stop = %d", hub.Clients())
	}
}

func TestConnSubscriptions(t *testing.T) {
	c := newConn(nil)
	if !c.wants(domain.ChannelPolicy) {
		t.Fatal("new connections listen on every channel")
	}

	c.apply(control{Action: "unsubscribe", Channels: Channels})
	if c.wants(domain.ChannelPolicy) {
		t.Fatal("unsubscribe ignored")
	}

	c.apply(control{Action: "subscribe", Channels: []string{"pos*"}})
	if !c.wants(domain.ChannelPositions) || c.wants(domain.ChannelCandidates) {
		t.Fatal("glob subscription mismatch")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	c := newConn(nil)
	for i := 0; i < outboxFrames; i++ {
		if !c.enqueue([]byte("x")) {
			t.Fatalf("enqueue %d refused", i)
		}
	}
	if c.enqueue([]byte("x")) {
		t.Fatal("full outbox accepted a frame")
	}
	c.stop()
	c.stop()
}
