package exchange

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testHandler struct {
	url          string
	connectCalls int32
	messages     [][]byte
	mu           sync.Mutex
}

func (h *testHandler) URL() string { return h.url }
func (h *testHandler) ID() string  { return "TEST" }
func (h *testHandler) OnConnect(context.Context, *websocket.Conn) error {
	atomic.AddInt32(&h.connectCalls, 1)
	return nil
}
func (h *testHandler) OnMessage(_ context.Context, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, append([]byte(nil), msg...))
}
func (h *testHandler) Heartbeat() []byte { return []byte("ping") }
func (h *testHandler) IsHeartbeatAck(msg []byte) bool {
	return bytes.Equal(msg, []byte("pong"))
}

func (h *testHandler) received() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.messages))
	copy(out, h.messages)
	return out
}

func newWSServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handle(conn)
	}))
}

func wsURL(httpURL string) string {
	return strings.Replace(httpURL, "http://", "ws://", 1)
}

func TestStreamWorker_ReceivesMessages(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"mark":"50000"}`))
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	h := &testHandler{url: wsURL(server.URL)}
	w := NewStreamWorker(h)
	w.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Start(ctx)
	time.Sleep(300 * time.Millisecond)
	w.Stop()

	if atomic.LoadInt32(&h.connectCalls) == 0 {
		t.Error("OnConnect never ran")
	}
	if len(h.received()) == 0 {
		t.Error("no messages delivered")
	}
}

// slowSubscribeHandler holds its subscribe write until released, so the
// test can race a Send against the connection handshake.
type slowSubscribeHandler struct {
	url     string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *slowSubscribeHandler) URL() string { return h.url }
func (h *slowSubscribeHandler) ID() string  { return "SLOW" }
func (h *slowSubscribeHandler) OnConnect(_ context.Context, conn *websocket.Conn) error {
	h.once.Do(func() { close(h.entered) })
	<-h.release
	return conn.WriteMessage(websocket.TextMessage, []byte("subscribe"))
}
func (h *slowSubscribeHandler) OnMessage(context.Context, []byte) {}
func (h *slowSubscribeHandler) Heartbeat() []byte                 { return []byte("ping") }
func (h *slowSubscribeHandler) IsHeartbeatAck(msg []byte) bool    { return string(msg) == "pong" }

func TestStreamWorker_SendDuringSubscribeDoesNotInterleave(t *testing.T) {
	got := make(chan string, 4)
	server := newWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			got <- string(msg)
		}
	})
	defer server.Close()

	h := &slowSubscribeHandler{
		url:     wsURL(server.URL),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	w := NewStreamWorker(h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Start(ctx)

	<-h.entered
	// The handshake is mid-flight; this write must not reach the wire
	// before the subscribe frame.
	go w.Send([]byte("order"))
	time.Sleep(50 * time.Millisecond)
	close(h.release)

	first := <-got
	second := <-got
	w.Stop()

	if first != "subscribe" || second != "order" {
		t.Errorf("wire order = [%s %s], want [subscribe order]", first, second)
	}
}

func TestStreamWorker_HeartbeatAckNotDelivered(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		conn.WriteMessage(websocket.TextMessage, []byte("data"))
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	h := &testHandler{url: wsURL(server.URL)}
	w := NewStreamWorker(h)
	w.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Start(ctx)
	time.Sleep(300 * time.Millisecond)
	w.Stop()

	for _, msg := range h.received() {
		if bytes.Equal(msg, []byte("pong")) {
			t.Error("heartbeat ack leaked into OnMessage")
		}
	}
	if len(h.received()) != 1 {
		t.Errorf("delivered %d messages, want 1", len(h.received()))
	}
}

func TestStreamWorker_QueuedMessagesFlushInOrder(t *testing.T) {
	var got [][]byte
	var gotMu sync.Mutex
	done := make(chan struct{})

	server := newWSServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 3; i++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			gotMu.Lock()
			got = append(got, msg)
			gotMu.Unlock()
		}
		close(done)
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	h := &testHandler{url: wsURL(server.URL)}
	w := NewStreamWorker(h)
	w.ReadTimeout = time.Second

	// Queue while disconnected.
	for _, m := range []string{"first", "second", "third"} {
		if err := w.Send([]byte(m)); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued messages never arrived")
	}
	w.Stop()

	gotMu.Lock()
	defer gotMu.Unlock()
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("server got %d messages, want %d", len(got), len(want))
	}
	for i, m := range got {
		if string(m) != want[i] {
			t.Errorf("message %d = %q, want %q", i, m, want[i])
		}
	}
}

func TestStreamWorker_StaleConnectionForcesReconnect(t *testing.T) {
	// Server never acks heartbeats; the worker must drop and redial.
	server := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	h := &testHandler{url: wsURL(server.URL)}
	w := NewStreamWorker(h)
	w.ReadTimeout = 2 * time.Second
	w.HeartbeatInterval = 50 * time.Millisecond
	w.StaleAfter = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	w.Start(ctx)
	time.Sleep(1500 * time.Millisecond)
	w.Stop()

	if atomic.LoadInt32(&h.connectCalls) < 2 {
		t.Errorf("connects = %d, want >= 2 after staleness", h.connectCalls)
	}
}
