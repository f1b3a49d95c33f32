package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockGateway creates a test WebSocket server.
func mockGateway(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// nextEvent waits for one event or fails the test.
func nextEvent(t *testing.T, conn Conn) Event {
	t.Helper()
	select {
	case ev := <-conn.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestDial_ReceivesMessages(t *testing.T) {
	frames := []string{
		`{"op":10,"d":{"heartbeat_interval":41250}}`,
		`{"op":0,"t":"MESSAGE_CREATE","s":1,"d":{}}`,
	}

	server := mockGateway(t, func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	conn, err := Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.CloseNormalClosure)

	for i, want := range frames {
		ev := nextEvent(t, conn)
		if ev.Kind != EventMessage {
			t.Fatalf("event %d: Kind = %v, want EventMessage", i, ev.Kind)
		}
		if string(ev.Data) != want {
			t.Errorf("event %d: got %q, want %q", i, ev.Data, want)
		}
		if ev.ReceivedAt.IsZero() {
			t.Error("ReceivedAt should not be zero")
		}
	}
}

func TestConn_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockGateway(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	conn, err := Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.CloseNormalClosure)

	msg := []byte(`{"op":1,"d":42}`)
	if err := conn.Send(msg); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	// Wait for the frame to land
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(msg) {
		t.Errorf("received %q, want %q", received, msg)
	}
}

func TestConn_PeerCloseCode(t *testing.T) {
	server := mockGateway(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(4008, "rate limited"),
			time.Now().Add(time.Second),
		)
		// Wait for the client's close response
		conn.ReadMessage()
	})
	defer server.Close()

	conn, err := Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.CloseNormalClosure)

	ev := nextEvent(t, conn)
	if ev.Kind != EventClosed {
		t.Fatalf("Kind = %v, want EventClosed", ev.Kind)
	}
	if ev.Code != 4008 {
		t.Errorf("Code = %d, want 4008", ev.Code)
	}
	if ev.Err == nil {
		t.Error("Err should carry the read error")
	}

	// Channel closes after the terminal event
	if _, ok := <-conn.Events(); ok {
		t.Error("events channel should be closed after EventClosed")
	}
}

func TestConn_LocalCloseCode(t *testing.T) {
	var peerCode int
	var mu sync.Mutex

	server := mockGateway(t, func(conn *websocket.Conn) {
		conn.SetCloseHandler(func(code int, text string) error {
			mu.Lock()
			peerCode = code
			mu.Unlock()
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	conn, err := Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := conn.Close(4900); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	ev := nextEvent(t, conn)
	if ev.Kind != EventClosed {
		t.Fatalf("Kind = %v, want EventClosed", ev.Kind)
	}
	if ev.Code != 4900 {
		t.Errorf("Code = %d, want 4900 (locally requested)", ev.Code)
	}

	// The peer saw the code we sent in the close frame
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if peerCode != 4900 {
		t.Errorf("peer saw close code %d, want 4900", peerCode)
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	server := mockGateway(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	conn, err := Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := conn.Close(websocket.CloseNormalClosure); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := conn.Send([]byte("late")); err != ErrClosed {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestConn_DoubleClose(t *testing.T) {
	server := mockGateway(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	conn, err := Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := conn.Close(websocket.CloseNormalClosure); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := conn.Close(websocket.CloseNormalClosure); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestConn_AbnormalClosure(t *testing.T) {
	server := mockGateway(t, func(conn *websocket.Conn) {
		// Drop the TCP connection without a close frame
		conn.UnderlyingConn().Close()
	})
	defer server.Close()

	conn, err := Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.CloseNormalClosure)

	ev := nextEvent(t, conn)
	if ev.Kind != EventClosed {
		t.Fatalf("Kind = %v, want EventClosed", ev.Kind)
	}
	if ev.Code != websocket.CloseAbnormalClosure {
		t.Errorf("Code = %d, want %d", ev.Code, websocket.CloseAbnormalClosure)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", cfg.HandshakeTimeout)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Errorf("WriteTimeout = %v, want 5s", cfg.WriteTimeout)
	}
	if cfg.BufferSize != 512 {
		t.Errorf("BufferSize = %d, want 512", cfg.BufferSize)
	}
}
