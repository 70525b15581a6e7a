package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kioskworks/go-kiosk/pkg/protocol"
)

var upgrader = websocket.Upgrader{}

// echoServer upgrades each request and hands the connection to fn.
func echoServer(t *testing.T, fn func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		fn(conn)
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnect(t *testing.T) {
	t.Run("successful connect", func(t *testing.T) {
		srv := echoServer(t, func(conn *websocket.Conn) {
			conn.ReadMessage()
		})
		defer srv.Close()

		m := NewManager()
		defer m.Close()

		var opened bool
		var mu sync.Mutex
		m.OnConnection(ConnectionCallbacks{
			OnOpen: func() {
				mu.Lock()
				opened = true
				mu.Unlock()
			},
		})

		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !m.IsConnected() {
			t.Error("expected connected state")
		}
		mu.Lock()
		if !opened {
			t.Error("OnOpen not called")
		}
		mu.Unlock()
	})

	t.Run("dial failure returns ConnectionError", func(t *testing.T) {
		m := NewManager()
		defer m.Close()

		err := m.Connect(context.Background(), "ws://127.0.0.1:1/ws")
		if err == nil {
			t.Fatal("expected connect error")
		}
		if !IsRetryable(err) {
			t.Error("dial failure should be retryable")
		}
		if m.IsConnected() {
			t.Error("should not be connected after failure")
		}
	})

	t.Run("double connect rejected", func(t *testing.T) {
		srv := echoServer(t, func(conn *websocket.Conn) {
			conn.ReadMessage()
		})
		defer srv.Close()

		m := NewManager()
		defer m.Close()

		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if err := m.Connect(context.Background(), wsURL(srv)); err != ErrAlreadyConnected {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
	})
}

func TestDispatch(t *testing.T) {
	t.Run("typed and wildcard handlers", func(t *testing.T) {
		srv := echoServer(t, func(conn *websocket.Conn) {
			conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"response.created","response":{"id":"r1"}}`))
			conn.ReadMessage()
		})
		defer srv.Close()

		m := NewManager()
		defer m.Close()

		var mu sync.Mutex
		var typed, wild *protocol.Event
		// Handlers registered before Connect must apply to the
		// connection opened afterwards.
		m.OnMessage(protocol.TypeResponseCreated, func(ev *protocol.Event) {
			mu.Lock()
			typed = ev
			mu.Unlock()
		})
		m.OnMessage(protocol.TypeWildcard, func(ev *protocol.Event) {
			mu.Lock()
			wild = ev
			mu.Unlock()
		})

		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return typed != nil && wild != nil
		}, "handlers not invoked")

		mu.Lock()
		defer mu.Unlock()
		if typed.Response == nil || typed.Response.ID != "r1" {
			t.Error("typed handler got wrong event")
		}
		if wild.Type != protocol.TypeResponseCreated {
			t.Error("wildcard handler got wrong event")
		}
	})

	t.Run("binary frames dispatch as audio", func(t *testing.T) {
		pcm := []byte{0x01, 0x02, 0x03, 0x04}
		srv := echoServer(t, func(conn *websocket.Conn) {
			conn.WriteMessage(websocket.BinaryMessage, pcm)
			conn.ReadMessage()
		})
		defer srv.Close()

		m := NewManager()
		defer m.Close()

		var mu sync.Mutex
		var got []byte
		m.OnMessage(protocol.TypeAudio, func(ev *protocol.Event) {
			mu.Lock()
			got = ev.Binary
			mu.Unlock()
		})

		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return got != nil
		}, "audio handler not invoked")

		mu.Lock()
		defer mu.Unlock()
		if len(got) != len(pcm) {
			t.Errorf("expected %d bytes, got %d", len(pcm), len(got))
		}
	})

	t.Run("unparseable message dispatches error event", func(t *testing.T) {
		srv := echoServer(t, func(conn *websocket.Conn) {
			conn.WriteMessage(websocket.TextMessage, []byte(`{broken`))
			conn.ReadMessage()
		})
		defer srv.Close()

		m := NewManager()
		defer m.Close()

		var mu sync.Mutex
		var errEv *protocol.Event
		m.OnMessage(protocol.TypeError, func(ev *protocol.Event) {
			mu.Lock()
			errEv = ev
			mu.Unlock()
		})

		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return errEv != nil
		}, "error handler not invoked")

		mu.Lock()
		defer mu.Unlock()
		if errEv.ErrorMessage() == "unknown error" {
			t.Error("expected parse error message")
		}
	})

	t.Run("re-registering replaces handler", func(t *testing.T) {
		srv := echoServer(t, func(conn *websocket.Conn) {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.done"}`))
			conn.ReadMessage()
		})
		defer srv.Close()

		m := NewManager()
		defer m.Close()

		var mu sync.Mutex
		var first, second int
		m.OnMessage(protocol.TypeResponseDone, func(ev *protocol.Event) {
			mu.Lock()
			first++
			mu.Unlock()
		})
		m.OnMessage(protocol.TypeResponseDone, func(ev *protocol.Event) {
			mu.Lock()
			second++
			mu.Unlock()
		})

		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return second > 0
		}, "replacement handler not invoked")

		mu.Lock()
		defer mu.Unlock()
		if first != 0 {
			t.Error("replaced handler should not fire")
		}
	})
}

func TestSend(t *testing.T) {
	t.Run("send while disconnected is a no-op", func(t *testing.T) {
		m := NewManager()
		defer m.Close()

		if err := m.Send(map[string]any{"type": "response.create"}); err != nil {
			t.Errorf("disconnected send should not error: %v", err)
		}
		if err := m.SendBinary([]byte{1, 2}); err != nil {
			t.Errorf("disconnected binary send should not error: %v", err)
		}
	})

	t.Run("json and binary reach the server", func(t *testing.T) {
		type received struct {
			msgType int
			data    []byte
		}
		recv := make(chan received, 2)
		srv := echoServer(t, func(conn *websocket.Conn) {
			for i := 0; i < 2; i++ {
				mt, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				recv <- received{mt, data}
			}
		})
		defer srv.Close()

		m := NewManager()
		defer m.Close()

		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		if err := m.Send(protocol.ResponseCreate()); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if err := m.SendBinary([]byte{0x01, 0x02}); err != nil {
			t.Fatalf("binary send failed: %v", err)
		}

		for i := 0; i < 2; i++ {
			select {
			case r := <-recv:
				switch r.msgType {
				case websocket.TextMessage:
					if !strings.Contains(string(r.data), "response.create") {
						t.Errorf("unexpected text payload: %s", r.data)
					}
				case websocket.BinaryMessage:
					if len(r.data) != 2 {
						t.Errorf("unexpected binary length: %d", len(r.data))
					}
				}
			case <-time.After(2 * time.Second):
				t.Fatal("server did not receive messages")
			}
		}
	})
}

func TestClose(t *testing.T) {
	t.Run("idempotent close", func(t *testing.T) {
		srv := echoServer(t, func(conn *websocket.Conn) {
			conn.ReadMessage()
		})
		defer srv.Close()

		m := NewManager()
		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		if err := m.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Errorf("second close failed: %v", err)
		}
		if m.IsConnected() {
			t.Error("should be disconnected after close")
		}
	})

	t.Run("close clears registrations", func(t *testing.T) {
		srv := echoServer(t, func(conn *websocket.Conn) {
			conn.ReadMessage()
		})
		defer srv.Close()

		m := NewManager()
		m.OnMessage("response.created", func(ev *protocol.Event) {})
		m.OnConnection(ConnectionCallbacks{OnClose: func() {}})

		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		m.mu.RLock()
		defer m.mu.RUnlock()
		if len(m.handlers) != 0 {
			t.Errorf("handlers should be cleared, got %d", len(m.handlers))
		}
		if m.callbacks.OnClose != nil {
			t.Error("connection callbacks should be cleared")
		}
	})

	t.Run("server close triggers OnClose", func(t *testing.T) {
		srv := echoServer(t, func(conn *websocket.Conn) {
			// Close immediately after the handshake.
		})
		defer srv.Close()

		m := NewManager()
		defer m.Close()

		var mu sync.Mutex
		var closedCount int
		m.OnConnection(ConnectionCallbacks{
			OnClose: func() {
				mu.Lock()
				closedCount++
				mu.Unlock()
			},
		})

		if err := m.Connect(context.Background(), wsURL(srv)); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return closedCount > 0
		}, "OnClose not called")

		if m.IsConnected() {
			t.Error("should be disconnected")
		}
	})
}
