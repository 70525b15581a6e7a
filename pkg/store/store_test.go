package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// kvServer is an in-memory store speaking the REST path convention.
type kvServer struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newKVServer() *kvServer {
	return &kvServer{data: make(map[string][]byte)}
}

func (s *kvServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.URL.Path
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		s.data[key] = body
		w.Write([]byte("null"))
	case http.MethodGet:
		val, ok := s.data[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(val)
	case http.MethodDelete:
		delete(s.data, key)
		w.Write([]byte("null"))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *kvServer) set(key string, value any) {
	data, _ := json.Marshal(value)
	s.mu.Lock()
	s.data[key] = data
	s.mu.Unlock()
}

func testClient(t *testing.T) (*Client, *kvServer) {
	t.Helper()
	kv := newKVServer()
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, WithPollInterval(20*time.Millisecond))
	t.Cleanup(c.Close)
	return c, kv
}

func TestReadWrite(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		if err := c.Write(ctx, "users/u1/name", "Ada"); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		value, err := c.Read(ctx, "users/u1/name")
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if value != "Ada" {
			t.Errorf("expected Ada, got %v", value)
		}
	})

	t.Run("missing path reads nil", func(t *testing.T) {
		value, err := c.Read(ctx, "nope")
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if value != nil {
			t.Errorf("expected nil, got %v", value)
		}
	})

	t.Run("structured value", func(t *testing.T) {
		if err := c.Write(ctx, "robot_action", map[string]any{"action": "wave", "count": 2}); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		value, err := c.Read(ctx, "robot_action")
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		obj, ok := value.(map[string]any)
		if !ok {
			t.Fatalf("expected object, got %T", value)
		}
		if obj["action"] != "wave" {
			t.Errorf("unexpected action: %v", obj["action"])
		}
	})
}

func TestRemove(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	if err := c.Write(ctx, "currentUser", "u1"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := c.Remove(ctx, "currentUser"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	value, err := c.Read(ctx, "currentUser")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if value != nil {
		t.Errorf("expected nil after remove, got %v", value)
	}

	// Removing again is fine.
	if err := c.Remove(ctx, "currentUser"); err != nil {
		t.Errorf("second remove failed: %v", err)
	}
}

func TestWatch(t *testing.T) {
	t.Run("fires on initial value and changes", func(t *testing.T) {
		c, kv := testClient(t)
		kv.set("/currentUser.json", "u1")

		var mu sync.Mutex
		var seen []any
		unsub := c.Watch("currentUser", func(value any) {
			mu.Lock()
			seen = append(seen, value)
			mu.Unlock()
		})
		defer unsub()

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			n := len(seen)
			mu.Unlock()
			if n >= 1 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}

		mu.Lock()
		if len(seen) == 0 || seen[0] != "u1" {
			t.Fatalf("expected initial value u1, got %v", seen)
		}
		mu.Unlock()

		kv.set("/currentUser.json", "u2")

		for time.Now().Before(deadline) {
			mu.Lock()
			n := len(seen)
			mu.Unlock()
			if n >= 2 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(seen) < 2 || seen[len(seen)-1] != "u2" {
			t.Errorf("expected change to u2, got %v", seen)
		}
	})

	t.Run("unchanged value does not refire", func(t *testing.T) {
		c, kv := testClient(t)
		kv.set("/steady.json", "same")

		var mu sync.Mutex
		count := 0
		unsub := c.Watch("steady", func(value any) {
			mu.Lock()
			count++
			mu.Unlock()
		})
		defer unsub()

		time.Sleep(200 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if count != 1 {
			t.Errorf("expected exactly one callback, got %d", count)
		}
	})

	t.Run("unsubscribe stops callbacks", func(t *testing.T) {
		c, kv := testClient(t)
		kv.set("/x.json", 1)

		var mu sync.Mutex
		count := 0
		unsub := c.Watch("x", func(value any) {
			mu.Lock()
			count++
			mu.Unlock()
		})

		time.Sleep(100 * time.Millisecond)
		unsub()
		unsub() // safe to call twice

		mu.Lock()
		before := count
		mu.Unlock()

		kv.set("/x.json", 2)
		time.Sleep(100 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if count != before {
			t.Error("callback fired after unsubscribe")
		}
	})
}
