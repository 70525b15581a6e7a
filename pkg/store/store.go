// Package store is a client for the kiosk's shared key-value store.
// Values live at slash-separated paths and are exchanged as JSON over
// REST, with paths mapped to {base}/{path}.json. Watchers poll their
// path and fire on value changes.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/kioskworks/go-kiosk/internal/httpc"
	"github.com/kioskworks/go-kiosk/internal/log"
)

// DefaultPollInterval is how often watchers re-read their path.
const DefaultPollInterval = time.Second

// WatchFunc receives the new value each time a watched path changes.
// A nil value means the path was removed.
type WatchFunc func(value any)

// Client reads and writes the shared store.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval overrides the watcher poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// NewClient creates a store client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   httpc.Client,
		logger:       log.With("component", "store"),
		pollInterval: DefaultPollInterval,
		watchers:     make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.Trim(path, "/") + ".json"
}

// Write stores a value at the given path, replacing any existing value.
func (c *Client) Write(ctx context.Context, path string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal value for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("store: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("store: write %s: unexpected status %d", path, resp.StatusCode)
	}
	c.logger.Debug("wrote value", "path", path)
	return nil
}

// Read fetches the value at the given path. A missing path yields nil
// with no error.
func (c *Client) Read(ctx context.Context, path string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, fmt.Errorf("store: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store: read %s: unexpected status %d", path, resp.StatusCode)
	}

	var value any
	if err := json.NewDecoder(resp.Body).Decode(&value); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return value, nil
}

// Remove deletes the value at the given path. Removing a missing path
// is not an error.
func (c *Client) Remove(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("store: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store: remove %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("store: remove %s: unexpected status %d", path, resp.StatusCode)
	}
	c.logger.Debug("removed value", "path", path)
	return nil
}

// Watch polls the path and invokes fn whenever its value changes,
// including the initial value. It returns an unsubscribe function.
func (c *Client) Watch(path string, fn WatchFunc) func() {
	stop := make(chan struct{})

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = stop
	c.mu.Unlock()

	go c.watchLoop(path, fn, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
			close(stop)
		})
	}
}

// Close stops all watchers.
func (c *Client) Close() {
	c.mu.Lock()
	for id, stop := range c.watchers {
		close(stop)
		delete(c.watchers, id)
	}
	c.mu.Unlock()
}

func (c *Client) watchLoop(path string, fn WatchFunc, stop chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var last any
	first := true

	poll := func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.pollInterval)
		defer cancel()

		value, err := c.Read(ctx, path)
		if err != nil {
			c.logger.Warn("watch poll failed", "path", path, "error", err)
			return
		}
		if first || !reflect.DeepEqual(value, last) {
			first = false
			last = value
			fn(value)
		}
	}

	poll()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			poll()
		}
	}
}
