package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned by Send when no handle is open.
	ErrNotConnected = errors.New("not connected")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("empty message")
)

const (
	chatPath       = "/ws/chat/"
	writeWait      = 10 * time.Second
	sendQueueDepth = 16
)

// NotifyFunc receives connection events. It is called from socket
// goroutines and must not block for long.
type NotifyFunc func(any)

// FrameMsg carries one decoded frame from a handle.
type FrameMsg struct {
	HandleID string
	Frame    Frame
}

// ConnectionClosedMsg reports that the server side of a handle went away.
// It is not emitted for handles closed locally.
type ConnectionClosedMsg struct {
	HandleID string
	Err      error
}

// ChatEndpoint derives ws(s)://host/ws/chat/?token=... from an http(s)
// server URL.
func ChatEndpoint(serverURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + chatPath
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// ConnOption configures a ConnectionManager.
type ConnOption func(*ConnectionManager)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) ConnOption {
	return func(m *ConnectionManager) { m.dialer = d }
}

// WithKeepAlive enables write-side pings at the given interval.
func WithKeepAlive(interval time.Duration) ConnOption {
	return func(m *ConnectionManager) { m.keepAlive = interval }
}

// ConnectionManager owns the single chat socket of a view.
type ConnectionManager struct {
	serverURL string
	notify    NotifyFunc
	dialer    *websocket.Dialer
	keepAlive time.Duration

	mu      sync.Mutex
	current *Handle
}

// NewConnectionManager creates a manager for the given server. notify is
// registered as the single listener of every handle it opens.
func NewConnectionManager(serverURL string, notify NotifyFunc, opts ...ConnOption) *ConnectionManager {
	m := &ConnectionManager{
		serverURL: serverURL,
		notify:    notify,
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open establishes a connection using token as the query credential.
// Any handle that is already open is closed first.
func (m *ConnectionManager) Open(ctx context.Context, token string) (*Handle, error) {
	endpoint, err := ChatEndpoint(m.serverURL, token)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()
	if prev != nil {
		slog.Info("connection.replaced", "handle", prev.ID)
		prev.Close()
	}

	conn, resp, err := m.dialer.DialContext(ctx, endpoint, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %s: %w", redactToken(endpoint), resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", redactToken(endpoint), err)
	}

	h := newHandle(conn, m.notify, m.keepAlive)

	m.mu.Lock()
	if m.current != nil {
		// A concurrent Open won the race; keep only the newest.
		m.current.Close()
	}
	m.current = h
	m.mu.Unlock()

	h.start()
	slog.Info("connection.opened", "handle", h.ID, "endpoint", redactToken(endpoint))
	return h, nil
}

// Current returns the open handle, or nil.
func (m *ConnectionManager) Current() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Closed() {
		return nil
	}
	return m.current
}

// Send enqueues a user message frame on the open handle.
func (m *ConnectionManager) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	h := m.Current()
	if h == nil {
		return ErrNotConnected
	}
	return h.send(text)
}

// Close terminates h. Closing a nil or already closed handle is a no-op.
func (m *ConnectionManager) Close(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	if m.current == h {
		m.current = nil
	}
	m.mu.Unlock()
	h.Close()
}

// CloseCurrent closes whatever handle is open.
func (m *ConnectionManager) CloseCurrent() {
	m.mu.Lock()
	h := m.current
	m.current = nil
	m.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

// Handle is one live socket connection.
type Handle struct {
	ID string

	conn      *websocket.Conn
	notify    NotifyFunc
	keepAlive time.Duration
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newHandle(conn *websocket.Conn, notify NotifyFunc, keepAlive time.Duration) *Handle {
	return &Handle{
		ID:        uuid.NewString(),
		conn:      conn,
		notify:    notify,
		keepAlive: keepAlive,
		out:       make(chan []byte, sendQueueDepth),
		done:      make(chan struct{}),
	}
}

func (h *Handle) start() {
	h.wg.Add(2)
	go h.readLoop()
	go h.writeLoop()
}

// Closed reports whether Close has been called or the socket dropped.
func (h *Handle) Closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Close tears the connection down. It is safe to call more than once and
// from any goroutine; only the first call has an effect.
func (h *Handle) Close() {
	h.shutdown(true)
}

// Wait blocks until the handle's goroutines have exited.
func (h *Handle) Wait() {
	h.wg.Wait()
}

func (h *Handle) shutdown(local bool) bool {
	first := false
	h.closeOnce.Do(func() {
		first = true
		close(h.done)
		if local {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = h.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		_ = h.conn.Close()
		slog.Info("connection.closed", "handle", h.ID, "local", local)
	})
	return first
}

func (h *Handle) send(text string) error {
	data, err := EncodeUserFrame(text)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrNotConnected
	default:
	}
	select {
	case h.out <- data:
		return nil
	case <-h.done:
		return ErrNotConnected
	}
}

func (h *Handle) readLoop() {
	defer h.wg.Done()
	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			// Only a remote drop is reported; a local close means the
			// listener may belong to a view that is already gone.
			if h.shutdown(false) {
				slog.Info("connection.dropped", "handle", h.ID, "error", err)
				h.emit(ConnectionClosedMsg{HandleID: h.ID, Err: err})
			}
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			slog.Debug("frame.malformed", "handle", h.ID, "error", err)
			continue
		}
		slog.Debug("frame.received", "handle", h.ID, "kind", frame.Kind.String())
		if h.Closed() {
			return
		}
		h.emit(FrameMsg{HandleID: h.ID, Frame: frame})
	}
}

func (h *Handle) writeLoop() {
	defer h.wg.Done()

	var ping <-chan time.Time
	if h.keepAlive > 0 {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-h.done:
			return
		case data := <-h.out:
			_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Warn("connection.write_failed", "handle", h.ID, "error", err)
				// Let the read loop observe the failure and report the drop.
				_ = h.conn.Close()
				return
			}
			slog.Debug("frame.sent", "handle", h.ID, "bytes", len(data))
		case <-ping:
			_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("connection.ping_failed", "handle", h.ID, "error", err)
				_ = h.conn.Close()
				return
			}
		}
	}
}

func (h *Handle) emit(msg any) {
	if h.notify != nil {
		h.notify(msg)
	}
}

func redactToken(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
