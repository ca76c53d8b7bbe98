package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testToken = "secret-token"

// chatServer is an in-process chat endpoint. reply runs on the
// connection's goroutine for every user frame received.
type chatServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	reply    func(conn *websocket.Conn, text string)

	received chan string
	accepted chan *websocket.Conn
	pings    atomic.Int32

	// upgradeDelay holds back the websocket handshake, in nanoseconds.
	upgradeDelay atomic.Int64

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newChatServer(t *testing.T, reply func(conn *websocket.Conn, text string)) *chatServer {
	t.Helper()
	s := &chatServer{
		reply:    reply,
		received: make(chan string, 16),
		accepted: make(chan *websocket.Conn, 4),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *chatServer) URL() string {
	return s.srv.URL
}

func (s *chatServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != chatPath {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("token") != testToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if d := s.upgradeDelay.Load(); d > 0 {
		time.Sleep(time.Duration(d))
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetPingHandler(func(data string) error {
		s.pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	select {
	case s.accepted <- conn:
	default:
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		select {
		case s.received <- frame.Message:
		default:
		}
		if s.reply != nil {
			s.reply(conn, frame.Message)
		}
	}
}

// Close drops every open connection and stops the server.
func (s *chatServer) Close() {
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.srv.Close()
}

// writeFrames sends raw JSON frames, in order.
func writeFrames(conn *websocket.Conn, frames ...string) {
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
}

// slowHandshake delays every upgrade by d.
func (s *chatServer) slowHandshake(d time.Duration) {
	s.upgradeDelay.Store(int64(d))
}

// helloReply streams "Hello!" in two tokens and finalizes it.
func helloReply(conn *websocket.Conn, text string) {
	writeFrames(conn, `{"token":"Hel"}`, `{"token":"lo!"}`, `{"message":"Hello!"}`)
}

// eventSink collects listener calls.
func eventSink() (NotifyFunc, chan any) {
	ch := make(chan any, 64)
	return func(m any) { ch <- m }, ch
}

func nextEvent(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection event")
		return nil
	}
}

func requireNoEvent(t *testing.T, ch <-chan any) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected connection event: %#v", m)
	case <-time.After(150 * time.Millisecond):
	}
}

func nextReceived(t *testing.T, s *chatServer) string {
	t.Helper()
	select {
	case text := <-s.received:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to receive a frame")
		return ""
	}
}
