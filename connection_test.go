package main

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestChatEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		token     string
		expected  string
		wantErr   bool
	}{
		{
			name:      "http becomes ws",
			serverURL: "http://localhost:8000",
			token:     "abc",
			expected:  "ws://localhost:8000/ws/chat/?token=abc",
		},
		{
			name:      "https becomes wss and keeps the base path",
			serverURL: "https://chat.example.com/base/",
			token:     "abc",
			expected:  "wss://chat.example.com/base/ws/chat/?token=abc",
		},
		{
			name:      "token is query escaped",
			serverURL: "http://localhost:8000",
			token:     "a b&c",
			expected:  "ws://localhost:8000/ws/chat/?token=a+b%26c",
		},
		{
			name:      "unsupported scheme",
			serverURL: "ftp://localhost",
			wantErr:   true,
		},
		{
			name:      "missing host",
			serverURL: "http://",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChatEndpoint(tt.serverURL, tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRedactToken(t *testing.T) {
	got := redactToken("ws://localhost:8000/ws/chat/?token=abc")
	assert.NotContains(t, got, "abc")
	assert.Contains(t, got, "REDACTED")
}

func TestSendWithoutHandle(t *testing.T) {
	m := NewConnectionManager("http://localhost:8000", nil)

	assert.ErrorIs(t, m.Send("hi"), ErrNotConnected)
	assert.ErrorIs(t, m.Send("   \n"), ErrEmptyMessage)
	assert.Nil(t, m.Current())
}

func TestOpenSendReceive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := newChatServer(t, helloReply)
	defer srv.Close()

	notify, events := eventSink()
	m := NewConnectionManager(srv.URL(), notify)
	h, err := m.Open(context.Background(), testToken)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)
	assert.Same(t, h, m.Current())

	require.NoError(t, m.Send("Hi"))
	assert.Equal(t, "Hi", nextReceived(t, srv))

	first := nextEvent(t, events).(FrameMsg)
	assert.Equal(t, h.ID, first.HandleID)
	assert.Equal(t, Frame{Kind: FrameToken, Token: "Hel"}, first.Frame)

	second := nextEvent(t, events).(FrameMsg)
	assert.Equal(t, "lo!", second.Frame.Token)

	final := nextEvent(t, events).(FrameMsg)
	assert.Equal(t, FrameFinal, final.Frame.Kind)
	assert.Equal(t, BotMessage{Markdown: "Hello!"}, final.Frame.Final)

	m.Close(h)
	h.Wait()
}

func TestOpenRejectedToken(t *testing.T) {
	srv := newChatServer(t, nil)
	defer srv.Close()

	m := NewConnectionManager(srv.URL(), nil)
	_, err := m.Open(context.Background(), "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.NotContains(t, err.Error(), "wrong")
	assert.Nil(t, m.Current())
}

func TestCloseIsIdempotentAndSilent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := newChatServer(t, nil)
	defer srv.Close()

	notify, events := eventSink()
	m := NewConnectionManager(srv.URL(), notify)
	h, err := m.Open(context.Background(), testToken)
	require.NoError(t, err)

	h.Close()
	h.Close()
	m.Close(h)
	m.CloseCurrent()
	h.Wait()

	assert.True(t, h.Closed())
	assert.Nil(t, m.Current())
	assert.ErrorIs(t, m.Send("late"), ErrNotConnected)
	requireNoEvent(t, events)
}

func TestRemoteDropEmitsOneClosed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := newChatServer(t, nil)
	defer srv.Close()

	notify, events := eventSink()
	m := NewConnectionManager(srv.URL(), notify)
	h, err := m.Open(context.Background(), testToken)
	require.NoError(t, err)

	serverConn := <-srv.accepted
	require.NoError(t, serverConn.Close())

	closed, ok := nextEvent(t, events).(ConnectionClosedMsg)
	require.True(t, ok)
	assert.Equal(t, h.ID, closed.HandleID)
	assert.Error(t, closed.Err)

	h.Wait()
	assert.True(t, h.Closed())
	assert.Nil(t, m.Current())
	h.Close()
	requireNoEvent(t, events)
}

func TestOpenReplacesPreviousHandle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := newChatServer(t, nil)
	defer srv.Close()

	notify, events := eventSink()
	m := NewConnectionManager(srv.URL(), notify)
	first, err := m.Open(context.Background(), testToken)
	require.NoError(t, err)
	second, err := m.Open(context.Background(), testToken)
	require.NoError(t, err)

	first.Wait()
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Same(t, second, m.Current())
	requireNoEvent(t, events)

	m.CloseCurrent()
	second.Wait()
}

func TestMalformedFramesAreDropped(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, text string) {
		writeFrames(conn,
			`not json`,
			`{"token":1}`,
			`{"token":"a","message":"b"}`,
			`{}`,
			`{"message":null}`,
			`{"message":"ok"}`,
		)
	})
	defer srv.Close()

	notify, events := eventSink()
	m := NewConnectionManager(srv.URL(), notify)
	h, err := m.Open(context.Background(), testToken)
	require.NoError(t, err)
	defer m.Close(h)

	require.NoError(t, m.Send("go"))

	msg := nextEvent(t, events).(FrameMsg)
	assert.Equal(t, FrameFinal, msg.Frame.Kind)
	assert.Equal(t, "ok", msg.Frame.Final.Markdown)
}

func TestKeepAliveSendsPings(t *testing.T) {
	srv := newChatServer(t, nil)
	defer srv.Close()

	m := NewConnectionManager(srv.URL(), nil, WithKeepAlive(20*time.Millisecond))
	h, err := m.Open(context.Background(), testToken)
	require.NoError(t, err)
	defer m.Close(h)

	require.Eventually(t, func() bool {
		return srv.pings.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, h.Closed())
}
