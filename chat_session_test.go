package main

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// connectedSession mounts a session against srv and attaches a handle.
func connectedSession(t *testing.T, srv *chatServer) (*ChatSession, *Handle, chan any) {
	t.Helper()
	notify, events := eventSink()
	session := NewChatSession(NewConnectionManager(srv.URL(), notify))
	gen := session.Mount()
	h, err := session.Connect(context.Background(), testToken)
	require.NoError(t, err)
	require.True(t, session.Attach(gen, h))
	require.True(t, session.Connected())
	return session, h, events
}

// pump feeds events into the session until a reply is finalized.
func pump(t *testing.T, session *ChatSession, events chan any, onToken func()) Message {
	t.Helper()
	for {
		switch ev := nextEvent(t, events).(type) {
		case FrameMsg:
			final, ok := session.Receive(ev)
			if ok {
				return final
			}
			if onToken != nil {
				onToken()
			}
		case ConnectionClosedMsg:
			t.Fatalf("connection dropped: %v", ev.Err)
		}
	}
}

func TestChatSessionHiScenario(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv := newChatServer(t, helloReply)
	defer srv.Close()

	session, h, events := connectedSession(t, srv)

	require.NoError(t, session.Submit("Hi"))
	assert.Equal(t, "Hi", nextReceived(t, srv))
	assert.Equal(t, []Message{UserMessage{Body: "Hi"}}, slices.Collect(session.Transcript().All()))

	var progress []string
	final := pump(t, session, events, func() {
		progress = append(progress, session.InProgress())
		assert.Equal(t, StreamStreaming, session.StreamState())
	})

	assert.Equal(t, []string{"Hel", "Hello!"}, progress)
	assert.Equal(t, BotMessage{Markdown: "Hello!"}, final)
	assert.Equal(t, []Message{
		UserMessage{Body: "Hi"},
		BotMessage{Markdown: "Hello!"},
	}, slices.Collect(session.Transcript().All()))
	assert.Empty(t, session.InProgress())
	assert.Equal(t, StreamIdle, session.StreamState())

	session.Unmount()
	h.Wait()
}

func TestChatSessionRenderedReply(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, text string) {
		writeFrames(conn, `{"message":{"markdown":"**bold**","html":"<p><strong>bold</strong></p>"}}`)
	})
	defer srv.Close()

	session, _, events := connectedSession(t, srv)
	defer session.Unmount()

	require.NoError(t, session.Submit("format please"))
	final := pump(t, session, events, nil)

	bot, ok := final.(BotMessage)
	require.True(t, ok)
	assert.Equal(t, "**bold**", bot.Markdown)
	assert.Equal(t, "bot", final.Class())
	assert.Equal(t, 2, session.Transcript().Len())
}

func TestChatSessionSubmitGating(t *testing.T) {
	session := NewChatSession(NewConnectionManager("http://localhost:8000", nil))
	session.Mount()

	assert.ErrorIs(t, session.Submit("   "), ErrEmptyMessage)
	assert.ErrorIs(t, session.Submit(""), ErrEmptyMessage)
	assert.ErrorIs(t, session.Submit("Hi"), ErrNotConnected)
	assert.Equal(t, 0, session.Transcript().Len())
}

func TestChatSessionConnectWithoutToken(t *testing.T) {
	session := NewChatSession(NewConnectionManager("http://localhost:8000", nil))
	session.Mount()

	_, err := session.Connect(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestChatSessionStaleHandleIsClosed(t *testing.T) {
	srv := newChatServer(t, nil)
	defer srv.Close()

	notify, events := eventSink()
	session := NewChatSession(NewConnectionManager(srv.URL(), notify))

	gen := session.Mount()
	h, err := session.Connect(context.Background(), testToken)
	require.NoError(t, err)

	// The view goes away before the connect result is delivered.
	session.Unmount()
	assert.False(t, session.Attach(gen, h))
	h.Wait()
	assert.True(t, h.Closed())
	assert.False(t, session.Connected())

	// A result from the previous mount is rejected after remounting.
	session.Mount()
	h2, err := session.Connect(context.Background(), testToken)
	require.NoError(t, err)
	assert.False(t, session.Attach(gen, h2))
	assert.True(t, h2.Closed())
	requireNoEvent(t, events)
}

func TestChatSessionIgnoresForeignFrames(t *testing.T) {
	srv := newChatServer(t, nil)
	defer srv.Close()

	session, h, _ := connectedSession(t, srv)
	defer session.Unmount()

	_, ok := session.Receive(FrameMsg{HandleID: "someone-else", Frame: Frame{Kind: FrameToken, Token: "x"}})
	assert.False(t, ok)
	assert.Empty(t, session.InProgress())

	_, ok = session.Receive(FrameMsg{HandleID: h.ID, Frame: Frame{Kind: FrameToken, Token: "y"}})
	assert.False(t, ok)
	assert.Equal(t, "y", session.InProgress())
}

func TestChatSessionDropDiscardsPartialReply(t *testing.T) {
	srv := newChatServer(t, func(conn *websocket.Conn, text string) {
		writeFrames(conn, `{"token":"half a rep"}`)
		_ = conn.Close()
	})
	defer srv.Close()

	session, _, events := connectedSession(t, srv)
	defer session.Unmount()

	require.NoError(t, session.Submit("Hi"))

	frame := nextEvent(t, events).(FrameMsg)
	_, ok := session.Receive(frame)
	require.False(t, ok)
	assert.Equal(t, "half a rep", session.InProgress())

	closed := nextEvent(t, events).(ConnectionClosedMsg)
	assert.True(t, session.Dropped(closed))
	assert.False(t, session.Connected())
	assert.Empty(t, session.InProgress())
	assert.Equal(t, StreamIdle, session.StreamState())
	assert.Equal(t, []Message{UserMessage{Body: "Hi"}}, slices.Collect(session.Transcript().All()))

	// A repeated or foreign close changes nothing.
	assert.False(t, session.Dropped(closed))
	assert.False(t, session.Dropped(ConnectionClosedMsg{HandleID: "other"}))
	assert.ErrorIs(t, session.Submit("again"), ErrNotConnected)
}

func TestChatSessionUnmountIsIdempotent(t *testing.T) {
	srv := newChatServer(t, nil)
	defer srv.Close()

	session, h, events := connectedSession(t, srv)
	gen := session.Generation()

	session.Unmount()
	session.Unmount()
	h.Wait()

	assert.False(t, session.Mounted())
	assert.True(t, h.Closed())
	assert.Greater(t, session.Generation(), gen)
	requireNoEvent(t, events)

	_, ok := session.Receive(FrameMsg{HandleID: h.ID, Frame: Frame{Kind: FrameToken, Token: "late"}})
	assert.False(t, ok)
}

func TestChatSessionDisconnectKeepsMount(t *testing.T) {
	srv := newChatServer(t, nil)
	defer srv.Close()

	session, h, _ := connectedSession(t, srv)
	defer session.Unmount()
	gen := session.Generation()

	session.Disconnect()
	h.Wait()
	assert.True(t, session.Mounted())
	assert.False(t, session.Connected())
	assert.Equal(t, gen, session.Generation())

	h2, err := session.Connect(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, session.Attach(gen, h2))
	assert.True(t, session.Connected())
}

func TestChatSessionUnmountDuringConnect(t *testing.T) {
	srv := newChatServer(t, nil)
	defer srv.Close()
	srv.slowHandshake(200 * time.Millisecond)

	notify, events := eventSink()
	conns := NewConnectionManager(srv.URL(), notify)
	session := NewChatSession(conns)
	session.Mount()
	ctx := session.Context()

	type result struct {
		h   *Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := session.Connect(ctx, testToken)
		done <- result{h: h, err: err}
	}()

	time.Sleep(50 * time.Millisecond)
	session.Unmount()
	assert.Error(t, session.Context().Err())

	var res result
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("connect did not return after unmount")
	}

	require.Error(t, res.err)
	assert.Nil(t, res.h)
	conns.mu.Lock()
	assert.Nil(t, conns.current, "no handle may stay registered after unmount")
	conns.mu.Unlock()
	assert.False(t, session.Connected())
	requireNoEvent(t, events)
}

func TestChatSessionContextFollowsMount(t *testing.T) {
	session := NewChatSession(NewConnectionManager("http://localhost:8000", nil))
	assert.Error(t, session.Context().Err(), "unmounted sessions have a done context")

	session.Mount()
	first := session.Context()
	require.NoError(t, first.Err())

	session.Mount()
	assert.Error(t, first.Err(), "remounting ends the previous mount")
	assert.NoError(t, session.Context().Err())

	session.Unmount()
	assert.ErrorIs(t, session.Context().Err(), context.Canceled)

	_, err := session.Connect(session.Context(), testToken)
	assert.Error(t, err)
}
