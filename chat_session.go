package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ChatSession ties the connection, the stream assembler and the
// transcript together for one view. Apart from Connect, its methods
// must be called from the UI event loop only.
type ChatSession struct {
	conns      *ConnectionManager
	transcript Transcript
	stream     StreamAssembler

	mounted    bool
	generation uint64
	handleID   string

	// ctx lives from Mount to Unmount and bounds every connect started
	// while mounted.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChatSession returns an unmounted session using conns for transport.
func NewChatSession(conns *ConnectionManager) *ChatSession {
	return &ChatSession{conns: conns}
}

// Mount marks the view as active and returns the generation that async
// results must present to be accepted.
func (s *ChatSession) Mount() uint64 {
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.generation++
	s.mounted = true
	s.stream.Discard()
	slog.Debug("session.mounted", "generation", s.generation)
	return s.generation
}

// Mounted reports whether the view is active.
func (s *ChatSession) Mounted() bool {
	return s.mounted
}

// Context is cancelled when the session is unmounted. Commands that
// connect on behalf of the view must capture it on the event loop and
// pass it to Connect.
func (s *ChatSession) Context() context.Context {
	if s.ctx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.ctx
}

// Generation returns the current mount generation.
func (s *ChatSession) Generation() uint64 {
	return s.generation
}

// Unmount closes the connection and drops any partial reply. Calling it
// on an unmounted session does nothing.
func (s *ChatSession) Unmount() {
	if !s.mounted {
		return
	}
	s.mounted = false
	s.generation++
	s.handleID = ""
	// Cancel before closing: a connect that finishes after this point
	// either sees the cancellation or is the current handle closed below.
	s.cancel()
	s.conns.CloseCurrent()
	s.stream.Discard()
	slog.Debug("session.unmounted", "generation", s.generation)
}

// Connect opens a socket. It blocks on the network and is meant to run
// inside a tea.Cmd; pass the result to Attach with the generation that
// was current when the command was created. A handle that is opened
// after ctx is done is closed again and ctx's error is returned.
func (s *ChatSession) Connect(ctx context.Context, token string) (*Handle, error) {
	if token == "" {
		return nil, fmt.Errorf("no access token: %w", ErrUnauthorized)
	}
	h, err := s.conns.Open(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		slog.Debug("session.connect_cancelled", "handle", h.ID)
		s.conns.Close(h)
		return nil, err
	}
	return h, nil
}

// Attach adopts a handle opened by Connect. A handle that arrives for a
// stale generation or after unmount is closed and false is returned.
func (s *ChatSession) Attach(gen uint64, h *Handle) bool {
	if h == nil {
		return false
	}
	if !s.mounted || gen != s.generation {
		slog.Debug("session.stale_handle", "handle", h.ID, "generation", gen, "current", s.generation)
		s.conns.Close(h)
		return false
	}
	// A later Open may already have replaced this handle.
	if h.Closed() {
		return false
	}
	s.handleID = h.ID
	s.stream.Discard()
	return true
}

// Connected reports whether a live handle is attached.
func (s *ChatSession) Connected() bool {
	if s.handleID == "" {
		return false
	}
	h := s.conns.Current()
	return h != nil && h.ID == s.handleID
}

// Disconnect closes the attached handle but keeps the view mounted.
func (s *ChatSession) Disconnect() {
	s.handleID = ""
	s.conns.CloseCurrent()
	s.stream.Discard()
}

// Submit queues text on the socket and appends it to the transcript
// without waiting for the server. It does not append while disconnected:
// ErrNotConnected is returned and the transcript is unchanged, as it is
// for blank input (ErrEmptyMessage).
func (s *ChatSession) Submit(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if !s.Connected() {
		return ErrNotConnected
	}
	if err := s.conns.Send(text); err != nil {
		return err
	}
	s.transcript.Append(UserMessage{Body: text})
	return nil
}

// Receive routes a frame from the socket. Frames from any handle other
// than the attached one are ignored. The finalized message is returned
// when the frame completes a reply.
func (s *ChatSession) Receive(msg FrameMsg) (Message, bool) {
	if !s.mounted || msg.HandleID == "" || msg.HandleID != s.handleID {
		slog.Debug("session.stale_frame", "handle", msg.HandleID)
		return nil, false
	}
	final, ok := s.stream.Apply(msg.Frame)
	if ok {
		s.transcript.Append(final)
	}
	return final, ok
}

// Dropped handles a remote close. The partial reply is discarded and no
// error is surfaced.
func (s *ChatSession) Dropped(msg ConnectionClosedMsg) bool {
	if msg.HandleID == "" || msg.HandleID != s.handleID {
		return false
	}
	s.handleID = ""
	s.stream.Discard()
	return true
}

// Transcript exposes the finalized history.
func (s *ChatSession) Transcript() *Transcript {
	return &s.transcript
}

// InProgress returns the reply text accumulated so far.
func (s *ChatSession) InProgress() string {
	return s.stream.InProgress()
}

// StreamState returns the assembler state.
func (s *ChatSession) StreamState() StreamState {
	return s.stream.State()
}
