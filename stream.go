package main

import (
	"log/slog"
	"strings"
)

// StreamState is the state of the reply being assembled.
type StreamState int

const (
	// StreamIdle means no reply is in progress.
	StreamIdle StreamState = iota
	// StreamStreaming means tokens are being accumulated.
	StreamStreaming
)

func (s StreamState) String() string {
	if s == StreamStreaming {
		return "streaming"
	}
	return "idle"
}

// StreamAssembler folds inbound frames into the in-progress reply and
// hands finalized replies back to the caller. It is not safe for
// concurrent use; it lives on the UI event loop.
type StreamAssembler struct {
	state  StreamState
	buffer strings.Builder
}

// Apply feeds one frame into the state machine. It returns the finalized
// message when the frame completes a reply.
func (a *StreamAssembler) Apply(f Frame) (Message, bool) {
	switch f.Kind {
	case FrameToken:
		a.buffer.WriteString(f.Token)
		a.state = StreamStreaming
		return nil, false
	case FrameFinal:
		// The server's content wins over whatever was accumulated locally.
		if a.buffer.Len() > 0 && a.buffer.String() != f.Final.Markdown {
			slog.Debug("stream.final_differs", "accumulated_len", a.buffer.Len(), "final_len", len(f.Final.Markdown))
		}
		a.buffer.Reset()
		a.state = StreamIdle
		return f.Final, true
	default:
		return nil, false
	}
}

// Discard drops any partial reply without finalizing it.
func (a *StreamAssembler) Discard() {
	if a.state == StreamStreaming {
		slog.Debug("stream.discarded", "partial_len", a.buffer.Len())
	}
	a.buffer.Reset()
	a.state = StreamIdle
}

// InProgress returns the text accumulated since the last finalize.
func (a *StreamAssembler) InProgress() string {
	return a.buffer.String()
}

// State returns the current state.
func (a *StreamAssembler) State() StreamState {
	return a.state
}
