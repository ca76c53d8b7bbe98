package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned by DecodeFrame for frames that carry
// neither or both of the "token" and "message" keys, or carry them with
// an unexpected shape.
var ErrMalformedFrame = errors.New("malformed frame")

// Message is one finalized transcript entry. It is either a UserMessage
// or a BotMessage.
type Message interface {
	// Class is the display class derived from the message tag.
	Class() string
	// Text is the plain source text: what the user typed, or the bot's
	// markdown.
	Text() string

	isMessage()
}

// UserMessage is text the local user submitted.
type UserMessage struct {
	Body string
}

// BotMessage is a finalized reply. HTML is server-sanitized and trusted;
// Markdown is the source of truth for copy and edit.
type BotMessage struct {
	Markdown string
	HTML     string
}

func (UserMessage) Class() string  { return "user" }
func (m UserMessage) Text() string { return m.Body }
func (UserMessage) isMessage()     {}

func (BotMessage) Class() string  { return "bot" }
func (m BotMessage) Text() string { return m.Markdown }
func (BotMessage) isMessage()     {}

// FrameKind discriminates inbound frames.
type FrameKind int

const (
	// FrameToken is a partial reply fragment.
	FrameToken FrameKind = iota
	// FrameFinal completes a reply with its authoritative content.
	FrameFinal
)

func (k FrameKind) String() string {
	switch k {
	case FrameToken:
		return "token"
	case FrameFinal:
		return "final"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one decoded server frame.
type Frame struct {
	Kind  FrameKind
	Token string
	Final BotMessage
}

type renderedPayload struct {
	Markdown *string `json:"markdown"`
	HTML     *string `json:"html"`
}

// DecodeFrame parses one inbound text frame.
func DecodeFrame(data []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	token, hasToken := fields["token"]
	message, hasMessage := fields["message"]

	switch {
	case hasToken && hasMessage:
		return Frame{}, fmt.Errorf("%w: both token and message present", ErrMalformedFrame)
	case hasToken:
		var s string
		if isJSONNull(token) || json.Unmarshal(token, &s) != nil {
			return Frame{}, fmt.Errorf("%w: token is not a string", ErrMalformedFrame)
		}
		return Frame{Kind: FrameToken, Token: s}, nil
	case hasMessage:
		final, err := decodeFinal(message)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameFinal, Final: final}, nil
	default:
		return Frame{}, fmt.Errorf("%w: neither token nor message present", ErrMalformedFrame)
	}
}

func decodeFinal(raw json.RawMessage) (BotMessage, error) {
	if isJSONNull(raw) {
		return BotMessage{}, fmt.Errorf("%w: message is null", ErrMalformedFrame)
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return BotMessage{Markdown: plain}, nil
	}

	var rendered renderedPayload
	if err := json.Unmarshal(raw, &rendered); err != nil {
		return BotMessage{}, fmt.Errorf("%w: message is neither string nor object", ErrMalformedFrame)
	}
	if rendered.Markdown == nil && rendered.HTML == nil {
		return BotMessage{}, fmt.Errorf("%w: message object has no markdown or html", ErrMalformedFrame)
	}

	var msg BotMessage
	if rendered.Markdown != nil {
		msg.Markdown = *rendered.Markdown
	}
	if rendered.HTML != nil {
		msg.HTML = *rendered.HTML
	}
	return msg, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// userFrame is the only frame the client sends.
type userFrame struct {
	Message string `json:"message"`
}

// EncodeUserFrame renders the outbound frame for a submitted message.
// HTML escaping is disabled so that <, > and & reach the server as typed.
func EncodeUserFrame(text string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(userFrame{Message: text}); err != nil {
		return nil, fmt.Errorf("failed to encode user frame: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
