package voice

import (
	"context"
	"errors"
)

var (
	ErrMissingAPIKey = errors.New("voice: upstream api key is not configured")
	ErrSessionClosed = errors.New("voice: upstream session closed")
)

type EventType string

const (
	EventReady        EventType = "ready"
	EventAudio        EventType = "audio"
	EventInterrupted  EventType = "interrupted"
	EventToolCall     EventType = "tool_call"
	EventTurnComplete EventType = "turn_complete"
	EventError        EventType = "error"
)

// FunctionCall is a tool invocation requested by the upstream model.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse answers a FunctionCall with the same ID.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Event is one item of the ordered upstream stream.
type Event struct {
	Type        EventType
	AudioBase64 string
	MIMEType    string
	Calls       []FunctionCall
	Code        string
	Detail      string
	Retryable   bool
}

type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SessionConfig is the fixed per-session upstream configuration.
type SessionConfig struct {
	Model             string
	VoiceName         string
	SystemInstruction string
	Tools             []ToolDeclaration
	InputMIMEType     string
}

// LiveSession is one full-duplex upstream conversation.
type LiveSession interface {
	// SendAudio forwards one base64 PCM frame as realtime input.
	SendAudio(ctx context.Context, audioBase64 string) error
	SendToolResponse(ctx context.Context, responses []FunctionResponse) error
	// Events yields upstream events in arrival order. The channel is closed
	// when the session ends; an abnormal end is preceded by an EventError.
	Events() <-chan Event
	Close() error
}

type LiveProvider interface {
	Connect(ctx context.Context, cfg SessionConfig) (LiveSession, error)
	Name() string
}
