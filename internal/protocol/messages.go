package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAudio       MessageType = "audio"
	TypeConnected   MessageType = "connected"
	TypeInterrupted MessageType = "interrupted"
	TypeError       MessageType = "error"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Message is the closed set of frames exchanged between client and relay.
type Message interface {
	MessageType() MessageType
	isMessage()
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// Audio carries base64 PCM16 mono audio. Client frames are 16 kHz,
// relay frames are 24 kHz.
type Audio struct {
	Data string
}

type Connected struct{}

type Interrupted struct{}

type Error struct {
	Message string
}

func NewAudio(pcm []byte) Audio {
	return Audio{Data: base64.StdEncoding.EncodeToString(pcm)}
}

// PCM decodes the payload.
func (a Audio) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Data)
}

func (Audio) MessageType() MessageType       { return TypeAudio }
func (Connected) MessageType() MessageType   { return TypeConnected }
func (Interrupted) MessageType() MessageType { return TypeInterrupted }
func (Error) MessageType() MessageType       { return TypeError }

func (Audio) isMessage()       {}
func (Connected) isMessage()   {}
func (Interrupted) isMessage() {}
func (Error) isMessage()       {}

type audioWire struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

type errorWire struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func (a Audio) MarshalJSON() ([]byte, error) {
	return json.Marshal(audioWire{Type: TypeAudio, Data: a.Data})
}

func (Connected) MarshalJSON() ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeConnected})
}

func (Interrupted) MarshalJSON() ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeInterrupted})
}

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorWire{Type: TypeError, Message: e.Message})
}

// Encode serializes a message with its type tag.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	return json.Marshal(m)
}

// ParseClientMessage decodes a client->relay frame. Only audio is accepted.
func ParseClientMessage(raw []byte) (Message, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if env.Type != TypeAudio {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
	return parseAudio(raw)
}

// ParseServerMessage decodes a relay->client frame.
func ParseServerMessage(raw []byte) (Message, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeAudio:
		return parseAudio(raw)
	case TypeConnected:
		return Connected{}, nil
	case TypeInterrupted:
		return Interrupted{}, nil
	case TypeError:
		var msg errorWire
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return Error{Message: msg.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

func parseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: invalid envelope: %v", ErrInvalidMessage, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return env, nil
}

func parseAudio(raw []byte) (Message, error) {
	var msg audioWire
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Data == "" {
		return nil, fmt.Errorf("%w: empty audio payload", ErrInvalidMessage)
	}
	if _, err := base64.StdEncoding.DecodeString(msg.Data); err != nil {
		return nil, fmt.Errorf("%w: audio payload is not base64: %v", ErrInvalidMessage, err)
	}
	return Audio{Data: msg.Data}, nil
}
