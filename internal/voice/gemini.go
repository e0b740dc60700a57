package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/reliability"
)

const (
	defaultGeminiLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	geminiMaxDialRetries = 2
)

// GeminiConfig holds the connection settings for Gemini Live.
type GeminiConfig struct {
	APIKey      string
	URL         string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// GeminiProvider opens Gemini Live sessions over a raw websocket.
type GeminiProvider struct {
	cfg    GeminiConfig
	dialer *websocket.Dialer
}

func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = defaultGeminiLiveURL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GeminiProvider{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Connect(ctx context.Context, cfg SessionConfig) (LiveSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("voice/gemini: parse url: %w", err)
	}
	q := u.Query()
	q.Set("key", p.cfg.APIKey)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()

	var conn *websocket.Conn
	for attempt := 0; ; attempt++ {
		var resp *http.Response
		conn, resp, err = p.dialer.DialContext(dialCtx, u.String(), nil)
		if err == nil {
			break
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if attempt >= geminiMaxDialRetries || !reliability.IsRetryableHTTPStatus(status) {
			return nil, fmt.Errorf("voice/gemini: dial (status=%d): %w", status, err)
		}
		select {
		case <-dialCtx.Done():
			return nil, fmt.Errorf("voice/gemini: dial: %w", dialCtx.Err())
		case <-time.After(reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second)):
		}
	}

	s := &geminiSession{
		conn:   conn,
		events: make(chan Event, 128),
		done:   make(chan struct{}),
		logger: p.cfg.Logger,
		mime:   cfg.InputMIMEType,
	}
	if s.mime == "" {
		s.mime = "audio/pcm;rate=16000"
	}
	if err := s.writeJSON(ctx, buildGeminiSetup(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("voice/gemini: send setup: %w", err)
	}
	go s.readLoop()
	return s, nil
}

type geminiSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
	once    sync.Once
	closing atomic.Bool
	logger  *slog.Logger
	mime    string
}

func (s *geminiSession) Events() <-chan Event { return s.events }

func (s *geminiSession) SendAudio(ctx context.Context, audioBase64 string) error {
	return s.writeJSON(ctx, geminiRealtimeInput{
		RealtimeInput: geminiMediaChunks{
			MediaChunks: []geminiBlob{{MIMEType: s.mime, Data: audioBase64}},
		},
	})
}

func (s *geminiSession) SendToolResponse(ctx context.Context, responses []FunctionResponse) error {
	if len(responses) == 0 {
		return nil
	}
	return s.writeJSON(ctx, geminiToolResponse{
		ToolResponse: geminiFunctionResponses{FunctionResponses: responses},
	})
}

func (s *geminiSession) Close() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *geminiSession) writeJSON(ctx context.Context, v any) error {
	if s.closing.Load() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(v); err != nil {
		if s.closing.Load() {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// readLoop is the only goroutine that emits events, so events keep the
// order in which upstream produced them.
func (s *geminiSession) readLoop() {
	defer close(s.events)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			kind := reliability.ClassifyClose(err, s.closing.Load())
			if kind == reliability.CloseAbnormal {
				code := reliability.CloseCode(err)
				s.emit(Event{
					Type:      EventError,
					Code:      "upstream_closed",
					Detail:    err.Error(),
					Retryable: reliability.IsRetryableCloseCode(code),
				})
			}
			return
		}
		msg, err := decodeGeminiServerMessage(raw)
		if err != nil {
			s.logger.Warn("gemini: skip malformed server message", "error", err)
			continue
		}
		for _, ev := range msg.events() {
			if !s.emit(ev) {
				return
			}
		}
		if msg.GoAway != nil {
			s.logger.Info("gemini: upstream going away", "time_left", msg.GoAway.TimeLeft)
		}
	}
}

func (s *geminiSession) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Wire types.

type geminiSetupMessage struct {
	Setup geminiSetup `json:"setup"`
}

type geminiSetup struct {
	Model             string                 `json:"model"`
	GenerationConfig  geminiGenerationConfig `json:"generation_config"`
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Tools             []geminiTool           `json:"tools,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string            `json:"response_modalities"`
	SpeechConfig       *geminiSpeechConfig `json:"speech_config,omitempty"`
}

type geminiSpeechConfig struct {
	VoiceConfig geminiVoiceConfig `json:"voice_config"`
}

type geminiVoiceConfig struct {
	PrebuiltVoiceConfig geminiPrebuiltVoice `json:"prebuilt_voice_config"`
}

type geminiPrebuiltVoice struct {
	VoiceName string `json:"voice_name"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiTool struct {
	FunctionDeclarations []ToolDeclaration `json:"function_declarations"`
}

type geminiRealtimeInput struct {
	RealtimeInput geminiMediaChunks `json:"realtime_input"`
}

type geminiMediaChunks struct {
	MediaChunks []geminiBlob `json:"media_chunks"`
}

type geminiToolResponse struct {
	ToolResponse geminiFunctionResponses `json:"tool_response"`
}

type geminiFunctionResponses struct {
	FunctionResponses []FunctionResponse `json:"function_responses"`
}

func buildGeminiSetup(cfg SessionConfig) geminiSetupMessage {
	setup := geminiSetup{
		Model: cfg.Model,
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if cfg.VoiceName != "" {
		setup.GenerationConfig.SpeechConfig = &geminiSpeechConfig{
			VoiceConfig: geminiVoiceConfig{PrebuiltVoiceConfig: geminiPrebuiltVoice{VoiceName: cfg.VoiceName}},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		setup.Tools = []geminiTool{{FunctionDeclarations: cfg.Tools}}
	}
	return geminiSetupMessage{Setup: setup}
}

type geminiServerMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				InlineData *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
		Interrupted  bool `json:"interrupted"`
		TurnComplete bool `json:"turnComplete"`
	} `json:"serverContent"`
	ToolCall *struct {
		FunctionCalls []FunctionCall `json:"functionCalls"`
	} `json:"toolCall"`
	ToolCallCancellation *struct {
		IDs []string `json:"ids"`
	} `json:"toolCallCancellation"`
	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway"`
}

var errEmptyServerMessage = errors.New("voice/gemini: empty server message")

func decodeGeminiServerMessage(raw []byte) (geminiServerMessage, error) {
	var msg geminiServerMessage
	if len(raw) == 0 {
		return msg, errEmptyServerMessage
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("voice/gemini: decode server message: %w", err)
	}
	return msg, nil
}

// events flattens one server message. An interruption is reported before
// any audio carried alongside it, and every inline audio part is kept.
func (m geminiServerMessage) events() []Event {
	var out []Event
	if m.SetupComplete != nil {
		out = append(out, Event{Type: EventReady})
	}
	if sc := m.ServerContent; sc != nil {
		if sc.Interrupted {
			out = append(out, Event{Type: EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || part.InlineData.Data == "" {
					continue
				}
				if !strings.HasPrefix(part.InlineData.MIMEType, "audio/") && part.InlineData.MIMEType != "" {
					continue
				}
				out = append(out, Event{Type: EventAudio, AudioBase64: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
			}
		}
		if sc.TurnComplete {
			out = append(out, Event{Type: EventTurnComplete})
		}
	}
	if m.ToolCall != nil && len(m.ToolCall.FunctionCalls) > 0 {
		out = append(out, Event{Type: EventToolCall, Calls: m.ToolCall.FunctionCalls})
	}
	return out
}
