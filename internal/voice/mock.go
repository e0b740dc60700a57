package voice

import (
	"context"
	"sync"
)

// MockProvider is a local provider used when Gemini is not configured and
// in tests. In echo mode every audio frame comes straight back as output.
type MockProvider struct {
	mu         sync.Mutex
	echo       bool
	noReady    bool
	connectErr error
	sessions   []*MockSession
	configs    []SessionConfig
	onConnect  func(*MockSession)
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

// NewEchoProvider returns a mock that replays received audio.
func NewEchoProvider() *MockProvider { return &MockProvider{echo: true} }

func (p *MockProvider) Name() string { return "mock" }

// FailConnect makes subsequent Connect calls return err.
func (p *MockProvider) FailConnect(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectErr = err
}

// WithholdReady stops new sessions from confirming setup.
func (p *MockProvider) WithholdReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noReady = true
}

// OnConnect registers a hook run for every new session before it is returned.
func (p *MockProvider) OnConnect(fn func(*MockSession)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = fn
}

func (p *MockProvider) Connect(ctx context.Context, cfg SessionConfig) (LiveSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.connectErr != nil {
		err := p.connectErr
		p.mu.Unlock()
		return nil, err
	}
	s := &MockSession{
		echo:   p.echo,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	p.sessions = append(p.sessions, s)
	p.configs = append(p.configs, cfg)
	hook := p.onConnect
	ready := !p.noReady
	p.mu.Unlock()

	if ready {
		s.Emit(Event{Type: EventReady})
	}
	if hook != nil {
		hook(s)
	}
	return s, nil
}

// Sessions returns every session opened so far.
func (p *MockProvider) Sessions() []*MockSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*MockSession(nil), p.sessions...)
}

// Configs returns the session configurations in connect order.
func (p *MockProvider) Configs() []SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SessionConfig(nil), p.configs...)
}

// MockSession is a scriptable LiveSession.
type MockSession struct {
	mu        sync.Mutex
	echo      bool
	events    chan Event
	done      chan struct{}
	closed    bool
	audio     []string
	responses []FunctionResponse
	gate      chan struct{}
}

func (s *MockSession) Events() <-chan Event { return s.events }

func (s *MockSession) SendAudio(ctx context.Context, audioBase64 string) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.audio = append(s.audio, audioBase64)
	echo := s.echo
	s.mu.Unlock()
	if echo {
		s.Emit(Event{Type: EventAudio, AudioBase64: audioBase64, MIMEType: "audio/pcm;rate=24000"})
	}
	return nil
}

func (s *MockSession) SendToolResponse(_ context.Context, responses []FunctionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.responses = append(s.responses, responses...)
	return nil
}

// Stall blocks SendAudio until the returned release func is called, as a
// slow upstream link would.
func (s *MockSession) Stall() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Emit queues an upstream event. It is a no-op once the session ended.
func (s *MockSession) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Fail emits an error event and ends the stream, as an abnormal upstream close.
func (s *MockSession) Fail(code, detail string) {
	s.Emit(Event{Type: EventError, Code: code, Detail: detail})
	s.finish()
}

// End closes the stream without an error, as a normal upstream close.
func (s *MockSession) End() { s.finish() }

func (s *MockSession) Close() error {
	s.finish()
	return nil
}

func (s *MockSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.events)
}

// Closed reports whether the session has ended.
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the session ends.
func (s *MockSession) Done() <-chan struct{} { return s.done }

// Audio returns the base64 frames received so far.
func (s *MockSession) Audio() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.audio...)
}

// ToolResponses returns the tool responses received so far.
func (s *MockSession) ToolResponses() []FunctionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FunctionResponse(nil), s.responses...)
}
