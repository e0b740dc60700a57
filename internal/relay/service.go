// Package relay runs one client connection against one upstream live session.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/policy"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/session"
	"github.com/ent0n29/voicerelay/internal/tools"
	"github.com/ent0n29/voicerelay/internal/voice"
)

// Client-facing error messages.
const (
	MsgNotConfigured    = "AI not configured on server"
	MsgConnectionFailed = "Server Connection Failed"
	MsgUpstreamError    = "Gemini Error"
)

var (
	ErrNotConfigured = errors.New("relay: upstream provider not configured")
	ErrSetupFailed   = errors.New("relay: upstream setup failed")
	ErrUpstreamLost  = errors.New("relay: upstream ended abnormally")

	errClientGone = errors.New("relay: client went away")
)

type Config struct {
	Session      voice.SessionConfig
	SetupTimeout time.Duration
	// ToolTimeout bounds one batch of local tool lookups. Upstream audio
	// is not forwarded while tools resolve.
	ToolTimeout time.Duration
}

type Service struct {
	cfg      Config
	provider voice.LiveProvider
	resolver *tools.Resolver
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New builds a relay service. provider may be nil when no upstream
// credentials exist; every connection is then refused with an error event.
func New(cfg Config, provider voice.LiveProvider, resolver *tools.Resolver, sessions *session.Manager, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 15 * time.Second
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		provider: provider,
		resolver: resolver,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}
}

// Configured reports whether an upstream provider is available.
func (s *Service) Configured() bool { return s.provider != nil }

func (s *Service) providerName() string {
	if s.provider == nil {
		return "none"
	}
	return s.provider.Name()
}

// RunConnection relays until the client goes away (ctx cancelled or inbound
// closed) or upstream ends. It never closes outbound; the caller does that
// after RunConnection returns and then closes the client socket.
func (s *Service) RunConnection(ctx context.Context, sessionID string, inbound <-chan protocol.Message, outbound chan<- protocol.Message) error {
	log := s.logger.With("session_id", sessionID)

	if err := s.sessions.BeginOpen(sessionID); err != nil {
		return fmt.Errorf("relay: open session %s: %w", sessionID, err)
	}
	if s.provider == nil {
		s.send(ctx, outbound, protocol.Error{Message: MsgNotConfigured})
		return ErrNotConfigured
	}

	setupStarted := time.Now()
	setupCtx, cancelSetup := context.WithTimeout(ctx, s.cfg.SetupTimeout)
	upstream, err := s.provider.Connect(setupCtx, s.cfg.Session)
	if err != nil {
		cancelSetup()
		if errors.Is(err, voice.ErrMissingAPIKey) {
			s.send(ctx, outbound, protocol.Error{Message: MsgNotConfigured})
			return ErrNotConfigured
		}
		s.metrics.UpstreamErrors.WithLabelValues(s.providerName(), "connect").Inc()
		log.Error("upstream connect failed", "error", policy.RedactSecrets(err.Error()))
		s.send(ctx, outbound, protocol.Error{Message: MsgConnectionFailed})
		return fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	defer upstream.Close()

	err = s.awaitReady(setupCtx, upstream, inbound)
	cancelSetup()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, errClientGone) {
			return nil
		}
		s.metrics.UpstreamErrors.WithLabelValues(s.providerName(), "setup").Inc()
		log.Error("upstream setup failed", "error", policy.RedactSecrets(err.Error()))
		s.send(ctx, outbound, protocol.Error{Message: MsgConnectionFailed})
		return fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}

	if err := s.sessions.MarkOpen(sessionID); err != nil {
		return fmt.Errorf("relay: mark session %s open: %w", sessionID, err)
	}
	s.metrics.ObserveStage(observability.StageUpstreamSetup, time.Since(setupStarted))
	s.metrics.SessionEvents.WithLabelValues("upstream_open").Inc()
	log.Info("upstream session open", "provider", s.providerName())
	if !s.send(ctx, outbound, protocol.Connected{}) {
		return nil
	}

	return s.pump(ctx, log, sessionID, upstream, inbound, outbound)
}

// awaitReady waits for upstream setup confirmation. Client audio arriving
// before that has nowhere to go and is dropped.
func (s *Service) awaitReady(ctx context.Context, upstream voice.LiveSession, inbound <-chan protocol.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return errClientGone
			}
			if msg.MessageType() == protocol.TypeAudio {
				s.metrics.DroppedFrames.WithLabelValues("before_open").Inc()
			}
		case ev, ok := <-upstream.Events():
			if !ok {
				return voice.ErrSessionClosed
			}
			switch ev.Type {
			case voice.EventReady:
				return nil
			case voice.EventError:
				return fmt.Errorf("upstream error %s: %s", ev.Code, ev.Detail)
			}
		}
	}
}

// pump is the steady-state loop. Upstream events are consumed from a single
// ordered channel, so an interruption always reaches the client before any
// audio that upstream produced after it.
func (s *Service) pump(ctx context.Context, log *slog.Logger, sessionID string, upstream voice.LiveSession, inbound <-chan protocol.Message, outbound chan<- protocol.Message) error {
	var (
		inputAt      time.Time
		awaitingTurn bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			audio, isAudio := msg.(protocol.Audio)
			if !isAudio {
				s.metrics.ProtocolErrors.WithLabelValues("unexpected_type").Inc()
				continue
			}
			s.sessions.RecordFrameIn(sessionID)
			if err := upstream.SendAudio(ctx, audio.Data); err != nil {
				if errors.Is(err, voice.ErrSessionClosed) {
					continue
				}
				s.metrics.UpstreamErrors.WithLabelValues(s.providerName(), "send_audio").Inc()
				log.Warn("forward audio failed", "error", err)
				continue
			}
			if !awaitingTurn {
				inputAt = time.Now()
				awaitingTurn = true
			}

		case ev, ok := <-upstream.Events():
			if !ok {
				log.Info("upstream session closed")
				return nil
			}
			switch ev.Type {
			case voice.EventAudio:
				if awaitingTurn {
					s.metrics.ObserveFirstAudioLatency(time.Since(inputAt))
					awaitingTurn = false
				}
				s.sessions.RecordFrameOut(sessionID)
				if !s.send(ctx, outbound, protocol.Audio{Data: ev.AudioBase64}) {
					return nil
				}
			case voice.EventInterrupted:
				s.sessions.RecordInterruption(sessionID)
				s.metrics.ObserveIndicator("interrupted")
				if !s.send(ctx, outbound, protocol.Interrupted{}) {
					return nil
				}
			case voice.EventToolCall:
				s.resolveTools(ctx, log, sessionID, upstream, ev.Calls)
			case voice.EventTurnComplete:
				awaitingTurn = false
			case voice.EventError:
				s.metrics.UpstreamErrors.WithLabelValues(s.providerName(), ev.Code).Inc()
				log.Error("upstream error", "code", ev.Code, "detail", policy.RedactSecrets(ev.Detail), "retryable", ev.Retryable)
				s.send(ctx, outbound, protocol.Error{Message: MsgUpstreamError})
				return ErrUpstreamLost
			}
		}
	}
}

// resolveTools answers function calls upstream only; the client never sees them.
func (s *Service) resolveTools(ctx context.Context, log *slog.Logger, sessionID string, upstream voice.LiveSession, calls []voice.FunctionCall) {
	if len(calls) == 0 {
		return
	}
	started := time.Now()
	toolCtx, cancel := context.WithTimeout(ctx, s.cfg.ToolTimeout)
	responses := s.resolver.Resolve(toolCtx, calls)
	timedOut := errors.Is(toolCtx.Err(), context.DeadlineExceeded)
	cancel()
	if timedOut {
		s.metrics.ObserveIndicator("tool_timeout")
		log.Warn("tool lookup timed out", "timeout", s.cfg.ToolTimeout)
	}
	s.metrics.ObserveStage(observability.StageToolResolve, time.Since(started))
	s.sessions.RecordToolCalls(sessionID, len(calls))
	for i, r := range responses {
		query, _ := calls[i].Args["query"].(string)
		query, _ = policy.RedactPII(query)
		outcome := "ok"
		if _, failed := r.Response["error"]; failed {
			outcome = "error"
		}
		s.metrics.ToolCalls.WithLabelValues(r.Name, outcome).Inc()
		log.Info("tool call resolved", "tool", r.Name, "call_id", r.ID, "query", query, "outcome", outcome)
	}
	if err := upstream.SendToolResponse(ctx, responses); err != nil && !errors.Is(err, voice.ErrSessionClosed) {
		s.metrics.UpstreamErrors.WithLabelValues(s.providerName(), "tool_response").Inc()
		log.Warn("send tool response failed", "error", err)
	}
}

func (s *Service) send(ctx context.Context, outbound chan<- protocol.Message, msg protocol.Message) bool {
	select {
	case <-ctx.Done():
		return false
	case outbound <- msg:
		s.metrics.WSMessages.WithLabelValues("outbound", string(msg.MessageType())).Inc()
		return true
	}
}
