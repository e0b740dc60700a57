package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/session"
)

// Relay runs one client connection. It must return once ctx is cancelled
// or inbound is closed, and must not close outbound.
type Relay interface {
	RunConnection(ctx context.Context, sessionID string, inbound <-chan protocol.Message, outbound chan<- protocol.Message) error
}

// configuredRelay is implemented by relays that can report missing upstream
// credentials.
type configuredRelay interface {
	Configured() bool
}

type Server struct {
	cfg            config.Config
	sessions       *session.Manager
	relay          Relay
	metrics        *observability.Metrics
	metricsHandler http.Handler
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

func New(cfg config.Config, sessions *session.Manager, relay Relay, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WSPingInterval <= 0 {
		cfg.WSPingInterval = 20 * time.Second
	}
	if cfg.WSWriteTimeout <= 0 {
		cfg.WSWriteTimeout = 10 * time.Second
	}
	if cfg.WSReadLimitBytes <= 0 {
		cfg.WSReadLimitBytes = 2 << 20
	}
	return &Server{
		cfg:            cfg,
		sessions:       sessions,
		relay:          relay,
		metrics:        metrics,
		metricsHandler: observability.MetricsHandler(),
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only drive the microphone stream from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// SetMetricsHandler replaces the /metrics handler, e.g. with one bound to a
// private registry.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metricsHandler = h
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metricsHandler.ServeHTTP(w, r)
	})

	r.Get("/live", s.handleLiveWS)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.relay == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "relay not configured")
		return
	}
	if cr, ok := s.relay.(configuredRelay); ok && !cr.Configured() {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "upstream voice provider not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"voice_provider":     s.cfg.VoiceProvider,
		"active_sessions":    s.sessions.ActiveCount(),
		"input_sample_rate":  s.cfg.InputSampleRate,
		"output_sample_rate": s.cfg.OutputSampleRate,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.sessions.Summary())
}

func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.sessions.Create(r.RemoteAddr, cancel)
	log := s.logger.With("session_id", sess.ID, "remote_addr", r.RemoteAddr)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	log.Info("client connected")

	// One slot in front of the upstream; frames arriving while it is full
	// are dropped rather than queued.
	inbound := make(chan protocol.Message, 1)
	outbound := make(chan protocol.Message, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer close(outbound)
		if err := s.relay.RunConnection(ctx, sess.ID, inbound, outbound); err != nil {
			log.Warn("relay ended with error", "error", err)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, outbound, cancel)
	}()

	conn.SetReadLimit(int64(s.cfg.WSReadLimitBytes))
	readWindow := 3 * s.cfg.WSPingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		if msgType != websocket.TextMessage {
			s.metrics.ProtocolErrors.WithLabelValues("binary_frame").Inc()
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.ProtocolErrors.WithLabelValues(protocolErrorReason(err)).Inc()
			log.Debug("ignored malformed client message", "error", err)
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(parsed.MessageType())).Inc()
		if ctx.Err() != nil {
			break
		}
		select {
		case inbound <- parsed:
		default:
			s.metrics.DroppedFrames.WithLabelValues("backpressure").Inc()
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	if _, err := s.sessions.Close(sess.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
		log.Warn("close session record", "error", err)
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	log.Info("client disconnected")
}

// writeLoop is the only writer on conn. It drains outbound until the relay
// closes it, then closes the socket so the read loop ends as well.
func (s *Server) writeLoop(conn *websocket.Conn, outbound <-chan protocol.Message, cancel context.CancelFunc) {
	ping := time.NewTicker(s.cfg.WSPingInterval)
	defer ping.Stop()
	broken := false

	for {
		select {
		case msg, ok := <-outbound:
			if !ok {
				if !broken {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(time.Second))
				}
				_ = conn.Close()
				return
			}
			if broken {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.WSWriteErrors.WithLabelValues("write_json").Inc()
				broken = true
				cancel()
			}
		case <-ping.C:
			if broken {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WSWriteTimeout)); err != nil {
				s.metrics.WSWriteErrors.WithLabelValues("ping").Inc()
				broken = true
				cancel()
			}
		}
	}
}

func protocolErrorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, protocol.ErrInvalidMessage):
		return "invalid_message"
	default:
		return "decode"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
