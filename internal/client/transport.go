// Package client implements the terminal side of a live voice session:
// the relay transport, microphone capture, gapless playback and the
// session controller that ties them together.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/reliability"
)

var (
	ErrConnectFailed  = errors.New("client: relay connection failed")
	ErrConnectionLost = errors.New("client: relay connection lost")
	ErrTransportState = errors.New("client: transport already used")
)

type TransportState string

const (
	TransportIdle       TransportState = "idle"
	TransportConnecting TransportState = "connecting"
	TransportOpen       TransportState = "open"
	TransportClosed     TransportState = "closed"
)

// Transport is a single websocket connection to the relay. It is not
// reusable: once closed, a new Transport is needed.
type Transport struct {
	url          string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	state   TransportState
	conn    *websocket.Conn
	err     error
	closing atomic.Bool
	// stopDial aborts a handshake in progress.
	stopDial context.CancelFunc

	send     chan protocol.Message
	messages chan protocol.Message
	done     chan struct{}
	once     sync.Once
	dropped  atomic.Int64
}

func NewTransport(url string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		url:          url,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		writeTimeout: 5 * time.Second,
		logger:       logger,
		state:        TransportIdle,
		send:         make(chan protocol.Message, 1),
		messages:     make(chan protocol.Message, 64),
		done:         make(chan struct{}),
	}
}

// Open dials the relay and starts the reader and writer.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TransportIdle {
		t.mu.Unlock()
		return ErrTransportState
	}
	dialCtx, stopDial := context.WithCancel(ctx)
	defer stopDial()
	t.state = TransportConnecting
	t.stopDial = stopDial
	t.mu.Unlock()

	conn, _, err := t.dialer.DialContext(dialCtx, t.url, nil)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrConnectFailed, err)
		if t.closing.Load() {
			t.finish(nil)
		} else {
			t.finish(err)
		}
		close(t.messages)
		return err
	}

	t.mu.Lock()
	t.stopDial = nil
	if t.state != TransportConnecting {
		// Closed while the handshake was in flight.
		t.mu.Unlock()
		_ = conn.Close()
		close(t.messages)
		return ErrTransportState
	}
	t.conn = conn
	t.state = TransportOpen
	t.mu.Unlock()

	go t.readLoop(conn)
	go t.writeLoop(conn)
	return nil
}

func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// TrySend queues msg without blocking. At most one message is in flight;
// when the slot is taken or the transport is not open, msg is dropped.
func (t *Transport) TrySend(msg protocol.Message) bool {
	if t.State() != TransportOpen {
		return false
	}
	select {
	case t.send <- msg:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

// Dropped counts messages rejected because the send slot was full.
func (t *Transport) Dropped() int64 { return t.dropped.Load() }

// Messages yields parsed relay messages. It is closed when the transport ends.
func (t *Transport) Messages() <-chan protocol.Message { return t.messages }

// Done is closed when the transport reaches the closed state.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err reports why the transport closed: nil for a local or clean remote
// close, ErrConnectFailed or ErrConnectionLost otherwise.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close shuts the connection down. Safe to call repeatedly.
func (t *Transport) Close() error {
	t.closing.Store(true)
	t.mu.Lock()
	conn := t.conn
	prev := t.state
	stopDial := t.stopDial
	if conn == nil && prev != TransportClosed {
		// Mark closed under the lock so a dial finishing now sees it and
		// discards its connection.
		t.state = TransportClosed
		if prev == TransportIdle {
			close(t.messages)
		}
	}
	t.mu.Unlock()
	if stopDial != nil {
		stopDial()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	t.finish(nil)
	return nil
}

func (t *Transport) finish(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.state = TransportClosed
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	defer close(t.messages)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var cause error
			if reliability.ClassifyClose(err, t.closing.Load()) == reliability.CloseAbnormal {
				cause = fmt.Errorf("%w: %v", ErrConnectionLost, err)
				t.logger.Warn("relay connection lost", "error", err)
			}
			_ = conn.Close()
			t.finish(cause)
			return
		}
		msg, err := protocol.ParseServerMessage(raw)
		if err != nil {
			t.logger.Debug("skip malformed relay message", "error", err)
			continue
		}
		select {
		case t.messages <- msg:
		case <-t.done:
			return
		}
	}
}

func (t *Transport) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.send:
			_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				if !t.closing.Load() {
					t.logger.Warn("relay write failed", "error", err)
				}
				_ = conn.Close()
				return
			}
		}
	}
}
