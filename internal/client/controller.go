package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

// User-facing error messages.
const (
	MsgMicrophoneFailed  = "خطا در دسترسی به میکروفون"
	MsgConnectionFailed  = "خطا در اتصال به سرور"
	MsgConnectionTimeout = "مهلت اتصال به سرور به پایان رسید"
	MsgOutputFailed      = "خطا در پخش صدا"
	MsgServerError       = "خطا در ارتباط"
)

var ErrDisconnected = errors.New("client: disconnected during connect")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateSpeaking     State = "speaking"
	StateListening    State = "listening"
	StateError        State = "error"
)

// Snapshot is the observable controller state.
type Snapshot struct {
	State     State
	Connected bool
	Speaking  bool
	Err       string
}

type Options struct {
	URL              string
	ReadyTimeout     time.Duration
	OutputSampleRate int
	// NewSource acquires a fresh input device for each connection.
	NewSource func() audio.Source
	// NewOutput opens the output device for each connection.
	NewOutput func() (audio.Output, error)
	Logger    *slog.Logger
}

// Controller drives one live voice session at a time.
type Controller struct {
	opts Options

	mu      sync.Mutex
	snap    Snapshot
	cur     *connection
	subs    map[int]chan Snapshot
	nextSub int
}

// connection owns the resources of one Connect call. Resources are
// attached as they are acquired; teardown releases whatever is attached.
type connection struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	torn      bool
	transport *Transport
	capture   *Capture
	playback  *Playback
	ready     *time.Timer
}

// attach records a resource unless the connection was already torn down.
func (conn *connection) attach(fn func()) bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.torn {
		return false
	}
	fn()
	return true
}

func NewController(opts Options) *Controller {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 15 * time.Second
	}
	if opts.OutputSampleRate <= 0 {
		opts.OutputSampleRate = audio.OutputSampleRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		opts: opts,
		snap: Snapshot{State: StateDisconnected},
		subs: make(map[int]chan Snapshot),
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Subscribe returns a channel carrying the latest snapshot after every
// change. Slow readers only ever see the newest value.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snap
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// setLocked publishes a new snapshot. c.mu must be held.
func (c *Controller) setLocked(s Snapshot) {
	if s == c.snap {
		return
	}
	c.snap = s
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Connect opens the output, the relay connection and the microphone, in
// that order. It is a no-op while a connection is being set up or is live.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cur != nil {
		c.mu.Unlock()
		return nil
	}
	conn := &connection{}
	conn.ctx, conn.cancel = context.WithCancel(context.Background())
	c.cur = conn
	c.setLocked(Snapshot{State: StateConnecting})
	c.mu.Unlock()

	log := c.opts.Logger

	out, err := c.opts.NewOutput()
	if err != nil {
		log.Error("open audio output", "error", err)
		c.fail(conn, MsgOutputFailed)
		return err
	}
	pb := NewPlayback(out, c.opts.OutputSampleRate, func(on bool) { c.speaking(conn, on) })
	if !conn.attach(func() { conn.playback = pb }) {
		_ = pb.Close()
		return ErrDisconnected
	}

	tr := NewTransport(c.opts.URL, log)
	if !conn.attach(func() { conn.transport = tr }) {
		return ErrDisconnected
	}
	dialCtx, cancelDial := context.WithCancel(ctx)
	stop := context.AfterFunc(conn.ctx, cancelDial)
	err = tr.Open(dialCtx)
	stop()
	cancelDial()
	if conn.ctx.Err() != nil {
		_ = tr.Close()
		return ErrDisconnected
	}
	if err != nil {
		log.Error("connect relay", "url", c.opts.URL, "error", err)
		c.fail(conn, MsgConnectionFailed)
		return err
	}

	capture := NewCapture(c.opts.NewSource())
	if !conn.attach(func() { conn.capture = capture }) {
		return ErrDisconnected
	}
	err = capture.Activate(conn.ctx, func(pcm []byte) bool {
		return tr.TrySend(protocol.NewAudio(pcm))
	})
	if err != nil {
		log.Error("microphone unavailable", "error", err)
		c.fail(conn, MsgMicrophoneFailed)
		return err
	}
	if conn.ctx.Err() != nil {
		// Torn down while the device was being acquired.
		capture.Deactivate()
		return ErrDisconnected
	}

	timer := time.AfterFunc(c.opts.ReadyTimeout, func() { c.readyExpired(conn) })
	if !conn.attach(func() { conn.ready = timer }) {
		timer.Stop()
		return ErrDisconnected
	}
	go c.run(conn)
	return nil
}

// Disconnect tears the current connection down. Safe from any state and
// any number of times.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	conn := c.cur
	c.mu.Unlock()
	if conn != nil {
		c.teardown(conn)
	}
	c.mu.Lock()
	if c.cur == conn {
		c.cur = nil
	}
	if c.snap.State != StateDisconnected {
		c.setLocked(Snapshot{State: StateDisconnected, Err: c.snap.Err})
	}
	c.mu.Unlock()
}

func (c *Controller) run(conn *connection) {
	tr := conn.transport
	for msg := range tr.Messages() {
		c.handle(conn, msg)
	}
	<-tr.Done()
	err := tr.Err()
	c.teardown(conn)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != conn {
		return
	}
	c.cur = nil
	if c.snap.State == StateError {
		return
	}
	if err != nil {
		c.setLocked(Snapshot{State: StateError, Err: MsgConnectionFailed})
		return
	}
	c.setLocked(Snapshot{State: StateDisconnected, Err: c.snap.Err})
}

func (c *Controller) handle(conn *connection, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Connected:
		conn.mu.Lock()
		if conn.ready != nil {
			conn.ready.Stop()
		}
		conn.mu.Unlock()
		c.update(conn, func(s *Snapshot) {
			s.State = StateConnected
			s.Connected = true
		})
	case protocol.Audio:
		pcm, err := m.PCM()
		if err != nil {
			c.opts.Logger.Debug("skip undecodable audio", "error", err)
			return
		}
		if err := conn.playback.Enqueue(pcm); err != nil && !errors.Is(err, ErrPlaybackClosed) {
			c.opts.Logger.Warn("schedule playback", "error", err)
		}
	case protocol.Interrupted:
		conn.playback.Interrupt()
	case protocol.Error:
		text := m.Message
		if text == "" {
			text = MsgServerError
		}
		c.opts.Logger.Warn("relay reported error", "message", m.Message)
		c.update(conn, func(s *Snapshot) { s.Err = text })
	}
}

func (c *Controller) speaking(conn *connection, on bool) {
	c.update(conn, func(s *Snapshot) {
		s.Speaking = on
		if !s.Connected {
			return
		}
		if on {
			s.State = StateSpeaking
		} else {
			s.State = StateListening
		}
	})
}

// update mutates the snapshot only while conn is the live connection.
func (c *Controller) update(conn *connection, fn func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != conn || c.snap.State == StateError {
		return
	}
	s := c.snap
	fn(&s)
	c.setLocked(s)
}

func (c *Controller) readyExpired(conn *connection) {
	c.mu.Lock()
	expired := c.cur == conn && !c.snap.Connected && c.snap.State == StateConnecting
	c.mu.Unlock()
	if expired {
		c.opts.Logger.Warn("relay did not confirm the session in time")
		c.fail(conn, MsgConnectionTimeout)
	}
}

// fail moves to the terminal error state and releases everything.
func (c *Controller) fail(conn *connection, message string) {
	c.mu.Lock()
	if c.cur != conn {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.setLocked(Snapshot{State: StateError, Err: message})
	c.mu.Unlock()
	c.teardown(conn)
}

// teardown releases the connection's resources exactly once. It must not
// be called with c.mu held: stopping playback reports back through speaking.
func (c *Controller) teardown(conn *connection) {
	conn.mu.Lock()
	if conn.torn {
		conn.mu.Unlock()
		return
	}
	conn.torn = true
	ready, capture, transport, playback := conn.ready, conn.capture, conn.transport, conn.playback
	conn.mu.Unlock()

	conn.cancel()
	if ready != nil {
		ready.Stop()
	}
	if capture != nil {
		capture.Deactivate()
	}
	if transport != nil {
		_ = transport.Close()
	}
	if playback != nil {
		_ = playback.Close()
	}
}
