package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/audio"
)

// fakeOutput is an Output with a manually driven clock.
type fakeOutput struct {
	mu     sync.Mutex
	now    time.Duration
	plays  []*fakeVoice
	closed int
}

type fakeVoice struct {
	out     *fakeOutput
	pcm     []byte
	at      time.Duration
	ended   func()
	stopped bool
	done    bool
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	o.mu.Unlock()
}

func (o *fakeOutput) Play(pcm []byte, at time.Duration, ended func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed > 0 {
		return nil, audio.ErrOutputClosed
	}
	v := &fakeVoice{out: o, pcm: pcm, at: at, ended: ended}
	o.plays = append(o.plays, v)
	return v, nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	return nil
}

func (o *fakeOutput) voices() []*fakeVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeVoice(nil), o.plays...)
}

// finish ends voice i naturally.
func (o *fakeOutput) finish(i int) {
	o.mu.Lock()
	v := o.plays[i]
	fire := !v.stopped && !v.done
	v.done = true
	o.mu.Unlock()
	if fire && v.ended != nil {
		v.ended()
	}
}

func (v *fakeVoice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	v.stopped = true
}

func (v *fakeVoice) isStopped() bool {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	return v.stopped
}

// fakeSource is an input device fed by the test.
type fakeSource struct {
	mu        sync.Mutex
	startErr  error
	starts    int
	stopCalls int
	frames    chan audio.Frame
}

func (s *fakeSource) Start(_ context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	if s.frames != nil {
		return nil, audio.ErrDeviceBusy
	}
	s.starts++
	s.frames = make(chan audio.Frame, 8)
	return s.frames, nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	if s.frames != nil {
		close(s.frames)
		s.frames = nil
	}
	return nil
}

func (s *fakeSource) push(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		return false
	}
	s.frames <- audio.Frame{PCM: pcm, CapturedAt: time.Now()}
	return true
}

func (s *fakeSource) counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stopCalls
}

// fakeRelay accepts websocket clients and hands the server side to the test.
type fakeRelay struct {
	url      string
	conns    chan *websocket.Conn
	accepted atomic.Int32
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{conns: make(chan *websocket.Conn, 8)}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.accepted.Add(1)
		r.conns <- conn
	}))
	t.Cleanup(srv.Close)
	r.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/live"
	return r
}

func (r *fakeRelay) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-r.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("no client connected to relay")
	}
	return nil
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("relay write: %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
