package client

import (
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
)

// frame returns PCM16 of the given length at 24 kHz.
func frame(d time.Duration) []byte {
	return make([]byte, audio.FrameBytes(audio.OutputSampleRate, d))
}

type speakingLog struct {
	mu  sync.Mutex
	ons []bool
}

func (l *speakingLog) record(on bool) {
	l.mu.Lock()
	l.ons = append(l.ons, on)
	l.mu.Unlock()
}

func (l *speakingLog) last() (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ons) == 0 {
		return false, 0
	}
	return l.ons[len(l.ons)-1], len(l.ons)
}

func TestPlaybackSchedulesBackToBack(t *testing.T) {
	out := &fakeOutput{}
	var log speakingLog
	p := NewPlayback(out, audio.OutputSampleRate, log.record)
	defer p.Close()

	for i := 0; i < 3; i++ {
		if err := p.Enqueue(frame(100 * time.Millisecond)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	voices := out.voices()
	for i, want := range []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond} {
		if voices[i].at != want {
			t.Fatalf("unit %d starts at %v, want %v", i, voices[i].at, want)
		}
	}
	if on, n := log.last(); !on || n != 1 {
		t.Fatalf("speaking log = %v/%d, want a single true", on, n)
	}

	// After the queue drained and the clock moved on, the next unit starts now.
	for i := range voices {
		out.finish(i)
	}
	if p.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", p.Pending())
	}
	if on, _ := log.last(); on {
		t.Fatalf("speaking still on after every unit ended")
	}
	out.advance(time.Second)
	if err := p.Enqueue(frame(50 * time.Millisecond)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if got := out.voices()[3].at; got != time.Second {
		t.Fatalf("late unit starts at %v, want 1s", got)
	}
}

func TestPlaybackInterruptFlushes(t *testing.T) {
	out := &fakeOutput{}
	var log speakingLog
	p := NewPlayback(out, audio.OutputSampleRate, log.record)
	defer p.Close()

	_ = p.Enqueue(frame(200 * time.Millisecond))
	_ = p.Enqueue(frame(200 * time.Millisecond))
	out.advance(50 * time.Millisecond)

	p.Interrupt()
	for i, v := range out.voices() {
		if !v.isStopped() {
			t.Fatalf("unit %d still playing after Interrupt", i)
		}
	}
	if p.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", p.Pending())
	}
	if on, _ := log.last(); on {
		t.Fatalf("speaking still on after Interrupt")
	}

	// A stopped unit never reports completion.
	out.finish(0)
	if on, n := log.last(); on || n != 2 {
		t.Fatalf("speaking log after stale finish = %v/%d", on, n)
	}

	// The next turn starts at the device clock, not after the flushed audio.
	_ = p.Enqueue(frame(100 * time.Millisecond))
	if got := out.voices()[2].at; got != 50*time.Millisecond {
		t.Fatalf("post-interrupt unit starts at %v, want 50ms", got)
	}
}

func TestPlaybackCloseReleasesOutput(t *testing.T) {
	out := &fakeOutput{}
	p := NewPlayback(out, audio.OutputSampleRate, nil)
	_ = p.Enqueue(frame(100 * time.Millisecond))

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_ = p.Close()
	if out.closed != 1 {
		t.Fatalf("output closed %d times, want 1", out.closed)
	}
	if !out.voices()[0].isStopped() {
		t.Fatalf("scheduled unit not stopped on Close")
	}
	if err := p.Enqueue(frame(10 * time.Millisecond)); err != ErrPlaybackClosed {
		t.Fatalf("Enqueue() after Close = %v, want ErrPlaybackClosed", err)
	}
}

func TestPlaybackWithTimelineRecorder(t *testing.T) {
	rec := audio.NewTimelineRecorder(audio.OutputSampleRate)
	done := make(chan struct{})
	var once sync.Once
	p := NewPlayback(rec, audio.OutputSampleRate, func(on bool) {
		if !on {
			once.Do(func() { close(done) })
		}
	})
	defer p.Close()

	_ = p.Enqueue(frame(20 * time.Millisecond))
	_ = p.Enqueue(frame(20 * time.Millisecond))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("recorder never reported the end of playback")
	}
	if got := audio.Duration(rec.PCM(), audio.OutputSampleRate); got < 40*time.Millisecond {
		t.Fatalf("recorded %v, want at least 40ms", got)
	}
}
