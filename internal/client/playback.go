package client

import (
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
)

var ErrPlaybackClosed = errors.New("client: playback closed")

// Playback schedules decoded frames back to back on an Output. All
// scheduling state is owned by one goroutine; callers talk to it through
// commands.
type Playback struct {
	out        audio.Output
	sampleRate int
	onSpeaking func(bool)

	cmds chan func()
	done chan struct{}
	once sync.Once

	// actor state
	nextStart time.Duration
	scheduled map[uint64]audio.Voice
	seq       uint64
	speaking  bool
	closed    bool
}

// NewPlayback starts the scheduler. onSpeaking runs on the scheduler
// goroutine whenever audible output starts or stops.
func NewPlayback(out audio.Output, sampleRate int, onSpeaking func(bool)) *Playback {
	if sampleRate <= 0 {
		sampleRate = audio.OutputSampleRate
	}
	p := &Playback{
		out:        out,
		sampleRate: sampleRate,
		onSpeaking: onSpeaking,
		cmds:       make(chan func(), 64),
		done:       make(chan struct{}),
		scheduled:  make(map[uint64]audio.Voice),
	}
	go p.loop()
	return p
}

func (p *Playback) loop() {
	for {
		select {
		case <-p.done:
			return
		case cmd := <-p.cmds:
			cmd()
		}
	}
}

// do runs fn on the scheduler and waits for it.
func (p *Playback) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case p.cmds <- func() { fn(); close(ran) }:
	case <-p.done:
		return ErrPlaybackClosed
	}
	select {
	case <-ran:
		return nil
	case <-p.done:
		return ErrPlaybackClosed
	}
}

// post runs fn on the scheduler without waiting.
func (p *Playback) post(fn func()) {
	select {
	case p.cmds <- fn:
	case <-p.done:
	}
}

// Enqueue schedules one PCM16 frame right after everything already queued,
// or immediately when the queue has drained.
func (p *Playback) Enqueue(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	var err error
	if derr := p.do(func() { err = p.schedule(pcm) }); derr != nil {
		return derr
	}
	return err
}

func (p *Playback) schedule(pcm []byte) error {
	if p.closed {
		return ErrPlaybackClosed
	}
	start := p.nextStart
	if now := p.out.Now(); now > start {
		start = now
	}
	p.seq++
	id := p.seq
	v, err := p.out.Play(pcm, start, func() {
		p.post(func() { p.finished(id) })
	})
	if err != nil {
		return err
	}
	p.nextStart = start + audio.Duration(pcm, p.sampleRate)
	p.scheduled[id] = v
	p.setSpeaking(true)
	return nil
}

func (p *Playback) finished(id uint64) {
	if _, ok := p.scheduled[id]; !ok {
		return
	}
	delete(p.scheduled, id)
	if len(p.scheduled) == 0 {
		p.setSpeaking(false)
	}
}

// Interrupt stops every scheduled unit and restarts the timeline at the
// device clock. It returns after all units are stopped.
func (p *Playback) Interrupt() {
	_ = p.do(p.flush)
}

func (p *Playback) flush() {
	for id, v := range p.scheduled {
		v.Stop()
		delete(p.scheduled, id)
	}
	p.nextStart = p.out.Now()
	p.setSpeaking(false)
}

func (p *Playback) setSpeaking(on bool) {
	if p.speaking == on {
		return
	}
	p.speaking = on
	if p.onSpeaking != nil {
		p.onSpeaking(on)
	}
}

// Pending reports how many units are scheduled or playing.
func (p *Playback) Pending() int {
	n := 0
	_ = p.do(func() { n = len(p.scheduled) })
	return n
}

// Close stops playback and releases the output. Safe to call repeatedly.
func (p *Playback) Close() error {
	var err error
	p.once.Do(func() {
		_ = p.do(func() {
			p.flush()
			p.closed = true
		})
		close(p.done)
		err = p.out.Close()
	})
	return err
}
