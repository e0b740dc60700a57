package audio

import (
	"errors"
	"sync"
	"time"
)

var ErrOutputClosed = errors.New("audio output closed")

// Voice is one buffer scheduled on an Output.
type Voice interface {
	// Stop halts the buffer immediately. The ended callback is not invoked
	// for a stopped voice.
	Stop()
}

// Output is an audio output device with its own clock.
type Output interface {
	// Now reports the device clock.
	Now() time.Duration
	// Play schedules pcm to start at the given device time. ended runs once
	// when the buffer finishes playing naturally.
	Play(pcm []byte, at time.Duration, ended func()) (Voice, error)
	Close() error
}

// TimelineRecorder is an Output that renders scheduled buffers onto a PCM
// timeline driven by the wall clock. The result can be saved as WAV.
type TimelineRecorder struct {
	sampleRate int
	started    time.Time

	mu       sync.Mutex
	closed   bool
	timeline []int16
	voices   map[*recordedVoice]struct{}
}

type recordedVoice struct {
	rec   *TimelineRecorder
	timer *time.Timer
	start int
	end   int
}

func NewTimelineRecorder(sampleRate int) *TimelineRecorder {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	return &TimelineRecorder{
		sampleRate: sampleRate,
		started:    time.Now(),
		voices:     make(map[*recordedVoice]struct{}),
	}
}

func (r *TimelineRecorder) Now() time.Duration { return time.Since(r.started) }

func (r *TimelineRecorder) Play(pcm []byte, at time.Duration, ended func()) (Voice, error) {
	samples := BytesToSamples(pcm)
	start := int(int64(at) * int64(r.sampleRate) / int64(time.Second))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrOutputClosed
	}
	end := start + len(samples)
	if end > len(r.timeline) {
		r.timeline = append(r.timeline, make([]int16, end-len(r.timeline))...)
	}
	copy(r.timeline[start:end], samples)

	v := &recordedVoice{rec: r, start: start, end: end}
	r.voices[v] = struct{}{}
	wait := at + Duration(pcm, r.sampleRate) - r.Now()
	v.timer = time.AfterFunc(wait, func() {
		r.mu.Lock()
		_, live := r.voices[v]
		delete(r.voices, v)
		r.mu.Unlock()
		if live && ended != nil {
			ended()
		}
	})
	return v, nil
}

func (v *recordedVoice) Stop() {
	r := v.rec
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.voices[v]; !live {
		return
	}
	delete(r.voices, v)
	v.timer.Stop()

	cut := int(int64(r.Now()) * int64(r.sampleRate) / int64(time.Second))
	if cut < v.start {
		cut = v.start
	}
	for i := cut; i < v.end && i < len(r.timeline); i++ {
		r.timeline[i] = 0
	}
}

// PCM returns a copy of the rendered timeline.
func (r *TimelineRecorder) PCM() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SamplesToBytes(r.timeline)
}

// SampleRate reports the timeline rate.
func (r *TimelineRecorder) SampleRate() int { return r.sampleRate }

// Close stops all pending voices. The recorded timeline stays readable.
func (r *TimelineRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for v := range r.voices {
		v.timer.Stop()
		delete(r.voices, v)
	}
	return nil
}
