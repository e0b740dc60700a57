package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

var (
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrDeviceBusy        = errors.New("audio input device busy")
)

// Frame is one capture interval of mono PCM16 audio.
type Frame struct {
	PCM        []byte
	CapturedAt time.Time
}

// Source is an exclusively owned audio input device.
type Source interface {
	// Start acquires the device and begins capture. The returned channel
	// is closed when capture stops.
	Start(ctx context.Context) (<-chan Frame, error)
	// Stop releases the device. Safe to call multiple times.
	Stop() error
}

// ticker drives frame production for the synthetic and file sources.
type ticker struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func (t *ticker) start(ctx context.Context, interval time.Duration, next func() ([]byte, bool)) (<-chan Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil, ErrDeviceBusy
	}
	t.running = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	frames := make(chan Frame, 1)
	go func(stop, done chan struct{}) {
		defer close(done)
		defer close(frames)
		tk := time.NewTicker(interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case now := <-tk.C:
				pcm, ok := next()
				if !ok {
					return
				}
				select {
				case frames <- Frame{PCM: pcm, CapturedAt: now}:
				default:
					// overrun: consumer is behind, drop this frame
				}
			}
		}
	}(t.stop, t.done)
	return frames, nil
}

func (t *ticker) halt() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	stop, done := t.stop, t.done
	t.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// ToneSource synthesizes a sine tone (or silence when frequency is 0).
type ToneSource struct {
	sampleRate int
	interval   time.Duration
	frequency  float64
	amplitude  float64

	t     ticker
	phase float64
}

func NewToneSource(sampleRate int, interval time.Duration, frequency float64) *ToneSource {
	if sampleRate <= 0 {
		sampleRate = InputSampleRate
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ToneSource{
		sampleRate: sampleRate,
		interval:   interval,
		frequency:  frequency,
		amplitude:  0.3,
	}
}

func (s *ToneSource) Start(ctx context.Context) (<-chan Frame, error) {
	return s.t.start(ctx, s.interval, s.nextFrame)
}

func (s *ToneSource) Stop() error { return s.t.halt() }

func (s *ToneSource) nextFrame() ([]byte, bool) {
	n := FrameBytes(s.sampleRate, s.interval) / BytesPerSample
	samples := make([]float32, n)
	if s.frequency > 0 {
		for i := range samples {
			samples[i] = float32(s.amplitude * math.Sin(2*math.Pi*s.frequency*s.phase/float64(s.sampleRate)))
			s.phase++
			if s.phase >= float64(s.sampleRate) {
				s.phase = 0
			}
		}
	}
	return Float32ToPCM16(samples), true
}

// WAVFileSource replays a WAV file in real time as if it were a microphone.
type WAVFileSource struct {
	path       string
	sampleRate int
	interval   time.Duration
	loop       bool

	t ticker
}

func NewWAVFileSource(path string, sampleRate int, interval time.Duration, loop bool) *WAVFileSource {
	if sampleRate <= 0 {
		sampleRate = InputSampleRate
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &WAVFileSource{path: path, sampleRate: sampleRate, interval: interval, loop: loop}
}

func (s *WAVFileSource) Start(ctx context.Context) (<-chan Frame, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	pcm, rate, err := DecodeWAVPCM16(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	pcm = SamplesToBytes(Resample(BytesToSamples(pcm), rate, s.sampleRate))
	return s.t.start(ctx, s.interval, s.reader(pcm))
}

func (s *WAVFileSource) Stop() error { return s.t.halt() }

func (s *WAVFileSource) reader(pcm []byte) func() ([]byte, bool) {
	size := FrameBytes(s.sampleRate, s.interval)
	offset := 0
	return func() ([]byte, bool) {
		if offset >= len(pcm) {
			if !s.loop || len(pcm) == 0 {
				return nil, false
			}
			offset = 0
		}
		end := offset + size
		if end > len(pcm) {
			end = len(pcm)
		}
		frame := make([]byte, size)
		copy(frame, pcm[offset:end])
		offset = end
		return frame, true
	}
}
