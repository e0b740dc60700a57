package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ent0n29/voicerelay/internal/audio"
)

var ErrCaptureActive = errors.New("client: capture already active")

// Capture pumps frames from an input device into a sink. The sink reports
// whether it accepted the frame; rejected frames are counted and dropped.
type Capture struct {
	source audio.Source

	mu       sync.Mutex
	active   bool
	release  func()
	dropped  atomic.Int64
	captured atomic.Int64
}

func NewCapture(source audio.Source) *Capture {
	return &Capture{source: source}
}

// Activate acquires the device. A failed acquisition wraps
// audio.ErrDeviceUnavailable and leaves capture inactive.
func (c *Capture) Activate(ctx context.Context, sink func(pcm []byte) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrCaptureActive
	}

	frames, err := c.source.Start(ctx)
	if err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range frames {
			c.captured.Add(1)
			if !sink(f.PCM) {
				c.dropped.Add(1)
			}
		}
	}()

	var once sync.Once
	c.release = func() {
		once.Do(func() {
			_ = c.source.Stop()
			<-done
		})
	}
	c.active = true
	return nil
}

// Deactivate stops capture and releases the device once. Safe to call in
// any state and any number of times.
func (c *Capture) Deactivate() {
	c.mu.Lock()
	release := c.release
	c.release = nil
	c.active = false
	c.mu.Unlock()
	if release != nil {
		release()
	}
}

func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Dropped counts frames the sink refused.
func (c *Capture) Dropped() int64 { return c.dropped.Load() }

// Captured counts frames produced by the device.
func (c *Capture) Captured() int64 { return c.captured.Load() }
