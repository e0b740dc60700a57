package audio

import (
	"testing"
	"time"
)

func TestTimelineRecorderEndedFires(t *testing.T) {
	rec := NewTimelineRecorder(OutputSampleRate)
	defer rec.Close()

	ended := make(chan struct{})
	pcm := SamplesToBytes([]int16{1, 2, 3, 4})
	if _, err := rec.Play(pcm, rec.Now(), func() { close(ended) }); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatalf("ended callback never fired")
	}
}

func TestTimelineRecorderStopSuppressesEnded(t *testing.T) {
	rec := NewTimelineRecorder(OutputSampleRate)
	defer rec.Close()

	ended := make(chan struct{}, 1)
	pcm := make([]byte, FrameBytes(OutputSampleRate, 500*time.Millisecond))
	v, err := rec.Play(pcm, rec.Now()+time.Second, func() { ended <- struct{}{} })
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	v.Stop()
	v.Stop()

	select {
	case <-ended:
		t.Fatalf("ended fired for stopped voice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimelineRecorderRejectsAfterClose(t *testing.T) {
	rec := NewTimelineRecorder(OutputSampleRate)
	_ = rec.Close()
	if _, err := rec.Play([]byte{0, 0}, 0, nil); err != ErrOutputClosed {
		t.Fatalf("Play() after Close error = %v, want ErrOutputClosed", err)
	}
}
