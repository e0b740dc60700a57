package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	s := m.Create("127.0.0.1:5000", nil)
	if s.ID == "" || s.Status != StatusIdle {
		t.Fatalf("unexpected new session: %+v", s)
	}

	if err := m.BeginOpen(s.ID); err != nil {
		t.Fatalf("BeginOpen() error = %v", err)
	}
	if err := m.MarkOpen(s.ID); err != nil {
		t.Fatalf("MarkOpen() error = %v", err)
	}
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusOpen || got.OpenedAt.IsZero() {
		t.Fatalf("session after open = %+v", got)
	}

	closed, err := m.Close(s.ID)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if closed.Status != StatusClosed {
		t.Fatalf("closed status = %q", closed.Status)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after close error = %v, want ErrNotFound", err)
	}
}

func TestManagerRejectsSecondOpen(t *testing.T) {
	m := NewManager()
	s := m.Create("", nil)
	if err := m.BeginOpen(s.ID); err != nil {
		t.Fatalf("BeginOpen() error = %v", err)
	}
	if err := m.BeginOpen(s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second BeginOpen() error = %v, want ErrInvalidTransition", err)
	}
	if err := m.MarkOpen(s.ID); err != nil {
		t.Fatalf("MarkOpen() error = %v", err)
	}
	if err := m.BeginOpen(s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("BeginOpen() on open session error = %v, want ErrInvalidTransition", err)
	}
}

func TestManagerCountersAndSummary(t *testing.T) {
	m := NewManager()
	a := m.Create("a", nil)
	time.Sleep(time.Millisecond)
	b := m.Create("b", nil)

	m.RecordFrameIn(a.ID)
	m.RecordFrameIn(a.ID)
	m.RecordFrameOut(a.ID)
	m.RecordInterruption(a.ID)
	m.RecordToolCalls(a.ID, 2)

	sum := m.Summary()
	if sum.Active != 2 || sum.Sessions[0].ID != a.ID || sum.Sessions[1].ID != b.ID {
		t.Fatalf("Summary() = %+v", sum)
	}
	got := sum.Sessions[0]
	if got.FramesIn != 2 || got.FramesOut != 1 || got.InterruptionCount != 1 || got.ToolCallCount != 2 {
		t.Fatalf("counters = %+v", got)
	}
}

func TestManagerCancelAllAndWait(t *testing.T) {
	m := NewManager()
	var cancelled atomic.Int32
	for i := 0; i < 3; i++ {
		var id string
		s := m.Create("", func() {
			cancelled.Add(1)
			go m.Close(id)
		})
		id = s.ID
	}

	if n := m.CancelAll(); n != 3 {
		t.Fatalf("CancelAll() = %d, want 3", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !m.Wait(ctx) {
		t.Fatalf("Wait() timed out with %d active", m.ActiveCount())
	}
	if cancelled.Load() != 3 {
		t.Fatalf("cancelled = %d, want 3", cancelled.Load())
	}
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	m := NewManager()
	s := m.Create("", nil)
	if _, err := m.Close(s.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := m.Close(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Close() error = %v, want ErrNotFound", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !m.Wait(ctx) {
		t.Fatalf("Wait() should return once every session closed")
	}
}
