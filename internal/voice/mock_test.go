package voice

import (
	"context"
	"errors"
	"testing"
)

func TestMockProviderReadyThenEcho(t *testing.T) {
	p := NewEchoProvider()
	sess, err := p.Connect(context.Background(), SessionConfig{Model: "m"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if ev := <-sess.Events(); ev.Type != EventReady {
		t.Fatalf("first event = %s, want ready", ev.Type)
	}
	if err := sess.SendAudio(context.Background(), "QUFB"); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	if ev := <-sess.Events(); ev.Type != EventAudio || ev.AudioBase64 != "QUFB" {
		t.Fatalf("echo event = %+v", ev)
	}
	_ = sess.Close()
	if _, ok := <-sess.Events(); ok {
		t.Fatalf("expected closed stream")
	}
	if err := sess.SendAudio(context.Background(), "QUFB"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("SendAudio() after close = %v", err)
	}
}

func TestMockProviderFailConnect(t *testing.T) {
	p := NewMockProvider()
	boom := errors.New("boom")
	p.FailConnect(boom)
	if _, err := p.Connect(context.Background(), SessionConfig{}); !errors.Is(err, boom) {
		t.Fatalf("Connect() error = %v, want boom", err)
	}
	if len(p.Sessions()) != 0 {
		t.Fatalf("failed connect must not register a session")
	}
}
