package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/client"
)

func TestLiveURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/live"},
		{in: "https://relay.example.com/", want: "wss://relay.example.com/live"},
		{in: "ws://localhost:8080/live", want: "ws://localhost:8080/live"},
		{in: "https://relay.example.com/voice", want: "wss://relay.example.com/voice/live"},
		{in: "ftp://relay.example.com", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tc := range tests {
		got, err := liveURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("liveURL(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("liveURL(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("liveURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.liveURL != "ws://127.0.0.1:3001/live" {
		t.Fatalf("liveURL = %q", cfg.liveURL)
	}
	if cfg.duration != 10*time.Second || cfg.readyTimeout != 15*time.Second {
		t.Fatalf("durations = %s/%s", cfg.duration, cfg.readyTimeout)
	}
}

func TestParseFlagsClampsAndRejects(t *testing.T) {
	cfg, err := parseFlags([]string{"-ready-timeout-ms", "10", "-duration-ms", "-5"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.readyTimeout != time.Second || cfg.duration != 0 {
		t.Fatalf("clamped = %s/%s", cfg.readyTimeout, cfg.duration)
	}
	if _, err := parseFlags([]string{"-frame-ms", "5"}, io.Discard); err == nil {
		t.Fatalf("expected frame-ms error")
	}
	if _, err := parseFlags([]string{"-tone-hz", "0"}, io.Discard); err == nil {
		t.Fatalf("expected tone-hz error")
	}
}

func TestNewSourcePicksInput(t *testing.T) {
	if _, ok := newSource(options{frameMS: 100, toneHz: 440})().(*audio.ToneSource); !ok {
		t.Fatalf("expected tone source without input")
	}
	if _, ok := newSource(options{frameMS: 100, inputPath: "in.wav"})().(*audio.WAVFileSource); !ok {
		t.Fatalf("expected wav source with input")
	}
}

func TestWatchStopsOnError(t *testing.T) {
	updates := make(chan client.Snapshot, 2)
	updates <- client.Snapshot{State: client.StateConnected, Connected: true}
	updates <- client.Snapshot{State: client.StateError, Err: client.MsgConnectionTimeout}

	var last client.Snapshot
	var logged int
	err := watch(context.Background(), updates, nil, &last, func(string, ...any) { logged++ })
	if !errors.Is(err, errSessionFailed) {
		t.Fatalf("watch() error = %v, want errSessionFailed", err)
	}
	if logged != 2 {
		t.Fatalf("logged = %d, want 2", logged)
	}
}

func TestWatchCleanDisconnect(t *testing.T) {
	updates := make(chan client.Snapshot, 1)
	updates <- client.Snapshot{State: client.StateDisconnected}
	last := client.Snapshot{State: client.StateConnected, Connected: true}
	if err := watch(context.Background(), updates, nil, &last, func(string, ...any) {}); err != nil {
		t.Fatalf("watch() error = %v", err)
	}
}

func TestWatchDeadline(t *testing.T) {
	deadline := make(chan time.Time, 1)
	deadline <- time.Now()
	var last client.Snapshot
	if err := watch(context.Background(), make(chan client.Snapshot), deadline, &last, func(string, ...any) {}); err != nil {
		t.Fatalf("watch() error = %v", err)
	}
}
