package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/client"
	"github.com/ent0n29/voicerelay/internal/logging"
)

type options struct {
	liveURL      string
	inputPath    string
	toneHz       float64
	loop         bool
	frameMS      int
	outputPath   string
	duration     time.Duration
	readyTimeout time.Duration
	logLevel     string
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicectl: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voicectl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var cfg options
	var baseURL string
	var durationMS, readyTimeoutMS int

	fs := flag.NewFlagSet("voicectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&baseURL, "base-url", "http://127.0.0.1:3001", "relay base URL (http, https, ws or wss)")
	fs.StringVar(&cfg.inputPath, "input", "", "WAV file replayed as the microphone (default: synthetic tone)")
	fs.Float64Var(&cfg.toneHz, "tone-hz", 440, "frequency of the synthetic tone when no input is given")
	fs.BoolVar(&cfg.loop, "loop", false, "loop the input WAV file")
	fs.IntVar(&cfg.frameMS, "frame-ms", 100, "capture frame size in milliseconds")
	fs.StringVar(&cfg.outputPath, "output", "", "write received model audio to this WAV file")
	fs.IntVar(&durationMS, "duration-ms", 10000, "how long to stay connected in milliseconds (0 = until interrupted)")
	fs.IntVar(&readyTimeoutMS, "ready-timeout-ms", 15000, "timeout waiting for the connected notification in milliseconds")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	u, err := liveURL(baseURL)
	if err != nil {
		return options{}, fmt.Errorf("base-url: %w", err)
	}
	cfg.liveURL = u
	if cfg.frameMS < 10 || cfg.frameMS > 2000 {
		return options{}, fmt.Errorf("frame-ms must be in [10,2000]")
	}
	if cfg.toneHz <= 0 {
		return options{}, fmt.Errorf("tone-hz must be > 0")
	}
	if durationMS < 0 {
		durationMS = 0
	}
	if readyTimeoutMS < 1000 {
		readyTimeoutMS = 1000
	}
	cfg.duration = time.Duration(durationMS) * time.Millisecond
	cfg.readyTimeout = time.Duration(readyTimeoutMS) * time.Millisecond
	cfg.inputPath = strings.TrimSpace(cfg.inputPath)
	cfg.outputPath = strings.TrimSpace(cfg.outputPath)
	return cfg, nil
}

// liveURL turns a relay base URL into its websocket endpoint.
func liveURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("host is required")
	}
	if !strings.HasSuffix(u.Path, "/live") {
		u.Path = strings.TrimRight(u.Path, "/") + "/live"
	}
	return u.String(), nil
}

func newSource(cfg options) func() audio.Source {
	interval := time.Duration(cfg.frameMS) * time.Millisecond
	return func() audio.Source {
		if cfg.inputPath != "" {
			return audio.NewWAVFileSource(cfg.inputPath, audio.InputSampleRate, interval, cfg.loop)
		}
		return audio.NewToneSource(audio.InputSampleRate, interval, cfg.toneHz)
	}
}

func run(cfg options) error {
	log := logging.Init(cfg.logLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := audio.NewTimelineRecorder(audio.OutputSampleRate)
	ctrl := client.NewController(client.Options{
		URL:              cfg.liveURL,
		ReadyTimeout:     cfg.readyTimeout,
		OutputSampleRate: audio.OutputSampleRate,
		NewSource:        newSource(cfg),
		NewOutput:        func() (audio.Output, error) { return recorder, nil },
		Logger:           log,
	})

	if err := ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w (%s)", err, ctrl.Snapshot().Err)
	}
	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	log.Info("session started", "url", cfg.liveURL)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	var last client.Snapshot
	runErr := watch(ctx, updates, deadline, &last, log.Info)
	ctrl.Disconnect()

	if cfg.outputPath != "" {
		pcm := recorder.PCM()
		if err := audio.WriteWAVPCM16LEFile(cfg.outputPath, pcm, recorder.SampleRate()); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		log.Info("output written", "path", cfg.outputPath, "duration", audio.Duration(pcm, recorder.SampleRate()))
	}
	return runErr
}

var errSessionFailed = errors.New("session failed")

// watch reports state changes until the deadline, a signal, or the session
// ends on its own.
func watch(ctx context.Context, updates <-chan client.Snapshot, deadline <-chan time.Time, last *client.Snapshot, logf func(string, ...any)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if snap.State != last.State || snap.Err != last.Err {
				logf("state", "state", snap.State, "connected", snap.Connected, "speaking", snap.Speaking, "error", snap.Err)
			}
			*last = snap
			switch snap.State {
			case client.StateError:
				return fmt.Errorf("%w: %s", errSessionFailed, snap.Err)
			case client.StateDisconnected:
				if snap.Err != "" {
					return fmt.Errorf("%w: %s", errSessionFailed, snap.Err)
				}
				return nil
			}
		}
	}
}
