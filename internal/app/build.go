package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/httpapi"
	"github.com/ent0n29/voicerelay/internal/knowledge"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/session"
	"github.com/ent0n29/voicerelay/internal/tools"
	"github.com/ent0n29/voicerelay/internal/voice"
)

type VoiceInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Relay     *relay.Service
	Knowledge knowledge.Store
	Metrics   *observability.Metrics
	Voice     VoiceInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires the relay from cfg. metrics may be nil, in which case
// instruments are registered on the default Prometheus registry.
func Build(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	store, err := knowledge.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("knowledge store init failed: %w", err)
	}

	setup, err := resolveVoiceProvider(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cfg.VoiceProvider = setup.resolvedProvider

	sessions := session.NewManager()
	service := relay.New(relay.Config{
		Session: voice.SessionConfig{
			Model:             cfg.GeminiModel,
			VoiceName:         cfg.GeminiVoiceName,
			SystemInstruction: cfg.GeminiSystemInstruction,
			Tools:             tools.Declarations(),
			InputMIMEType:     fmt.Sprintf("audio/pcm;rate=%d", cfg.InputSampleRate),
		},
		SetupTimeout: cfg.UpstreamDialTimeout + 5*time.Second,
	}, setup.provider, tools.NewResolver(store), sessions, metrics, logger.With("component", "relay"))

	api := httpapi.New(cfg, sessions, service, metrics, logger.With("component", "httpapi"))

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Relay:     service,
		Knowledge: store,
		Metrics:   metrics,
		Voice: VoiceInfo{
			Provider: setup.resolvedProvider,
			Detail:   setup.detail,
		},
		Cleanup: store.Close,
	}, nil
}
