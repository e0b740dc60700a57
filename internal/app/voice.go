package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/voice"
)

type voiceSetup struct {
	provider         voice.LiveProvider
	resolvedProvider string
	detail           string
}

// resolveVoiceProvider picks the upstream. A nil provider means no
// credentials: the relay still starts and refuses each session with an
// error event.
func resolveVoiceProvider(cfg config.Config, logger *slog.Logger) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	gemini := func() voiceSetup {
		return voiceSetup{
			provider: voice.NewGeminiProvider(voice.GeminiConfig{
				APIKey:      cfg.GeminiAPIKey,
				URL:         cfg.GeminiLiveURL,
				DialTimeout: cfg.UpstreamDialTimeout,
				Logger:      logger.With("component", "gemini"),
			}),
			resolvedProvider: "gemini",
			detail:           "gemini live (" + cfg.GeminiModel + ")",
		}
	}
	unconfigured := voiceSetup{
		resolvedProvider: "none",
		detail:           "no upstream credentials (sessions are refused)",
	}

	switch voiceMode {
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return unconfigured, nil
		}
		return gemini(), nil
	case "mock":
		return voiceSetup{
			provider:         voice.NewEchoProvider(),
			resolvedProvider: "mock",
			detail:           "mock (echo)",
		}, nil
	case "auto":
		if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
			return gemini(), nil
		}
		return unconfigured, nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|gemini|mock)", cfg.VoiceProvider)
	}
}
