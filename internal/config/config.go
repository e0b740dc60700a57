package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSystemInstruction = `شما "شهریار" هستید، دستیار صوتی رفسنجان.
پاسخ‌های شما باید کوتاه، صوتی و با لحن محاوره‌ای باشد.
اگر اطلاعات تخصصی نیاز بود، از ابزار استفاده کن.`

// Config contains all runtime settings for the voice relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	AllowAnyOrigin bool

	VoiceProvider string

	GeminiAPIKey            string
	GeminiLiveURL           string
	GeminiModel             string
	GeminiVoiceName         string
	GeminiSystemInstruction string
	UpstreamDialTimeout     time.Duration

	InputSampleRate  int
	OutputSampleRate int

	WSWriteTimeout   time.Duration
	WSPingInterval   time.Duration
	WSReadLimitBytes int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":3001"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicerelay"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("APP_LOG_FORMAT", "text")),
		AllowAnyOrigin:   false,
		VoiceProvider:    envOrDefault("VOICE_PROVIDER", "auto"),
		GeminiAPIKey:     firstNonEmpty(stringsTrimSpace("GEMINI_API_KEY"), stringsTrimSpace("API_KEY")),
		GeminiLiveURL: envOrDefault("GEMINI_LIVE_URL",
			"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"),
		GeminiModel:             envOrDefault("GEMINI_LIVE_MODEL", "models/gemini-2.5-flash-native-audio-preview-09-2025"),
		GeminiVoiceName:         envOrDefault("GEMINI_VOICE_NAME", "Zephyr"),
		GeminiSystemInstruction: envOrDefault("GEMINI_SYSTEM_INSTRUCTION", defaultSystemInstruction),
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:         15 * time.Second,
		UpstreamDialTimeout:     10 * time.Second,
		InputSampleRate:         16000,
		OutputSampleRate:        24000,
		WSWriteTimeout:          10 * time.Second,
		WSPingInterval:          20 * time.Second,
		WSReadLimitBytes:        2 << 20,
	}
	if os.Getenv("GO_ENV") == "production" && os.Getenv("APP_LOG_FORMAT") == "" {
		cfg.LogFormat = "json"
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamDialTimeout, err = durationFromEnv("UPSTREAM_DIAL_TIMEOUT", cfg.UpstreamDialTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WSWriteTimeout, err = durationFromEnv("WS_WRITE_TIMEOUT", cfg.WSWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WSPingInterval, err = durationFromEnv("WS_PING_INTERVAL", cfg.WSPingInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.InputSampleRate, err = intFromEnv("INPUT_SAMPLE_RATE", cfg.InputSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.OutputSampleRate, err = intFromEnv("OUTPUT_SAMPLE_RATE", cfg.OutputSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.WSReadLimitBytes, err = intFromEnv("WS_READ_LIMIT_BYTES", cfg.WSReadLimitBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.InputSampleRate <= 0 {
		return Config{}, fmt.Errorf("INPUT_SAMPLE_RATE must be positive")
	}
	if cfg.OutputSampleRate <= 0 {
		return Config{}, fmt.Errorf("OUTPUT_SAMPLE_RATE must be positive")
	}
	if cfg.WSReadLimitBytes < 4096 {
		return Config{}, fmt.Errorf("WS_READ_LIMIT_BYTES must be at least 4096")
	}
	if cfg.WSPingInterval < time.Second {
		return Config{}, fmt.Errorf("WS_PING_INTERVAL must be at least 1s")
	}
	if cfg.UpstreamDialTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_DIAL_TIMEOUT must be positive")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("APP_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
