// Package config parses process configuration the way cartomix's engine
// does: flags with environment-variable fallback, no third-party config
// framework (none appears anywhere in the retrieved pack).
package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds every knob the orchestrator needs, per spec.md §6's
// "environment variables (prefix convention)" list.
type Config struct {
	Port         int
	DataDir      string
	LogLevel     string
	SessionRoot  string
	SamplesDir   string
	CloudIndex   string
	KVStoreURL   string
	LLMEndpoint  string
	LLMAPIKey    string
	SampleRateHz int
	MaxUploadMB  int64
	Engine       string // external audio toolchain binary name
}

// Parse parses flags. Every flag except -port takes its default from an
// OPUS_-prefixed environment variable when that is set; -port has no env
// fallback. Flags take precedence over env.
func Parse() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP listen port")
	flag.StringVar(&cfg.DataDir, "data-dir", envOr("OPUS_DATA_DIR", defaultDataDir()), "data directory for admin config, job store and metadata cache")
	flag.StringVar(&cfg.LogLevel, "log-level", envOr("OPUS_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.SessionRoot, "session-root", envOr("OPUS_SESSION_ROOT", defaultDataDir()+"/sessions"), "directory under which per-session upload/render directories are created")
	flag.StringVar(&cfg.SamplesDir, "samples-dir", envOr("OPUS_SAMPLES_DIR", "assets/samples"), "local overlay sample library root")
	flag.StringVar(&cfg.CloudIndex, "cloud-sample-index", envOr("OPUS_CLOUD_SAMPLE_INDEX", ""), "path to a JSON cloud overlay sample index (empty disables the cloud catalog)")
	flag.StringVar(&cfg.KVStoreURL, "kv-store-url", envOr("OPUS_KV_STORE_URL", ""), "distributed key-value store URL (accepted but not read: the job state store always uses the SQLite backend)")
	flag.StringVar(&cfg.LLMEndpoint, "llm-endpoint", envOr("OPUS_LLM_ENDPOINT", ""), "OpenAI-compatible base URL for the strategy engine's LLM path (empty disables it, forcing the heuristic path)")
	flag.StringVar(&cfg.LLMAPIKey, "llm-api-key", envOr("OPUS_LLM_API_KEY", ""), "API key for the LLM endpoint")
	flag.IntVar(&cfg.SampleRateHz, "sample-rate", envOrInt("OPUS_SAMPLE_RATE", 44100), "sample rate in Hz (accepted but not passed to the analyzer or renderer)")
	flag.Int64Var(&cfg.MaxUploadMB, "max-upload-mb", envOrInt64("OPUS_MAX_UPLOAD_MB", 200), "maximum accepted upload size in MiB")
	flag.StringVar(&cfg.Engine, "engine", envOr("OPUS_ENGINE_BIN", "ffmpeg"), "external audio toolchain binary used by the analyzer/renderer adapters")

	flag.Parse()
	return cfg
}

func defaultDataDir() string {
	if dir := os.Getenv("OPUS_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opus"
	}
	return home + "/.opus"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
