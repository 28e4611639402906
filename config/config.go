// =============================================================================
// oversea configuration
// =============================================================================
// Unified configuration loading: defaults → YAML file → environment override.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("OVERSEA").
//	    Load()
//
// =============================================================================
package config

import (
	"fmt"
	"time"
)

// Config is the complete server configuration.
type Config struct {
	// Server HTTP and websocket serving
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Audio inbound audio and voice activity detection
	Audio AudioConfig `yaml:"audio" env:"AUDIO"`

	// STT streaming speech-to-text provider
	STT STTConfig `yaml:"stt" env:"STT"`

	// LLM streaming language model provider
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// TTS speech synthesis provider
	TTS TTSConfig `yaml:"tts" env:"TTS"`

	// Artifact synthesized audio cache
	Artifact ArtifactConfig `yaml:"artifact" env:"ARTIFACT"`

	// Session per-connection dialog settings
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Database agent registry storage
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis optional artifact cache backend
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log logging configuration
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OpenTelemetry configuration
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	// HTTP port (REST API, websocket, artifact endpoint)
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics port (Prometheus scrape endpoint)
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout setting; not applied: the HTTP server that serves REST
	// and the websocket runs with no read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout setting; not applied: the HTTP server runs with no
	// write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Rate limit for the REST API, requests per second
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Rate limit burst
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// AudioConfig configures inbound audio handling and the VAD.
type AudioConfig struct {
	// Required inbound sample rate
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// Required inbound encoding
	Encoding string `yaml:"encoding" env:"ENCODING"`
	// Required inbound channel count
	Channels int `yaml:"channels" env:"CHANNELS"`
	// VAD frame duration
	FrameDuration time.Duration `yaml:"frame_duration" env:"FRAME_DURATION"`
	// VAD aggressiveness, 0 (permissive) to 3 (strict)
	Aggressiveness int `yaml:"aggressiveness" env:"AGGRESSIVENESS"`
	// Consecutive speech frames before speech_start fires
	SpeechStartFrames int `yaml:"speech_start_frames" env:"SPEECH_START_FRAMES"`
	// Consecutive non-speech frames before speech_end fires
	SpeechEndFrames int `yaml:"speech_end_frames" env:"SPEECH_END_FRAMES"`
	// Pre-speech ring buffer length
	PreSpeechBuffer time.Duration `yaml:"pre_speech_buffer" env:"PRE_SPEECH_BUFFER"`
}

// STTConfig configures the streaming STT provider.
type STTConfig struct {
	// Provider name (deepgram)
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Provider base URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Model identifier
	Model string `yaml:"model" env:"MODEL"`
	// Transcription language
	Language string `yaml:"language" env:"LANGUAGE"`
	// Inactivity timeout while listening
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" env:"INACTIVITY_TIMEOUT"`
}

// LLMConfig configures the streaming LLM provider.
type LLMConfig struct {
	// Provider name (gemini)
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Provider base URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Default model when the agent record does not name one
	Model string `yaml:"model" env:"MODEL"`
	// Sampling temperature
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// Maximum completion tokens
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// Token budget for dialog history sent with each request
	HistoryTokenBudget int `yaml:"history_token_budget" env:"HISTORY_TOKEN_BUDGET"`
	// Fallback entry cap when the tokenizer is unavailable
	HistoryMaxEntries int `yaml:"history_max_entries" env:"HISTORY_MAX_ENTRIES"`
	// Time allowed for the first token of each turn
	StartTimeout time.Duration `yaml:"start_timeout" env:"START_TIMEOUT"`
}

// TTSConfig configures the speech synthesis provider.
type TTSConfig struct {
	// Provider name (elevenlabs)
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Provider base URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Model identifier
	Model string `yaml:"model" env:"MODEL"`
	// Default voice when the agent record does not name one
	VoiceID string `yaml:"voice_id" env:"VOICE_ID"`
	// Maximum concurrent synthesis requests per session
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// Per-unit synthesis timeout
	UnitTimeout time.Duration `yaml:"unit_timeout" env:"UNIT_TIMEOUT"`
	// Soft cap on buffered text before a unit is forced out
	UnitSoftCap int `yaml:"unit_soft_cap" env:"UNIT_SOFT_CAP"`
}

// ArtifactConfig configures the synthesized audio cache.
type ArtifactConfig struct {
	// Backend: memory or redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// Time-to-live for each artifact
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Soft bound on total cached bytes (memory backend)
	MaxBytes int64 `yaml:"max_bytes" env:"MAX_BYTES"`
	// Reaper interval
	ReapInterval time.Duration `yaml:"reap_interval" env:"REAP_INTERVAL"`
	// Public path prefix artifacts are served under
	PathPrefix string `yaml:"path_prefix" env:"PATH_PREFIX"`
}

// SessionConfig configures per-connection dialog behavior.
type SessionConfig struct {
	// Idle timeout with no audio or control traffic
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// Egress queue capacity
	EgressBuffer int `yaml:"egress_buffer" env:"EGRESS_BUFFER"`
	// Inbound audio channel capacity, in frames
	AudioBuffer int `yaml:"audio_buffer" env:"AUDIO_BUFFER"`
}

// DatabaseConfig configures agent registry storage.
type DatabaseConfig struct {
	// SQLite database path; ":memory:" for ephemeral
	Path string `yaml:"path" env:"PATH"`
	// Seed sample agents on first start
	SeedSampleAgents bool `yaml:"seed_sample_agents" env:"SEED_SAMPLE_AGENTS"`
}

// RedisConfig configures the optional Redis artifact backend.
type RedisConfig struct {
	// Address
	Addr string `yaml:"addr" env:"ADDR"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database number
	DB int `yaml:"db" env:"DB"`
	// Connection pool size
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	// Enabled toggles the SDK; disabled means noop providers
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Service name reported in resource attributes
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// OTLP gRPC endpoint
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// Trace sampling ratio
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort == c.Server.HTTPPort {
		return fmt.Errorf("metrics_port must differ from http_port")
	}
	if c.Audio.SampleRate != 8000 {
		return fmt.Errorf("unsupported sample_rate: %d (only 8000 is accepted)", c.Audio.SampleRate)
	}
	if c.Audio.Aggressiveness < 0 || c.Audio.Aggressiveness > 3 {
		return fmt.Errorf("aggressiveness must be in [0,3], got %d", c.Audio.Aggressiveness)
	}
	if c.Audio.SpeechStartFrames <= 0 || c.Audio.SpeechEndFrames <= 0 {
		return fmt.Errorf("speech frame thresholds must be positive")
	}
	if c.TTS.Concurrency <= 0 {
		return fmt.Errorf("tts concurrency must be positive")
	}
	if c.TTS.UnitSoftCap <= 0 {
		return fmt.Errorf("tts unit_soft_cap must be positive")
	}
	if c.Artifact.TTL <= 0 {
		return fmt.Errorf("artifact ttl must be positive")
	}
	switch c.Artifact.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown artifact backend: %q", c.Artifact.Backend)
	}
	return nil
}

// FrameBytes returns the size in bytes of one VAD frame of inbound PCM.
func (c *AudioConfig) FrameBytes() int {
	samples := int(float64(c.SampleRate) * c.FrameDuration.Seconds())
	return samples * 2 * c.Channels
}
