package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Audio:     DefaultAudioConfig(),
		STT:       DefaultSTTConfig(),
		LLM:       DefaultLLMConfig(),
		TTS:       DefaultTTSConfig(),
		Artifact:  DefaultArtifactConfig(),
		Session:   DefaultSessionConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultAudioConfig returns the default inbound audio and VAD configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:        8000,
		Encoding:          "LINEAR16",
		Channels:          1,
		FrameDuration:     30 * time.Millisecond,
		Aggressiveness:    2,
		SpeechStartFrames: 3,  // 90 ms
		SpeechEndFrames:   27, // ~810 ms
		PreSpeechBuffer:   150 * time.Millisecond,
	}
}

// DefaultSTTConfig returns the default STT configuration.
func DefaultSTTConfig() STTConfig {
	return STTConfig{
		Provider:          "deepgram",
		BaseURL:           "wss://api.deepgram.com",
		Model:             "nova-2",
		Language:          "en",
		InactivityTimeout: 60 * time.Second,
	}
}

// DefaultLLMConfig returns the default LLM configuration.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:           "gemini",
		BaseURL:            "https://generativelanguage.googleapis.com",
		Model:              "gemini-2.0-flash-exp",
		Temperature:        0.7,
		MaxTokens:          1024,
		HistoryTokenBudget: 4096,
		HistoryMaxEntries:  20,
		StartTimeout:       30 * time.Second,
	}
}

// DefaultTTSConfig returns the default TTS configuration.
func DefaultTTSConfig() TTSConfig {
	return TTSConfig{
		Provider:    "elevenlabs",
		BaseURL:     "https://api.elevenlabs.io",
		Model:       "eleven_turbo_v2",
		VoiceID:     "21m00Tcm4TlvDq8ikWAM",
		Concurrency: 3,
		UnitTimeout: 20 * time.Second,
		UnitSoftCap: 240,
	}
}

// DefaultArtifactConfig returns the default artifact cache configuration.
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		Backend:      "memory",
		TTL:          5 * time.Minute,
		MaxBytes:     64 << 20, // 64 MiB
		ReapInterval: 30 * time.Second,
		PathPrefix:   "/audio/",
	}
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:  10 * time.Minute,
		EgressBuffer: 256,
		AudioBuffer:  128,
	}
}

// DefaultDatabaseConfig returns the default agent registry configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Path:             "oversea.db",
		SeedSampleAgents: true,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		PoolSize: 10,
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		ServiceName:  "oversea",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
	}
}
