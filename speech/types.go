// Package speech provides the streaming STT and TTS provider contracts
// together with the Deepgram and ElevenLabs implementations.
package speech

import (
	"context"
	"time"
)

// ============================================================
// Speech-to-text (streaming)
// ============================================================

// TranscriptEvent is one hypothesis surfaced by a live STT stream.
// Interim events are unstable and may be revised; a final event carries
// the stable text for the ended utterance.
type TranscriptEvent struct {
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StreamConfig describes the inbound audio handed to a live stream.
type StreamConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Channels   int    `json:"channels"`
	Language   string `json:"language,omitempty"`
}

// STTStream is one live transcription session. Send forwards raw PCM;
// Events delivers interim and final transcripts until the stream ends,
// after which Err reports the terminal error, if any.
type STTStream interface {
	Send(frame []byte) error
	Events() <-chan TranscriptEvent
	Err() error
	Close() error
}

// STTProvider opens live transcription sessions.
type STTProvider interface {
	OpenStream(ctx context.Context, cfg StreamConfig) (STTStream, error)
	Name() string
}

// ============================================================
// Text-to-speech
// ============================================================

// SynthesisRequest is one unit of text to synthesize.
type SynthesisRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Model string  `json:"model,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// SynthesisResult is the synthesized audio for a unit.
type SynthesisResult struct {
	Audio       []byte        `json:"-"`
	ContentType string        `json:"content_type"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Synthesizer converts one text unit into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *SynthesisRequest) (*SynthesisResult, error)
	Name() string
}
