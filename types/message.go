package types

// Role represents the role of a dialog participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one finalized entry in a session's dialog history.
// Entries strictly alternate roles; superseded turns contribute at most
// the content that was actually delivered to the client.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	TurnID  string `json:"turn_id,omitempty"`
}

// ClientMessageType discriminates inbound control frames.
type ClientMessageType string

const (
	ClientAudioConfig           ClientMessageType = "audio_config"
	ClientAgentConfig           ClientMessageType = "agent_config"
	ClientCallStarted           ClientMessageType = "call_started"
	ClientTextMessage           ClientMessageType = "message"
	ClientInterrupt             ClientMessageType = "interrupt"
	ClientAudioPlaybackComplete ClientMessageType = "audio_playback_complete"
)

// ClientMessage is an inbound control frame. Fields beyond Type are
// populated depending on the discriminator.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// audio_config
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	// agent_config
	AgentID string `json:"agent_id,omitempty"`

	// message
	Content      string         `json:"content,omitempty"`
	Conversation []HistoryEntry `json:"conversation,omitempty"`

	// interrupt
	Reason string `json:"reason,omitempty"`
}

// ServerMessageType discriminates outbound control frames.
type ServerMessageType string

const (
	ServerSpeechStart        ServerMessageType = "speech_start"
	ServerSpeechEnd          ServerMessageType = "speech_end"
	ServerInterimTranscript  ServerMessageType = "interim_transcript"
	ServerUserTranscript     ServerMessageType = "user_transcript"
	ServerStreamStart        ServerMessageType = "stream_start"
	ServerTextChunk          ServerMessageType = "text_chunk"
	ServerAudioChunk         ServerMessageType = "audio_chunk"
	ServerStreamComplete     ServerMessageType = "stream_complete"
	ServerAgentGreeting      ServerMessageType = "agent_greeting"
	ServerGreetingAudio      ServerMessageType = "greeting_audio"
	ServerStopAudioImmediate ServerMessageType = "stop_audio_immediately"
	ServerInterruptionDone   ServerMessageType = "interruption_complete"
	ServerError              ServerMessageType = "error"
)

// ServerMessage is an outbound control frame. Every message carries the
// generation it was produced under; stale generations are dropped before
// the frame reaches the wire.
type ServerMessage struct {
	Type        ServerMessageType `json:"type"`
	Text        string            `json:"text,omitempty"`
	AudioURL    string            `json:"audio_url,omitempty"`
	FullText    string            `json:"full_text,omitempty"`
	Interrupted bool              `json:"interrupted,omitempty"`
	Generation  uint64            `json:"generation,omitempty"`
	UnitIndex   int               `json:"unit_index,omitempty"`

	// error frames
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`

	// Monotonic seconds since session start.
	Timestamp float64 `json:"timestamp"`
}

// AudioChunkRef identifies a synthesized artifact emitted to the client.
type AudioChunkRef struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	UnitIndex int     `json:"unit_index"`
	Duration  float64 `json:"duration,omitempty"`
}
