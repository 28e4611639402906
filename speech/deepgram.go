package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// DeepgramProvider implements live STT over the Deepgram websocket API.
type DeepgramProvider struct {
	cfg    DeepgramConfig
	logger *zap.Logger
}

// NewDeepgramProvider creates a new Deepgram live STT provider.
func NewDeepgramProvider(cfg DeepgramConfig, logger *zap.Logger) *DeepgramProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://api.deepgram.com"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeepgramProvider{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "deepgram_stt")),
	}
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

// OpenStream dials the live endpoint and starts the reader goroutine.
func (p *DeepgramProvider) OpenStream(ctx context.Context, cfg StreamConfig) (STTStream, error) {
	params := url.Values{}
	params.Set("model", p.cfg.Model)
	params.Set("encoding", strings.ToLower(cfg.Encoding))
	params.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	params.Set("channels", strconv.Itoa(cfg.Channels))
	params.Set("interim_results", "true")
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")
	if cfg.Language != "" {
		params.Set("language", cfg.Language)
	}

	endpoint := fmt.Sprintf("%s/v1/listen?%s", strings.TrimRight(p.cfg.BaseURL, "/"), params.Encode())

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}
	// Raise the limit for result payloads with word-level detail.
	conn.SetReadLimit(1 << 20)

	s := &deepgramStream{
		conn:     conn,
		logger:   p.logger,
		events:   make(chan TranscriptEvent, 16),
		ctx:      ctx,
		readDone: make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

// deepgramStream is one live transcription session. Writes are serialized
// by a mutex because the websocket does not allow concurrent writers.
type deepgramStream struct {
	conn     *websocket.Conn
	logger   *zap.Logger
	events   chan TranscriptEvent
	ctx      context.Context
	readDone chan struct{}

	mu     sync.Mutex
	closed bool

	errMu sync.Mutex
	err   error

	// finalized segments accumulated until the provider signals the end
	// of the utterance
	segments []string
}

// deepgramResult is the live-result payload subset the stream consumes.
type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	// SpeechFinal marks the end of the utterance.
	SpeechFinal bool `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Send forwards one PCM frame to the provider.
func (s *deepgramStream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stt stream closed")
	}
	if err := s.conn.Write(s.ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("deepgram write: %w", err)
	}
	return nil
}

// Events returns the transcript channel. It is closed when the stream
// ends; check Err afterwards.
func (s *deepgramStream) Events() <-chan TranscriptEvent {
	return s.events
}

// Err reports the terminal stream error after Events is closed.
func (s *deepgramStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close asks the provider to finalize pending audio, waits briefly for
// the closing results to arrive, and tears down the connection.
func (s *deepgramStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	closeMsg := []byte(`{"type":"CloseStream"}`)
	writeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = s.conn.Write(writeCtx, websocket.MessageText, closeMsg)
	cancel()
	s.mu.Unlock()

	// Deepgram flushes final results and closes its side after
	// CloseStream; give the reader a moment to surface them.
	select {
	case <-s.readDone:
	case <-time.After(2 * time.Second):
	}

	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}

func (s *deepgramStream) readLoop() {
	defer close(s.readDone)
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed && s.ctx.Err() == nil {
				s.setErr(fmt.Errorf("deepgram read: %w", err))
				s.logger.Warn("stt stream dropped", zap.Error(err))
			}
			return
		}

		var result deepgramResult
		if err := json.Unmarshal(data, &result); err != nil {
			s.logger.Warn("undecodable stt payload", zap.Error(err))
			continue
		}
		if result.Type != "Results" && result.Type != "" {
			continue
		}
		if len(result.Channel.Alternatives) == 0 {
			continue
		}

		alt := result.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)

		switch {
		case !result.IsFinal:
			if text == "" {
				continue
			}
			s.emit(TranscriptEvent{
				Text:       s.withSegments(text),
				Confidence: alt.Confidence,
				Timestamp:  time.Now(),
			})
		default:
			if text != "" {
				s.segments = append(s.segments, text)
			}
			if result.SpeechFinal {
				full := strings.Join(s.segments, " ")
				s.segments = nil
				if full == "" {
					continue
				}
				s.emit(TranscriptEvent{
					Text:       full,
					IsFinal:    true,
					Confidence: alt.Confidence,
					Timestamp:  time.Now(),
				})
			}
		}
	}
}

// withSegments prefixes an interim hypothesis with already-finalized
// segments so the caller always sees the whole utterance so far.
func (s *deepgramStream) withSegments(interim string) string {
	if len(s.segments) == 0 {
		return interim
	}
	return strings.Join(s.segments, " ") + " " + interim
}

func (s *deepgramStream) emit(ev TranscriptEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *deepgramStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
