package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erikv05/oversea/artifact"
	"github.com/erikv05/oversea/config"
	"github.com/erikv05/oversea/internal/audio"
	"github.com/erikv05/oversea/internal/metrics"
	"github.com/erikv05/oversea/llm"
	"github.com/erikv05/oversea/speech"
	"github.com/erikv05/oversea/types"
)

// Providers bundles the session's external collaborators.
type Providers struct {
	Agents AgentSource
	STT    speech.STTProvider
	LLM    llm.StreamProvider
	TTS    speech.Synthesizer
	Store  artifact.Store
}

// Session owns one client connection from accept to teardown. It runs
// the frame decoder and the VAD on the read side, the controller loop in
// the middle, and the egress writer on the send side.
type Session struct {
	ID string

	cfg        *config.Config
	conn       Conn
	decoder    *FrameDecoder
	detector   *audio.Detector
	controller *Controller
	egress     *Egress
	providers  Providers
	logger     *zap.Logger
	metrics    *metrics.Collector

	gen        atomic.Uint64
	start      time.Time
	configured bool
	partial    []byte

	cancel    context.CancelFunc
	fatalOnce sync.Once
}

// NewSession creates a session over an accepted connection.
func NewSession(cfg *config.Config, conn Conn, providers Providers, trimmer *llm.Trimmer, callerInfo string, logger *zap.Logger, collector *metrics.Collector) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("session_id", id))

	s := &Session{
		ID:        id,
		cfg:       cfg,
		conn:      conn,
		providers: providers,
		logger:    logger,
		metrics:   collector,
		start:     time.Now(),
	}

	clock := func() float64 { return time.Since(s.start).Seconds() }

	s.decoder = NewFrameDecoder(conn, logger)
	s.detector = audio.NewDetector(audio.Config{
		Aggressiveness:  cfg.Audio.Aggressiveness,
		StartFrames:     cfg.Audio.SpeechStartFrames,
		EndFrames:       cfg.Audio.SpeechEndFrames,
		PreSpeechFrames: preSpeechFrames(cfg.Audio),
	})
	s.egress = NewEgress(conn, &s.gen, clock, cfg.Session.EgressBuffer, logger, collector)
	s.controller = NewController(id, cfg, &s.gen, Deps{
		Agents:     providers.Agents,
		STT:        providers.STT,
		LLM:        providers.LLM,
		TTS:        providers.TTS,
		Store:      providers.Store,
		Trimmer:    trimmer,
		Egress:     s.egress,
		Logger:     logger,
		Metrics:    collector,
		OnFatal:    s.shutdown,
		CallerInfo: callerInfo,
	})

	return s
}

func preSpeechFrames(cfg config.AudioConfig) int {
	if cfg.FrameDuration <= 0 {
		return 5
	}
	n := int(cfg.PreSpeechBuffer / cfg.FrameDuration)
	if n < 1 {
		n = 1
	}
	return n
}

// Run serves the session until the client disconnects, the session turns
// fatal, or ctx ends.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	s.logger.Info("session opened")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.egress.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.controller.Run(ctx)
	}()

	s.readLoop(ctx)

	// Stop intake, let the egress drain what is already queued, then
	// drop the connection and any session-scoped artifacts.
	s.egress.Close()
	select {
	case <-s.egress.Done():
	case <-time.After(2 * time.Second):
	}
	cancel()
	wg.Wait()

	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cleanupCancel()
	if err := s.providers.Store.InvalidateSession(cleanupCtx, s.ID); err != nil {
		s.logger.Warn("artifact cleanup failed", zap.Error(err))
	}

	s.logger.Info("session closed", zap.Duration("lifetime", time.Since(s.start)))
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		frame, err := s.decoder.Next(ctx)
		if err != nil {
			if types.GetErrorCode(err) == types.ErrProtocol {
				s.logger.Warn("protocol error", zap.Error(err))
				s.protocolFatal("malformed control frame")
				return
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				s.logger.Info("client disconnected")
			} else {
				s.logger.Debug("read failed", zap.Error(err))
			}
			return
		}

		if frame.Control != nil {
			if !s.handleControl(frame.Control) {
				return
			}
			continue
		}

		if !s.configured {
			s.logger.Warn("binary frame before audio_config")
			s.protocolFatal("audio before audio_config handshake")
			return
		}
		s.handlePCM(frame.PCM)
	}
}

// handleControl performs the handshake; everything else passes through to
// the controller. Returns false when the session must end.
func (s *Session) handleControl(msg *types.ClientMessage) bool {
	if msg.Type == types.ClientAudioConfig {
		if msg.SampleRate != s.cfg.Audio.SampleRate ||
			!strings.EqualFold(msg.Encoding, s.cfg.Audio.Encoding) ||
			msg.Channels != s.cfg.Audio.Channels {
			s.logger.Warn("unsupported audio config",
				zap.Int("sample_rate", msg.SampleRate),
				zap.String("encoding", msg.Encoding),
				zap.Int("channels", msg.Channels))
			s.protocolFatal("unsupported audio configuration")
			return false
		}
		s.configured = true
		s.logger.Info("audio config accepted",
			zap.Int("sample_rate", msg.SampleRate),
			zap.String("encoding", msg.Encoding))
	}

	s.controller.Post(event{kind: evControl, control: msg})
	return true
}

// handlePCM splits arbitrary inbound blobs into fixed VAD frames and
// turns detector edges into controller events. Incomplete trailing bytes
// wait for the next blob.
func (s *Session) handlePCM(data []byte) {
	frameBytes := s.cfg.Audio.FrameBytes()

	buf := data
	if len(s.partial) > 0 {
		buf = append(s.partial, data...)
		s.partial = nil
	}

	for len(buf) >= frameBytes {
		frame := buf[:frameBytes]
		buf = buf[frameBytes:]

		edge, forward := s.detector.Push(frame)
		switch edge {
		case audio.EdgeSpeechStart:
			s.controller.Post(event{kind: evSpeechStart, frames: forward})
		case audio.EdgeSpeechEnd:
			if len(forward) > 0 {
				s.controller.Post(event{kind: evAudioFrames, frames: forward})
			}
			s.controller.Post(event{kind: evSpeechEnd})
		default:
			if len(forward) > 0 {
				s.controller.Post(event{kind: evAudioFrames, frames: forward})
			}
		}
	}

	if len(buf) > 0 {
		s.partial = append([]byte(nil), buf...)
	}
}

// protocolFatal reports a fatal protocol violation. The read loop exits
// afterwards and the shared teardown in Run drains the egress, so the
// error marker still reaches the client.
func (s *Session) protocolFatal(message string) {
	_ = s.egress.EnqueueForced(types.ServerMessage{
		Type:    types.ServerError,
		Kind:    strings.ToLower(string(types.ErrProtocol)),
		Message: message,
	})
	s.shutdown()
}

// shutdown ends the session once.
func (s *Session) shutdown() {
	s.fatalOnce.Do(func() {
		if s.cancel != nil {
			// Give the egress a moment to flush queued frames (the
			// closing error marker included) before the context drops.
			go func() {
				time.Sleep(100 * time.Millisecond)
				s.cancel()
			}()
		}
	})
}
