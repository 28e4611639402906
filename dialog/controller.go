package dialog

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erikv05/oversea/artifact"
	"github.com/erikv05/oversea/config"
	"github.com/erikv05/oversea/internal/metrics"
	"github.com/erikv05/oversea/llm"
	"github.com/erikv05/oversea/speech"
	"github.com/erikv05/oversea/types"
)

// State is the controller's dialog state.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateGenerating   State = "generating"
	StateSpeakingTail State = "speaking_tail"
	StateBarged       State = "barged"
)

// AgentSource resolves agent records by id.
type AgentSource interface {
	Get(ctx context.Context, id string) (types.AgentRecord, error)
}

// Turn is one user→agent exchange. Mutated only by the controller loop.
type Turn struct {
	ID          string
	Generation  uint64
	UserText    string
	Assistant   string
	Interrupted bool
	StartedAt   time.Time
	EndedAt     time.Time
	AudioRefs   []types.AudioChunkRef

	// rollback info so a failed turn leaves history untouched
	histMark    int
	mergedPrev  bool
	prevContent string
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Agents  AgentSource
	STT     speech.STTProvider
	LLM     llm.StreamProvider
	TTS     speech.Synthesizer
	Store   artifact.Store
	Trimmer *llm.Trimmer
	Egress  *Egress
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// OnFatal is invoked after a session-fatal condition has been queued
	// for delivery; the session tears the connection down.
	OnFatal func()
	// CallerInfo is free-form caller metadata injected into the prompt
	// when the agent enables it.
	CallerInfo string
}

// Controller owns the session's dialog state: the generation counter,
// the dialog history, and the current turn. It is the sole mutator of
// all three; every other component talks to it through typed events.
type Controller struct {
	sessionID string
	cfg       *config.Config
	deps      Deps
	logger    *zap.Logger

	// gen is the session's current generation. The controller is the
	// only writer; egress and workers read it to discard stale work.
	gen *atomic.Uint64

	events chan event
	done   chan struct{}
	runCtx context.Context

	// loop-owned state below
	state         State
	agent         types.AgentRecord
	history       []types.HistoryEntry
	turn          *Turn
	sttSess       *sttSession
	pipeline      *turnPipeline
	awaitingFinal bool
	sttTimer      *time.Timer
	idleTimer     *time.Timer
}

// NewController creates a controller for one session. gen is shared with
// the egress multiplexer.
func NewController(sessionID string, cfg *config.Config, gen *atomic.Uint64, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gen.Store(1)
	return &Controller{
		sessionID: sessionID,
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With(zap.String("component", "controller"), zap.String("session_id", sessionID)),
		gen:       gen,
		events:    make(chan event, 256),
		done:      make(chan struct{}),
		state:     StateIdle,
		agent:     types.DefaultAgentRecord(),
	}
}

// Generation returns the session's current generation.
func (c *Controller) Generation() uint64 {
	return c.gen.Load()
}

// Post delivers an event to the controller loop. Events posted after the
// loop has stopped are dropped.
func (c *Controller) Post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run drives the dialog loop until ctx ends.
func (c *Controller) Run(ctx context.Context) {
	c.runCtx = ctx
	c.resetIdleTimer()

	defer func() {
		close(c.done)
		c.stopTimers()
		c.cancelPipeline()
		c.closeSTT()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev event) {
	switch ev.kind {
	case evSpeechStart:
		c.resetIdleTimer()
		c.handleSpeechStart(ev)
	case evSpeechEnd:
		c.resetIdleTimer()
		c.handleSpeechEnd()
	case evAudioFrames:
		c.resetIdleTimer()
		c.forwardFrames(ev.frames)
	case evControl:
		c.resetIdleTimer()
		c.handleControl(ev.control)
	case evInterim:
		c.handleInterim(ev)
	case evFinal:
		c.handleFinal(ev)
	case evSTTClosed:
		c.handleSTTClosed(ev)
	case evSTTTimeout:
		c.handleSTTTimeout(ev)
	case evLLMComplete:
		c.handleLLMComplete(ev)
	case evPipelineDone:
		c.handlePipelineDone(ev)
	case evAudioEmitted:
		c.handleAudioEmitted(ev)
	case evIdleTimeout:
		c.handleIdleTimeout()
	case evHistoryRequest:
		snapshot := make([]types.HistoryEntry, len(c.history))
		copy(snapshot, c.history)
		ev.reply <- snapshot
	}
}

// History returns a snapshot of the dialog history, taken by the loop so
// callers never race the session's own mutations.
func (c *Controller) History(ctx context.Context) []types.HistoryEntry {
	reply := make(chan []types.HistoryEntry, 1)
	select {
	case c.events <- event{kind: evHistoryRequest, reply: reply}:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case snapshot := <-reply:
		return snapshot
	case <-c.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// ---------------------------------------------------------------------
// Voice activity
// ---------------------------------------------------------------------

func (c *Controller) handleSpeechStart(ev event) {
	switch c.state {
	case StateGenerating, StateSpeakingTail:
		c.bargeIn("vad")
		c.startListening(ev.frames)
	case StateIdle, StateBarged:
		c.startListening(ev.frames)
	case StateListening:
		// Spurious start while already listening; treat as plain audio.
		c.forwardFrames(ev.frames)
	}
}

func (c *Controller) startListening(frames [][]byte) {
	gen := c.gen.Load()

	if err := c.openSTT(gen); err != nil {
		c.logger.Warn("stt open failed", zap.Error(err))
		c.deps.Metrics.RecordProviderError(c.deps.STT.Name(), "open")
		c.emitError(types.ErrSTTFailed, "speech recognition unavailable", gen)
		c.setState(StateIdle)
		return
	}

	c.awaitingFinal = false
	c.setState(StateListening)
	c.resetSTTTimer(gen)

	c.enqueue(types.ServerMessage{
		Type:       types.ServerSpeechStart,
		Generation: gen,
	})

	c.forwardFrames(frames)
}

func (c *Controller) handleSpeechEnd() {
	gen := c.gen.Load()
	c.enqueue(types.ServerMessage{
		Type:       types.ServerSpeechEnd,
		Generation: gen,
	})

	if c.state != StateListening {
		return
	}

	// Close the stream so the provider finalizes the utterance. The
	// final transcript, if any, arrives through the stream reader
	// before evSTTClosed.
	c.awaitingFinal = true
	c.closeSTT()
}

func (c *Controller) forwardFrames(frames [][]byte) {
	if c.sttSess == nil {
		return
	}
	for _, f := range frames {
		select {
		case c.sttSess.frames <- f:
		default:
			c.logger.Warn("stt frame buffer full, dropping frame")
		}
	}
}

// ---------------------------------------------------------------------
// Transcripts
// ---------------------------------------------------------------------

func (c *Controller) handleInterim(ev event) {
	if ev.gen < c.gen.Load() {
		return
	}
	c.resetSTTTimer(ev.gen)
	c.enqueue(types.ServerMessage{
		Type:       types.ServerInterimTranscript,
		Text:       ev.text,
		Generation: ev.gen,
	})
}

func (c *Controller) handleFinal(ev event) {
	if ev.gen < c.gen.Load() {
		// Late transcript from a superseded generation.
		c.logger.Debug("discarding stale final transcript", zap.Uint64("generation", ev.gen))
		return
	}

	switch c.state {
	case StateListening, StateIdle, StateBarged:
		c.awaitingFinal = false
		c.startGenerating(ev.text)
	case StateGenerating, StateSpeakingTail:
		// Extremely late STT for the current generation supersedes the
		// in-flight reply.
		c.bargeIn("stt_late")
		c.startGenerating(ev.text)
	}
}

func (c *Controller) handleSTTClosed(ev event) {
	if ev.gen < c.gen.Load() {
		return
	}
	c.stopSTTTimer()

	if ev.err != nil {
		c.deps.Metrics.RecordProviderError(c.deps.STT.Name(), "stream")
		if c.state == StateListening {
			c.emitError(types.ErrSTTFailed, "speech recognition failed for this turn", ev.gen)
			c.setState(StateIdle)
		}
		return
	}

	if c.state == StateListening && c.awaitingFinal {
		// Utterance ended without a final transcript; discard.
		c.awaitingFinal = false
		c.setState(StateIdle)
	}
}

func (c *Controller) handleSTTTimeout(ev event) {
	if ev.gen != c.gen.Load() || c.state != StateListening {
		return
	}
	c.logger.Warn("stt inactivity timeout")
	c.closeSTT()
	c.emitError(types.ErrSTTInactivity, "speech recognition timed out", ev.gen)
	c.setState(StateIdle)
}

// ---------------------------------------------------------------------
// Control frames
// ---------------------------------------------------------------------

func (c *Controller) handleControl(msg *types.ClientMessage) {
	switch msg.Type {
	case types.ClientAgentConfig:
		c.handleAgentConfig(msg.AgentID)
	case types.ClientCallStarted:
		c.logger.Info("call started")
	case types.ClientTextMessage:
		c.handleTextMessage(msg)
	case types.ClientInterrupt:
		c.handleClientInterrupt(msg.Reason)
	case types.ClientAudioPlaybackComplete:
		c.logger.Debug("client playback complete")
	case types.ClientAudioConfig:
		// Validated by the session during handshake.
		c.logger.Debug("audio config acknowledged")
	}
}

func (c *Controller) handleAgentConfig(agentID string) {
	record, err := c.deps.Agents.Get(c.runCtx, agentID)
	if err != nil {
		c.logger.Warn("agent lookup failed", zap.String("agent_id", agentID), zap.Error(err))
		c.emitError(types.ErrAgentNotFound, "unknown agent", c.gen.Load())
		return
	}
	c.agent = record
	c.logger.Info("agent configured", zap.String("agent", record.Name))

	if record.Greeting == "" {
		return
	}

	gen := c.gen.Load()
	c.enqueue(types.ServerMessage{
		Type:       types.ServerAgentGreeting,
		Text:       record.Greeting,
		Generation: gen,
	})
	go c.synthesizeGreeting(gen, record)
}

func (c *Controller) synthesizeGreeting(gen uint64, record types.AgentRecord) {
	ctx, cancel := context.WithTimeout(c.runCtx, c.cfg.TTS.UnitTimeout)
	defer cancel()

	started := time.Now()
	result, err := c.deps.TTS.Synthesize(ctx, &speech.SynthesisRequest{
		Text:  record.Greeting,
		Voice: record.Voice,
		Model: c.cfg.TTS.Model,
		Speed: record.Speed,
	})
	if err != nil {
		c.logger.Warn("greeting synthesis failed", zap.Error(err))
		c.deps.Metrics.RecordProviderError(c.deps.TTS.Name(), "synthesize")
		return
	}
	c.deps.Metrics.RecordTTSUnit(time.Since(started))

	id, err := c.deps.Store.Put(c.runCtx, c.sessionID, result.Audio, result.ContentType)
	if err != nil {
		c.logger.Warn("greeting artifact store failed", zap.Error(err))
		return
	}

	c.enqueue(types.ServerMessage{
		Type:       types.ServerGreetingAudio,
		Text:       record.Greeting,
		AudioURL:   c.cfg.Artifact.PathPrefix + id,
		Generation: gen,
	})
}

func (c *Controller) handleTextMessage(msg *types.ClientMessage) {
	if msg.Content == "" {
		return
	}

	switch c.state {
	case StateGenerating, StateSpeakingTail:
		c.bargeIn("client_message")
	case StateListening:
		c.closeSTT()
		c.stopSTTTimer()
	}

	// A reconnecting client may carry its prior conversation.
	if len(c.history) == 0 && len(msg.Conversation) > 0 {
		c.history = append(c.history, msg.Conversation...)
	}

	c.startGenerating(msg.Content)
}

func (c *Controller) handleClientInterrupt(reason string) {
	switch c.state {
	case StateGenerating, StateSpeakingTail:
		if reason == "" {
			reason = "client"
		}
		c.bargeIn(reason)
	default:
		// Idempotent from IDLE or an already-superseded generation.
		c.logger.Debug("interrupt with nothing to cancel", zap.String("state", string(c.state)))
	}
}

// ---------------------------------------------------------------------
// Barge-in and generation lifecycle
// ---------------------------------------------------------------------

// bargeIn supersedes the in-flight reply: it bumps the generation (which
// invalidates every queued or in-flight piece of work tagged with the old
// one), cancels the pipeline, and finalizes the interrupted turn with
// exactly the text the client already received.
func (c *Controller) bargeIn(source string) {
	oldGen := c.gen.Load()
	newGen := c.gen.Add(1)
	c.deps.Metrics.RecordBargeIn(source)
	c.logger.Info("barge-in",
		zap.String("source", source),
		zap.Uint64("superseded", oldGen),
		zap.Uint64("generation", newGen))

	c.cancelPipeline()

	// Hint the client to abort playback of already-delivered audio.
	c.enqueue(types.ServerMessage{
		Type:       types.ServerStopAudioImmediate,
		Generation: newGen,
	})

	if c.turn != nil {
		c.turn.Interrupted = true
		c.turn.EndedAt = time.Now()

		delivered := c.deps.Egress.DeliveredText(oldGen)
		if delivered != "" {
			c.history = append(c.history, types.HistoryEntry{
				Role:    types.RoleAssistant,
				Content: delivered,
				TurnID:  c.turn.ID,
			})
		}

		c.enqueueForced(types.ServerMessage{
			Type:        types.ServerStreamComplete,
			FullText:    delivered,
			Interrupted: true,
			Generation:  oldGen,
		})

		c.deps.Metrics.RecordTurn("interrupted")
		c.turn = nil
	}

	c.enqueue(types.ServerMessage{
		Type:       types.ServerInterruptionDone,
		Generation: newGen,
	})

	c.setState(StateBarged)
}

func (c *Controller) startGenerating(text string) {
	gen := c.gen.Load()

	if c.sttSess != nil {
		c.closeSTT()
	}
	c.stopSTTTimer()

	turn := &Turn{
		ID:         uuid.NewString(),
		Generation: gen,
		UserText:   text,
		StartedAt:  time.Now(),
		histMark:   len(c.history),
	}
	c.appendUser(turn, text)
	c.turn = turn

	c.enqueue(types.ServerMessage{
		Type:       types.ServerUserTranscript,
		Text:       text,
		Generation: gen,
	})
	c.enqueue(types.ServerMessage{
		Type:       types.ServerStreamStart,
		Generation: gen,
	})

	c.setState(StateGenerating)
	c.startPipeline(gen)
}

// appendUser adds the user side of a turn to history. Consecutive user
// entries (a prior turn superseded before any reply was delivered) are
// merged so roles keep alternating.
func (c *Controller) appendUser(turn *Turn, text string) {
	if n := len(c.history); n > 0 && c.history[n-1].Role == types.RoleUser {
		turn.mergedPrev = true
		turn.prevContent = c.history[n-1].Content
		turn.histMark = n - 1
		c.history[n-1] = types.HistoryEntry{
			Role:    types.RoleUser,
			Content: c.history[n-1].Content + " " + text,
			TurnID:  turn.ID,
		}
		return
	}
	c.history = append(c.history, types.HistoryEntry{
		Role:    types.RoleUser,
		Content: text,
		TurnID:  turn.ID,
	})
}

// rollbackUser undoes appendUser after a turn that failed before any
// reply content existed, leaving history as it was.
func (c *Controller) rollbackUser(turn *Turn) {
	if turn.mergedPrev {
		c.history[turn.histMark] = types.HistoryEntry{
			Role:    types.RoleUser,
			Content: turn.prevContent,
		}
		return
	}
	if len(c.history) > turn.histMark {
		c.history = c.history[:turn.histMark]
	}
}

func (c *Controller) handleLLMComplete(ev event) {
	if ev.gen != c.gen.Load() || c.state != StateGenerating {
		return
	}
	c.setState(StateSpeakingTail)
}

func (c *Controller) handlePipelineDone(ev event) {
	if ev.gen < c.gen.Load() || c.turn == nil {
		// Superseded by a barge-in; the turn was already finalized.
		return
	}
	c.pipeline = nil
	turn := c.turn
	c.turn = nil
	turn.EndedAt = time.Now()
	turn.Assistant = ev.text

	if ev.err != nil && ev.text == "" {
		// Nothing was produced; surface the failure and leave history
		// unchanged for the failed turn.
		c.rollbackUser(turn)
		code := types.GetErrorCode(ev.err)
		if code == "" {
			code = types.ErrProviderUpstream
		}
		c.deps.Metrics.RecordProviderError(c.deps.LLM.Name(), string(code))
		c.emitError(code, "reply generation failed", ev.gen)
		c.deps.Metrics.RecordTurn("failed")
		if types.IsFatal(ev.err) {
			c.fatal()
			return
		}
		c.setState(StateIdle)
		return
	}

	if ev.err != nil {
		// Partial failure mid-stream: deliver what arrived and treat it
		// as a normal completion.
		c.logger.Warn("llm stream ended early", zap.Error(ev.err))
		c.deps.Metrics.RecordProviderError(c.deps.LLM.Name(), "partial")
	}

	c.enqueue(types.ServerMessage{
		Type:        types.ServerStreamComplete,
		FullText:    ev.text,
		Interrupted: false,
		Generation:  ev.gen,
	})

	if ev.text != "" {
		c.history = append(c.history, types.HistoryEntry{
			Role:    types.RoleAssistant,
			Content: ev.text,
			TurnID:  turn.ID,
		})
		c.deps.Metrics.RecordTurn("completed")
	} else {
		c.deps.Metrics.RecordTurn("empty")
	}

	c.setState(StateIdle)
}

func (c *Controller) handleAudioEmitted(ev event) {
	if c.turn == nil || ev.gen != c.turn.Generation || ev.ref == nil {
		return
	}
	c.turn.AudioRefs = append(c.turn.AudioRefs, *ev.ref)
}

// ---------------------------------------------------------------------
// Timeouts and teardown
// ---------------------------------------------------------------------

func (c *Controller) handleIdleTimeout() {
	c.logger.Info("session idle timeout")
	c.emitError(types.ErrIdleTimeout, "session idle timeout", c.gen.Load())
	c.fatal()
}

func (c *Controller) fatal() {
	c.cancelPipeline()
	c.closeSTT()
	c.stopTimers()
	if c.deps.OnFatal != nil {
		c.deps.OnFatal()
	}
}

func (c *Controller) resetIdleTimer() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.cfg.Session.IdleTimeout, func() {
		c.Post(event{kind: evIdleTimeout})
	})
}

func (c *Controller) resetSTTTimer(gen uint64) {
	c.stopSTTTimer()
	c.sttTimer = time.AfterFunc(c.cfg.STT.InactivityTimeout, func() {
		c.Post(event{kind: evSTTTimeout, gen: gen})
	})
}

func (c *Controller) stopSTTTimer() {
	if c.sttTimer != nil {
		c.sttTimer.Stop()
		c.sttTimer = nil
	}
}

func (c *Controller) stopTimers() {
	c.stopSTTTimer()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
}

func (c *Controller) cancelPipeline() {
	if c.pipeline != nil {
		c.pipeline.cancel()
		c.pipeline = nil
	}
}

// ---------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------

func (c *Controller) setState(next State) {
	if c.state == next {
		return
	}
	c.deps.Metrics.RecordStateTransition(string(c.state), string(next))
	c.logger.Debug("state transition",
		zap.String("from", string(c.state)),
		zap.String("to", string(next)))
	c.state = next
}

func (c *Controller) enqueue(msg types.ServerMessage) {
	if err := c.deps.Egress.Enqueue(msg); err != nil {
		c.logger.Debug("enqueue failed", zap.Error(err))
	}
}

func (c *Controller) enqueueForced(msg types.ServerMessage) {
	if err := c.deps.Egress.EnqueueForced(msg); err != nil {
		c.logger.Debug("enqueue failed", zap.Error(err))
	}
}

func (c *Controller) emitError(code types.ErrorCode, message string, gen uint64) {
	c.enqueue(types.ServerMessage{
		Type:       types.ServerError,
		Kind:       strings.ToLower(string(code)),
		Message:    message,
		Generation: gen,
	})
}
