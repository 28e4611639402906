package dialog

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/erikv05/oversea/llm"
	"github.com/erikv05/oversea/types"
)

// turnPipeline is the handle for one turn's reply generation. The
// controller cancels it on barge-in; workers observe cancellation at
// their next suspension point.
type turnPipeline struct {
	gen    uint64
	cancel context.CancelFunc
}

// startPipeline snapshots the request state for the current turn and
// launches the LLM → chunker → TTS pipeline.
func (c *Controller) startPipeline(gen uint64) {
	ctx, cancel := context.WithCancel(c.runCtx)
	c.pipeline = &turnPipeline{gen: gen, cancel: cancel}

	model := c.agent.Model
	if model == "" {
		model = c.cfg.LLM.Model
	}

	messages := make([]types.HistoryEntry, len(c.history))
	copy(messages, c.history)

	req := &llm.Request{
		Model:       model,
		System:      llm.BuildSystemPrompt(c.agent, time.Now(), c.deps.CallerInfo),
		Messages:    c.deps.Trimmer.Trim(messages),
		Temperature: c.cfg.LLM.Temperature,
		MaxTokens:   c.cfg.LLM.MaxTokens,
	}

	go c.runPipeline(ctx, gen, req, c.agent)
}

// runPipeline reads the fragment stream, mirrors each fragment to the
// client as a text_chunk, cuts synthesis units, and waits for the last
// audio chunk before reporting completion. It never touches controller
// state directly; results travel back as events.
func (c *Controller) runPipeline(ctx context.Context, gen uint64, req *llm.Request, agent types.AgentRecord) {
	started := time.Now()

	stream, err := c.deps.LLM.StreamChat(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			c.Post(event{kind: evPipelineDone, gen: gen, err: err})
		}
		return
	}
	defer stream.Close()

	chunker := NewChunker(c.cfg.TTS.UnitSoftCap)
	synth := c.newSynthRun(ctx, gen, agent)

	var full strings.Builder
	var llmErr error
	first := true

	startTimer := time.NewTimer(c.cfg.LLM.StartTimeout)
	defer startTimer.Stop()

loop:
	for {
		select {
		case frag, ok := <-stream.Fragments():
			if !ok {
				llmErr = stream.Err()
				break loop
			}
			if first {
				first = false
				startTimer.Stop()
				c.deps.Metrics.RecordLLMFirstToken(time.Since(started))
			}
			full.WriteString(frag)
			c.enqueue(types.ServerMessage{
				Type:       types.ServerTextChunk,
				Text:       frag,
				Generation: gen,
			})
			for _, unit := range chunker.Feed(frag) {
				synth.dispatch(unit)
			}

		case <-startTimer.C:
			if first {
				c.logger.Warn("llm start timeout", zap.Duration("timeout", c.cfg.LLM.StartTimeout))
				llmErr = types.NewError(types.ErrLLMStartTimeout, "no reply within the start timeout").
					WithProvider(c.deps.LLM.Name())
				break loop
			}

		case <-ctx.Done():
			// Cancellation is not an error and is never surfaced as one.
			break loop
		}
	}

	if ctx.Err() == nil {
		if tail := chunker.Flush(); tail != nil {
			synth.dispatch(*tail)
		}
	}

	c.Post(event{kind: evLLMComplete, gen: gen})

	synth.wait()

	if ctx.Err() != nil {
		// Superseded; the controller already finalized the turn.
		return
	}
	c.Post(event{kind: evPipelineDone, gen: gen, text: full.String(), err: llmErr})
}
