package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/erikv05/oversea/speech"
	"github.com/erikv05/oversea/types"
)

// unitResult is one synthesized (or failed) unit on its way to the
// sequencer.
type unitResult struct {
	index int
	text  string
	url   string
	err   error
}

// synthRun is the TTS stage for one turn. Up to K units synthesize
// concurrently, but audio chunks reach the egress queue strictly in unit
// index order regardless of completion order.
type synthRun struct {
	c     *Controller
	ctx   context.Context
	gen   uint64
	agent types.AgentRecord

	sem     *semaphore.Weighted
	results chan unitResult
	wg      sync.WaitGroup
	seqDone chan struct{}
}

func (c *Controller) newSynthRun(ctx context.Context, gen uint64, agent types.AgentRecord) *synthRun {
	r := &synthRun{
		c:       c,
		ctx:     ctx,
		gen:     gen,
		agent:   agent,
		sem:     semaphore.NewWeighted(int64(c.cfg.TTS.Concurrency)),
		results: make(chan unitResult, 16),
		seqDone: make(chan struct{}),
	}
	go r.sequence()
	return r
}

// dispatch starts synthesis for one unit.
func (r *synthRun) dispatch(unit Unit) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res := unitResult{index: unit.Index, text: unit.Text}

		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			res.err = err
			r.results <- res
			return
		}
		defer r.sem.Release(1)

		// Re-check the generation before spending provider budget.
		if r.c.gen.Load() != r.gen {
			res.err = context.Canceled
			r.results <- res
			return
		}

		ctx, cancel := context.WithTimeout(r.ctx, r.c.cfg.TTS.UnitTimeout)
		defer cancel()

		started := time.Now()
		out, err := r.c.deps.TTS.Synthesize(ctx, &speech.SynthesisRequest{
			Text:  unit.Text,
			Voice: r.agent.Voice,
			Model: r.c.cfg.TTS.Model,
			Speed: r.agent.Speed,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && r.ctx.Err() == nil {
				err = types.NewError(types.ErrTTSUnitTimeout, "synthesis timed out").
					WithProvider(r.c.deps.TTS.Name()).WithCause(err)
			}
			res.err = err
			r.results <- res
			return
		}
		r.c.deps.Metrics.RecordTTSUnit(time.Since(started))

		id, err := r.c.deps.Store.Put(r.ctx, r.c.sessionID, out.Audio, out.ContentType)
		if err != nil {
			res.err = err
			r.results <- res
			return
		}

		res.url = r.c.cfg.Artifact.PathPrefix + id
		r.results <- res
	}()
}

// wait blocks until every dispatched unit has passed through the
// sequencer.
func (r *synthRun) wait() {
	r.wg.Wait()
	close(r.results)
	<-r.seqDone
}

// sequence reorders completed units and emits them in index order.
func (r *synthRun) sequence() {
	defer close(r.seqDone)

	pending := make(map[int]unitResult)
	next := 0

	for res := range r.results {
		pending[res.index] = res
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			r.emit(cur)
			next++
		}
	}
}

func (r *synthRun) emit(res unitResult) {
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			// Superseded work; drop silently.
			return
		}
		r.c.logger.Warn("unit synthesis failed",
			zap.Int("unit", res.index),
			zap.Error(res.err))
		r.c.deps.Metrics.RecordProviderError(r.c.deps.TTS.Name(), "synthesize")

		// The text_chunk already went out; warn and continue with the
		// following units.
		kind := types.ErrTTSFailed
		if types.GetErrorCode(res.err) == types.ErrTTSUnitTimeout {
			kind = types.ErrTTSUnitTimeout
		}
		_ = r.c.deps.Egress.Enqueue(types.ServerMessage{
			Type:       types.ServerError,
			Kind:       strings.ToLower(string(kind)),
			Message:    "audio synthesis failed for part of the reply",
			Generation: r.gen,
		})
		return
	}

	_ = r.c.deps.Egress.Enqueue(types.ServerMessage{
		Type:       types.ServerAudioChunk,
		AudioURL:   res.url,
		Text:       res.text,
		UnitIndex:  res.index,
		Generation: r.gen,
	})

	r.c.Post(event{kind: evAudioEmitted, gen: r.gen, ref: &types.AudioChunkRef{
		ID:        res.url,
		Text:      res.text,
		UnitIndex: res.index,
	}})
}
