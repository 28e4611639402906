package dialog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/erikv05/oversea/speech"
)

// sttSession is one live transcription stream opened for an utterance.
// The controller feeds PCM into frames; a writer goroutine pushes it to
// the provider so a stalled upstream never blocks the dialog loop.
type sttSession struct {
	stream   speech.STTStream
	frames   chan []byte
	gen      uint64
	cancel   context.CancelFunc
	openedAt time.Time
}

// openSTT starts a stream for the current utterance and wires its reader
// into the event loop. The generation captured here rides on every
// transcript the stream produces.
func (c *Controller) openSTT(gen uint64) error {
	ctx, cancel := context.WithCancel(c.runCtx)

	stream, err := c.deps.STT.OpenStream(ctx, speech.StreamConfig{
		SampleRate: c.cfg.Audio.SampleRate,
		Encoding:   c.cfg.Audio.Encoding,
		Channels:   c.cfg.Audio.Channels,
		Language:   c.cfg.STT.Language,
	})
	if err != nil {
		cancel()
		return err
	}

	sess := &sttSession{
		stream:   stream,
		frames:   make(chan []byte, c.cfg.Session.AudioBuffer),
		gen:      gen,
		cancel:   cancel,
		openedAt: time.Now(),
	}
	c.sttSess = sess

	go sess.writeLoop(c.logger)
	go c.readSTT(sess)

	return nil
}

// closeSTT releases the current stream, asking the provider to finalize
// buffered audio first. The stream reader posts any closing transcript
// and then evSTTClosed.
func (c *Controller) closeSTT() {
	sess := c.sttSess
	if sess == nil {
		return
	}
	c.sttSess = nil

	close(sess.frames)
	// Close may wait for the provider's closing flush; keep that off the
	// dialog loop.
	go func() {
		if err := sess.stream.Close(); err != nil {
			c.logger.Debug("stt close", zap.Error(err))
		}
	}()
	c.deps.Metrics.RecordSTTStream(time.Since(sess.openedAt))
}

func (s *sttSession) writeLoop(logger *zap.Logger) {
	for frame := range s.frames {
		if err := s.stream.Send(frame); err != nil {
			logger.Debug("stt send failed", zap.Error(err))
			// Drain the rest; the reader surfaces the failure.
			for range s.frames {
			}
			return
		}
	}
}

func (c *Controller) readSTT(sess *sttSession) {
	for ev := range sess.stream.Events() {
		kind := evInterim
		if ev.IsFinal {
			kind = evFinal
		}
		c.Post(event{kind: kind, gen: sess.gen, text: ev.Text})
	}
	c.Post(event{kind: evSTTClosed, gen: sess.gen, err: sess.stream.Err()})
	sess.cancel()
}
