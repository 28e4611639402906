package dialog

import "github.com/erikv05/oversea/types"

// eventKind discriminates events delivered to the controller loop.
type eventKind int

const (
	evSpeechStart eventKind = iota
	evSpeechEnd
	evAudioFrames
	evControl
	evInterim
	evFinal
	evSTTClosed
	evSTTTimeout
	evLLMComplete
	evPipelineDone
	evAudioEmitted
	evIdleTimeout
	evHistoryRequest
)

// event is one message into the controller loop. Producers fill only the
// fields their kind uses.
type event struct {
	kind eventKind

	// gen is the generation captured when the producing work was
	// dispatched. Zero means "not generation-bound".
	gen uint64

	// frames carries PCM for evSpeechStart (pre-speech flush included)
	// and evAudioFrames.
	frames [][]byte

	// control carries the decoded frame for evControl.
	control *types.ClientMessage

	// text carries transcript text or the turn's accumulated reply.
	text string

	// err carries a terminal worker error.
	err error

	// ref carries the emitted audio chunk for evAudioEmitted.
	ref *types.AudioChunkRef

	// reply receives the snapshot for evHistoryRequest.
	reply chan []types.HistoryEntry
}
