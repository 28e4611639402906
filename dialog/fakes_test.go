package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/erikv05/oversea/llm"
	"github.com/erikv05/oversea/speech"
	"github.com/erikv05/oversea/types"
)

// --- Connection fake -------------------------------------------------

type inboundFrame struct {
	typ  websocket.MessageType
	data []byte
}

// fakeConn is an in-memory transport. Writes decode into ServerMessages
// for assertions; reads are fed by the test.
type fakeConn struct {
	mu      sync.Mutex
	written []types.ServerMessage

	inbound   chan inboundFrame
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan inboundFrame, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.typ, f.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.closed:
		return 0, nil, fmt.Errorf("connection closed")
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	select {
	case <-c.closed:
		return fmt.Errorf("connection closed")
	default:
	}
	var msg types.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sendControl(t *testing.T, msg types.ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	c.inbound <- inboundFrame{typ: websocket.MessageText, data: data}
}

func (c *fakeConn) sendBinary(data []byte) {
	c.inbound <- inboundFrame{typ: websocket.MessageBinary, data: data}
}

func (c *fakeConn) messages() []types.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ServerMessage, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) messagesOf(typ types.ServerMessageType) []types.ServerMessage {
	var out []types.ServerMessage
	for _, m := range c.messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// waitFor polls until pred passes or the deadline hits.
func (c *fakeConn) waitFor(t *testing.T, what string, pred func([]types.ServerMessage) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pred(c.messages()) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; got %+v", what, c.messages())
}

func hasType(msgs []types.ServerMessage, typ types.ServerMessageType) bool {
	for _, m := range msgs {
		if m.Type == typ {
			return true
		}
	}
	return false
}

// --- STT fake --------------------------------------------------------

type fakeSTTProvider struct {
	streams chan *fakeSTTStream
	openErr error
}

func newFakeSTT() *fakeSTTProvider {
	return &fakeSTTProvider{streams: make(chan *fakeSTTStream, 8)}
}

func (p *fakeSTTProvider) Name() string { return "fake-stt" }

func (p *fakeSTTProvider) OpenStream(_ context.Context, cfg speech.StreamConfig) (speech.STTStream, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	s := &fakeSTTStream{
		cfg:    cfg,
		events: make(chan speech.TranscriptEvent, 16),
	}
	p.streams <- s
	return s, nil
}

func (p *fakeSTTProvider) next(t *testing.T) *fakeSTTStream {
	t.Helper()
	select {
	case s := <-p.streams:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no stt stream opened")
		return nil
	}
}

type fakeSTTStream struct {
	cfg    speech.StreamConfig
	events chan speech.TranscriptEvent

	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	err     error
	endOnce sync.Once
}

func (s *fakeSTTStream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed")
	}
	s.sent = append(s.sent, frame)
	return nil
}

func (s *fakeSTTStream) Events() <-chan speech.TranscriptEvent { return s.events }

func (s *fakeSTTStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSTTStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSTTStream) emitInterim(text string) {
	s.events <- speech.TranscriptEvent{Text: text, Timestamp: time.Now()}
}

func (s *fakeSTTStream) emitFinal(text string) {
	s.events <- speech.TranscriptEvent{Text: text, IsFinal: true, Timestamp: time.Now()}
}

// end terminates the stream, optionally with a failure.
func (s *fakeSTTStream) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.endOnce.Do(func() { close(s.events) })
}

func (s *fakeSTTStream) sentFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// --- LLM fake --------------------------------------------------------

type fakeLLMProvider struct {
	streams  chan *fakeLLMStream
	startErr error

	mu       sync.Mutex
	requests []*llm.Request
}

func newFakeLLM() *fakeLLMProvider {
	return &fakeLLMProvider{streams: make(chan *fakeLLMStream, 8)}
}

func (p *fakeLLMProvider) Name() string { return "fake-llm" }

func (p *fakeLLMProvider) StreamChat(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if p.startErr != nil {
		return nil, p.startErr
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	s := &fakeLLMStream{
		ctx:   ctx,
		frags: make(chan string, 16),
	}
	p.streams <- s
	return s, nil
}

func (p *fakeLLMProvider) next(t *testing.T) *fakeLLMStream {
	t.Helper()
	select {
	case s := <-p.streams:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no llm stream requested")
		return nil
	}
}

func (p *fakeLLMProvider) lastRequest() *llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

type fakeLLMStream struct {
	ctx   context.Context
	frags chan string

	mu      sync.Mutex
	err     error
	endOnce sync.Once
}

func (s *fakeLLMStream) Fragments() <-chan string { return s.frags }

func (s *fakeLLMStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeLLMStream) Close() error { return nil }

func (s *fakeLLMStream) send(frag string) {
	select {
	case s.frags <- frag:
	case <-s.ctx.Done():
	}
}

// finish ends the stream, optionally reporting a mid-stream failure.
func (s *fakeLLMStream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.endOnce.Do(func() { close(s.frags) })
}

func (s *fakeLLMStream) cancelled() bool {
	return s.ctx.Err() != nil
}

// --- TTS fake --------------------------------------------------------

type fakeTTS struct {
	mu     sync.Mutex
	delays map[string]time.Duration
	fails  map[string]bool
	calls  []string
}

func newFakeTTS() *fakeTTS {
	return &fakeTTS{
		delays: make(map[string]time.Duration),
		fails:  make(map[string]bool),
	}
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func (f *fakeTTS) Synthesize(ctx context.Context, req *speech.SynthesisRequest) (*speech.SynthesisResult, error) {
	f.mu.Lock()
	delay := f.delays[req.Text]
	fail := f.fails[req.Text]
	f.calls = append(f.calls, req.Text)
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("synthesis rejected")
	}
	return &speech.SynthesisResult{
		Audio:       []byte("audio:" + req.Text),
		ContentType: "audio/mpeg",
	}, nil
}

// --- Agent source fake -----------------------------------------------

type fakeAgents struct {
	records map[string]types.AgentRecord
}

func (f *fakeAgents) Get(_ context.Context, id string) (types.AgentRecord, error) {
	if record, ok := f.records[id]; ok {
		return record, nil
	}
	return types.AgentRecord{}, fmt.Errorf("agent %q not found", id)
}
