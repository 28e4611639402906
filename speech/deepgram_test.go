package speech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDeepgram accepts one live connection and plays back the given
// result payloads after the first binary frame arrives.
func fakeDeepgram(t *testing.T, results []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Token "))
		assert.Equal(t, "linear16", r.URL.Query().Get("encoding"))
		assert.Equal(t, "8000", r.URL.Query().Get("sample_rate"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()

		// Wait for audio before answering.
		typ, _, err := conn.Read(ctx)
		if err != nil {
			return
		}
		assert.Equal(t, websocket.MessageBinary, typ)

		for _, payload := range results {
			if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
				return
			}
		}

		// Drain until the client asks to finish, like the provider does.
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(data), "CloseStream") {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func openTestStream(t *testing.T, srv *httptest.Server) STTStream {
	t.Helper()
	p := NewDeepgramProvider(DeepgramConfig{APIKey: "k", BaseURL: wsURL(srv)}, zap.NewNop())
	stream, err := p.OpenStream(context.Background(), StreamConfig{
		SampleRate: 8000,
		Encoding:   "LINEAR16",
		Channels:   1,
		Language:   "en",
	})
	require.NoError(t, err)
	t.Cleanup(func() { stream.Close() })
	return stream
}

func collectEvents(t *testing.T, stream STTStream, n int) []TranscriptEvent {
	t.Helper()
	events := make([]TranscriptEvent, 0, n)
	timeout := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				t.Fatalf("events channel closed after %d events (want %d), err=%v", len(events), n, stream.Err())
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events (want %d)", len(events), n)
		}
	}
	return events
}

func TestDeepgramInterimAndFinal(t *testing.T) {
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"what time","confidence":0.8}]}}`,
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"What time is it?","confidence":0.97}]}}`,
	})
	defer srv.Close()

	stream := openTestStream(t, srv)
	require.NoError(t, stream.Send(make([]byte, 480)))

	events := collectEvents(t, stream, 2)

	assert.False(t, events[0].IsFinal)
	assert.Equal(t, "what time", events[0].Text)

	assert.True(t, events[1].IsFinal)
	assert.Equal(t, "What time is it?", events[1].Text)
	assert.InDelta(t, 0.97, events[1].Confidence, 1e-9)
}

func TestDeepgramJoinsFinalizedSegments(t *testing.T) {
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":true,"speech_final":false,"channel":{"alternatives":[{"transcript":"What time"}]}}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"is it"}]}}`,
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"is it?"}]}}`,
	})
	defer srv.Close()

	stream := openTestStream(t, srv)
	require.NoError(t, stream.Send(make([]byte, 480)))

	events := collectEvents(t, stream, 2)

	// Interim hypotheses include the already-finalized prefix.
	assert.False(t, events[0].IsFinal)
	assert.Equal(t, "What time is it", events[0].Text)

	assert.True(t, events[1].IsFinal)
	assert.Equal(t, "What time is it?", events[1].Text)
}

func TestDeepgramEmptyInterimSuppressed(t *testing.T) {
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":""}]}}`,
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"Hi."}]}}`,
	})
	defer srv.Close()

	stream := openTestStream(t, srv)
	require.NoError(t, stream.Send(make([]byte, 480)))

	events := collectEvents(t, stream, 1)
	assert.True(t, events[0].IsFinal)
	assert.Equal(t, "Hi.", events[0].Text)
}

func TestDeepgramServerDropSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Abrupt close without a close frame.
		conn.CloseNow()
	}))
	defer srv.Close()

	stream := openTestStream(t, srv)

	select {
	case _, ok := <-stream.Events():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("events channel never closed")
	}
	assert.Error(t, stream.Err())
}

func TestDeepgramSendAfterCloseFails(t *testing.T) {
	srv := fakeDeepgram(t, nil)
	defer srv.Close()

	stream := openTestStream(t, srv)
	require.NoError(t, stream.Send(make([]byte, 480)))
	require.NoError(t, stream.Close())
	assert.Error(t, stream.Send(make([]byte, 480)))
}
