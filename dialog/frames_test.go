package dialog

import (
	"context"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erikv05/oversea/types"
)

func TestFrameDecoderBinaryPassthrough(t *testing.T) {
	conn := newFakeConn()
	d := NewFrameDecoder(conn, zap.NewNop())

	pcm := make([]byte, 480)
	pcm[0] = 0x7f
	conn.sendBinary(pcm)

	frame, err := d.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, frame.Control)
	assert.Equal(t, pcm, frame.PCM)
}

func TestFrameDecoderControlFrame(t *testing.T) {
	conn := newFakeConn()
	d := NewFrameDecoder(conn, zap.NewNop())

	conn.sendControl(t, types.ClientMessage{
		Type:       types.ClientAudioConfig,
		SampleRate: 8000,
		Encoding:   "LINEAR16",
		Channels:   1,
	})

	frame, err := d.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame.Control)
	assert.Equal(t, types.ClientAudioConfig, frame.Control.Type)
	assert.Equal(t, 8000, frame.Control.SampleRate)
}

func TestFrameDecoderMalformedJSONIsProtocolError(t *testing.T) {
	conn := newFakeConn()
	d := NewFrameDecoder(conn, zap.NewNop())

	conn.inbound <- inboundFrame{typ: websocket.MessageText, data: []byte("{nope")}

	_, err := d.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrProtocol, types.GetErrorCode(err))
	assert.True(t, types.IsFatal(err))
}

func TestFrameDecoderMissingTypeIsProtocolError(t *testing.T) {
	conn := newFakeConn()
	d := NewFrameDecoder(conn, zap.NewNop())

	conn.inbound <- inboundFrame{typ: websocket.MessageText, data: []byte(`{"content":"hi"}`)}

	_, err := d.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrProtocol, types.GetErrorCode(err))
}

func TestFrameDecoderSkipsUnknownDiscriminators(t *testing.T) {
	conn := newFakeConn()
	d := NewFrameDecoder(conn, zap.NewNop())

	conn.inbound <- inboundFrame{typ: websocket.MessageText, data: []byte(`{"type":"mystery"}`)}
	conn.sendControl(t, types.ClientMessage{Type: types.ClientCallStarted})

	frame, err := d.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame.Control)
	assert.Equal(t, types.ClientCallStarted, frame.Control.Type)
}
