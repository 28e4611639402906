package dialog

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/erikv05/oversea/types"
)

// Frame is one decoded inbound frame: either a control message or raw
// PCM, never both.
type Frame struct {
	Control *types.ClientMessage
	PCM     []byte
}

// knownClientTypes is the accepted inbound discriminator set.
var knownClientTypes = map[types.ClientMessageType]bool{
	types.ClientAudioConfig:           true,
	types.ClientAgentConfig:           true,
	types.ClientCallStarted:           true,
	types.ClientTextMessage:           true,
	types.ClientInterrupt:             true,
	types.ClientAudioPlaybackComplete: true,
}

// FrameDecoder splits the duplex stream into typed control frames and
// opaque PCM frames. Malformed control frames are protocol errors and
// fatal for the session; unknown discriminators are logged and skipped.
type FrameDecoder struct {
	conn   Conn
	logger *zap.Logger
}

// NewFrameDecoder creates a decoder over conn.
func NewFrameDecoder(conn Conn, logger *zap.Logger) *FrameDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrameDecoder{
		conn:   conn,
		logger: logger.With(zap.String("component", "frame_decoder")),
	}
}

// Next returns the next frame. Transport errors pass through unwrapped so
// the caller can distinguish a client disconnect from a protocol error.
func (d *FrameDecoder) Next(ctx context.Context) (*Frame, error) {
	for {
		typ, data, err := d.conn.Read(ctx)
		if err != nil {
			return nil, err
		}

		if typ == websocket.MessageBinary {
			return &Frame{PCM: data}, nil
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, types.NewError(types.ErrProtocol, "malformed control frame").
				WithCause(err).WithFatal()
		}
		if msg.Type == "" {
			return nil, types.NewError(types.ErrProtocol, "control frame missing type").WithFatal()
		}
		if !knownClientTypes[msg.Type] {
			d.logger.Warn("ignoring unknown control frame", zap.String("type", string(msg.Type)))
			continue
		}

		return &Frame{Control: &msg}, nil
	}
}
