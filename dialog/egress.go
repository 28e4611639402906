package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/erikv05/oversea/internal/metrics"
	"github.com/erikv05/oversea/types"
)

// Conn is the duplex transport the session speaks over. *websocket.Conn
// satisfies it; tests substitute in-memory fakes.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// outbound wraps a server message in the egress queue. force bypasses the
// stale-generation drop so an interrupted turn can still receive its
// closing stream_complete.
type outbound struct {
	msg   types.ServerMessage
	force bool
}

// Egress is the session's single writer. All server messages funnel
// through its bounded queue; at the queue head, any message whose
// generation predates the session's current generation is dropped rather
// than written. It also records the text actually delivered per
// generation so an interrupted turn keeps exactly what the client saw.
type Egress struct {
	conn    Conn
	gen     *atomic.Uint64
	clock   func() float64
	queue   chan outbound
	logger  *zap.Logger
	metrics *metrics.Collector

	mu        sync.Mutex
	delivered map[uint64]*strings.Builder

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
	runDone   chan struct{}
}

// NewEgress creates the egress multiplexer. gen is the session's current
// generation, owned by the controller; clock yields monotonic session
// seconds for message timestamps.
func NewEgress(conn Conn, gen *atomic.Uint64, clock func() float64, buffer int, logger *zap.Logger, collector *metrics.Collector) *Egress {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Egress{
		conn:      conn,
		gen:       gen,
		clock:     clock,
		queue:     make(chan outbound, buffer),
		logger:    logger.With(zap.String("component", "egress")),
		metrics:   collector,
		delivered: make(map[uint64]*strings.Builder),
		done:      make(chan struct{}),
		runDone:   make(chan struct{}),
	}
}

// Enqueue queues a message for delivery, stamping its timestamp.
func (e *Egress) Enqueue(msg types.ServerMessage) error {
	return e.enqueue(outbound{msg: msg})
}

// EnqueueForced queues a message that must survive a generation bump.
func (e *Egress) EnqueueForced(msg types.ServerMessage) error {
	return e.enqueue(outbound{msg: msg, force: true})
}

func (e *Egress) enqueue(ob outbound) error {
	if e.closed.Load() {
		return fmt.Errorf("egress closed")
	}
	ob.msg.Timestamp = e.clock()

	select {
	case e.queue <- ob:
		e.metrics.SetEgressDepth(len(e.queue))
		return nil
	case <-e.done:
		return fmt.Errorf("egress closed")
	}
}

// Close stops intake. Run drains what was already queued, then returns.
func (e *Egress) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		close(e.queue)
	})
}

// DeliveredText returns the text chunks written to the client for a
// generation, concatenated in order.
func (e *Egress) DeliveredText(gen uint64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.delivered[gen]; ok {
		return b.String()
	}
	return ""
}

// Run writes queued messages until the queue closes or the context ends.
// It is the only goroutine that touches the connection's write side.
func (e *Egress) Run(ctx context.Context) {
	defer close(e.runDone)
	for {
		select {
		case <-ctx.Done():
			return
		case ob, ok := <-e.queue:
			if !ok {
				return
			}
			e.metrics.SetEgressDepth(len(e.queue))
			e.write(ctx, ob)
		}
	}
}

// Done is closed when Run has returned, with the queue drained or the
// context gone.
func (e *Egress) Done() <-chan struct{} {
	return e.runDone
}

func (e *Egress) write(ctx context.Context, ob outbound) {
	current := e.gen.Load()
	if !ob.force && ob.msg.Generation != 0 && ob.msg.Generation < current {
		e.metrics.RecordEgressDropped()
		e.logger.Debug("dropped stale message",
			zap.String("type", string(ob.msg.Type)),
			zap.Uint64("generation", ob.msg.Generation),
			zap.Uint64("current", current))
		return
	}

	data, err := json.Marshal(ob.msg)
	if err != nil {
		e.logger.Error("marshal server message", zap.Error(err))
		return
	}

	if err := e.conn.Write(ctx, websocket.MessageText, data); err != nil {
		e.logger.Debug("egress write failed", zap.Error(err))
		return
	}

	if ob.msg.Type == types.ServerTextChunk {
		e.recordDelivered(ob.msg.Generation, ob.msg.Text)
	}
}

func (e *Egress) recordDelivered(gen uint64, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.delivered[gen]
	if !ok {
		b = &strings.Builder{}
		e.delivered[gen] = b

		// Old generations can no longer be asked about.
		for g := range e.delivered {
			if g+2 <= gen {
				delete(e.delivered, g)
			}
		}
	}
	b.WriteString(text)
}
