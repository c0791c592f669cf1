package timing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrChannelClosed is returned when sending on a closed channel.
var ErrChannelClosed = errors.New("channel closed")

// InstructionStop asks the content to finish and report its measurement.
const InstructionStop = "stop"

// MessagePayload is the only message kind content sends.
const MessagePayload = "payload"

// Instruction is a controller to content message.
type Instruction struct {
	Type string `json:"type"`
}

// Message is a content to controller message.
type Message struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

// Channel is the controller's end of the link to embedded content.
// Delivery is asynchronous and unordered. After Close no handler fires and
// Send fails with ErrChannelClosed. At most one payload is delivered per
// stop instruction; payloads posted before a stop are dropped.
type Channel interface {
	Send(ctx context.Context, in Instruction) error
	OnMessage(fn func(Message))
	Close() error
}

// gate holds the delivery rules shared by channel implementations.
type gate struct {
	mu      sync.Mutex
	handler func(Message)
	armed   bool
	closed  bool
}

func (g *gate) setHandler(fn func(Message)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.handler = fn
}

func (g *gate) arm() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrChannelClosed
	}

	g.armed = true

	return nil
}

// deliver hands msg to the handler if a stop is outstanding. It reports
// whether the message was accepted.
func (g *gate) deliver(msg Message) bool {
	g.mu.Lock()

	if g.closed || !g.armed || g.handler == nil || msg.Type != MessagePayload {
		g.mu.Unlock()

		return false
	}

	g.armed = false
	fn := g.handler
	g.mu.Unlock()

	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	fn(msg)

	return true
}

// shut marks the gate closed and reports whether this call closed it.
func (g *gate) shut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}

	g.closed = true
	g.handler = nil

	return true
}

func (g *gate) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.closed
}
