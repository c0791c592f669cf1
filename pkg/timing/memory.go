package timing

import (
	"context"
	"encoding/json"
)

// MemoryChannel is an in-process Channel. The content side reads
// instructions from Instructions and answers with Post.
type MemoryChannel struct {
	gate
	instructions chan Instruction
}

var _ Channel = (*MemoryChannel)(nil)

// NewMemoryChannel creates an open in-process channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{instructions: make(chan Instruction, 1)}
}

// Send implements Channel. It never blocks on a slow reader: a second
// stop while one is still queued is coalesced.
func (c *MemoryChannel) Send(ctx context.Context, in Instruction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	c.armed = true

	select {
	case c.instructions <- in:
	default:
	}

	return nil
}

// OnMessage implements Channel.
func (c *MemoryChannel) OnMessage(fn func(Message)) {
	c.setHandler(fn)
}

// Close implements Channel.
func (c *MemoryChannel) Close() error {
	if c.shut() {
		close(c.instructions)
	}

	return nil
}

// Instructions is the content side's inbox. It is closed by Close.
func (c *MemoryChannel) Instructions() <-chan Instruction {
	return c.instructions
}

// Post sends a payload from the content side. It reports whether the
// controller accepted it.
func (c *MemoryChannel) Post(payload json.RawMessage) bool {
	return c.deliver(Message{Type: MessagePayload, Payload: payload})
}
