package timing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	maxMessageSize = 1024 * 1024
	writeTimeout   = 5 * time.Second
)

// ErrUnknownChannel is returned by Hub.Serve for ids without an open
// channel.
var ErrUnknownChannel = errors.New("unknown channel")

// Hub hands out websocket-backed channels keyed by session id and attaches
// the embedded content's connection to them.
type Hub struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	channels map[string]*WSChannel
}

// NewHub creates an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log: log.WithField("component", "channel-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Inline content is loaded from a data: URI and has an opaque
			// origin; the session id in the path is the capability.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		channels: make(map[string]*WSChannel, 8),
	}
}

// Open registers a channel for id, closing any previous one.
func (h *Hub) Open(id string) *WSChannel {
	ch := &WSChannel{
		hub: h,
		id:  id,
		log: h.log.WithField("channel", id),
	}

	h.mu.Lock()
	prev := h.channels[id]
	h.channels[id] = ch
	h.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	return ch
}

// Lookup returns the open channel for id.
func (h *Hub) Lookup(id string) (*WSChannel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[id]

	return ch, ok
}

// Serve upgrades the request and pumps the connection into the channel
// registered for id until either side closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id string) error {
	ch, ok := h.Lookup(id)
	if !ok {
		return ErrUnknownChannel
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrading connection: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)

	if err := ch.attach(conn); err != nil {
		_ = conn.Close()

		return err
	}

	ch.readLoop(conn)

	return nil
}

// Len returns the number of open channels.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.channels)
}

// Close closes every open channel.
func (h *Hub) Close() {
	h.mu.Lock()
	open := make([]*WSChannel, 0, len(h.channels))

	for _, ch := range h.channels {
		open = append(open, ch)
	}
	h.mu.Unlock()

	for _, ch := range open {
		_ = ch.Close()
	}
}

func (h *Hub) remove(ch *WSChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[ch.id] == ch {
		delete(h.channels, ch.id)
	}
}

// WSChannel is a Channel whose content side is a websocket connection.
// A stop sent before the content connects is delivered on connect.
type WSChannel struct {
	gate

	hub *Hub
	id  string
	log logrus.FieldLogger

	connMu      sync.Mutex
	conn        *websocket.Conn
	pendingStop bool
}

var _ Channel = (*WSChannel)(nil)

// ID returns the session id the channel is registered under.
func (c *WSChannel) ID() string {
	return c.id
}

// Send implements Channel.
func (c *WSChannel) Send(ctx context.Context, in Instruction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.arm(); err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		c.pendingStop = true

		c.log.Debug("Content not connected, stop instruction queued")

		return nil
	}

	return c.write(in)
}

// OnMessage implements Channel.
func (c *WSChannel) OnMessage(fn func(Message)) {
	c.setHandler(fn)
}

// Close implements Channel.
func (c *WSChannel) Close() error {
	if !c.shut() {
		return nil
	}

	c.hub.remove(c)

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return nil
	}

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)

	err := c.conn.Close()
	c.conn = nil

	return err
}

func (c *WSChannel) attach(conn *websocket.Conn) error {
	if c.isClosed() {
		return ErrChannelClosed
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.log.Debug("Replacing existing content connection")

		_ = c.conn.Close()
	}

	c.conn = conn

	if c.pendingStop {
		c.pendingStop = false

		if err := c.write(Instruction{Type: InstructionStop}); err != nil {
			return err
		}
	}

	return nil
}

// write must be called with connMu held.
func (c *WSChannel) write(in Instruction) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding instruction: %w", err)
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing instruction: %w", err)
	}

	return nil
}

func (c *WSChannel) readLoop(conn *websocket.Conn) {
	defer func() {
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()

		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("Content connection closed")
			}

			return
		}

		msgType := gjson.GetBytes(data, "type").String()
		if msgType != MessagePayload {
			c.log.WithField("type", msgType).Debug("Ignoring unknown message")

			continue
		}

		msg := Message{Type: msgType, ReceivedAt: time.Now()}
		if payload := gjson.GetBytes(data, "data"); payload.Exists() {
			msg.Payload = json.RawMessage(payload.Raw)
		}

		if !c.deliver(msg) {
			c.log.Debug("Dropped payload without outstanding stop instruction")
		}
	}
}
