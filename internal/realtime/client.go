package realtime

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/termstack/internal/shared/id"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	outboundBufferSize = 256
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
)

// Client is one websocket connection and the topics it observes
type Client struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	send   chan []byte
	mu     sync.RWMutex
	topics map[string]struct{}
	closed bool
}

// NewClient wraps conn. A nil conn is accepted for in-process observers.
func NewClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cid := id.NewConnID().String()
	return &Client{
		id:     cid,
		conn:   conn,
		logger: logger.With(zap.String("conn", cid)),
		send:   make(chan []byte, outboundBufferSize),
		topics: make(map[string]struct{}),
	}
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// Send encodes msg and queues it
func (c *Client) Send(msg types.Outbound) bool {
	data, err := sonic.Marshal(msg)
	if err != nil {
		c.logger.Warn("Failed to encode event", zap.String("event", msg.Event), zap.Error(err))
		return true
	}
	return c.Queue(data)
}

// Queue buffers an encoded frame. It reports false when the client is
// closed or too slow to keep up.
func (c *Client) Queue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// WriteLoop drains the queue into the socket and keeps the peer alive with
// pings. It returns when the client is closed or a write fails.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("Write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadLoop delivers inbound frames to handle until the peer goes away
func (c *Client) ReadLoop(handle func(frame []byte)) error {
	c.conn.SetReadLimit(utils.MaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return err
			}
			return nil
		}
		handle(frame)
	}
}

// Close stops the write loop. Queue is a no-op afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Subscribe adds topics
func (c *Client) Subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		c.topics[topic] = struct{}{}
	}
}

// Unsubscribe removes topics
func (c *Client) Unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.topics, topic)
	}
}

// IsSubscribed reports whether the client observes topic
func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}
