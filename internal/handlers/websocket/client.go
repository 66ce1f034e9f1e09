package websocket

import (
	"sync"
	"time"

	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
)

// Client is one live connection. It is a bidding.Member: rooms hand it
// messages through Deliver and never block on it.
type Client struct {
	id          string
	Identity    types.Identity
	Conn        *websocket.Conn
	send        chan []byte   // Channel for outgoing messages
	RateLimiter *rate.Limiter // Rate limiter to prevent spamming
	logger      *log.Logger

	pingInterval   time.Duration
	maxMessageSize int64

	closed bool       // Flag to check if the connection is closed
	mu     sync.Mutex // Mutex to protect the closed flag
}

func NewClient(conn *websocket.Conn, identity types.Identity, opts Options) *Client {
	id := uuid.NewString()
	return &Client{
		id:             id,
		Identity:       identity,
		Conn:           conn,
		send:           make(chan []byte, sendBuffer),
		RateLimiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		logger:         log.WithPrefix("ws").With("conn", id, "account", identity.AccountID),
		pingInterval:   opts.PingInterval,
		maxMessageSize: int64(opts.MaxMessageSize),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) AccountID() string { return c.Identity.AccountID }

// Deliver queues msg for the write pump. A full buffer or a closed client
// drops the message.
func (c *Client) Deliver(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ReadMessages listens for incoming messages until the connection fails.
func (c *Client) ReadMessages(handleMessage func(*Client, []byte)) {
	defer func() {
		c.Disconnect()
		c.logger.Debug("connection closed")
	}()

	if c.maxMessageSize > 0 {
		c.Conn.SetReadLimit(c.maxMessageSize)
	}
	pongWait := c.pingInterval * 2
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("error reading message", "err", err)
			}
			return
		}
		handleMessage(c, message)
	}
}

// WriteMessages is the only writer on the connection. It sends queued
// messages and keeps the connection alive with pings.
func (c *Client) WriteMessages() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("error sending message", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Disconnect stops the write pump. It is safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}
