package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"domstyle-sync-server/internal/applier"
	"domstyle-sync-server/internal/domain"
	"domstyle-sync-server/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errCallTimeout = errors.New("page client did not answer in time")

// Client is one connected page. Its Session drives style application; the
// pending map correlates server-issued queries with the page's answers.
type Client struct {
	ID       string
	Hostname string
	Conn     *websocket.Conn
	Manager  *Manager
	Send     chan []byte

	Session *applier.Session

	mu      sync.Mutex
	page    domain.PageContext
	pending map[string]chan *Message
}

func NewClient(id string, page domain.PageContext, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:       id,
		Hostname: page.Hostname,
		Conn:     conn,
		Manager:  manager,
		Send:     make(chan []byte, 256),
		page:     page,
		pending:  make(map[string]chan *Message),
	}
}

func (c *Client) PageContext() domain.PageContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

func (c *Client) SetPageURL(url string) {
	c.mu.Lock()
	c.page.URL = url
	c.mu.Unlock()
}

// Push sends a one-way command to the page. A full send buffer drops the
// connection rather than blocking the caller.
func (c *Client) Push(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.Send <- data:
		return nil
	default:
		logger.Log.Warn("client send buffer full, closing connection",
			zap.String("client_id", c.ID))
		// Unregister is serviced by the manager loop, which may be the
		// goroutine calling Push. Hand off to avoid deadlocking on it.
		go func() { c.Manager.Unregister <- c }()
		return errors.New("send buffer full")
	}
}

// Call sends a query and waits for the page's correlated result.
func (c *Client) Call(ctx context.Context, msgType MessageType, payload interface{}) (*Message, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.RequestID = uuid.New().String()

	ch := make(chan *Message, 1)
	c.mu.Lock()
	c.pending[msg.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}()

	if err := c.Push(msg); err != nil {
		return nil, err
	}

	timeout := time.NewTimer(c.Manager.callTimeout)
	defer timeout.Stop()

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, errCallTimeout
	}
}

func (c *Client) resolve(msg *Message) bool {
	c.mu.Lock()
	ch, ok := c.pending[msg.RequestID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- msg:
	default:
	}
	return true
}

func (c *Client) ReadPump() {
	defer func() {
		c.Manager.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		c.Manager.HandleMessage <- &ClientMessage{
			Client:  c,
			Message: message,
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
