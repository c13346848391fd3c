package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// Client sends Messages over the WebSocket channel and matches replies to
// requests by id.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage
	closed    bool

	done chan struct{}
}

// Dial connects to a WSHandler endpoint such as ws://127.0.0.1:8189/api/v1/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("relay: dial: %w", err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan json.RawMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			slog.Debug("relay client read loop exit", "error", err)
			c.closeAllPending()
			return
		}
		id, err := replyID(data)
		if err != nil || id == "" {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- json.RawMessage(data)
		}
	}
}

func (c *Client) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) deletePending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// Send delivers msg under a fresh id and waits for the matching reply.
func (c *Client) Send(ctx context.Context, msg Message) (json.RawMessage, error) {
	msg.ID = uuid.NewString()

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("relay: connection closed")
	}
	c.pending[msg.ID] = ch
	c.pendingMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		c.deletePending(msg.ID)
		return nil, fmt.Errorf("relay: marshal: %w", err)
	}

	c.writeMu.Lock()
	err = wsutil.WriteClientText(c.conn, data)
	c.writeMu.Unlock()
	if err != nil {
		c.deletePending(msg.ID)
		return nil, fmt.Errorf("relay: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("relay: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		c.deletePending(msg.ID)
		return nil, ctx.Err()
	}
}

// Call sends msg and decodes the reply into out.
func (c *Client) Call(ctx context.Context, msg Message, out any) error {
	raw, err := c.Send(ctx, msg)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("relay: decode reply: %w", err)
	}
	return nil
}

// Close shuts the connection and fails every outstanding Send.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
