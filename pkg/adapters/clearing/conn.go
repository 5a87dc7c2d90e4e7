package clearing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/domain"
)

// Reconnect backoff bounds.
const (
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 30 * time.Second
)

// Conn owns one duplex connection to the clearing service for a single
// identity. Every request carries a correlation id; a single reader
// goroutine dispatches responses to the matching pending call. There is no
// package-level shared state: connections are created, injected, and torn
// down explicitly.
type Conn struct {
	url    string
	logger *zap.Logger

	// onReconnect re-establishes authenticated state after the transport
	// comes back. Set before Connect.
	onReconnect func(ctx context.Context) error

	mu           sync.Mutex
	ws           *websocket.Conn
	pending      map[uint64]chan *Message
	nextID       uint64
	want         bool
	reconnecting bool

	writeMu sync.Mutex
}

// NewConn creates a connection manager for one endpoint.
func NewConn(url string, logger *zap.Logger) *Conn {
	return &Conn{
		url:     url,
		logger:  logger,
		pending: make(map[uint64]chan *Message),
	}
}

// SetReconnectHook installs the callback run after every successful
// re-dial, before pending traffic resumes. Must be set before Connect.
func (c *Conn) SetReconnectHook(hook func(ctx context.Context) error) {
	c.onReconnect = hook
}

// Connect dials the service and starts the reader.
func (c *Conn) Connect(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial clearing service: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.want = true
	c.mu.Unlock()

	go c.readLoop(ws)

	c.logger.Info("clearing connection established", zap.String("url", c.url))
	return nil
}

// Close tears the connection down and stops reconnecting.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.want = false
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.failPending()

	if ws != nil {
		return ws.Close()
	}
	return nil
}

// NextID returns a fresh correlation id.
func (c *Conn) NextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// Call sends a request and blocks until the matching response arrives, the
// timeout fires, or the context is cancelled. A service "error" response
// aborts the call with a ProtocolError.
func (c *Conn) Call(ctx context.Context, msg *Message, timeout time.Duration) (*Frame, error) {
	if msg.Req == nil {
		return nil, fmt.Errorf("call requires a request frame")
	}

	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.ws == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("not connected")
	}
	c.pending[msg.Req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Req.ID)
		c.mu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp == nil || resp.Res == nil {
			return nil, &domain.ProtocolError{Method: msg.Req.Method, Reason: "connection lost before response"}
		}
		if err := ResultError(resp.Res); err != nil {
			return nil, err
		}
		return resp.Res, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s timed out after %s", msg.Req.Method, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) write(msg *Message) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write %s: %w", msg.Req.Method, err)
	}
	return nil
}

// readLoop is the single owner of inbound traffic for one transport
// session. On failure it fails all pending calls and, while the identity
// intends to stay connected, reconnects with exponential backoff.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			stale := c.ws != ws
			if !stale {
				c.ws = nil
			}
			spawn := !stale && c.want && !c.reconnecting
			if spawn {
				c.reconnecting = true
			}
			c.mu.Unlock()
			if stale {
				return
			}

			c.logger.Warn("clearing connection lost", zap.Error(err))
			c.failPending()

			if spawn {
				go c.reconnect()
			}
			return
		}

		if msg.Res == nil {
			c.logger.Warn("dropping frame without response", zap.Any("message", msg))
			continue
		}

		// Claim the entry before sending so a concurrent failPending can
		// never close a channel this loop is about to deliver on.
		c.mu.Lock()
		ch, ok := c.pending[msg.Res.ID]
		if ok {
			delete(c.pending, msg.Res.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response with no pending call",
				zap.Uint64("id", msg.Res.ID),
				zap.String("method", msg.Res.Method))
			continue
		}
		ch <- &msg
	}
}

// reconnect is the single re-dial loop for the connection. At most one runs
// at a time; readLoop only spawns it when no loop is already active.
func (c *Conn) reconnect() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	delay := reconnectInitialDelay
	for {
		c.mu.Lock()
		want := c.want
		c.mu.Unlock()
		if !want {
			return
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), reconnectMaxDelay)
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		cancel()
		if err != nil {
			c.logger.Warn("reconnect failed",
				zap.Duration("next_delay", delay),
				zap.Error(err))
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()

		go c.readLoop(ws)

		if c.onReconnect != nil {
			ctx, cancel := context.WithTimeout(context.Background(), defaultAuthTimeout)
			err := c.onReconnect(ctx)
			cancel()
			if err != nil {
				c.logger.Error("re-authentication after reconnect failed", zap.Error(err))
				// Detach the transport first so its reader sees a stale
				// connection and exits instead of starting another loop.
				c.mu.Lock()
				if c.ws == ws {
					c.ws = nil
				}
				c.mu.Unlock()
				_ = ws.Close()
				delay *= 2
				if delay > reconnectMaxDelay {
					delay = reconnectMaxDelay
				}
				continue
			}
		}

		c.logger.Info("clearing connection re-established")
		return
	}
}

// failPending aborts every in-flight call. Receivers observe the closed
// channel and report the connection loss.
func (c *Conn) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan *Message)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}
