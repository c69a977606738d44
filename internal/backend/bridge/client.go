package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/impactsweep/internal/model"
)

// ErrClosed is returned for calls made after the connection to the kernel has
// failed or been closed.
var ErrClosed = errors.New("bridge closed")

// Client multiplexes requests to the kernel over one framed stream. Any number
// of goroutines may call concurrently. A single reader goroutine routes each
// result to the caller waiting on its ID; results for abandoned requests are
// logged and dropped so the stream stays in sync.
type Client struct {
	conn   io.ReadWriteCloser
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Message
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient starts reading from conn. The client owns conn and closes it on
// Close.
func NewClient(conn io.ReadWriteCloser, logger *slog.Logger) *Client {
	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends op with args and waits for its result, decoding it into result
// when result is non-nil. If ctx ends first, ctx's error is returned unchanged
// and the eventual response is discarded.
func (c *Client) Call(ctx context.Context, op string, args, result any) error {
	req := Request{ID: model.NewID(), Op: op}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("%s: marshal args: %w", op, err)
		}
		req.Args = raw
	}

	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer c.forget(req.ID)

	start := time.Now()
	c.writeMu.Lock()
	err := WriteMessage(c.conn, &req)
	c.writeMu.Unlock()
	if err != nil {
		requestsTotal.WithLabelValues(op, resultError).Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	select {
	case msg := <-ch:
		requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if msg.Error != nil {
			requestsTotal.WithLabelValues(op, resultError).Inc()
			return fmt.Errorf("%s: %w", op, msg.Error)
		}
		requestsTotal.WithLabelValues(op, resultOK).Inc()
		if result != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", op, err)
			}
		}
		return nil
	case <-ctx.Done():
		requestsTotal.WithLabelValues(op, resultCancelled).Inc()
		return ctx.Err()
	case <-c.done:
		requestsTotal.WithLabelValues(op, resultError).Inc()
		return fmt.Errorf("%s: %w", op, c.Err())
	}
}

// Err returns the error that ended the connection, or nil while it is healthy.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Pending calls return ErrClosed.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.fail(ErrClosed)
	return err
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for {
		var msg Message
		if err := ReadMessage(c.conn, &msg); err != nil {
			c.fail(fmt.Errorf("%w: %w", ErrClosed, err))
			return
		}

		switch msg.Type {
		case MsgTypeLog:
			c.logger.Debug("kernel", "line", msg.Line)
		case MsgTypeResult:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if !ok {
				lateResponses.Inc()
				c.logger.Debug("discarding late kernel response", "id", msg.ID)
				continue
			}
			ch <- msg
		default:
			c.logger.Warn("unknown kernel message type", "type", msg.Type)
		}
	}
}

// fail records the first terminal error and wakes every waiter.
func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}
