package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/internal/wire"
	segjson "github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Kind identifies the transport a connection arrived on.
type Kind string

const (
	// KindTCP marks connections accepted from the loopback TCP listener.
	KindTCP Kind = "tcp"
	// KindUnix marks connections accepted from the unix domain socket.
	KindUnix Kind = "unix"
)

// DefaultCallTimeout bounds outbound requests whose context carries no deadline.
const DefaultCallTimeout = 30 * time.Second

// Handler consumes inbound requests and notifications for a connection.
// Responses to outbound calls are resolved internally and never reach it.
type Handler func(ctx context.Context, conn *Conn, msg *Message)

// Conn wraps a single framed byte stream. Reads happen on one loop goroutine,
// writes are serialized by a mutex so frames never interleave.
type Conn struct {
	id     uuid.UUID
	kind   Kind
	rwc    io.ReadWriteCloser
	in     *wire.Reader
	logger *zap.SugaredLogger

	writeMu sync.Mutex

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[string]chan *Message

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewConn wraps rwc in a connection. The caller owns rwc's lifetime through
// Close; the read loop does not start until Go is called.
func NewConn(rwc io.ReadWriteCloser, kind Kind, logger *zap.SugaredLogger) *Conn {
	return &Conn{
		id:      uuid.Must(uuid.NewV4()),
		kind:    kind,
		rwc:     rwc,
		in:      wire.NewReader(rwc),
		logger:  logger,
		pending: make(map[string]chan *Message),
		done:    make(chan struct{}),
	}
}

// UUID returns the connection's identity.
func (c *Conn) UUID() uuid.UUID {
	return c.id
}

// Kind returns the transport the connection arrived on.
func (c *Conn) Kind() Kind {
	return c.kind
}

// Done is closed once the connection has fully shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that terminated the read loop, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close tears the connection down. It is safe to call multiple times and
// concurrently with the read loop.
func (c *Conn) Close() error {
	return c.close(nil)
}

func (c *Conn) close(cause error) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		closeErr = c.rwc.Close()
		close(c.done)

		// Wake every in-flight outbound call.
		c.pendingMu.Lock()
		for key, ch := range c.pending {
			close(ch)
			delete(c.pending, key)
		}
		c.pendingMu.Unlock()
	})
	return closeErr
}

// Go starts the read loop in its own goroutine, routing inbound requests and
// notifications to h. A framing error is terminal and closes the connection;
// an undecodable payload is answered with a parse error and skipped, since
// the frame boundary is still intact.
func (c *Conn) Go(ctx context.Context, h Handler) {
	go func() {
		for {
			payload, err := c.in.Read()
			if err != nil {
				c.close(err)
				return
			}

			msg, err := DecodeMessage(payload)
			if err != nil {
				c.logger.Warnw("dropping undecodable payload", "error", err)
				if replyErr := c.Reply(ctx, json.RawMessage("null"), nil, jsonrpc2.NewError(jsonrpc2.ParseError, err.Error())); replyErr != nil {
					c.close(replyErr)
					return
				}
				continue
			}

			if msg.IsResponse() {
				c.resolve(msg)
				continue
			}
			h(ctx, c, msg)
		}
	}()
}

// Notify sends a notification and returns once it is written to the stream.
func (c *Conn) Notify(ctx context.Context, method string, params interface{}) error {
	raw, err := marshalRaw(params)
	if err != nil {
		return fmt.Errorf("notify %q: %w", method, err)
	}
	return c.write(&Message{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	})
}

// Call sends a request and blocks until the matching response arrives, the
// context expires, or the connection closes. A context without a deadline is
// capped at DefaultCallTimeout. A non-nil result is populated from the
// response's result field.
func (c *Conn) Call(ctx context.Context, method string, params, result interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	raw, err := marshalRaw(params)
	if err != nil {
		return fmt.Errorf("call %q: %w", method, err)
	}

	id := c.nextID.Inc()
	key := strconv.FormatInt(id, 10)
	ch := make(chan *Message, 1)

	c.pendingMu.Lock()
	c.pending[key] = ch
	c.pendingMu.Unlock()

	if err := c.write(&Message{
		JSONRPC: Version,
		ID:      json.RawMessage(key),
		Method:  method,
		Params:  raw,
	}); err != nil {
		c.forget(key)
		return fmt.Errorf("call %q: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("call %q: connection closed", method)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := segjson.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("call %q: decoding result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(key)
		return fmt.Errorf("call %q: %w", method, ctx.Err())
	case <-c.done:
		c.forget(key)
		return fmt.Errorf("call %q: connection closed", method)
	}
}

// Reply answers an inbound request. Exactly one of result and replyErr is
// encoded; a nil result still produces an explicit null per JSON-RPC 2.0.
func (c *Conn) Reply(ctx context.Context, id json.RawMessage, result interface{}, replyErr error) error {
	msg := &Message{
		JSONRPC: Version,
		ID:      id,
	}
	if replyErr != nil {
		msg.Error = toWireError(replyErr)
	} else {
		raw, err := marshalRaw(result)
		if err != nil {
			return fmt.Errorf("encoding reply: %w", err)
		}
		if raw == nil {
			raw = json.RawMessage("null")
		}
		msg.Result = raw
	}
	return c.write(msg)
}

func (c *Conn) write(msg *Message) error {
	data, err := segjson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}
	return wire.Write(c.rwc, data)
}

// resolve hands a response to the call waiting on its id. A response with no
// pending call is logged and dropped.
func (c *Conn) resolve(msg *Message) {
	key := string(msg.ID)
	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warnw("response with no pending request", "id", key)
		return
	}
	ch <- msg
}

func (c *Conn) forget(key string) {
	c.pendingMu.Lock()
	delete(c.pending, key)
	c.pendingMu.Unlock()
}

func marshalRaw(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := segjson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func toWireError(err error) *jsonrpc2.Error {
	var wireErr *jsonrpc2.Error
	if errors.As(err, &wireErr) {
		return wireErr
	}
	errors.As(jsonrpc2.NewError(jsonrpc2.InternalError, err.Error()), &wireErr)
	return wireErr
}
