package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// RequestHandler serves one inbound method. The returned result is encoded
// into the response; a returned *jsonrpc2.Error is sent as-is, any other
// error becomes an internal error on the wire.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler consumes one inbound notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// Dispatcher routes inbound envelopes to registered handlers. Requests fan
// out across the worker pool; notifications for a given connection drain
// through a serial lane so document edits apply in client order.
type Dispatcher struct {
	mu            sync.RWMutex
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler

	lanesMu sync.Mutex
	lanes   map[uuid.UUID]*lane

	pool   *pool
	logger *zap.SugaredLogger
	stats  tally.Scope
}

// NewDispatcher returns a dispatcher backed by workers goroutines. A zero or
// negative count falls back to the default pool size.
func NewDispatcher(workers int, logger *zap.SugaredLogger, stats tally.Scope) *Dispatcher {
	return &Dispatcher{
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		lanes:         make(map[uuid.UUID]*lane),
		pool:          newPool(workers),
		logger:        logger,
		stats:         stats.SubScope("dispatcher"),
	}
}

// RegisterRequest binds a request method to its handler. Registering a
// method twice replaces the earlier handler.
func (d *Dispatcher) RegisterRequest(method string, h RequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests[method] = h
}

// RegisterNotification binds a notification method to its handler.
func (d *Dispatcher) RegisterNotification(method string, h NotificationHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications[method] = h
}

// Dispatch routes one inbound envelope. It satisfies the Handler signature
// so it can be passed directly to Conn.Go.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Conn, msg *Message) {
	switch {
	case msg.IsRequest():
		d.dispatchRequest(ctx, conn, msg)
	case msg.IsNotification():
		d.dispatchNotification(ctx, conn, msg)
	}
}

func (d *Dispatcher) dispatchRequest(ctx context.Context, conn *Conn, msg *Message) {
	d.mu.RLock()
	h, ok := d.requests[msg.Method]
	d.mu.RUnlock()

	if !ok {
		d.stats.Counter("method_not_found").Inc(1)
		d.replyOrLog(ctx, conn, msg, nil, jsonrpc2.NewError(jsonrpc2.MethodNotFound, fmt.Sprintf("method %q not found", msg.Method)))
		return
	}

	d.stats.Counter("requests").Inc(1)
	d.pool.submit(func() {
		defer d.recoverPanic(ctx, conn, msg)
		result, err := h(ctx, msg.Params)
		d.replyOrLog(ctx, conn, msg, result, err)
	})
}

func (d *Dispatcher) dispatchNotification(ctx context.Context, conn *Conn, msg *Message) {
	d.mu.RLock()
	h, ok := d.notifications[msg.Method]
	d.mu.RUnlock()

	if !ok {
		// Notifications cannot be answered, so an unknown one is dropped.
		d.logger.Debugw("ignoring unknown notification", "method", msg.Method)
		return
	}

	d.stats.Counter("notifications").Inc(1)
	d.submitOrdered(conn.UUID(), func() {
		defer d.recoverPanic(ctx, conn, msg)
		if err := h(ctx, msg.Params); err != nil {
			d.logger.Errorw("notification handler failed", "method", msg.Method, "error", err)
		}
	})
}

func (d *Dispatcher) replyOrLog(ctx context.Context, conn *Conn, msg *Message, result interface{}, err error) {
	if replyErr := conn.Reply(ctx, msg.ID, result, err); replyErr != nil {
		d.logger.Errorw("failed to send response", "method", msg.Method, "error", replyErr)
	}
}

func (d *Dispatcher) recoverPanic(ctx context.Context, conn *Conn, msg *Message) {
	r := recover()
	if r == nil {
		return
	}
	d.stats.Counter("handler_panics").Inc(1)
	d.logger.Errorw("handler panic",
		"method", msg.Method,
		"panic", r,
		"stack", string(debug.Stack()),
	)
	if msg.IsRequest() {
		d.replyOrLog(ctx, conn, msg, nil, jsonrpc2.NewError(jsonrpc2.InternalError, fmt.Sprintf("method %q panicked", msg.Method)))
	}
}

// ReleaseConnection drops the serial lane retained for a closed connection.
func (d *Dispatcher) ReleaseConnection(id uuid.UUID) {
	d.lanesMu.Lock()
	defer d.lanesMu.Unlock()
	delete(d.lanes, id)
}

// Close stops the worker pool. In-flight handlers finish, queued tasks that
// no worker picked up are dropped.
func (d *Dispatcher) Close() {
	d.pool.stop()
}

// lane chains tasks for one connection so they run one at a time in
// submission order, while still executing on pool workers.
type lane struct {
	mu      sync.Mutex
	busy    bool
	backlog []func()
}

func (d *Dispatcher) submitOrdered(id uuid.UUID, task func()) {
	d.lanesMu.Lock()
	q, ok := d.lanes[id]
	if !ok {
		q = &lane{}
		d.lanes[id] = q
	}
	d.lanesMu.Unlock()

	q.mu.Lock()
	if q.busy {
		q.backlog = append(q.backlog, task)
		q.mu.Unlock()
		return
	}
	q.busy = true
	q.mu.Unlock()

	d.pool.submit(func() { drain(q, task) })
}

func drain(q *lane, task func()) {
	for {
		task()
		q.mu.Lock()
		if len(q.backlog) == 0 {
			q.busy = false
			q.mu.Unlock()
			return
		}
		task = q.backlog[0]
		q.backlog = q.backlog[1:]
		q.mu.Unlock()
	}
}
