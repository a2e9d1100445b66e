package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perp_go/internal/infra"
)

// StreamHandler supplies the venue-specific half of a streaming
// connection: where to dial, how to resubscribe, what a heartbeat looks
// like, and what to do with data frames.
type StreamHandler interface {
	URL() string
	ID() string

	// OnConnect runs after every (re)connect, before queued messages are
	// flushed. Subscriptions belong here.
	OnConnect(ctx context.Context, conn *websocket.Conn) error

	// OnMessage receives every non-heartbeat frame.
	OnMessage(ctx context.Context, msg []byte)

	// Heartbeat returns the keepalive payload to send periodically.
	Heartbeat() []byte

	// IsHeartbeatAck reports whether a frame acknowledges a heartbeat.
	IsHeartbeatAck(msg []byte) bool
}

// StreamWorker keeps one long-lived exchange stream alive: it
// reconnects with increasing backoff, sends periodic heartbeats,
// forces a reconnect when acks stop arriving, and queues outbound
// messages while disconnected, flushing them in order on reconnect.
type StreamWorker struct {
	handler StreamHandler

	mu      sync.RWMutex
	conn    *websocket.Conn
	lastAck time.Time

	writeMu sync.Mutex
	pending [][]byte // outbound, ordered, waiting for a connection

	cancel context.CancelFunc
	wg     sync.WaitGroup

	ReadTimeout       time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration // no ack for this long forces a reconnect
}

// NewStreamWorker creates a worker for the handler's stream.
func NewStreamWorker(handler StreamHandler) *StreamWorker {
	return &StreamWorker{
		handler:           handler,
		ReadTimeout:       60 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		StaleAfter:        60 * time.Second,
	}
}

// Start launches the connection loop.
func (w *StreamWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop tears the worker down and waits for its goroutines.
func (w *StreamWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

// Send writes a message to the venue, or queues it in order if the
// connection is down. Queued messages are flushed on reconnect.
func (w *StreamWorker) Send(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		w.pending = append(w.pending, data)
		slog.Debug("stream disconnected, message queued",
			slog.String("id", w.handler.ID()), slog.Int("queued", len(w.pending)))
		return nil
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func (w *StreamWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("stream connect failed",
				slog.String("id", w.handler.ID()), slog.Any("err", err), slog.Int("retry", retry))
			delay := infra.ReconnectBackoff(retry)
			retry++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		w.readLoop(ctx)
	}
}

func (w *StreamWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.handler.URL(), nil)
	if err != nil {
		return err
	}

	// The subscribe frame and the queue flush must finish before the
	// conn becomes visible to Send: gorilla allows one writer at a
	// time, so these writes happen under writeMu with w.conn still
	// nil, and concurrent Send calls keep queueing until we are done.
	w.writeMu.Lock()
	if err := w.handler.OnConnect(ctx, conn); err != nil {
		w.writeMu.Unlock()
		conn.Close()
		return fmt.Errorf("OnConnect: %w", err)
	}
	if err := w.flushPendingLocked(conn); err != nil {
		w.writeMu.Unlock()
		conn.Close()
		return fmt.Errorf("flush queue: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.lastAck = time.Now()
	w.mu.Unlock()
	w.writeMu.Unlock()

	hbCtx, hbCancel := context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer hbCancel()
		w.heartbeatLoop(hbCtx)
	}()

	slog.Info("stream connected", slog.String("id", w.handler.ID()))
	return nil
}

// flushPendingLocked drains the outbound queue in arrival order.
// Caller holds writeMu.
func (w *StreamWorker) flushPendingLocked(conn *websocket.Conn) error {
	for len(w.pending) > 0 {
		msg := w.pending[0]
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return err
		}
		w.pending = w.pending[1:]
	}
	return nil
}

func (w *StreamWorker) readLoop(ctx context.Context) {
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("stream read error", slog.String("id", w.handler.ID()), slog.Any("err", err))
			w.close()
			return
		}

		if w.handler.IsHeartbeatAck(msg) {
			w.mu.Lock()
			w.lastAck = time.Now()
			w.mu.Unlock()
			continue
		}
		w.handler.OnMessage(ctx, msg)
	}
}

func (w *StreamWorker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			c := w.conn
			stale := time.Since(w.lastAck) > w.StaleAfter
			w.mu.RUnlock()
			if c == nil {
				return
			}
			if stale {
				// The venue stopped answering. Drop the connection and
				// let the run loop rebuild it.
				slog.Warn("stream stale, forcing reconnect", slog.String("id", w.handler.ID()))
				w.close()
				return
			}

			w.writeMu.Lock()
			err := c.WriteMessage(websocket.TextMessage, w.handler.Heartbeat())
			w.writeMu.Unlock()
			if err != nil {
				slog.Warn("heartbeat write failed", slog.String("id", w.handler.ID()), slog.Any("err", err))
				w.close()
				return
			}
		}
	}
}

func (w *StreamWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
