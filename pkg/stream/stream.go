// Package stream runs a websocket connection with automatic reconnect.
// Venue connectors plug in a Handler for subscription and message
// decoding; the worker owns dialing, read deadlines, pings, and the
// reconnect backoff. After every reconnect the handler is told about
// the gap so it can trigger a state resync.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler defines venue-specific logic for the Worker.
type Handler interface {
	URL() string
	// OnConnect runs after the dial succeeds, typically sending
	// subscription frames.
	OnConnect(ctx context.Context, conn *websocket.Conn) error
	OnMessage(ctx context.Context, msg []byte)
	// OnGap runs after every reconnect except the first connect. Push
	// events may have been lost while the connection was down.
	OnGap(ctx context.Context)
	ID() string
}

// Worker manages the lifecycle of a websocket connection: reconnect
// with backoff, read timeouts, and serialized writes.
type Worker struct {
	handler Handler
	log     *zap.SugaredLogger

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

func NewWorker(handler Handler, log *zap.SugaredLogger) *Worker {
	return &Worker{
		handler:      handler,
		log:          log.With("stream", handler.ID()),
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Start initiates the connection loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker and waits for the loop to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context) {
	defer w.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	connected := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			delay := bo.NextBackOff()
			w.log.Warnw("connect failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		bo.Reset()
		if connected {
			w.handler.OnGap(ctx)
		}
		connected = true
		w.process(ctx)
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.handler.URL(), http.Header{})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.handler.OnConnect(ctx, conn); err != nil {
		w.close()
		return fmt.Errorf("on connect: %w", err)
	}

	if w.PingInterval > 0 {
		go w.pingLoop(ctx)
	}

	w.log.Infow("stream connected")
	return nil
}

func (w *Worker) process(ctx context.Context) {
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		_ = c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warnw("read error", "error", err)
			}
			w.close()
			return
		}

		w.handler.OnMessage(ctx, msg)
	}
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			c := w.conn
			w.mu.RUnlock()
			if c == nil {
				return
			}
			if err := w.Write(websocket.PingMessage, nil); err != nil {
				w.log.Warnw("ping error", "error", err)
				w.close()
				return
			}
		}
	}
}

// Write sends one frame, serialized against concurrent writers.
func (w *Worker) Write(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("stream not connected")
	}

	return c.WriteMessage(msgType, data)
}

func (w *Worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
