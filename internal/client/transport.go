// Package client implements the client side of the messaging core: the
// socket transport with reconnect and offline queueing, the
// delivery-state store reconciling optimistic sends against server
// echoes, and the typing-indicator throttle.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"

	"github.com/gorilla/websocket"
)

// ErrQueueFull is returned by Send when the offline queue is at
// capacity. The queue is bounded; overflow rejects the new send so the
// caller can mark the message failed instead of growing without limit.
var ErrQueueFull = errors.New("client: outbound queue full")

// FrameHandler receives inbound frames of a registered type.
type FrameHandler func(frame models.Frame)

type Options struct {
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	MaxPendingSends   int
	HeartbeatInterval time.Duration
}

type pendingSend struct {
	frame   models.Frame
	confirm func(error)
}

// Transport owns one logical connection. While disconnected it queues
// outbound sends in order and reconnects with exponential backoff;
// after the identify round-trip confirms the new connection, the queue
// flushes in original order and the heartbeat resumes.
type Transport struct {
	url    string
	opts   Options
	dialer *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	established bool
	pending     []pendingSend

	writeMu sync.Mutex

	listenerMu sync.RWMutex
	listeners  map[models.FrameType][]FrameHandler

	closeOnce sync.Once
	done      chan struct{}
}

func NewTransport(url string, opts Options) *Transport {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.MaxPendingSends <= 0 {
		opts.MaxPendingSends = 256
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	return &Transport{
		url:       url,
		opts:      opts,
		dialer:    websocket.DefaultDialer,
		listeners: make(map[models.FrameType][]FrameHandler),
		done:      make(chan struct{}),
	}
}

// OnFrame registers a listener for inbound frames of the given type.
// Registration must happen before Run.
func (t *Transport) OnFrame(frameType models.FrameType, handler FrameHandler) {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	t.listeners[frameType] = append(t.listeners[frameType], handler)
}

// Connected reports whether the identify round-trip has confirmed the
// current connection. Drives the UI's offline indicator.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.established
}

// Run drives the reconnect loop until the context is cancelled or the
// transport is closed. Blocks.
func (t *Transport) Run(ctx context.Context) {
	backoff := t.opts.MinBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
		if err != nil {
			logger.Debug("Dial failed, retrying in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > t.opts.MaxBackoff {
				backoff = t.opts.MaxBackoff
			}
			continue
		}

		backoff = t.opts.MinBackoff
		t.runConnection(ctx, conn)
	}
}

// runConnection serves a single live connection until it dies.
func (t *Transport) runConnection(ctx context.Context, conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.established = false
	t.mu.Unlock()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	// Liveness probe: the server answers connection_established, which
	// marks the connection usable and triggers the queue flush.
	identify, _ := models.NewFrame(models.FrameIdentify, nil)
	if err := t.writeFrame(conn, identify); err != nil {
		conn.Close()
		return
	}

	defer func() {
		t.mu.Lock()
		t.established = false
		t.conn = nil
		t.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				logger.Debug("Connection lost: %v", err)
			}
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warn("Dropping malformed inbound frame: %v", err)
			continue
		}

		if frame.Type == models.FrameConnectionEstablished && !t.Connected() {
			t.mu.Lock()
			t.established = true
			t.mu.Unlock()
			t.flushPending(conn)
			go t.heartbeatLoop(hbCtx, conn)
		}

		t.dispatch(frame)
	}
}

func (t *Transport) dispatch(frame models.Frame) {
	t.listenerMu.RLock()
	handlers := t.listeners[frame.Type]
	t.listenerMu.RUnlock()
	for _, handler := range handlers {
		handler(frame)
	}
}

// Send writes the frame now if the connection is confirmed, otherwise
// queues it. The confirm callback fires with nil once the frame reaches
// the wire; queued frames confirm when the flush writes them. Returns
// ErrQueueFull when the bounded queue rejects the send.
func (t *Transport) Send(frame models.Frame, confirm func(error)) error {
	t.mu.Lock()
	if !t.established || t.conn == nil {
		if len(t.pending) >= t.opts.MaxPendingSends {
			t.mu.Unlock()
			return ErrQueueFull
		}
		t.pending = append(t.pending, pendingSend{frame: frame, confirm: confirm})
		t.mu.Unlock()
		return nil
	}
	conn := t.conn
	t.mu.Unlock()

	if err := t.writeFrame(conn, frame); err != nil {
		// The connection just died under us: requeue and let the
		// reconnect loop deliver it in order. The bound still applies.
		t.mu.Lock()
		t.established = false
		if len(t.pending) >= t.opts.MaxPendingSends {
			t.mu.Unlock()
			conn.Close()
			return ErrQueueFull
		}
		t.pending = append(t.pending, pendingSend{frame: frame, confirm: confirm})
		t.mu.Unlock()
		conn.Close()
		return nil
	}
	if confirm != nil {
		confirm(nil)
	}
	return nil
}

// flushPending drains the queue in original order.
func (t *Transport) flushPending(conn *websocket.Conn) {
	t.mu.Lock()
	queued := t.pending
	t.pending = nil
	t.mu.Unlock()

	for i, send := range queued {
		if err := t.writeFrame(conn, send.frame); err != nil {
			// Put the unwritten tail back, preserving order. Requeueing
			// must not exceed the bound: the newest sends past capacity
			// are rejected through their confirm callback.
			t.mu.Lock()
			t.established = false
			requeued := append(queued[i:], t.pending...)
			var overflow []pendingSend
			if len(requeued) > t.opts.MaxPendingSends {
				overflow = requeued[t.opts.MaxPendingSends:]
				requeued = requeued[:t.opts.MaxPendingSends]
			}
			t.pending = requeued
			t.mu.Unlock()

			for _, dropped := range overflow {
				if dropped.confirm != nil {
					dropped.confirm(ErrQueueFull)
				}
			}
			conn.Close()
			return
		}
		if send.confirm != nil {
			send.confirm(nil)
		}
	}
}

func (t *Transport) writeFrame(conn *websocket.Conn, frame models.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// heartbeatLoop keeps identify probes flowing on the confirmed
// connection. Cancelled on disconnect, resumed after the next
// connection is confirmed.
func (t *Transport) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()

	identify, _ := models.NewFrame(models.FrameIdentify, nil)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.writeFrame(conn, identify); err != nil {
				return
			}
		}
	}
}

// Close shuts the transport down for good; no reconnect follows.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}
