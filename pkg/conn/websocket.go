package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// WebSocketChannel carries one message per text frame
type WebSocketChannel struct {
	conn *websocket.Conn
	opts options

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketChannel wraps an upgraded or dialed websocket connection
func NewWebSocketChannel(c *websocket.Conn, opts ...Option) *WebSocketChannel {
	c.SetReadLimit(512)
	return &WebSocketChannel{
		conn: c,
		opts: buildOptions(opts),
	}
}

// Send writes a single text frame
func (w *WebSocketChannel) Send(msg string) error {
	if w.closed.Load() {
		return ErrClosed
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.opts.writeTimeout > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(w.opts.writeTimeout))
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		if w.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Receive returns the next text frame. Binary frames are skipped.
func (w *WebSocketChannel) Receive() (string, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			if w.closed.Load() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return "", io.EOF
			}
			return "", fmt.Errorf("receive: %w", err)
		}
		if kind == websocket.TextMessage {
			return string(data), nil
		}
	}
}

// Close sends a close frame and releases the connection once
func (w *WebSocketChannel) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)

		// Skip the close frame if a writer is stuck on a hung peer.
		if w.writeMu.TryLock() {
			w.conn.SetWriteDeadline(time.Now().Add(closeGracePeriod))
			w.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			w.writeMu.Unlock()
		}

		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// RemoteAddr returns the peer address
func (w *WebSocketChannel) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
