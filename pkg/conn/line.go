package conn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LineChannel frames messages with a trailing newline over a stream
// connection.
type LineChannel struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   options

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewLineChannel wraps an established connection
func NewLineChannel(c net.Conn, opts ...Option) *LineChannel {
	return &LineChannel{
		conn:   c,
		reader: bufio.NewReader(c),
		opts:   buildOptions(opts),
	}
}

// Send writes one message followed by a newline
func (l *LineChannel) Send(msg string) error {
	if strings.ContainsAny(msg, "\r\n") {
		return fmt.Errorf("%w: embedded line break", ErrInvalidMessage)
	}
	if l.closed.Load() {
		return ErrClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.opts.writeTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.opts.writeTimeout))
	}
	if _, err := io.WriteString(l.conn, msg+"\n"); err != nil {
		if l.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Receive blocks until a full line arrives. A trailing partial line left
// by a hang-up is dropped.
func (l *LineChannel) Receive() (string, error) {
	line, err := l.reader.ReadString('\n')
	if err != nil {
		if l.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return "", io.EOF
		}
		return "", fmt.Errorf("receive: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close releases the connection. Only the first call closes it.
func (l *LineChannel) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// RemoteAddr returns the peer address
func (l *LineChannel) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}
