// Package conn provides message channels between the auction server and
// its clients. A Channel carries discrete text messages; every Send on one
// side corresponds to exactly one Receive on the other.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned by Send after the channel has been closed
	ErrClosed = errors.New("channel closed")
	// ErrInvalidMessage is returned for messages that cannot be framed
	ErrInvalidMessage = errors.New("invalid message")
)

// Channel is a bidirectional message stream to one peer.
//
// Send may be called from several goroutines. Receive must only be called
// from one goroutine at a time. Receive returns io.EOF once the peer hangs up
// or the channel is closed locally.
type Channel interface {
	Send(msg string) error
	Receive() (string, error)
	Close() error
	RemoteAddr() string
}

type options struct {
	writeTimeout time.Duration
}

// Option configures a channel
type Option func(*options)

// WithWriteTimeout bounds every Send. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dial connects to a line-framed TCP server
func Dial(ctx context.Context, addr string, opts ...Option) (Channel, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewLineChannel(c, opts...), nil
}

// DialWebSocket connects to a WebSocket endpoint such as ws://host:8081/ws
func DialWebSocket(ctx context.Context, url string, opts ...Option) (Channel, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketChannel(c, opts...), nil
}
