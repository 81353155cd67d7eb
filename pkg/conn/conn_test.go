package conn

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linePair(t *testing.T) (*LineChannel, *LineChannel) {
	t.Helper()
	a, b := net.Pipe()
	left, right := NewLineChannel(a), NewLineChannel(b)
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})
	return left, right
}

func TestLineChannelSendReceive(t *testing.T) {
	left, right := linePair(t)

	go func() {
		left.Send("PRICE:42")
		left.Send("APPROVED")
	}()

	msg, err := right.Receive()
	require.NoError(t, err)
	assert.Equal(t, "PRICE:42", msg)

	msg, err = right.Receive()
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", msg)
}

func TestLineChannelRejectsLineBreaks(t *testing.T) {
	left, _ := linePair(t)

	err := left.Send("PRICE:1\nPRICE:2")
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestLineChannelEOFOnPeerClose(t *testing.T) {
	left, right := linePair(t)

	require.NoError(t, left.Close())

	_, err := right.Receive()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineChannelCloseIsIdempotent(t *testing.T) {
	left, _ := linePair(t)

	require.NoError(t, left.Close())
	assert.NoError(t, left.Close())
	assert.ErrorIs(t, left.Send("DENIED"), ErrClosed)

	_, err := left.Receive()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineChannelConcurrentSendsDoNotInterleave(t *testing.T) {
	left, right := linePair(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			left.Send("PURCHASE:75")
		}()
	}

	for i := 0; i < n; i++ {
		msg, err := right.Receive()
		require.NoError(t, err)
		assert.Equal(t, "PURCHASE:75", msg)
	}
	wg.Wait()
}

func TestDialLine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan Channel, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- NewLineChannel(c)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, ln.Addr().String(), WithWriteTimeout(time.Second))
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	require.NoError(t, server.Send("PRICE:10"))
	msg, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, "PRICE:10", msg)
	assert.NotEmpty(t, client.RemoteAddr())
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr)
	assert.Error(t, err)
}

func wsServer(t *testing.T) (string, <-chan Channel) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	accepted := make(chan Channel, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewWebSocketChannel(c)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), accepted
}

func TestWebSocketChannelSendReceive(t *testing.T) {
	url, accepted := wsServer(t)

	client, err := DialWebSocket(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	require.NoError(t, server.Send("PRICE:99"))
	msg, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, "PRICE:99", msg)

	require.NoError(t, client.Send("PURCHASE:99"))
	msg, err = server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "PURCHASE:99", msg)
}

func TestWebSocketChannelEOFOnPeerClose(t *testing.T) {
	url, accepted := wsServer(t)

	client, err := DialWebSocket(context.Background(), url)
	require.NoError(t, err)

	server := <-accepted
	defer server.Close()

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send("FINISHED"), ErrClosed)

	_, err = server.Receive()
	assert.ErrorIs(t, err, io.EOF)
}
