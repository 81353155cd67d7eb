package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/auction/pkg/agent"
	"github.com/luxfi/auction/pkg/conn"
	"github.com/luxfi/auction/pkg/price"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource int

func (f fixedSource) IntN(n int) int { return int(f) % n }

func testLogger() log.Logger {
	level, _ := log.ToLevel("error")
	return log.NewTestLogger(level)
}

func testConfig(interval time.Duration) Config {
	return Config{
		Host:       "127.0.0.1",
		EnableHTTP: true,
		Price:      price.Config{Min: 10, Max: 40, Interval: interval},
	}
}

// startServer runs s in the background and waits until it is bound
func startServer(ctx context.Context, t *testing.T, s *Server) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errc:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server not ready")
	}
	t.Cleanup(s.Shutdown)
	return errc
}

func waitRun(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func waitKnown(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Stats().Known == n
	}, 5*time.Second, 5*time.Millisecond)
}

func wsURL(s *Server) string {
	return "ws://" + s.HTTPAddr() + "/ws"
}

func TestAgentsFinishAndServerShutsDown(t *testing.T) {
	s, err := New(testConfig(10*time.Millisecond), testLogger())
	require.NoError(t, err)
	errc := startServer(context.Background(), t, s)

	ctx := context.Background()
	var channels []conn.Channel
	for i := 0; i < 3; i++ {
		ch, err := conn.Dial(ctx, s.Addr())
		require.NoError(t, err)
		channels = append(channels, ch)
	}
	ws, err := conn.DialWebSocket(ctx, wsURL(s))
	require.NoError(t, err)
	channels = append(channels, ws)

	// every session must be known before anyone can finish
	waitKnown(t, s, len(channels))

	var wg sync.WaitGroup
	results := make([]error, len(channels))
	for i, ch := range channels {
		ag, err := agent.New(agent.Config{ID: "Client", MinBudget: 50, MaxBudget: 75, Target: 3}, ch, nil, testLogger())
		require.NoError(t, err)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ag.Run(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}

	waitRun(t, errc)
	select {
	case <-s.Finished():
	default:
		t.Fatal("barrier did not fire")
	}

	st := s.Stats()
	assert.Equal(t, 4, st.Finished)
	assert.Equal(t, 0, st.Sessions)
	assert.GreaterOrEqual(t, st.Approved, uint64(12))
}

func TestDoesNotShutDownWhileSessionPending(t *testing.T) {
	s, err := New(testConfig(time.Hour), testLogger(), WithPriceSource(fixedSource(0)))
	require.NoError(t, err)
	startServer(context.Background(), t, s)

	ctx := context.Background()
	a, err := conn.Dial(ctx, s.Addr())
	require.NoError(t, err)
	defer a.Close()
	b, err := conn.Dial(ctx, s.Addr())
	require.NoError(t, err)
	defer b.Close()
	waitKnown(t, s, 2)

	require.NoError(t, a.Send("FINISHED"))
	require.Eventually(t, func() bool { return s.Stats().Finished == 1 }, 5*time.Second, 5*time.Millisecond)

	select {
	case <-s.Finished():
		t.Fatal("barrier fired with a pending session")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, b.Send("FINISHED"))
	select {
	case <-s.Finished():
	case <-time.After(5 * time.Second):
		t.Fatal("barrier did not fire")
	}
}

func TestLeavingSessionDoesNotBlockShutdown(t *testing.T) {
	s, err := New(testConfig(time.Hour), testLogger())
	require.NoError(t, err)
	errc := startServer(context.Background(), t, s)

	ctx := context.Background()
	a, err := conn.Dial(ctx, s.Addr())
	require.NoError(t, err)
	b, err := conn.Dial(ctx, s.Addr())
	require.NoError(t, err)
	defer b.Close()
	waitKnown(t, s, 2)

	require.NoError(t, a.Close())
	waitKnown(t, s, 1)

	require.NoError(t, b.Send("FINISHED"))
	waitRun(t, errc)
}

func readDecision(t *testing.T, ch conn.Channel) string {
	t.Helper()
	for {
		line, err := ch.Receive()
		require.NoError(t, err)
		if !strings.HasPrefix(line, "PRICE:") {
			return line
		}
	}
}

func TestArbitrationOverTheWire(t *testing.T) {
	s, err := New(testConfig(time.Hour), testLogger(), WithPriceSource(fixedSource(20)))
	require.NoError(t, err)
	startServer(context.Background(), t, s)

	require.Eventually(t, func() bool { return s.Stats().HasPrice }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 30, s.Stats().Price)

	ch, err := conn.Dial(context.Background(), s.Addr())
	require.NoError(t, err)
	defer ch.Close()

	// malformed bids are discarded without dropping the connection
	require.NoError(t, ch.Send("PURCHASE:lots"))
	require.NoError(t, ch.Send("HELLO"))

	require.NoError(t, ch.Send("PURCHASE:30"))
	assert.Equal(t, "APPROVED", readDecision(t, ch))

	require.NoError(t, ch.Send("PURCHASE:29"))
	assert.Equal(t, "DENIED", readDecision(t, ch))

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Approved)
	assert.Equal(t, uint64(1), st.Denied)
}

func TestHealthEndpoint(t *testing.T) {
	s, err := New(testConfig(time.Hour), testLogger())
	require.NoError(t, err)
	startServer(context.Background(), t, s)

	resp, err := http.Get("http://" + s.HTTPAddr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "stats")
}

func TestMetricsEndpoint(t *testing.T) {
	s, err := New(testConfig(time.Hour), testLogger())
	require.NoError(t, err)
	startServer(context.Background(), t, s)

	require.Eventually(t, func() bool { return s.Stats().HasPrice }, 5*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.HTTPAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "auction_prices_generated_total 1")
}

func TestCancelClosesSessions(t *testing.T) {
	s, err := New(testConfig(time.Hour), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := startServer(ctx, t, s)

	ch, err := conn.Dial(context.Background(), s.Addr())
	require.NoError(t, err)
	defer ch.Close()
	waitKnown(t, s, 1)

	cancel()
	waitRun(t, errc)

	for {
		_, err := ch.Receive()
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}

	_, err = conn.Dial(context.Background(), s.Addr())
	assert.Error(t, err)
}

func TestRunAfterShutdown(t *testing.T) {
	s, err := New(testConfig(time.Hour), testLogger())
	require.NoError(t, err)

	s.Shutdown()
	assert.ErrorIs(t, s.Run(context.Background()), ErrServerClosed)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, ":8080", DefaultConfig().Addr())
	assert.Equal(t, ":8081", DefaultConfig().HTTPAddr())

	c := DefaultConfig()
	c.Port = 70000
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Price.Min = 200
	assert.ErrorIs(t, c.Validate(), price.ErrInvalidRange)

	_, err := New(c, testLogger())
	assert.Error(t, err)
}
