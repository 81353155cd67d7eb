// Package agent implements the bidding client. An agent listens for price
// broadcasts, bids when its budget covers the price and signals completion
// once enough purchases were approved.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/luxfi/auction/pkg/conn"
	"github.com/luxfi/auction/pkg/price"
	"github.com/luxfi/auction/pkg/protocol"
	"github.com/luxfi/log"
)

const (
	DefaultMinBudget = 10
	DefaultMaxBudget = 75
	DefaultTarget    = 10
)

var (
	// ErrInvalidConfig is returned for unusable agent settings
	ErrInvalidConfig = errors.New("invalid agent config")
	// ErrDisconnected is returned when the server hangs up before the
	// agent reached its target
	ErrDisconnected = errors.New("disconnected before finishing")
)

// State of the agent control loop
type State int32

const (
	Connected State = iota
	AwaitingPrice
	Bidding
	Skipping
	Finished
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case AwaitingPrice:
		return "awaiting_price"
	case Bidding:
		return "bidding"
	case Skipping:
		return "skipping"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Config holds agent settings
type Config struct {
	ID        string
	MinBudget int
	MaxBudget int
	Target    int
}

// DefaultConfig returns the standard budget range and target, named
// Client-<unix millis>
func DefaultConfig() Config {
	return Config{
		ID:        fmt.Sprintf("Client-%d", time.Now().UnixMilli()),
		MinBudget: DefaultMinBudget,
		MaxBudget: DefaultMaxBudget,
		Target:    DefaultTarget,
	}
}

// Validate checks budget range and target
func (c Config) Validate() error {
	if c.MinBudget < 0 || c.MaxBudget < c.MinBudget {
		return fmt.Errorf("%w: budget [%d, %d]", ErrInvalidConfig, c.MinBudget, c.MaxBudget)
	}
	if c.Target <= 0 {
		return fmt.Errorf("%w: target %d", ErrInvalidConfig, c.Target)
	}
	return nil
}

// Stats counts what the agent did
type Stats struct {
	Prices   uint64
	Bids     uint64
	Skipped  uint64
	Approved uint64
	Denied   uint64
}

// Agent is one bidding client bound to a channel. Its counters are only
// written by its own loop.
type Agent struct {
	config Config
	ch     conn.Channel
	src    price.Source
	logger log.Logger

	state    atomic.Int32
	prices   atomic.Uint64
	bids     atomic.Uint64
	skipped  atomic.Uint64
	approved atomic.Uint64
	denied   atomic.Uint64
}

// New creates an agent. A nil src uses price.RandomSource.
func New(config Config, ch conn.Channel, src price.Source, logger log.Logger) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = price.RandomSource
	}
	return &Agent{
		config: config,
		ch:     ch,
		src:    src,
		logger: logger,
	}, nil
}

// ID returns the agent name
func (a *Agent) ID() string { return a.config.ID }

// State returns the current state
func (a *Agent) State() State { return State(a.state.Load()) }

func (a *Agent) setState(s State) { a.state.Store(int32(s)) }

// Stats returns a snapshot of the counters
func (a *Agent) Stats() Stats {
	return Stats{
		Prices:   a.prices.Load(),
		Bids:     a.bids.Load(),
		Skipped:  a.skipped.Load(),
		Approved: a.approved.Load(),
		Denied:   a.denied.Load(),
	}
}

// Run drives the agent until it finishes, the connection fails or ctx is
// cancelled. It returns nil only after FINISHED was sent. The channel is
// always closed on return.
func (a *Agent) Run(ctx context.Context) error {
	defer a.ch.Close()
	stop := context.AfterFunc(ctx, func() { a.ch.Close() })
	defer stop()

	a.logger.Info("Connected to server", "client", a.config.ID, "addr", a.ch.RemoteAddr())
	a.setState(AwaitingPrice)

	for {
		line, err := a.ch.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				a.logger.Warn("Server closed the connection", "client", a.config.ID, "approved", a.approved.Load())
				return ErrDisconnected
			}
			a.logger.Error("Connection error", "client", a.config.ID, "error", err)
			return err
		}

		msg, err := protocol.Parse(line)
		if err != nil {
			a.logger.Error("Unreadable server message", "client", a.config.ID, "error", err)
			return err
		}

		done, err := a.handle(msg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if done {
			return nil
		}
	}
}

func (a *Agent) handle(msg protocol.Message) (bool, error) {
	switch msg.Kind {
	case protocol.Price:
		return false, a.onPrice(msg.Value)

	case protocol.Approved:
		n := a.approved.Add(1)
		a.logger.Info("Purchase approved", "client", a.config.ID, "count", n)
		if n >= uint64(a.config.Target) {
			return true, a.finish()
		}
		a.setState(AwaitingPrice)
		return false, nil

	case protocol.Denied:
		a.denied.Add(1)
		a.logger.Info("Purchase denied", "client", a.config.ID)
		a.setState(AwaitingPrice)
		return false, nil
	}

	return false, fmt.Errorf("%w: unexpected %s from server", protocol.ErrMalformed, msg.Kind)
}

func (a *Agent) onPrice(p int) error {
	a.prices.Add(1)
	budget := price.Draw(a.src, a.config.MinBudget, a.config.MaxBudget)
	a.logger.Debug("Price received", "client", a.config.ID, "price", p, "budget", budget)

	if budget < p {
		a.setState(Skipping)
		a.skipped.Add(1)
		a.logger.Debug("Price too high, skipping", "client", a.config.ID, "price", p, "budget", budget)
		a.setState(AwaitingPrice)
		return nil
	}

	a.setState(Bidding)
	a.bids.Add(1)
	if err := a.ch.Send(protocol.NewPurchase(budget).Encode()); err != nil {
		return fmt.Errorf("send bid: %w", err)
	}
	a.setState(AwaitingPrice)
	return nil
}

func (a *Agent) finish() error {
	if err := a.ch.Send(protocol.FinishedMessage.Encode()); err != nil {
		return fmt.Errorf("send completion: %w", err)
	}
	a.setState(Finished)
	a.logger.Info("Purchase target reached", "client", a.config.ID, "target", a.config.Target)
	return nil
}
