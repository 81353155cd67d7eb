// Package price holds the active selling price and the generator that
// replaces it on a fixed interval.
package price

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/luxfi/log"
)

const (
	DefaultMin      = 10
	DefaultMax      = 100
	DefaultInterval = 3 * time.Second
)

// ErrInvalidRange is returned for unusable generator settings
var ErrInvalidRange = errors.New("invalid price range")

// Cell is the single process-wide active price. The generator is its only
// writer.
type Cell struct {
	mu    sync.RWMutex
	value int
	set   bool
}

// Set replaces the active price
func (c *Cell) Set(v int) {
	c.mu.Lock()
	c.value = v
	c.set = true
	c.mu.Unlock()
}

// Get returns the active price and whether one has been generated yet
func (c *Cell) Get() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// View runs fn while the price is pinned. fn must not block.
func (c *Cell) View(fn func(price int, ok bool)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.value, c.set)
}

// Source draws integers in [0, n)
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// RandomSource is auto-seeded on every run, so price sequences are not
// reproducible across restarts.
var RandomSource Source = globalSource{}

// Draw returns a uniform integer in [min, max]
func Draw(src Source, min, max int) int {
	return min + src.IntN(max-min+1)
}

// Config holds generator settings
type Config struct {
	Min      int
	Max      int
	Interval time.Duration
}

// DefaultConfig returns the standard price range and tick
func DefaultConfig() Config {
	return Config{
		Min:      DefaultMin,
		Max:      DefaultMax,
		Interval: DefaultInterval,
	}
}

// Validate checks the range and interval
func (c Config) Validate() error {
	if c.Min < 0 || c.Max < c.Min {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, c.Min, c.Max)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval %v", ErrInvalidRange, c.Interval)
	}
	return nil
}

// Generator draws a new price every interval, stores it in the cell and
// hands it to the broadcast sink.
type Generator struct {
	config    Config
	cell      *Cell
	src       Source
	broadcast func(price int)
	logger    log.Logger

	ticks uint64
}

// NewGenerator creates a generator writing to cell. A nil src uses
// RandomSource.
func NewGenerator(config Config, cell *Cell, src Source, broadcast func(int), logger log.Logger) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = RandomSource
	}
	return &Generator{
		config:    config,
		cell:      cell,
		src:       src,
		broadcast: broadcast,
		logger:    logger,
	}, nil
}

// Run ticks immediately and then on every interval until ctx is done
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.config.Interval)
	defer ticker.Stop()

	g.Tick()
	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("Price generator stopped", "ticks", g.ticks)
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick generates and publishes one price
func (g *Generator) Tick() int {
	p := Draw(g.src, g.config.Min, g.config.Max)
	g.cell.Set(p)
	g.ticks++
	g.logger.Info("Price generated", "price", p, "tick", g.ticks)

	if g.broadcast != nil {
		g.broadcast(p)
	}
	return p
}
