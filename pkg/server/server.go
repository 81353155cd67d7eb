// Package server runs the auction: it broadcasts prices to every connected
// client, arbitrates their bids and shuts down once all of them finished.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/luxfi/auction/pkg/arbiter"
	"github.com/luxfi/auction/pkg/barrier"
	"github.com/luxfi/auction/pkg/conn"
	"github.com/luxfi/auction/pkg/events"
	"github.com/luxfi/auction/pkg/metrics"
	"github.com/luxfi/auction/pkg/price"
	"github.com/luxfi/auction/pkg/protocol"
	"github.com/luxfi/auction/pkg/registry"
	"github.com/luxfi/log"
)

const httpShutdownTimeout = 5 * time.Second

// Server coordinates price broadcasts and purchases
type Server struct {
	config Config
	logger log.Logger

	cell      *price.Cell
	registry  *registry.Registry
	arbiter   *arbiter.Arbiter
	barrier   *barrier.Barrier
	generator *price.Generator
	metrics   *metrics.Metrics
	events    events.Publisher
	src       price.Source

	mu           sync.Mutex
	closing      bool
	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server

	ready        chan struct{}
	shutdownOnce sync.Once

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a server
type Option func(*Server)

// WithPublisher mirrors prices and decisions to p
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) { s.events = p }
}

// WithMetrics uses m instead of a fresh collector set
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPriceSource replaces the random source used for prices
func WithPriceSource(src price.Source) Option {
	return func(s *Server) { s.src = src }
}

// New creates a server. Nothing is bound until Run.
func New(config Config, logger log.Logger, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: config,
		logger: logger,
		cell:   &price.Cell{},
		events: events.Nop{},
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New("auction")
	}

	s.registry = registry.New(logger)
	s.arbiter = arbiter.New(s.cell, logger)
	s.arbiter.Observer = func(d arbiter.Decision) {
		s.metrics.RecordDecision(d.Approved)
		s.events.PublishDecision(d)
	}
	s.barrier = barrier.New(s.Shutdown, logger)

	gen, err := price.NewGenerator(config.Price, s.cell, s.src, s.broadcastPrice, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	s.generator = gen

	return s, nil
}

// Run binds the listeners, starts the price generator and serves clients
// until every session finished or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.listen(); err != nil {
		s.Shutdown()
		return err
	}
	close(s.ready)

	s.logger.Info("Auction server started",
		"addr", s.Addr(),
		"http", s.HTTPAddr(),
		"minPrice", s.config.Price.Min,
		"maxPrice", s.config.Price.Max,
		"interval", s.config.Price.Interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.generator.Run(s.ctx)
	}()

	if s.httpServer != nil {
		s.wg.Add(1)
		go s.serveHTTP()
	}

	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info("Stop requested")
		case <-s.ctx.Done():
		}
		s.Shutdown()
	}()

	s.acceptLoop()
	s.wg.Wait()

	s.logger.Info("Auction server stopped", "approved", s.arbiter.Stats().Approved, "denied", s.arbiter.Stats().Denied)
	return nil
}

func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return ErrServerClosed
	}

	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr(), err)
	}
	s.listener = ln

	if s.config.EnableHTTP {
		hl, err := net.Listen("tcp", s.config.HTTPAddr())
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen %s: %w", s.config.HTTPAddr(), err)
		}
		s.httpListener = hl
		s.httpServer = &http.Server{
			Handler:     s.routes(),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		}
	}
	return nil
}

func (s *Server) acceptLoop() {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Error accepting client", "error", err)
			continue
		}
		s.serve(conn.NewLineChannel(c, conn.WithWriteTimeout(s.config.WriteTimeout)))
	}
}

// serve registers a new session and starts its handler. Sessions arriving
// after shutdown started are closed immediately.
func (s *Server) serve(ch conn.Channel) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ch.Close()
		return
	}
	h := s.registry.Register(registry.NewSession(ch))
	s.barrier.Join(h.Session().ID)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.SessionOpened()
	s.logger.Info("New client connected", "session", h.Session().ID, "addr", ch.RemoteAddr(), "total", s.registry.Size())

	go s.handleSession(h)
}

func (s *Server) handleSession(h registry.Handle) {
	sess := h.Session()
	logger := s.logger.New("session", sess.ID)
	finished := false

	defer func() {
		h.Remove()
		sess.Channel.Close()
		if !finished {
			s.barrier.Leave(sess.ID)
		}
		s.metrics.SessionClosed()
		s.wg.Done()
	}()

	for {
		line, err := sess.Channel.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("Client connection error", "error", err)
			} else {
				logger.Debug("Client disconnected")
			}
			return
		}

		msg, err := protocol.Parse(line)
		if err != nil {
			s.metrics.RecordMalformed()
			logger.Warn("Discarding malformed message", "error", err)
			continue
		}

		switch msg.Kind {
		case protocol.Purchase:
			d := s.arbiter.Arbitrate(sess.ID, msg.Value)
			if err := sess.Send(protocol.Decision(d.Approved).Encode()); err != nil {
				logger.Warn("Failed to send decision", "error", err)
				return
			}

		case protocol.Finished:
			finished = true
			h.Remove()
			s.metrics.RecordFinished()
			s.barrier.NotifyFinished(sess.ID)
			return

		default:
			s.metrics.RecordMalformed()
			logger.Warn("Unexpected message from client", "kind", msg.Kind.String())
		}
	}
}

func (s *Server) broadcastPrice(p int) {
	res := s.registry.Broadcast(protocol.NewPrice(p).Encode())
	s.metrics.RecordPrice(p)
	s.metrics.RecordBroadcast(res.Delivered, res.Pruned)
	s.events.PublishPrice(p)

	if res.Pruned > 0 {
		s.logger.Info("Dropped unreachable clients", "pruned", res.Pruned, "remaining", s.registry.Size())
	}
}

// Shutdown stops accepting clients, stops the generator and closes every
// remaining session. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		ln, hs := s.listener, s.httpServer
		s.mu.Unlock()

		s.cancel()

		if ln != nil {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Error("Error closing listener", "error", err)
			}
		}
		if hs != nil {
			ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			hs.Shutdown(ctx)
			cancel()
		}

		for _, sess := range s.registry.Sessions() {
			sess.Channel.Close()
		}

		finished, total := s.barrier.Counts()
		s.events.PublishShutdown(finished, total)
		s.logger.Info("Server shutting down", "finished", finished, "total", total)
	})
}

// Ready is closed once the listeners are bound
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Finished is closed once every session signaled completion
func (s *Server) Finished() <-chan struct{} { return s.barrier.Done() }

// Addr returns the bound TCP address, or the configured one before Run
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr()
}

// HTTPAddr returns the bound HTTP address, or "" when HTTP is disabled
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener != nil {
		return s.httpListener.Addr().String()
	}
	if s.config.EnableHTTP {
		return s.config.HTTPAddr()
	}
	return ""
}

// Stats summarizes server state
type Stats struct {
	Sessions int    `json:"sessions"`
	Finished int    `json:"finished"`
	Known    int    `json:"known"`
	Price    int    `json:"price"`
	HasPrice bool   `json:"hasPrice"`
	Approved uint64 `json:"approved"`
	Denied   uint64 `json:"denied"`
}

// Stats returns a snapshot of the server state
func (s *Server) Stats() Stats {
	finished, known := s.barrier.Counts()
	p, ok := s.cell.Get()
	as := s.arbiter.Stats()
	return Stats{
		Sessions: s.registry.Size(),
		Finished: finished,
		Known:    known,
		Price:    p,
		HasPrice: ok,
		Approved: as.Approved,
		Denied:   as.Denied,
	}
}
