// Package events mirrors auction activity to an external message bus
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/luxfi/auction/pkg/arbiter"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
)

const (
	SubjectPrice    = "auction.price"
	SubjectDecision = "auction.decision"
	SubjectShutdown = "auction.shutdown"
)

// Publisher receives auction events. Implementations must not block the
// caller for long and must never fail arbitration.
type Publisher interface {
	PublishPrice(price int)
	PublishDecision(d arbiter.Decision)
	PublishShutdown(finished, total int)
	Close()
}

// Nop discards every event
type Nop struct{}

func (Nop) PublishPrice(int)                 {}
func (Nop) PublishDecision(arbiter.Decision) {}
func (Nop) PublishShutdown(int, int)         {}
func (Nop) Close()                           {}

// PriceEvent is published on every tick
type PriceEvent struct {
	Price     int   `json:"price"`
	Timestamp int64 `json:"timestamp"`
}

// ShutdownEvent is published once when the barrier fires
type ShutdownEvent struct {
	Finished  int   `json:"finished"`
	Total     int   `json:"total"`
	Timestamp int64 `json:"timestamp"`
}

// NATSPublisher publishes JSON events to NATS subjects
type NATSPublisher struct {
	nc     *nats.Conn
	logger log.Logger
}

// NewNATSPublisher connects to url
func NewNATSPublisher(url string, logger log.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("auction-server"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}
	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return &NATSPublisher{nc: nc, logger: logger}, nil
}

func (p *NATSPublisher) PublishPrice(price int) {
	p.publish(SubjectPrice, PriceEvent{Price: price, Timestamp: time.Now().UnixMilli()})
}

func (p *NATSPublisher) PublishDecision(d arbiter.Decision) {
	p.publish(SubjectDecision, d)
}

func (p *NATSPublisher) PublishShutdown(finished, total int) {
	p.publish(SubjectShutdown, ShutdownEvent{Finished: finished, Total: total, Timestamp: time.Now().UnixMilli()})
	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("NATS flush failed", "error", err)
	}
}

// Close drains pending messages and disconnects
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

func (p *NATSPublisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}
