// Package arbiter decides purchase bids against the active price.
package arbiter

import (
	"sync/atomic"
	"time"

	"github.com/luxfi/auction/pkg/price"
	"github.com/luxfi/log"
)

// Decision is the outcome of one bid together with what it was judged on
type Decision struct {
	SessionID string    `json:"sessionId"`
	Bid       int       `json:"bid"`
	Price     int       `json:"price"`
	HasPrice  bool      `json:"hasPrice"`
	Approved  bool      `json:"approved"`
	Timestamp time.Time `json:"timestamp"`
}

// Result returns APPROVED or DENIED
func (d Decision) Result() string {
	if d.Approved {
		return "APPROVED"
	}
	return "DENIED"
}

// Stats counts decisions
type Stats struct {
	Approved uint64
	Denied   uint64
}

// Arbiter judges bids. A bid is compared with whatever price is active at
// arbitration time, which may be newer than the price the bidder saw.
type Arbiter struct {
	cell   *price.Cell
	logger log.Logger

	// Observer, when set, receives every decision after it is made
	Observer func(Decision)

	approved atomic.Uint64
	denied   atomic.Uint64
}

// New creates an arbiter reading from cell
func New(cell *price.Cell, logger log.Logger) *Arbiter {
	return &Arbiter{
		cell:   cell,
		logger: logger,
	}
}

// Arbitrate approves the bid iff maxAcceptablePrice >= active price. With
// no active price the bid is denied.
func (a *Arbiter) Arbitrate(sessionID string, maxAcceptablePrice int) Decision {
	d := Decision{
		SessionID: sessionID,
		Bid:       maxAcceptablePrice,
		Timestamp: time.Now(),
	}

	a.cell.View(func(p int, ok bool) {
		d.Price = p
		d.HasPrice = ok
		d.Approved = ok && maxAcceptablePrice >= p
	})

	if d.Approved {
		a.approved.Add(1)
		a.logger.Info("Purchase approved", "session", sessionID, "max", maxAcceptablePrice, "price", d.Price)
	} else {
		a.denied.Add(1)
		a.logger.Info("Purchase denied", "session", sessionID, "max", maxAcceptablePrice, "price", d.Price, "active", d.HasPrice)
	}

	if a.Observer != nil {
		a.Observer(d)
	}
	return d
}

// Stats returns decision counts
func (a *Arbiter) Stats() Stats {
	return Stats{
		Approved: a.approved.Load(),
		Denied:   a.denied.Load(),
	}
}
