// Package protocol encodes and decodes the auction wire messages.
//
// Every message is a single line of text:
//
//	PRICE:<n>     server -> client, new active price
//	PURCHASE:<n>  client -> server, bid with maximum acceptable price
//	APPROVED      server -> client
//	DENIED        server -> client
//	FINISHED      client -> server, completion signal
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned for messages that cannot be decoded
var ErrMalformed = errors.New("malformed message")

// Kind identifies a message type
type Kind int

const (
	Unknown Kind = iota
	Price
	Purchase
	Approved
	Denied
	Finished
)

const (
	pricePrefix    = "PRICE:"
	purchasePrefix = "PURCHASE:"
	approvedText   = "APPROVED"
	deniedText     = "DENIED"
	finishedText   = "FINISHED"
)

func (k Kind) String() string {
	switch k {
	case Price:
		return "PRICE"
	case Purchase:
		return "PURCHASE"
	case Approved:
		return approvedText
	case Denied:
		return deniedText
	case Finished:
		return finishedText
	default:
		return "UNKNOWN"
	}
}

// Message is a decoded wire message. Value is only meaningful for
// Price and Purchase.
type Message struct {
	Kind  Kind
	Value int
}

// NewPrice builds a price broadcast
func NewPrice(n int) Message { return Message{Kind: Price, Value: n} }

// NewPurchase builds a purchase bid
func NewPurchase(max int) Message { return Message{Kind: Purchase, Value: max} }

// Decision returns APPROVED or DENIED
func Decision(approved bool) Message {
	if approved {
		return Message{Kind: Approved}
	}
	return Message{Kind: Denied}
}

// FinishedMessage is the completion signal
var FinishedMessage = Message{Kind: Finished}

// Encode renders the message without the trailing newline
func (m Message) Encode() string {
	switch m.Kind {
	case Price:
		return pricePrefix + strconv.Itoa(m.Value)
	case Purchase:
		return purchasePrefix + strconv.Itoa(m.Value)
	case Approved, Denied, Finished:
		return m.Kind.String()
	default:
		return ""
	}
}

func (m Message) String() string { return m.Encode() }

// Parse decodes one line. Surrounding whitespace, including a trailing
// carriage return, is ignored.
func Parse(line string) (Message, error) {
	line = strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(line, pricePrefix):
		n, err := parseValue(line, pricePrefix)
		if err != nil {
			return Message{}, err
		}
		return NewPrice(n), nil
	case strings.HasPrefix(line, purchasePrefix):
		n, err := parseValue(line, purchasePrefix)
		if err != nil {
			return Message{}, err
		}
		return NewPurchase(n), nil
	case line == approvedText:
		return Message{Kind: Approved}, nil
	case line == deniedText:
		return Message{Kind: Denied}, nil
	case line == finishedText:
		return FinishedMessage, nil
	}

	return Message{}, fmt.Errorf("%w: unknown message %q", ErrMalformed, line)
}

func parseValue(line, prefix string) (int, error) {
	raw := line[len(prefix):]
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: bad value in %q", ErrMalformed, line)
	}
	return n, nil
}
