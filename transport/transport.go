// Package transport defines how the auction server reaches participants.
package transport

import (
	"context"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
)

// Unreliable is the best-effort control plane. A nil error from Send does not
// mean the message was received.
type Unreliable interface {
	Send(ctx context.Context, to auction.Address, msg message.Message) error
}

// Reliable is the connection-oriented finalization plane.
type Reliable interface {
	// Deliver writes msg to the participant's data port and returns once it
	// has been handed to the connection.
	Deliver(ctx context.Context, to auction.Address, msg message.Message) error
	// Listen opens a rendezvous on a fresh port. The rendezvous is closed
	// when ctx is done or Close is called.
	Listen(ctx context.Context) (Rendezvous, error)
}

// Rendezvous collects inform responses for a single purchase finalization.
type Rendezvous interface {
	// Addr is the host:port participants should connect to.
	Addr() string
	// Responses yields each decoded inform response. It is closed when the
	// rendezvous closes.
	Responses() <-chan *message.InformResponse
	Close() error
}
