package faketransport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/transport"
)

// ErrUnreachable is returned when delivering to an address marked unreachable.
var ErrUnreachable = errors.New("connection refused")

// FakeTransport records every message in memory. It implements both planes.
type FakeTransport struct {
	lock        sync.Mutex
	datagrams   map[string][]message.Message
	deliveries  map[string][]message.Message
	unreachable map[string]bool
	rendezvous  []*Rendezvous
}

var (
	_ transport.Unreliable = (*FakeTransport)(nil)
	_ transport.Reliable   = (*FakeTransport)(nil)
)

func New() *FakeTransport {
	return &FakeTransport{
		datagrams:   map[string][]message.Message{},
		deliveries:  map[string][]message.Message{},
		unreachable: map[string]bool{},
	}
}

func (t *FakeTransport) Send(_ context.Context, to auction.Address, msg message.Message) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.datagrams[to.Control()] = append(t.datagrams[to.Control()], msg)
	return nil
}

func (t *FakeTransport) Deliver(_ context.Context, to auction.Address, msg message.Message) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.unreachable[to.Data()] {
		return fmt.Errorf("dialing %s: %w", to.Data(), ErrUnreachable)
	}
	t.deliveries[to.Data()] = append(t.deliveries[to.Data()], msg)
	return nil
}

func (t *FakeTransport) Listen(ctx context.Context) (transport.Rendezvous, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	r := &Rendezvous{
		addr: fmt.Sprintf("127.0.0.1:%d", 7000+len(t.rendezvous)),
		ch:   make(chan *message.InformResponse, 16),
	}
	t.rendezvous = append(t.rendezvous, r)
	go func() {
		<-ctx.Done()
		_ = r.Close()
	}()
	return r, nil
}

// Helpers for tests

// SetUnreachable makes reliable deliveries to addr fail.
func (t *FakeTransport) SetUnreachable(addr auction.Address) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.unreachable[addr.Data()] = true
}

// Datagrams returns the control-plane messages sent to addr.
func (t *FakeTransport) Datagrams(addr auction.Address) []message.Message {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]message.Message(nil), t.datagrams[addr.Control()]...)
}

// Deliveries returns the reliable messages delivered to addr.
func (t *FakeTransport) Deliveries(addr auction.Address) []message.Message {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]message.Message(nil), t.deliveries[addr.Data()]...)
}

// DatagramsOf returns the control-plane messages of the given type sent to addr.
func (t *FakeTransport) DatagramsOf(addr auction.Address, kind message.Type) []message.Message {
	return filter(t.Datagrams(addr), kind)
}

// DeliveriesOf returns the reliable messages of the given type delivered to addr.
func (t *FakeTransport) DeliveriesOf(addr auction.Address, kind message.Type) []message.Message {
	return filter(t.Deliveries(addr), kind)
}

// LastRendezvous returns the most recently opened rendezvous, or nil.
func (t *FakeTransport) LastRendezvous() *Rendezvous {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.rendezvous) == 0 {
		return nil
	}
	return t.rendezvous[len(t.rendezvous)-1]
}

func filter(msgs []message.Message, kind message.Type) []message.Message {
	var out []message.Message
	for _, m := range msgs {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// Rendezvous is an in-memory rendezvous fed by Push.
type Rendezvous struct {
	addr   string
	ch     chan *message.InformResponse
	lock   sync.Mutex
	closed bool
}

var _ transport.Rendezvous = (*Rendezvous)(nil)

func (r *Rendezvous) Addr() string { return r.addr }

func (r *Rendezvous) Responses() <-chan *message.InformResponse { return r.ch }

func (r *Rendezvous) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	return nil
}

// Push hands res to the rendezvous as if a participant had connected.
// It reports false if the rendezvous is already closed.
func (r *Rendezvous) Push(res *message.InformResponse) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return false
	}
	r.ch <- res
	return true
}

// Closed reports whether the rendezvous has been closed.
func (r *Rendezvous) Closed() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.closed
}
