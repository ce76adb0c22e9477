// Package house implements the auction server's coordination core: the
// participant directory, the catalog of items and subscriptions, bidding,
// the per-item lifecycle controllers, seller negotiation and the purchase
// finalization handshake.
package house

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/transport"
	golog "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("auctionhouse")

// maxHistory is the number of finished transactions kept for inspection.
const maxHistory = 100

// Config defines params for House configuration.
type Config struct {
	// Tick is the length of one unit of auction time.
	Tick time.Duration
	// FinalizeTimeout bounds the wait for both inform responses.
	FinalizeTimeout time.Duration
	// NotifyTimeout bounds every individual send.
	NotifyTimeout time.Duration
	// DeclineRate is the probability that an otherwise valid payment is
	// declined. It exists to exercise the cancellation path.
	DeclineRate float64
	// Random returns a number in [0, 1). Defaults to math/rand.
	Random func() float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Tick:            time.Second,
		FinalizeTimeout: 120 * time.Second,
		NotifyTimeout:   5 * time.Second,
		DeclineRate:     0.05,
	}
}

func (c Config) validate() error {
	if c.Tick <= 0 {
		return errors.New("tick must be greater than zero")
	}
	if c.FinalizeTimeout <= 0 {
		return errors.New("finalize timeout must be greater than zero")
	}
	if c.NotifyTimeout <= 0 {
		return errors.New("notify timeout must be greater than zero")
	}
	if c.DeclineRate < 0 || c.DeclineRate > 1 {
		return fmt.Errorf("decline rate %v must be within [0, 1]", c.DeclineRate)
	}
	return nil
}

// House owns all auction state. All exported methods are safe for concurrent use.
type House struct {
	conf    Config
	control transport.Unreliable
	data    transport.Reliable

	dir *directory

	lk      sync.Mutex
	items   map[string]*item
	subs    map[string]map[string]subscriber
	txns    map[string]*transaction
	history []auction.Transaction
	closed  bool

	// lastAuctionID is the last announcement id handed out.
	lastAuctionID uint64

	entropy *ulid.MonotonicEntropy
	idLk    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metricRegistrations      metric.Int64Counter
	metricListings           metric.Int64Counter
	metricSubscriptions      metric.Int64Counter
	metricBids               metric.Int64Counter
	metricNegotiations       metric.Int64Counter
	metricClosedAuctions     metric.Int64Counter
	metricFinalizations      metric.Int64Counter
	metricFinalizationMillis metric.Int64Histogram
}

// New returns a House that notifies participants over control and finalizes
// sales over data.
func New(conf Config, control transport.Unreliable, data transport.Reliable) (*House, error) {
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	if conf.Random == nil {
		conf.Random = mrand.Float64
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &House{
		conf:    conf,
		control: control,
		data:    data,
		dir:     newDirectory(),
		items:   make(map[string]*item),
		subs:    make(map[string]map[string]subscriber),
		txns:    make(map[string]*transaction),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.initMetrics()
	return h, nil
}

// Close stops every lifecycle controller and cancels in-flight finalizations,
// waiting for them to notify their parties.
func (h *House) Close() error {
	h.lk.Lock()
	h.closed = true
	h.lk.Unlock()

	h.cancel()
	h.wg.Wait()
	log.Info("auction house was shutdown")
	return nil
}

// newID returns new monotonically increasing transaction ids.
func (h *House) newID() (string, error) {
	h.idLk.Lock() // entropy is not safe for concurrent use
	defer h.idLk.Unlock()

	if h.entropy == nil {
		h.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), h.entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		h.entropy = ulid.Monotonic(rand.Reader, 0)
		id, err = ulid.New(ulid.Timestamp(time.Now().UTC()), h.entropy)
	}
	if err != nil {
		return "", fmt.Errorf("generating id: %v", err)
	}
	return strings.ToLower(id.String()), nil
}

// envelope is a message waiting to be sent once locks are released.
type envelope struct {
	to  auction.Address
	msg message.Message
}

type outbox []envelope

func (o *outbox) add(to auction.Address, msg message.Message) {
	*o = append(*o, envelope{to: to, msg: msg})
}

// flush sends every queued message over the control plane. Failures are
// logged and otherwise ignored.
func (h *House) flush(o outbox) {
	for _, e := range o {
		ctx, cancel := context.WithTimeout(h.ctx, h.conf.NotifyTimeout)
		if err := h.control.Send(ctx, e.to, e.msg); err != nil {
			log.Debugf("sending %s to %s: %v", e.msg.Kind(), e.to.Control(), err)
		}
		cancel()
	}
}

// deliver sends msg over the finalization plane.
func (h *House) deliver(ctx context.Context, to auction.Address, msg message.Message) error {
	ctx, cancel := context.WithTimeout(ctx, h.conf.NotifyTimeout)
	defer cancel()
	if err := h.data.Deliver(ctx, to, msg); err != nil {
		return fmt.Errorf("delivering %s to %s: %v", msg.Kind(), to.Data(), err)
	}
	return nil
}
