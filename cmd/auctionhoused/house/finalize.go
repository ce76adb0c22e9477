package house

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/metrics"
	"github.com/textileio/auctionhouse/transport"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	cardPattern   = regexp.MustCompile(`^[0-9]{16}$`)
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)
)

// transaction is the state of one purchase finalization. Status fields are
// guarded by House.lk; responses is owned by the finalize goroutine.
type transaction struct {
	id        string
	auctionID string
	itemName  string
	buyer     auction.Participant
	seller    auction.Participant
	price     float64
	deadline  time.Time
	status    auction.Status
	reason    string
	startedAt time.Time
	endedAt   time.Time

	responses map[string]*message.InformResponse
}

func (tx *transaction) view() auction.Transaction {
	return auction.Transaction{
		ID:        tx.id,
		AuctionID: tx.auctionID,
		ItemName:  tx.itemName,
		Buyer:     tx.buyer.Name,
		Seller:    tx.seller.Name,
		Price:     tx.price,
		Deadline:  tx.deadline,
		Status:    tx.status,
		Reason:    tx.reason,
		StartedAt: tx.startedAt,
		EndedAt:   tx.endedAt,
	}
}

// finalize runs the inform handshake for tx and settles it.
func (h *House) finalize(tx *transaction) {
	defer h.wg.Done()

	log.Infof("finalizing %s: %s sold by %s to %s", tx.id, tx.itemName, tx.seller.Name, tx.buyer.Name)
	err := h.handshake(h.ctx, tx)
	h.settle(tx, err)
	if err != nil {
		log.Warnf("cancelling %s: %v", tx.id, err)
		h.cancelTransaction(context.Background(), tx, err)
		return
	}
	log.Infof("%s completed: %s paid %s", tx.id, tx.buyer.Name, humanize.Ftoa(tx.price))
}

func (h *House) handshake(ctx context.Context, tx *transaction) error {
	rv, err := h.data.Listen(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return auction.ErrShuttingDown
		}
		return fmt.Errorf("opening rendezvous: %v", err)
	}
	defer func() {
		if err := rv.Close(); err != nil {
			log.Errorf("closing rendezvous of %s: %v", tx.id, err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range []auction.Participant{tx.buyer, tx.seller} {
		p := p
		g.Go(func() error {
			req := &message.InformRequest{
				RQ:         message.CorrelationID(tx.id),
				ItemName:   tx.itemName,
				FinalPrice: tx.price,
				Rendezvous: rv.Addr(),
			}
			if err := h.deliver(gctx, p.Address, req); err != nil {
				return fmt.Errorf("%w: %s: %v", auction.ErrUnreachable, p.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return auction.ErrShuttingDown
		}
		return err
	}

	if err := h.awaitResponses(ctx, tx, rv); err != nil {
		return err
	}
	buyer := tx.responses[auction.Key(tx.buyer.Name)]
	if err := validatePayment(buyer); err != nil {
		return err
	}
	if h.conf.DeclineRate > 0 && h.conf.Random() < h.conf.DeclineRate {
		return auction.ErrPaymentDeclined
	}

	ship := &message.ShippingInfo{
		RQ:         message.CorrelationID(tx.id),
		ItemName:   tx.itemName,
		BuyerName:  tx.buyer.Name,
		Address:    strings.TrimSpace(buyer.Address),
		FinalPrice: tx.price,
	}
	if err := h.deliver(ctx, tx.seller.Address, ship); err != nil {
		if ctx.Err() != nil {
			return auction.ErrShuttingDown
		}
		return fmt.Errorf("%w: %s: %v", auction.ErrUnreachable, tx.seller.Name, err)
	}
	return nil
}

// awaitResponses collects the buyer's and seller's inform responses until
// the transaction deadline.
func (h *House) awaitResponses(ctx context.Context, tx *transaction, rv transport.Rendezvous) error {
	timer := time.NewTimer(time.Until(tx.deadline))
	defer timer.Stop()

	parties := map[string]auction.Participant{
		auction.Key(tx.buyer.Name):  tx.buyer,
		auction.Key(tx.seller.Name): tx.seller,
	}
	for len(tx.responses) < len(parties) {
		select {
		case res, ok := <-rv.Responses():
			if !ok {
				if ctx.Err() != nil {
					return auction.ErrShuttingDown
				}
				return fmt.Errorf("rendezvous of %s closed unexpectedly", tx.id)
			}
			if string(res.RQ) != tx.id {
				log.Debugf("ignoring inform response for %s on %s", res.RQ, tx.id)
				continue
			}
			key := auction.Key(res.Name)
			if _, ok := parties[key]; !ok {
				log.Debugf("ignoring inform response from %s on %s", res.Name, tx.id)
				continue
			}
			if _, ok := tx.responses[key]; ok {
				continue
			}
			tx.responses[key] = res
		case <-timer.C:
			var missing []string
			for k, p := range parties {
				if _, ok := tx.responses[k]; !ok {
					missing = append(missing, p.Name)
				}
			}
			sort.Strings(missing)
			return fmt.Errorf("%w from %s", auction.ErrMissingResponse, strings.Join(missing, " and "))
		case <-ctx.Done():
			return auction.ErrShuttingDown
		}
	}
	return nil
}

// validatePayment checks the buyer's card and shipping details.
func validatePayment(res *message.InformResponse) error {
	card := strings.TrimSpace(res.CardNumber)
	if !cardPattern.MatchString(card) {
		return fmt.Errorf("%w: must be exactly 16 digits", auction.ErrInvalidCard)
	}
	if !expiryPattern.MatchString(strings.TrimSpace(res.Expiry)) {
		return fmt.Errorf("%w: must be MM/YY", auction.ErrInvalidExpiry)
	}
	if strings.TrimSpace(res.Address) == "" {
		return auction.ErrMissingAddress
	}
	return nil
}

// settle records the outcome of tx and moves it to the history.
func (h *House) settle(tx *transaction, err error) {
	h.lk.Lock()
	tx.endedAt = time.Now()
	if err != nil {
		tx.status = auction.StatusCancelled
		tx.reason = err.Error()
	} else {
		tx.status = auction.StatusCompleted
	}
	delete(h.txns, tx.id)
	h.history = append(h.history, tx.view())
	if len(h.history) > maxHistory {
		h.history = h.history[len(h.history)-maxHistory:]
	}
	h.lk.Unlock()

	metrics.MetricIncrCounter(h.ctx, err, h.metricFinalizations)
	h.metricFinalizationMillis.Record(h.ctx, tx.endedAt.Sub(tx.startedAt).Milliseconds())
}

// cancelTransaction tells both parties the sale is off.
func (h *House) cancelTransaction(ctx context.Context, tx *transaction, reason error) {
	msg := &message.Cancel{RQ: message.CorrelationID(tx.id), Reason: reason.Error()}
	var errs error
	for _, p := range []auction.Participant{tx.buyer, tx.seller} {
		errs = multierr.Append(errs, h.deliver(ctx, p.Address, msg))
	}
	if errs != nil {
		log.Warnf("notifying cancellation of %s: %v", tx.id, errs)
	}
}

// Transactions returns in-flight finalizations followed by the most recent
// finished ones.
func (h *House) Transactions() []auction.Transaction {
	h.lk.Lock()
	defer h.lk.Unlock()
	res := make([]auction.Transaction, 0, len(h.txns)+len(h.history))
	for _, tx := range h.txns {
		res = append(res, tx.view())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return append(res, h.history...)
}
