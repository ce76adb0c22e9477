package house

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/metrics"
)

// closure describes how an item ended.
type closure struct {
	item   auction.Item
	seller auction.Participant
	winner *auction.Participant
	losers []auction.Participant
}

// runLifecycle drives one item from listing to closure, one tick at a time.
func (h *House) runLifecycle(it *item) {
	defer h.wg.Done()

	t := time.NewTicker(h.conf.Tick)
	defer t.Stop()
	for {
		select {
		case <-h.ctx.Done():
			log.Debugf("stopping lifecycle of %s", it.auctionID)
			return
		case <-t.C:
			if c := h.tick(it); c != nil {
				h.conclude(c)
				return
			}
		}
	}
}

// tick advances the item by one unit of time. It returns a closure once the
// time is up.
func (h *House) tick(it *item) *closure {
	var out outbox
	h.lk.Lock()
	it.timeLeft--
	if it.timeLeft <= 0 {
		c := h.closeItem(it)
		h.lk.Unlock()
		return c
	}
	if !it.offered && it.highest == nil && it.timeLeft*2 <= it.duration {
		it.offered = true
		it.status = auction.StatusNegotiationOffered
		out.add(it.seller.Address, &message.NegotiateRequest{
			RQ:           message.CorrelationID(it.auctionID),
			ItemName:     it.name,
			CurrentPrice: it.price,
			TimeLeft:     it.timeLeft,
		})
		log.Debugf("offering %s a price reduction on %s", it.seller.Name, it.name)
	}
	for _, addr := range h.subscribers(auction.Key(it.name)) {
		out.add(addr, it.announcement())
	}
	h.lk.Unlock()

	h.flush(out)
	return nil
}

// closeItem removes the item from the catalog and returns its closure.
// The caller must hold h.lk.
func (h *House) closeItem(it *item) *closure {
	it.timeLeft = 0
	if it.highest == nil {
		it.status = auction.StatusClosedNoBids
	} else {
		it.status = auction.StatusClosedSold
	}
	delete(h.items, auction.Key(it.name))

	c := &closure{item: it.view(), seller: it.seller}
	if it.highest != nil {
		winner := *it.highest
		c.winner = &winner
		for _, k := range it.bidOrder {
			if k != auction.Key(winner.Name) {
				c.losers = append(c.losers, it.bidders[k])
			}
		}
	}
	return c
}

// conclude tells every party how the auction ended and starts the purchase
// finalization when there's a winner.
func (h *House) conclude(c *closure) {
	ctx := h.ctx
	seller := h.resolve(c.seller)
	rq := message.CorrelationID(c.item.AuctionID)

	if c.winner == nil {
		metrics.MetricIncrCounter(ctx, nil, h.metricClosedAuctions, metrics.AttrOutcome("no_bids"))
		log.Infof("auction %s for %s closed without bids", c.item.AuctionID, c.item.Name)
		if err := h.deliver(ctx, seller.Address, &message.NoSale{RQ: rq, ItemName: c.item.Name}); err != nil {
			log.Warnf("notifying %s of no sale: %v", seller.Name, err)
		}
		return
	}

	metrics.MetricIncrCounter(ctx, nil, h.metricClosedAuctions, metrics.AttrOutcome("sold"))
	winner := h.resolve(*c.winner)
	price := c.item.CurrentPrice
	log.Infof("auction %s for %s won by %s at %s", c.item.AuctionID, c.item.Name, winner.Name, humanize.Ftoa(price))

	notify := func(p auction.Participant, msg message.Message) {
		if err := h.deliver(ctx, p.Address, msg); err != nil {
			log.Warnf("notifying %s of closure: %v", p.Name, err)
		}
	}
	notify(winner, &message.Winner{RQ: rq, ItemName: c.item.Name, FinalPrice: price, SellerName: seller.Name})
	notify(seller, &message.Sold{RQ: rq, ItemName: c.item.Name, FinalPrice: price, BuyerName: winner.Name})
	for _, l := range c.losers {
		notify(h.resolve(l), &message.Loser{RQ: rq, ItemName: c.item.Name, FinalPrice: price, WinnerName: winner.Name})
	}

	if err := h.startFinalization(c.item, winner, seller); err != nil {
		log.Errorf("starting finalization of %s: %v", c.item.AuctionID, err)
	}
}

// startFinalization registers a transaction and runs its handshake in the
// background.
func (h *House) startFinalization(it auction.Item, buyer, seller auction.Participant) error {
	id, err := h.newID()
	if err != nil {
		return err
	}
	now := time.Now()
	tx := &transaction{
		id:        id,
		auctionID: it.AuctionID,
		itemName:  it.Name,
		buyer:     buyer,
		seller:    seller,
		price:     it.CurrentPrice,
		deadline:  now.Add(h.conf.FinalizeTimeout),
		status:    auction.StatusFinalizing,
		startedAt: now,
		responses: make(map[string]*message.InformResponse),
	}

	h.lk.Lock()
	if h.closed {
		h.lk.Unlock()
		h.settle(tx, auction.ErrShuttingDown)
		h.cancelTransaction(context.Background(), tx, auction.ErrShuttingDown)
		return fmt.Errorf("finalizing %s: %w", id, auction.ErrShuttingDown)
	}
	h.txns[id] = tx
	h.wg.Add(1)
	h.lk.Unlock()

	go h.finalize(tx)
	return nil
}
