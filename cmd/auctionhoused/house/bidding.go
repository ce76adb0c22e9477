package house

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/metrics"
)

// Bid places a bid on an active item. The correlation id must match the
// item's current announcement id and amount must beat the current price.
// On success subscribers and the seller receive a BidUpdate.
func (h *House) Bid(bidderName, itemName, correlationID string, amount float64) (err error) {
	defer func() { metrics.MetricIncrCounter(h.ctx, err, h.metricBids) }()

	bidder, err := h.withRole(bidderName, auction.RoleBuyer)
	if err != nil {
		return err
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return auction.Invalidf("bid amount is not a number")
	}

	var out outbox
	h.lk.Lock()
	key := auction.Key(itemName)
	it, ok := h.items[key]
	if !ok {
		h.lk.Unlock()
		return fmt.Errorf("%w: %s", auction.ErrItemNotFound, itemName)
	}
	if strings.TrimSpace(correlationID) != it.auctionID {
		h.lk.Unlock()
		return fmt.Errorf("%w: %s", auction.ErrStaleCorrelation, itemName)
	}
	if !it.open() {
		h.lk.Unlock()
		return fmt.Errorf("%w: %s", auction.ErrAuctionClosed, itemName)
	}
	if amount <= it.price {
		h.lk.Unlock()
		return fmt.Errorf("%w: current price is %s", auction.ErrBidTooLow, humanize.Ftoa(it.price))
	}

	it.price = amount
	it.highest = &bidder
	bk := auction.Key(bidder.Name)
	if _, ok := it.bidders[bk]; !ok {
		it.bidOrder = append(it.bidOrder, bk)
	}
	it.bidders[bk] = bidder
	// A pending price offer is moot once somebody bids.
	it.status = auction.StatusActive

	update := &message.BidUpdate{
		RQ:         message.CorrelationID(it.auctionID),
		ItemName:   it.name,
		HighestBid: amount,
		BidderName: bidder.Name,
		TimeLeft:   it.timeLeft,
	}
	for _, addr := range h.subscribers(key) {
		out.add(addr, update)
	}
	out.add(it.seller.Address, update)
	h.lk.Unlock()

	h.flush(out)
	log.Debugf("%s bid %s on %s", bidder.Name, humanize.Ftoa(amount), it.name)
	return nil
}
