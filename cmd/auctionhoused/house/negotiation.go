package house

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/metrics"
)

// AcceptNegotiation applies the seller's reduced price to an item that was
// offered a negotiation and tells its subscribers.
func (h *House) AcceptNegotiation(sellerName, itemName, correlationID string, newPrice float64) (err error) {
	defer func() {
		metrics.MetricIncrCounter(h.ctx, err, h.metricNegotiations, metrics.AttrOutcome("accept"))
	}()

	if err := auction.ValidatePrice(newPrice); err != nil {
		return err
	}

	var out outbox
	h.lk.Lock()
	it, err := h.negotiating(sellerName, itemName, correlationID)
	if err != nil {
		h.lk.Unlock()
		return err
	}
	it.price = newPrice
	it.status = auction.StatusActive
	adj := &message.PriceAdjustment{
		RQ:       message.CorrelationID(it.auctionID),
		ItemName: it.name,
		NewPrice: newPrice,
		TimeLeft: it.timeLeft,
	}
	for _, addr := range h.subscribers(auction.Key(it.name)) {
		out.add(addr, adj)
	}
	h.lk.Unlock()

	h.flush(out)
	log.Infof("%s lowered %s to %s", sellerName, itemName, humanize.Ftoa(newPrice))
	return nil
}

// RefuseNegotiation keeps the item's price. The item won't be offered a
// negotiation again.
func (h *House) RefuseNegotiation(sellerName, itemName, correlationID string) (err error) {
	defer func() {
		metrics.MetricIncrCounter(h.ctx, err, h.metricNegotiations, metrics.AttrOutcome("refuse"))
	}()

	h.lk.Lock()
	defer h.lk.Unlock()
	it, err := h.negotiating(sellerName, itemName, correlationID)
	if err != nil {
		return err
	}
	it.status = auction.StatusActive
	log.Debugf("%s kept the price of %s", sellerName, itemName)
	return nil
}

// negotiating returns the item if sellerName may answer its pending offer.
// The caller must hold h.lk.
func (h *House) negotiating(sellerName, itemName, correlationID string) (*item, error) {
	seller, err := h.withRole(sellerName, auction.RoleSeller)
	if err != nil {
		return nil, err
	}
	it, ok := h.items[auction.Key(itemName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", auction.ErrItemNotFound, itemName)
	}
	if strings.TrimSpace(correlationID) != it.auctionID {
		return nil, fmt.Errorf("%w: %s", auction.ErrStaleCorrelation, itemName)
	}
	if auction.Key(seller.Name) != auction.Key(it.seller.Name) {
		return nil, fmt.Errorf("%w: %s is not the seller of %s", auction.ErrWrongRole, seller.Name, it.name)
	}
	if it.status != auction.StatusNegotiationOffered || !it.open() {
		return nil, fmt.Errorf("%w: %s", auction.ErrNoNegotiation, it.name)
	}
	return it, nil
}
