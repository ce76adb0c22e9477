package house

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/metrics"
)

// item is the mutable state of a listed item. It's guarded by House.lk.
type item struct {
	auctionID   string
	name        string
	description string
	seller      auction.Participant
	startPrice  float64
	price       float64
	duration    int
	timeLeft    int
	highest     *auction.Participant
	bidders     map[string]auction.Participant
	bidOrder    []string
	offered     bool
	status      auction.Status
	listedAt    time.Time
}

// open reports whether the item still takes bids.
func (it *item) open() bool {
	return it.timeLeft > 0 && (it.status == auction.StatusActive || it.status == auction.StatusNegotiationOffered)
}

func (it *item) view() auction.Item {
	v := auction.Item{
		AuctionID:          it.auctionID,
		Name:               it.name,
		Description:        it.description,
		Seller:             it.seller.Name,
		StartPrice:         it.startPrice,
		CurrentPrice:       it.price,
		Duration:           it.duration,
		TimeLeft:           it.timeLeft,
		NegotiationOffered: it.offered,
		Status:             it.status,
		ListedAt:           it.listedAt,
	}
	if it.highest != nil {
		v.HighestBidder = it.highest.Name
	}
	for _, k := range it.bidOrder {
		v.Bidders = append(v.Bidders, it.bidders[k].Name)
	}
	return v
}

func (it *item) announcement() *message.AuctionAnnounce {
	return &message.AuctionAnnounce{
		RQ:           message.CorrelationID(it.auctionID),
		ItemName:     it.name,
		Description:  it.description,
		CurrentPrice: it.price,
		TimeLeft:     it.timeLeft,
	}
}

// subscriber is a buyer interested in an item, keyed by control address.
type subscriber struct {
	name string
	addr auction.Address
}

// subscribers returns the addresses subscribed to the item with key.
// The caller must hold h.lk.
func (h *House) subscribers(key string) []auction.Address {
	set := h.subs[key]
	res := make([]auction.Address, 0, len(set))
	for _, s := range set {
		res = append(res, s.addr)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Control() < res[j].Control() })
	return res
}

// ListItem puts an item up for auction and starts its lifecycle controller.
// It returns the announcement id bids must carry.
func (h *House) ListItem(
	sellerName string,
	name string,
	description string,
	startPrice float64,
	duration int) (auctionID string, err error) {
	defer func() { metrics.MetricIncrCounter(h.ctx, err, h.metricListings) }()

	seller, err := h.withRole(sellerName, auction.RoleSeller)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", auction.Invalidf("item name is empty")
	}
	if strings.TrimSpace(description) == "" {
		return "", auction.Invalidf("item description is empty")
	}
	if err := auction.ValidatePrice(startPrice); err != nil {
		return "", err
	}
	if duration <= 0 {
		return "", auction.Invalidf("duration must be greater than zero")
	}

	var out outbox
	h.lk.Lock()
	if h.closed {
		h.lk.Unlock()
		return "", auction.ErrShuttingDown
	}
	key := auction.Key(name)
	if _, ok := h.items[key]; ok {
		h.lk.Unlock()
		return "", fmt.Errorf("%w: %s", auction.ErrItemExists, name)
	}
	id := h.newAuctionID()
	it := &item{
		auctionID:   id,
		name:        name,
		description: description,
		seller:      seller,
		startPrice:  startPrice,
		price:       startPrice,
		duration:    duration,
		timeLeft:    duration,
		bidders:     make(map[string]auction.Participant),
		status:      auction.StatusActive,
		listedAt:    time.Now(),
	}
	h.items[key] = it
	for _, addr := range h.subscribers(key) {
		out.add(addr, it.announcement())
	}
	h.wg.Add(1)
	go h.runLifecycle(it)
	h.lk.Unlock()

	h.flush(out)
	log.Infof("%s listed %s (%s) at %s for %d ticks", seller.Name, name, id, humanize.Ftoa(startPrice), duration)
	return id, nil
}

// newAuctionID returns the next announcement id as a decimal string.
// The caller must hold h.lk.
func (h *House) newAuctionID() string {
	h.lastAuctionID++
	return strconv.FormatUint(h.lastAuctionID, 10)
}

// Subscribe registers a buyer's interest in an item. Subscribing twice is a
// no-op. If the item is already listed the buyer gets an immediate announcement.
func (h *House) Subscribe(buyerName, itemName string) (err error) {
	defer func() {
		metrics.MetricIncrCounter(h.ctx, err, h.metricSubscriptions, metrics.AttrOutcome("subscribe"))
	}()

	buyer, err := h.withRole(buyerName, auction.RoleBuyer)
	if err != nil {
		return err
	}
	if strings.TrimSpace(itemName) == "" {
		return auction.Invalidf("item name is empty")
	}

	var out outbox
	h.lk.Lock()
	key := auction.Key(itemName)
	set, ok := h.subs[key]
	if !ok {
		set = make(map[string]subscriber)
		h.subs[key] = set
	}
	set[buyer.Address.Control()] = subscriber{name: buyer.Name, addr: buyer.Address}
	if it, ok := h.items[key]; ok {
		out.add(buyer.Address, it.announcement())
	}
	h.lk.Unlock()

	h.flush(out)
	log.Debugf("%s subscribed to %s", buyer.Name, itemName)
	return nil
}

// Unsubscribe removes a buyer's subscription to an item.
func (h *House) Unsubscribe(buyerName, itemName string) (err error) {
	defer func() {
		metrics.MetricIncrCounter(h.ctx, err, h.metricSubscriptions, metrics.AttrOutcome("unsubscribe"))
	}()

	buyer, err := h.withRole(buyerName, auction.RoleBuyer)
	if err != nil {
		return err
	}

	h.lk.Lock()
	defer h.lk.Unlock()
	key := auction.Key(itemName)
	set, ok := h.subs[key]
	if !ok {
		if _, listed := h.items[key]; !listed {
			return fmt.Errorf("%w: %s", auction.ErrItemNotFound, itemName)
		}
		return fmt.Errorf("%w: %s", auction.ErrNotSubscribed, itemName)
	}
	if _, ok := set[buyer.Address.Control()]; !ok {
		return fmt.Errorf("%w: %s", auction.ErrNotSubscribed, itemName)
	}
	delete(set, buyer.Address.Control())
	if len(set) == 0 {
		delete(h.subs, key)
	}
	log.Debugf("%s unsubscribed from %s", buyer.Name, itemName)
	return nil
}

// Items returns a view of every active item sorted by name.
func (h *House) Items() []auction.Item {
	h.lk.Lock()
	defer h.lk.Unlock()
	res := make([]auction.Item, 0, len(h.items))
	for _, it := range h.items {
		res = append(res, it.view())
	}
	sort.Slice(res, func(i, j int) bool { return auction.Key(res[i].Name) < auction.Key(res[j].Name) })
	return res
}

// Item returns a view of the active item with the given name.
func (h *House) Item(name string) (auction.Item, error) {
	h.lk.Lock()
	defer h.lk.Unlock()
	it, ok := h.items[auction.Key(name)]
	if !ok {
		return auction.Item{}, fmt.Errorf("%w: %s", auction.ErrItemNotFound, name)
	}
	return it.view(), nil
}
