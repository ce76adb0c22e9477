package house

import (
	"github.com/textileio/auctionhouse/cmd/auctionhoused/metrics"
)

var prefix = "auctionhouse"

func (h *House) initMetrics() {
	h.metricRegistrations = metrics.Meter.NewInt64Counter(prefix + ".registrations_total")
	h.metricListings = metrics.Meter.NewInt64Counter(prefix + ".listings_total")
	h.metricSubscriptions = metrics.Meter.NewInt64Counter(prefix + ".subscriptions_total")
	h.metricBids = metrics.Meter.NewInt64Counter(prefix + ".bids_total")
	h.metricNegotiations = metrics.Meter.NewInt64Counter(prefix + ".negotiations_total")
	h.metricClosedAuctions = metrics.Meter.NewInt64Counter(prefix + ".closed_auctions_total")
	h.metricFinalizations = metrics.Meter.NewInt64Counter(prefix + ".finalizations_total")
	h.metricFinalizationMillis = metrics.Meter.NewInt64Histogram(prefix + ".finalization_duration_millis")
}
