package metrics

import (
	"context"

	"github.com/textileio/auctionhouse/auction"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// AttrOK is a metric tag to indicate a successful operation.
	AttrOK = attribute.Key("status").String("ok")
	// AttrError is a metric tag to indicate a failed operation.
	AttrError = attribute.Key("status").String("error")
)

// AttrClass tags a failure with its error class.
func AttrClass(err error) attribute.KeyValue {
	return attribute.Key("class").String(string(auction.Classify(err)))
}

// AttrOutcome tags an operation with a named outcome.
func AttrOutcome(outcome string) attribute.KeyValue {
	return attribute.Key("outcome").String(outcome)
}

// MetricIncrCounter increments the specified Int64Counter by 1. Depending if err
// is nil or not, it will use AttrOK or AttrError respectively. This method is a helper
// for deferring in methods.
func MetricIncrCounter(ctx context.Context, err error, m metric.Int64Counter, labels ...attribute.KeyValue) {
	attr := AttrOK
	if err != nil {
		attr = AttrError
		labels = append(labels, AttrClass(err))
	}
	m.Add(ctx, 1, append(labels, attr)...)
}
