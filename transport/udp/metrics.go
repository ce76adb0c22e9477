package udp

import (
	"context"
	"time"

	"github.com/textileio/auctionhouse/message"
	"github.com/textileio/auctionhouse/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type otelMetricsCollector struct {
	metricHandledMessages             metric.Int64Counter
	metricHandleMessageDurationMillis metric.Int64Histogram
	metricDroppedMessages             metric.Int64Counter
	metricSentMessages                metric.Int64Counter
}

func (c *otelMetricsCollector) onHandle(ctx context.Context, kind message.Type, timeTaken time.Duration) {
	label := attribute.String("type", string(kind))
	c.metricHandledMessages.Add(ctx, 1, label)
	c.metricHandleMessageDurationMillis.Record(ctx, timeTaken.Milliseconds(), label)
}

func (c *otelMetricsCollector) onDrop(ctx context.Context) {
	c.metricDroppedMessages.Add(ctx, 1)
}

func (c *otelMetricsCollector) onSend(ctx context.Context, kind message.Type, err error) {
	metrics.MetricIncrCounter(ctx, err, c.metricSentMessages, attribute.String("type", string(kind)))
}

func (s *Server) initMetrics(meter metric.MeterMust) {
	s.metrics = &otelMetricsCollector{
		metricHandledMessages:             meter.NewInt64Counter("udp_handled_messages_total"),
		metricHandleMessageDurationMillis: meter.NewInt64Histogram("udp_handle_message_duration_millis"),
		metricDroppedMessages:             meter.NewInt64Counter("udp_dropped_messages_total"),
		metricSentMessages:                meter.NewInt64Counter("udp_sent_messages_total"),
	}
}
