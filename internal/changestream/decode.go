package changestream

import (
	"context"
	"encoding/json"
	"log/slog"

	alertmodels "kinwatch/internal/alert/models"
	locationmodels "kinwatch/internal/location/models"
	"kinwatch/internal/platform/kafka/consumer"
	"kinwatch/internal/platform/metrics"
)

// Decoding wraps a typed batch handler. Records that do not decode are
// logged and dropped; redelivering them would never succeed.
func Decoding[T any](handle func(ctx context.Context, batch []*T) error, logger *slog.Logger, m *metrics.Metrics) consumer.BatchHandler {
	return func(ctx context.Context, msgs []*consumer.Message) error {
		batch := make([]*T, 0, len(msgs))
		for _, msg := range msgs {
			var v T
			if err := json.Unmarshal(msg.Value, &v); err != nil {
				m.IncrementRecordsSkipped(msg.Topic)
				logger.WarnContext(ctx, "dropping undecodable record",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
				continue
			}
			batch = append(batch, &v)
		}
		if len(batch) == 0 {
			return nil
		}
		return handle(ctx, batch)
	}
}

// LocationHandler adapts the geofence evaluator to the location topic.
func LocationHandler(handle func(ctx context.Context, points []*locationmodels.LocationPoint) error, logger *slog.Logger, m *metrics.Metrics) consumer.BatchHandler {
	return Decoding(handle, logger, m)
}

// AlertHandler adapts the dispatcher to the alert topic.
func AlertHandler(handle func(ctx context.Context, alerts []*alertmodels.Alert) error, logger *slog.Logger, m *metrics.Metrics) consumer.BatchHandler {
	return Decoding(handle, logger, m)
}

// Consumer delivers batches per topic. Both the Kafka consumer and Memory
// satisfy it.
type Consumer interface {
	Register(topic string, handler consumer.BatchHandler)
	Run(ctx context.Context) error
}

// Subscribe registers the evaluator and dispatcher handlers on their topics.
func Subscribe(
	c Consumer,
	topics Topics,
	locations func(ctx context.Context, points []*locationmodels.LocationPoint) error,
	alerts func(ctx context.Context, alerts []*alertmodels.Alert) error,
	logger *slog.Logger,
	m *metrics.Metrics,
) {
	c.Register(topics.Location, LocationHandler(locations, logger, m))
	c.Register(topics.Alert, AlertHandler(alerts, logger, m))
}
