// Package consumer runs a franz-go poll loop that hands records to per-topic
// batch handlers with at-least-once semantics.
//
// Records of one poll are grouped by topic and cut into batches of at most
// BatchSize. A batch is committed only after its handler returns nil. When a
// handler fails, every partition touched by that batch or any later batch of
// the same poll is rewound to its lowest unprocessed offset, so the records
// are fetched again on the next poll.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"kinwatch/internal/platform/metrics"
)

// Message is one record handed to a batch handler.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// BatchHandler processes one batch. A non-nil error leaves the batch
// uncommitted for redelivery.
type BatchHandler func(ctx context.Context, msgs []*Message) error

// Client is the subset of *kgo.Client the consumer drives.
type Client interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(setOffsets map[string]map[int32]kgo.EpochOffset)
}

type Consumer struct {
	client    Client
	handlers  map[string]BatchHandler
	batchSize int
	backoff   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

func WithBatchSize(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithRetryBackoff sets the pause after a rewound batch before polling again.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Consumer) { c.backoff = d }
}

func New(client Client, opts ...Option) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("kafka client is required")
	}
	c := &Consumer{
		client:    client,
		handlers:  make(map[string]BatchHandler),
		batchSize: 10,
		backoff:   time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Register binds a handler to a topic. Records of unregistered topics are
// committed without processing.
func (c *Consumer) Register(topic string, handler BatchHandler) {
	c.handlers[topic] = handler
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		if err := c.Process(ctx, fetches.Records()); err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
		}
	}
}

// Process handles the records of one poll. It returns the first handler
// error after rewinding, or nil when everything was committed.
func (c *Consumer) Process(ctx context.Context, records []*kgo.Record) error {
	batches := c.batch(records)
	for i, batch := range batches {
		start := time.Now()
		err := c.handle(ctx, batch)
		c.metrics.ObserveBatch(batch[0].Topic, start, err)
		if err != nil {
			c.logger.ErrorContext(ctx, "batch failed, rewinding for redelivery",
				"topic", batch[0].Topic,
				"records", len(batch),
				"error", err,
			)
			c.rewind(batches[i:])
			return err
		}
		if err := c.client.CommitRecords(ctx, batch...); err != nil {
			// Records stay uncommitted and will be redelivered after a rebalance.
			c.logger.WarnContext(ctx, "commit failed",
				"topic", batch[0].Topic,
				"error", err,
			)
		}
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, batch []*kgo.Record) error {
	handler, ok := c.handlers[batch[0].Topic]
	if !ok {
		c.logger.Warn("no handler for topic, skipping batch",
			"topic", batch[0].Topic,
			"records", len(batch),
		)
		return nil
	}
	msgs := make([]*Message, len(batch))
	for i, r := range batch {
		msgs[i] = &Message{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		}
	}
	return handler(ctx, msgs)
}

// batch groups records by topic in first-seen order, then chunks each group.
func (c *Consumer) batch(records []*kgo.Record) [][]*kgo.Record {
	var order []string
	byTopic := make(map[string][]*kgo.Record)
	for _, r := range records {
		if _, seen := byTopic[r.Topic]; !seen {
			order = append(order, r.Topic)
		}
		byTopic[r.Topic] = append(byTopic[r.Topic], r)
	}

	var out [][]*kgo.Record
	for _, topic := range order {
		group := byTopic[topic]
		for len(group) > 0 {
			n := min(c.batchSize, len(group))
			out = append(out, group[:n])
			group = group[n:]
		}
	}
	return out
}

func (c *Consumer) rewind(pending [][]*kgo.Record) {
	offsets := make(map[string]map[int32]kgo.EpochOffset)
	for _, batch := range pending {
		for _, r := range batch {
			parts, ok := offsets[r.Topic]
			if !ok {
				parts = make(map[int32]kgo.EpochOffset)
				offsets[r.Topic] = parts
			}
			if cur, ok := parts[r.Partition]; !ok || r.Offset < cur.Offset {
				parts[r.Partition] = kgo.EpochOffset{Epoch: -1, Offset: r.Offset}
			}
		}
	}
	c.client.SetOffsets(offsets)
}
