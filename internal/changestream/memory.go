package changestream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kinwatch/internal/platform/kafka/consumer"
	"kinwatch/internal/platform/metrics"
)

// ErrUnknownTopic is returned when publishing to a topic with no handler.
var ErrUnknownTopic = errors.New("no handler registered for topic")

// Memory is a single-process stream for running without a broker. Each
// registered topic gets a buffered queue drained in batches; a failed batch
// is redelivered after a backoff until it succeeds.
type Memory struct {
	mu        sync.RWMutex
	queues    map[string]chan *consumer.Message
	handlers  map[string]consumer.BatchHandler
	offsets   map[string]int64
	batchSize int
	backoff   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type MemoryOption func(*Memory)

func WithMemoryBatchSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

func WithMemoryBackoff(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.backoff = d
		}
	}
}

func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(m *Memory) { m.logger = logger }
}

func WithMemoryMetrics(mt *metrics.Metrics) MemoryOption {
	return func(m *Memory) { m.metrics = mt }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		queues:    make(map[string]chan *consumer.Message),
		handlers:  make(map[string]consumer.BatchHandler),
		offsets:   make(map[string]int64),
		batchSize: 10,
		backoff:   time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register must be called before Run.
func (m *Memory) Register(topic string, handler consumer.BatchHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	m.queues[topic] = make(chan *consumer.Message, 1024)
}

func (m *Memory) Publish(ctx context.Context, topic string, key, value []byte) error {
	m.mu.Lock()
	queue, ok := m.queues[topic]
	offset := m.offsets[topic]
	m.offsets[topic] = offset + 1
	m.mu.Unlock()
	if !ok {
		return ErrUnknownTopic
	}

	msg := &consumer.Message{Topic: topic, Offset: offset, Key: key, Value: value, Timestamp: time.Now()}
	select {
	case queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains every topic until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) error {
	m.mu.RLock()
	g, ctx := errgroup.WithContext(ctx)
	for topic, queue := range m.queues {
		handler := m.handlers[topic]
		g.Go(func() error {
			m.drain(ctx, topic, queue, handler)
			return nil
		})
	}
	m.mu.RUnlock()
	return g.Wait()
}

func (m *Memory) drain(ctx context.Context, topic string, queue <-chan *consumer.Message, handler consumer.BatchHandler) {
	for {
		var batch []*consumer.Message
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			batch = append(batch, msg)
		}
	fill:
		for len(batch) < m.batchSize {
			select {
			case msg := <-queue:
				batch = append(batch, msg)
			default:
				break fill
			}
		}

		for {
			start := time.Now()
			err := handler(ctx, batch)
			m.metrics.ObserveBatch(topic, start, err)
			if err == nil {
				break
			}
			m.logger.WarnContext(ctx, "batch failed, redelivering",
				"topic", topic,
				"records", len(batch),
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.backoff):
			}
		}
	}
}
