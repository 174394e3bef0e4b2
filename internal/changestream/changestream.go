// Package changestream emits "record inserted" events after store writes and
// delivers them, decoded, to the pipeline handlers.
package changestream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	alertmodels "kinwatch/internal/alert/models"
	locationmodels "kinwatch/internal/location/models"
	id "kinwatch/pkg/domain"
)

// Publisher appends one keyed event to a topic. Events with the same key are
// delivered in publish order.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Topics names the two insert streams.
type Topics struct {
	Location string
	Alert    string
}

const (
	publishAttempts = 3
	publishBackoff  = 100 * time.Millisecond
)

// LocationStore is the write side of the location store.
type LocationStore interface {
	InsertIfAbsent(ctx context.Context, p *locationmodels.LocationPoint) (*locationmodels.LocationPoint, bool, error)
	LatestBySubject(ctx context.Context, subjectID id.SubjectID) (*locationmodels.LocationPoint, error)
	ListRecentBySubject(ctx context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]*locationmodels.LocationPoint, error)
}

// AlertStore is the write side of the alert store.
type AlertStore interface {
	CreateIfAbsent(ctx context.Context, a *alertmodels.Alert) (*alertmodels.Alert, bool, error)
	ListBySubjectSince(ctx context.Context, subjectID id.SubjectID, types []alertmodels.Type, since time.Time) ([]*alertmodels.Alert, error)
}

// PublishingLocations publishes every newly inserted point. Duplicates of an
// existing point emit nothing.
type PublishingLocations struct {
	LocationStore
	publisher Publisher
	topic     string
	logger    *slog.Logger
}

func NewPublishingLocations(inner LocationStore, publisher Publisher, topic string, logger *slog.Logger) *PublishingLocations {
	return &PublishingLocations{LocationStore: inner, publisher: publisher, topic: topic, logger: logger}
}

func (s *PublishingLocations) InsertIfAbsent(ctx context.Context, p *locationmodels.LocationPoint) (*locationmodels.LocationPoint, bool, error) {
	stored, created, err := s.LocationStore.InsertIfAbsent(ctx, p)
	if err != nil || !created {
		return stored, created, err
	}
	emit(ctx, s.publisher, s.logger, s.topic, stored.SubjectID, stored,
		"location_id", stored.ID)
	return stored, created, nil
}

// PublishingAlerts publishes every newly created alert.
type PublishingAlerts struct {
	AlertStore
	publisher Publisher
	topic     string
	logger    *slog.Logger
}

func NewPublishingAlerts(inner AlertStore, publisher Publisher, topic string, logger *slog.Logger) *PublishingAlerts {
	return &PublishingAlerts{AlertStore: inner, publisher: publisher, topic: topic, logger: logger}
}

func (s *PublishingAlerts) CreateIfAbsent(ctx context.Context, a *alertmodels.Alert) (*alertmodels.Alert, bool, error) {
	stored, created, err := s.AlertStore.CreateIfAbsent(ctx, a)
	if err != nil || !created {
		return stored, created, err
	}
	emit(ctx, s.publisher, s.logger, s.topic, stored.SubjectID, stored,
		"alert_id", stored.ID.String())
	return stored, created, nil
}

// emit publishes the insert event, retrying briefly. The record is already
// durable, so a publish that keeps failing is logged rather than returned.
func emit(ctx context.Context, publisher Publisher, logger *slog.Logger, topic string, key id.SubjectID, record any, attrs ...any) {
	value, err := json.Marshal(record)
	if err != nil {
		logger.ErrorContext(ctx, "encode insert event", append(attrs, "error", err)...)
		return
	}
	keyBytes := []byte(key.String())

	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if err = publisher.Publish(ctx, topic, keyBytes, value); err == nil {
			return
		}
		if attempt == publishAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(publishBackoff * time.Duration(attempt)):
		}
	}
	logger.ErrorContext(ctx, "insert event not published",
		append(attrs, "topic", topic, "error", fmt.Errorf("after %d attempts: %w", publishAttempts, err))...)
}
