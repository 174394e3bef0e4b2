// Package alerttest holds the behaviour every alert store must share.
package alerttest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinwatch/internal/alert/models"
	"kinwatch/internal/geo"
	id "kinwatch/pkg/domain"
)

// Store is the surface under test.
type Store interface {
	CreateIfAbsent(ctx context.Context, a *models.Alert) (*models.Alert, bool, error)
	ListBySubjectSince(ctx context.Context, subjectID id.SubjectID, types []models.Type, since time.Time) ([]*models.Alert, error)
}

type Factory func(t *testing.T) Store

func newAlert(subject id.SubjectID, t models.Type, at time.Time) *models.Alert {
	a := &models.Alert{
		ID:         id.AlertID(uuid.New()),
		SubjectID:  subject,
		GuardianID: id.SubjectID(uuid.New()),
		Type:       t,
		Location:   geo.Point{Lat: 40.7128, Lon: -74.006},
		Message:    "test",
		Timestamp:  at,
	}
	if t == models.TypePanic {
		a.IdempotencyKey = models.PanicKey(subject, at)
	} else {
		fence := id.GeofenceID(uuid.New())
		a.GeofenceID = &fence
		a.GeofenceName = "School"
		a.IdempotencyKey = models.TransitionKey(subject, fence, t, uuid.NewString())
	}
	return a
}

// Run exercises the idempotent create and index queries.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create then list", func(t *testing.T) {
		store := newStore(t)
		a := newAlert(id.SubjectID(uuid.New()), models.TypeGeofenceEntry, t0)
		stored, created, err := store.CreateIfAbsent(ctx, a)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, a, stored)

		found, err := store.ListBySubjectSince(ctx, a.SubjectID, nil, t0)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, a, found[0])
	})

	t.Run("duplicate idempotency key returns the original", func(t *testing.T) {
		store := newStore(t)
		a := newAlert(id.SubjectID(uuid.New()), models.TypeGeofenceExit, t0)
		_, _, err := store.CreateIfAbsent(ctx, a)
		require.NoError(t, err)

		dup := a.Clone()
		dup.ID = id.AlertID(uuid.New())
		dup.Message = "second"
		stored, created, err := store.CreateIfAbsent(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, a.ID, stored.ID)
		assert.Equal(t, "test", stored.Message)

		all, err := store.ListBySubjectSince(ctx, a.SubjectID, nil, t0)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, a.ID, all[0].ID)
	})

	t.Run("concurrent duplicates create once", func(t *testing.T) {
		store := newStore(t)
		template := newAlert(id.SubjectID(uuid.New()), models.TypeGeofenceEntry, t0)

		var created atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a := template.Clone()
				a.ID = id.AlertID(uuid.New())
				_, ok, err := store.CreateIfAbsent(ctx, a)
				assert.NoError(t, err)
				if ok {
					created.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), created.Load())
	})

	t.Run("list filters by type and window, newest first", func(t *testing.T) {
		store := newStore(t)
		subject := id.SubjectID(uuid.New())
		for _, a := range []*models.Alert{
			newAlert(subject, models.TypePanic, t0.Add(-2*time.Minute)),
			newAlert(subject, models.TypePanic, t0.Add(-30*time.Second)),
			newAlert(subject, models.TypePanic, t0.Add(-10*time.Second)),
			newAlert(subject, models.TypeGeofenceEntry, t0.Add(-5*time.Second)),
			newAlert(id.SubjectID(uuid.New()), models.TypePanic, t0),
		} {
			_, _, err := store.CreateIfAbsent(ctx, a)
			require.NoError(t, err)
		}

		panics, err := store.ListBySubjectSince(ctx, subject, []models.Type{models.TypePanic}, t0.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, panics, 2)
		assert.True(t, panics[0].Timestamp.Equal(t0.Add(-10*time.Second)))
		assert.True(t, panics[1].Timestamp.Equal(t0.Add(-30*time.Second)))

		all, err := store.ListBySubjectSince(ctx, subject, nil, t0.Add(-time.Minute))
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}
