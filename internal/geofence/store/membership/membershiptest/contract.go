// Package membershiptest holds the behaviour every membership store must
// share. Each implementation runs it from its own tests.
package membershiptest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinwatch/internal/geofence/models"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
)

// Store is the surface under test.
type Store interface {
	Get(ctx context.Context, key models.MembershipKey) (*models.MembershipState, error)
	CompareAndSwap(ctx context.Context, next *models.MembershipState, expectedVersion uint64) error
}

type Factory func(t *testing.T) Store

func newKey() models.MembershipKey {
	return models.MembershipKey{
		SubjectID:  id.SubjectID(uuid.New()),
		GeofenceID: id.GeofenceID(uuid.New()),
	}
}

func state(key models.MembershipKey, inside bool, at time.Time) *models.MembershipState {
	return &models.MembershipState{
		SubjectID:   key.SubjectID,
		GeofenceID:  key.GeofenceID,
		IsInside:    inside,
		LastChecked: at,
	}
}

// Run exercises the compare-and-swap contract against a fresh store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("absent key reads as not found", func(t *testing.T) {
		_, err := newStore(t).Get(ctx, newKey())
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("first write creates version 1", func(t *testing.T) {
		store := newStore(t)
		key := newKey()
		next := state(key, true, at)
		require.NoError(t, store.CompareAndSwap(ctx, next, 0))
		assert.Equal(t, uint64(1), next.Version)

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, got.IsInside)
		assert.Equal(t, uint64(1), got.Version)
		assert.True(t, got.LastChecked.Equal(at))
	})

	t.Run("write with a stale version conflicts and leaves the state", func(t *testing.T) {
		store := newStore(t)
		key := newKey()
		require.NoError(t, store.CompareAndSwap(ctx, state(key, true, at), 0))

		err := store.CompareAndSwap(ctx, state(key, false, at.Add(time.Minute)), 0)
		require.ErrorIs(t, err, sentinel.ErrConflict)

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, got.IsInside)
		assert.Equal(t, uint64(1), got.Version)
	})

	t.Run("decision fields round-trip", func(t *testing.T) {
		store := newStore(t)
		key := newKey()
		next := state(key, true, at)
		next.LastLocationID = key.SubjectID.String() + ":1772366400000"
		next.LastTransition = models.DirectionEntry
		require.NoError(t, store.CompareAndSwap(ctx, next, 0))

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, next.LastLocationID, got.LastLocationID)
		assert.Equal(t, models.DirectionEntry, got.LastTransition)

		quiet := state(key, true, at.Add(time.Minute))
		quiet.LastLocationID = key.SubjectID.String() + ":1772366460000"
		require.NoError(t, store.CompareAndSwap(ctx, quiet, 1))
		got, err = store.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, got.LastTransition, "an unchanged status clears the decided crossing")
	})

	t.Run("write with the current version overwrites", func(t *testing.T) {
		store := newStore(t)
		key := newKey()
		require.NoError(t, store.CompareAndSwap(ctx, state(key, true, at), 0))
		next := state(key, false, at.Add(time.Minute))
		require.NoError(t, store.CompareAndSwap(ctx, next, 1))
		assert.Equal(t, uint64(2), next.Version)

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, got.IsInside)
		assert.Equal(t, uint64(2), got.Version)
	})

	t.Run("expected version ahead of the store conflicts", func(t *testing.T) {
		err := newStore(t).CompareAndSwap(ctx, state(newKey(), true, at), 5)
		require.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("concurrent first writes have exactly one winner", func(t *testing.T) {
		store := newStore(t)
		key := newKey()
		const writers = 16

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.CompareAndSwap(ctx, state(key, i%2 == 0, at), 0)
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, sentinel.ErrConflict)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
