package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kinwatch/internal/geofence/models"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
	"kinwatch/pkg/platform/tx"
)

// PostgresStore keeps membership in a table keyed by (subject_id, geofence_id)
// and uses the version column as the compare-and-swap token.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key models.MembershipKey) (*models.MembershipState, error) {
	var (
		state     models.MembershipState
		subjectID  uuid.UUID
		fenceID    uuid.UUID
		transition string
		version    int64
	)
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT subject_id, geofence_id, is_inside, last_checked, last_location_id, last_transition, version
		FROM membership_states
		WHERE subject_id = $1 AND geofence_id = $2`,
		uuid.UUID(key.SubjectID), uuid.UUID(key.GeofenceID),
	).Scan(&subjectID, &fenceID, &state.IsInside, &state.LastChecked, &state.LastLocationID, &transition, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	state.SubjectID = id.SubjectID(subjectID)
	state.GeofenceID = id.GeofenceID(fenceID)
	state.LastChecked = state.LastChecked.UTC()
	state.LastTransition = models.Direction(transition)
	state.Version = uint64(version)
	return &state, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, next *models.MembershipState, expectedVersion uint64) error {
	exec := tx.Exec(ctx, s.db)
	newVersion := int64(expectedVersion + 1)

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = exec.ExecContext(ctx, `
			INSERT INTO membership_states (subject_id, geofence_id, is_inside, last_checked, last_location_id, last_transition, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (subject_id, geofence_id) DO NOTHING`,
			uuid.UUID(next.SubjectID), uuid.UUID(next.GeofenceID), next.IsInside, next.LastChecked,
			next.LastLocationID, string(next.LastTransition), newVersion,
		)
	} else {
		res, err = exec.ExecContext(ctx, `
			UPDATE membership_states
			SET is_inside = $3, last_checked = $4, last_location_id = $5, last_transition = $6, version = $7
			WHERE subject_id = $1 AND geofence_id = $2 AND version = $8`,
			uuid.UUID(next.SubjectID), uuid.UUID(next.GeofenceID), next.IsInside, next.LastChecked,
			next.LastLocationID, string(next.LastTransition), newVersion, int64(expectedVersion),
		)
	}
	if err != nil {
		return fmt.Errorf("write membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write membership rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	next.Version = uint64(newVersion)
	return nil
}
