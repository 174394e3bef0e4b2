package geofence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"kinwatch/internal/geofence/models"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const fenceColumns = `id, guardian_id, target_subject_id, name, center_lat, center_lon,
	radius_meters, active, notify_on_entry, notify_on_exit`

func (s *PostgresStore) Save(ctx context.Context, g *models.Geofence) error {
	if err := g.Validate(); err != nil {
		return err
	}
	var target uuid.NullUUID
	if g.TargetSubjectID != nil {
		target = uuid.NullUUID{UUID: uuid.UUID(*g.TargetSubjectID), Valid: true}
	}
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO geofences (`+fenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			guardian_id = EXCLUDED.guardian_id,
			target_subject_id = EXCLUDED.target_subject_id,
			name = EXCLUDED.name,
			center_lat = EXCLUDED.center_lat,
			center_lon = EXCLUDED.center_lon,
			radius_meters = EXCLUDED.radius_meters,
			active = EXCLUDED.active,
			notify_on_entry = EXCLUDED.notify_on_entry,
			notify_on_exit = EXCLUDED.notify_on_exit`,
		uuid.UUID(g.ID), uuid.UUID(g.GuardianID), target, g.Name, g.Center.Lat, g.Center.Lon,
		g.RadiusMeters, g.Active, g.NotifyOnEntry, g.NotifyOnExit,
	)
	if err != nil {
		return fmt.Errorf("upsert geofence: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveByGuardian(ctx context.Context, guardianID id.SubjectID) ([]*models.Geofence, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+fenceColumns+`
		FROM geofences
		WHERE guardian_id = $1 AND active
		ORDER BY name, id`, uuid.UUID(guardianID))
	if err != nil {
		return nil, fmt.Errorf("list geofences: %w", err)
	}
	defer rows.Close()

	var out []*models.Geofence
	for rows.Next() {
		g, err := scanFence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFence(row scanner) (*models.Geofence, error) {
	var (
		g                 models.Geofence
		fenceID, guardian uuid.UUID
		target            uuid.NullUUID
	)
	err := row.Scan(&fenceID, &guardian, &target, &g.Name, &g.Center.Lat, &g.Center.Lon,
		&g.RadiusMeters, &g.Active, &g.NotifyOnEntry, &g.NotifyOnExit)
	if err != nil {
		return nil, fmt.Errorf("scan geofence: %w", err)
	}
	g.ID = id.GeofenceID(fenceID)
	g.GuardianID = id.SubjectID(guardian)
	if target.Valid {
		t := id.SubjectID(target.UUID)
		g.TargetSubjectID = &t
	}
	return &g, nil
}
