package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"kinwatch/internal/alert/models"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
	"kinwatch/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const alertColumns = `id, idempotency_key, subject_id, guardian_id, type, latitude, longitude,
	geofence_id, geofence_name, message, is_read, created_at`

// CreateIfAbsent relies on the unique idempotency_key index: a conflicting
// insert affects no rows and the existing alert is returned instead.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, a *models.Alert) (*models.Alert, bool, error) {
	var fenceID uuid.NullUUID
	if a.GeofenceID != nil {
		fenceID = uuid.NullUUID{UUID: uuid.UUID(*a.GeofenceID), Valid: true}
	}
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`,
		uuid.UUID(a.ID), a.IdempotencyKey, uuid.UUID(a.SubjectID), uuid.UUID(a.GuardianID), string(a.Type),
		a.Location.Lat, a.Location.Lon, fenceID, a.GeofenceName, a.Message, a.IsRead, a.Timestamp,
	)
	var inserted uuid.UUID
	err := row.Scan(&inserted)
	if err == nil {
		return a.Clone(), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, false, sentinel.ErrAlreadyExists
		}
		return nil, false, fmt.Errorf("insert alert: %w", err)
	}

	existing := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE idempotency_key = $1`, a.IdempotencyKey)
	stored, err := scanAlert(existing)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (s *PostgresStore) ListBySubjectSince(ctx context.Context, subjectID id.SubjectID, types []models.Type, since time.Time) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE subject_id = $1 AND created_at >= $2`
	args := []any{uuid.UUID(subjectID), since}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND type = ANY($3)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*models.Alert, error) {
	var (
		a                            models.Alert
		alertID, subjectID, guardian uuid.UUID
		fenceID                      uuid.NullUUID
		alertType                    string
	)
	err := row.Scan(&alertID, &a.IdempotencyKey, &subjectID, &guardian, &alertType,
		&a.Location.Lat, &a.Location.Lon, &fenceID, &a.GeofenceName, &a.Message, &a.IsRead, &a.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.ID = id.AlertID(alertID)
	a.SubjectID = id.SubjectID(subjectID)
	a.GuardianID = id.SubjectID(guardian)
	a.Type = models.Type(alertType)
	a.Timestamp = a.Timestamp.UTC()
	if fenceID.Valid {
		g := id.GeofenceID(fenceID.UUID)
		a.GeofenceID = &g
	}
	return &a, nil
}
