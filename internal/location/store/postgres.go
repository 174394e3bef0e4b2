package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kinwatch/internal/location/models"
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

const pointColumns = `id, subject_id, latitude, longitude, accuracy, recorded_at, received_at, source`

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, p *models.LocationPoint) (*models.LocationPoint, bool, error) {
	exec := tx.Exec(ctx, s.db)
	res, err := exec.ExecContext(ctx, `
		INSERT INTO location_points (`+pointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, uuid.UUID(p.SubjectID), p.Latitude, p.Longitude, nullFloat(p.Accuracy),
		p.Timestamp, p.ReceivedAt, p.Source,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert location rows affected: %w", err)
	}
	if n == 1 {
		c := *p
		return &c, true, nil
	}
	existing, err := s.findByID(ctx, p.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) findByID(ctx context.Context, pointID string) (*models.LocationPoint, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+pointColumns+` FROM location_points WHERE id = $1`, pointID)
	return scanPoint(row)
}

func (s *PostgresStore) LatestBySubject(ctx context.Context, subjectID id.SubjectID) (*models.LocationPoint, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+pointColumns+`
		FROM location_points
		WHERE subject_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`, uuid.UUID(subjectID))
	return scanPoint(row)
}

func (s *PostgresStore) ListRecentBySubject(ctx context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]*models.LocationPoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+pointColumns+`
		FROM location_points
		WHERE subject_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC
		LIMIT $3`, uuid.UUID(subjectID), since, limit)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []*models.LocationPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPoint(row scanner) (*models.LocationPoint, error) {
	var (
		p         models.LocationPoint
		subjectID uuid.UUID
		accuracy  sql.NullFloat64
	)
	err := row.Scan(&p.ID, &subjectID, &p.Latitude, &p.Longitude, &accuracy, &p.Timestamp, &p.ReceivedAt, &p.Source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan location: %w", err)
	}
	p.SubjectID = id.SubjectID(subjectID)
	if accuracy.Valid {
		a := accuracy.Float64
		p.Accuracy = &a
	}
	p.Timestamp = p.Timestamp.UTC()
	p.ReceivedAt = p.ReceivedAt.UTC()
	return &p, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
