package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kinwatch/internal/family/models"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
	"kinwatch/pkg/platform/tx"
)

// PostgresStore reads subjects and their trusted contacts.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByID(ctx context.Context, subjectID id.SubjectID) (*models.Subject, error) {
	exec := tx.Exec(ctx, s.db)

	var (
		subject    models.Subject
		guardianID uuid.NullUUID
		rawID      uuid.UUID
	)
	err := exec.QueryRowContext(ctx, `
		SELECT id, role, guardian_id, name, contact_phone, active
		FROM subjects
		WHERE id = $1`, uuid.UUID(subjectID),
	).Scan(&rawID, &subject.Role, &guardianID, &subject.Name, &subject.ContactPhone, &subject.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find subject: %w", err)
	}
	subject.ID = id.SubjectID(rawID)
	if guardianID.Valid {
		g := id.SubjectID(guardianID.UUID)
		subject.GuardianID = &g
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT name, phone
		FROM trusted_contacts
		WHERE subject_id = $1
		ORDER BY position`, uuid.UUID(subjectID))
	if err != nil {
		return nil, fmt.Errorf("list trusted contacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c models.TrustedContact
		if err := rows.Scan(&c.Name, &c.Phone); err != nil {
			return nil, fmt.Errorf("scan trusted contact: %w", err)
		}
		subject.TrustedContacts = append(subject.TrustedContacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trusted contacts: %w", err)
	}
	return &subject, nil
}

// Save upserts the subject and replaces its trusted contacts atomically.
func (s *PostgresStore) Save(ctx context.Context, subject *models.Subject) error {
	if err := subject.Validate(); err != nil {
		return err
	}
	var guardianID uuid.NullUUID
	if g, ok := subject.Guardian(); ok {
		guardianID = uuid.NullUUID{UUID: uuid.UUID(g), Valid: true}
	}

	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		exec := tx.Exec(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO subjects (id, role, guardian_id, name, contact_phone, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				role = EXCLUDED.role,
				guardian_id = EXCLUDED.guardian_id,
				name = EXCLUDED.name,
				contact_phone = EXCLUDED.contact_phone,
				active = EXCLUDED.active`,
			uuid.UUID(subject.ID), string(subject.Role), guardianID, subject.Name, subject.ContactPhone, subject.Active,
		)
		if err != nil {
			return fmt.Errorf("upsert subject: %w", err)
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM trusted_contacts WHERE subject_id = $1`, uuid.UUID(subject.ID)); err != nil {
			return fmt.Errorf("clear trusted contacts: %w", err)
		}
		for i, c := range subject.TrustedContacts {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO trusted_contacts (subject_id, position, name, phone)
				VALUES ($1, $2, $3, $4)`,
				uuid.UUID(subject.ID), i, c.Name, c.Phone,
			)
			if err != nil {
				return fmt.Errorf("insert trusted contact: %w", err)
			}
		}
		return nil
	})
}
