package models

import (
	"strings"

	id "kinwatch/pkg/domain"
	dErrors "kinwatch/pkg/domain-errors"
)

// Role distinguishes caregivers from the people they monitor.
type Role string

const (
	RoleGuardian  Role = "GUARDIAN"
	RoleMonitored Role = "MONITORED"
)

func (r Role) IsValid() bool {
	return r == RoleGuardian || r == RoleMonitored
}

// TrustedContact is an additional emergency recipient owned by a subject.
// Phone is stored as entered; senders validate it at fan-out time.
type TrustedContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Subject is a family member.
//
// Invariants:
//   - Name is non-empty
//   - A MONITORED subject has exactly one guardian; a GUARDIAN has none
//   - A subject is never its own guardian
//
// The pipeline only reads subjects. Profile management lives outside this
// service, so the directory is treated as read-only input.
type Subject struct {
	ID              id.SubjectID     `json:"id"`
	Role            Role             `json:"role"`
	GuardianID      *id.SubjectID    `json:"guardian_id,omitempty"`
	Name            string           `json:"name"`
	ContactPhone    string           `json:"contact_phone,omitempty"`
	TrustedContacts []TrustedContact `json:"trusted_contacts,omitempty"`
	Active          bool             `json:"active"`
}

// Validate checks the subject invariants.
func (s *Subject) Validate() error {
	if s.ID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "subject id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "subject name is required")
	}
	if !s.Role.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid subject role: "+string(s.Role))
	}
	switch s.Role {
	case RoleMonitored:
		if s.GuardianID == nil || s.GuardianID.IsNil() {
			return dErrors.New(dErrors.CodeInvariantViolation, "monitored subject requires a guardian")
		}
		if *s.GuardianID == s.ID {
			return dErrors.New(dErrors.CodeInvariantViolation, "subject cannot be its own guardian")
		}
	case RoleGuardian:
		if s.GuardianID != nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "guardian cannot have a guardian")
		}
	}
	return nil
}

func (s *Subject) IsMonitored() bool {
	return s.Role == RoleMonitored
}

// Guardian returns the guardian id, if any.
func (s *Subject) Guardian() (id.SubjectID, bool) {
	if s.GuardianID == nil || s.GuardianID.IsNil() {
		return id.SubjectID{}, false
	}
	return *s.GuardianID, true
}

// Clone returns a deep copy so stores never hand out shared slices.
func (s *Subject) Clone() *Subject {
	c := *s
	if s.GuardianID != nil {
		g := *s.GuardianID
		c.GuardianID = &g
	}
	c.TrustedContacts = append([]TrustedContact(nil), s.TrustedContacts...)
	return &c
}
