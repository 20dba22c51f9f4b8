package family

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repositories return access.ErrNotFound for missing rows.

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	// GetByID returns a live patient.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Patient, error)
	// GetDeleted returns a soft-deleted patient.
	GetDeleted(ctx context.Context, id uuid.UUID) (*Patient, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	// HardDelete removes the row and drops the id from every member's grants.
	HardDelete(ctx context.Context, id uuid.UUID) error
	// GrantToMember appends patientID to the grants of actorID's member row
	// in accountID. Owners are skipped since they see every patient.
	GrantToMember(ctx context.Context, accountID, actorID, patientID uuid.UUID) error
}

type InvitationRepository interface {
	Create(ctx context.Context, inv *Invitation) error
	GetByToken(ctx context.Context, token string) (*Invitation, error)
	ListPending(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*Invitation, error)
	// MarkAccepted fails with ErrInvalid when the invitation was already used.
	MarkAccepted(ctx context.Context, id, actorID uuid.UUID, at time.Time) error
	Delete(ctx context.Context, accountID, id uuid.UUID) error
}

type PreferencesRepository interface {
	Get(ctx context.Context, actorID uuid.UUID) (*Preferences, error)
	Upsert(ctx context.Context, p *Preferences) error
}
