package access

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence the engine reads and writes. Lookups return
// ErrNotFound when the row does not exist.
type Store interface {
	GetActor(ctx context.Context, id uuid.UUID) (*Actor, error)
	UpsertActor(ctx context.Context, a *Actor) error
	SetSuspended(ctx context.Context, actorID uuid.UUID, suspended bool) error
	IsSuperadmin(ctx context.Context, actorID uuid.UUID) (bool, error)
	SetSuperadmin(ctx context.Context, actorID uuid.UUID, granted bool) error

	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	// AccountForActor returns the account the actor owns or is a member of.
	AccountForActor(ctx context.Context, actorID uuid.UUID) (*Account, error)
	// CreateAccount inserts the account and its owner member in one transaction.
	CreateAccount(ctx context.Context, a *Account, owner *Member) error
	// PatientAccount returns the account holding a live (not deleted) patient.
	PatientAccount(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)

	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	GetMemberByActor(ctx context.Context, accountID, actorID uuid.UUID) (*Member, error)
	ListMembers(ctx context.Context, accountID uuid.UUID) ([]*Member, error)
	AddMember(ctx context.Context, m *Member) error
	UpdateMemberRole(ctx context.Context, memberID uuid.UUID, role Role) error
	UpdateMemberPatients(ctx context.Context, memberID uuid.UUID, patientIDs []uuid.UUID) error
	DeleteMember(ctx context.Context, memberID uuid.UUID) error

	// SwapOwner atomically demotes the current owner to co_admin and promotes
	// newOwnerMemberID to account_owner. It returns ErrOwnerChanged when the
	// account's owner is no longer currentOwnerActorID.
	SwapOwner(ctx context.Context, accountID, currentOwnerActorID, newOwnerMemberID uuid.UUID) error
}
