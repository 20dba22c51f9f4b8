package access

import (
	"time"

	"github.com/google/uuid"
)

// Actor maps to the actors table.
type Actor struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       *string   `db:"email" json:"email,omitempty"`
	Phone       *string   `db:"phone" json:"phone,omitempty"`
	Suspended   bool      `db:"suspended" json:"suspended"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Account maps to the accounts table. It is the household tenant boundary.
type Account struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	OwnerActorID uuid.UUID `db:"owner_actor_id" json:"owner_actor_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Member maps to the family_members table.
type Member struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	AccountID    uuid.UUID   `db:"account_id" json:"account_id"`
	ActorID      uuid.UUID   `db:"actor_id" json:"actor_id"`
	Role         Role        `db:"role" json:"role"`
	PatientIDs   []uuid.UUID `db:"patient_ids" json:"patient_ids"`
	Relationship *string     `db:"relationship" json:"relationship,omitempty"`
	Profession   *string     `db:"profession" json:"profession,omitempty"`
	Availability *string     `db:"availability" json:"availability,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// CanAccessPatient reports whether patientID is on the member's grant list.
// The owner sees every patient in the account.
func (m *Member) CanAccessPatient(patientID uuid.UUID) bool {
	if m.Role == RoleAccountOwner {
		return true
	}
	for _, id := range m.PatientIDs {
		if id == patientID {
			return true
		}
	}
	return false
}

// Decision is the result of a granted authorization.
type Decision struct {
	AccountID      uuid.UUID `json:"account_id"`
	AccountOwnerID uuid.UUID `json:"account_owner_id"`
	Role           Role      `json:"role"`
}

// Membership is an actor's resolved household and role.
type Membership struct {
	Account *Account `json:"account"`
	Role    Role     `json:"role"`
}
