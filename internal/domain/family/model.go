package family

import (
	"time"

	"github.com/google/uuid"

	"github.com/carehub/carehub/internal/domain/access"
)

type PatientKind string

const (
	KindHuman PatientKind = "human"
	KindPet   PatientKind = "pet"
)

// Patient maps to the patients table. A patient is a managed health record,
// a person or a pet, inside one account.
type Patient struct {
	ID                 uuid.UUID   `db:"id" json:"id"`
	AccountID          uuid.UUID   `db:"account_id" json:"account_id"`
	Kind               PatientKind `db:"kind" json:"kind"`
	Name               string      `db:"name" json:"name"`
	BirthDate          *time.Time  `db:"birth_date" json:"birth_date,omitempty"`
	Sex                *string     `db:"sex" json:"sex,omitempty"`
	Species            *string     `db:"species" json:"species,omitempty"`
	Conditions         []string    `db:"conditions" json:"conditions"`
	DietaryPreferences []string    `db:"dietary_preferences" json:"dietary_preferences"`
	DeletedAt          *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

// PatientInput is the writable part of a Patient.
type PatientInput struct {
	Kind               PatientKind `json:"kind"`
	Name               string      `json:"name"`
	BirthDate          *time.Time  `json:"birth_date"`
	Sex                *string     `json:"sex"`
	Species            *string     `json:"species"`
	Conditions         []string    `json:"conditions"`
	DietaryPreferences []string    `json:"dietary_preferences"`
}

// Invitation maps to the invitations table. Token is only returned to the
// inviter in the create response.
type Invitation struct {
	ID         uuid.UUID   `db:"id" json:"id"`
	AccountID  uuid.UUID   `db:"account_id" json:"account_id"`
	Email      string      `db:"email" json:"email"`
	Role       access.Role `db:"role" json:"role"`
	PatientIDs []uuid.UUID `db:"patient_ids" json:"patient_ids"`
	Token      string      `db:"token" json:"-"`
	InvitedBy  uuid.UUID   `db:"invited_by" json:"invited_by"`
	ExpiresAt  time.Time   `db:"expires_at" json:"expires_at"`
	AcceptedAt *time.Time  `db:"accepted_at" json:"accepted_at,omitempty"`
	AcceptedBy *uuid.UUID  `db:"accepted_by" json:"accepted_by,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// Pending reports whether the invitation can still be accepted at now.
func (i *Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}

// InviteInput is the body of an invitation request.
type InviteInput struct {
	Email      string      `json:"email"`
	Role       string      `json:"role"`
	PatientIDs []uuid.UUID `json:"patient_ids"`
}

type WeightUnit string

const (
	WeightKg WeightUnit = "kg"
	WeightLb WeightUnit = "lb"
)

// Preferences maps to actor_preferences: per-actor settings passed into
// features such as the completeness tracker.
type Preferences struct {
	ActorID             uuid.UUID  `db:"actor_id" json:"actor_id"`
	StepTrackingEnabled bool       `db:"step_tracking_enabled" json:"step_tracking_enabled"`
	WeightUnit          WeightUnit `db:"weight_unit" json:"weight_unit"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// DefaultPreferences apply to actors that never saved any.
func DefaultPreferences(actorID uuid.UUID) *Preferences {
	return &Preferences{ActorID: actorID, WeightUnit: WeightKg}
}

// Vital metrics tracked by the completeness tracker.
const (
	MetricWeight        = "weight"
	MetricBloodPressure = "blood_pressure"
	MetricHeartRate     = "heart_rate"
	MetricBloodGlucose  = "blood_glucose"
	MetricSleep         = "sleep"
	MetricSteps         = "steps"
)

// TrackedMetrics lists the metrics the completeness tracker shows for prefs.
// Steps only appear when step tracking is enabled.
func TrackedMetrics(prefs *Preferences) []string {
	metrics := []string{MetricWeight, MetricBloodPressure, MetricHeartRate, MetricBloodGlucose, MetricSleep}
	if prefs != nil && prefs.StepTrackingEnabled {
		metrics = append(metrics, MetricSteps)
	}
	return metrics
}
