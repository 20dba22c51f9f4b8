package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine answers authorization questions for households and performs the
// role changes whose rules it owns. It keeps no state between calls; every
// decision is read-then-act against the Store and fails closed.
type Engine struct {
	store  Store
	logger zerolog.Logger
}

func NewEngine(store Store, logger zerolog.Logger) *Engine {
	return &Engine{store: store, logger: logger.With().Str("component", "access").Logger()}
}

// activeActor loads the caller and rejects unknown or suspended identities.
func (e *Engine) activeActor(ctx context.Context, actorID uuid.UUID) (*Actor, error) {
	if actorID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	actor, err := e.store.GetActor(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("load actor: %w", err)
	}
	if actor.Suspended {
		return nil, ErrUnauthorized
	}
	return actor, nil
}

// ResolveRole returns the actor's role in accountID. Superadmins resolve to
// RoleSuperadmin for every account.
func (e *Engine) ResolveRole(ctx context.Context, actorID, accountID uuid.UUID) (Role, error) {
	super, err := e.store.IsSuperadmin(ctx, actorID)
	if err != nil {
		return "", fmt.Errorf("check superadmin: %w", err)
	}
	if super {
		return RoleSuperadmin, nil
	}
	return e.householdRole(ctx, actorID, accountID)
}

func (e *Engine) householdRole(ctx context.Context, actorID, accountID uuid.UUID) (Role, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("load account: %w", err)
	}
	if account.OwnerActorID == actorID {
		return RoleAccountOwner, nil
	}
	member, err := e.store.GetMemberByActor(ctx, accountID, actorID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("load member: %w", err)
	}
	return member.Role, nil
}

// Authorize decides whether actorID may exercise capability on patientID.
//
// A patient the caller cannot see, whether it does not exist or lives in
// another household or is simply not shared with the caller, is reported as
// ErrNotFound so that patient ids cannot be enumerated.
func (e *Engine) Authorize(ctx context.Context, actorID, patientID uuid.UUID, capability Capability) (*Decision, error) {
	if _, err := e.activeActor(ctx, actorID); err != nil {
		return nil, err
	}

	accountID, err := e.store.PatientAccount(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locate patient: %w", err)
	}
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	decision := &Decision{AccountID: account.ID, AccountOwnerID: account.OwnerActorID}

	if actorID == account.OwnerActorID {
		decision.Role = RoleAccountOwner
		return e.check(decision, capability)
	}

	super, err := e.store.IsSuperadmin(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("check superadmin: %w", err)
	}
	if super {
		decision.Role = RoleSuperadmin
		return e.check(decision, capability)
	}

	member, err := e.store.GetMemberByActor(ctx, account.ID, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}
	if !IsAccountWide(capability) && !member.CanAccessPatient(patientID) {
		return nil, ErrNotFound
	}

	decision.Role = member.Role
	return e.check(decision, capability)
}

// AuthorizeAccount is the household-scoped variant of Authorize used by
// operations that do not target a single patient.
func (e *Engine) AuthorizeAccount(ctx context.Context, actorID, accountID uuid.UUID, capability Capability) (*Decision, error) {
	if _, err := e.activeActor(ctx, actorID); err != nil {
		return nil, err
	}
	account, err := e.store.GetAccount(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	role, err := e.ResolveRole(ctx, actorID, accountID)
	if errors.Is(err, ErrNotMember) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.check(&Decision{AccountID: account.ID, AccountOwnerID: account.OwnerActorID, Role: role}, capability)
}

// AuthorizeOwnAccount resolves the caller's household and checks capability
// on it. An actor without a household is denied every capability.
func (e *Engine) AuthorizeOwnAccount(ctx context.Context, actorID uuid.UUID, capability Capability) (*Decision, error) {
	if _, err := e.activeActor(ctx, actorID); err != nil {
		return nil, err
	}
	account, err := e.store.AccountForActor(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDenied
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	role, err := e.householdRole(ctx, actorID, account.ID)
	if errors.Is(err, ErrNotMember) {
		return nil, ErrDenied
	}
	if err != nil {
		return nil, err
	}
	return e.check(&Decision{AccountID: account.ID, AccountOwnerID: account.OwnerActorID, Role: role}, capability)
}

func (e *Engine) check(d *Decision, capability Capability) (*Decision, error) {
	if !HasCapability(d.Role, capability) {
		return nil, ErrDenied
	}
	return d, nil
}

// AccountForActor returns the household the actor belongs to and their role in it.
func (e *Engine) AccountForActor(ctx context.Context, actorID uuid.UUID) (*Membership, error) {
	if _, err := e.activeActor(ctx, actorID); err != nil {
		return nil, err
	}
	account, err := e.store.AccountForActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	role, err := e.householdRole(ctx, actorID, account.ID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Membership{Account: account, Role: role}, nil
}

// MemberForActor returns the caller's own member record, with its patient
// grants. An actor without a household is denied.
func (e *Engine) MemberForActor(ctx context.Context, actorID uuid.UUID) (*Member, error) {
	if _, err := e.activeActor(ctx, actorID); err != nil {
		return nil, err
	}
	account, err := e.store.AccountForActor(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDenied
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	m, err := e.store.GetMemberByActor(ctx, account.ID, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDenied
	}
	if err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}
	return m, nil
}

// RegisterActor creates or refreshes the caller's actor record.
func (e *Engine) RegisterActor(ctx context.Context, a *Actor) error {
	if a.ID == uuid.Nil {
		return ErrUnauthorized
	}
	a.DisplayName = strings.TrimSpace(a.DisplayName)
	if a.DisplayName == "" {
		return fmt.Errorf("%w: display_name is required", ErrInvalid)
	}
	return e.store.UpsertActor(ctx, a)
}

// CreateAccount opens a new household owned by actorID. An actor belongs to
// at most one household.
func (e *Engine) CreateAccount(ctx context.Context, actorID uuid.UUID, name string) (*Account, error) {
	if _, err := e.activeActor(ctx, actorID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: account name is required", ErrInvalid)
	}
	if _, err := e.store.AccountForActor(ctx, actorID); err == nil {
		return nil, fmt.Errorf("%w: actor already belongs to a household", ErrForbidden)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load account: %w", err)
	}

	account := &Account{ID: uuid.New(), Name: name, OwnerActorID: actorID}
	owner := &Member{ID: uuid.New(), AccountID: account.ID, ActorID: actorID, Role: RoleAccountOwner}
	if err := e.store.CreateAccount(ctx, account, owner); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	e.logger.Info().Str("account_id", account.ID.String()).Str("actor_id", actorID.String()).Msg("account created")
	return account, nil
}

// ListMembers returns the members of the caller's household.
func (e *Engine) ListMembers(ctx context.Context, actorID uuid.UUID) ([]*Member, error) {
	d, err := e.AuthorizeOwnAccount(ctx, actorID, CapViewMembers)
	if err != nil {
		return nil, err
	}
	return e.store.ListMembers(ctx, d.AccountID)
}

// managedTarget loads targetMemberID and checks that actorID holds
// manageMembers in the same account and strictly outranks the target.
func (e *Engine) managedTarget(ctx context.Context, actorID, targetMemberID uuid.UUID) (*Member, Role, error) {
	if _, err := e.activeActor(ctx, actorID); err != nil {
		return nil, "", err
	}
	target, err := e.store.GetMember(ctx, targetMemberID)
	if errors.Is(err, ErrNotFound) {
		return nil, "", ErrForbidden
	}
	if err != nil {
		return nil, "", fmt.Errorf("load member: %w", err)
	}
	actorRole, err := e.ResolveRole(ctx, actorID, target.AccountID)
	if errors.Is(err, ErrNotMember) {
		return nil, "", ErrForbidden
	}
	if err != nil {
		return nil, "", err
	}
	if !HasCapability(actorRole, CapManageMembers) || !actorRole.Outranks(target.Role) {
		return nil, "", ErrForbidden
	}
	return target, actorRole, nil
}

// AssignRole changes targetMemberID's role. The actor must strictly outrank
// both the member's current role and newRole; account_owner is never
// assignable here, only through TransferOwnership.
func (e *Engine) AssignRole(ctx context.Context, actorID, targetMemberID uuid.UUID, newRole Role) error {
	if !newRole.IsHouseholdRole() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, newRole)
	}
	if newRole == RoleAccountOwner {
		return ErrForbidden
	}
	target, actorRole, err := e.managedTarget(ctx, actorID, targetMemberID)
	if err != nil {
		return err
	}
	if !CanGrant(actorRole, newRole) {
		return ErrForbidden
	}
	if target.Role == newRole {
		return nil
	}
	if err := e.store.UpdateMemberRole(ctx, target.ID, newRole); err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	e.logger.Info().
		Str("actor_id", actorID.String()).
		Str("member_id", target.ID.String()).
		Str("from", string(target.Role)).
		Str("to", string(newRole)).
		Msg("role assigned")
	return nil
}

// RemoveMember deletes a member the actor strictly outranks.
func (e *Engine) RemoveMember(ctx context.Context, actorID, targetMemberID uuid.UUID) error {
	target, _, err := e.managedTarget(ctx, actorID, targetMemberID)
	if err != nil {
		return err
	}
	if err := e.store.DeleteMember(ctx, target.ID); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	e.logger.Info().Str("actor_id", actorID.String()).Str("member_id", target.ID.String()).Msg("member removed")
	return nil
}

// GrantPatients replaces the patient grant list of a member the actor
// outranks. Every patient must belong to the member's account.
func (e *Engine) GrantPatients(ctx context.Context, actorID, targetMemberID uuid.UUID, patientIDs []uuid.UUID) error {
	target, _, err := e.managedTarget(ctx, actorID, targetMemberID)
	if err != nil {
		return err
	}
	unique := make([]uuid.UUID, 0, len(patientIDs))
	seen := make(map[uuid.UUID]bool, len(patientIDs))
	for _, pid := range patientIDs {
		if seen[pid] {
			continue
		}
		seen[pid] = true
		accountID, err := e.store.PatientAccount(ctx, pid)
		if errors.Is(err, ErrNotFound) || (err == nil && accountID != target.AccountID) {
			return fmt.Errorf("%w: patient %s", ErrNotFound, pid)
		}
		if err != nil {
			return fmt.Errorf("locate patient: %w", err)
		}
		unique = append(unique, pid)
	}
	return e.store.UpdateMemberPatients(ctx, target.ID, unique)
}

// AddMember records a new household member, e.g. on accepting an invitation.
// The role rules are enforced where the invitation is issued.
func (e *Engine) AddMember(ctx context.Context, m *Member) error {
	if !m.Role.IsHouseholdRole() || m.Role == RoleAccountOwner {
		return fmt.Errorf("%w: role %q cannot be granted to a new member", ErrInvalid, m.Role)
	}
	if _, err := e.activeActor(ctx, m.ActorID); err != nil {
		return err
	}
	if _, err := e.store.AccountForActor(ctx, m.ActorID); err == nil {
		return fmt.Errorf("%w: actor already belongs to a household", ErrForbidden)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("load account: %w", err)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return e.store.AddMember(ctx, m)
}

// TransferOwnership hands the caller's household to newOwnerMemberID. The old
// owner becomes co_admin in the same atomic write; on any failed precondition
// nothing changes.
func (e *Engine) TransferOwnership(ctx context.Context, currentOwnerID, newOwnerMemberID uuid.UUID) error {
	if _, err := e.activeActor(ctx, currentOwnerID); err != nil {
		return err
	}
	account, err := e.store.AccountForActor(ctx, currentOwnerID)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidTransfer
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if account.OwnerActorID != currentOwnerID {
		return ErrInvalidTransfer
	}

	member, err := e.store.GetMember(ctx, newOwnerMemberID)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidTransfer
	}
	if err != nil {
		return fmt.Errorf("load member: %w", err)
	}
	if member.AccountID != account.ID || member.Role == RoleAccountOwner || member.ActorID == currentOwnerID {
		return ErrInvalidTransfer
	}
	if _, err := e.activeActor(ctx, member.ActorID); err != nil {
		return ErrInvalidTransfer
	}

	err = e.store.SwapOwner(ctx, account.ID, currentOwnerID, member.ID)
	if errors.Is(err, ErrOwnerChanged) || errors.Is(err, ErrNotFound) {
		return ErrInvalidTransfer
	}
	if err != nil {
		return fmt.Errorf("swap owner: %w", err)
	}
	e.logger.Info().
		Str("account_id", account.ID.String()).
		Str("from_actor_id", currentOwnerID.String()).
		Str("to_actor_id", member.ActorID.String()).
		Msg("ownership transferred")
	return nil
}

// SetSuspended suspends or reinstates an actor. Only platform superadmins
// hold manageUsers.
func (e *Engine) SetSuspended(ctx context.Context, adminID, targetActorID uuid.UUID, suspended bool) error {
	if _, err := e.activeActor(ctx, adminID); err != nil {
		return err
	}
	super, err := e.store.IsSuperadmin(ctx, adminID)
	if err != nil {
		return fmt.Errorf("check superadmin: %w", err)
	}
	role := RoleViewer
	if super {
		role = RoleSuperadmin
	}
	if !HasCapability(role, CapManageUsers) {
		return ErrDenied
	}
	if adminID == targetActorID {
		return ErrForbidden
	}
	if _, err := e.store.GetActor(ctx, targetActorID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load actor: %w", err)
	}
	if err := e.store.SetSuspended(ctx, targetActorID, suspended); err != nil {
		return fmt.Errorf("set suspended: %w", err)
	}
	e.logger.Warn().
		Str("admin_id", adminID.String()).
		Str("actor_id", targetActorID.String()).
		Bool("suspended", suspended).
		Msg("actor suspension changed")
	return nil
}

// SetSuperadmin grants or revokes the platform role. It is an operator action
// run from the CLI, outside any request identity.
func (e *Engine) SetSuperadmin(ctx context.Context, actorID uuid.UUID, granted bool) error {
	if _, err := e.store.GetActor(ctx, actorID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load actor: %w", err)
	}
	return e.store.SetSuperadmin(ctx, actorID, granted)
}
