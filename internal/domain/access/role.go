package access

import "fmt"

// Role is a household role, plus the platform-level superadmin.
type Role string

const (
	RoleViewer       Role = "viewer"
	RoleCaregiver    Role = "caregiver"
	RoleCoAdmin      Role = "co_admin"
	RoleAccountOwner Role = "account_owner"
	RoleSuperadmin   Role = "superadmin"
)

var roleRank = map[Role]int{
	RoleViewer:       0,
	RoleCaregiver:    1,
	RoleCoAdmin:      2,
	RoleAccountOwner: 3,
	RoleSuperadmin:   4,
}

// Rank orders roles; -1 for unknown roles.
func (r Role) Rank() int {
	rank, ok := roleRank[r]
	if !ok {
		return -1
	}
	return rank
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// IsHouseholdRole reports whether r can be stored on a family member.
func (r Role) IsHouseholdRole() bool {
	return r.Valid() && r != RoleSuperadmin
}

// Outranks reports whether r is strictly above other.
func (r Role) Outranks(other Role) bool {
	return r.Valid() && other.Valid() && r.Rank() > other.Rank()
}

// ParseRole validates a household role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsHouseholdRole() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalid, s)
	}
	return r, nil
}

// Capability is a named operation a role may perform.
type Capability string

const (
	CapViewPatientProfile Capability = "viewPatientProfile"
	CapEditPatientProfile Capability = "editPatientProfile"
	CapCreatePatient      Capability = "createPatient"
	CapDeletePatient      Capability = "deletePatient"
	CapViewMedicalRecords Capability = "viewMedicalRecords"
	CapEditMedicalRecords Capability = "editMedicalRecords"
	CapViewProviders      Capability = "viewProviders"
	CapManageProviders    Capability = "manageProviders"
	CapViewReports        Capability = "viewReports"
	CapGenerateReports    Capability = "generateReports"
	CapViewShoppingList   Capability = "viewShoppingList"
	CapManageShoppingList Capability = "manageShoppingList"
	CapViewMembers        Capability = "viewMembers"
	CapManageMembers      Capability = "manageMembers"
	CapTransferOwnership  Capability = "transferOwnership"
	CapDeleteAccount      Capability = "deleteAccount"
	CapManageUsers        Capability = "manageUsers"
	CapViewAllAccounts    Capability = "viewAllAccounts"
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{
	CapViewPatientProfile, CapEditPatientProfile, CapCreatePatient, CapDeletePatient,
	CapViewMedicalRecords, CapEditMedicalRecords, CapViewProviders, CapManageProviders,
	CapViewReports, CapGenerateReports, CapViewShoppingList, CapManageShoppingList,
	CapViewMembers, CapManageMembers, CapTransferOwnership, CapDeleteAccount,
	CapManageUsers, CapViewAllAccounts,
}

// accountWide capabilities apply to the whole household and skip the
// per-member patient grant list.
var accountWide = map[Capability]bool{
	CapCreatePatient:      true,
	CapViewShoppingList:   true,
	CapManageShoppingList: true,
	CapViewMembers:        true,
	CapManageMembers:      true,
	CapTransferOwnership:  true,
	CapDeleteAccount:      true,
	CapManageUsers:        true,
	CapViewAllAccounts:    true,
}

// platformOnly capabilities are never granted by a household role.
var platformOnly = map[Capability]bool{
	CapManageUsers:     true,
	CapViewAllAccounts: true,
}

var roleCapabilities = buildRoleCapabilities()

func buildRoleCapabilities() map[Role]map[Capability]bool {
	set := func(caps ...Capability) map[Capability]bool {
		m := make(map[Capability]bool, len(caps))
		for _, c := range caps {
			m[c] = true
		}
		return m
	}

	owner := make(map[Capability]bool)
	super := make(map[Capability]bool)
	for _, c := range AllCapabilities {
		super[c] = true
		if !platformOnly[c] {
			owner[c] = true
		}
	}

	coAdmin := make(map[Capability]bool)
	for c := range owner {
		if c != CapTransferOwnership && c != CapDeleteAccount {
			coAdmin[c] = true
		}
	}

	return map[Role]map[Capability]bool{
		RoleSuperadmin:   super,
		RoleAccountOwner: owner,
		RoleCoAdmin:      coAdmin,
		RoleCaregiver: set(
			CapViewPatientProfile, CapViewMedicalRecords, CapEditMedicalRecords,
			CapViewProviders, CapManageProviders, CapViewReports, CapGenerateReports,
			CapViewShoppingList, CapManageShoppingList, CapViewMembers,
		),
		RoleViewer: set(
			CapViewPatientProfile, CapViewMedicalRecords, CapViewProviders,
			CapViewReports, CapViewShoppingList,
		),
	}
}

// HasCapability is a pure lookup in the fixed role table.
func HasCapability(role Role, capability Capability) bool {
	return roleCapabilities[role][capability]
}

// IsAccountWide reports whether capability ignores per-patient grants.
func IsAccountWide(capability Capability) bool {
	return accountWide[capability]
}

// CapabilitiesOf returns the capabilities of role in AllCapabilities order.
func CapabilitiesOf(role Role) []Capability {
	var out []Capability
	for _, c := range AllCapabilities {
		if roleCapabilities[role][c] {
			out = append(out, c)
		}
	}
	return out
}

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if _, ok := roleCapabilities[RoleSuperadmin][c]; !ok {
		return "", fmt.Errorf("%w: unknown capability %q", ErrInvalid, s)
	}
	return c, nil
}

// CanGrant reports whether a member holding actor may hand out role. Roles
// are only granted strictly below the granter, and account_owner only moves
// through an ownership transfer.
func CanGrant(actor, role Role) bool {
	if !role.IsHouseholdRole() || role == RoleAccountOwner {
		return false
	}
	if !HasCapability(actor, CapManageMembers) {
		return false
	}
	return actor.Outranks(role)
}
