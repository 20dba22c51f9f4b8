package access

import "errors"

var (
	// ErrUnauthorized means the caller identity is missing, unknown or suspended.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDenied means the identity is valid but its role lacks the capability.
	ErrDenied = errors.New("denied")
	// ErrNotFound means the target is absent or hidden from the caller.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the action is structurally disallowed, e.g. granting a
	// role at or above one's own rank.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid means malformed input.
	ErrInvalid = errors.New("invalid")
	// ErrInvalidTransfer means an ownership transfer precondition failed.
	ErrInvalidTransfer = errors.New("invalid ownership transfer")
	// ErrNotMember is returned by ResolveRole when the actor has no role in the account.
	ErrNotMember = errors.New("not a member")
	// ErrOwnerChanged is returned by Store.SwapOwner when the compare-and-swap
	// on the current owner fails.
	ErrOwnerChanged = errors.New("account owner changed concurrently")
)
