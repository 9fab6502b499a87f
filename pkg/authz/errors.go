package authz

import "errors"

var (
	// ErrInvalidArgument indicates malformed or missing input to a check.
	// It is surfaced as an error, not a denial, so callers can distinguish
	// "denied" from "could not evaluate".
	ErrInvalidArgument = errors.New("authz: invalid argument")

	// ErrCyclicRules indicates the dependency ruleset contains a cycle.
	// The engine refuses to serve checks against a cyclic ruleset.
	ErrCyclicRules = errors.New("authz: dependency rules contain a cycle")

	// ErrStoreUnavailable indicates the backing store could not be reached
	ErrStoreUnavailable = errors.New("authz: store unavailable")

	// ErrRoleNotFound indicates a role lookup missed
	ErrRoleNotFound = errors.New("authz: role not found")
)
